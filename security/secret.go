package security

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
)

// Redacted is the placeholder rendered instead of a secret value.
const Redacted = "[REDACTED]"

// Secret holds a credential (client secret, access token) and refuses to render
// it through fmt, slog or encoding/json. Use Reveal to obtain the raw value when
// it must go on the wire.
//
// Secret is comparable, so values containing it can be compared with ==.
// Keep Secret fields exported in structs that may be printed: fmt does not call
// String on unexported fields.
type Secret struct {
	value string
}

// NewSecret wraps value.
func NewSecret(value string) Secret {
	return Secret{value: value}
}

// Reveal returns the raw secret value.
func (s Secret) Reveal() string {
	return s.value
}

// IsEmpty reports whether the secret has no value.
func (s Secret) IsEmpty() bool {
	return s.value == ""
}

// Equal compares two secrets in constant time.
func (s Secret) Equal(other Secret) bool {
	return subtle.ConstantTimeCompare([]byte(s.value), []byte(other.value)) == 1
}

// String implements fmt.Stringer.
func (s Secret) String() string {
	return Redacted
}

// GoString implements fmt.GoStringer so %#v does not leak the value either.
func (s Secret) GoString() string {
	return "security.Secret(" + Redacted + ")"
}

// LogValue implements slog.LogValuer.
func (s Secret) LogValue() slog.Value {
	return slog.StringValue(Redacted)
}

// MarshalJSON implements json.Marshaler.
func (s Secret) MarshalJSON() ([]byte, error) {
	return json.Marshal(Redacted)
}
