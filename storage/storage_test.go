package storage

import (
	"errors"
	"strings"
	"testing"
)

func TestHashClientSecret(t *testing.T) {
	tests := []struct {
		name   string
		secret string
	}{
		{"short", "sec"},
		{"exactly 72 bytes", strings.Repeat("a", 72)},
		{"longer than bcrypt reads", strings.Repeat("k", 86)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hash, err := HashClientSecret(tt.secret)
			if err != nil {
				t.Fatalf("HashClientSecret() error = %v", err)
			}
			client := &Client{ClientID: "p-1", ResourceID: "1", ClientSecretHash: hash}

			if err := CompareClientSecret(client, tt.secret); err != nil {
				t.Errorf("CompareClientSecret() error = %v", err)
			}
			if err := CompareClientSecret(client, tt.secret+"x"); !errors.Is(err, ErrInvalidCredentials) {
				t.Errorf("CompareClientSecret() with wrong secret = %v, want ErrInvalidCredentials", err)
			}
		})
	}
}

func TestHashClientSecret_LongSecretsDiffer(t *testing.T) {
	// differ only after byte 72
	base := strings.Repeat("s", 80)
	hash, err := HashClientSecret(base + "1")
	if err != nil {
		t.Fatalf("HashClientSecret() error = %v", err)
	}
	client := &Client{ClientID: "p-1", ResourceID: "1", ClientSecretHash: hash}
	if err := CompareClientSecret(client, base+"2"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("CompareClientSecret() = %v, want ErrInvalidCredentials", err)
	}
}

func TestHashClientSecret_Empty(t *testing.T) {
	if _, err := HashClientSecret(""); err == nil {
		t.Error("HashClientSecret(\"\") expected error")
	}
}

func TestCompareClientSecret_UnknownClient(t *testing.T) {
	if err := CompareClientSecret(nil, "test"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("CompareClientSecret(nil) = %v, want ErrInvalidCredentials", err)
	}
}
