package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/opendut/carl-auth/instrumentation"
	"github.com/opendut/carl-auth/storage"
)

// Store is an in-memory implementation of storage.ClientStore.
type Store struct {
	mu sync.RWMutex

	clients    map[string]*storage.Client // client id -> client
	byResource map[string]string          // resource id -> client id

	tracer trace.Tracer
	logger *slog.Logger
}

// Compile-time interface check
var _ storage.ClientStore = (*Store)(nil)

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		clients:    make(map[string]*storage.Client),
		byResource: make(map[string]string),
		logger:     slog.Default(),
	}
}

// SetLogger sets a custom logger
func (s *Store) SetLogger(logger *slog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if logger != nil {
		s.logger = logger
	}
}

// SetInstrumentation enables tracing of store operations
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if inst != nil {
		s.tracer = inst.Tracer("storage")
	}
}

// SaveClient records a client
func (s *Store) SaveClient(ctx context.Context, client *storage.Client) (err error) {
	_, span := s.startStorageSpan(ctx, "save_client")
	defer func() { endStorageSpan(span, err) }()

	if err = storage.ValidateClient(client); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.byResource[client.ResourceID]; ok && existing != client.ClientID {
		err = fmt.Errorf("%w: resource %s has client %s", storage.ErrResourceConflict, client.ResourceID, existing)
		return err
	}

	saved := *client
	s.clients[client.ClientID] = &saved
	s.byResource[client.ResourceID] = client.ClientID

	s.logger.Debug("Saved client", "client_id", client.ClientID)
	return nil
}

// GetClient retrieves a client by id
func (s *Store) GetClient(ctx context.Context, clientID string) (_ *storage.Client, err error) {
	_, span := s.startStorageSpan(ctx, "get_client")
	defer func() { endStorageSpan(span, err) }()

	s.mu.RLock()
	defer s.mu.RUnlock()

	client, ok := s.clients[clientID]
	if !ok {
		err = fmt.Errorf("%w: %s", storage.ErrClientNotFound, clientID)
		return nil, err
	}

	c := *client
	return &c, nil
}

// GetClientByResource retrieves the client registered for a resource
func (s *Store) GetClientByResource(ctx context.Context, resourceID string) (_ *storage.Client, err error) {
	_, span := s.startStorageSpan(ctx, "get_client_by_resource")
	defer func() { endStorageSpan(span, err) }()

	s.mu.RLock()
	defer s.mu.RUnlock()

	clientID, ok := s.byResource[resourceID]
	if !ok {
		err = fmt.Errorf("%w: no client for resource %s", storage.ErrClientNotFound, resourceID)
		return nil, err
	}

	c := *s.clients[clientID]
	return &c, nil
}

// ValidateClientSecret validates a client's secret using bcrypt.
// Unknown clients are compared against a dummy hash.
func (s *Store) ValidateClientSecret(ctx context.Context, clientID, clientSecret string) error {
	client, err := s.GetClient(ctx, clientID)
	if err != nil {
		client = nil
	}
	return storage.CompareClientSecret(client, clientSecret)
}

// DeleteClient removes a client and its resource mapping
func (s *Store) DeleteClient(ctx context.Context, clientID string) (err error) {
	_, span := s.startStorageSpan(ctx, "delete_client")
	defer func() { endStorageSpan(span, err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	client, ok := s.clients[clientID]
	if !ok {
		err = fmt.Errorf("%w: %s", storage.ErrClientNotFound, clientID)
		return err
	}

	delete(s.clients, clientID)
	if s.byResource[client.ResourceID] == clientID {
		delete(s.byResource, client.ResourceID)
	}

	s.logger.Debug("Deleted client", "client_id", clientID)
	return nil
}

// ListClients lists all recorded clients ordered by creation time
func (s *Store) ListClients(_ context.Context) ([]*storage.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	clients := make([]*storage.Client, 0, len(s.clients))
	for _, client := range s.clients {
		c := *client
		clients = append(clients, &c)
	}
	sort.Slice(clients, func(i, j int) bool {
		if clients[i].CreatedAt.Equal(clients[j].CreatedAt) {
			return clients[i].ClientID < clients[j].ClientID
		}
		return clients[i].CreatedAt.Before(clients[j].CreatedAt)
	})

	return clients, nil
}

// startStorageSpan starts a new span for a storage operation
func (s *Store) startStorageSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	s.mu.RLock()
	tracer := s.tracer
	s.mu.RUnlock()

	if tracer == nil {
		// non-recording span; ending it must not end the caller's span
		return ctx, trace.SpanFromContext(context.Background())
	}

	return tracer.Start(ctx, "storage."+operation,
		trace.WithAttributes(
			attribute.String("operation", operation),
			attribute.String("storage.type", "memory"),
		))
}

func endStorageSpan(span trace.Span, err error) {
	if err != nil {
		instrumentation.RecordError(span, err)
	} else {
		instrumentation.SetSpanSuccess(span)
	}
	span.End()
}
