// Package mock provides a mock storage.ClientStore for testing.
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/opendut/carl-auth/storage"
)

// ClientStore is a mock storage.ClientStore. Every method delegates to the
// corresponding Func field, which defaults to an in-memory implementation, and
// counts its calls.
type ClientStore struct {
	mu         sync.RWMutex
	clients    map[string]*storage.Client
	callCounts map[string]int

	SaveClientFunc           func(ctx context.Context, client *storage.Client) error
	GetClientFunc            func(ctx context.Context, clientID string) (*storage.Client, error)
	GetClientByResourceFunc  func(ctx context.Context, resourceID string) (*storage.Client, error)
	ValidateClientSecretFunc func(ctx context.Context, clientID, clientSecret string) error
	DeleteClientFunc         func(ctx context.Context, clientID string) error
	ListClientsFunc          func(ctx context.Context) ([]*storage.Client, error)
}

var _ storage.ClientStore = (*ClientStore)(nil)

// NewClientStore creates a mock with working defaults
func NewClientStore() *ClientStore {
	m := &ClientStore{
		clients:    make(map[string]*storage.Client),
		callCounts: make(map[string]int),
	}

	m.SaveClientFunc = func(_ context.Context, client *storage.Client) error {
		if err := storage.ValidateClient(client); err != nil {
			return err
		}
		m.mu.Lock()
		defer m.mu.Unlock()
		saved := *client
		m.clients[client.ClientID] = &saved
		return nil
	}

	m.GetClientFunc = func(_ context.Context, clientID string) (*storage.Client, error) {
		m.mu.RLock()
		defer m.mu.RUnlock()
		client, ok := m.clients[clientID]
		if !ok {
			return nil, fmt.Errorf("%w: %s", storage.ErrClientNotFound, clientID)
		}
		c := *client
		return &c, nil
	}

	m.GetClientByResourceFunc = func(_ context.Context, resourceID string) (*storage.Client, error) {
		m.mu.RLock()
		defer m.mu.RUnlock()
		for _, client := range m.clients {
			if client.ResourceID == resourceID {
				c := *client
				return &c, nil
			}
		}
		return nil, fmt.Errorf("%w: no client for resource %s", storage.ErrClientNotFound, resourceID)
	}

	m.ValidateClientSecretFunc = func(ctx context.Context, clientID, clientSecret string) error {
		client, _ := m.GetClientFunc(ctx, clientID)
		return storage.CompareClientSecret(client, clientSecret)
	}

	m.DeleteClientFunc = func(_ context.Context, clientID string) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		if _, ok := m.clients[clientID]; !ok {
			return fmt.Errorf("%w: %s", storage.ErrClientNotFound, clientID)
		}
		delete(m.clients, clientID)
		return nil
	}

	m.ListClientsFunc = func(_ context.Context) ([]*storage.Client, error) {
		m.mu.RLock()
		defer m.mu.RUnlock()
		out := make([]*storage.Client, 0, len(m.clients))
		for _, client := range m.clients {
			c := *client
			out = append(out, &c)
		}
		return out, nil
	}

	return m
}

func (m *ClientStore) count(method string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callCounts[method]++
}

// CallCount returns how often method was called
func (m *ClientStore) CallCount(method string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.callCounts[method]
}

// SaveClient implements storage.ClientStore
func (m *ClientStore) SaveClient(ctx context.Context, client *storage.Client) error {
	m.count("SaveClient")
	return m.SaveClientFunc(ctx, client)
}

// GetClient implements storage.ClientStore
func (m *ClientStore) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	m.count("GetClient")
	return m.GetClientFunc(ctx, clientID)
}

// GetClientByResource implements storage.ClientStore
func (m *ClientStore) GetClientByResource(ctx context.Context, resourceID string) (*storage.Client, error) {
	m.count("GetClientByResource")
	return m.GetClientByResourceFunc(ctx, resourceID)
}

// ValidateClientSecret implements storage.ClientStore
func (m *ClientStore) ValidateClientSecret(ctx context.Context, clientID, clientSecret string) error {
	m.count("ValidateClientSecret")
	return m.ValidateClientSecretFunc(ctx, clientID, clientSecret)
}

// DeleteClient implements storage.ClientStore
func (m *ClientStore) DeleteClient(ctx context.Context, clientID string) error {
	m.count("DeleteClient")
	return m.DeleteClientFunc(ctx, clientID)
}

// ListClients implements storage.ClientStore
func (m *ClientStore) ListClients(ctx context.Context) ([]*storage.Client, error) {
	m.count("ListClients")
	return m.ListClientsFunc(ctx)
}
