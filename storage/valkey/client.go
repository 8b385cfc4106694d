package valkey

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/opendut/carl-auth/storage"
)

type clientJSON struct {
	ClientID         string `json:"client_id"`
	ResourceID       string `json:"resource_id"`
	ClientSecretHash string `json:"client_secret_hash"`
	ClientName       string `json:"client_name,omitempty"`
	ClientURI        string `json:"client_uri,omitempty"`
	CreatedAt        int64  `json:"created_at"`
}

func toClientJSON(client *storage.Client) *clientJSON {
	return &clientJSON{
		ClientID:         client.ClientID,
		ResourceID:       client.ResourceID,
		ClientSecretHash: client.ClientSecretHash,
		ClientName:       client.ClientName,
		ClientURI:        client.ClientURI,
		CreatedAt:        client.CreatedAt.Unix(),
	}
}

func fromClientJSON(j *clientJSON) *storage.Client {
	return &storage.Client{
		ClientID:         j.ClientID,
		ResourceID:       j.ResourceID,
		ClientSecretHash: j.ClientSecretHash,
		ClientName:       j.ClientName,
		ClientURI:        j.ClientURI,
		CreatedAt:        time.Unix(j.CreatedAt, 0),
	}
}

// SaveClient records a client. The resource mapping is claimed with SET NX so
// that two control plane instances cannot record different clients for one resource.
func (s *Store) SaveClient(ctx context.Context, client *storage.Client) error {
	if err := storage.ValidateClient(client); err != nil {
		return err
	}
	if err := validateStringLength(client.ClientID, MaxIDLength, "client_id"); err != nil {
		return err
	}
	if err := validateStringLength(client.ResourceID, MaxIDLength, "resource_id"); err != nil {
		return err
	}

	data, err := json.Marshal(toClientJSON(client))
	if err != nil {
		return fmt.Errorf("failed to marshal client: %w", err)
	}

	resourceKey := s.resourceKey(client.ResourceID)
	err = s.client.Do(ctx, s.client.B().Set().Key(resourceKey).Value(client.ClientID).Nx().Build()).Error()
	if err != nil && !isNilError(err) {
		return fmt.Errorf("failed to claim resource: %w", err)
	}
	if isNilError(err) {
		// already claimed, fine if it is ours
		owner, getErr := s.client.Do(ctx, s.client.B().Get().Key(resourceKey).Build()).ToString()
		if getErr != nil && !isNilError(getErr) {
			return fmt.Errorf("failed to read resource mapping: %w", getErr)
		}
		if owner != client.ClientID {
			return fmt.Errorf("%w: resource %s has client %s", storage.ErrResourceConflict, client.ResourceID, owner)
		}
	}

	if err := s.client.Do(ctx, s.client.B().Set().Key(s.clientKey(client.ClientID)).Value(string(data)).Build()).Error(); err != nil {
		return fmt.Errorf("failed to save client: %w", err)
	}

	s.logger.Debug("Saved client", "client_id", client.ClientID)
	return nil
}

// GetClient retrieves a client by id
func (s *Store) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	data, err := s.client.Do(ctx, s.client.B().Get().Key(s.clientKey(clientID)).Build()).ToString()
	if err != nil {
		if isNilError(err) {
			return nil, fmt.Errorf("%w: %s", storage.ErrClientNotFound, clientID)
		}
		return nil, fmt.Errorf("failed to get client: %w", err)
	}

	var j clientJSON
	if err := json.Unmarshal([]byte(data), &j); err != nil {
		return nil, fmt.Errorf("failed to unmarshal client: %w", err)
	}

	return fromClientJSON(&j), nil
}

// GetClientByResource retrieves the client registered for a resource
func (s *Store) GetClientByResource(ctx context.Context, resourceID string) (*storage.Client, error) {
	clientID, err := s.client.Do(ctx, s.client.B().Get().Key(s.resourceKey(resourceID)).Build()).ToString()
	if err != nil {
		if isNilError(err) {
			return nil, fmt.Errorf("%w: no client for resource %s", storage.ErrClientNotFound, resourceID)
		}
		return nil, fmt.Errorf("failed to get resource mapping: %w", err)
	}
	return s.GetClient(ctx, clientID)
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
func (s *Store) DeleteClient(ctx context.Context, clientID string) error {
	client, err := s.GetClient(ctx, clientID)
	if err != nil {
		return err
	}

	if err := s.client.Do(ctx, s.client.B().Del().Key(s.clientKey(clientID)).Build()).Error(); err != nil {
		return fmt.Errorf("failed to delete client: %w", err)
	}

	resourceKey := s.resourceKey(client.ResourceID)
	owner, err := s.client.Do(ctx, s.client.B().Get().Key(resourceKey).Build()).ToString()
	if err == nil && owner == clientID {
		if err := s.client.Do(ctx, s.client.B().Del().Key(resourceKey).Build()).Error(); err != nil {
			s.logger.Warn("Failed to delete resource mapping",
				"resource_key", resourceKey,
				"error", err)
		}
	}

	s.logger.Debug("Deleted client", "client_id", clientID)
	return nil
}

// ListClients lists all recorded clients ordered by creation time
func (s *Store) ListClients(ctx context.Context) ([]*storage.Client, error) {
	pattern := s.clientKey("*")

	// SCAN can return duplicates across iterations
	clientMap := make(map[string]*storage.Client)

	var cursor uint64
	for {
		result, err := s.client.Do(ctx,
			s.client.B().Scan().Cursor(cursor).Match(pattern).Count(scanBatchSize).Build(),
		).AsScanEntry()
		if err != nil {
			return nil, fmt.Errorf("failed to scan clients: %w", err)
		}

		for _, key := range result.Elements {
			if _, exists := clientMap[key]; exists {
				continue
			}

			data, err := s.client.Do(ctx, s.client.B().Get().Key(key).Build()).ToString()
			if err != nil {
				if isNilError(err) {
					continue // deleted between SCAN and GET
				}
				return nil, fmt.Errorf("failed to get client %s: %w", key, err)
			}

			var j clientJSON
			if err := json.Unmarshal([]byte(data), &j); err != nil {
				s.logger.Warn("Failed to unmarshal client, skipping",
					"key", key,
					"error", err)
				continue
			}

			clientMap[key] = fromClientJSON(&j)
		}

		cursor = result.Cursor
		if cursor == 0 {
			break
		}
	}

	clients := make([]*storage.Client, 0, len(clientMap))
	for _, c := range clientMap {
		clients = append(clients, c)
	}
	sort.Slice(clients, func(i, j int) bool {
		if clients[i].CreatedAt.Equal(clients[j].CreatedAt) {
			return clients[i].ClientID < clients[j].ClientID
		}
		return clients[i].CreatedAt.Before(clients[j].CreatedAt)
	})

	return clients, nil
}
