package csvops

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ResultStore keeps the outcome of deferred import runs in Redis so a later
// request can poll for completion by result id.
type ResultStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewResultStore constructs a result store with the given retention TTL.
func NewResultStore(client *redis.Client, ttl time.Duration) *ResultStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &ResultStore{client: client, ttl: ttl}
}

func resultKey(id string) string {
	return "gradebook:csv-result:" + id
}

// Save stores the final status for a deferred run.
func (s *ResultStore) Save(ctx context.Context, id string, status Status) error {
	payload, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	return s.client.Set(ctx, resultKey(id), payload, s.ttl).Err()
}

// Get returns the stored status and whether it exists yet.
func (s *ResultStore) Get(ctx context.Context, id string) (Status, bool, error) {
	payload, err := s.client.Get(ctx, resultKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Status{}, false, nil
	}
	if err != nil {
		return Status{}, false, err
	}

	var status Status
	if err := json.Unmarshal(payload, &status); err != nil {
		return Status{}, false, fmt.Errorf("failed to decode result: %w", err)
	}
	return status, true, nil
}
