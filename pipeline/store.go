package pipeline

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/CJ-Wright/SHED/errors"
	"github.com/CJ-Wright/SHED/natsclient"
)

// Store persists pipeline definitions in a NATS KV bucket, keyed by
// definition ID, with version-based optimistic concurrency. The bucket
// keeps revision history so a definition can be read back as it was at
// a given time.
type Store struct {
	bucket   jetstream.KeyValue
	kvStore  *natsclient.KVStore
	resolver *natsclient.TemporalResolver
}

// NewStore creates the pipeline bucket and wraps it in a store.
func NewStore(natsClient *natsclient.Client) (*Store, error) {
	if natsClient == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("nats client cannot be nil"),
			"pipeline", "NewStore", "validation failed")
	}

	ctx := context.Background()
	bucket, err := natsClient.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
		Bucket:      "shed_pipelines",
		Description: "Pipeline definitions",
		History:     10,
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "pipeline", "NewStore", "create KV bucket")
	}

	return &Store{
		bucket:   bucket,
		kvStore:  natsClient.NewKVStore(bucket),
		resolver: natsclient.NewTemporalResolver(ctx, bucket),
	}, nil
}

// Create stores a new definition. The ID must not already exist.
func (s *Store) Create(ctx context.Context, def *Definition) error {
	if def == nil {
		return errors.WrapInvalid(fmt.Errorf("definition cannot be nil"),
			"pipeline", "Create", "validation failed")
	}
	if err := def.Validate(); err != nil {
		return errors.Wrap(err, "pipeline", "Create", "validate definition")
	}

	def.Version = 1
	now := time.Now()
	def.CreatedAt = now
	def.UpdatedAt = now

	data, err := json.Marshal(def)
	if err != nil {
		return errors.WrapFatal(err, "pipeline", "Create", "marshal definition")
	}

	if _, err := s.kvStore.Create(ctx, def.ID, data); err != nil {
		if natsclient.IsKVConflictError(err) {
			return errors.WrapInvalid(err, "pipeline", "Create", "definition already exists")
		}
		return errors.WrapTransient(err, "pipeline", "Create", "create in KV")
	}
	return nil
}

// Get retrieves a definition by ID.
func (s *Store) Get(ctx context.Context, id string) (*Definition, error) {
	if id == "" {
		return nil, errors.WrapInvalid(fmt.Errorf("definition ID cannot be empty"),
			"pipeline", "Get", "validation failed")
	}

	entry, err := s.kvStore.Get(ctx, id)
	if err != nil {
		if natsclient.IsKVNotFoundError(err) {
			return nil, errors.WrapInvalid(errors.ErrRecordNotFound, "pipeline", "Get",
				"definition "+id)
		}
		return nil, errors.WrapTransient(err, "pipeline", "Get", "get from KV")
	}

	var def Definition
	if err := json.Unmarshal(entry.Value, &def); err != nil {
		return nil, errors.WrapFatal(err, "pipeline", "Get", "unmarshal definition")
	}
	return &def, nil
}

// GetAsOf retrieves the definition revision that was current at the
// given time. Used to answer which pipeline version processed a run
// when the definition has been updated since.
func (s *Store) GetAsOf(ctx context.Context, id string, at time.Time) (*Definition, error) {
	if id == "" {
		return nil, errors.WrapInvalid(fmt.Errorf("definition ID cannot be empty"),
			"pipeline", "GetAsOf", "validation failed")
	}

	entry, err := s.resolver.GetAtTimestamp(ctx, id, at)
	if err != nil {
		if stderrors.Is(err, natsclient.ErrKVKeyNotFound) {
			return nil, errors.WrapInvalid(errors.ErrRecordNotFound, "pipeline", "GetAsOf",
				"definition "+id)
		}
		return nil, errors.WrapTransient(err, "pipeline", "GetAsOf", "resolve revision")
	}

	var def Definition
	if err := json.Unmarshal(entry.Value(), &def); err != nil {
		return nil, errors.WrapFatal(err, "pipeline", "GetAsOf", "unmarshal definition")
	}
	return &def, nil
}

// Update stores a modified definition. The caller's Version must match
// the stored one; a mismatch means another writer got there first.
func (s *Store) Update(ctx context.Context, def *Definition) error {
	if def == nil {
		return errors.WrapInvalid(fmt.Errorf("definition cannot be nil"),
			"pipeline", "Update", "validation failed")
	}
	if err := def.Validate(); err != nil {
		return errors.Wrap(err, "pipeline", "Update", "validate definition")
	}

	current, err := s.Get(ctx, def.ID)
	if err != nil {
		return errors.Wrap(err, "pipeline", "Update", "get current version")
	}
	if current.Version != def.Version {
		return errors.WrapInvalid(
			fmt.Errorf("version mismatch: expected %d, got %d", current.Version, def.Version),
			"pipeline", "Update", "definition was modified by another writer")
	}

	def.Version++
	def.UpdatedAt = time.Now()

	data, err := json.Marshal(def)
	if err != nil {
		return errors.WrapFatal(err, "pipeline", "Update", "marshal definition")
	}

	if _, err := s.kvStore.Put(ctx, def.ID, data); err != nil {
		return errors.WrapTransient(err, "pipeline", "Update", "put to KV")
	}
	return nil
}

// Delete removes a definition by ID.
func (s *Store) Delete(ctx context.Context, id string) error {
	if id == "" {
		return errors.WrapInvalid(fmt.Errorf("definition ID cannot be empty"),
			"pipeline", "Delete", "validation failed")
	}

	if err := s.kvStore.Delete(ctx, id); err != nil {
		return errors.WrapTransient(err, "pipeline", "Delete", "delete from KV")
	}
	return nil
}

// List retrieves all definitions.
func (s *Store) List(ctx context.Context) ([]*Definition, error) {
	keys, err := s.bucket.Keys(ctx)
	if err != nil {
		if stderrors.Is(err, jetstream.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, errors.WrapTransient(err, "pipeline", "List", "list KV keys")
	}

	defs := make([]*Definition, 0, len(keys))
	for _, key := range keys {
		def, err := s.Get(ctx, key)
		if err != nil {
			return nil, errors.WrapTransient(err, "pipeline", "List",
				fmt.Sprintf("get definition %s", key))
		}
		defs = append(defs, def)
	}
	return defs, nil
}
