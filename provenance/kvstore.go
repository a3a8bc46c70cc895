package provenance

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"sort"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/CJ-Wright/SHED/errors"
	"github.com/CJ-Wright/SHED/natsclient"
)

// KVStore persists provenance records in a NATS KV bucket, keyed by
// document uid. The bucket revision returned on create becomes the
// record's Order: revisions are monotonic per bucket, so insertion order
// survives restarts.
type KVStore struct {
	bucket  jetstream.KeyValue
	kvStore *natsclient.KVStore
}

// KVOption customizes the provenance bucket before it is created.
type KVOption func(*jetstream.KeyValueConfig)

// WithBucketName overrides the default bucket name.
func WithBucketName(name string) KVOption {
	return func(cfg *jetstream.KeyValueConfig) {
		if name != "" {
			cfg.Bucket = name
		}
	}
}

// WithBucketTTL sets record expiration. Zero means records never expire.
func WithBucketTTL(ttl time.Duration) KVOption {
	return func(cfg *jetstream.KeyValueConfig) {
		cfg.TTL = ttl
	}
}

// WithBucketHistory sets how many revisions the bucket keeps per key.
func WithBucketHistory(history int) KVOption {
	return func(cfg *jetstream.KeyValueConfig) {
		if history > 0 {
			cfg.History = uint8(history)
		}
	}
}

// NewKVStore creates the provenance bucket and wraps it in a store.
func NewKVStore(natsClient *natsclient.Client, opts ...KVOption) (*KVStore, error) {
	if natsClient == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("nats client cannot be nil"),
			"provenance", "NewKVStore", "validation failed")
	}

	bucketCfg := jetstream.KeyValueConfig{
		Bucket:      "shed_provenance",
		Description: "Provenance records for re-wrapped documents",
	}
	for _, opt := range opts {
		opt(&bucketCfg)
	}

	ctx := context.Background()
	bucket, err := natsClient.CreateKeyValueBucket(ctx, bucketCfg)
	if err != nil {
		return nil, errors.WrapTransient(err, "provenance", "NewKVStore", "create KV bucket")
	}

	return &KVStore{
		bucket:  bucket,
		kvStore: natsClient.NewKVStore(bucket),
	}, nil
}

// Put implements Store. A uid already present in the bucket is rejected.
func (s *KVStore) Put(ctx context.Context, record *Record) error {
	if err := record.Validate(); err != nil {
		return errors.Wrap(err, "provenance", "Put", "validate record")
	}

	data, err := json.Marshal(record)
	if err != nil {
		return errors.WrapFatal(err, "provenance", "Put", "marshal record")
	}

	revision, err := s.kvStore.Create(ctx, record.DocumentUID, data)
	if err != nil {
		if natsclient.IsKVConflictError(err) {
			return errors.WrapInvalid(errors.ErrDuplicateUID, "provenance", "Put",
				"document "+record.DocumentUID)
		}
		return errors.WrapTransient(err, "provenance", "Put", "create in KV")
	}
	record.Order = revision
	return nil
}

// Get implements Store.
func (s *KVStore) Get(ctx context.Context, documentUID string) (*Record, error) {
	if documentUID == "" {
		return nil, errors.WrapInvalid(fmt.Errorf("document uid cannot be empty"),
			"provenance", "Get", "validation failed")
	}

	entry, err := s.kvStore.Get(ctx, documentUID)
	if err != nil {
		if natsclient.IsKVNotFoundError(err) {
			return nil, errors.WrapInvalid(errors.ErrRecordNotFound, "provenance", "Get",
				"document "+documentUID)
		}
		return nil, errors.WrapTransient(err, "provenance", "Get", "get from KV")
	}

	var record Record
	if err := json.Unmarshal(entry.Value, &record); err != nil {
		return nil, errors.WrapFatal(err, "provenance", "Get", "unmarshal record")
	}
	// Order is derived from the create revision, not stored.
	record.Order = entry.Revision
	return &record, nil
}

// ByRun implements Store. Records are returned in insertion order.
func (s *KVStore) ByRun(ctx context.Context, runStartUID string) ([]*Record, error) {
	records, err := s.List(ctx)
	if err != nil {
		return nil, err
	}

	out := records[:0]
	for _, record := range records {
		if record.RunStart == runStartUID {
			out = append(out, record)
		}
	}
	return out, nil
}

// List implements Store. Records are returned in insertion order.
func (s *KVStore) List(ctx context.Context) ([]*Record, error) {
	keys, err := s.bucket.Keys(ctx)
	if err != nil {
		if stderrors.Is(err, jetstream.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, errors.WrapTransient(err, "provenance", "List", "list KV keys")
	}

	records := make([]*Record, 0, len(keys))
	for _, key := range keys {
		record, err := s.Get(ctx, key)
		if err != nil {
			return nil, errors.WrapTransient(err, "provenance", "List",
				fmt.Sprintf("get record %s", key))
		}
		records = append(records, record)
	}

	sort.Slice(records, func(i, j int) bool { return records[i].Order < records[j].Order })
	return records, nil
}
