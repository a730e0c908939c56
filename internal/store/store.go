package store

import (
	"context"
	"encoding/json"

	"github.com/tuborlabs/tyield/internal/errors"
)

// CreateVersion is the expected version passed to Put when creating an
// entity that must not already exist.
const CreateVersion uint64 = 0

// Record is a versioned entity snapshot. Version starts at 1 on create and
// increments on every successful Put.
type Record struct {
	Key     string `json:"key"`
	Version uint64 `json:"version"`
	Data    []byte `json:"data"`
}

// EntityStore is the persistence boundary. Implementations must provide
// per-key compare-and-set semantics: a Put whose expectedVersion does not
// match the stored version fails with a ConcurrencyConflict error and writes
// nothing. That property is what linearizes concurrent updates to a single
// trade, proposal, or the shared breaker/rate-limit state.
type EntityStore interface {
	// Get returns the current record for key, or a NotFound error.
	Get(ctx context.Context, key string) (Record, error)
	// Put writes data iff the stored version equals expectedVersion
	// (CreateVersion for inserts). Returns the new version.
	Put(ctx context.Context, key string, data []byte, expectedVersion uint64) (uint64, error)
	// List returns all records whose key starts with prefix.
	List(ctx context.Context, prefix string) ([]Record, error)
	// Delete removes a key iff the stored version matches.
	Delete(ctx context.Context, key string, expectedVersion uint64) error
}

const storeComponent = "store"

// GetJSON loads and decodes an entity, returning its version for a later
// compare-and-set Put.
func GetJSON(ctx context.Context, s EntityStore, key string, out interface{}) (uint64, error) {
	rec, err := s.Get(ctx, key)
	if err != nil {
		return 0, err
	}
	if err := json.Unmarshal(rec.Data, out); err != nil {
		return 0, errors.Wrap(err, errors.KindValidation, storeComponent, "decode")
	}
	return rec.Version, nil
}

// PutJSON encodes and writes an entity with compare-and-set semantics.
func PutJSON(ctx context.Context, s EntityStore, key string, v interface{}, expectedVersion uint64) (uint64, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return 0, errors.Wrap(err, errors.KindValidation, storeComponent, "encode")
	}
	return s.Put(ctx, key, data, expectedVersion)
}
