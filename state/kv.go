package state

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/sandutsar/gradio/errors"
	"github.com/sandutsar/gradio/natsclient"
	"github.com/sandutsar/gradio/pkg/retry"
)

// KVStore keeps state in a JetStream key-value bucket so sessions survive
// restarts and are shared between replicas. Values are stored as JSON, so a
// value read back has JSON types (float64, []any, map[string]any).
type KVStore struct {
	kv     *natsclient.KVStore
	prefix string
	retry  retry.Config
}

// NewKVStore stores each session under prefix + "." + sessionID.
func NewKVStore(kv *natsclient.KVStore, prefix string) *KVStore {
	cfg := retry.DefaultConfig()
	cfg.Retryable = errors.IsTransient
	return &KVStore{kv: kv, prefix: prefix, retry: cfg}
}

// NATS keys may not contain spaces or wildcards.
var keyReplacer = strings.NewReplacer(" ", "_", "*", "_", ">", "_", "/", "_")

func (s *KVStore) key(sessionID string) string {
	return s.prefix + "." + keyReplacer.Replace(sessionID)
}

func (s *KVStore) Get(ctx context.Context, sessionID string) (any, bool, error) {
	entry, err := s.kv.Get(ctx, s.key(sessionID))
	if err != nil {
		if natsclient.IsKVNotFoundError(err) {
			return nil, false, nil
		}
		return nil, false, errors.WrapTransient(err, "KVStore", "Get", "read session state")
	}

	var v any
	if err := json.Unmarshal(entry.Value, &v); err != nil {
		return nil, false, errors.WrapFatal(err, "KVStore", "Get", "decode session state")
	}
	return v, true, nil
}

func (s *KVStore) Set(ctx context.Context, sessionID string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return errors.WrapInvalid(err, "KVStore", "Set", "encode session state")
	}

	err = retry.Do(ctx, s.retry, func() error {
		if _, err := s.kv.Put(ctx, s.key(sessionID), data); err != nil {
			return errors.WrapTransient(err, "KVStore", "Set", "write session state")
		}
		return nil
	})
	return err
}
