//go:build integration

package natsclient

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The pipeline controller stores one checkpoint per detector and updates it
// through CAS, so concurrent writers from a restarted node never clobber a
// newer checkpoint with an older one.
func TestKVStoreCheckpointUpdates(t *testing.T) {
	testClient := NewTestClient(t, WithKV())
	client := testClient.Client
	ctx := context.Background()

	bucket, err := client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
		Bucket:      "spiir-checkpoints",
		Description: "per-detector strain checkpoints",
		History:     5,
	})
	require.NoError(t, err)

	kvStore := client.NewKVStore(bucket)

	t.Run("update succeeds against current revision", func(t *testing.T) {
		_, err := kvStore.Put(ctx, "pipeline.H1", []byte(`{"sample_index":0}`))
		require.NoError(t, err)

		err = kvStore.UpdateWithRetry(ctx, "pipeline.H1", func(current []byte) ([]byte, error) {
			assert.Equal(t, `{"sample_index":0}`, string(current))
			return []byte(`{"sample_index":4096}`), nil
		})
		assert.NoError(t, err)

		entry, err := kvStore.Get(ctx, "pipeline.H1")
		require.NoError(t, err)
		assert.Equal(t, `{"sample_index":4096}`, string(entry.Value))
	})

	t.Run("concurrent writer forces a retry", func(t *testing.T) {
		key := "pipeline.L1"
		_, err := kvStore.Put(ctx, key, []byte(`{"sample_index":0}`))
		require.NoError(t, err)

		attempts := 0
		err = kvStore.UpdateWithRetry(ctx, key, func(_ []byte) ([]byte, error) {
			attempts++
			if attempts == 1 {
				_, _ = kvStore.Put(ctx, key, []byte(`{"sample_index":100}`))
			}
			return []byte(`{"sample_index":8192}`), nil
		})

		assert.NoError(t, err)
		assert.Greater(t, attempts, 1)

		entry, _ := kvStore.Get(ctx, key)
		assert.Equal(t, `{"sample_index":8192}`, string(entry.Value))
	})

	t.Run("persistent contention exhausts retries", func(t *testing.T) {
		key := "pipeline.V1"
		_, err := kvStore.Put(ctx, key, []byte(`{"sample_index":0}`))
		require.NoError(t, err)

		limitedStore := client.NewKVStore(bucket, func(opts *KVOptions) {
			opts.MaxRetries = 1
			opts.RetryDelay = time.Millisecond
		})

		attempts := 0
		err = limitedStore.UpdateWithRetry(ctx, key, func(_ []byte) ([]byte, error) {
			attempts++
			_, _ = kvStore.Put(ctx, key, []byte(`{"sample_index":999}`))
			return []byte(`{"sample_index":1}`), nil
		})

		assert.Equal(t, ErrKVMaxRetriesExceeded, err)
		assert.Equal(t, 2, attempts)
	})
}

func TestKVStoreCheckpointJSON(t *testing.T) {
	testClient := NewTestClient(t, WithKV())
	client := testClient.Client
	ctx := context.Background()

	bucket, err := client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
		Bucket: "spiir-checkpoints",
	})
	require.NoError(t, err)

	kvStore := client.NewKVStore(bucket)

	t.Run("advance an existing checkpoint", func(t *testing.T) {
		key := "pipeline.H1"
		initial := map[string]any{"sample_index": 4096, "epoch": 1000.0}
		data, _ := json.Marshal(initial)
		_, err := kvStore.Put(ctx, key, data)
		require.NoError(t, err)

		err = kvStore.UpdateJSON(ctx, key, func(cp map[string]any) error {
			assert.Equal(t, float64(4096), cp["sample_index"])
			cp["sample_index"] = 8192
			cp["blocks"] = 2
			return nil
		})
		assert.NoError(t, err)

		entry, _ := kvStore.Get(ctx, key)
		var result map[string]any
		json.Unmarshal(entry.Value, &result)
		assert.Equal(t, float64(8192), result["sample_index"])
		assert.Equal(t, float64(2), result["blocks"])
	})

	t.Run("first run creates the checkpoint", func(t *testing.T) {
		key := "pipeline.K1"

		err := kvStore.UpdateJSON(ctx, key, func(cp map[string]any) error {
			assert.Empty(t, cp)
			cp["sample_index"] = 0
			cp["epoch"] = 1000.0
			return nil
		})
		assert.NoError(t, err)

		entry, err := kvStore.Get(ctx, key)
		require.NoError(t, err)
		var result map[string]any
		json.Unmarshal(entry.Value, &result)
		assert.Equal(t, float64(0), result["sample_index"])
		assert.Equal(t, float64(1000), result["epoch"])
	})
}

func TestKVStoreErrorMapping(t *testing.T) {
	testClient := NewTestClient(t, WithKV())
	client := testClient.Client
	ctx := context.Background()

	bucket, err := client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
		Bucket: "spiir-errors",
	})
	require.NoError(t, err)

	kvStore := client.NewKVStore(bucket)

	t.Run("missing checkpoint maps to not found", func(t *testing.T) {
		_, err := kvStore.Get(ctx, "pipeline.G1")
		assert.True(t, IsKVNotFoundError(err))
		assert.Equal(t, ErrKVKeyNotFound, err)
	})

	t.Run("double create maps to key exists", func(t *testing.T) {
		key := "banks.H1"
		_, err := kvStore.Create(ctx, key, []byte("bank-ref"))
		require.NoError(t, err)

		_, err = kvStore.Create(ctx, key, []byte("bank-ref-2"))
		assert.True(t, IsKVConflictError(err))
		assert.Equal(t, ErrKVKeyExists, err)
	})

	t.Run("stale revision maps to mismatch", func(t *testing.T) {
		key := "banks.L1"
		rev1, err := kvStore.Put(ctx, key, []byte("v1"))
		require.NoError(t, err)

		_, err = kvStore.Update(ctx, key, []byte("v2"), rev1+999)
		assert.True(t, IsKVConflictError(err))
		assert.Equal(t, ErrKVRevisionMismatch, err)
	})
}

// Component registries watch bank keys so a new template bank upload is
// picked up without a restart.
func TestKVStoreWatchBankKeys(t *testing.T) {
	testClient := NewTestClient(t, WithKV())
	client := testClient.Client
	ctx := context.Background()

	bucket, err := client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
		Bucket: "spiir-banks",
	})
	require.NoError(t, err)

	kvStore := client.NewKVStore(bucket)

	watcher, err := kvStore.Watch(ctx, "banks.*")
	require.NoError(t, err)
	defer watcher.Stop()

	go func() {
		time.Sleep(100 * time.Millisecond)
		_, _ = kvStore.Put(ctx, "banks.H1", []byte("bank-h1"))
		_, _ = kvStore.Put(ctx, "banks.L1", []byte("bank-l1"))
	}()

	updates := 0
	timeout := time.After(time.Second)
	for updates < 2 {
		select {
		case entry := <-watcher.Updates():
			if entry != nil {
				updates++
				assert.Contains(t, entry.Key(), "banks.")
			}
		case <-timeout:
			t.Fatal("timed out waiting for bank updates")
		}
	}
	assert.Equal(t, 2, updates)
}

func TestKVStoreBasicOperations(t *testing.T) {
	testClient := NewTestClient(t, WithKV())
	client := testClient.Client
	ctx := context.Background()

	bucket, err := client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
		Bucket: "spiir-basic",
	})
	require.NoError(t, err)

	kvStore := client.NewKVStore(bucket)

	t.Run("put get roundtrip", func(t *testing.T) {
		rev, err := kvStore.Put(ctx, "pipeline.H1", []byte("cp"))
		require.NoError(t, err)
		assert.Greater(t, rev, uint64(0))

		entry, err := kvStore.Get(ctx, "pipeline.H1")
		require.NoError(t, err)
		assert.Equal(t, "pipeline.H1", entry.Key)
		assert.Equal(t, []byte("cp"), entry.Value)
		assert.Equal(t, rev, entry.Revision)
	})

	t.Run("update against known revision", func(t *testing.T) {
		rev1, err := kvStore.Put(ctx, "pipeline.L1", []byte("old"))
		require.NoError(t, err)

		rev2, err := kvStore.Update(ctx, "pipeline.L1", []byte("new"), rev1)
		require.NoError(t, err)
		assert.Greater(t, rev2, rev1)

		entry, err := kvStore.Get(ctx, "pipeline.L1")
		require.NoError(t, err)
		assert.Equal(t, []byte("new"), entry.Value)
	})

	t.Run("delete removes the key", func(t *testing.T) {
		_, err := kvStore.Put(ctx, "pipeline.V1", []byte("cp"))
		require.NoError(t, err)

		err = kvStore.Delete(ctx, "pipeline.V1")
		require.NoError(t, err)

		_, err = kvStore.Get(ctx, "pipeline.V1")
		assert.Equal(t, ErrKVKeyNotFound, err)
	})
}

func TestKVStoreOptions(t *testing.T) {
	testClient := NewTestClient(t, WithKV())
	client := testClient.Client
	ctx := context.Background()

	bucket, err := client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
		Bucket: "spiir-options",
	})
	require.NoError(t, err)

	t.Run("custom options apply", func(t *testing.T) {
		kvStore := client.NewKVStore(bucket, func(opts *KVOptions) {
			opts.MaxRetries = 5
			opts.RetryDelay = 50 * time.Millisecond
			opts.Timeout = 10 * time.Second
		})

		assert.Equal(t, 5, kvStore.options.MaxRetries)
		assert.Equal(t, 50*time.Millisecond, kvStore.options.RetryDelay)
		assert.Equal(t, 10*time.Second, kvStore.options.Timeout)
	})

	t.Run("defaults apply when unconfigured", func(t *testing.T) {
		kvStore := client.NewKVStore(bucket)

		defaults := DefaultKVOptions()
		assert.Equal(t, defaults.MaxRetries, kvStore.options.MaxRetries)
		assert.Equal(t, defaults.RetryDelay, kvStore.options.RetryDelay)
		assert.Equal(t, defaults.Timeout, kvStore.options.Timeout)
	})
}

func TestKVErrorHelpers(t *testing.T) {
	assert.True(t, IsKVNotFoundError(ErrKVKeyNotFound))
	assert.False(t, IsKVNotFoundError(ErrKVKeyExists))
	assert.False(t, IsKVNotFoundError(nil))

	assert.True(t, IsKVConflictError(ErrKVRevisionMismatch))
	assert.True(t, IsKVConflictError(ErrKVKeyExists))
	assert.False(t, IsKVConflictError(ErrKVKeyNotFound))
	assert.False(t, IsKVConflictError(nil))
}
