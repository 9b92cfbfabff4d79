package kv

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreSetAndRead(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	_, err := store.Write(ctx, Set{Key: "a", Value: []byte("1")})
	require.NoError(t, err)

	result, err := store.Read(ctx, ReadRequest{Key: "a"})
	require.NoError(t, err)
	require.NotNil(t, result.KV)
	assert.Equal(t, []byte("1"), result.KV.Value)
	assert.Equal(t, uint64(1), result.KV.Version)
}

func TestMemoryStoreReadMissingKey(t *testing.T) {
	store := NewMemoryStore()

	result, err := store.Read(context.Background(), ReadRequest{Key: "missing"})
	require.NoError(t, err)
	assert.Nil(t, result.KV)
}

func TestMemoryStoreOverwriteBumpsVersion(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	_, err := store.Write(ctx, Set{Key: "a", Value: []byte("1")})
	require.NoError(t, err)
	_, err = store.Write(ctx, Set{Key: "a", Value: []byte("2")})
	require.NoError(t, err)

	result, err := store.Read(ctx, ReadRequest{Key: "a"})
	require.NoError(t, err)
	require.NotNil(t, result.KV)
	assert.Equal(t, uint64(2), result.KV.Version)
	assert.Equal(t, result.KV.CreateRevision, uint64(1))
	assert.Greater(t, result.KV.ModRevision, result.KV.CreateRevision)
}

func TestMemoryStoreDeleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	_, err := store.Write(ctx, Set{Key: "a", Value: []byte("1")})
	require.NoError(t, err)

	_, err = store.Write(ctx, Delete{Key: "a"})
	require.NoError(t, err)
	_, err = store.Write(ctx, Delete{Key: "a"})
	require.NoError(t, err)

	result, err := store.Read(ctx, ReadRequest{Key: "a"})
	require.NoError(t, err)
	assert.Nil(t, result.KV)
}

func TestMemoryStoreCompareAndSwap(t *testing.T) {
	ctx := context.Background()

	t.Run("succeeds on matching value", func(t *testing.T) {
		store := NewMemoryStore()
		_, err := store.Write(ctx, Set{Key: "a", Value: []byte("old")})
		require.NoError(t, err)

		_, err = store.Write(ctx, CompareAndSwap{Key: "a", Expected: []byte("old"), NewValue: []byte("new")})
		require.NoError(t, err)

		result, err := store.Read(ctx, ReadRequest{Key: "a"})
		require.NoError(t, err)
		assert.Equal(t, []byte("new"), result.KV.Value)
	})

	t.Run("fails on mismatch with actual value", func(t *testing.T) {
		store := NewMemoryStore()
		_, err := store.Write(ctx, Set{Key: "a", Value: []byte("other")})
		require.NoError(t, err)

		_, err = store.Write(ctx, CompareAndSwap{Key: "a", Expected: []byte("old"), NewValue: []byte("new")})
		var casErr *CasFailedError
		require.ErrorAs(t, err, &casErr)
		assert.Equal(t, []byte("other"), casErr.Actual)
	})

	t.Run("nil expected creates only when absent", func(t *testing.T) {
		store := NewMemoryStore()

		_, err := store.Write(ctx, CompareAndSwap{Key: "a", NewValue: []byte("v")})
		require.NoError(t, err)

		_, err = store.Write(ctx, CompareAndSwap{Key: "a", NewValue: []byte("w")})
		var casErr *CasFailedError
		require.ErrorAs(t, err, &casErr)
		assert.Equal(t, []byte("v"), casErr.Actual)
	})

	t.Run("fails when key absent", func(t *testing.T) {
		store := NewMemoryStore()

		_, err := store.Write(ctx, CompareAndSwap{Key: "a", Expected: []byte("x"), NewValue: []byte("y")})
		var casErr *CasFailedError
		require.ErrorAs(t, err, &casErr)
		assert.Nil(t, casErr.Actual)
	})
}

func TestMemoryStoreCompareAndDelete(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	_, err := store.Write(ctx, Set{Key: "a", Value: []byte("v")})
	require.NoError(t, err)

	_, err = store.Write(ctx, CompareAndDelete{Key: "a", Expected: []byte("wrong")})
	var casErr *CasFailedError
	require.ErrorAs(t, err, &casErr)

	_, err = store.Write(ctx, CompareAndDelete{Key: "a", Expected: []byte("v")})
	require.NoError(t, err)

	result, err := store.Read(ctx, ReadRequest{Key: "a"})
	require.NoError(t, err)
	assert.Nil(t, result.KV)
}

func TestMemoryStoreBatch(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	_, err := store.Write(ctx, Set{Key: "gone", Value: []byte("x")})
	require.NoError(t, err)

	result, err := store.Write(ctx, Batch{Operations: []BatchOp{
		BatchSet{Key: "a", Value: []byte("1")},
		BatchSet{Key: "b", Value: []byte("2")},
		BatchDelete{Key: "gone"},
	}})
	require.NoError(t, err)
	require.NotNil(t, result.BatchApplied)
	assert.Equal(t, 3, *result.BatchApplied)

	read, err := store.Read(ctx, ReadRequest{Key: "gone"})
	require.NoError(t, err)
	assert.Nil(t, read.KV)
}

func TestMemoryStoreConditionalBatch(t *testing.T) {
	ctx := context.Background()

	t.Run("applies when all conditions hold", func(t *testing.T) {
		store := NewMemoryStore()
		_, err := store.Write(ctx, Set{Key: "lock", Value: []byte("me")})
		require.NoError(t, err)

		result, err := store.Write(ctx, ConditionalBatch{
			Conditions: []Condition{
				ValueEquals{Key: "lock", Expected: []byte("me")},
				KeyNotExists{Key: "other"},
			},
			Operations: []BatchOp{BatchSet{Key: "a", Value: []byte("1")}},
		})
		require.NoError(t, err)
		require.NotNil(t, result.ConditionsMet)
		assert.True(t, *result.ConditionsMet)
		require.NotNil(t, result.BatchApplied)
		assert.Equal(t, 1, *result.BatchApplied)
	})

	t.Run("reports first failing condition without applying", func(t *testing.T) {
		store := NewMemoryStore()

		result, err := store.Write(ctx, ConditionalBatch{
			Conditions: []Condition{
				KeyNotExists{Key: "free"},
				KeyExists{Key: "missing"},
			},
			Operations: []BatchOp{BatchSet{Key: "a", Value: []byte("1")}},
		})
		require.NoError(t, err)
		require.NotNil(t, result.ConditionsMet)
		assert.False(t, *result.ConditionsMet)
		require.NotNil(t, result.FailedConditionIndex)
		assert.Equal(t, 1, *result.FailedConditionIndex)

		read, err := store.Read(ctx, ReadRequest{Key: "a"})
		require.NoError(t, err)
		assert.Nil(t, read.KV, "operations must not apply when conditions fail")
	})
}

func TestMemoryStoreScan(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	for i := 0; i < 5; i++ {
		_, err := store.Write(ctx, Set{Key: fmt.Sprintf("p:%02d", i), Value: []byte("v")})
		require.NoError(t, err)
	}
	_, err := store.Write(ctx, Set{Key: "q:00", Value: []byte("v")})
	require.NoError(t, err)

	t.Run("prefix filters and orders", func(t *testing.T) {
		result, err := store.Scan(ctx, ScanRequest{Prefix: "p:"})
		require.NoError(t, err)
		assert.Equal(t, 5, result.Count)
		assert.False(t, result.IsTruncated)
		assert.Equal(t, "p:00", result.Entries[0].Key)
		assert.Equal(t, "p:04", result.Entries[4].Key)
	})

	t.Run("limit truncates with continuation", func(t *testing.T) {
		result, err := store.Scan(ctx, ScanRequest{Prefix: "p:", Limit: 2})
		require.NoError(t, err)
		assert.Equal(t, 2, result.Count)
		assert.True(t, result.IsTruncated)
		assert.Equal(t, "p:01", result.ContinuationToken)

		next, err := store.Scan(ctx, ScanRequest{Prefix: "p:", Limit: 2, ContinuationToken: result.ContinuationToken})
		require.NoError(t, err)
		assert.Equal(t, "p:02", next.Entries[0].Key)
	})
}

func TestBoundScanLimit(t *testing.T) {
	assert.Equal(t, uint32(DefaultScanLimit), BoundScanLimit(0))
	assert.Equal(t, uint32(7), BoundScanLimit(7))
	assert.Equal(t, uint32(MaxScanResults), BoundScanLimit(MaxScanResults+1))
}
