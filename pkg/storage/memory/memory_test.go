package memory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goclaw/pumpcycle/pkg/storage"
)

func TestMemoryStorageSuite(t *testing.T) {
	suite := &storage.RunStoreTestSuite{
		NewStore: func(t *testing.T) storage.RunStore {
			return NewMemoryStorage(0)
		},
	}
	suite.RunAllTests(t)
}

func TestMemoryStorage_Eviction(t *testing.T) {
	store := NewMemoryStorage(3)
	ctx := context.Background()
	base := time.Now()

	for i := 0; i < 5; i++ {
		require.NoError(t, store.SaveRun(ctx, &storage.RunRecord{
			ID:        fmt.Sprintf("run-%d", i),
			Outcome:   "completed",
			StartedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}

	runs, total, err := store.ListRuns(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Equal(t, "run-4", runs[0].ID)

	_, err = store.GetRun(ctx, "run-0")
	assert.Error(t, err)
}

func TestMemoryStorage_ReturnsCopies(t *testing.T) {
	store := NewMemoryStorage(0)
	ctx := context.Background()

	rec := &storage.RunRecord{ID: "a", Outcome: "completed"}
	require.NoError(t, store.SaveRun(ctx, rec))
	rec.Outcome = "failed"

	got, err := store.GetRun(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "completed", got.Outcome)
}
