package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goclaw/pumpcycle/pkg/cycle"
)

// RunStoreTestSuite defines tests that every RunStore implementation must pass.
type RunStoreTestSuite struct {
	NewStore func(t *testing.T) RunStore
}

// RunAllTests runs all storage tests against the provided implementation.
func (s *RunStoreTestSuite) RunAllTests(t *testing.T) {
	t.Run("SaveAndGet", s.TestSaveAndGet)
	t.Run("Overwrite", s.TestOverwrite)
	t.Run("NotFound", s.TestNotFound)
	t.Run("ListOrdering", s.TestListOrdering)
	t.Run("ListFilter", s.TestListFilter)
	t.Run("ListPagination", s.TestListPagination)
	t.Run("Validation", s.TestValidation)
	t.Run("ConcurrentAccess", s.TestConcurrentAccess)
}

var suiteBase = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func sampleRun(id string, offset time.Duration, outcome cycle.Outcome) *RunRecord {
	started := suiteBase.Add(offset)
	rec := &RunRecord{
		ID:        id,
		Line:      "line-1",
		Outcome:   outcome.String(),
		LastStage: cycle.StageClosingValves2.String(),
		StartedAt: started,
		EndedAt:   started.Add(2 * time.Second),
		Stages: []StageRecord{
			{Stage: cycle.StageClosingValves1.String(), EnteredAt: started, ExitedAt: started.Add(time.Second)},
			{Stage: cycle.StageClosingValves2.String(), EnteredAt: started.Add(time.Second), ExitedAt: started.Add(2 * time.Second)},
		},
		Config: cycle.Config{CloseValvesTimeout: 3200 * time.Millisecond, PrimeDelay: 5 * time.Second},
	}
	if outcome == cycle.OutcomeFailed {
		rec.Error = "Emergency stop signal received"
		rec.EmergencyStop = true
	}
	return rec
}

// TestSaveAndGet tests that a saved run reads back unchanged.
func (s *RunStoreTestSuite) TestSaveAndGet(t *testing.T) {
	store := s.NewStore(t)
	defer store.Close()
	ctx := context.Background()

	rec := sampleRun("run-1", 0, cycle.OutcomeFailed)
	require.NoError(t, store.SaveRun(ctx, rec))

	got, err := store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, rec.Line, got.Line)
	assert.Equal(t, rec.Outcome, got.Outcome)
	assert.Equal(t, rec.LastStage, got.LastStage)
	assert.Equal(t, rec.Error, got.Error)
	assert.True(t, got.EmergencyStop)
	assert.True(t, rec.StartedAt.Equal(got.StartedAt))
	assert.True(t, rec.EndedAt.Equal(got.EndedAt))
	assert.Equal(t, rec.Config, got.Config)
	require.Len(t, got.Stages, 2)
	assert.Equal(t, rec.Stages[1].Stage, got.Stages[1].Stage)
	assert.Equal(t, 2*time.Second, got.Duration())
}

// TestOverwrite tests that saving the same ID replaces the record.
func (s *RunStoreTestSuite) TestOverwrite(t *testing.T) {
	store := s.NewStore(t)
	defer store.Close()
	ctx := context.Background()

	rec := sampleRun("run-1", 0, cycle.OutcomeRunning)
	require.NoError(t, store.SaveRun(ctx, rec))

	rec.Outcome = cycle.OutcomeCompleted.String()
	require.NoError(t, store.SaveRun(ctx, rec))

	got, err := store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "completed", got.Outcome)

	runs, total, err := store.ListRuns(ctx, &RunFilter{Outcome: []string{"running"}})
	require.NoError(t, err)
	assert.Equal(t, 0, total)
	assert.Empty(t, runs)
}

// TestNotFound tests the error for a missing run.
func (s *RunStoreTestSuite) TestNotFound(t *testing.T) {
	store := s.NewStore(t)
	defer store.Close()

	_, err := store.GetRun(context.Background(), "missing")
	require.Error(t, err)
	var nf *NotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, "missing", nf.ID)
}

// TestListOrdering tests that runs are listed newest first.
func (s *RunStoreTestSuite) TestListOrdering(t *testing.T) {
	store := s.NewStore(t)
	defer store.Close()
	ctx := context.Background()

	require.NoError(t, store.SaveRun(ctx, sampleRun("old", 0, cycle.OutcomeCompleted)))
	require.NoError(t, store.SaveRun(ctx, sampleRun("new", 2*time.Minute, cycle.OutcomeCompleted)))
	require.NoError(t, store.SaveRun(ctx, sampleRun("mid", time.Minute, cycle.OutcomeCompleted)))

	runs, total, err := store.ListRuns(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, runs, 3)
	assert.Equal(t, []string{"new", "mid", "old"}, []string{runs[0].ID, runs[1].ID, runs[2].ID})
}

// TestListFilter tests outcome and line filtering.
func (s *RunStoreTestSuite) TestListFilter(t *testing.T) {
	store := s.NewStore(t)
	defer store.Close()
	ctx := context.Background()

	require.NoError(t, store.SaveRun(ctx, sampleRun("ok-1", 0, cycle.OutcomeCompleted)))
	require.NoError(t, store.SaveRun(ctx, sampleRun("bad-1", time.Minute, cycle.OutcomeFailed)))
	require.NoError(t, store.SaveRun(ctx, sampleRun("stop-1", 2*time.Minute, cycle.OutcomeCancelled)))
	other := sampleRun("ok-2", 3*time.Minute, cycle.OutcomeCompleted)
	other.Line = "line-2"
	require.NoError(t, store.SaveRun(ctx, other))

	runs, total, err := store.ListRuns(ctx, &RunFilter{Outcome: []string{"failed", "cancelled"}})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, runs, 2)
	assert.Equal(t, "stop-1", runs[0].ID)
	assert.Equal(t, "bad-1", runs[1].ID)

	runs, total, err = store.ListRuns(ctx, &RunFilter{Line: "line-2"})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, "ok-2", runs[0].ID)
}

// TestListPagination tests limit and offset.
func (s *RunStoreTestSuite) TestListPagination(t *testing.T) {
	store := s.NewStore(t)
	defer store.Close()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		rec := sampleRun(fmt.Sprintf("run-%d", i), time.Duration(i)*time.Minute, cycle.OutcomeCompleted)
		require.NoError(t, store.SaveRun(ctx, rec))
	}

	runs, total, err := store.ListRuns(ctx, &RunFilter{Limit: 2, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-3", runs[0].ID)
	assert.Equal(t, "run-2", runs[1].ID)

	runs, total, err = store.ListRuns(ctx, &RunFilter{Limit: 10, Offset: 10})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	assert.Empty(t, runs)
}

// TestValidation tests that invalid records are rejected.
func (s *RunStoreTestSuite) TestValidation(t *testing.T) {
	store := s.NewStore(t)
	defer store.Close()
	ctx := context.Background()

	var verr *ValidationError
	err := store.SaveRun(ctx, &RunRecord{Outcome: "completed"})
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "id", verr.Field)

	err = store.SaveRun(ctx, &RunRecord{ID: "x", Outcome: "exploded"})
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "outcome", verr.Field)
}

// TestConcurrentAccess tests concurrent saves and reads.
func (s *RunStoreTestSuite) TestConcurrentAccess(t *testing.T) {
	store := s.NewStore(t)
	defer store.Close()
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("run-%d", i)
			if err := store.SaveRun(ctx, sampleRun(id, time.Duration(i)*time.Second, cycle.OutcomeCompleted)); err != nil {
				errs <- err
				return
			}
			if _, err := store.GetRun(ctx, id); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent access: %v", err)
	}

	_, total, err := store.ListRuns(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 10, total)
}
