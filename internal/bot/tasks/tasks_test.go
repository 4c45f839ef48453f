package tasks

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/edgard/webmax/internal/config"
	"github.com/edgard/webmax/internal/database"
)

type fakeStore struct {
	database.Store
	vacuumErr error
	vacuumed  int
	cutoffs   []time.Time
}

func (s *fakeStore) RunSQLMaintenance(context.Context) error {
	s.vacuumed++
	return s.vacuumErr
}

func (s *fakeStore) DeleteMessagesBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.cutoffs = append(s.cutoffs, cutoff)
	return 2, nil
}

func testDeps(store *fakeStore, retention time.Duration, now time.Time) TaskDeps {
	cfg := &config.Config{}
	cfg.Bot.MessageRetention = retention
	return TaskDeps{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Store:  store,
		Config: cfg,
		Now:    func() time.Time { return now },
	}
}

func TestRegisterAllTasks(t *testing.T) {
	t.Parallel()
	tasks := RegisterAllTasks(testDeps(&fakeStore{}, 0, time.Now()))
	require.Len(t, tasks, 2)
	require.Contains(t, tasks, config.TaskSQLMaintenance)
	require.Contains(t, tasks, config.TaskMessageRetention)
}

func TestSQLMaintenanceTask(t *testing.T) {
	t.Parallel()
	store := &fakeStore{}
	task := newSQLMaintenanceTask(testDeps(store, 0, time.Now()))

	require.NoError(t, task(context.Background()))
	store.vacuumErr = errors.New("disk full")
	require.ErrorContains(t, task(context.Background()), "disk full")
	require.Equal(t, 2, store.vacuumed)
}

func TestMessageRetentionTask(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 3, 10, 4, 30, 0, 0, time.UTC)

	store := &fakeStore{}
	require.NoError(t, newMessageRetentionTask(testDeps(store, 48*time.Hour, now))(context.Background()))
	require.Equal(t, []time.Time{now.Add(-48 * time.Hour)}, store.cutoffs)

	disabled := &fakeStore{}
	require.NoError(t, newMessageRetentionTask(testDeps(disabled, 0, now))(context.Background()))
	require.Empty(t, disabled.cutoffs)
}
