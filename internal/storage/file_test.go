package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deliveryd/internal/event"
	logx "deliveryd/pkg/logx"
)

func openTestFile(t *testing.T, dir string) Store {
	t.Helper()
	st, err := Open(context.Background(), Config{Driver: "file", Path: filepath.Join(dir, "state.db")}, logx.Nop())
	require.NoError(t, err)
	return st
}

func TestOpenDisabledAndUnknown(t *testing.T) {
	t.Parallel()
	st, err := Open(context.Background(), Config{Driver: "none"}, logx.Nop())
	assert.NoError(t, err)
	assert.Nil(t, st)

	_, err = Open(context.Background(), Config{Driver: "mongo"}, logx.Nop())
	assert.Error(t, err)

	_, err = Open(context.Background(), Config{Driver: "file"}, logx.Nop())
	assert.Error(t, err)
}

func TestFileActiveEvents(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	ctx := context.Background()
	st := openTestFile(t, dir)

	got, err := st.LoadActiveEvents(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)

	start := time.Date(2026, 10, 15, 10, 0, 0, 0, time.UTC)
	snaps := []event.Snapshot{
		{ID: "weekly", RunID: "r2", Category: "farm", Item: "WHEAT", Start: start, End: start.Add(2 * time.Hour), WinnerCount: -1},
		{ID: "daily", RunID: "r1", Category: "ores", Item: "DIAMOND", Start: start, End: start.Add(time.Hour), WinnerCount: 2,
			Participants: []event.Standing{{Participant: "alice", Count: 9, First: 1}}},
	}
	require.NoError(t, st.SaveActiveEvents(ctx, snaps))
	require.NoError(t, st.Close())

	st = openTestFile(t, dir)
	defer st.Close()
	got, err = st.LoadActiveEvents(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "daily", got[0].ID)
	assert.Equal(t, int64(9), got[0].Participants[0].Count)
	assert.True(t, got[0].End.Equal(start.Add(time.Hour)))

	require.NoError(t, st.SaveActiveEvents(ctx, nil))
	got, err = st.LoadActiveEvents(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestFileSchedulesSurviveReopen(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	ctx := context.Background()
	st := openTestFile(t, dir)

	at := time.Date(2026, 10, 15, 10, 0, 0, 0, time.UTC)
	require.NoError(t, st.PutSchedule(ctx, ScheduleRecord{ID: "b", Start: at, End: at.Add(time.Hour), Timezone: "UTC"}))
	require.NoError(t, st.PutSchedule(ctx, ScheduleRecord{ID: "a", Start: at, End: at.Add(2 * time.Hour)}))
	require.NoError(t, st.PutSchedule(ctx, ScheduleRecord{ID: "a", Start: at.Add(24 * time.Hour), End: at.Add(26 * time.Hour)}))
	require.NoError(t, st.DeleteSchedule(ctx, "b"))
	require.NoError(t, st.DeleteSchedule(ctx, "missing"))

	// Reopen without Close so only the journal carries state.
	st2 := openTestFile(t, dir)
	recs, err := st2.LoadSchedules(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "a", recs[0].ID)
	assert.True(t, recs[0].Start.Equal(at.Add(24*time.Hour)))
	require.NoError(t, st2.Close())
	require.NoError(t, st.Close())

	// After a compacting close the snapshot carries it.
	st3 := openTestFile(t, dir)
	defer st3.Close()
	recs, err = st3.LoadSchedules(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)
}

func TestFileRecentResults(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	ctx := context.Background()
	st := openTestFile(t, dir)
	defer st.Close()

	base := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		id := "daily"
		if i%2 == 1 {
			id = "weekly"
		}
		require.NoError(t, st.AppendResult(ctx, event.Result{
			RunID:   fmt.Sprintf("run-%d", i),
			ID:      id,
			EndedAt: base.Add(time.Duration(i) * time.Hour),
			Total:   int64(i),
		}))
	}

	all, err := st.RecentResults(ctx, "", 3)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"run-4", "run-3", "run-2"}, []string{all[0].RunID, all[1].RunID, all[2].RunID})

	daily, err := st.RecentResults(ctx, "daily", 10)
	require.NoError(t, err)
	require.Len(t, daily, 3)
	assert.Equal(t, "run-4", daily[0].RunID)
	assert.Equal(t, "run-0", daily[2].RunID)
}
