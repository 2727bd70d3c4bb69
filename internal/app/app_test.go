package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deliveryd/internal/config"
	"deliveryd/internal/event"
	"deliveryd/internal/storage"
	"deliveryd/internal/task/scheduler"
	"deliveryd/internal/transport/httpapi"
	logx "deliveryd/pkg/logx"
)

const testDeliveries = `
deliveries:
  kept:
    enabled: false
    category:
      mode: fixed
      value: ores
    schedule:
      start: every day 10:00
      end: every day 12:00
    winners: 1
  stale:
    enabled: false
    category:
      mode: fixed
      value: ores
    schedule:
      start: every day 10:00
      end: every day 12:00
    winners: 1
`

func writeTestFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func openTestStore(t *testing.T, path string) storage.Store {
	t.Helper()
	st, err := storage.Open(context.Background(), storage.Config{Driver: "file", Path: path}, logx.Nop())
	require.NoError(t, err)
	return st
}

func snapshot(id string, end time.Time, participant string, count int64) event.Snapshot {
	return event.Snapshot{
		ID:           id,
		RunID:        "run-" + id,
		Category:     "ores",
		Item:         "DIAMOND",
		Start:        end.Add(-2 * time.Hour),
		End:          end,
		Timezone:     "UTC",
		Participants: []event.Standing{{Participant: participant, Count: count, First: 1}},
	}
}

func TestStartRestoresSavedEvents(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	statePath := filepath.Join(dir, "state")
	writeTestFile(t, dir, "deliveries.yml", testDeliveries)
	writeTestFile(t, dir, "categories.yml", "categories:\n  ores: [DIAMOND]\n")
	cfgPath := writeTestFile(t, dir, "config.yaml", fmt.Sprintf(`
logging:
  level: error
scheduler:
  timezone: UTC
storage:
  driver: file
  path: %s
catalog:
  deliveries: deliveries.yml
  categories: categories.yml
`, statePath))

	now := time.Now().UTC()
	seed := openTestStore(t, statePath)
	require.NoError(t, seed.SaveActiveEvents(context.Background(), []event.Snapshot{
		snapshot("kept", now.Add(time.Hour), "alice", 3),
		snapshot("stale", now.Add(-time.Hour), "bob", 2),
		snapshot("ghost", now.Add(time.Hour), "carol", 1),
	}))
	require.NoError(t, seed.Close())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a, err := NewApp(ctx, cfgPath)
	require.NoError(t, err)
	require.NoError(t, a.Start(ctx))

	ev, ok := a.Lifecycle().ActiveEvent("kept")
	require.True(t, ok)
	assert.Equal(t, int64(3), ev.Deliveries("alice"))
	assert.Equal(t, "run-kept", ev.RunID())

	_, ok = a.Lifecycle().ActiveEvent("stale")
	assert.False(t, ok)
	_, ok = a.Lifecycle().ActiveEvent("ghost")
	assert.False(t, ok)

	require.Eventually(t, func() bool {
		res, err := a.Store().RecentResults(context.Background(), "", 10)
		return err == nil && len(res) == 2
	}, 2*time.Second, 10*time.Millisecond)

	res, err := a.Store().RecentResults(context.Background(), "stale", 1)
	require.NoError(t, err)
	require.Len(t, res, 1)
	require.Len(t, res[0].Winners, 1)
	assert.Equal(t, "bob", res[0].Winners[0].Participant)

	require.True(t, a.Lifecycle().RecordDelivery("alice", "kept", 2))
	require.NoError(t, a.Stop(context.Background(), StopAppStop))

	st := openTestStore(t, statePath)
	defer st.Close()
	saved, err := st.LoadActiveEvents(context.Background())
	require.NoError(t, err)
	require.Len(t, saved, 1)
	assert.Equal(t, "kept", saved[0].ID)
	require.Len(t, saved[0].Participants, 1)
	assert.Equal(t, int64(5), saved[0].Participants[0].Count)
}

func TestWithNamesResolvesWinners(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	statePath := filepath.Join(dir, "state")
	writeTestFile(t, dir, "deliveries.yml", testDeliveries)
	writeTestFile(t, dir, "categories.yml", "categories:\n  ores: [DIAMOND]\n")
	cfgPath := writeTestFile(t, dir, "config.yaml", fmt.Sprintf(`
logging:
  level: error
storage:
  driver: file
  path: %s
catalog:
  deliveries: deliveries.yml
  categories: categories.yml
`, statePath))

	seed := openTestStore(t, statePath)
	require.NoError(t, seed.SaveActiveEvents(context.Background(), []event.Snapshot{
		snapshot("stale", time.Now().Add(-time.Hour), "uuid-bob", 2),
	}))
	require.NoError(t, seed.Close())

	names := map[string]string{"uuid-bob": "Bob"}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a, err := NewApp(ctx, cfgPath, WithNames(func(p string) string { return names[p] }))
	require.NoError(t, err)
	require.NoError(t, a.Start(ctx))
	defer func() { _ = a.Stop(context.Background(), StopAppStop) }()

	require.Eventually(t, func() bool {
		res, err := a.Store().RecentResults(context.Background(), "stale", 1)
		return err == nil && len(res) == 1
	}, 2*time.Second, 10*time.Millisecond)
	res, err := a.Store().RecentResults(context.Background(), "stale", 1)
	require.NoError(t, err)
	require.Len(t, res[0].Winners, 1)
	assert.Equal(t, "uuid-bob", res[0].Winners[0].Participant)
	assert.Equal(t, "Bob", res[0].Winners[0].Name)
}

func TestRuntimeEndpointReadsLiveComponents(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeTestFile(t, dir, "deliveries.yml", testDeliveries)
	writeTestFile(t, dir, "categories.yml", "categories:\n  ores: [DIAMOND]\n")
	cfgPath := writeTestFile(t, dir, "config.yaml", `
logging:
  level: error
http:
  addr: 127.0.0.1:0
catalog:
  deliveries: deliveries.yml
  categories: categories.yml
`)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a, err := NewApp(ctx, cfgPath)
	require.NoError(t, err)
	require.NotNil(t, a.http)
	require.NoError(t, a.Start(ctx))
	defer func() { _ = a.Stop(context.Background(), StopAppStop) }()

	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		a.http.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}

	assert.Equal(t, http.StatusOK, get("/healthz").Code)

	rec := get("/api/v1/runtime")
	require.Equal(t, http.StatusOK, rec.Code)
	var got httpapi.RuntimeView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.NotNil(t, got.Engine)
	assert.True(t, got.Engine.Running)
	assert.Positive(t, got.Engine.QueueCap)
	require.NotNil(t, got.Supervisor)
	assert.Positive(t, got.Supervisor.Counters.Started)
	assert.Empty(t, got.Supervisor.FirstError)

	// Goroutine stats appear once each loop has run.
	require.Eventually(t, func() bool {
		var v httpapi.RuntimeView
		if json.Unmarshal(get("/api/v1/runtime").Body.Bytes(), &v) != nil || v.Supervisor == nil {
			return false
		}
		for _, g := range v.Supervisor.Goroutines {
			if g.Name == "lifecycle.reaper" {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStartFailsOnCriticalCatalog(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeTestFile(t, dir, "deliveries.yml", `
deliveries:
  broken:
    enabled: true
    category:
      mode: random
    schedule:
      start: ""
      end: every day 12:00
    winners: 1
`)
	cfgPath := writeTestFile(t, dir, "config.yaml", "logging:\n  level: error\ncatalog:\n  deliveries: deliveries.yml\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a, err := NewApp(ctx, cfgPath)
	require.NoError(t, err)
	assert.Error(t, a.Start(ctx))
	require.NoError(t, a.Stop(context.Background(), StopFatalError))
}

func TestScheduleStoreAdapter(t *testing.T) {
	t.Parallel()
	st := openTestStore(t, filepath.Join(t.TempDir(), "state"))
	defer st.Close()
	ad := scheduleStore{st: st}
	ctx := context.Background()

	start := time.Date(2026, 10, 15, 10, 0, 0, 0, time.UTC)
	in := scheduler.Info{ID: "daily", Start: start, End: start.Add(2 * time.Hour), Timezone: "UTC"}
	require.NoError(t, ad.SaveScheduleInfo(ctx, in))

	got, err := ad.LoadScheduleInfos(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "daily", got[0].ID)
	assert.True(t, got[0].End.Equal(in.End))

	require.NoError(t, ad.DeleteScheduleInfo(ctx, "daily"))
	got, err = ad.LoadScheduleInfos(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMapStorageConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		in      *config.StorageConfig
		enabled bool
		driver  string
		busy    time.Duration
		wantErr bool
	}{
		{name: "absent"},
		{name: "none", in: &config.StorageConfig{Driver: "none"}},
		{name: "file", in: &config.StorageConfig{Driver: "File", Path: " ./state "}, enabled: true, driver: "file", busy: time.Second},
		{name: "sqlite busy", in: &config.StorageConfig{Driver: "sqlite", Path: "x.db", BusyTimeout: "3s"}, enabled: true, driver: "sqlite", busy: 3 * time.Second},
		{name: "bad busy", in: &config.StorageConfig{Driver: "sqlite", Path: "x.db", BusyTimeout: "soon"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			sc, enabled, err := mapStorageConfig(&config.Config{Storage: tt.in})
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.enabled, enabled)
			assert.Equal(t, tt.driver, sc.Driver)
			assert.Equal(t, tt.busy, sc.BusyTimeout)
		})
	}
}

func TestMapNotifierConfigDefaults(t *testing.T) {
	t.Parallel()
	nc, err := mapNotifierConfig(&config.Config{})
	require.NoError(t, err)
	assert.True(t, nc.Enabled)
	assert.Equal(t, time.Minute, nc.DedupWindow)
	assert.Equal(t, 10*time.Second, nc.RetryMaxDelay)

	_, err = mapNotifierConfig(&config.Config{Notifier: &config.NotifierConfig{DedupWindow: "often"}})
	assert.Error(t, err)
}

func TestResolvePath(t *testing.T) {
	t.Parallel()
	assert.Equal(t, filepath.Join("etc", "deliveryd", "deliveries.yml"), resolvePath(filepath.Join("etc", "deliveryd", "config.yaml"), "deliveries.yml"))
	assert.Equal(t, "/abs/deliveries.yml", resolvePath("config.yaml", "/abs/deliveries.yml"))
	assert.Equal(t, "", resolvePath("config.yaml", " "))
}
