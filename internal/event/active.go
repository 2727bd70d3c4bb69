package event

import (
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

type counter struct {
	n     atomic.Int64
	first uint64
}

// Active is one running delivery event. The resolved category and item are
// fixed at construction. Only the end time and the winner override change
// afterwards, and counters only grow.
type Active struct {
	id       string
	runID    string
	category string
	item     string
	start    time.Time
	loc      *time.Location

	end    atomic.Int64 // unix nanos
	winner atomic.Int64 // <=0 means definition default

	counts sync.Map // participant -> *counter
	seq    atomic.Uint64
	total  atomic.Int64

	// recording holds RLock per delivery; Close takes the write lock so no
	// delivery lands after the event is ranked.
	recording sync.RWMutex
	closed    bool
}

// New creates an event with a fresh run id.
func New(id, category, item string, start, end time.Time, loc *time.Location) *Active {
	if loc == nil {
		loc = time.Local
	}
	a := &Active{
		id:       id,
		runID:    uuid.NewString(),
		category: category,
		item:     item,
		start:    start,
		loc:      loc,
	}
	a.end.Store(end.UnixNano())
	a.winner.Store(-1)
	return a
}

func (a *Active) ID() string               { return a.id }
func (a *Active) RunID() string            { return a.runID }
func (a *Active) Category() string         { return a.category }
func (a *Active) Item() string             { return a.item }
func (a *Active) Start() time.Time         { return a.start }
func (a *Active) Location() *time.Location { return a.loc }

func (a *Active) End() time.Time { return time.Unix(0, a.end.Load()).In(a.loc) }

// SetEndTime moves the end of the event.
func (a *Active) SetEndTime(t time.Time) { a.end.Store(t.UnixNano()) }

// SetWinnerCount overrides the definition's winner count. n <= 0 clears the
// override.
func (a *Active) SetWinnerCount(n int) {
	if n <= 0 {
		n = -1
	}
	a.winner.Store(int64(n))
}

// WinnerCount returns the override when set, else def.
func (a *Active) WinnerCount(def int) int {
	if n := a.winner.Load(); n > 0 {
		return int(n)
	}
	return def
}

// IsActive reports start <= now < end.
func (a *Active) IsActive(now time.Time) bool {
	return !now.Before(a.start) && now.UnixNano() < a.end.Load()
}

// RecordDelivery adds amount to participant's count. Concurrent calls merge
// by addition. It returns false for an empty participant, a non-positive
// amount or a closed event.
func (a *Active) RecordDelivery(participant string, amount int64) bool {
	participant = strings.TrimSpace(participant)
	if participant == "" || amount <= 0 {
		return false
	}
	a.recording.RLock()
	defer a.recording.RUnlock()
	if a.closed {
		return false
	}
	a.counterFor(participant).n.Add(amount)
	a.total.Add(amount)
	return true
}

// Close stops the event from accepting deliveries. Once it returns, counts
// are final. It reports whether this call closed the event.
func (a *Active) Close() bool {
	a.recording.Lock()
	defer a.recording.Unlock()
	if a.closed {
		return false
	}
	a.closed = true
	return true
}

// Closed reports whether Close has been called.
func (a *Active) Closed() bool {
	a.recording.RLock()
	defer a.recording.RUnlock()
	return a.closed
}

func (a *Active) counterFor(participant string) *counter {
	if v, ok := a.counts.Load(participant); ok {
		return v.(*counter)
	}
	v, _ := a.counts.LoadOrStore(participant, &counter{first: a.seq.Add(1)})
	return v.(*counter)
}

// PlayerDeliveries returns a copy of the per-participant counts.
func (a *Active) PlayerDeliveries() map[string]int64 {
	out := map[string]int64{}
	a.counts.Range(func(k, v any) bool {
		out[k.(string)] = v.(*counter).n.Load()
		return true
	})
	return out
}

// Deliveries returns participant's count.
func (a *Active) Deliveries(participant string) int64 {
	if v, ok := a.counts.Load(participant); ok {
		return v.(*counter).n.Load()
	}
	return 0
}

func (a *Active) TotalDeliveries() int64 { return a.total.Load() }

// Standings lists participants in first-delivery order.
func (a *Active) Standings() []Standing {
	var out []Standing
	a.counts.Range(func(k, v any) bool {
		c := v.(*counter)
		out = append(out, Standing{Participant: k.(string), Count: c.n.Load(), First: c.first})
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].First < out[j].First })
	return out
}

// Winners ranks the current standings.
func (a *Active) Winners(k int) []Winner { return Rank(a.Standings(), k) }

// Snapshot is the persisted form of an Active.
type Snapshot struct {
	ID           string     `json:"id"`
	RunID        string     `json:"run_id"`
	Category     string     `json:"category"`
	Item         string     `json:"item"`
	Start        time.Time  `json:"start"`
	End          time.Time  `json:"end"`
	Timezone     string     `json:"timezone"`
	WinnerCount  int        `json:"winner_count"`
	Participants []Standing `json:"participants"`
}

func (a *Active) Snapshot() Snapshot {
	return Snapshot{
		ID:           a.id,
		RunID:        a.runID,
		Category:     a.category,
		Item:         a.item,
		Start:        a.start,
		End:          a.End(),
		Timezone:     a.loc.String(),
		WinnerCount:  int(a.winner.Load()),
		Participants: a.Standings(),
	}
}

// Restore rebuilds an event from a snapshot, keeping its run id and
// first-delivery order.
func Restore(s Snapshot) *Active {
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil || s.Timezone == "" {
		loc = time.Local
	}
	a := &Active{
		id:       s.ID,
		runID:    s.RunID,
		category: s.Category,
		item:     s.Item,
		start:    s.Start,
		loc:      loc,
	}
	if a.runID == "" {
		a.runID = uuid.NewString()
	}
	a.end.Store(s.End.UnixNano())
	a.SetWinnerCount(s.WinnerCount)

	var maxSeq uint64
	for _, p := range s.Participants {
		if p.Participant == "" || p.Count <= 0 {
			continue
		}
		c := &counter{first: p.First}
		c.n.Store(p.Count)
		a.counts.Store(p.Participant, c)
		a.total.Add(p.Count)
		if p.First > maxSeq {
			maxSeq = p.First
		}
	}
	a.seq.Store(maxSeq)
	return a
}
