package lifecycle

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"deliveryd/internal/delivery"
	"deliveryd/internal/event"
	"deliveryd/internal/eventbus"
	"deliveryd/internal/schedule"
	"deliveryd/internal/selection"
	logx "deliveryd/pkg/logx"
)

// fallbackDuration is used when the end expression cannot produce a time.
const fallbackDuration = time.Hour

// Manager owns the registry of active events. All methods are safe for
// concurrent use.
type Manager struct {
	log     logx.Logger
	catalog Catalog
	rng     selection.Rand
	timers  Timers
	notify  Notifier
	names   NameResolver
	bus     eventbus.Bus
	now     func() time.Time
	loc     *time.Location

	active sync.Map // id -> *event.Active
}

type Option func(*Manager)

func WithRand(r selection.Rand) Option       { return func(m *Manager) { m.rng = r } }
func WithTimers(t Timers) Option             { return func(m *Manager) { m.timers = t } }
func WithNotifier(n Notifier) Option         { return func(m *Manager) { m.notify = n } }
func WithNames(f NameResolver) Option        { return func(m *Manager) { m.names = f } }
func WithBus(b eventbus.Bus) Option          { return func(m *Manager) { m.bus = b } }
func WithClock(now func() time.Time) Option  { return func(m *Manager) { m.now = now } }
func WithLocation(loc *time.Location) Option { return func(m *Manager) { m.loc = loc } }

func New(catalog Catalog, log logx.Logger, opts ...Option) *Manager {
	m := &Manager{
		log:     log.With(logx.String("comp", "lifecycle")),
		catalog: catalog,
		bus:     eventbus.Nop{},
		now:     time.Now,
		loc:     time.Local,
	}
	for _, o := range opts {
		o(m)
	}
	if m.rng == nil {
		m.rng = selection.NewRand()
	}
	return m
}

// StartEvent locks a category and item for name and registers a new active
// event. force skips the enabled flag and the date range.
func (m *Manager) StartEvent(name string, force bool) (*event.Active, error) {
	ev, err := m.start(name, force)
	if err != nil {
		m.log.Warn("start rejected", logx.String("id", name), logx.Bool("force", force), logx.Err(err))
		return nil, err
	}
	return ev, nil
}

func (m *Manager) start(name string, force bool) (*event.Active, error) {
	def, ok := m.catalog.Definition(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDelivery, name)
	}
	if !def.Enabled && !force {
		return nil, fmt.Errorf("%w: %s", ErrDisabled, name)
	}
	loc, _ := def.Location(m.loc)
	now := m.now()
	if !force {
		if in, err := def.DateRange.Contains(now, loc); err != nil || !in {
			return nil, fmt.Errorf("%w: %s", ErrOutsideDateRange, name)
		}
	}
	if _, ok := m.active.Load(name); ok {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyActive, name)
	}

	category, item, err := selection.NewResolver(m.catalog.Categories(), m.rng).Resolve(def)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoItemsAvailable, err)
	}

	end := endAfter(def, now, loc)
	ev := event.New(name, category, item, now.In(loc), end, loc)
	if _, loaded := m.active.LoadOrStore(name, ev); loaded {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyActive, name)
	}
	if m.timers != nil {
		m.timers.ScheduleEnd(name, end)
	}
	snap := ev.Snapshot()
	if m.notify != nil && def.Notify.OnStart {
		m.notify.NotifyStart(def, snap)
	}
	m.bus.Publish(eventbus.Event{Type: eventbus.DeliveryStarted, Time: now, Data: snap})
	m.log.Info("delivery started",
		logx.String("id", name),
		logx.String("run", ev.RunID()),
		logx.String("category", category),
		logx.String("item", item),
		logx.Time("end", end),
	)
	return ev, nil
}

// EndEvent removes the active event, ranks its participants and returns the
// winners. Ending an event that is not active returns nil.
func (m *Manager) EndEvent(name string) []event.Winner {
	v, ok := m.active.LoadAndDelete(name)
	if !ok {
		return nil
	}
	ev := v.(*event.Active)
	ev.Close()
	now := m.now()

	def, hasDef := m.catalog.Definition(name)
	if m.timers != nil {
		m.timers.CancelScheduledEvent(name)
		if hasDef && def.Enabled && def.Schedulable() {
			at := windowEnd(def, ev, now).Add(time.Second)
			if err := m.timers.RescheduleAt(def, at); err != nil {
				m.log.Warn("reschedule failed", logx.String("id", name), logx.Err(err))
			}
		}
	}

	k := 1
	if hasDef {
		k = def.WinnerCount()
	}
	winners := ev.Winners(ev.WinnerCount(k))
	for i := range winners {
		if m.names != nil {
			if n := m.names(winners[i].Participant); n != "" {
				winners[i].Name = n
			}
		}
	}

	res := event.Result{
		RunID:    ev.RunID(),
		ID:       name,
		Category: ev.Category(),
		Item:     ev.Item(),
		Start:    ev.Start(),
		End:      ev.End(),
		EndedAt:  now,
		Total:    ev.TotalDeliveries(),
		Winners:  winners,
	}
	if hasDef {
		res.Grants = grants(def.Reward, winners)
		if m.notify != nil && def.Notify.OnEnd {
			m.notify.NotifyEnd(def, res)
		}
	}
	m.bus.Publish(eventbus.Event{Type: eventbus.DeliveryEnded, Time: now, Data: res})
	m.log.Info("delivery ended",
		logx.String("id", name),
		logx.String("run", res.RunID),
		logx.Int("winners", len(winners)),
		logx.Int64("total", res.Total),
	)
	return winners
}

// RecordDelivery adds amount for participant to the named event. It returns
// false unless the event exists, is inside [start, end) and amount > 0.
func (m *Manager) RecordDelivery(participant, name string, amount int64) bool {
	if amount <= 0 {
		return false
	}
	ev, ok := m.ActiveEvent(name)
	if !ok || !ev.IsActive(m.now()) {
		return false
	}
	// false when EndEvent closed ev after the lookup
	if !ev.RecordDelivery(participant, amount) {
		return false
	}
	m.bus.Publish(eventbus.Event{Type: eventbus.DeliveryRecorded, Data: Recorded{
		ID:          name,
		RunID:       ev.RunID(),
		Participant: participant,
		Amount:      amount,
		Count:       ev.Deliveries(participant),
	}})
	return true
}

func (m *Manager) ActiveEvent(name string) (*event.Active, bool) {
	v, ok := m.active.Load(name)
	if !ok {
		return nil, false
	}
	return v.(*event.Active), true
}

// ActiveEvents returns every active event sorted by id.
func (m *Manager) ActiveEvents() []*event.Active {
	var out []*event.Active
	m.active.Range(func(_, v any) bool {
		out = append(out, v.(*event.Active))
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Restore inserts a saved event directly, bypassing selection.
func (m *Manager) Restore(snap event.Snapshot) (*event.Active, error) {
	ev := event.Restore(snap)
	if _, loaded := m.active.LoadOrStore(snap.ID, ev); loaded {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyActive, snap.ID)
	}
	if m.timers != nil {
		m.timers.ScheduleEnd(snap.ID, ev.End())
	}
	m.log.Info("delivery restored", logx.String("id", snap.ID), logx.String("run", ev.RunID()), logx.Int64("total", ev.TotalDeliveries()))
	return ev, nil
}

// SetEndTime moves the end of an active event and re-arms its end timer.
func (m *Manager) SetEndTime(name string, at time.Time) error {
	ev, ok := m.ActiveEvent(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotActive, name)
	}
	ev.SetEndTime(at)
	if m.timers != nil {
		m.timers.ScheduleEnd(name, at)
	}
	m.bus.Publish(eventbus.Event{Type: eventbus.DeliveryUpdated, Data: ev.Snapshot()})
	return nil
}

// SetWinnerCount overrides the winner count of an active event. n <= 0
// restores the definition default.
func (m *Manager) SetWinnerCount(name string, n int) error {
	ev, ok := m.ActiveEvent(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotActive, name)
	}
	ev.SetWinnerCount(n)
	m.bus.Publish(eventbus.Event{Type: eventbus.DeliveryUpdated, Data: ev.Snapshot()})
	return nil
}

// ReapExpired ends every event whose end has passed and returns their ids.
func (m *Manager) ReapExpired(now time.Time) []string {
	var ids []string
	for _, ev := range m.ActiveEvents() {
		if !now.Before(ev.End()) {
			ids = append(ids, ev.ID())
		}
	}
	for _, id := range ids {
		m.log.Info("ending expired delivery", logx.String("id", id))
		m.EndEvent(id)
	}
	return ids
}

// RunReaper calls ReapExpired every interval until ctx is done.
func (m *Manager) RunReaper(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			m.ReapExpired(m.now())
		}
	}
}

// endAfter is the first end occurrence after now, or now+1h when the end
// expression does not parse.
func endAfter(def delivery.Definition, now time.Time, loc *time.Location) time.Time {
	if end, ok := schedule.Next(def.Schedule.End, loc, now); ok {
		return end
	}
	return now.Add(fallbackDuration)
}

// windowEnd is the later of the event's end and the configured end that
// follows its start, never before now.
func windowEnd(def delivery.Definition, ev *event.Active, now time.Time) time.Time {
	at := ev.End()
	if end, ok := schedule.Next(def.Schedule.End, ev.Location(), ev.Start()); ok && end.After(at) {
		at = end
	}
	if now.After(at) {
		at = now
	}
	return at
}

func grants(r delivery.Reward, winners []event.Winner) []event.Grant {
	if len(winners) == 0 {
		return nil
	}
	out := make([]event.Grant, len(winners))
	for i, w := range winners {
		rr := r.ForRank(w.Rank)
		out[i] = event.Grant{
			Rank:        w.Rank,
			Participant: w.Participant,
			Type:        string(r.Type),
			Item:        rr.Item,
			Amount:      rr.Amount,
			Commands:    rr.Commands,
		}
	}
	return out
}
