package app

import (
	"context"
	"reflect"
	"time"

	"deliveryd/internal/delivery"
	"deliveryd/internal/event"
	"deliveryd/internal/eventbus"
	logx "deliveryd/pkg/logx"
)

const storeTimeout = 5 * time.Second

// restoreActiveEvents reinstates saved events with their counts. Events past
// their end, or whose definition is gone, are ended at once so their winners
// are still computed. It returns the saved end of every kept event.
func (a *App) restoreActiveEvents(ctx context.Context) map[string]time.Time {
	kept := map[string]time.Time{}
	if a.store == nil {
		return kept
	}
	lctx, cancel := context.WithTimeout(ctx, storeTimeout)
	snaps, err := a.store.LoadActiveEvents(lctx)
	cancel()
	if err != nil {
		a.log.Warn("load active events failed", logx.Err(err))
		return kept
	}

	now := time.Now()
	for _, snap := range snaps {
		ev, err := a.life.Restore(snap)
		if err != nil {
			a.log.Warn("restore failed", logx.String("id", snap.ID), logx.Err(err))
			continue
		}
		_, known := a.catalog.Definition(snap.ID)
		if !known || !now.Before(ev.End()) {
			a.log.Info("ending stale restored event",
				logx.String("id", snap.ID),
				logx.Bool("known", known),
				logx.Time("end", ev.End()),
			)
			a.life.EndEvent(snap.ID)
			continue
		}
		kept[snap.ID] = ev.End()
	}
	return kept
}

func (a *App) saveActiveEvents(ctx context.Context) error {
	if a.store == nil {
		return nil
	}
	evs := a.life.ActiveEvents()
	snaps := make([]event.Snapshot, 0, len(evs))
	for _, ev := range evs {
		snaps = append(snaps, ev.Snapshot())
	}
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	return a.store.SaveActiveEvents(ctx, snaps)
}

func (a *App) autosaveLoop(ctx context.Context) {
	t := time.NewTicker(a.autosave)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := a.saveActiveEvents(ctx); err != nil {
				a.log.Warn("autosave failed", logx.Err(err))
			}
		}
	}
}

// startResultSink appends every finished event's result to the store.
func (a *App) startResultSink() {
	if a.store == nil {
		return
	}
	ended, unsub := a.bus.Subscribe(256, eventbus.DeliveryEnded)
	a.sup.Go0("eventbus.results", func(c context.Context) {
		defer unsub()
		for {
			var e eventbus.Event
			select {
			case <-c.Done():
				return
			case ev, ok := <-ended:
				if !ok {
					return
				}
				e = ev
			}
			res, ok := e.Data.(event.Result)
			if !ok {
				a.log.Debug("unexpected end payload", logx.Any("data", e.Data))
				continue
			}
			// outlives the run context during shutdown
			sctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
			if err := a.store.AppendResult(sctx, res); err != nil {
				a.log.Warn("append result failed", logx.String("id", res.ID), logx.String("run", res.RunID), logx.Err(err))
			}
			cancel()
		}
	})
}

func definitionEqual(a, b delivery.Definition) bool {
	return reflect.DeepEqual(a, b)
}
