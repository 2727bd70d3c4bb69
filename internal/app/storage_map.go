package app

import (
	"context"

	"deliveryd/internal/storage"
	"deliveryd/internal/task/scheduler"
)

// scheduleStore persists scheduler infos through a storage.Store.
type scheduleStore struct {
	st storage.Store
}

func (s scheduleStore) LoadScheduleInfos(ctx context.Context) ([]scheduler.Info, error) {
	recs, err := s.st.LoadSchedules(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]scheduler.Info, 0, len(recs))
	for _, r := range recs {
		out = append(out, scheduler.Info{ID: r.ID, Start: r.Start, End: r.End, Timezone: r.Timezone})
	}
	return out, nil
}

func (s scheduleStore) SaveScheduleInfo(ctx context.Context, in scheduler.Info) error {
	return s.st.PutSchedule(ctx, storage.ScheduleRecord{ID: in.ID, Start: in.Start, End: in.End, Timezone: in.Timezone})
}

func (s scheduleStore) DeleteScheduleInfo(ctx context.Context, id string) error {
	return s.st.DeleteSchedule(ctx, id)
}
