package agent

import (
	"context"
	"log"
	"time"

	"github.com/rahul/toolflow/internal/history"
	"github.com/rahul/toolflow/internal/observability"
	"github.com/rahul/toolflow/internal/resolver"
)

// SnapshotStore persists the in-memory caches between runs.
type SnapshotStore interface {
	SaveExecutions(ctx context.Context, records []history.Record) error
	LoadExecutions(ctx context.Context) ([]history.Record, error)
	SaveMappings(ctx context.Context, mappings []resolver.Mapping) error
	LoadMappings(ctx context.Context) ([]resolver.Mapping, error)
}

// Scheduler periodically expires stale toolkit mappings and flushes the
// execution history and mapping cache to the store.
type Scheduler struct {
	Store    SnapshotStore
	History  *history.Store
	Resolver *resolver.Resolver
	Logger   *observability.Logger
	Interval time.Duration
	MaxAge   time.Duration
}

func NewScheduler(st SnapshotStore, hist *history.Store, res *resolver.Resolver, logger *observability.Logger, interval, maxAge time.Duration) *Scheduler {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if maxAge <= 0 {
		maxAge = resolver.DefaultMaxAge
	}
	return &Scheduler{
		Store:    st,
		History:  hist,
		Resolver: res,
		Logger:   logger,
		Interval: interval,
		MaxAge:   maxAge,
	}
}

// Restore loads the last snapshots into memory. Load failures leave the
// caches empty.
func (s *Scheduler) Restore(ctx context.Context) {
	records, err := s.Store.LoadExecutions(ctx)
	if err != nil {
		log.Printf("Error loading execution history: %v", err)
	} else {
		s.History.Restore(records)
	}

	mappings, err := s.Store.LoadMappings(ctx)
	if err != nil {
		log.Printf("Error loading toolkit mappings: %v", err)
	} else {
		s.Resolver.Restore(mappings)
	}

	s.Logger.Log(observability.Event{
		Type: observability.EventTypeMaintenance,
		Data: map[string]any{"op": "restore", "executions": len(records), "mappings": len(mappings)},
	})
}

// Start runs maintenance on every tick until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	log.Println("Maintenance scheduler started...")

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce expires old mappings and flushes both caches.
func (s *Scheduler) RunOnce(ctx context.Context) {
	removed := s.Resolver.CleanOldMappings(s.MaxAge)
	s.Logger.Log(observability.Event{
		Type: observability.EventTypeMaintenance,
		Data: map[string]any{"op": "clean_mappings", "removed": removed},
	})
	if err := s.Flush(ctx); err != nil {
		log.Printf("Error flushing snapshots: %v", err)
	}
}

// Flush writes the current snapshots. Both are attempted; the first error is
// returned.
func (s *Scheduler) Flush(ctx context.Context) error {
	records := s.History.Snapshot()
	mappings := s.Resolver.Snapshot()

	errExec := s.Store.SaveExecutions(ctx, records)
	errMap := s.Store.SaveMappings(ctx, mappings)

	s.Logger.Log(observability.Event{
		Type: observability.EventTypeMaintenance,
		Data: map[string]any{
			"op":         "flush",
			"executions": len(records),
			"mappings":   len(mappings),
			"ok":         errExec == nil && errMap == nil,
		},
	})
	if errExec != nil {
		return errExec
	}
	return errMap
}
