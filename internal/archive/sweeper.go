// Package archive enforces event retention: viewed events completed more
// than the retention period ago are exported to the configured
// destinations and then deleted.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/alfredjeanlab/beacon/internal/metrics"
	"github.com/alfredjeanlab/beacon/internal/model"
)

// batchSize bounds how many events one export/delete round handles.
const batchSize = 500

// Store is the slice of store.Store the sweeper needs.
type Store interface {
	ListEvents(ctx context.Context, filter model.EventFilter) ([]*model.Event, int, error)
	DeleteEvents(ctx context.Context, ids []string) (int64, error)
}

// Sweeper purges old events, on demand or on a cron schedule.
type Sweeper struct {
	store        Store
	destinations []Destination
	retention    time.Duration
	logger       *slog.Logger
	now          func() time.Time

	mu   sync.Mutex // one sweep at a time
	cron *cron.Cron
}

// NewSweeper returns a sweeper that keeps events for retention.
func NewSweeper(s Store, destinations []Destination, retention time.Duration, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		store:        s,
		destinations: destinations,
		retention:    retention,
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Sweep exports and deletes every viewed event completed before the
// retention cutoff. A batch is deleted only after every destination
// accepted it. It returns the number of events deleted.
func (s *Sweeper) Sweep(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	at := s.now()
	cutoff := at.Add(-s.retention)
	filter := model.EventFilter{
		Viewed:          model.BoolPtr(true),
		CompletedBefore: &cutoff,
		Sort:            "completed_at",
		Limit:           batchSize,
	}

	var purged int64
	for {
		events, _, err := s.store.ListEvents(ctx, filter)
		if err != nil {
			return purged, fmt.Errorf("list old events: %w", err)
		}
		if len(events) == 0 {
			break
		}
		if err := s.export(ctx, at, events); err != nil {
			return purged, err
		}

		ids := make([]string, len(events))
		for i, e := range events {
			ids[i] = e.ID
		}
		n, err := s.store.DeleteEvents(ctx, ids)
		if err != nil {
			return purged, fmt.Errorf("delete old events: %w", err)
		}
		purged += n
		metrics.PurgedTotal.Add(float64(n))
		if n == 0 || len(events) < batchSize {
			break
		}
	}

	s.logger.Info("retention sweep completed", "purged", purged, "cutoff", cutoff)
	return purged, nil
}

func (s *Sweeper) export(ctx context.Context, at time.Time, events []*model.Event) error {
	if len(s.destinations) == 0 {
		return nil
	}
	var buf bytes.Buffer
	if err := ExportJSONL(&buf, events, at); err != nil {
		return err
	}
	var errs []error
	for _, d := range s.destinations {
		if err := d.Write(ctx, at, buf.Bytes()); err != nil {
			errs = append(errs, fmt.Errorf("archive to %s: %w", d.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Start runs Sweep on the cron schedule spec (standard five fields, UTC).
func (s *Sweeper) Start(spec string) error {
	c := cron.New(cron.WithLocation(time.UTC))
	if _, err := c.AddFunc(spec, func() {
		if _, err := s.Sweep(context.Background()); err != nil {
			s.logger.Error("retention sweep failed", "err", err)
		}
	}); err != nil {
		return fmt.Errorf("purge schedule %q: %w", spec, err)
	}
	s.cron = c
	c.Start()
	return nil
}

// Stop halts the schedule and waits for a running sweep.
func (s *Sweeper) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}
