// Package scheduler replays stored publish requests once they fall due.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"pagepush/api/internal/logger"
	"pagepush/api/internal/store"
)

const defaultBatch = 20

// Queue is the durable list of scheduled requests.
type Queue interface {
	ClaimDueScheduled(ctx context.Context, now time.Time, limit int) ([]store.ScheduledPublish, error)
	FinishScheduled(ctx context.Context, id, pageID, errMsg string) error
}

// PublishFunc runs a stored request through the publish pipeline and
// returns the written page id.
type PublishFunc func(ctx context.Context, request json.RawMessage) (string, error)

// Recorder receives one result per replayed request.
type Recorder interface {
	ScheduledRun(result string)
}

type Scheduler struct {
	cron     *cron.Cron
	queue    Queue
	publish  PublishFunc
	log      logger.Logger
	recorder Recorder
	batch    int
	timeout  time.Duration
	now      func() time.Time
}

func New(spec string, queue Queue, publish PublishFunc, log logger.Logger, recorder Recorder) (*Scheduler, error) {
	s := &Scheduler{
		queue:    queue,
		publish:  publish,
		log:      log,
		recorder: recorder,
		batch:    defaultBatch,
		timeout:  2 * time.Minute,
		now:      time.Now,
	}
	s.cron = cron.New(cron.WithChain(
		cron.Recover(cron.DefaultLogger),
		cron.SkipIfStillRunning(cron.DefaultLogger),
	))
	if _, err := s.cron.AddFunc(spec, s.tick); err != nil {
		return nil, fmt.Errorf("invalid scheduler spec %q: %w", spec, err)
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info("scheduler started")
}

// Stop stops scheduling and waits for a running replay to finish or ctx to
// expire.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
	s.log.Info("scheduler stopped")
}

func (s *Scheduler) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if _, err := s.RunOnce(ctx); err != nil {
		s.log.Error("scheduled publish run failed", logger.Error(err))
	}
}

// RunOnce claims due requests and replays each one. It returns how many
// were processed.
func (s *Scheduler) RunOnce(ctx context.Context) (int, error) {
	items, err := s.queue.ClaimDueScheduled(ctx, s.now().UTC(), s.batch)
	if err != nil {
		return 0, err
	}
	for _, item := range items {
		log := s.log.With(logger.String("schedule_id", item.ID), logger.Int("attempt", item.Attempts))
		pageID, err := s.publish(ctx, item.Request)
		result := "success"
		errMsg := ""
		if err != nil {
			result = "error"
			errMsg = err.Error()
			log.Warn("scheduled publish failed", logger.Error(err))
		} else {
			log.Info("scheduled publish done", logger.String("page_id", pageID))
		}
		if s.recorder != nil {
			s.recorder.ScheduledRun(result)
		}
		if err := s.queue.FinishScheduled(ctx, item.ID, pageID, errMsg); err != nil {
			log.Error("record scheduled publish outcome", logger.Error(err))
		}
	}
	return len(items), nil
}
