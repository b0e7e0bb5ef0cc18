// Package scheduler runs periodic housekeeping jobs in-process.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shortyai/creditdesk/internal/clock"
	identitydomain "github.com/shortyai/creditdesk/internal/identity/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const JobPurgeSessions = "purge_sessions"

var ErrInvalidConfig = errors.New("scheduler: missing dependency")

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Sessions   identitydomain.SessionRepository
	GenID      *snowflake.Node
	Clock      clock.Clock
	Config     Config                `optional:"true"`
	Registerer prometheus.Registerer `optional:"true"`
}

type Scheduler struct {
	db       *gorm.DB
	log      *zap.Logger
	cfg      Config
	genID    *snowflake.Node
	clock    clock.Clock
	sessions identitydomain.SessionRepository
	metrics  *jobMetrics
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.Sessions == nil || p.GenID == nil || p.Clock == nil {
		return nil, ErrInvalidConfig
	}
	reg := p.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	metrics, err := newJobMetrics(reg)
	if err != nil {
		return nil, err
	}
	return &Scheduler{
		db:       p.DB,
		log:      p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:      p.Config.withDefaults(),
		genID:    p.GenID,
		clock:    p.Clock,
		sessions: p.Sessions,
		metrics:  metrics,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	batchSize int,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run, owner := s.ensureJobRun(ctx, name, batchSize)
	if owner {
		s.logJobStart(ctx, run)
	}
	log := s.logger(ctx).With(
		zap.String("job", name),
		zap.String("run_id", run.runID),
	)
	s.metrics.incRun(name)

	err := fn(ctx)
	s.metrics.observeDuration(name, time.Since(start))
	if owner {
		if err != nil && run.errorCount == 0 {
			run.IncError()
		}
		s.logJobFinish(ctx, run)
	}
	if err == nil {
		return nil
	}

	// deadline is a soft timeout; the next tick picks up the rest
	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		s.metrics.incTimeout(name)
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}
	s.metrics.incError(name)

	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name string
		Run  func(context.Context) error
	}{
		{JobPurgeSessions, func(ctx context.Context) error {
			return s.runJob(ctx, JobPurgeSessions, s.cfg.BatchSize, time.Minute, s.PurgeSessionsJob)
		}},
	}

	for _, job := range jobs {
		if s.isJobEnabled(job.Name) {
			err = errors.Join(err, job.Run(parent))
		}
	}
	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(strings.TrimSpace(enabled), jobName) {
			return true
		}
	}
	return false
}

// PurgeSessionsJob deletes sessions that expired or were revoked more than
// SessionRetention ago, one batch per call until a short batch comes back.
func (s *Scheduler) PurgeSessionsJob(ctx context.Context) error {
	run := jobRunFromContext(ctx)
	cutoff := s.clock.Now().Add(-s.cfg.SessionRetention)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		deleted, err := s.sessions.PurgeStale(ctx, s.db, cutoff, s.cfg.BatchSize)
		if err != nil {
			return err
		}
		run.AddProcessed(int(deleted))
		s.metrics.addProcessed(JobPurgeSessions, deleted)
		if deleted < int64(s.cfg.BatchSize) {
			return nil
		}
	}
}
