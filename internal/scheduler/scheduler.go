// Package scheduler runs the worker's main loop: claim queued jobs with
// bounded concurrency, dispatch each to the right pipeline, and recover
// jobs abandoned by a restarted worker. The active-job set and wake signal
// are owned by a single loop goroutine and never shared by lock; every
// other goroutine communicates with it over channels.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nsqio/go-nsq"

	"github.com/corpusgraph/weaver/internal/correlation"
	"github.com/corpusgraph/weaver/internal/crawl"
	"github.com/corpusgraph/weaver/internal/model"
	"github.com/corpusgraph/weaver/internal/store"
)

const staleAfter = 5 * time.Minute

// Scheduler holds the active-job set and dispatches claimed jobs to the
// crawl engine. It is a process-wide singleton: one instance per worker.
type Scheduler struct {
	store     store.Gateway
	engine    *crawl.Engine
	maxJobs   int
	pollEvery time.Duration

	wake chan struct{}
	done chan string // job ids whose pipeline finished, freeing a slot

	nsqConsumer *nsq.Consumer
}

// New builds a Scheduler. maxJobs bounds concurrent active pipelines;
// pollEvery is the fallback wake interval used when no external
// notification arrives.
func New(st store.Gateway, engine *crawl.Engine, maxJobs int, pollEvery time.Duration) *Scheduler {
	if maxJobs <= 0 {
		maxJobs = 3
	}
	if pollEvery <= 0 {
		pollEvery = 60 * time.Second
	}
	return &Scheduler{
		store:     st,
		engine:    engine,
		maxJobs:   maxJobs,
		pollEvery: pollEvery,
		wake:      make(chan struct{}, 1),
		done:      make(chan string, maxJobs),
	}
}

// AttachNSQ wires an nsq.Consumer as an external wake source: any message on
// its topic (a notification that a job was inserted with status=queued)
// nudges the idle loop without waiting for the fallback timer. The consumer
// itself is not a job transport; jobs are still claimed from the store.
func (s *Scheduler) AttachNSQ(consumer *nsq.Consumer) {
	s.nsqConsumer = consumer
	consumer.AddHandler(nsq.HandlerFunc(func(m *nsq.Message) error {
		s.Notify()
		return nil
	}))
}

// Notify nudges the idle loop. Safe to call from any goroutine; a pending
// notification is coalesced if one is already queued.
func (s *Scheduler) Notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Run blocks until ctx is cancelled, claiming and dispatching jobs. It
// returns nil on graceful cancellation.
func (s *Scheduler) Run(ctx context.Context) error {
	active := make(map[string]struct{})
	timer := time.NewTimer(s.pollEvery)
	defer timer.Stop()

	for {
		for len(active) < s.maxJobs {
			job, err := s.claim(ctx)
			if err != nil {
				if errors.Is(err, store.ErrNoJobAvailable) {
					break
				}
				slog.ErrorContext(ctx, "scheduler: claim failed", "error", err)
				break
			}
			active[job.ID] = struct{}{}
			go s.dispatch(ctx, job)
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(s.pollEvery)

		select {
		case <-ctx.Done():
			return nil
		case id := <-s.done:
			delete(active, id)
		case <-s.wake:
		case <-timer.C:
		}
	}
}

func (s *Scheduler) claim(ctx context.Context) (*model.CrawlJob, error) {
	if _, err := s.store.ReclaimStaleJobs(ctx, staleAfter); err != nil {
		slog.WarnContext(ctx, "scheduler: reclaim stale jobs failed", "error", err)
	}
	return s.store.ClaimNextJob(ctx)
}

// dispatch runs one job's pipeline to completion and reports the slot free
// regardless of outcome; per-job failures are recorded on the job row by
// the pipeline itself, not surfaced to the scheduler. A panic in the
// pipeline is recovered and marks that job failed.
func (s *Scheduler) dispatch(ctx context.Context, job *model.CrawlJob) {
	defer func() { s.done <- job.ID }()
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "scheduler: job pipeline panicked", "job_id", job.ID, "panic", r)
			_ = s.store.UpdateJobStatus(ctx, job.ID, model.JobFailed, fmt.Sprintf("panic: %v", r))
		}
	}()

	jobCtx := correlation.WithNew(ctx)
	source, err := s.store.GetSource(jobCtx, job.SourceID)
	if err != nil {
		slog.ErrorContext(jobCtx, "scheduler: load source failed", "job_id", job.ID, "error", err)
		_ = s.store.UpdateJobStatus(jobCtx, job.ID, model.JobFailed, err.Error())
		return
	}

	var runErr error
	if job.IsAddPage() {
		runErr = s.engine.RunAddPage(jobCtx, job, source)
	} else {
		runErr = s.engine.Run(jobCtx, job, source)
	}
	if runErr != nil {
		slog.ErrorContext(jobCtx, "scheduler: job pipeline failed", "job_id", job.ID, "error", runErr)
		if err := s.store.UpdateJobStatus(jobCtx, job.ID, model.JobFailed, runErr.Error()); err != nil {
			slog.ErrorContext(jobCtx, "scheduler: mark job failed also failed", "job_id", job.ID, "error", err)
		}
	}

	s.Notify() // a freed slot may let another queued job run immediately
}
