package queue

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
)

const (
	pendingKey    = "edb:pipeline:pending"
	processingKey = "edb:pipeline:processing"
	delayedKey    = "edb:pipeline:delayed"
)

// Handler owns the semantics of job execution. The runner owns delivery,
// retries, and scheduling; everything touching the database goes through the
// handler.
type Handler interface {
	// Execute runs the job's current step.
	Execute(ctx context.Context, job *Job) error
	// Advance records that the job moved to its (not yet run) current step.
	Advance(ctx context.Context, job *Job) error
	// Complete marks the operation succeeded after the final step.
	Complete(ctx context.Context, job *Job) error
	// Fail marks the operation failed with the given cause.
	Fail(ctx context.Context, job *Job, cause error) error
}

// Options tune the runner.
type Options struct {
	Workers      int
	MaxAttempts  int
	PollInterval time.Duration
	// RetryInitial and RetryMax bound the exponential backoff between
	// failed attempts of one step.
	RetryInitial time.Duration
	RetryMax     time.Duration
}

func (o *Options) withDefaults() Options {
	out := *o
	if out.Workers <= 0 {
		out.Workers = 4
	}
	if out.MaxAttempts <= 0 {
		out.MaxAttempts = 8
	}
	if out.PollInterval <= 0 {
		out.PollInterval = 2 * time.Second
	}
	if out.RetryInitial <= 0 {
		out.RetryInitial = 10 * time.Second
	}
	if out.RetryMax <= 0 {
		out.RetryMax = 10 * time.Minute
	}
	return out
}

// Runner moves jobs between the pending list, the processing list, and the
// delayed set, executing one step per delivery.
type Runner struct {
	rdb     *redis.Client
	handler Handler
	logger  *slog.Logger
	opts    Options
}

// NewRunner creates a pipeline runner.
func NewRunner(rdb *redis.Client, handler Handler, logger *slog.Logger, opts Options) *Runner {
	return &Runner{
		rdb:     rdb,
		handler: handler,
		logger:  logger.With("component", "pipeline"),
		opts:    opts.withDefaults(),
	}
}

// Enqueue appends a job to the pending queue.
func (r *Runner) Enqueue(ctx context.Context, job *Job) error {
	raw, err := job.encode()
	if err != nil {
		return err
	}
	return r.rdb.LPush(ctx, pendingKey, raw).Err()
}

// Run processes jobs until the context is canceled. Jobs stranded on the
// processing list by a previous crash are requeued first.
func (r *Runner) Run(ctx context.Context) error {
	if err := r.recoverProcessing(ctx); err != nil {
		return err
	}

	var wg sync.WaitGroup
	for i := 0; i < r.opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.workLoop(ctx)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		r.scheduleLoop(ctx)
	}()

	wg.Wait()
	return ctx.Err()
}

func (r *Runner) workLoop(ctx context.Context) {
	for ctx.Err() == nil {
		raw, err := r.rdb.BLMove(ctx, pendingKey, processingKey, "RIGHT", "LEFT", r.opts.PollInterval).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.logger.Error("dequeue failed", "error", err)
			time.Sleep(time.Second)
			continue
		}
		r.process(ctx, raw)
	}
}

// scheduleLoop promotes due delayed jobs back onto the pending list and
// keeps the depth gauge fresh.
func (r *Runner) scheduleLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.promoteDelayed(ctx); err != nil && ctx.Err() == nil {
				r.logger.Error("promoting delayed jobs failed", "error", err)
			}
			if depth, err := r.rdb.LLen(ctx, pendingKey).Result(); err == nil {
				queueDepth.Set(float64(depth))
			}
		}
	}
}

func (r *Runner) promoteDelayed(ctx context.Context) error {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	due, err := r.rdb.ZRangeByScore(ctx, delayedKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: now,
	}).Result()
	if err != nil {
		return err
	}
	for _, raw := range due {
		// ZRem arbitrates between concurrent schedulers: only the caller
		// that removes the member may enqueue it.
		removed, err := r.rdb.ZRem(ctx, delayedKey, raw).Result()
		if err != nil {
			return err
		}
		if removed == 0 {
			continue
		}
		if err := r.rdb.LPush(ctx, pendingKey, raw).Err(); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) recoverProcessing(ctx context.Context) error {
	for {
		_, err := r.rdb.LMove(ctx, processingKey, pendingKey, "RIGHT", "LEFT").Result()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func (r *Runner) process(ctx context.Context, raw string) {
	defer r.rdb.LRem(ctx, processingKey, 1, raw)

	job, err := decodeJob(raw)
	if err != nil {
		r.logger.Error("dropping undecodable job", "error", err)
		return
	}
	if job.Done() {
		return
	}

	step := job.CurrentStep()
	logger := r.logger.With(
		"operation_id", job.OperationID,
		"instance_id", job.InstanceID,
		"correlation_id", job.CorrelationID,
		"step", step,
	)

	start := time.Now()
	execErr := r.handler.Execute(ctx, job)
	stepDuration.WithLabelValues(step).Observe(time.Since(start).Seconds())

	switch verdict, delay := r.settle(ctx, job, execErr, logger); verdict {
	case verdictRequeue:
		r.requeue(ctx, job)
	case verdictDelay:
		r.delay(ctx, job, delay)
	}
}

// verdict is what a delivery decides to do with its job.
type verdict int

const (
	// verdictDone drops the job: the pipeline finished, failed, or the
	// delivery was stale.
	verdictDone verdict = iota
	// verdictRequeue puts the job back on the pending list immediately.
	verdictRequeue
	// verdictDelay schedules the job for redelivery after the returned
	// duration.
	verdictDelay
)

// settle classifies a step's execution result, applies the operation state
// transition through the handler, and decides the job's fate. Redis is not
// touched here; process applies the verdict.
func (r *Runner) settle(ctx context.Context, job *Job, execErr error, logger *slog.Logger) (verdict, time.Duration) {
	step := job.CurrentStep()

	switch {
	case errors.Is(execErr, ErrDiscard):
		stepsTotal.WithLabelValues(step, "discarded").Inc()
		return verdictDone, 0

	case execErr == nil:
		stepsTotal.WithLabelValues(step, "ok").Inc()
		job.Step++
		job.Attempt = 0
		if job.Done() {
			if err := r.handler.Complete(ctx, job); err != nil {
				logger.Error("completing operation failed", "error", err)
				return verdictRequeue, 0
			}
			return verdictDone, 0
		}
		if err := r.handler.Advance(ctx, job); err != nil {
			logger.Error("advancing operation failed", "error", err)
		}
		return verdictRequeue, 0

	case IsUnrecoverable(execErr):
		stepsTotal.WithLabelValues(step, "unrecoverable").Inc()
		logger.Error("step failed permanently", "error", execErr)
		r.fail(ctx, job, execErr, logger)
		return verdictDone, 0

	default:
		if delay, ok := WaitDelay(execErr); ok {
			stepsTotal.WithLabelValues(step, "waiting").Inc()
			logger.Info("step waiting", "delay", delay, "cause", execErr)
			return verdictDelay, delay
		}
		stepsTotal.WithLabelValues(step, "error").Inc()
		job.Attempt++
		if job.Attempt >= r.opts.MaxAttempts {
			logger.Error("step exhausted retries", "attempts", job.Attempt, "error", execErr)
			r.fail(ctx, job, execErr, logger)
			return verdictDone, 0
		}
		delay := r.retryDelay(job.Attempt)
		logger.Warn("step failed, retrying", "attempt", job.Attempt, "delay", delay, "error", execErr)
		return verdictDelay, delay
	}
}

func (r *Runner) fail(ctx context.Context, job *Job, cause error, logger *slog.Logger) {
	operationsFailed.Inc()
	if err := r.handler.Fail(ctx, job, cause); err != nil {
		logger.Error("recording operation failure failed", "error", err)
	}
}

func (r *Runner) requeue(ctx context.Context, job *Job) {
	if err := r.Enqueue(ctx, job); err != nil {
		r.logger.Error("requeue failed", "operation_id", job.OperationID, "error", err)
	}
}

func (r *Runner) delay(ctx context.Context, job *Job, d time.Duration) {
	raw, err := job.encode()
	if err != nil {
		r.logger.Error("encoding delayed job failed", "error", err)
		return
	}
	err = r.rdb.ZAdd(ctx, delayedKey, redis.Z{
		Score:  float64(time.Now().Add(d).UnixMilli()),
		Member: raw,
	}).Err()
	if err != nil {
		r.logger.Error("scheduling delayed job failed", "operation_id", job.OperationID, "error", err)
	}
}

// retryDelay walks an exponential backoff out to the given attempt number.
func (r *Runner) retryDelay(attempt int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.opts.RetryInitial
	b.MaxInterval = r.opts.RetryMax
	b.MaxElapsedTime = 0
	b.Reset()

	d := b.NextBackOff()
	for i := 1; i < attempt; i++ {
		d = b.NextBackOff()
	}
	return d
}
