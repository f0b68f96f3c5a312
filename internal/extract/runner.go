package extract

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/shehryarbajwa/renderpool/internal/browser"
	"github.com/shehryarbajwa/renderpool/internal/credits"
	"github.com/shehryarbajwa/renderpool/internal/logger"
	"github.com/shehryarbajwa/renderpool/internal/metrics"
	"github.com/shehryarbajwa/renderpool/internal/pool"
	"github.com/shehryarbajwa/renderpool/internal/ratelimit"
	"github.com/shehryarbajwa/renderpool/internal/storage"
	"github.com/shehryarbajwa/renderpool/pkg/models"
)

// Allocator hands out pooled sessions
type Allocator interface {
	Allocate(ctx context.Context, requestID string) (*pool.Lease, error)
}

// Deps are the Runner's collaborators. Only Logger is required: without a
// Pool every request takes the fallback path, without a Store artifacts are
// returned inline.
type Deps struct {
	Pool        Allocator
	Fallback    browser.Launcher
	Store       storage.Store
	Credits     *credits.Table
	Concurrency *ratelimit.ConcurrencyLimiter
	Metrics     *metrics.Metrics
	Logger      logger.Logger
}

// Runner executes extraction requests end to end
type Runner struct {
	cfg       Config
	deps      Deps
	pipelines map[models.OperationType]Pipeline
	log       logger.Logger
}

// NewRunner wires the five pipelines to the given collaborators
func NewRunner(cfg Config, deps Deps) *Runner {
	if deps.Logger == nil {
		deps.Logger = logger.NewNop()
	}
	return &Runner{
		cfg:       cfg,
		deps:      deps,
		pipelines: NewPipelines(cfg, deps.Logger),
		log:       deps.Logger,
	}
}

// Run executes one extraction. It always returns a result: failures carry a
// message and zero cost.
func (r *Runner) Run(ctx context.Context, op models.OperationType, job models.ExtractionJob, caller models.CallerContext) models.ExtractionResult {
	start := time.Now()
	requestID := uuid.New().String()
	log := r.log.With(
		logger.String("request_id", requestID),
		logger.String("operation", string(op)),
		logger.String("project_id", caller.ProjectID),
	)

	result := r.run(ctx, requestID, op, job, caller, log)

	elapsed := time.Since(start)
	if r.deps.Metrics != nil {
		r.deps.Metrics.ObserveExtraction(op, result, elapsed)
	}
	if result.Success {
		log.Info("Extraction succeeded",
			logger.String("url", job.URL),
			logger.Duration("elapsed", elapsed),
			logger.Int("credits", result.CreditsCost))
	} else {
		log.Warn("Extraction failed",
			logger.String("url", job.URL),
			logger.Duration("elapsed", elapsed),
			logger.String("error", result.Error),
			logger.Bool("retryable", result.Retryable))
	}
	return result
}

func (r *Runner) run(ctx context.Context, requestID string, op models.OperationType, job models.ExtractionJob, caller models.CallerContext, log logger.Logger) (result models.ExtractionResult) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error("Extraction panicked", logger.Any("panic", rec))
			result = models.Failed(fmt.Sprintf("internal error: %v", rec), false)
		}
	}()

	if job.Operation == "" {
		job.Operation = op
	}
	if job.Operation != op {
		return models.Failed(fmt.Sprintf("%v: operation %q does not match endpoint %q", ErrInvalidJob, job.Operation, op), false)
	}
	if err := Validate(&job, r.cfg.MaxWaitTime); err != nil {
		return models.Failed(err.Error(), false)
	}
	pipeline, ok := r.pipelines[op]
	if !ok {
		return models.Failed(fmt.Sprintf("%v: no pipeline for %q", ErrInvalidJob, op), false)
	}

	release, err := r.deps.Concurrency.Acquire(caller.ProjectID)
	if err != nil {
		return models.Failed(err.Error(), true)
	}
	defer release()

	if r.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.JobTimeout)
		defer cancel()
	}

	out, err := r.execute(ctx, requestID, pipeline, job, log)
	if err != nil {
		return models.Failed(err.Error(), retryable(err))
	}

	return r.finish(ctx, op, job, caller, out, log)
}

// execute runs the pipeline on a pooled session, or on a single-use browser
// when the pool cannot start sessions
func (r *Runner) execute(ctx context.Context, requestID string, pipeline Pipeline, job models.ExtractionJob, log logger.Logger) (*Output, error) {
	if r.deps.Pool == nil {
		return r.runFallback(ctx, pipeline, job, log)
	}

	waitStart := time.Now()
	lease, err := r.deps.Pool.Allocate(ctx, requestID)
	if r.deps.Metrics != nil && err == nil {
		r.deps.Metrics.ObserveAllocation(time.Since(waitStart))
	}
	switch {
	case errors.Is(err, pool.ErrPoolUnavailable), errors.Is(err, pool.ErrPoolClosed):
		log.Warn("Pool cannot serve request, using single-use browser", logger.Error(err))
		return r.runFallback(ctx, pipeline, job, log)
	case err != nil:
		return nil, err
	}
	defer lease.Release()

	page, err := lease.NewPage(ctx)
	if err != nil {
		return nil, fmt.Errorf("open page: %w", err)
	}
	defer closePage(page, log)

	out, err := pipeline.Run(ctx, page, job)
	if err != nil {
		return nil, err
	}
	out.Meta.SessionID = lease.SessionID()
	return out, nil
}

// finish stores or encodes binary artifacts and prices the result
func (r *Runner) finish(ctx context.Context, op models.OperationType, job models.ExtractionJob, caller models.CallerContext, out *Output, log logger.Logger) models.ExtractionResult {
	meta := out.Meta
	meta.URL = job.URL
	meta.Timestamp = time.Now().UTC()

	data := out.Data
	var artifact []byte
	if out.Artifact != nil {
		switch {
		case job.Store && r.deps.Store != nil:
			ref, err := r.deps.Store.Store(ctx, storage.Artifact{
				Data:        out.Artifact,
				ContentType: out.ContentType,
				Operation:   op,
				SourceURL:   job.URL,
				ProjectID:   caller.ProjectID,
				CreatedAt:   meta.Timestamp,
			})
			if err != nil {
				return models.Failed(fmt.Sprintf("store artifact: %v", err), true)
			}
			meta.StorageRef = ref
			data = nil
		case job.Encoding == models.EncodingBinary:
			artifact = out.Artifact
			data = nil
		default:
			if job.Store {
				log.Warn("Artifact storage requested but not configured, returning inline")
			}
			data = base64.StdEncoding.EncodeToString(out.Artifact)
		}
	}

	result := models.Succeeded(data, &meta, r.deps.Credits.Cost(op))
	result.Artifact = artifact
	return result
}

func retryable(err error) bool {
	return errors.Is(err, pool.ErrPoolExhausted) || errors.Is(err, ratelimit.ErrConcurrencyLimit)
}

func closePage(page browser.Page, log logger.Logger) {
	if err := page.Close(); err != nil {
		log.Debug("Closing page failed", logger.Error(err))
	}
}
