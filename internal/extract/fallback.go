package extract

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/shehryarbajwa/renderpool/internal/logger"
	"github.com/shehryarbajwa/renderpool/internal/pool"
	"github.com/shehryarbajwa/renderpool/pkg/models"
)

// runFallback serves one request on a throwaway browser, trading launch
// latency for availability
func (r *Runner) runFallback(ctx context.Context, pipeline Pipeline, job models.ExtractionJob, log logger.Logger) (*Output, error) {
	if r.deps.Fallback == nil {
		return nil, fmt.Errorf("%w: no fallback browser configured", pool.ErrPoolUnavailable)
	}

	id := "fallback-" + uuid.New().String()
	handle, err := r.deps.Fallback.Launch(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("launch single-use browser: %w", err)
	}
	defer func() {
		if err := handle.Close(); err != nil {
			log.Warn("Closing single-use browser failed", logger.Error(err))
		}
	}()

	page, err := handle.NewPage(ctx)
	if err != nil {
		return nil, fmt.Errorf("open page: %w", err)
	}
	defer closePage(page, log)

	out, err := pipeline.Run(ctx, page, job)
	if err != nil {
		return nil, err
	}
	out.Meta.Fallback = true
	out.Meta.SessionID = id
	return out, nil
}
