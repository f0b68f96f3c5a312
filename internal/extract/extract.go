// Package extract turns a loaded page into one of five output formats.
//
// Every pipeline shares the same shape: install the operation's resource
// blocking policy, navigate with retry, optionally wait, do the
// operation-specific page work, and describe the result. Runner wraps the
// pipelines with validation, pool allocation, the single-use browser
// fallback, storage and credit reporting, and never returns a Go error.
package extract

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shehryarbajwa/renderpool/internal/blocking"
	"github.com/shehryarbajwa/renderpool/internal/browser"
	"github.com/shehryarbajwa/renderpool/internal/logger"
	"github.com/shehryarbajwa/renderpool/internal/navigation"
	"github.com/shehryarbajwa/renderpool/pkg/models"
)

var (
	// ErrInvalidJob marks a request rejected before any browser work
	ErrInvalidJob = errors.New("invalid extraction request")
	// ErrInvalidSelector marks an unparsable CSS selector
	ErrInvalidSelector = errors.New("invalid selector")
	// ErrNoMatch means a selector matched nothing on the page
	ErrNoMatch = errors.New("selector matched no elements")
)

// OperationConfig tunes navigation and blocking for one operation
type OperationConfig struct {
	Timeout   time.Duration
	WaitUntil browser.WaitCondition
	Block     blocking.Policy
}

// Config holds the extraction settings shared by all pipelines
type Config struct {
	// Retries is the transient navigation retry budget for every operation
	Retries     int
	Operations  map[models.OperationType]OperationConfig
	JobTimeout  time.Duration
	MaxWaitTime time.Duration
}

// DefaultConfig gives text operations a short budget and a DOM-ready wait,
// and visual operations a longer budget waiting for the network to settle.
func DefaultConfig() Config {
	table := blocking.DefaultTable()
	text := func(op models.OperationType, timeout time.Duration) OperationConfig {
		return OperationConfig{Timeout: timeout, WaitUntil: browser.WaitDOMContentLoaded, Block: table.For(op)}
	}
	visual := func(op models.OperationType) OperationConfig {
		return OperationConfig{Timeout: 30 * time.Second, WaitUntil: browser.WaitNetworkIdle, Block: table.For(op)}
	}

	return Config{
		Retries: 2,
		Operations: map[models.OperationType]OperationConfig{
			models.OperationContent:    text(models.OperationContent, 15*time.Second),
			models.OperationMarkdown:   text(models.OperationMarkdown, 15*time.Second),
			models.OperationLinks:      text(models.OperationLinks, 30*time.Second),
			models.OperationScreenshot: visual(models.OperationScreenshot),
			models.OperationPDF:        visual(models.OperationPDF),
		},
		JobTimeout:  90 * time.Second,
		MaxWaitTime: 5 * time.Second,
	}
}

func (c Config) operation(op models.OperationType) OperationConfig {
	oc, ok := c.Operations[op]
	if !ok {
		oc = OperationConfig{Timeout: 30 * time.Second, WaitUntil: browser.WaitLoad}
	}
	if oc.WaitUntil == "" {
		oc.WaitUntil = browser.WaitLoad
	}
	return oc
}

// Output is what a pipeline produced before storage and pricing
type Output struct {
	Data        any
	Meta        models.Metadata
	Artifact    []byte
	ContentType string
}

// Pipeline is one operation's page work
type Pipeline interface {
	Operation() models.OperationType
	Run(ctx context.Context, page browser.Page, job models.ExtractionJob) (*Output, error)
}

// loader runs the steps every pipeline shares up to the page-specific work
type loader struct {
	cfg Config
	log logger.Logger
}

func (l *loader) load(ctx context.Context, page browser.Page, job models.ExtractionJob) (*navigation.Result, error) {
	oc := l.cfg.operation(job.Operation)

	if len(oc.Block) > 0 {
		if err := page.Block(ctx, oc.Block.Predicate()); err != nil {
			return nil, fmt.Errorf("install resource blocking: %w", err)
		}
	}

	res, err := navigation.Navigate(ctx, page, job.URL, navigation.Options{
		Timeout:   oc.Timeout,
		WaitUntil: oc.WaitUntil,
		Retries:   l.cfg.Retries,
	}, l.log)
	if err != nil {
		return nil, err
	}

	if job.WaitTimeMs > 0 {
		t := time.NewTimer(time.Duration(job.WaitTimeMs) * time.Millisecond)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return res, nil
}

func baseMeta(job models.ExtractionJob, nav *navigation.Result) models.Metadata {
	return models.Metadata{
		URL:        job.URL,
		StatusCode: nav.StatusCode,
		Attempts:   nav.Attempts,
	}
}

// NewPipelines builds one pipeline per operation
func NewPipelines(cfg Config, log logger.Logger) map[models.OperationType]Pipeline {
	l := &loader{cfg: cfg, log: log}
	pipelines := []Pipeline{
		&contentPipeline{loader: l},
		newMarkdownPipeline(l),
		&linksPipeline{loader: l},
		&screenshotPipeline{loader: l},
		&pdfPipeline{loader: l},
	}

	out := make(map[models.OperationType]Pipeline, len(pipelines))
	for _, p := range pipelines {
		out[p.Operation()] = p
	}
	return out
}
