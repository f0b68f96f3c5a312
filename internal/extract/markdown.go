package extract

import (
	"context"
	"fmt"
	"net/url"

	"github.com/shehryarbajwa/renderpool/internal/browser"
	"github.com/shehryarbajwa/renderpool/internal/markdown"
	"github.com/shehryarbajwa/renderpool/pkg/models"
)

type markdownPipeline struct {
	*loader
	conv *markdown.Converter
}

func newMarkdownPipeline(l *loader) *markdownPipeline {
	return &markdownPipeline{loader: l, conv: markdown.NewConverter()}
}

func (p *markdownPipeline) Operation() models.OperationType { return models.OperationMarkdown }

func (p *markdownPipeline) Run(ctx context.Context, page browser.Page, job models.ExtractionJob) (*Output, error) {
	nav, err := p.load(ctx, page, job)
	if err != nil {
		return nil, err
	}

	html, err := page.HTML(ctx)
	if err != nil {
		return nil, fmt.Errorf("serialize page: %w", err)
	}

	scoped, title, err := scope(html, job.Selector)
	if err != nil {
		return nil, err
	}

	pageURL, _ := url.Parse(job.URL)
	res, err := p.conv.Convert(scoped, pageURL)
	if err != nil {
		return nil, fmt.Errorf("convert to markdown: %w", err)
	}

	meta := baseMeta(job, nav)
	meta.Title = title
	meta.WordCount = res.WordCount
	meta.ByteSize = len(res.Markdown)
	meta.ContentType = "text/markdown; charset=utf-8"

	return &Output{Data: res.Markdown, Meta: meta}, nil
}
