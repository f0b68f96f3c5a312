package extract

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"

	"github.com/shehryarbajwa/renderpool/internal/browser"
	"github.com/shehryarbajwa/renderpool/pkg/models"
)

// scriptTag is a pattern match, not a sanitizer: everything else in the
// document is returned as rendered
var scriptTag = regexp.MustCompile(`(?is)<script\b[^>]*>.*?</script\s*>`)

// StripScripts removes every <script> element and its body
func StripScripts(html string) string {
	return scriptTag.ReplaceAllString(html, "")
}

func compileSelector(selector string) (goquery.Matcher, error) {
	sel, err := cascadia.ParseGroup(selector)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrInvalidSelector, selector, err)
	}
	return cascadia.Selector(sel.Match), nil
}

// scope returns the outer HTML of every element matching selector, and
// the document title
func scope(html, selector string) (string, string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", "", fmt.Errorf("parse page html: %w", err)
	}
	title := strings.TrimSpace(doc.Find("title").First().Text())
	if selector == "" {
		return html, title, nil
	}

	sel, err := compileSelector(selector)
	if err != nil {
		return "", "", err
	}
	matches := doc.FindMatcher(sel)
	if matches.Length() == 0 {
		return "", "", fmt.Errorf("%w: %q", ErrNoMatch, selector)
	}

	parts := make([]string, 0, matches.Length())
	var outerErr error
	matches.Each(func(_ int, s *goquery.Selection) {
		h, err := goquery.OuterHtml(s)
		if err != nil {
			outerErr = err
			return
		}
		parts = append(parts, h)
	})
	if outerErr != nil {
		return "", "", fmt.Errorf("serialize matched elements: %w", outerErr)
	}
	return strings.Join(parts, "\n"), title, nil
}

type contentPipeline struct {
	*loader
}

func (p *contentPipeline) Operation() models.OperationType { return models.OperationContent }

func (p *contentPipeline) Run(ctx context.Context, page browser.Page, job models.ExtractionJob) (*Output, error) {
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
	content := StripScripts(scoped)

	meta := baseMeta(job, nav)
	meta.Title = title
	meta.ByteSize = len(content)
	meta.ContentType = "text/html; charset=utf-8"

	return &Output{Data: content, Meta: meta}, nil
}
