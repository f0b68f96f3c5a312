package extract

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/shehryarbajwa/renderpool/internal/browser"
	"github.com/shehryarbajwa/renderpool/pkg/models"
)

// collectLinksJS returns every anchor with an href, optionally only the
// ones with a non-empty box that are not hidden by style
const collectLinksJS = `(visibleOnly) => {
	const out = [];
	for (const a of document.querySelectorAll('a[href]')) {
		if (visibleOnly) {
			const box = a.getBoundingClientRect();
			const style = window.getComputedStyle(a);
			if (box.width === 0 || box.height === 0) continue;
			if (style.display === 'none' || style.visibility === 'hidden') continue;
		}
		out.push({
			href: a.getAttribute('href') || '',
			resolved: a.href || '',
			text: (a.innerText || a.textContent || '').trim(),
		});
	}
	return out;
}`

type rawLink struct {
	Href     string `json:"href"`
	Resolved string `json:"resolved"`
	Text     string `json:"text"`
}

// LinkSummary is the data returned by the links operation
type LinkSummary struct {
	Links []models.Link `json:"links"`
}

type linksPipeline struct {
	*loader
}

func (p *linksPipeline) Operation() models.OperationType { return models.OperationLinks }

func (p *linksPipeline) Run(ctx context.Context, page browser.Page, job models.ExtractionJob) (*Output, error) {
	nav, err := p.load(ctx, page, job)
	if err != nil {
		return nil, err
	}

	var raw []rawLink
	if err := page.Evaluate(ctx, collectLinksJS, &raw, job.VisibleLinksOnly); err != nil {
		return nil, fmt.Errorf("collect links: %w", err)
	}

	origin, err := url.Parse(job.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJob, err)
	}

	links := classifyLinks(origin, raw)
	meta := baseMeta(job, nav)
	meta.TotalLinks = len(links)
	for _, l := range links {
		if l.Internal {
			meta.InternalLinks++
		} else {
			meta.ExternalLinks++
		}
	}

	return &Output{Data: LinkSummary{Links: links}, Meta: meta}, nil
}

// classifyLinks resolves and classifies raw anchors against origin. Empty
// hrefs and javascript: pseudo-links are dropped.
func classifyLinks(origin *url.URL, raw []rawLink) []models.Link {
	links := make([]models.Link, 0, len(raw))
	for _, r := range raw {
		href := strings.TrimSpace(r.Href)
		if href == "" || strings.HasPrefix(strings.ToLower(href), "javascript:") {
			continue
		}

		link := models.Link{
			Href:     href,
			Text:     r.Text,
			Internal: IsInternal(origin, href),
			URL:      r.Resolved,
		}
		if link.URL == "" {
			link.URL = resolve(origin, href)
		}
		links = append(links, link)
	}
	return links
}

// IsInternal reports whether href points at the origin's host. Hosts compare
// case-insensitively with a leading "www." ignored. Relative and unparsable
// hrefs are internal; hostless links with a scheme (mailto:, tel:) are not.
func IsInternal(origin *url.URL, href string) bool {
	u, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return true
	}
	if u.Host == "" {
		return u.Scheme == ""
	}
	return normalizeHost(u.Hostname()) == normalizeHost(origin.Hostname())
}

func normalizeHost(host string) string {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	return strings.TrimPrefix(host, "www.")
}

func resolve(origin *url.URL, href string) string {
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	return origin.ResolveReference(u).String()
}
