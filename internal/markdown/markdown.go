// Package markdown turns rendered page HTML into normalized Markdown.
//
// The pipeline is: sanitize (allow-list) → parse → transform (clamp heading
// depth, absolutize protocol-relative URLs) → serialize → collapse blank
// lines → count words.
package markdown

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html/atom"
)

const maxHeadingDepth = 6

var blankLines = regexp.MustCompile(`\n{3,}`)

// Result is a converted document
type Result struct {
	Markdown  string
	Title     string
	WordCount int
}

// Converter is safe for concurrent use
type Converter struct {
	policy *bluemonday.Policy
	conv   *md.Converter
}

// NewConverter builds the sanitizer policy and the Markdown serializer
func NewConverter() *Converter {
	policy := bluemonday.UGCPolicy()
	policy.AllowURLSchemes("http", "https", "mailto")
	policy.RequireParseableURLs(true)
	policy.AllowRelativeURLs(true)
	// ARIA headings carry their own depth
	policy.AllowAttrs("role", "aria-level").OnElements("div", "span", "p")

	conv := md.NewConverter("", true, &md.Options{
		HeadingStyle:     "atx",
		StrongDelimiter:  "**",
		EmDelimiter:      "*",
		BulletListMarker: "-",
		CodeBlockStyle:   "fenced",
	})

	return &Converter{policy: policy, conv: conv}
}

// Convert renders rawHTML as Markdown. pageURL supplies the scheme used for
// protocol-relative links and may be nil.
func (c *Converter) Convert(rawHTML string, pageURL *url.URL) (*Result, error) {
	title := extractTitle(rawHTML)

	clean := c.policy.Sanitize(rawHTML)

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(clean))
	if err != nil {
		return nil, fmt.Errorf("parse sanitized html: %w", err)
	}

	clampHeadings(doc)
	absolutizeProtocolRelative(doc, schemeOf(pageURL))

	out := c.conv.Convert(doc.Selection)
	out = Normalize(out)

	return &Result{
		Markdown:  out,
		Title:     title,
		WordCount: CountWords(out),
	}, nil
}

// Normalize collapses runs of three or more newlines to exactly two
func Normalize(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = blankLines.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// CountWords splits on whitespace and ignores tokens made only of Markdown
// punctuation such as "#", "-", "**" or "---".
func CountWords(s string) int {
	n := 0
	for _, tok := range strings.Fields(s) {
		if strings.IndexFunc(tok, isWordRune) >= 0 {
			n++
		}
	}
	return n
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

func extractTitle(rawHTML string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(doc.Find("title").First().Text())
}

// clampHeadings turns ARIA headings into real heading elements no deeper than h6
func clampHeadings(doc *goquery.Document) {
	doc.Find(`[role="heading"]`).Each(func(_ int, s *goquery.Selection) {
		level, err := strconv.Atoi(s.AttrOr("aria-level", "2"))
		if err != nil || level < 1 {
			level = 2
		}
		if level > maxHeadingDepth {
			level = maxHeadingDepth
		}
		tag := "h" + strconv.Itoa(level)
		for _, n := range s.Nodes {
			n.Data = tag
			n.DataAtom = atom.Lookup([]byte(tag))
		}
		s.RemoveAttr("role")
		s.RemoveAttr("aria-level")
	})
}

func absolutizeProtocolRelative(doc *goquery.Document, scheme string) {
	rewrite := func(attr string) func(int, *goquery.Selection) {
		return func(_ int, s *goquery.Selection) {
			if v, ok := s.Attr(attr); ok && strings.HasPrefix(v, "//") {
				s.SetAttr(attr, scheme+":"+v)
			}
		}
	}
	doc.Find("a[href]").Each(rewrite("href"))
	doc.Find("img[src]").Each(rewrite("src"))
}

func schemeOf(u *url.URL) string {
	if u != nil && (u.Scheme == "http" || u.Scheme == "https") {
		return u.Scheme
	}
	return "https"
}
