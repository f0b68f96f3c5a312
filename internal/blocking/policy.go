// Package blocking decides which sub-resource requests a page load may skip.
//
// A Policy is a set of resource classes. Pipelines never branch on the
// operation themselves: they look up the policy for their operation and hand
// its predicate to the page, so the abort/continue rule can be tested without
// a browser.
package blocking

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shehryarbajwa/renderpool/pkg/models"
)

// Class is a coarse resource category as reported by the browser
type Class string

const (
	ClassDocument   Class = "document"
	ClassStylesheet Class = "stylesheet"
	ClassImage      Class = "image"
	ClassMedia      Class = "media"
	ClassFont       Class = "font"
	ClassScript     Class = "script"
	ClassXHR        Class = "xhr"
	ClassFetch      Class = "fetch"
	ClassWebSocket  Class = "websocket"
	ClassOther      Class = "other"
)

var knownClasses = map[Class]bool{
	ClassDocument: true, ClassStylesheet: true, ClassImage: true,
	ClassMedia: true, ClassFont: true, ClassScript: true, ClassXHR: true,
	ClassFetch: true, ClassWebSocket: true, ClassOther: true,
}

// ParseClass maps a browser resource type name onto a Class. Unknown names map to ClassOther.
func ParseClass(name string) Class {
	c := Class(strings.ToLower(strings.TrimSpace(name)))
	if knownClasses[c] {
		return c
	}
	return ClassOther
}

// Predicate reports whether a request of the given class should be aborted
type Predicate func(Class) bool

// Policy is the set of classes aborted for one operation
type Policy map[Class]struct{}

// NewPolicy builds a policy from class names
func NewPolicy(classes ...Class) Policy {
	p := make(Policy, len(classes))
	for _, c := range classes {
		p[c] = struct{}{}
	}
	return p
}

// ParsePolicy builds a policy from configuration strings
func ParsePolicy(names []string) (Policy, error) {
	p := make(Policy, len(names))
	for _, name := range names {
		c := Class(strings.ToLower(strings.TrimSpace(name)))
		if c == ClassDocument {
			return nil, fmt.Errorf("document requests cannot be blocked")
		}
		if !knownClasses[c] {
			return nil, fmt.Errorf("unknown resource class %q", name)
		}
		p[c] = struct{}{}
	}
	return p, nil
}

// Blocks reports whether requests of class c are aborted. Documents are never blocked.
func (p Policy) Blocks(c Class) bool {
	if c == ClassDocument {
		return false
	}
	_, ok := p[c]
	return ok
}

// Predicate returns the policy as a function suitable for a page
func (p Policy) Predicate() Predicate {
	return p.Blocks
}

// Classes returns the blocked classes in sorted order
func (p Policy) Classes() []Class {
	out := make([]Class, 0, len(p))
	for c := range p {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Table maps each operation to its policy
type Table map[models.OperationType]Policy

// DefaultTable is the stock policy set. Text operations drop everything
// visual; screenshot and pdf keep images, fonts and stylesheets for fidelity
// and only drop audio/video.
func DefaultTable() Table {
	text := []Class{ClassImage, ClassMedia, ClassFont, ClassStylesheet}
	return Table{
		models.OperationContent:    NewPolicy(text...),
		models.OperationMarkdown:   NewPolicy(text...),
		models.OperationLinks:      NewPolicy(text...),
		models.OperationScreenshot: NewPolicy(ClassMedia),
		models.OperationPDF:        NewPolicy(ClassMedia),
	}
}

// For returns the policy for op, or an empty policy if none is configured
func (t Table) For(op models.OperationType) Policy {
	if p, ok := t[op]; ok {
		return p
	}
	return Policy{}
}
