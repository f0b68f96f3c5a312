// Package browsertest provides scriptable in-memory browsers for tests.
package browsertest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shehryarbajwa/renderpool/internal/blocking"
	"github.com/shehryarbajwa/renderpool/internal/browser"
	"github.com/shehryarbajwa/renderpool/pkg/models"
)

// ErrLaunch is returned by FakeLauncher when a launch is scripted to fail
var ErrLaunch = errors.New("fake launch failure")

// Launcher hands out FakeHandles. Configure fields before use.
type Launcher struct {
	mu sync.Mutex

	// FailNext makes the next N launches fail
	FailNext int
	// Delay is applied to every launch
	Delay time.Duration
	// NewPage builds the page returned by every handle; nil gives a blank page
	NewPage func() *Page

	handles  []*Handle
	launches int
}

var _ browser.Launcher = (*Launcher)(nil)

// Launch implements browser.Launcher
func (l *Launcher) Launch(ctx context.Context, sessionID string) (browser.Handle, error) {
	l.mu.Lock()
	l.launches++
	if l.FailNext > 0 {
		l.FailNext--
		l.mu.Unlock()
		return nil, ErrLaunch
	}
	delay := l.Delay
	l.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	h := &Handle{
		url:     fmt.Sprintf("ws://fake/%s", sessionID),
		newPage: l.NewPage,
	}

	l.mu.Lock()
	l.handles = append(l.handles, h)
	l.mu.Unlock()
	return h, nil
}

// Launches returns the number of launch attempts, failed ones included
func (l *Launcher) Launches() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.launches
}

// Handles returns every successfully launched handle
func (l *Launcher) Handles() []*Handle {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*Handle(nil), l.handles...)
}

// Closed counts handles that have been closed
func (l *Launcher) Closed() int {
	n := 0
	for _, h := range l.Handles() {
		if h.IsClosed() {
			n++
		}
	}
	return n
}

// SetFailNext scripts the next n launches to fail
func (l *Launcher) SetFailNext(n int) {
	l.mu.Lock()
	l.FailNext = n
	l.mu.Unlock()
}

// Handle is a fake browser process
type Handle struct {
	mu      sync.Mutex
	url     string
	newPage func() *Page
	pingErr error
	closed  bool
	pages   []*Page
}

var _ browser.Handle = (*Handle)(nil)

func (h *Handle) ControlURL() string { return h.url }

func (h *Handle) NewPage(ctx context.Context) (browser.Page, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, errors.New("browser closed")
	}
	var p *Page
	if h.newPage != nil {
		p = h.newPage()
	} else {
		p = &Page{}
	}
	h.pages = append(h.pages, p)
	return p, nil
}

func (h *Handle) Ping(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return errors.New("browser closed")
	}
	return h.pingErr
}

func (h *Handle) Close() error {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
	return nil
}

// FailPing makes subsequent health probes fail with err
func (h *Handle) FailPing(err error) {
	h.mu.Lock()
	h.pingErr = err
	h.mu.Unlock()
}

// IsClosed reports whether Close was called
func (h *Handle) IsClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// Pages returns every page opened on this handle
func (h *Handle) Pages() []*Page {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*Page(nil), h.pages...)
}

// Page is a scripted tab. Fields above the blank line are inputs, the rest
// are observations.
type Page struct {
	mu sync.Mutex

	Document       string
	Status         int
	NavErrors      []error
	NavigateDelay  time.Duration
	Resources      []blocking.Class
	EvalResult     any
	EvalErr        error
	ScreenshotData []byte
	PDFData        []byte

	Navigations    []string
	WaitConditions []browser.WaitCondition
	Requested      map[blocking.Class]int
	Aborted        map[blocking.Class]int
	Viewport       *models.Viewport
	ScreenshotOpts *browser.ScreenshotOptions
	Media          string
	MediaFeatures  map[string]string
	Styles         []string
	FontsAwaited   bool
	PDFOpts        *browser.PDFOptions
	EvalArgs       [][]any
	NavigatedAt    time.Time
	Closed         bool

	abort blocking.Predicate
}

var _ browser.Page = (*Page)(nil)

func (p *Page) Block(ctx context.Context, abort blocking.Predicate) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.abort = abort
	return nil
}

func (p *Page) Navigate(ctx context.Context, url string, wait browser.WaitCondition) (int, error) {
	p.mu.Lock()
	attempt := len(p.Navigations)
	p.Navigations = append(p.Navigations, url)
	p.WaitConditions = append(p.WaitConditions, wait)
	p.NavigatedAt = time.Now()
	delay := p.NavigateDelay
	var err error
	if attempt < len(p.NavErrors) {
		err = p.NavErrors[attempt]
	}
	p.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	if err != nil {
		return 0, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Requested == nil {
		p.Requested = map[blocking.Class]int{}
		p.Aborted = map[blocking.Class]int{}
	}
	for _, c := range p.Resources {
		if p.abort != nil && p.abort(c) {
			p.Aborted[c]++
			continue
		}
		p.Requested[c]++
	}

	if p.Status == 0 {
		return 200, nil
	}
	return p.Status, nil
}

func (p *Page) HTML(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Document, nil
}

func (p *Page) Evaluate(ctx context.Context, js string, out any, args ...any) error {
	p.mu.Lock()
	p.EvalArgs = append(p.EvalArgs, args)
	result, err := p.EvalResult, p.EvalErr
	p.mu.Unlock()

	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func (p *Page) SetViewport(ctx context.Context, v models.Viewport) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Viewport = &v
	return nil
}

func (p *Page) Screenshot(ctx context.Context, opts browser.ScreenshotOptions) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ScreenshotOpts = &opts
	if p.ScreenshotData == nil {
		return []byte("fake-image"), nil
	}
	return p.ScreenshotData, nil
}

func (p *Page) EmulateMedia(ctx context.Context, media string, features map[string]string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Media = media
	p.MediaFeatures = features
	return nil
}

func (p *Page) AddStyle(ctx context.Context, css string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Styles = append(p.Styles, css)
	return nil
}

func (p *Page) WaitFonts(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.FontsAwaited = true
	return nil
}

func (p *Page) PDF(ctx context.Context, opts browser.PDFOptions) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.PDFOpts = &opts
	if p.PDFData == nil {
		return []byte("%PDF-1.4 fake"), nil
	}
	return p.PDFData, nil
}

func (p *Page) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Closed = true
	return nil
}

// Attempts returns how many times Navigate was called
func (p *Page) Attempts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Navigations)
}
