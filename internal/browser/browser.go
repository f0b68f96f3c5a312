// Package browser wraps the headless browser driver behind small interfaces so
// the pool and the pipelines never hold a raw driver handle.
package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/shehryarbajwa/renderpool/internal/blocking"
	"github.com/shehryarbajwa/renderpool/pkg/models"
)

// Launcher starts browser processes
type Launcher interface {
	Launch(ctx context.Context, sessionID string) (Handle, error)
}

// Handle is one running browser process
type Handle interface {
	// ControlURL is the CDP endpoint external callers attach to
	ControlURL() string
	NewPage(ctx context.Context) (Page, error)
	// Ping evaluates a no-op expression in a scratch page
	Ping(ctx context.Context) error
	Close() error
}

// WaitCondition is the "ready" event a navigation waits for
type WaitCondition string

const (
	WaitDOMContentLoaded WaitCondition = "domcontentloaded"
	WaitLoad             WaitCondition = "load"
	WaitNetworkIdle      WaitCondition = "networkidle"
)

// ParseWaitCondition validates a configured wait condition
func ParseWaitCondition(s string) (WaitCondition, error) {
	switch w := WaitCondition(s); w {
	case WaitDOMContentLoaded, WaitLoad, WaitNetworkIdle:
		return w, nil
	case "":
		return WaitLoad, nil
	default:
		return "", fmt.Errorf("unknown wait condition %q", s)
	}
}

// ScreenshotOptions controls image capture
type ScreenshotOptions struct {
	Format   string
	Quality  int
	FullPage bool
}

// PDFOptions controls print rendering. Margins are in inches.
type PDFOptions struct {
	MarginTop         float64
	MarginBottom      float64
	MarginLeft        float64
	MarginRight       float64
	PrintBackground   bool
	PreferCSSPageSize bool
}

// Page is a single tab inside a Handle
type Page interface {
	// Block installs an interceptor aborting every request whose class matches
	Block(ctx context.Context, abort blocking.Predicate) error
	// Navigate loads url and waits for the condition; it returns the HTTP
	// status of the main document when the browser reported one
	Navigate(ctx context.Context, url string, wait WaitCondition) (int, error)
	HTML(ctx context.Context) (string, error)
	// Evaluate runs a JS function and decodes its JSON result into out
	Evaluate(ctx context.Context, js string, out any, args ...any) error
	SetViewport(ctx context.Context, v models.Viewport) error
	Screenshot(ctx context.Context, opts ScreenshotOptions) ([]byte, error)
	EmulateMedia(ctx context.Context, media string, features map[string]string) error
	AddStyle(ctx context.Context, css string) error
	WaitFonts(ctx context.Context) error
	PDF(ctx context.Context, opts PDFOptions) ([]byte, error)
	Close() error
}

// NavigationError carries the browser's net error code for a failed load
type NavigationError struct {
	Reason string
}

func (e *NavigationError) Error() string {
	return "navigation failed: " + e.Reason
}

// Defaults shared by launchers
const (
	DefaultLaunchTimeout = 10 * time.Second
	closeTimeout         = 10 * time.Second
)
