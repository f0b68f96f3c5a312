package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/ysmood/gson"

	"github.com/shehryarbajwa/renderpool/internal/blocking"
	"github.com/shehryarbajwa/renderpool/pkg/models"
)

// rodHandle adapts a connected *rod.Browser to Handle
type rodHandle struct {
	browser    *rod.Browser
	controlURL string
	cleanup    func()
	closeOnce  sync.Once
	closeErr   error
}

// connect attaches to a browser's CDP endpoint and gives up when ctx ends.
// The returned browser is not bound to ctx, so its event loop outlives the
// launch deadline.
func connect(ctx context.Context, controlURL string) (*rod.Browser, error) {
	b := rod.New().ControlURL(controlURL)
	done := make(chan error, 1)
	go func() { done <- b.Connect() }()

	select {
	case err := <-done:
		if err != nil {
			return nil, err
		}
		return b, nil
	case <-ctx.Done():
		go func() {
			if <-done == nil {
				_ = b.Close()
			}
		}()
		return nil, ctx.Err()
	}
}

func newRodHandle(b *rod.Browser, controlURL string, cleanup func()) *rodHandle {
	return &rodHandle{browser: b, controlURL: controlURL, cleanup: cleanup}
}

func (h *rodHandle) ControlURL() string {
	return h.controlURL
}

func (h *rodHandle) NewPage(ctx context.Context) (Page, error) {
	page, err := h.browser.Context(ctx).Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, fmt.Errorf("failed to create page: %w", err)
	}
	return &rodPage{page: page}, nil
}

func (h *rodHandle) Ping(ctx context.Context) error {
	page, err := h.browser.Context(ctx).Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return fmt.Errorf("cannot create page: %w", err)
	}
	defer closeDetached(page)

	res, err := page.Context(ctx).Eval(`() => 1`)
	if err != nil {
		return fmt.Errorf("cannot evaluate: %w", err)
	}
	if res.Value.Int() != 1 {
		return fmt.Errorf("unexpected probe result %s", res.Value.String())
	}
	return nil
}

func (h *rodHandle) Close() error {
	h.closeOnce.Do(func() {
		done := make(chan error, 1)
		go func() { done <- h.browser.Close() }()

		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		select {
		case h.closeErr = <-done:
		case <-ctx.Done():
			h.closeErr = fmt.Errorf("browser close timed out")
		}

		if h.cleanup != nil {
			h.cleanup()
		}
	})
	return h.closeErr
}

// rodPage adapts *rod.Page to Page
type rodPage struct {
	page   *rod.Page
	router *rod.HijackRouter
}

func (p *rodPage) Block(ctx context.Context, abort blocking.Predicate) error {
	router := p.page.Context(ctx).HijackRequests()
	err := router.Add("*", "", func(h *rod.Hijack) {
		if abort(blocking.ParseClass(string(h.Request.Type()))) {
			h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		h.ContinueRequest(&proto.FetchContinueRequest{})
	})
	if err != nil {
		return fmt.Errorf("failed to install request interceptor: %w", err)
	}
	go router.Run()
	p.router = router
	return nil
}

func (p *rodPage) Navigate(ctx context.Context, url string, wait WaitCondition) (int, error) {
	page := p.page.Context(ctx)

	var mu sync.Mutex
	status := 0
	go page.EachEvent(func(e *proto.NetworkResponseReceived) bool {
		if e.Type != proto.NetworkResourceTypeDocument {
			return false
		}
		mu.Lock()
		status = e.Response.Status
		mu.Unlock()
		return true
	})()

	var waitFn func()
	switch wait {
	case WaitDOMContentLoaded:
		waitFn = page.WaitNavigation(proto.PageLifecycleEventNameDOMContentLoaded)
	case WaitNetworkIdle:
		waitFn = page.WaitNavigation(proto.PageLifecycleEventNameNetworkIdle)
	default:
		waitFn = page.WaitNavigation(proto.PageLifecycleEventNameLoad)
	}

	if err := page.Navigate(url); err != nil {
		var navErr *rod.NavigationError
		if errors.As(err, &navErr) {
			return 0, &NavigationError{Reason: navErr.Reason}
		}
		return 0, err
	}
	waitFn()
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	mu.Lock()
	defer mu.Unlock()
	return status, nil
}

func (p *rodPage) HTML(ctx context.Context) (string, error) {
	return p.page.Context(ctx).HTML()
}

func (p *rodPage) Evaluate(ctx context.Context, js string, out any, args ...any) error {
	res, err := p.page.Context(ctx).Eval(js, args...)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	raw, err := res.Value.MarshalJSON()
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func (p *rodPage) SetViewport(ctx context.Context, v models.Viewport) error {
	scale := v.DeviceScaleFactor
	if scale == 0 {
		scale = 1
	}
	return p.page.Context(ctx).SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             v.Width,
		Height:            v.Height,
		DeviceScaleFactor: scale,
		Mobile:            v.Mobile,
	})
}

func (p *rodPage) Screenshot(ctx context.Context, opts ScreenshotOptions) ([]byte, error) {
	req := &proto.PageCaptureScreenshot{}
	switch opts.Format {
	case "jpeg", "jpg":
		req.Format = proto.PageCaptureScreenshotFormatJpeg
		req.Quality = gson.Int(opts.Quality)
	case "webp":
		req.Format = proto.PageCaptureScreenshotFormatWebp
		req.Quality = gson.Int(opts.Quality)
	default:
		req.Format = proto.PageCaptureScreenshotFormatPng
	}
	return p.page.Context(ctx).Screenshot(opts.FullPage, req)
}

func (p *rodPage) EmulateMedia(ctx context.Context, media string, features map[string]string) error {
	req := proto.EmulationSetEmulatedMedia{Media: media}
	for name, value := range features {
		req.Features = append(req.Features, &proto.EmulationMediaFeature{Name: name, Value: value})
	}
	return req.Call(p.page.Context(ctx))
}

func (p *rodPage) AddStyle(ctx context.Context, css string) error {
	return p.page.Context(ctx).AddStyleTag("", css)
}

func (p *rodPage) WaitFonts(ctx context.Context) error {
	_, err := p.page.Context(ctx).Eval(`() => document.fonts.ready.then(() => true)`)
	return err
}

func (p *rodPage) PDF(ctx context.Context, opts PDFOptions) ([]byte, error) {
	stream, err := p.page.Context(ctx).PDF(&proto.PagePrintToPDF{
		PrintBackground:   opts.PrintBackground,
		PreferCSSPageSize: opts.PreferCSSPageSize,
		MarginTop:         gson.Num(opts.MarginTop),
		MarginBottom:      gson.Num(opts.MarginBottom),
		MarginLeft:        gson.Num(opts.MarginLeft),
		MarginRight:       gson.Num(opts.MarginRight),
	})
	if err != nil {
		return nil, err
	}
	defer stream.Close()
	return io.ReadAll(stream)
}

// Close runs on a fresh context: the job context is often already done when
// the page is torn down, and the tab must still go.
func (p *rodPage) Close() error {
	if p.router != nil {
		_ = p.router.Stop()
	}
	return closeDetached(p.page)
}

func closeDetached(page *rod.Page) error {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	return page.Context(ctx).Close()
}
