package extract

import (
	"context"
	"fmt"

	"github.com/shehryarbajwa/renderpool/internal/browser"
	"github.com/shehryarbajwa/renderpool/pkg/models"
)

// Device presets for screenshots
const (
	DeviceDesktop = "desktop"
	DeviceMobile  = "mobile"
)

var devicePresets = map[string]models.Viewport{
	DeviceDesktop: {Width: 1920, Height: 1080, DeviceScaleFactor: 1},
	DeviceMobile:  {Width: 390, Height: 844, DeviceScaleFactor: 3, Mobile: true},
}

// Image formats
const (
	FormatPNG  = "png"
	FormatJPEG = "jpeg"
	FormatWEBP = "webp"

	defaultQuality = 80
	maxViewportDim = 7680
)

var imageContentTypes = map[string]string{
	FormatPNG:  "image/png",
	FormatJPEG: "image/jpeg",
	FormatWEBP: "image/webp",
}

// viewportFor returns the explicit viewport or the device preset
func viewportFor(job models.ExtractionJob) models.Viewport {
	if job.Viewport != nil {
		v := *job.Viewport
		if v.DeviceScaleFactor == 0 {
			v.DeviceScaleFactor = 1
		}
		return v
	}
	if v, ok := devicePresets[job.Device]; ok {
		return v
	}
	return devicePresets[DeviceDesktop]
}

type screenshotPipeline struct {
	*loader
}

func (p *screenshotPipeline) Operation() models.OperationType { return models.OperationScreenshot }

func (p *screenshotPipeline) Run(ctx context.Context, page browser.Page, job models.ExtractionJob) (*Output, error) {
	viewport := viewportFor(job)
	if err := page.SetViewport(ctx, viewport); err != nil {
		return nil, fmt.Errorf("set viewport: %w", err)
	}

	nav, err := p.load(ctx, page, job)
	if err != nil {
		return nil, err
	}

	format := job.Format
	if format == "" {
		format = FormatPNG
	}
	opts := browser.ScreenshotOptions{Format: format, FullPage: job.FullPage}
	if format != FormatPNG {
		opts.Quality = job.Quality
		if opts.Quality == 0 {
			opts.Quality = defaultQuality
		}
	}

	img, err := page.Screenshot(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("capture screenshot: %w", err)
	}

	meta := baseMeta(job, nav)
	meta.Format = format
	meta.ByteSize = len(img)
	meta.ContentType = imageContentTypes[format]

	return &Output{Artifact: img, ContentType: meta.ContentType, Meta: meta}, nil
}
