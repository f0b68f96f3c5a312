package extract

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/shehryarbajwa/renderpool/pkg/models"
)

// Validate checks a job before it touches the pool and fills in defaults.
// Every error wraps ErrInvalidJob or ErrInvalidSelector.
func Validate(job *models.ExtractionJob, maxWait time.Duration) error {
	if !job.Operation.Valid() {
		return fmt.Errorf("%w: unknown operation %q", ErrInvalidJob, job.Operation)
	}

	u, err := url.Parse(strings.TrimSpace(job.URL))
	if err != nil {
		return fmt.Errorf("%w: url: %v", ErrInvalidJob, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: url must be absolute http(s), got %q", ErrInvalidJob, job.URL)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: url has no host", ErrInvalidJob)
	}
	job.URL = u.String()

	maxWaitMs := int(maxWait / time.Millisecond)
	if job.WaitTimeMs < 0 || job.WaitTimeMs > maxWaitMs {
		return fmt.Errorf("%w: waitTime must be between 0 and %d ms", ErrInvalidJob, maxWaitMs)
	}

	if job.Selector != "" {
		if job.Operation != models.OperationContent && job.Operation != models.OperationMarkdown {
			return fmt.Errorf("%w: selector is only supported for content and markdown", ErrInvalidJob)
		}
		if _, err := compileSelector(job.Selector); err != nil {
			return err
		}
	}

	switch job.Encoding {
	case "", models.EncodingBase64, models.EncodingBinary:
	default:
		return fmt.Errorf("%w: unknown encoding %q", ErrInvalidJob, job.Encoding)
	}

	if job.Operation == models.OperationScreenshot {
		return validateScreenshot(job)
	}
	return nil
}

func validateScreenshot(job *models.ExtractionJob) error {
	format := strings.ToLower(job.Format)
	if format == "jpg" {
		format = FormatJPEG
	}
	if format == "" {
		format = FormatPNG
	}
	if _, ok := imageContentTypes[format]; !ok {
		return fmt.Errorf("%w: unsupported format %q", ErrInvalidJob, job.Format)
	}
	job.Format = format

	if job.Quality != 0 {
		if format == FormatPNG {
			return fmt.Errorf("%w: quality is not supported for png", ErrInvalidJob)
		}
		if job.Quality < 1 || job.Quality > 100 {
			return fmt.Errorf("%w: quality must be between 1 and 100", ErrInvalidJob)
		}
	}

	if job.Device != "" {
		if _, ok := devicePresets[job.Device]; !ok {
			return fmt.Errorf("%w: unknown device %q", ErrInvalidJob, job.Device)
		}
	}
	if v := job.Viewport; v != nil {
		if v.Width < 1 || v.Height < 1 || v.Width > maxViewportDim || v.Height > maxViewportDim {
			return fmt.Errorf("%w: viewport must be between 1x1 and %dx%d", ErrInvalidJob, maxViewportDim, maxViewportDim)
		}
		if v.DeviceScaleFactor < 0 || v.DeviceScaleFactor > 4 {
			return fmt.Errorf("%w: deviceScaleFactor must be between 0 and 4", ErrInvalidJob)
		}
	}
	return nil
}
