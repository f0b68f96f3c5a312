package models

import "time"

// OperationType names one of the extraction pipelines
type OperationType string

const (
	OperationContent    OperationType = "content"
	OperationMarkdown   OperationType = "markdown"
	OperationLinks      OperationType = "links"
	OperationScreenshot OperationType = "screenshot"
	OperationPDF        OperationType = "pdf"
)

// Operations lists every supported operation in a stable order
var Operations = []OperationType{
	OperationContent,
	OperationMarkdown,
	OperationLinks,
	OperationScreenshot,
	OperationPDF,
}

// Valid reports whether op is a known operation
func (op OperationType) Valid() bool {
	for _, known := range Operations {
		if op == known {
			return true
		}
	}
	return false
}

// Binary reports whether the operation produces a binary artifact
func (op OperationType) Binary() bool {
	return op == OperationScreenshot || op == OperationPDF
}

// Viewport describes the emulated device metrics for a page
type Viewport struct {
	Width             int     `json:"width"`
	Height            int     `json:"height"`
	DeviceScaleFactor float64 `json:"deviceScaleFactor,omitempty"`
	Mobile            bool    `json:"mobile,omitempty"`
}

// Artifact encodings
const (
	EncodingBase64 = "base64"
	EncodingBinary = "binary"
)

// ExtractionJob is the unit of work submitted to an allocated session
type ExtractionJob struct {
	Operation  OperationType `json:"operation"`
	URL        string        `json:"url"`
	WaitTimeMs int           `json:"waitTime,omitempty"`

	// content / markdown
	Selector string `json:"selector,omitempty"`

	// links
	VisibleLinksOnly bool `json:"visibleLinksOnly,omitempty"`

	// screenshot
	Viewport *Viewport `json:"viewport,omitempty"`
	Device   string    `json:"device,omitempty"`
	FullPage bool      `json:"fullPage,omitempty"`
	Format   string    `json:"format,omitempty"`
	Quality  int       `json:"quality,omitempty"`

	// screenshot / pdf
	Store    bool   `json:"store,omitempty"`
	Encoding string `json:"encoding,omitempty"`
}

// Metadata always carries url and timestamp; the rest depends on the operation
type Metadata struct {
	URL           string    `json:"url"`
	Timestamp     time.Time `json:"timestamp"`
	StatusCode    int       `json:"statusCode,omitempty"`
	Attempts      int       `json:"attempts,omitempty"`
	Title         string    `json:"title,omitempty"`
	WordCount     int       `json:"wordCount,omitempty"`
	TotalLinks    int       `json:"totalLinks,omitempty"`
	InternalLinks int       `json:"internalLinks,omitempty"`
	ExternalLinks int       `json:"externalLinks,omitempty"`
	ByteSize      int       `json:"byteSize,omitempty"`
	ContentType   string    `json:"contentType,omitempty"`
	Format        string    `json:"format,omitempty"`
	StorageRef    string    `json:"storageRef,omitempty"`
	SessionID     string    `json:"sessionId,omitempty"`
	Fallback      bool      `json:"fallback,omitempty"`
}

// Link is one anchor found by the links operation
type Link struct {
	URL      string `json:"url"`
	Href     string `json:"href"`
	Text     string `json:"text,omitempty"`
	Internal bool   `json:"internal"`
}

// ExtractionResult is either a success carrying data and a nonzero cost or a
// failure carrying a message and zero cost
type ExtractionResult struct {
	Success     bool      `json:"success"`
	Data        any       `json:"data,omitempty"`
	Metadata    *Metadata `json:"metadata,omitempty"`
	CreditsCost int       `json:"creditsCost"`
	Error       string    `json:"error,omitempty"`
	Retryable   bool      `json:"retryable,omitempty"`

	// Artifact holds the raw bytes of a binary result for callers that
	// asked for binary encoding. It is never serialized.
	Artifact []byte `json:"-"`
}

// Succeeded builds a success result
func Succeeded(data any, meta *Metadata, cost int) ExtractionResult {
	return ExtractionResult{
		Success:     true,
		Data:        data,
		Metadata:    meta,
		CreditsCost: cost,
	}
}

// Failed builds a failure result; callers are never charged for failures
func Failed(message string, retryable bool) ExtractionResult {
	return ExtractionResult{
		Success:     false,
		Error:       message,
		CreditsCost: 0,
		Retryable:   retryable,
	}
}
