package extract

import (
	"context"
	"fmt"

	"github.com/shehryarbajwa/renderpool/internal/browser"
	"github.com/shehryarbajwa/renderpool/pkg/models"
)

const (
	contentTypePDF = "application/pdf"

	// printColorCSS makes the browser print background colors and images
	printColorCSS = `* { -webkit-print-color-adjust: exact !important; print-color-adjust: exact !important; }`

	pdfMarginInches = 0.4
)

type pdfPipeline struct {
	*loader
}

func (p *pdfPipeline) Operation() models.OperationType { return models.OperationPDF }

func (p *pdfPipeline) Run(ctx context.Context, page browser.Page, job models.ExtractionJob) (*Output, error) {
	nav, err := p.load(ctx, page, job)
	if err != nil {
		return nil, err
	}

	if err := page.EmulateMedia(ctx, "print", map[string]string{"prefers-reduced-motion": "reduce"}); err != nil {
		return nil, fmt.Errorf("emulate print media: %w", err)
	}
	if err := page.AddStyle(ctx, printColorCSS); err != nil {
		return nil, fmt.Errorf("inject print styles: %w", err)
	}
	if err := page.WaitFonts(ctx); err != nil {
		return nil, fmt.Errorf("wait for fonts: %w", err)
	}

	doc, err := page.PDF(ctx, browser.PDFOptions{
		MarginTop:         pdfMarginInches,
		MarginBottom:      pdfMarginInches,
		MarginLeft:        pdfMarginInches,
		MarginRight:       pdfMarginInches,
		PrintBackground:   true,
		PreferCSSPageSize: true,
	})
	if err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}

	meta := baseMeta(job, nav)
	meta.Format = "pdf"
	meta.ByteSize = len(doc)
	meta.ContentType = contentTypePDF

	return &Output{Artifact: doc, ContentType: contentTypePDF, Meta: meta}, nil
}
