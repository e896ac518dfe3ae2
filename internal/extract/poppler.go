package extract

import (
	"context"
	"fmt"
	"strings"

	"github.com/docuflow/invoice-pipeline/constants"
)

// pdfToTextPoppler shells out to pdftotext for PDFs whose embedded text the
// in-process parser cannot handle well (operator sequences vary by producer).
func (e *Extractor) pdfToTextPoppler(ctx context.Context, path string) (TextExtractionResult, error) {
	// pdftotext -layout -enc UTF-8 -eol unix <path> -
	out, errb, err := e.runner.Run(ctx, e.cfg.Pdftotext, "-layout", "-enc", "UTF-8", "-eol", "unix", path, "-")
	if err != nil {
		return TextExtractionResult{SourceType: constants.PDF, Warnings: []string{string(errb)}},
			fmt.Errorf("%w: pdftotext: %v", ErrUnreadable, err)
	}

	text := strings.TrimRight(string(out), "\f\n")
	if strings.TrimSpace(text) == "" {
		return TextExtractionResult{SourceType: constants.PDF},
			fmt.Errorf("%w: pdftotext produced no text", ErrUnreadable)
	}

	// A form-feed \f is used as page separator by default.
	pages := 1 + strings.Count(string(out), "\f")
	if strings.HasSuffix(string(out), "\f") {
		pages--
	}
	if pages < 1 {
		pages = 1
	}

	return TextExtractionResult{
		Text:       text,
		Pages:      pages,
		SourceType: constants.PDF,
		Method:     "pdf-poppler",
	}, nil
}
