package extract

import (
	"context"
	"errors"
	"time"
)

// Typed failure classes for the text-extraction stage. Any error here is
// fatal to the pipeline run: without text there is nothing to parse.
var (
	ErrUnreadable        = errors.New("document unreadable")
	ErrUnsupportedFormat = errors.New("unsupported document format")
)

// TextExtractionResult is Stage 1 output: raw document text plus metadata.
type TextExtractionResult struct {
	Text       string
	Pages      int
	SourceType string // constants.PDF | constants.TXT
	Method     string // "pdf-text" | "pdf-poppler" | "txt"
	Duration   time.Duration
	Warnings   []string
}

// TextExtractor is Stage 1: file -> text.
type TextExtractor interface {
	Extract(ctx context.Context, path string) (TextExtractionResult, error)
}
