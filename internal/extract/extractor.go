package extract

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"context"

	"github.com/docuflow/invoice-pipeline/constants"
)

type Config struct {
	Engine    string // "pdfcpu" (in-process) or "poppler" (pdftotext binary)
	Pdftotext string // binary name or absolute path; if empty -> "pdftotext"
	MaxPages  int    // 0 = no limit
}

// Extractor picks a strategy based on file extension and configured engine.
type Extractor struct {
	cfg    Config
	runner Runner
	logger *slog.Logger
}

func NewExtractor(cfg Config, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Engine == "" {
		cfg.Engine = "pdfcpu"
	}
	if cfg.Pdftotext == "" {
		cfg.Pdftotext = "pdftotext"
	}
	return &Extractor{cfg: cfg, runner: execRunner{}, logger: logger}
}

func (e *Extractor) Extract(ctx context.Context, path string) (TextExtractionResult, error) {
	start := time.Now()
	ext := constants.NormalizeExt(filepath.Ext(path))
	e.logger.Debug("extract.start", "path", path, "ext", ext, "engine", e.cfg.Engine)

	switch constants.MapExtToFormat(ext) {
	case constants.PDF:
		res, err := e.extractPDF(ctx, path)
		res.Duration = time.Since(start)
		return res, err
	case constants.TXT:
		res, err := extractPlainText(path)
		res.Duration = time.Since(start)
		return res, err
	default:
		return TextExtractionResult{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
}

func (e *Extractor) extractPDF(ctx context.Context, path string) (TextExtractionResult, error) {
	if e.cfg.Engine == "poppler" {
		return e.pdfToTextPoppler(ctx, path)
	}
	return extractPDFInProcess(path, e.cfg.MaxPages)
}
