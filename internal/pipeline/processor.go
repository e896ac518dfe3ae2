package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/docuflow/invoice-pipeline/constants"
	"github.com/docuflow/invoice-pipeline/internal/extract"
	"github.com/docuflow/invoice-pipeline/internal/llm"
	"github.com/docuflow/invoice-pipeline/internal/repository"
)

// Config holds per-stage bounds for the pipeline.
type Config struct {
	TextTimeout     time.Duration // stage 1 bound, default 60s
	FieldTimeout    time.Duration // stage 2 bound, default 45s
	DefaultCurrency string        // currency hint passed to the extractor
}

// Processor drives one record through the two extraction stages and owns
// every status write for that record. Exactly one run exists per record;
// all communication back to callers happens through the repository.
type Processor struct {
	logger *slog.Logger
	cfg    Config
	repo   repository.InvoiceRepository
	text   extract.TextExtractor
	fields llm.FieldExtractor
}

func NewProcessor(logger *slog.Logger, cfg Config, repo repository.InvoiceRepository, text extract.TextExtractor, fields llm.FieldExtractor) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.TextTimeout <= 0 {
		cfg.TextTimeout = 60 * time.Second
	}
	if cfg.FieldTimeout <= 0 {
		cfg.FieldTimeout = 45 * time.Second
	}
	return &Processor{logger: logger, cfg: cfg, repo: repo, text: text, fields: fields}
}

// Process runs the pipeline for one record:
//
//	pending → processing → completed | failed
//
// Text extraction failure is fatal. Field extraction failure substitutes a
// deterministic fallback result and still completes, so a completed record
// always carries a viewable result. Faults in the orchestration itself are
// caught at this level and converted to a best-effort failed transition.
func (p *Processor) Process(ctx context.Context, invoiceID uuid.UUID, path string) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			p.logger.Error("pipeline.panic", "invoice_id", invoiceID, "panic", rec)
			p.markFailed(invoiceID, "internal processing error")
			err = fmt.Errorf("pipeline panic: %v", rec)
		}
	}()

	p.logger.Info("pipeline.start", "invoice_id", invoiceID, "path", path)

	if uerr := p.repo.UpdateFields(ctx, invoiceID, repository.InvoiceUpdate{
		Status: statusPtr(constants.StatusProcessing),
	}); uerr != nil {
		// Nothing was extracted yet; try to fail the record so it is not
		// stuck in pending forever.
		p.logger.Error("pipeline.mark_processing.failed", "invoice_id", invoiceID, "err", uerr)
		p.markFailed(invoiceID, "internal processing error")
		return fmt.Errorf("mark processing: %w", uerr)
	}

	// Stage 1: document -> text. Fatal on failure.
	textCtx, cancelText := context.WithTimeout(ctx, p.cfg.TextTimeout)
	textRes, terr := p.text.Extract(textCtx, path)
	cancelText()
	if terr != nil {
		p.logger.Error("pipeline.text.failed", "invoice_id", invoiceID, "err", terr)
		p.markFailed(invoiceID, terr.Error())
		return fmt.Errorf("text extraction: %w", terr)
	}
	p.logger.Info("pipeline.text.ok",
		"invoice_id", invoiceID,
		"method", textRes.Method,
		"pages", textRes.Pages,
		"text_bytes", len(textRes.Text),
	)

	// Stage 2: text -> fields. Non-fatal; degrade to the fallback result.
	fieldCtx, cancelFields := context.WithTimeout(ctx, p.cfg.FieldTimeout)
	fields, rawJSON, ferr := p.fields.ExtractFields(fieldCtx, llm.ExtractRequest{
		Text:            textRes.Text,
		FilenameHint:    filepath.Base(path),
		DefaultCurrency: p.cfg.DefaultCurrency,
	})
	cancelFields()
	if ferr != nil {
		p.logger.Warn("pipeline.fields.degraded", "invoice_id", invoiceID, "err", ferr)
		fields = llm.Fallback(ferr.Error(), time.Now())
	} else {
		p.logger.Info("pipeline.fields.ok",
			"invoice_id", invoiceID,
			"invoice_number", fields.InvoiceNumber,
			"total", fields.Total,
			"currency", fields.Currency,
		)
		// Audit trail for the extractor's literal output.
		p.logger.Debug("pipeline.fields.payload", "invoice_id", invoiceID, "json", string(rawJSON))
	}

	now := time.Now().UTC()
	if uerr := p.repo.UpdateFields(ctx, invoiceID, repository.InvoiceUpdate{
		Status:      statusPtr(constants.StatusCompleted),
		Result:      &fields,
		RawText:     &textRes.Text,
		ProcessedAt: &now,
	}); uerr != nil {
		p.logger.Error("pipeline.complete.write_failed", "invoice_id", invoiceID, "err", uerr)
		p.markFailed(invoiceID, "failed to persist extraction result")
		return fmt.Errorf("persist result: %w", uerr)
	}

	p.logger.Info("pipeline.done", "invoice_id", invoiceID, "status", constants.StatusCompleted)
	return nil
}

// markFailed performs the best-effort terminal transition to failed. It
// uses a fresh context so a canceled run can still record its failure. If
// even this write fails the record stays in processing and operators must
// reconcile it by hand; there is no automatic retry.
func (p *Processor) markFailed(invoiceID uuid.UUID, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	now := time.Now().UTC()
	if err := p.repo.UpdateFields(ctx, invoiceID, repository.InvoiceUpdate{
		Status:       statusPtr(constants.StatusFailed),
		ErrorMessage: &message,
		ProcessedAt:  &now,
	}); err != nil {
		p.logger.Error("pipeline.reconcile.required",
			"invoice_id", invoiceID,
			"err", err,
			"hint", "record left in processing; resubmit the document",
		)
		return
	}
	p.logger.Warn("pipeline.done", "invoice_id", invoiceID, "status", constants.StatusFailed, "error", message)
}

func statusPtr(s constants.InvoiceStatus) *constants.InvoiceStatus { return &s }
