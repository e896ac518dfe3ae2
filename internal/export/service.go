package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/docuflow/invoice-pipeline/constants"
	"github.com/docuflow/invoice-pipeline/internal/repository"
)

// Format selects the export encoding.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
	FormatXLSX Format = "xlsx"
)

// ParseFormat validates a format query value; empty defaults to JSON.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case "":
		return FormatJSON, nil
	case FormatCSV, FormatJSON, FormatXLSX:
		return Format(s), nil
	default:
		return "", fmt.Errorf("unknown export format %q", s)
	}
}

// ContentType returns the response content type for the format.
func (f Format) ContentType() string {
	switch f {
	case FormatCSV:
		return "text/csv"
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		return "application/json"
	}
}

// Service flattens an owner's completed records into tabular output.
type Service struct {
	repo   repository.InvoiceRepository
	logger *slog.Logger
}

func NewService(repo repository.InvoiceRepository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, logger: logger}
}

// Export returns encoded bytes for all of the owner's completed records.
// Returns (nil, 0, nil) when the owner has nothing completed.
func (s *Service) Export(ctx context.Context, ownerID string, format Format) ([]byte, int, error) {
	start := time.Now()

	invoices, err := s.repo.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, 0, fmt.Errorf("list invoices: %w", err)
	}

	rows := make([]Row, 0, len(invoices))
	for _, inv := range invoices {
		if inv.Status != constants.StatusCompleted {
			continue
		}
		rows = append(rows, Flatten(inv))
	}
	if len(rows) == 0 {
		return nil, 0, nil
	}

	var out []byte
	switch format {
	case FormatCSV:
		out, err = encodeCSV(rows)
	case FormatXLSX:
		out, err = encodeXLSX(rows)
	default:
		out, err = json.Marshal(rows)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("encode %s: %w", format, err)
	}

	s.logger.Info("export.ok",
		"owner_id", ownerID,
		"format", format,
		"rows", len(rows),
		"bytes", len(out),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return out, len(rows), nil
}

func encodeCSV(rows []Row) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(Headers); err != nil {
		return nil, err
	}
	for _, row := range rows {
		if err := w.Write(row.Record()); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

func encodeXLSX(rows []Row) ([]byte, error) {
	f := excelize.NewFile()
	const sheet = "Invoices"
	idx, err := f.NewSheet(sheet)
	if err != nil {
		return nil, err
	}
	f.SetActiveSheet(idx)
	if defaultSheet := f.GetSheetName(0); defaultSheet != sheet {
		_ = f.DeleteSheet(defaultSheet)
	}

	for i, h := range Headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(sheet, cell, h); err != nil {
			return nil, err
		}
	}
	for rowIdx, row := range rows {
		for colIdx, v := range row.Record() {
			cell, _ := excelize.CoordinatesToCellName(colIdx+1, rowIdx+2)
			if err := f.SetCellValue(sheet, cell, v); err != nil {
				return nil, err
			}
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
