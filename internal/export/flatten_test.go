package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docuflow/invoice-pipeline/constants"
	"github.com/docuflow/invoice-pipeline/internal/entity"
	"github.com/docuflow/invoice-pipeline/internal/llm"
	"github.com/docuflow/invoice-pipeline/internal/repository"
)

func completedInvoice(owner, fileName string, fields llm.InvoiceFields, processedAt time.Time) *entity.Invoice {
	raw := "raw text"
	return &entity.Invoice{
		ID:          uuid.New(),
		OwnerID:     owner,
		FileName:    fileName,
		Status:      constants.StatusCompleted,
		Result:      &fields,
		RawText:     &raw,
		CreatedAt:   processedAt.Add(-time.Minute),
		ProcessedAt: &processedAt,
	}
}

func TestFlattenAbsentNumericsRenderAsZero(t *testing.T) {
	done := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	inv := completedInvoice("o", "a.pdf", llm.InvoiceFields{
		InvoiceNumber: "INV-1",
		Currency:      "USD",
	}, done)

	row := Flatten(inv)
	assert.Equal(t, "a.pdf", row.FileName)
	assert.Equal(t, "INV-1", row.InvoiceNumber)
	assert.Zero(t, row.Subtotal)
	assert.Zero(t, row.Tax)
	assert.Zero(t, row.Total)
	assert.Equal(t, "2025-03-01T12:00:00Z", row.ProcessedAt)
}

func TestRecordRoundTrip(t *testing.T) {
	done := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	inv := completedInvoice("o", "a.pdf", llm.InvoiceFields{
		InvoiceNumber: "INV-42",
		InvoiceDate:   "2025-02-28",
		VendorName:    "Acme, Inc.",
		Subtotal:      45.5,
		Tax:           4.55,
		Total:         50.05,
		Currency:      "EUR",
	}, done)

	row := Flatten(inv)
	back, err := ParseRecord(row.Record())
	require.NoError(t, err)
	assert.Equal(t, row, back)
}

func TestParseRecordRejectsWrongWidth(t *testing.T) {
	_, err := ParseRecord([]string{"just", "three", "cells"})
	require.Error(t, err)
}

func TestExportCSVRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryRepository()
	done := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Create(ctx, completedInvoice("owner-1", "a.pdf", llm.InvoiceFields{
		InvoiceNumber: "123", Total: 50.0, Currency: "USD",
	}, done)))
	// Non-completed records never export.
	require.NoError(t, repo.Create(ctx, &entity.Invoice{
		ID: uuid.New(), OwnerID: "owner-1", FileName: "b.pdf",
		Status: constants.StatusFailed, CreatedAt: done,
	}))

	svc := NewService(repo, nil)
	out, n, err := svc.Export(ctx, "owner-1", FormatCSV)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	records, err := csv.NewReader(bytes.NewReader(out)).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, Headers, records[0])

	row, err := ParseRecord(records[1])
	require.NoError(t, err)
	assert.Equal(t, "123", row.InvoiceNumber)
	assert.Equal(t, 50.0, row.Total)
	assert.Equal(t, "USD", row.Currency)
}

func TestExportJSONOmitsRawText(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryRepository()
	done := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, repo.Create(ctx, completedInvoice("owner-1", "a.pdf", llm.InvoiceFields{
		Total: 9.99, Currency: "USD",
	}, done)))

	svc := NewService(repo, nil)
	out, n, err := svc.Export(ctx, "owner-1", FormatJSON)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	var rows []Row
	require.NoError(t, json.Unmarshal(out, &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, 9.99, rows[0].Total)
	assert.NotContains(t, string(out), "raw text")
}

func TestExportEmptyOwnerYieldsNoBytes(t *testing.T) {
	svc := NewService(repository.NewMemoryRepository(), nil)
	out, n, err := svc.Export(context.Background(), "nobody", FormatCSV)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Nil(t, out)
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{
		"":     FormatJSON,
		"csv":  FormatCSV,
		"json": FormatJSON,
		"xlsx": FormatXLSX,
	} {
		got, err := ParseFormat(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseFormat("pdf")
	require.Error(t, err)
}
