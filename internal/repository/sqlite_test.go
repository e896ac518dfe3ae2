package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docuflow/invoice-pipeline/constants"
	"github.com/docuflow/invoice-pipeline/internal/common"
	"github.com/docuflow/invoice-pipeline/internal/entity"
	"github.com/docuflow/invoice-pipeline/internal/llm"
)

func newSQLiteRepo(t *testing.T) InvoiceRepository {
	t.Helper()
	ctx := context.Background()
	db, err := OpenSQLite(ctx, ":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	repo, err := NewSQLiteRepository(ctx, db, nil)
	require.NoError(t, err)
	return repo
}

func sampleInvoice(owner string, createdAt time.Time) *entity.Invoice {
	return &entity.Invoice{
		ID:        uuid.New(),
		OwnerID:   owner,
		FileName:  "invoice.pdf",
		FileSize:  1234,
		FilePath:  "/uploads/abc.pdf",
		Status:    constants.StatusPending,
		CreatedAt: createdAt,
	}
}

func TestSQLiteCreateAndGet(t *testing.T) {
	repo := newSQLiteRepo(t)
	ctx := context.Background()
	inv := sampleInvoice("owner-1", time.Now().UTC().Truncate(time.Microsecond))

	require.NoError(t, repo.Create(ctx, inv))

	got, err := repo.GetByID(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, inv.ID, got.ID)
	assert.Equal(t, inv.OwnerID, got.OwnerID)
	assert.Equal(t, inv.FileName, got.FileName)
	assert.Equal(t, inv.FileSize, got.FileSize)
	assert.Equal(t, constants.StatusPending, got.Status)
	assert.True(t, got.CreatedAt.Equal(inv.CreatedAt))
	assert.Nil(t, got.Result)
	assert.Nil(t, got.RawText)
	assert.Nil(t, got.ErrorMessage)
	assert.Nil(t, got.ProcessedAt)
}

func TestSQLiteGetUnknownIsNotFound(t *testing.T) {
	repo := newSQLiteRepo(t)
	_, err := repo.GetByID(context.Background(), uuid.New())
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestSQLitePartialUpdate(t *testing.T) {
	repo := newSQLiteRepo(t)
	ctx := context.Background()
	inv := sampleInvoice("owner-1", time.Now().UTC())
	require.NoError(t, repo.Create(ctx, inv))

	// First patch: status only.
	require.NoError(t, repo.UpdateFields(ctx, inv.ID, InvoiceUpdate{
		Status: statusPtr(constants.StatusProcessing),
	}))
	got, err := repo.GetByID(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.StatusProcessing, got.Status)
	assert.Nil(t, got.Result)

	// Second patch: terminal completed write.
	raw := "Invoice #123 Total: 50.00"
	done := time.Now().UTC().Truncate(time.Microsecond)
	fields := llm.InvoiceFields{
		InvoiceNumber: "123",
		Items:         []llm.LineItem{{Description: "widget", Quantity: 2, UnitPrice: 25, Amount: 50}},
		Total:         50.0,
		Currency:      "USD",
	}
	require.NoError(t, repo.UpdateFields(ctx, inv.ID, InvoiceUpdate{
		Status:      statusPtr(constants.StatusCompleted),
		Result:      &fields,
		RawText:     &raw,
		ProcessedAt: &done,
	}))

	got, err = repo.GetByID(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.StatusCompleted, got.Status)
	require.NotNil(t, got.Result)
	assert.Equal(t, fields, *got.Result)
	require.NotNil(t, got.RawText)
	assert.Equal(t, raw, *got.RawText)
	require.NotNil(t, got.ProcessedAt)
	assert.True(t, got.ProcessedAt.Equal(done))

	// Empty patch is a no-op.
	require.NoError(t, repo.UpdateFields(ctx, inv.ID, InvoiceUpdate{}))
}

func TestSQLiteUpdateUnknownIsNotFound(t *testing.T) {
	repo := newSQLiteRepo(t)
	err := repo.UpdateFields(context.Background(), uuid.New(), InvoiceUpdate{
		Status: statusPtr(constants.StatusFailed),
	})
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestSQLiteDelete(t *testing.T) {
	repo := newSQLiteRepo(t)
	ctx := context.Background()
	inv := sampleInvoice("owner-1", time.Now().UTC())
	require.NoError(t, repo.Create(ctx, inv))

	require.NoError(t, repo.DeleteByID(ctx, inv.ID))
	_, err := repo.GetByID(ctx, inv.ID)
	assert.ErrorIs(t, err, common.ErrNotFound)
	assert.ErrorIs(t, repo.DeleteByID(ctx, inv.ID), common.ErrNotFound)
}

func TestSQLiteListByOwnerNewestFirstWithoutRawText(t *testing.T) {
	repo := newSQLiteRepo(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	older := sampleInvoice("owner-1", base)
	newer := sampleInvoice("owner-1", base.Add(time.Hour))
	other := sampleInvoice("owner-2", base)
	for _, inv := range []*entity.Invoice{older, newer, other} {
		require.NoError(t, repo.Create(ctx, inv))
	}

	raw := "raw text"
	require.NoError(t, repo.UpdateFields(ctx, older.ID, InvoiceUpdate{RawText: &raw}))

	out, err := repo.ListByOwner(ctx, "owner-1")
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, newer.ID, out[0].ID)
	assert.Equal(t, older.ID, out[1].ID)
	for _, inv := range out {
		assert.Nil(t, inv.RawText)
	}
}

func TestSQLiteCountByStatus(t *testing.T) {
	repo := newSQLiteRepo(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, repo.Create(ctx, sampleInvoice("owner-1", time.Now().UTC())))
	}
	stuck := sampleInvoice("owner-1", time.Now().UTC())
	require.NoError(t, repo.Create(ctx, stuck))
	require.NoError(t, repo.UpdateFields(ctx, stuck.ID, InvoiceUpdate{
		Status: statusPtr(constants.StatusProcessing),
	}))

	n, err := repo.CountByStatus(ctx, constants.StatusPending)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	n, err = repo.CountByStatus(ctx, constants.StatusProcessing)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func statusPtr(s constants.InvoiceStatus) *constants.InvoiceStatus { return &s }
