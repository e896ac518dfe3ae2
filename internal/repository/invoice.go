package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/docuflow/invoice-pipeline/constants"
	"github.com/docuflow/invoice-pipeline/internal/entity"
	"github.com/docuflow/invoice-pipeline/internal/llm"
)

// InvoiceUpdate is a partial, field-level patch. Nil pointers leave the
// column untouched; the whole patch is applied in a single statement.
type InvoiceUpdate struct {
	Status       *constants.InvoiceStatus
	Result       *llm.InvoiceFields
	RawText      *string
	ErrorMessage *string
	ProcessedAt  *time.Time
}

// IsEmpty reports whether the patch would change nothing.
func (u InvoiceUpdate) IsEmpty() bool {
	return u.Status == nil && u.Result == nil && u.RawText == nil &&
		u.ErrorMessage == nil && u.ProcessedAt == nil
}

// InvoiceRepository is the durable keyed store for processing records.
type InvoiceRepository interface {
	Create(ctx context.Context, inv *entity.Invoice) error
	GetByID(ctx context.Context, id uuid.UUID) (*entity.Invoice, error)
	UpdateFields(ctx context.Context, id uuid.UUID, u InvoiceUpdate) error
	DeleteByID(ctx context.Context, id uuid.UUID) error
	// ListByOwner returns the owner's records newest-first with RawText
	// omitted per record.
	ListByOwner(ctx context.Context, ownerID string) ([]*entity.Invoice, error)
	// CountByStatus supports the startup stuck-record report.
	CountByStatus(ctx context.Context, status constants.InvoiceStatus) (int, error)
}
