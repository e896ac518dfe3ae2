package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/docuflow/invoice-pipeline/constants"
	"github.com/docuflow/invoice-pipeline/internal/llm"
)

// Invoice is the processing record tracking one submitted document's
// lifecycle. Mutated only by its own pipeline run after creation.
type Invoice struct {
	ID       uuid.UUID `json:"id"`
	OwnerID  string    `json:"ownerId"`
	FileName string    `json:"fileName"`
	FileSize int64     `json:"fileSize"`
	FilePath string    `json:"filePath"` // reference to the stored source document

	Status constants.InvoiceStatus `json:"status"`

	// Result is present iff Status == completed.
	Result *llm.InvoiceFields `json:"result,omitempty"`
	// RawText retains the stage-1 output for audit; omitted from listings.
	RawText *string `json:"rawText,omitempty"`
	// ErrorMessage is present iff Status == failed.
	ErrorMessage *string `json:"errorMessage,omitempty"`

	CreatedAt   time.Time  `json:"createdAt"`
	ProcessedAt *time.Time `json:"processedAt,omitempty"`
}

// ForListing returns a copy safe to include in bulk views: the raw text is
// dropped for size reasons, everything else is kept.
func (inv *Invoice) ForListing() *Invoice {
	cp := *inv
	cp.RawText = nil
	return &cp
}
