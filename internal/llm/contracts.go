package llm

import (
	"context"
	"errors"
)

// Typed failure classes for the field-extraction stage. The pipeline treats
// every one of them as recoverable: text that already extracted is never
// thrown away because the model misbehaved.
var (
	ErrServiceError    = errors.New("field extraction service error")
	ErrMalformedOutput = errors.New("malformed field extraction output")
)

// LineItem is one billed row on an invoice.
type LineItem struct {
	Description string  `json:"description"`
	Quantity    float64 `json:"quantity"`
	UnitPrice   float64 `json:"unitPrice"`
	Amount      float64 `json:"amount"`
}

// InvoiceFields is the normalized shape we want from the LLM.
// Absent fields stay zero-valued rather than failing extraction.
type InvoiceFields struct {
	InvoiceNumber   string     `json:"invoiceNumber"`
	InvoiceDate     string     `json:"invoiceDate"` // YYYY-MM-DD
	DueDate         string     `json:"dueDate,omitempty"`
	VendorName      string     `json:"vendorName"`
	VendorAddress   string     `json:"vendorAddress,omitempty"`
	CustomerName    string     `json:"customerName"`
	CustomerAddress string     `json:"customerAddress,omitempty"`
	Items           []LineItem `json:"items"`
	Subtotal        float64    `json:"subtotal"`
	Tax             float64    `json:"tax"`
	Total           float64    `json:"total"`
	Currency        string     `json:"currency"` // ISO 4217
	PaymentTerms    string     `json:"paymentTerms,omitempty"`
	Notes           string     `json:"notes,omitempty"`
}

// ExtractRequest carries the document text plus hints for the extractor.
type ExtractRequest struct {
	Text            string
	FilenameHint    string
	DefaultCurrency string
}

// FieldExtractor is Stage 2: text -> structured invoice fields.
type FieldExtractor interface {
	ExtractFields(ctx context.Context, req ExtractRequest) (InvoiceFields, []byte /*rawJSON*/, error)
}
