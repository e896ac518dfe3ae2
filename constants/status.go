package constants

// InvoiceStatus is the canonical lifecycle state for rows in invoices.
type InvoiceStatus string

// Stable values (store these exact strings in DB).
const (
	StatusPending    InvoiceStatus = "pending"    // record created, pipeline not started
	StatusProcessing InvoiceStatus = "processing" // pipeline run in progress
	StatusCompleted  InvoiceStatus = "completed"  // terminal: result present
	StatusFailed     InvoiceStatus = "failed"     // terminal: error_message present
)

// IsTerminal reports whether s is one of the two terminal states.
func (s InvoiceStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}
