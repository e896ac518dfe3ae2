package llm

import (
	"fmt"
	"time"
)

// Fallback builds the deterministic degraded result substituted when field
// extraction fails after text extraction has already succeeded. Pure
// function of the failure reason and clock so the degrade policy is
// testable in isolation.
//
// Every structured field is empty or zero; the record still completes so
// downstream consumers always get a viewable result.
func Fallback(reason string, now time.Time) InvoiceFields {
	return InvoiceFields{
		InvoiceDate: now.UTC().Format("2006-01-02"),
		Items:       []LineItem{},
		Currency:    "USD",
		Notes:       fmt.Sprintf("Automatic field extraction failed; manual review required. Reason: %s", reason),
	}
}
