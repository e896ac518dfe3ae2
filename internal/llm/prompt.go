package llm

import "strings"

// BuildSystemPrompt composes the system message with currency defaults and
// strict-but-practical formatting rules.
func BuildSystemPrompt(req ExtractRequest) string {
	defCur := strings.TrimSpace(req.DefaultCurrency)
	if defCur == "" {
		defCur = "USD"
	}

	parts := []string{
		"You are an invoice parser. Return ONLY JSON that matches the provided JSON Schema.",
		"Extract invoice number, dates, vendor and customer details, line items, and monetary totals.",
		"Use ISO-8601 dates (YYYY-MM-DD).",
		"Currency must be a 3-letter ISO 4217 code; default to " + defCur + " if uncertain.",
		"All monetary values are plain numbers, no currency symbols or thousands separators.",
		"If a field is not present in the text, use an empty string for text fields and 0 for numbers.",
		"Do not invent values. Do not wrap the JSON in markdown.",
	}
	return strings.Join(parts, " ")
}

// BuildUserPrompt wraps the extracted document text with its filename hint.
func BuildUserPrompt(text, filenameHint string) string {
	var sb strings.Builder
	if filenameHint != "" {
		sb.WriteString("Filename: ")
		sb.WriteString(filenameHint)
		sb.WriteString("\n\n")
	}
	sb.WriteString("Invoice Text:\n")
	sb.WriteString(text)
	return sb.String()
}
