package llm

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"strconv"
	"strings"
)

var moneyKeys = []string{"subtotal", "tax", "total"}

// NormalizeAndSanitizeJSON
// - Strips markdown code fences the model sometimes wraps around JSON
// - Coerces string -> number for money-ish fields
// - Drops null/empty optionals and unknown keys (additionalProperties=false friendliness)
// - Uppercases/defaults the currency code
func NormalizeAndSanitizeJSON(raw []byte, defaultCurrency string, logger *slog.Logger) ([]byte, []string, error) {
	if logger == nil {
		logger = slog.Default()
	}

	cleaned := StripCodeFences(raw)

	var m map[string]any
	if err := json.Unmarshal(cleaned, &m); err != nil {
		return nil, nil, fmt.Errorf("sanitize: decode: %w", err)
	}

	dropped := make([]string, 0, 8)

	// 1) money fields: coerce strings like "50.00" to numbers, drop junk
	for _, k := range moneyKeys {
		coerceAmount(m, k, &dropped)
	}
	if items, ok := m["items"].([]any); ok {
		for _, it := range items {
			if im, ok := it.(map[string]any); ok {
				coerceAmount(im, "quantity", &dropped)
				coerceAmount(im, "unitPrice", &dropped)
				coerceAmount(im, "amount", &dropped)
			}
		}
	}

	// 2) currency: uppercase, default when missing or malformed
	if defaultCurrency == "" {
		defaultCurrency = "USD"
	}
	if v, ok := m["currency"].(string); ok {
		cur := strings.ToUpper(strings.TrimSpace(v))
		if len(cur) != 3 {
			cur = defaultCurrency
			dropped = append(dropped, "currency(malformed)")
		}
		m["currency"] = cur
	} else {
		m["currency"] = defaultCurrency
		dropped = append(dropped, "currency(missing)")
	}

	// 3) total is required by the schema; zero beats absent
	if _, ok := m["total"]; !ok {
		m["total"] = 0.0
		dropped = append(dropped, "total(missing)")
	}

	// 4) drop null / "" optionals, trim strings
	for k, v := range maps.Clone(m) {
		switch t := v.(type) {
		case nil:
			delete(m, k)
			dropped = append(dropped, k+"(null)")
		case string:
			s := strings.TrimSpace(t)
			if s == "" && k != "invoiceNumber" && k != "invoiceDate" {
				delete(m, k)
				dropped = append(dropped, k+"(empty)")
			} else {
				m[k] = s
			}
		}
	}

	// 5) remove unknown keys
	allowed := map[string]struct{}{
		"invoiceNumber": {}, "invoiceDate": {}, "dueDate": {},
		"vendorName": {}, "vendorAddress": {}, "customerName": {}, "customerAddress": {},
		"items": {}, "subtotal": {}, "tax": {}, "total": {},
		"currency": {}, "paymentTerms": {}, "notes": {},
	}
	for k := range maps.Clone(m) {
		if _, ok := allowed[k]; !ok {
			delete(m, k)
			dropped = append(dropped, k+"(unknown)")
		}
	}

	out, err := json.Marshal(m)
	if err != nil {
		return nil, dropped, fmt.Errorf("sanitize: encode: %w", err)
	}
	if len(dropped) > 0 {
		logger.Warn("llm.extract.normalize_sanitize", "dropped", dropped)
	}
	return out, dropped, nil
}

func coerceAmount(m map[string]any, k string, dropped *[]string) {
	v, ok := m[k]
	if !ok {
		return
	}
	switch t := v.(type) {
	case float64:
		// already a number
	case string:
		s := strings.TrimSpace(strings.TrimPrefix(t, "$"))
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			m[k] = f
			*dropped = append(*dropped, k+"(coerced)")
		} else {
			delete(m, k)
			*dropped = append(*dropped, k+"(unparseable)")
		}
	case nil:
		delete(m, k)
		*dropped = append(*dropped, k+"(null)")
	default:
		delete(m, k)
		*dropped = append(*dropped, k+"(type)")
	}
}

// StripCodeFences removes ```json ... ``` wrappers some models emit around
// their JSON payload.
func StripCodeFences(raw []byte) []byte {
	s := strings.TrimSpace(string(raw))
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return []byte(strings.TrimSpace(s))
}
