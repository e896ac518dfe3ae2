package llm

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// BuildInvoiceJSONSchema returns a JSON-Schema (draft 2020-12 subset) as a
// generic map. We pass this to the model as a structured output constraint
// and also use it locally to validate what comes back.
func BuildInvoiceJSONSchema() map[string]any {
	item := map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"description": map[string]any{"type": "string"},
			"quantity":    amountProp(),
			"unitPrice":   amountProp(),
			"amount":      amountProp(),
		},
	}

	props := map[string]any{
		"invoiceNumber":   map[string]any{"type": "string"},
		"invoiceDate":     map[string]any{"type": "string", "pattern": `^(\d{4}-\d{2}-\d{2})?$`},
		"dueDate":         map[string]any{"type": "string"},
		"vendorName":      map[string]any{"type": "string"},
		"vendorAddress":   map[string]any{"type": "string"},
		"customerName":    map[string]any{"type": "string"},
		"customerAddress": map[string]any{"type": "string"},
		"items":           map[string]any{"type": "array", "items": item},
		"subtotal":        amountProp(),
		"tax":             amountProp(),
		"total":           amountProp(),
		"currency":        map[string]any{"type": "string", "minLength": 3, "maxLength": 3},
		"paymentTerms":    map[string]any{"type": "string"},
		"notes":           map[string]any{"type": "string"},
	}
	required := []string{"total", "currency"}

	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           props,
		"required":             required,
	}
}

func amountProp() map[string]any {
	return map[string]any{"type": "number"}
}

// ValidateJSONAgainstSchema validates "data" against "schemaMap".
func ValidateJSONAgainstSchema(schemaMap map[string]any, data []byte) error {
	b, err := json.Marshal(schemaMap)
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(b)); err != nil {
		return fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("schema.json")
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("unmarshal data: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("json does not match schema: %w", err)
	}
	return nil
}
