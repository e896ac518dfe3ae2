package export

import (
	"strconv"
	"time"

	"github.com/docuflow/invoice-pipeline/internal/entity"
)

// Row is one completed record flattened to scalar fields for tabular
// output. Absent numeric fields render as 0, absent strings as empty.
type Row struct {
	FileName      string  `json:"fileName"`
	InvoiceNumber string  `json:"invoiceNumber"`
	InvoiceDate   string  `json:"invoiceDate"`
	DueDate       string  `json:"dueDate"`
	VendorName    string  `json:"vendorName"`
	CustomerName  string  `json:"customerName"`
	Subtotal      float64 `json:"subtotal"`
	Tax           float64 `json:"tax"`
	Total         float64 `json:"total"`
	Currency      string  `json:"currency"`
	ProcessedAt   string  `json:"processedAt"`
}

// Headers is the column order shared by the CSV and XLSX writers.
var Headers = []string{
	"fileName", "invoiceNumber", "invoiceDate", "dueDate",
	"vendorName", "customerName", "subtotal", "tax", "total",
	"currency", "processedAt",
}

// Flatten builds a Row from a completed record. Records without a result
// are skipped by callers; a nil result here yields an all-zero row.
func Flatten(inv *entity.Invoice) Row {
	row := Row{FileName: inv.FileName}
	if inv.ProcessedAt != nil {
		row.ProcessedAt = inv.ProcessedAt.UTC().Format(time.RFC3339)
	}
	if inv.Result == nil {
		return row
	}
	r := inv.Result
	row.InvoiceNumber = r.InvoiceNumber
	row.InvoiceDate = r.InvoiceDate
	row.DueDate = r.DueDate
	row.VendorName = r.VendorName
	row.CustomerName = r.CustomerName
	row.Subtotal = r.Subtotal
	row.Tax = r.Tax
	row.Total = r.Total
	row.Currency = r.Currency
	return row
}

// Record returns the row as CSV-ordered string cells. FormatFloat with -1
// precision round-trips the stored amounts exactly.
func (r Row) Record() []string {
	return []string{
		r.FileName,
		r.InvoiceNumber,
		r.InvoiceDate,
		r.DueDate,
		r.VendorName,
		r.CustomerName,
		strconv.FormatFloat(r.Subtotal, 'f', -1, 64),
		strconv.FormatFloat(r.Tax, 'f', -1, 64),
		strconv.FormatFloat(r.Total, 'f', -1, 64),
		r.Currency,
		r.ProcessedAt,
	}
}

// ParseRecord reconstructs a Row from CSV cells produced by Record.
func ParseRecord(cells []string) (Row, error) {
	var row Row
	if len(cells) != len(Headers) {
		return row, errBadRecord(len(cells))
	}
	row.FileName = cells[0]
	row.InvoiceNumber = cells[1]
	row.InvoiceDate = cells[2]
	row.DueDate = cells[3]
	row.VendorName = cells[4]
	row.CustomerName = cells[5]

	var err error
	if row.Subtotal, err = strconv.ParseFloat(cells[6], 64); err != nil {
		return row, err
	}
	if row.Tax, err = strconv.ParseFloat(cells[7], 64); err != nil {
		return row, err
	}
	if row.Total, err = strconv.ParseFloat(cells[8], 64); err != nil {
		return row, err
	}
	row.Currency = cells[9]
	row.ProcessedAt = cells[10]
	return row, nil
}

type errBadRecord int

func (e errBadRecord) Error() string {
	return "export: record has " + strconv.Itoa(int(e)) + " cells, want " + strconv.Itoa(len(Headers))
}
