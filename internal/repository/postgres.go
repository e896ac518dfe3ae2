package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/docuflow/invoice-pipeline/constants"
	"github.com/docuflow/invoice-pipeline/internal/common"
	"github.com/docuflow/invoice-pipeline/internal/entity"
	"github.com/docuflow/invoice-pipeline/internal/llm"
)

const pgSchema = `
CREATE TABLE IF NOT EXISTS invoices (
	id            UUID PRIMARY KEY,
	owner_id      TEXT NOT NULL,
	file_name     TEXT NOT NULL,
	file_size     BIGINT NOT NULL DEFAULT 0,
	file_path     TEXT NOT NULL,
	status        TEXT NOT NULL,
	result_json   JSONB,
	raw_text      TEXT,
	error_message TEXT,
	created_at    TIMESTAMPTZ NOT NULL,
	processed_at  TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS invoices_owner_created_idx ON invoices (owner_id, created_at DESC);
CREATE INDEX IF NOT EXISTS invoices_status_idx ON invoices (status);
`

type postgresRepo struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

// NewPostgresRepository wires an InvoiceRepository over a pgx pool and
// ensures the schema exists.
func NewPostgresRepository(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) (InvoiceRepository, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if _, err := pool.Exec(ctx, pgSchema); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return &postgresRepo{pool: pool, log: logger}, nil
}

func (r *postgresRepo) Create(ctx context.Context, inv *entity.Invoice) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO invoices (id, owner_id, file_name, file_size, file_path, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		inv.ID, inv.OwnerID, inv.FileName, inv.FileSize, inv.FilePath, string(inv.Status), inv.CreatedAt,
	)
	if err != nil {
		r.log.Error("invoice create failed", "invoice_id", inv.ID, "err", err)
		return fmt.Errorf("%w: insert invoice: %v", common.ErrDatabase, err)
	}
	r.log.Info("invoice created", "invoice_id", inv.ID, "owner_id", inv.OwnerID)
	return nil
}

func (r *postgresRepo) GetByID(ctx context.Context, id uuid.UUID) (*entity.Invoice, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, owner_id, file_name, file_size, file_path, status,
		       result_json, raw_text, error_message, created_at, processed_at
		FROM invoices WHERE id = $1`, id)
	inv, err := scanInvoice(row.Scan)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: invoice %s", common.ErrNotFound, id)
		}
		return nil, fmt.Errorf("%w: get invoice: %v", common.ErrDatabase, err)
	}
	return inv, nil
}

func (r *postgresRepo) UpdateFields(ctx context.Context, id uuid.UUID, u InvoiceUpdate) error {
	if u.IsEmpty() {
		return nil
	}
	sets := make([]string, 0, 5)
	args := make([]any, 0, 6)
	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if u.Status != nil {
		add("status", string(*u.Status))
	}
	if u.Result != nil {
		b, err := json.Marshal(u.Result)
		if err != nil {
			return fmt.Errorf("marshal result: %w", err)
		}
		add("result_json", b)
	}
	if u.RawText != nil {
		add("raw_text", *u.RawText)
	}
	if u.ErrorMessage != nil {
		add("error_message", *u.ErrorMessage)
	}
	if u.ProcessedAt != nil {
		add("processed_at", *u.ProcessedAt)
	}
	args = append(args, id)
	q := fmt.Sprintf("UPDATE invoices SET %s WHERE id = $%d", strings.Join(sets, ", "), len(args))

	tag, err := r.pool.Exec(ctx, q, args...)
	if err != nil {
		r.log.Error("invoice update failed", "invoice_id", id, "err", err)
		return fmt.Errorf("%w: update invoice: %v", common.ErrDatabase, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: invoice %s", common.ErrNotFound, id)
	}
	return nil
}

func (r *postgresRepo) DeleteByID(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM invoices WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("%w: delete invoice: %v", common.ErrDatabase, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: invoice %s", common.ErrNotFound, id)
	}
	r.log.Info("invoice deleted", "invoice_id", id)
	return nil
}

func (r *postgresRepo) ListByOwner(ctx context.Context, ownerID string) ([]*entity.Invoice, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, owner_id, file_name, file_size, file_path, status,
		       result_json, NULL, error_message, created_at, processed_at
		FROM invoices WHERE owner_id = $1
		ORDER BY created_at DESC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("%w: list invoices: %v", common.ErrDatabase, err)
	}
	defer rows.Close()

	var out []*entity.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("%w: scan invoice: %v", common.ErrDatabase, err)
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

func (r *postgresRepo) CountByStatus(ctx context.Context, status constants.InvoiceStatus) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM invoices WHERE status = $1`, string(status)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("%w: count invoices: %v", common.ErrDatabase, err)
	}
	return n, nil
}

// scanInvoice decodes one row regardless of driver; column order is fixed.
func scanInvoice(scan func(dest ...any) error) (*entity.Invoice, error) {
	var (
		inv        entity.Invoice
		status     string
		resultJSON []byte
	)
	if err := scan(&inv.ID, &inv.OwnerID, &inv.FileName, &inv.FileSize, &inv.FilePath,
		&status, &resultJSON, &inv.RawText, &inv.ErrorMessage, &inv.CreatedAt, &inv.ProcessedAt); err != nil {
		return nil, err
	}
	inv.Status = constants.InvoiceStatus(status)
	if len(resultJSON) > 0 {
		var fields llm.InvoiceFields
		if err := json.Unmarshal(resultJSON, &fields); err != nil {
			return nil, fmt.Errorf("decode result_json: %w", err)
		}
		inv.Result = &fields
	}
	inv.CreatedAt = inv.CreatedAt.UTC()
	if inv.ProcessedAt != nil {
		t := inv.ProcessedAt.UTC()
		inv.ProcessedAt = &t
	}
	return &inv, nil
}
