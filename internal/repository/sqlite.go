package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/docuflow/invoice-pipeline/constants"
	"github.com/docuflow/invoice-pipeline/internal/common"
	"github.com/docuflow/invoice-pipeline/internal/entity"
	"github.com/docuflow/invoice-pipeline/internal/llm"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS invoices (
	id            TEXT PRIMARY KEY,
	owner_id      TEXT NOT NULL,
	file_name     TEXT NOT NULL,
	file_size     INTEGER NOT NULL DEFAULT 0,
	file_path     TEXT NOT NULL,
	status        TEXT NOT NULL,
	result_json   TEXT,
	raw_text      TEXT,
	error_message TEXT,
	created_at    TEXT NOT NULL,
	processed_at  TEXT
);
CREATE INDEX IF NOT EXISTS invoices_owner_created_idx ON invoices (owner_id, created_at DESC);
CREATE INDEX IF NOT EXISTS invoices_status_idx ON invoices (status);
`

type sqliteRepo struct {
	db  *sql.DB
	log *slog.Logger
}

// OpenSQLite opens (or creates) a sqlite database for single-node
// deployments and ensures the schema exists.
func OpenSQLite(ctx context.Context, dsn string, logger *slog.Logger) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Single writer; sqlite serializes writes anyway.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite pragmas: %w", err)
	}
	return db, nil
}

// NewSQLiteRepository wires an InvoiceRepository over a sqlite handle.
func NewSQLiteRepository(ctx context.Context, db *sql.DB, logger *slog.Logger) (InvoiceRepository, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return &sqliteRepo{db: db, log: logger}, nil
}

func (r *sqliteRepo) Create(ctx context.Context, inv *entity.Invoice) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO invoices (id, owner_id, file_name, file_size, file_path, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		inv.ID.String(), inv.OwnerID, inv.FileName, inv.FileSize, inv.FilePath,
		string(inv.Status), inv.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		r.log.Error("invoice create failed", "invoice_id", inv.ID, "err", err)
		return fmt.Errorf("%w: insert invoice: %v", common.ErrDatabase, err)
	}
	r.log.Info("invoice created", "invoice_id", inv.ID, "owner_id", inv.OwnerID)
	return nil
}

func (r *sqliteRepo) GetByID(ctx context.Context, id uuid.UUID) (*entity.Invoice, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, owner_id, file_name, file_size, file_path, status,
		       result_json, raw_text, error_message, created_at, processed_at
		FROM invoices WHERE id = ?`, id.String())
	inv, err := scanSQLiteInvoice(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: invoice %s", common.ErrNotFound, id)
		}
		return nil, fmt.Errorf("%w: get invoice: %v", common.ErrDatabase, err)
	}
	return inv, nil
}

func (r *sqliteRepo) UpdateFields(ctx context.Context, id uuid.UUID, u InvoiceUpdate) error {
	if u.IsEmpty() {
		return nil
	}
	var sets []string
	var args []any
	add := func(col string, v any) {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}
	if u.Status != nil {
		add("status", string(*u.Status))
	}
	if u.Result != nil {
		b, err := json.Marshal(u.Result)
		if err != nil {
			return fmt.Errorf("marshal result: %w", err)
		}
		add("result_json", string(b))
	}
	if u.RawText != nil {
		add("raw_text", *u.RawText)
	}
	if u.ErrorMessage != nil {
		add("error_message", *u.ErrorMessage)
	}
	if u.ProcessedAt != nil {
		add("processed_at", u.ProcessedAt.UTC().Format(time.RFC3339Nano))
	}
	args = append(args, id.String())

	res, err := r.db.ExecContext(ctx,
		"UPDATE invoices SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		r.log.Error("invoice update failed", "invoice_id", id, "err", err)
		return fmt.Errorf("%w: update invoice: %v", common.ErrDatabase, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: invoice %s", common.ErrNotFound, id)
	}
	return nil
}

func (r *sqliteRepo) DeleteByID(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM invoices WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("%w: delete invoice: %v", common.ErrDatabase, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: invoice %s", common.ErrNotFound, id)
	}
	r.log.Info("invoice deleted", "invoice_id", id)
	return nil
}

func (r *sqliteRepo) ListByOwner(ctx context.Context, ownerID string) ([]*entity.Invoice, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, owner_id, file_name, file_size, file_path, status,
		       result_json, NULL, error_message, created_at, processed_at
		FROM invoices WHERE owner_id = ?
		ORDER BY created_at DESC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("%w: list invoices: %v", common.ErrDatabase, err)
	}
	defer rows.Close()

	var out []*entity.Invoice
	for rows.Next() {
		inv, err := scanSQLiteInvoice(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("%w: scan invoice: %v", common.ErrDatabase, err)
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

func (r *sqliteRepo) CountByStatus(ctx context.Context, status constants.InvoiceStatus) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM invoices WHERE status = ?`, string(status)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("%w: count invoices: %v", common.ErrDatabase, err)
	}
	return n, nil
}

// scanSQLiteInvoice decodes one row; timestamps are stored as RFC3339 text.
func scanSQLiteInvoice(scan func(dest ...any) error) (*entity.Invoice, error) {
	var (
		inv         entity.Invoice
		idStr       string
		status      string
		resultJSON  *string
		createdAt   string
		processedAt *string
	)
	if err := scan(&idStr, &inv.OwnerID, &inv.FileName, &inv.FileSize, &inv.FilePath,
		&status, &resultJSON, &inv.RawText, &inv.ErrorMessage, &createdAt, &processedAt); err != nil {
		return nil, err
	}

	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("parse id: %w", err)
	}
	inv.ID = id
	inv.Status = constants.InvoiceStatus(status)

	if resultJSON != nil && *resultJSON != "" {
		var fields llm.InvoiceFields
		if err := json.Unmarshal([]byte(*resultJSON), &fields); err != nil {
			return nil, fmt.Errorf("decode result_json: %w", err)
		}
		inv.Result = &fields
	}
	if inv.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if processedAt != nil {
		t, err := time.Parse(time.RFC3339Nano, *processedAt)
		if err != nil {
			return nil, fmt.Errorf("parse processed_at: %w", err)
		}
		inv.ProcessedAt = &t
	}
	return &inv, nil
}
