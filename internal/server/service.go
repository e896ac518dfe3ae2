package server

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/docuflow/invoice-pipeline/constants"
	"github.com/docuflow/invoice-pipeline/internal/async"
	"github.com/docuflow/invoice-pipeline/internal/common"
	"github.com/docuflow/invoice-pipeline/internal/entity"
	"github.com/docuflow/invoice-pipeline/internal/export"
	"github.com/docuflow/invoice-pipeline/internal/repository"
)

// ownerHeader carries the submitting principal's id. Authentication itself
// happens upstream; this service only enforces ownership.
const ownerHeader = "X-Owner-ID"

// Enqueuer launches detached pipeline runs.
type Enqueuer interface {
	Enqueue(ctx context.Context, job async.Job) error
}

// InvoiceService exposes the record lifecycle over HTTP: submit, poll,
// list, delete, export. It never runs extraction inline; submission hands
// off to the queue and returns immediately.
type InvoiceService struct {
	repo      repository.InvoiceRepository
	queue     Enqueuer
	exporter  *export.Service
	uploadDir string
	maxUpload int64 // bytes
	logger    *slog.Logger
}

func NewInvoiceService(repo repository.InvoiceRepository, queue Enqueuer, exporter *export.Service, uploadDir string, maxUploadBytes int64, logger *slog.Logger) *InvoiceService {
	if logger == nil {
		logger = slog.Default()
	}
	if maxUploadBytes <= 0 {
		maxUploadBytes = 25 << 20
	}
	return &InvoiceService{
		repo:      repo,
		queue:     queue,
		exporter:  exporter,
		uploadDir: uploadDir,
		maxUpload: maxUploadBytes,
		logger:    logger,
	}
}

// Routes mounts the lifecycle endpoints.
func (s *InvoiceService) Routes(r chi.Router) {
	r.Post("/api/invoices", s.handleUpload)
	r.Get("/api/invoices", s.handleList)
	r.Get("/api/invoices/export", s.handleExport)
	r.Get("/api/invoices/{id}", s.handleGet)
	r.Delete("/api/invoices/{id}", s.handleDelete)
}

func (s *InvoiceService) handleUpload(w http.ResponseWriter, r *http.Request) {
	ownerID, err := requireOwner(r)
	if err != nil {
		common.WriteError(w, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	if err := r.ParseMultipartForm(s.maxUpload); err != nil {
		common.WriteError(w, fmt.Errorf("%w: parse upload: %v", common.ErrInvalidInput, err))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		common.WriteError(w, fmt.Errorf("%w: a document file is required", common.ErrInvalidInput))
		return
	}
	defer file.Close()

	ext := constants.NormalizeExt(filepath.Ext(header.Filename))
	if _, ok := constants.AllowedExtensions[ext]; !ok {
		common.WriteError(w, fmt.Errorf("%w: unsupported file extension %q", common.ErrInvalidInput, ext))
		return
	}

	path, size, err := s.saveUpload(file, ext)
	if err != nil {
		s.logger.Error("upload save failed", "owner_id", ownerID, "err", err)
		common.WriteError(w, common.ErrInternal)
		return
	}

	inv := &entity.Invoice{
		ID:        uuid.New(),
		OwnerID:   ownerID,
		FileName:  filepath.Base(header.Filename),
		FileSize:  size,
		FilePath:  path,
		Status:    constants.StatusPending,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.repo.Create(r.Context(), inv); err != nil {
		s.logger.Error("record create failed", "owner_id", ownerID, "err", err)
		common.WriteError(w, common.ErrInternal)
		return
	}

	// Fire-and-forget: processing runs detached, the caller polls by id.
	if err := s.queue.Enqueue(r.Context(), async.Job{InvoiceID: inv.ID, Path: path}); err != nil {
		s.logger.Error("enqueue failed", "invoice_id", inv.ID, "err", err)
	}

	s.logger.Info("invoice submitted", "invoice_id", inv.ID, "owner_id", ownerID, "file", inv.FileName)
	common.WriteJSON(w, http.StatusCreated, map[string]any{
		"message":   "invoice uploaded successfully and processing started",
		"invoiceId": inv.ID,
		"status":    inv.Status,
	})
}

// saveUpload persists the blob under a content-hash name so duplicate
// uploads of the same bytes share one file on disk.
func (s *InvoiceService) saveUpload(file io.Reader, ext string) (string, int64, error) {
	if err := os.MkdirAll(s.uploadDir, 0o755); err != nil {
		return "", 0, fmt.Errorf("create upload dir: %w", err)
	}

	tmp, err := os.CreateTemp(s.uploadDir, "upload-*")
	if err != nil {
		return "", 0, fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	h := sha256.New()
	size, err := io.Copy(io.MultiWriter(tmp, h), file)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", 0, fmt.Errorf("write upload: %w", err)
	}

	final := filepath.Join(s.uploadDir, hex.EncodeToString(h.Sum(nil))+"."+ext)
	if err := os.Rename(tmp.Name(), final); err != nil {
		return "", 0, fmt.Errorf("finalize upload: %w", err)
	}
	return final, size, nil
}

func (s *InvoiceService) handleGet(w http.ResponseWriter, r *http.Request) {
	inv, err := s.loadOwned(r)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.WriteJSON(w, http.StatusOK, inv)
}

func (s *InvoiceService) handleList(w http.ResponseWriter, r *http.Request) {
	ownerID, err := requireOwner(r)
	if err != nil {
		common.WriteError(w, err)
		return
	}

	invoices, err := s.repo.ListByOwner(r.Context(), ownerID)
	if err != nil {
		s.logger.Error("list failed", "owner_id", ownerID, "err", err)
		common.WriteError(w, common.ErrInternal)
		return
	}
	if invoices == nil {
		invoices = []*entity.Invoice{}
	}
	common.WriteJSON(w, http.StatusOK, map[string]any{
		"count":    len(invoices),
		"invoices": invoices,
	})
}

func (s *InvoiceService) handleDelete(w http.ResponseWriter, r *http.Request) {
	inv, err := s.loadOwned(r)
	if err != nil {
		common.WriteError(w, err)
		return
	}

	// Remove the stored document first; a missing file is not an error.
	if inv.FilePath != "" {
		if err := os.Remove(inv.FilePath); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("stored file removal failed", "invoice_id", inv.ID, "err", err)
		}
	}
	if err := s.repo.DeleteByID(r.Context(), inv.ID); err != nil {
		common.WriteError(w, err)
		return
	}
	common.WriteJSON(w, http.StatusOK, map[string]string{"message": "invoice deleted successfully"})
}

func (s *InvoiceService) handleExport(w http.ResponseWriter, r *http.Request) {
	ownerID, err := requireOwner(r)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		common.WriteError(w, fmt.Errorf("%w: %v", common.ErrInvalidInput, err))
		return
	}

	data, rows, err := s.exporter.Export(r.Context(), ownerID, format)
	if err != nil {
		s.logger.Error("export failed", "owner_id", ownerID, "err", err)
		common.WriteError(w, common.ErrInternal)
		return
	}
	if rows == 0 {
		common.WriteError(w, fmt.Errorf("%w: no completed invoices to export", common.ErrNotFound))
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", `attachment; filename=invoices.`+string(format))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// loadOwned fetches the record from the URL id and enforces ownership.
func (s *InvoiceService) loadOwned(r *http.Request) (*entity.Invoice, error) {
	ownerID, err := requireOwner(r)
	if err != nil {
		return nil, err
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return nil, fmt.Errorf("%w: id must be a UUID", common.ErrInvalidInput)
	}
	inv, err := s.repo.GetByID(r.Context(), id)
	if err != nil {
		return nil, err
	}
	if inv.OwnerID != ownerID {
		return nil, fmt.Errorf("%w: not authorized to access this invoice", common.ErrForbidden)
	}
	return inv, nil
}

func requireOwner(r *http.Request) (string, error) {
	ownerID := strings.TrimSpace(r.Header.Get(ownerHeader))
	if ownerID == "" {
		return "", fmt.Errorf("%w: %s header is required", common.ErrInvalidInput, ownerHeader)
	}
	return ownerID, nil
}
