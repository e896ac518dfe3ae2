package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/docuflow/invoice-pipeline/constants"
	"github.com/docuflow/invoice-pipeline/internal/common"
	"github.com/docuflow/invoice-pipeline/internal/entity"
)

// MemoryRepository is an in-process InvoiceRepository used by tests and as
// a constructor-injected double for the pipeline. Safe for concurrent use.
type MemoryRepository struct {
	mu   sync.RWMutex
	rows map[uuid.UUID]*entity.Invoice
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{rows: make(map[uuid.UUID]*entity.Invoice)}
}

func (r *MemoryRepository) Create(_ context.Context, inv *entity.Invoice) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.rows[inv.ID]; exists {
		return fmt.Errorf("%w: duplicate invoice %s", common.ErrDatabase, inv.ID)
	}
	cp := *inv
	r.rows[inv.ID] = &cp
	return nil
}

func (r *MemoryRepository) GetByID(_ context.Context, id uuid.UUID) (*entity.Invoice, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inv, ok := r.rows[id]
	if !ok {
		return nil, fmt.Errorf("%w: invoice %s", common.ErrNotFound, id)
	}
	cp := *inv
	return &cp, nil
}

func (r *MemoryRepository) UpdateFields(_ context.Context, id uuid.UUID, u InvoiceUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	inv, ok := r.rows[id]
	if !ok {
		return fmt.Errorf("%w: invoice %s", common.ErrNotFound, id)
	}
	if u.Status != nil {
		inv.Status = *u.Status
	}
	if u.Result != nil {
		res := *u.Result
		inv.Result = &res
	}
	if u.RawText != nil {
		s := *u.RawText
		inv.RawText = &s
	}
	if u.ErrorMessage != nil {
		s := *u.ErrorMessage
		inv.ErrorMessage = &s
	}
	if u.ProcessedAt != nil {
		t := *u.ProcessedAt
		inv.ProcessedAt = &t
	}
	return nil
}

func (r *MemoryRepository) DeleteByID(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[id]; !ok {
		return fmt.Errorf("%w: invoice %s", common.ErrNotFound, id)
	}
	delete(r.rows, id)
	return nil
}

func (r *MemoryRepository) ListByOwner(_ context.Context, ownerID string) ([]*entity.Invoice, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*entity.Invoice
	for _, inv := range r.rows {
		if inv.OwnerID == ownerID {
			out = append(out, inv.ForListing())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryRepository) CountByStatus(_ context.Context, status constants.InvoiceStatus) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, inv := range r.rows {
		if inv.Status == status {
			n++
		}
	}
	return n, nil
}
