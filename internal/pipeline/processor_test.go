package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docuflow/invoice-pipeline/constants"
	"github.com/docuflow/invoice-pipeline/internal/entity"
	"github.com/docuflow/invoice-pipeline/internal/extract"
	"github.com/docuflow/invoice-pipeline/internal/llm"
	"github.com/docuflow/invoice-pipeline/internal/repository"
)

type stubTextExtractor struct {
	mu    sync.Mutex
	texts map[string]string // path -> text
	err   error
}

func (s *stubTextExtractor) Extract(_ context.Context, path string) (extract.TextExtractionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return extract.TextExtractionResult{}, s.err
	}
	return extract.TextExtractionResult{Text: s.texts[path], Pages: 1, Method: "txt"}, nil
}

type stubFieldExtractor struct {
	mu     sync.Mutex
	byText map[string]llm.InvoiceFields // text -> fields
	raw    []byte
	err    error
}

func (s *stubFieldExtractor) ExtractFields(_ context.Context, req llm.ExtractRequest) (llm.InvoiceFields, []byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return llm.InvoiceFields{}, nil, s.err
	}
	return s.byText[req.Text], s.raw, nil
}

func newPendingInvoice(t *testing.T, repo repository.InvoiceRepository, path string) *entity.Invoice {
	t.Helper()
	inv := &entity.Invoice{
		ID:        uuid.New(),
		OwnerID:   "owner-1",
		FileName:  "invoice.txt",
		FilePath:  path,
		Status:    constants.StatusPending,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, repo.Create(context.Background(), inv))
	return inv
}

func TestProcessCompletedNormalPath(t *testing.T) {
	repo := repository.NewMemoryRepository()
	text := &stubTextExtractor{texts: map[string]string{"a.txt": "Invoice #123 Total: 50.00"}}
	fields := &stubFieldExtractor{byText: map[string]llm.InvoiceFields{
		"Invoice #123 Total: 50.00": {InvoiceNumber: "123", Total: 50.0, Currency: "USD"},
	}}
	proc := NewProcessor(nil, Config{}, repo, text, fields)

	inv := newPendingInvoice(t, repo, "a.txt")
	require.NoError(t, proc.Process(context.Background(), inv.ID, inv.FilePath))

	got, err := repo.GetByID(context.Background(), inv.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.StatusCompleted, got.Status)
	require.NotNil(t, got.Result)
	assert.Equal(t, "123", got.Result.InvoiceNumber)
	assert.Equal(t, 50.0, got.Result.Total)
	require.NotNil(t, got.RawText)
	assert.Equal(t, "Invoice #123 Total: 50.00", *got.RawText)
	assert.Nil(t, got.ErrorMessage)
	require.NotNil(t, got.ProcessedAt)
}

func TestProcessTextExtractionFailureIsFatal(t *testing.T) {
	repo := repository.NewMemoryRepository()
	text := &stubTextExtractor{err: fmt.Errorf("%w: scanned garbage", extract.ErrUnreadable)}
	fields := &stubFieldExtractor{}
	proc := NewProcessor(nil, Config{}, repo, text, fields)

	inv := newPendingInvoice(t, repo, "broken.pdf")
	err := proc.Process(context.Background(), inv.ID, inv.FilePath)
	require.Error(t, err)
	assert.ErrorIs(t, err, extract.ErrUnreadable)

	got, gerr := repo.GetByID(context.Background(), inv.ID)
	require.NoError(t, gerr)
	assert.Equal(t, constants.StatusFailed, got.Status)
	require.NotNil(t, got.ErrorMessage)
	assert.NotEmpty(t, *got.ErrorMessage)
	assert.Nil(t, got.Result)
	assert.Nil(t, got.RawText)
	require.NotNil(t, got.ProcessedAt)
}

func TestProcessFieldExtractionFailureFallsBack(t *testing.T) {
	repo := repository.NewMemoryRepository()
	text := &stubTextExtractor{texts: map[string]string{"g.txt": "garbled"}}
	fields := &stubFieldExtractor{err: fmt.Errorf("%w: not json", llm.ErrMalformedOutput)}
	proc := NewProcessor(nil, Config{}, repo, text, fields)

	inv := newPendingInvoice(t, repo, "g.txt")
	require.NoError(t, proc.Process(context.Background(), inv.ID, inv.FilePath))

	got, err := repo.GetByID(context.Background(), inv.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.StatusCompleted, got.Status)
	require.NotNil(t, got.Result)
	assert.Zero(t, got.Result.Total)
	assert.Equal(t, "USD", got.Result.Currency)
	assert.Contains(t, got.Result.Notes, "not json")
	require.NotNil(t, got.RawText)
	assert.Equal(t, "garbled", *got.RawText)
	assert.Nil(t, got.ErrorMessage)
	require.NotNil(t, got.ProcessedAt)
}

func TestProcessedAtSetOnceAtFirstTerminalTransition(t *testing.T) {
	repo := repository.NewMemoryRepository()
	text := &stubTextExtractor{texts: map[string]string{"a.txt": "text"}}
	fields := &stubFieldExtractor{byText: map[string]llm.InvoiceFields{"text": {Total: 1, Currency: "USD"}}}
	proc := NewProcessor(nil, Config{}, repo, text, fields)

	inv := newPendingInvoice(t, repo, "a.txt")
	require.NoError(t, proc.Process(context.Background(), inv.ID, inv.FilePath))

	first, err := repo.GetByID(context.Background(), inv.ID)
	require.NoError(t, err)
	require.NotNil(t, first.ProcessedAt)

	// Repeated reads of a terminal record are identical.
	second, err := repo.GetByID(context.Background(), inv.ID)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestProcessConcurrentRecordsStayIndependent(t *testing.T) {
	repo := repository.NewMemoryRepository()
	text := &stubTextExtractor{texts: map[string]string{
		"one.txt": "invoice one",
		"two.txt": "invoice two",
	}}
	fields := &stubFieldExtractor{byText: map[string]llm.InvoiceFields{
		"invoice one": {InvoiceNumber: "INV-1", Total: 10, Currency: "USD"},
		"invoice two": {InvoiceNumber: "INV-2", Total: 20, Currency: "EUR"},
	}}
	proc := NewProcessor(nil, Config{}, repo, text, fields)

	one := newPendingInvoice(t, repo, "one.txt")
	two := newPendingInvoice(t, repo, "two.txt")

	var wg sync.WaitGroup
	for _, inv := range []*entity.Invoice{one, two} {
		wg.Add(1)
		go func(inv *entity.Invoice) {
			defer wg.Done()
			_ = proc.Process(context.Background(), inv.ID, inv.FilePath)
		}(inv)
	}
	wg.Wait()

	gotOne, err := repo.GetByID(context.Background(), one.ID)
	require.NoError(t, err)
	gotTwo, err := repo.GetByID(context.Background(), two.ID)
	require.NoError(t, err)

	assert.Equal(t, constants.StatusCompleted, gotOne.Status)
	assert.Equal(t, constants.StatusCompleted, gotTwo.Status)
	assert.Equal(t, "INV-1", gotOne.Result.InvoiceNumber)
	assert.Equal(t, "INV-2", gotTwo.Result.InvoiceNumber)
	assert.Equal(t, 10.0, gotOne.Result.Total)
	assert.Equal(t, 20.0, gotTwo.Result.Total)
}

// logRecorder collects slog records so tests can assert on emitted events.
type logRecorder struct {
	mu      sync.Mutex
	entries []logEntry
}

type logEntry struct {
	msg   string
	attrs map[string]string
}

func (l *logRecorder) Enabled(context.Context, slog.Level) bool { return true }

func (l *logRecorder) Handle(_ context.Context, r slog.Record) error {
	attrs := make(map[string]string)
	r.Attrs(func(a slog.Attr) bool {
		attrs[a.Key] = a.Value.String()
		return true
	})
	l.mu.Lock()
	l.entries = append(l.entries, logEntry{msg: r.Message, attrs: attrs})
	l.mu.Unlock()
	return nil
}

func (l *logRecorder) WithAttrs([]slog.Attr) slog.Handler { return l }
func (l *logRecorder) WithGroup(string) slog.Handler      { return l }

func (l *logRecorder) find(msg string) (map[string]string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if e.msg == msg {
			return e.attrs, true
		}
	}
	return nil, false
}

func TestProcessLogsExtractorPayload(t *testing.T) {
	rec := &logRecorder{}
	repo := repository.NewMemoryRepository()
	text := &stubTextExtractor{texts: map[string]string{"a.txt": "text"}}
	fields := &stubFieldExtractor{
		byText: map[string]llm.InvoiceFields{"text": {Total: 1, Currency: "USD"}},
		raw:    []byte(`{"total":1,"currency":"USD"}`),
	}
	proc := NewProcessor(slog.New(rec), Config{}, repo, text, fields)

	inv := newPendingInvoice(t, repo, "a.txt")
	require.NoError(t, proc.Process(context.Background(), inv.ID, inv.FilePath))

	attrs, ok := rec.find("pipeline.fields.payload")
	require.True(t, ok, "payload event not logged")
	assert.Equal(t, `{"total":1,"currency":"USD"}`, attrs["json"])
}

// failingRepo lets individual tests break specific store writes.
type failingRepo struct {
	repository.InvoiceRepository
	failWhen func(u repository.InvoiceUpdate) bool
}

func (r *failingRepo) UpdateFields(ctx context.Context, id uuid.UUID, u repository.InvoiceUpdate) error {
	if r.failWhen != nil && r.failWhen(u) {
		return errors.New("simulated store failure")
	}
	return r.InvoiceRepository.UpdateFields(ctx, id, u)
}

func TestProcessStoreFailureConvertsToFailed(t *testing.T) {
	mem := repository.NewMemoryRepository()
	repo := &failingRepo{
		InvoiceRepository: mem,
		failWhen: func(u repository.InvoiceUpdate) bool {
			return u.Status != nil && *u.Status == constants.StatusCompleted
		},
	}
	text := &stubTextExtractor{texts: map[string]string{"a.txt": "text"}}
	fields := &stubFieldExtractor{byText: map[string]llm.InvoiceFields{"text": {Total: 1, Currency: "USD"}}}
	proc := NewProcessor(nil, Config{}, repo, text, fields)

	inv := newPendingInvoice(t, mem, "a.txt")
	err := proc.Process(context.Background(), inv.ID, inv.FilePath)
	require.Error(t, err)

	got, gerr := mem.GetByID(context.Background(), inv.ID)
	require.NoError(t, gerr)
	assert.Equal(t, constants.StatusFailed, got.Status)
	require.NotNil(t, got.ErrorMessage)
	assert.Nil(t, got.Result)
	require.NotNil(t, got.ProcessedAt)
}

func TestProcessTotalStoreFailureLeavesRecordForReconciliation(t *testing.T) {
	mem := repository.NewMemoryRepository()
	repo := &failingRepo{
		InvoiceRepository: mem,
		failWhen:          func(repository.InvoiceUpdate) bool { return true },
	}
	text := &stubTextExtractor{texts: map[string]string{"a.txt": "text"}}
	fields := &stubFieldExtractor{}
	proc := NewProcessor(nil, Config{}, repo, text, fields)

	inv := newPendingInvoice(t, mem, "a.txt")
	err := proc.Process(context.Background(), inv.ID, inv.FilePath)
	require.Error(t, err)

	// Every write failed: record is untouched and flagged for operators.
	got, gerr := mem.GetByID(context.Background(), inv.ID)
	require.NoError(t, gerr)
	assert.Equal(t, constants.StatusPending, got.Status)
	assert.Nil(t, got.ProcessedAt)
}
