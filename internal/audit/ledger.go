package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Store persists ledger entries. Implementations must be append-only.
type Store interface {
	Append(ctx context.Context, entry *AuditEntry) error
}

// Ledger is the append-only audit record. Appends are single-writer per
// calculation_id: a second CALCULATION entry for the same id is rejected,
// while different calculation runs may record concurrently.
type Ledger struct {
	mu       sync.Mutex
	entries  []AuditEntry
	byCalc   map[uuid.UUID]EntryType
	byInput  map[string]uuid.UUID
	store    Store
	logger   *zap.Logger
	nowFn    func() time.Time
}

// NewLedger creates a ledger. store may be nil for a purely in-memory
// ledger; logger must not be nil.
func NewLedger(store Store, logger *zap.Logger) *Ledger {
	return &Ledger{
		byCalc:  make(map[uuid.UUID]EntryType),
		byInput: make(map[string]uuid.UUID),
		store:   store,
		logger:  logger,
		nowFn:   time.Now,
	}
}

// Record appends the CALCULATION entry for a run, hashing the canonical
// forms of its input and output. Exactly one CALCULATION entry may exist
// per calculation_id.
func (l *Ledger) Record(ctx context.Context, calculationID uuid.UUID, input, output any, actor string) (*AuditEntry, error) {
	return l.append(ctx, EntryCalculation, calculationID, nil, input, output, actor)
}

// RecordCorrection appends a CORRECTION entry referencing an existing
// calculation. The original entry is never touched.
func (l *Ledger) RecordCorrection(ctx context.Context, originalID uuid.UUID, input, output any, actor string) (*AuditEntry, error) {
	correctionID := uuid.New()
	return l.append(ctx, EntryCorrection, correctionID, &originalID, input, output, actor)
}

func (l *Ledger) append(ctx context.Context, entryType EntryType, calculationID uuid.UUID, ref *uuid.UUID, input, output any, actor string) (*AuditEntry, error) {
	inputHash, err := Hash(input)
	if err != nil {
		return nil, fmt.Errorf("failed to hash input: %w", err)
	}
	outputHash, err := Hash(output)
	if err != nil {
		return nil, fmt.Errorf("failed to hash output: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.byCalc[calculationID]; exists && entryType == EntryCalculation {
		return nil, fmt.Errorf("calculation %s already recorded: ledger entries are append-only", calculationID)
	}
	if ref != nil {
		if _, exists := l.byCalc[*ref]; !exists {
			return nil, fmt.Errorf("correction references unknown calculation %s", *ref)
		}
	}

	// A repeated input hash under a different calculation id is either a
	// duplicate submission or a genuine SHA-256 collision. Advisory only,
	// never blocking.
	if prior, seen := l.byInput[inputHash]; seen && prior != calculationID {
		l.logger.Warn("input hash already recorded for a different calculation",
			zap.String("input_hash", inputHash),
			zap.String("prior_calculation_id", prior.String()),
			zap.String("calculation_id", calculationID.String()))
	}

	entry := AuditEntry{
		ID:               uuid.New(),
		CalculationID:    calculationID,
		Type:             entryType,
		RefCalculationID: ref,
		InputHash:        inputHash,
		OutputHash:       outputHash,
		Actor:            actor,
		Timestamp:        l.nowFn().UTC(),
	}

	if l.store != nil {
		if err := l.store.Append(ctx, &entry); err != nil {
			return nil, fmt.Errorf("failed to persist audit entry: %w", err)
		}
	}

	l.entries = append(l.entries, entry)
	l.byCalc[calculationID] = entryType
	l.byInput[inputHash] = calculationID

	return &entry, nil
}

// Verify recomputes the input hash from a payload and compares it against
// the stored entry.
func (l *Ledger) Verify(entry *AuditEntry, input any) (bool, error) {
	recomputed, err := Hash(input)
	if err != nil {
		return false, err
	}
	return recomputed == entry.InputHash, nil
}

// Entries returns a copy of all ledger entries in append order.
func (l *Ledger) Entries() []AuditEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]AuditEntry, len(l.entries))
	copy(out, l.entries)
	return out
}
