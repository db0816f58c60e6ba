// Package audit keeps a tamper-evident, append-only hash record of every
// calculation run.
package audit

import (
	"time"

	"github.com/google/uuid"
)

// EntryType distinguishes original calculations from corrections.
type EntryType string

const (
	EntryCalculation EntryType = "CALCULATION"
	EntryCorrection  EntryType = "CORRECTION"
)

// AuditEntry is one immutable ledger record. Entries are never updated or
// deleted; a correction is a new entry referencing the original
// calculation_id.
type AuditEntry struct {
	ID            uuid.UUID `json:"id"`
	CalculationID uuid.UUID `json:"calculation_id"`
	Type          EntryType `json:"type"`

	// RefCalculationID links a CORRECTION back to the run it corrects.
	RefCalculationID *uuid.UUID `json:"ref_calculation_id,omitempty"`

	InputHash  string    `json:"input_hash"`
	OutputHash string    `json:"output_hash"`
	Actor      string    `json:"actor"`
	Timestamp  time.Time `json:"timestamp"`
}
