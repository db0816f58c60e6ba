package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// EntryRecord is the persisted form of an AuditEntry. The table carries no
// update or delete path; corrections arrive as new rows.
type EntryRecord struct {
	ID               uuid.UUID  `gorm:"type:uuid;primary_key"`
	CalculationID    uuid.UUID  `gorm:"type:uuid;not null;index"`
	Type             string     `gorm:"not null"`
	RefCalculationID *uuid.UUID `gorm:"type:uuid;index"`
	InputHash        string     `gorm:"size:64;not null;index"`
	OutputHash       string     `gorm:"size:64;not null"`
	Actor            string     `gorm:"not null"`
	Timestamp        time.Time  `gorm:"not null"`
}

// TableName maps the model onto the audit store table.
func (EntryRecord) TableName() string {
	return "audit_entries"
}

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	db *gorm.DB
}

// NewPostgresStore creates a PostgreSQL-backed audit store.
func NewPostgresStore(db *gorm.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Append inserts a new audit row. There is deliberately no corresponding
// update or delete operation.
func (s *PostgresStore) Append(ctx context.Context, entry *AuditEntry) error {
	row := EntryRecord{
		ID:               entry.ID,
		CalculationID:    entry.CalculationID,
		Type:             string(entry.Type),
		RefCalculationID: entry.RefCalculationID,
		InputHash:        entry.InputHash,
		OutputHash:       entry.OutputHash,
		Actor:            entry.Actor,
		Timestamp:        entry.Timestamp,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

// ListByCalculation returns all entries recorded for a calculation,
// original first, in append order.
func (s *PostgresStore) ListByCalculation(ctx context.Context, calculationID uuid.UUID) ([]AuditEntry, error) {
	var rows []EntryRecord
	err := s.db.WithContext(ctx).
		Where("calculation_id = ? OR ref_calculation_id = ?", calculationID, calculationID).
		Order("timestamp ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}

	entries := make([]AuditEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, AuditEntry{
			ID:               row.ID,
			CalculationID:    row.CalculationID,
			Type:             EntryType(row.Type),
			RefCalculationID: row.RefCalculationID,
			InputHash:        row.InputHash,
			OutputHash:       row.OutputHash,
			Actor:            row.Actor,
			Timestamp:        row.Timestamp,
		})
	}
	return entries, nil
}
