package factors

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gopkg.in/yaml.v3"

	"carbon-scribe/emissions-engine/internal/inventory"
)

// FactorRecord is the persisted form of an emission factor. The engine
// never reads these live: a Repository loads them once into a Snapshot
// before a batch starts.
type FactorRecord struct {
	ID             uint           `gorm:"primaryKey"`
	Category       string         `gorm:"index:idx_factor_key;not null"`
	Region         string         `gorm:"index:idx_factor_key;not null"`
	Year           int            `gorm:"index:idx_factor_key;not null"`
	Tier           int            `gorm:"not null"`
	Value          string         `gorm:"type:decimal(18,9);not null"`
	Unit           string         `gorm:"not null"`
	UncertaintyPct float64        `gorm:"not null;default:0"`
	Source         string         `gorm:"not null"`
	GasComponents  datatypes.JSON `gorm:"default:null"`
	CreatedAt      time.Time      `gorm:"autoCreateTime"`
}

// TableName maps the model onto the canonical registry table.
func (FactorRecord) TableName() string {
	return "emission_factors"
}

// ToFactor converts a persisted row into the domain factor.
func (r *FactorRecord) ToFactor() (inventory.EmissionFactor, error) {
	value, err := decimal.NewFromString(r.Value)
	if err != nil {
		return inventory.EmissionFactor{}, fmt.Errorf("factor %s/%s/%d: invalid value %q: %w",
			r.Category, r.Region, r.Year, r.Value, err)
	}

	factor := inventory.EmissionFactor{
		Category:       r.Category,
		Region:         r.Region,
		Year:           r.Year,
		Tier:           inventory.Tier(r.Tier),
		Value:          value,
		Unit:           r.Unit,
		UncertaintyPct: r.UncertaintyPct,
		Source:         r.Source,
	}

	if len(r.GasComponents) > 0 {
		if err := json.Unmarshal(r.GasComponents, &factor.GasComponents); err != nil {
			return inventory.EmissionFactor{}, fmt.Errorf("factor %s/%s/%d: invalid gas components: %w",
				r.Category, r.Region, r.Year, err)
		}
	}

	return factor, nil
}

// Repository loads factor snapshots from PostgreSQL.
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a factor repository.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// LoadSnapshot reads the full registry table and builds an immutable,
// validated snapshot versioned by load time and row count.
func (r *Repository) LoadSnapshot(ctx context.Context) (*Snapshot, error) {
	var rows []FactorRecord
	if err := r.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load emission factors: %w", err)
	}

	entries := make([]inventory.EmissionFactor, 0, len(rows))
	for i := range rows {
		factor, err := rows[i].ToFactor()
		if err != nil {
			return nil, err
		}
		entries = append(entries, factor)
	}

	version := fmt.Sprintf("db-%s-%d", time.Now().UTC().Format("20060102T150405Z"), len(rows))
	return NewSnapshot(version, entries)
}

// factorFile is the YAML document shape for file-based factor tables.
type factorFile struct {
	Version string `yaml:"version"`
	Factors []struct {
		Category       string             `yaml:"category"`
		Region         string             `yaml:"region"`
		Year           int                `yaml:"year"`
		Tier           int                `yaml:"tier"`
		Value          string             `yaml:"value"`
		Unit           string             `yaml:"unit"`
		UncertaintyPct float64            `yaml:"uncertainty_pct"`
		Source         string             `yaml:"source"`
		GasComponents  map[string]float64 `yaml:"gas_components,omitempty"`
	} `yaml:"factors"`
}

// LoadSnapshotFile builds a snapshot from a YAML factor table, for
// environments without a registry database.
func LoadSnapshotFile(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read factor file: %w", err)
	}

	var file factorFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse factor file %s: %w", path, err)
	}
	if file.Version == "" {
		return nil, fmt.Errorf("factor file %s: missing version", path)
	}

	entries := make([]inventory.EmissionFactor, 0, len(file.Factors))
	for i, f := range file.Factors {
		value, err := decimal.NewFromString(f.Value)
		if err != nil {
			return nil, fmt.Errorf("factor file %s: entry %d: invalid value %q: %w", path, i, f.Value, err)
		}
		entry := inventory.EmissionFactor{
			Category:       f.Category,
			Region:         f.Region,
			Year:           f.Year,
			Tier:           inventory.Tier(f.Tier),
			Value:          value,
			Unit:           f.Unit,
			UncertaintyPct: f.UncertaintyPct,
			Source:         f.Source,
		}
		if len(f.GasComponents) > 0 {
			entry.GasComponents = make(map[inventory.Gas]float64, len(f.GasComponents))
			for gas, rate := range f.GasComponents {
				entry.GasComponents[inventory.Gas(gas)] = rate
			}
		}
		entries = append(entries, entry)
	}

	return NewSnapshot(file.Version, entries)
}
