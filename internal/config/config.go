package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config represents the engine application configuration
type Config struct {
	Database DatabaseConfig `json:"database"`
	Engine   EngineConfig   `json:"engine"`
	Worker   WorkerConfig   `json:"worker"`
	Logging  LoggingConfig  `json:"logging"`
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	DBName   string `json:"db_name"`
	SSLMode  string `json:"ssl_mode"`
}

// EngineConfig represents the calculation engine configuration surface
type EngineConfig struct {
	GWPVersion           string  `json:"gwp_version"`
	ConfidenceLevel      float64 `json:"confidence_level"`
	Iterations           int     `json:"iterations"`
	MaterialityThreshold float64 `json:"materiality_threshold"`
	EstimatedFloorKg     float64 `json:"estimated_floor_kg"`
	Deterministic        bool    `json:"deterministic"`
	Seed                 uint64  `json:"seed"`
	Workers              int     `json:"workers"`
	// FactorFile optionally points to a YAML factor table used instead of
	// the registry database.
	FactorFile string `json:"factor_file"`
}

// WorkerConfig represents the batch queue worker configuration
type WorkerConfig struct {
	PollInterval  time.Duration `json:"poll_interval"`
	BatchSize     int           `json:"batch_size"`
	SweepSchedule string        `json:"sweep_schedule"`
	Actor         string        `json:"actor"`
}

// LoggingConfig
type LoggingConfig struct {
	Level string `json:"level"`
}

// LoadConfig loads configuration from an optional .env file, an optional
// JSON file, and environment variable overrides, in that order.
func LoadConfig(configPath string) (*Config, error) {
	// Best effort; a missing .env is fine.
	_ = godotenv.Load()

	config := &Config{
		Database: DatabaseConfig{
			Host:    "localhost",
			Port:    5432,
			User:    os.Getenv("USER"),
			DBName:  "emissions_engine",
			SSLMode: "disable",
		},
		Engine: EngineConfig{
			GWPVersion:           "AR6",
			ConfidenceLevel:      95,
			Iterations:           10000,
			MaterialityThreshold: 0.05,
			EstimatedFloorKg:     1_000_000,
			Deterministic:        true,
			Workers:              8,
		},
		Worker: WorkerConfig{
			PollInterval:  30 * time.Second,
			BatchSize:     10,
			SweepSchedule: "0 2 * * *",
			Actor:         "calculation-worker",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}

	if configPath != "" {
		if data, err := os.ReadFile(configPath); err == nil {
			if err := json.Unmarshal(data, config); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	overrideWithEnv(config)

	return config, nil
}

func overrideWithEnv(config *Config) {
	if dbHost := os.Getenv("DATABASE_HOST"); dbHost != "" {
		config.Database.Host = dbHost
	}
	if dbPort := os.Getenv("DATABASE_PORT"); dbPort != "" {
		if p, err := strconv.Atoi(dbPort); err == nil {
			config.Database.Port = p
		}
	}
	if dbUser := os.Getenv("DATABASE_USER"); dbUser != "" {
		config.Database.User = dbUser
	}
	if dbPass := os.Getenv("DATABASE_PASSWORD"); dbPass != "" {
		config.Database.Password = dbPass
	}
	if dbName := os.Getenv("DATABASE_DBNAME"); dbName != "" {
		config.Database.DBName = dbName
	}

	if gwp := os.Getenv("ENGINE_GWP_VERSION"); gwp != "" {
		config.Engine.GWPVersion = gwp
	}
	if confidence := os.Getenv("ENGINE_CONFIDENCE_LEVEL"); confidence != "" {
		if v, err := strconv.ParseFloat(confidence, 64); err == nil {
			config.Engine.ConfidenceLevel = v
		}
	}
	if iterations := os.Getenv("ENGINE_ITERATIONS"); iterations != "" {
		if v, err := strconv.Atoi(iterations); err == nil {
			config.Engine.Iterations = v
		}
	}
	if threshold := os.Getenv("ENGINE_MATERIALITY_THRESHOLD"); threshold != "" {
		if v, err := strconv.ParseFloat(threshold, 64); err == nil {
			config.Engine.MaterialityThreshold = v
		}
	}
	if deterministic := os.Getenv("ENGINE_DETERMINISTIC"); deterministic != "" {
		if v, err := strconv.ParseBool(deterministic); err == nil {
			config.Engine.Deterministic = v
		}
	}
	if seed := os.Getenv("ENGINE_SEED"); seed != "" {
		if v, err := strconv.ParseUint(seed, 10, 64); err == nil {
			config.Engine.Seed = v
		}
	}
	if workers := os.Getenv("ENGINE_WORKERS"); workers != "" {
		if v, err := strconv.Atoi(workers); err == nil {
			config.Engine.Workers = v
		}
	}
	if factorFile := os.Getenv("ENGINE_FACTOR_FILE"); factorFile != "" {
		config.Engine.FactorFile = factorFile
	}

	if interval := os.Getenv("WORKER_POLL_INTERVAL"); interval != "" {
		if v, err := time.ParseDuration(interval); err == nil {
			config.Worker.PollInterval = v
		}
	}
	if schedule := os.Getenv("WORKER_SWEEP_SCHEDULE"); schedule != "" {
		config.Worker.SweepSchedule = schedule
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
}

// GetDatabaseURL returns the database connection string
func (c *DatabaseConfig) GetDatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode)
}
