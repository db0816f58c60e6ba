package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"carbon-scribe/emissions-engine/internal/audit"
	"carbon-scribe/emissions-engine/internal/calculation"
	"carbon-scribe/emissions-engine/internal/config"
	"carbon-scribe/emissions-engine/internal/factors"
	"carbon-scribe/emissions-engine/internal/inventory"
)

// CalculationWorker drains queued calculation requests and runs them
// through the emissions engine against one factor snapshot per poll cycle.
type CalculationWorker struct {
	db      *sqlx.DB
	engine  *calculation.Engine
	logger  *zap.Logger
	config  config.WorkerConfig
	done    chan struct{}
}

// NewCalculationWorker creates a new calculation worker
func NewCalculationWorker(db *sqlx.DB, engine *calculation.Engine, logger *zap.Logger, cfg config.WorkerConfig) *CalculationWorker {
	return &CalculationWorker{
		db:     db,
		engine: engine,
		logger: logger,
		config: cfg,
		done:   make(chan struct{}),
	}
}

// Start starts the polling loop and the nightly requeue sweep.
func (w *CalculationWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting calculation worker",
		zap.Duration("poll_interval", w.config.PollInterval),
		zap.Int("batch_size", w.config.BatchSize),
		zap.String("sweep_schedule", w.config.SweepSchedule))

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(w.config.SweepSchedule, func() {
		w.requeueStuckRequests(ctx)
	}); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", w.config.SweepSchedule, err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	// Drain anything already queued before the first tick.
	w.processPending(ctx)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Calculation worker shutting down")
			return nil
		case <-w.done:
			w.logger.Info("Calculation worker stopped")
			return nil
		case <-ticker.C:
			w.processPending(ctx)
		}
	}
}

// Stop stops the calculation worker
func (w *CalculationWorker) Stop() {
	close(w.done)
}

// QueuedRequest is one row of the calculation_requests queue.
type QueuedRequest struct {
	ID      uuid.UUID       `db:"id"`
	Sector  string          `db:"sector"`
	Actor   string          `db:"actor"`
	Payload json.RawMessage `db:"payload"`
}

// processPending claims and runs up to BatchSize queued requests.
func (w *CalculationWorker) processPending(ctx context.Context) {
	requests, err := w.claimPending(ctx, w.config.BatchSize)
	if err != nil {
		w.logger.Error("Failed to claim pending requests", zap.Error(err))
		return
	}
	if len(requests) == 0 {
		return
	}

	w.logger.Info("Processing calculation requests", zap.Int("count", len(requests)))

	for _, request := range requests {
		w.runRequest(ctx, request)
	}
}

// claimPending marks a batch of pending requests as running and returns
// them. The UPDATE ... RETURNING keeps concurrent workers from double
// claiming.
func (w *CalculationWorker) claimPending(ctx context.Context, limit int) ([]*QueuedRequest, error) {
	query := `
		UPDATE calculation_requests SET
			status = 'running',
			started_at = NOW(),
			updated_at = NOW()
		WHERE id IN (
			SELECT id FROM calculation_requests
			WHERE status = 'pending'
			ORDER BY created_at ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, sector, actor, payload
	`

	rows, err := w.db.QueryxContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to claim pending requests: %w", err)
	}
	defer rows.Close()

	var requests []*QueuedRequest
	for rows.Next() {
		var request QueuedRequest
		if err := rows.StructScan(&request); err != nil {
			w.logger.Error("Failed to scan request row", zap.Error(err))
			continue
		}
		requests = append(requests, &request)
	}

	return requests, rows.Err()
}

// runRequest executes one queued batch and stores the outcome.
func (w *CalculationWorker) runRequest(ctx context.Context, request *QueuedRequest) {
	startTime := time.Now()

	var records []inventory.ActivityRecord
	if err := json.Unmarshal(request.Payload, &records); err != nil {
		w.failRequest(ctx, request.ID, fmt.Sprintf("malformed payload: %v", err))
		return
	}

	actor := request.Actor
	if actor == "" {
		actor = w.config.Actor
	}

	result, err := w.engine.Calculate(ctx, &calculation.Request{
		CalculationID: request.ID,
		Records:       records,
		Sector:        request.Sector,
		Actor:         actor,
	})
	if err != nil {
		w.failRequest(ctx, request.ID, err.Error())
		return
	}

	resultJSON, err := json.Marshal(result)
	if err != nil {
		w.failRequest(ctx, request.ID, fmt.Sprintf("failed to serialize result: %v", err))
		return
	}

	query := `
		UPDATE calculation_requests SET
			status = 'completed',
			result = $2,
			completed_at = NOW(),
			updated_at = NOW()
		WHERE id = $1
	`
	if _, err := w.db.ExecContext(ctx, query, request.ID, resultJSON); err != nil {
		w.logger.Error("Failed to store calculation result",
			zap.String("request_id", request.ID.String()),
			zap.Error(err))
		return
	}

	w.logger.Info("Calculation request completed",
		zap.String("request_id", request.ID.String()),
		zap.String("status", string(result.Status)),
		zap.Int("records", len(records)),
		zap.Int("unresolved", len(result.UnresolvedRecords)),
		zap.Duration("duration", time.Since(startTime)))
}

// failRequest marks a request failed with its error message.
func (w *CalculationWorker) failRequest(ctx context.Context, id uuid.UUID, message string) {
	query := `
		UPDATE calculation_requests SET
			status = 'failed',
			error = $2,
			updated_at = NOW()
		WHERE id = $1
	`
	if _, err := w.db.ExecContext(ctx, query, id, message); err != nil {
		w.logger.Error("Failed to mark request failed",
			zap.String("request_id", id.String()),
			zap.Error(err))
		return
	}
	w.logger.Warn("Calculation request failed",
		zap.String("request_id", id.String()),
		zap.String("error", message))
}

// requeueStuckRequests returns requests stuck in running (a crashed worker)
// to the queue. Scheduled by cron.
func (w *CalculationWorker) requeueStuckRequests(ctx context.Context) {
	query := `
		UPDATE calculation_requests SET
			status = 'pending',
			started_at = NULL,
			updated_at = NOW()
		WHERE status = 'running' AND started_at < NOW() - INTERVAL '1 hour'
	`
	result, err := w.db.ExecContext(ctx, query)
	if err != nil {
		w.logger.Error("Failed to requeue stuck requests", zap.Error(err))
		return
	}
	if count, err := result.RowsAffected(); err == nil && count > 0 {
		w.logger.Info("Requeued stuck requests", zap.Int64("count", count))
	}
}

func main() {
	cfg, err := config.LoadConfig(os.Getenv("CONFIG_PATH"))
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	databaseURL := cfg.Database.GetDatabaseURL()
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	gormDB, err := gorm.Open(postgres.Open(databaseURL), &gorm.Config{})
	if err != nil {
		logger.Fatal("Failed to open gorm connection", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// One immutable snapshot per worker start; the canonical registry may
	// keep changing underneath without affecting in-flight batches.
	var snapshot *factors.Snapshot
	if cfg.Engine.FactorFile != "" {
		snapshot, err = factors.LoadSnapshotFile(cfg.Engine.FactorFile)
	} else {
		snapshot, err = factors.NewRepository(gormDB).LoadSnapshot(ctx)
	}
	if err != nil {
		logger.Fatal("Failed to load factor snapshot", zap.Error(err))
	}
	logger.Info("Loaded factor snapshot", zap.String("version", snapshot.Version()))

	ledger := audit.NewLedger(audit.NewPostgresStore(gormDB), logger)

	engine, err := calculation.NewEngine(snapshot, ledger, logger, calculation.Config{
		GWPVersion:           inventory.GWPVersion(cfg.Engine.GWPVersion),
		Confidence:           cfg.Engine.ConfidenceLevel,
		Iterations:           cfg.Engine.Iterations,
		MaterialityThreshold: cfg.Engine.MaterialityThreshold,
		EstimatedFloorKg:     cfg.Engine.EstimatedFloorKg,
		Deterministic:        cfg.Engine.Deterministic,
		Seed:                 cfg.Engine.Seed,
		Workers:              cfg.Engine.Workers,
	})
	if err != nil {
		logger.Fatal("Failed to create calculation engine", zap.Error(err))
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received")
		cancel()
	}()

	worker := NewCalculationWorker(db, engine, logger, cfg.Worker)

	logger.Info("Calculation worker starting")
	if err := worker.Start(ctx); err != nil {
		logger.Error("Worker error", zap.Error(err))
	}

	logger.Info("Calculation worker stopped")
}
