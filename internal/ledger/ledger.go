// Package ledger persists governance summaries and runtime policy decisions
// to PostgreSQL so operators can query run history outside the artifact tree.
package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/rs/zerolog/log"
)

// Config holds database connection configuration
type Config struct {
	Enabled         bool          `json:"enabled" yaml:"enabled"`
	DSN             string        `json:"-" yaml:"dsn" validate:"required_if=Enabled true"`
	MaxOpenConns    int           `json:"max_open_conns" yaml:"max_open_conns" default:"5" validate:"gte=1"`
	MaxIdleConns    int           `json:"max_idle_conns" yaml:"max_idle_conns" default:"2" validate:"gte=0"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime" yaml:"conn_max_lifetime" default:"30m"`
	QueryTimeout    time.Duration `json:"query_timeout" yaml:"query_timeout" default:"10s" validate:"gt=0"`
}

// DefaultConfig returns a disabled ledger with pool defaults
func DefaultConfig() Config {
	return Config{
		MaxOpenConns:    5,
		MaxIdleConns:    2,
		ConnMaxLifetime: 30 * time.Minute,
		QueryTimeout:    10 * time.Second,
	}
}

// GovernanceRun is the ledger row for one governance report
type GovernanceRun struct {
	RunID              string    `json:"run_id"`
	RunUUID            string    `json:"run_uuid"`
	CreatedAt          time.Time `json:"created_at"`
	Status             string    `json:"status"`
	Decision           string    `json:"decision"`
	Alerts             []string  `json:"alerts"`
	WalkForwardROIMean *float64  `json:"walk_forward_roi_mean"`
	ConfidenceABROI    *float64  `json:"confidence_ab_roi"`
	ConfidenceABBets   int       `json:"confidence_ab_bets"`
	ReportPath         string    `json:"report_path"`
	RecordedAt         time.Time `json:"recorded_at"`
}

// RuntimeDecision is the ledger row for one runtime policy evaluation
type RuntimeDecision struct {
	ID              int64     `json:"id"`
	CreatedAt       time.Time `json:"created_at"`
	Action          string    `json:"action"`
	ActivePolicy    string    `json:"active_policy"`
	Reasons         []string  `json:"reasons"`
	GovernanceRunID string    `json:"governance_run_id"`
}

// Repo reads and writes ledger rows
type Repo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// New wraps an open connection
func New(db *sqlx.DB, timeout time.Duration) *Repo {
	return &Repo{db: db, timeout: timeout}
}

// Open connects to PostgreSQL and verifies the connection
func Open(ctx context.Context, cfg Config) (*Repo, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("ledger DSN is required when enabled")
	}

	db, err := sqlx.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.QueryTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping ledger database: %w", err)
	}

	log.Info().Int("max_open_conns", cfg.MaxOpenConns).Msg("Ledger database connected")
	return New(db, cfg.QueryTimeout), nil
}

// Close closes the underlying connection
func (r *Repo) Close() error { return r.db.Close() }

const schema = `
CREATE TABLE IF NOT EXISTS governance_runs (
	run_id                TEXT PRIMARY KEY,
	run_uuid              UUID NOT NULL,
	created_at            TIMESTAMPTZ NOT NULL,
	status                TEXT NOT NULL,
	decision              TEXT NOT NULL,
	alerts                JSONB NOT NULL DEFAULT '[]',
	walk_forward_roi_mean DOUBLE PRECISION,
	confidence_ab_roi     DOUBLE PRECISION,
	confidence_ab_bets    INTEGER NOT NULL DEFAULT 0,
	report_path           TEXT NOT NULL,
	recorded_at           TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS runtime_decisions (
	id                BIGSERIAL PRIMARY KEY,
	created_at        TIMESTAMPTZ NOT NULL,
	action            TEXT NOT NULL,
	active_policy     TEXT NOT NULL,
	reasons           JSONB NOT NULL DEFAULT '[]',
	governance_run_id TEXT
);`

// Migrate creates the ledger tables when missing
func (r *Repo) Migrate(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to migrate ledger schema: %w", err)
	}
	return nil
}

// RecordGovernance upserts a governance run keyed by run id
func (r *Repo) RecordGovernance(ctx context.Context, run *GovernanceRun) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	alertsJSON, err := marshalList(run.Alerts)
	if err != nil {
		return fmt.Errorf("failed to marshal alerts: %w", err)
	}

	query := `
		INSERT INTO governance_runs
		(run_id, run_uuid, created_at, status, decision, alerts,
		 walk_forward_roi_mean, confidence_ab_roi, confidence_ab_bets, report_path)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (run_id) DO UPDATE SET
			status = EXCLUDED.status,
			decision = EXCLUDED.decision,
			alerts = EXCLUDED.alerts,
			walk_forward_roi_mean = EXCLUDED.walk_forward_roi_mean,
			confidence_ab_roi = EXCLUDED.confidence_ab_roi,
			confidence_ab_bets = EXCLUDED.confidence_ab_bets,
			report_path = EXCLUDED.report_path
		RETURNING recorded_at`

	err = r.db.QueryRowxContext(ctx, query,
		run.RunID, run.RunUUID, run.CreatedAt, run.Status, run.Decision, alertsJSON,
		run.WalkForwardROIMean, run.ConfidenceABROI, run.ConfidenceABBets, run.ReportPath).
		Scan(&run.RecordedAt)
	if err != nil {
		return fmt.Errorf("failed to record governance run: %w", err)
	}
	return nil
}

// LatestGovernance returns the most recent governance run, or nil when the
// ledger is empty
func (r *Repo) LatestGovernance(ctx context.Context) (*GovernanceRun, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT run_id, run_uuid, created_at, status, decision, alerts,
		       walk_forward_roi_mean, confidence_ab_roi, confidence_ab_bets, report_path, recorded_at
		FROM governance_runs
		ORDER BY created_at DESC
		LIMIT 1`

	var run GovernanceRun
	var alertsJSON []byte
	err := r.db.QueryRowxContext(ctx, query).Scan(
		&run.RunID, &run.RunUUID, &run.CreatedAt, &run.Status, &run.Decision, &alertsJSON,
		&run.WalkForwardROIMean, &run.ConfidenceABROI, &run.ConfidenceABBets, &run.ReportPath, &run.RecordedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get latest governance run: %w", err)
	}
	if run.Alerts, err = unmarshalList(alertsJSON); err != nil {
		return nil, fmt.Errorf("failed to unmarshal alerts: %w", err)
	}
	return &run, nil
}

// RecordRuntime appends a runtime decision and sets its id
func (r *Repo) RecordRuntime(ctx context.Context, d *RuntimeDecision) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	reasonsJSON, err := marshalList(d.Reasons)
	if err != nil {
		return fmt.Errorf("failed to marshal reasons: %w", err)
	}

	query := `
		INSERT INTO runtime_decisions (created_at, action, active_policy, reasons, governance_run_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`

	if err := r.db.QueryRowxContext(ctx, query,
		d.CreatedAt, d.Action, d.ActivePolicy, reasonsJSON, d.GovernanceRunID).Scan(&d.ID); err != nil {
		return fmt.Errorf("failed to record runtime decision: %w", err)
	}
	return nil
}

// RecentRuntime returns the latest runtime decisions, newest first
func (r *Repo) RecentRuntime(ctx context.Context, limit int) ([]RuntimeDecision, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT id, created_at, action, active_policy, reasons, governance_run_id
		FROM runtime_decisions
		ORDER BY created_at DESC, id DESC
		LIMIT $1`

	rows, err := r.db.QueryxContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runtime decisions: %w", err)
	}
	defer rows.Close()

	var out []RuntimeDecision
	for rows.Next() {
		var d RuntimeDecision
		var reasonsJSON []byte
		var govID sql.NullString
		if err := rows.Scan(&d.ID, &d.CreatedAt, &d.Action, &d.ActivePolicy, &reasonsJSON, &govID); err != nil {
			return nil, fmt.Errorf("failed to scan runtime decision: %w", err)
		}
		if d.Reasons, err = unmarshalList(reasonsJSON); err != nil {
			return nil, fmt.Errorf("failed to unmarshal reasons: %w", err)
		}
		d.GovernanceRunID = govID.String
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return out, nil
}

func marshalList(items []string) ([]byte, error) {
	if items == nil {
		items = []string{}
	}
	return json.Marshal(items)
}

func unmarshalList(data []byte) ([]string, error) {
	if len(data) == 0 {
		return []string{}, nil
	}
	var items []string
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, err
	}
	return items, nil
}
