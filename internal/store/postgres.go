package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/venue-fusion/internal/db"
	"github.com/sells-group/venue-fusion/internal/model"
)

// admissionLockKey is the advisory lock serializing governor admission.
const admissionLockKey = 0x76656e7565

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

const (
	pgJobColumns = `id, city, reason, write_back, diff_report, status, last_completed_step,
	model_version, vocab_version, input_tokens, output_tokens, cache_creation_tokens,
	cache_read_tokens, cost_usd, candidate_count, signal_count, resolved_count,
	unresolved_count, conflict_count, review_count, applied_count, failed_batches,
	warnings, error, report_path, created_at, updated_at, completed_at`

	pgGetJob        = `SELECT ` + pgJobColumns + ` FROM research_jobs WHERE id = $1`
	pgDailySpend    = `SELECT COALESCE(SUM(cost_usd), 0) FROM research_jobs WHERE created_at >= $1`
	pgAdvanceJob    = `UPDATE research_jobs SET status = $1, last_completed_step = COALESCE($2, last_completed_step), completed_at = COALESCE($3, completed_at), updated_at = $4 WHERE id = $5 AND status = $6`
	pgGovernorState = `SELECT consecutive_failures, tripped, tripped_at, reset_by, reset_at FROM governor_state WHERE id = 1`
	pgWriteVenue    = `UPDATE venues SET research_confidence = $1, research_score = $2, research_tags = $3, research_conflict = $4, research_provenance = $5, research_job_id = $6, research_updated_at = $7 WHERE id = $8 AND city = $9`
)

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the most frequently used store operations.
var preparedStatements = map[string]string{
	"get_job":        pgGetJob,
	"daily_spend":    pgDailySpend,
	"advance_job":    pgAdvanceJob,
	"governor_state": pgGovernorState,
	"write_venue":    pgWriteVenue,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS research_jobs (
	id                    TEXT PRIMARY KEY,
	city                  TEXT NOT NULL,
	reason                TEXT NOT NULL,
	write_back            BOOLEAN NOT NULL DEFAULT false,
	diff_report           BOOLEAN NOT NULL DEFAULT false,
	status                TEXT NOT NULL DEFAULT 'QUEUED',
	last_completed_step   TEXT,
	model_version         TEXT NOT NULL DEFAULT '',
	vocab_version         TEXT NOT NULL DEFAULT '',
	input_tokens          INTEGER NOT NULL DEFAULT 0,
	output_tokens         INTEGER NOT NULL DEFAULT 0,
	cache_creation_tokens INTEGER NOT NULL DEFAULT 0,
	cache_read_tokens     INTEGER NOT NULL DEFAULT 0,
	cost_usd              DOUBLE PRECISION NOT NULL DEFAULT 0,
	candidate_count       INTEGER NOT NULL DEFAULT 0,
	signal_count          INTEGER NOT NULL DEFAULT 0,
	resolved_count        INTEGER NOT NULL DEFAULT 0,
	unresolved_count      INTEGER NOT NULL DEFAULT 0,
	conflict_count        INTEGER NOT NULL DEFAULT 0,
	review_count          INTEGER NOT NULL DEFAULT 0,
	applied_count         INTEGER NOT NULL DEFAULT 0,
	failed_batches        INTEGER NOT NULL DEFAULT 0,
	warnings              JSONB NOT NULL DEFAULT '[]',
	error                 TEXT NOT NULL DEFAULT '',
	report_path           TEXT NOT NULL DEFAULT '',
	created_at            TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at            TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at          TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS governor_state (
	id                   INTEGER PRIMARY KEY CHECK (id = 1),
	consecutive_failures INTEGER NOT NULL DEFAULT 0,
	tripped              BOOLEAN NOT NULL DEFAULT false,
	tripped_at           TIMESTAMPTZ,
	reset_by             TEXT NOT NULL DEFAULT '',
	reset_at             TIMESTAMPTZ
);
INSERT INTO governor_state (id) VALUES (1) ON CONFLICT DO NOTHING;

CREATE TABLE IF NOT EXISTS source_documents (
	id          TEXT PRIMARY KEY,
	city        TEXT NOT NULL,
	source_type TEXT NOT NULL,
	title       TEXT NOT NULL DEFAULT '',
	body        TEXT NOT NULL,
	engagement  DOUBLE PRECISION NOT NULL DEFAULT 0,
	authority   DOUBLE PRECISION NOT NULL DEFAULT 0,
	fetched_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS venues (
	id                  TEXT PRIMARY KEY,
	city                TEXT NOT NULL,
	name                TEXT NOT NULL,
	category            TEXT NOT NULL DEFAULT '',
	corpus_score        DOUBLE PRECISION,
	corpus_confidence   DOUBLE PRECISION,
	corpus_tags         JSONB NOT NULL DEFAULT '[]',
	corpus_source_count INTEGER NOT NULL DEFAULT 0,
	corpus_amplified    BOOLEAN NOT NULL DEFAULT false,
	corpus_scored_at    TIMESTAMPTZ,
	research_confidence DOUBLE PRECISION,
	research_score      DOUBLE PRECISION,
	research_tags       JSONB NOT NULL DEFAULT '[]',
	research_conflict   BOOLEAN NOT NULL DEFAULT false,
	research_provenance TEXT NOT NULL DEFAULT '',
	research_job_id     TEXT NOT NULL DEFAULT '',
	research_updated_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS job_bundles (
	job_id TEXT PRIMARY KEY REFERENCES research_jobs(id),
	city   TEXT NOT NULL,
	data   JSONB NOT NULL
);

CREATE TABLE IF NOT EXISTS city_syntheses (
	job_id        TEXT PRIMARY KEY REFERENCES research_jobs(id),
	city          TEXT NOT NULL,
	data          JSONB NOT NULL,
	model_version TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS venue_research_signals (
	id                    TEXT PRIMARY KEY,
	job_id                TEXT NOT NULL REFERENCES research_jobs(id),
	city                  TEXT NOT NULL,
	batch_index           INTEGER NOT NULL,
	raw_name              TEXT NOT NULL,
	venue_id              TEXT,
	resolution_status     TEXT NOT NULL DEFAULT 'pending',
	resolution_method     TEXT NOT NULL DEFAULT '',
	resolution_confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
	tags                  JSONB NOT NULL DEFAULT '[]',
	touristiness          DOUBLE PRECISION NOT NULL,
	confidence            DOUBLE PRECISION NOT NULL,
	knowledge_source      TEXT NOT NULL,
	amplification_suspect BOOLEAN NOT NULL DEFAULT false,
	conflict_note         TEXT NOT NULL DEFAULT '',
	evidence_ids          JSONB NOT NULL DEFAULT '[]'
);

CREATE TABLE IF NOT EXISTS unresolved_research_signals (
	id                TEXT PRIMARY KEY,
	city              TEXT NOT NULL,
	job_id            TEXT NOT NULL,
	signal_id         TEXT NOT NULL UNIQUE REFERENCES venue_research_signals(id),
	raw_name          TEXT NOT NULL,
	normalized_name   TEXT NOT NULL,
	attempts          INTEGER NOT NULL DEFAULT 0,
	last_attempt_at   TIMESTAMPTZ NOT NULL,
	resolved_venue_id TEXT,
	resolved_at       TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS cross_reference_results (
	id                  TEXT PRIMARY KEY,
	venue_id            TEXT NOT NULL,
	venue_name          TEXT NOT NULL,
	job_id              TEXT NOT NULL REFERENCES research_jobs(id),
	city                TEXT NOT NULL,
	provenance          TEXT NOT NULL,
	conflict            BOOLEAN NOT NULL DEFAULT false,
	score_delta         DOUBLE PRECISION NOT NULL DEFAULT 0,
	tag_overlap         DOUBLE PRECISION NOT NULL DEFAULT 0,
	corpus_score        DOUBLE PRECISION,
	research_score      DOUBLE PRECISION,
	corpus_confidence   DOUBLE PRECISION,
	research_confidence DOUBLE PRECISION,
	merged_score        DOUBLE PRECISION NOT NULL,
	merged_confidence   DOUBLE PRECISION NOT NULL,
	merged_tags         JSONB NOT NULL DEFAULT '[]',
	prior_score         DOUBLE PRECISION,
	prior_confidence    DOUBLE PRECISION,
	prior_tags          JSONB NOT NULL DEFAULT '[]',
	resolved_by         TEXT NOT NULL DEFAULT '',
	action              TEXT NOT NULL DEFAULT 'pending',
	review_status       TEXT NOT NULL DEFAULT 'none',
	reviewer            TEXT NOT NULL DEFAULT '',
	reviewed_at         TIMESTAMPTZ,
	computed_at         TIMESTAMPTZ NOT NULL,
	UNIQUE (venue_id, job_id)
);

CREATE INDEX IF NOT EXISTS idx_jobs_city_created ON research_jobs(city, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_jobs_status ON research_jobs(status);
CREATE INDEX IF NOT EXISTS idx_source_documents_city ON source_documents(city);
CREATE INDEX IF NOT EXISTS idx_venues_city ON venues(city);
CREATE INDEX IF NOT EXISTS idx_signals_job ON venue_research_signals(job_id);
CREATE INDEX IF NOT EXISTS idx_unresolved_city ON unresolved_research_signals(city) WHERE resolved_venue_id IS NULL;
CREATE INDEX IF NOT EXISTS idx_results_city_job ON cross_reference_results(city, job_id);
CREATE INDEX IF NOT EXISTS idx_results_review ON cross_reference_results(city, review_status);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// -- jobs --

func (s *PostgresStore) AdmitJob(ctx context.Context, job *model.ResearchJob, daySince time.Time, admit AdmitFunc) error {
	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(admissionLockKey)); err != nil {
			return eris.Wrap(err, "postgres: admit: lock")
		}

		var st AdmissionState
		if err := tx.QueryRow(ctx, pgDailySpend, daySince).Scan(&st.DailySpendUSD); err != nil {
			return eris.Wrap(err, "postgres: admit: daily spend")
		}
		if err := tx.QueryRow(ctx,
			`SELECT MAX(created_at) FROM research_jobs WHERE city = $1 AND status <> 'ERROR'`,
			job.City,
		).Scan(&st.LastStartedAt); err != nil {
			return eris.Wrap(err, "postgres: admit: last start")
		}
		err := tx.QueryRow(ctx,
			`SELECT id FROM research_jobs WHERE city = $1 AND status NOT IN `+terminalStatuses+`
			 ORDER BY created_at DESC LIMIT 1`,
			job.City,
		).Scan(&st.ActiveJobID)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return eris.Wrap(err, "postgres: admit: active job")
		}
		if st.Breaker, err = scanPgGovernor(tx.QueryRow(ctx, pgGovernorState)); err != nil {
			return err
		}

		if err := admit(st); err != nil {
			return err
		}

		warnings, err := json.Marshal(nonNil(job.Warnings))
		if err != nil {
			return eris.Wrap(err, "postgres: marshal warnings")
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO research_jobs (id, city, reason, write_back, diff_report, status, model_version,
				vocab_version, warnings, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			job.ID, job.City, string(job.Reason), job.WriteBack, job.DiffReport, string(job.Status),
			job.ModelVersion, job.VocabVersion, warnings, job.CreatedAt, job.UpdatedAt,
		)
		return eris.Wrap(err, "postgres: admit: insert job")
	})
}

func (s *PostgresStore) GetJob(ctx context.Context, jobID string) (*model.ResearchJob, error) {
	job, err := scanPgJob(s.pool.QueryRow(ctx, pgGetJob, jobID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: get job %s", jobID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get job %s", jobID)
	}
	return job, nil
}

func (s *PostgresStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.ResearchJob, error) {
	query := `SELECT ` + pgJobColumns + ` FROM research_jobs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.City != "" {
		query += fmt.Sprintf(` AND city = $%d`, argIdx)
		args = append(args, filter.City)
		argIdx++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if !filter.CreatedAfter.IsZero() {
		query += fmt.Sprintf(` AND created_at >= $%d`, argIdx)
		args = append(args, filter.CreatedAfter)
		argIdx++
	}
	query += ` ORDER BY created_at DESC, id`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list jobs")
	}
	defer rows.Close()

	var jobs []model.ResearchJob
	for rows.Next() {
		job, err := scanPgJob(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan job")
		}
		jobs = append(jobs, *job)
	}
	return jobs, eris.Wrap(rows.Err(), "postgres: list jobs iterate")
}

func (s *PostgresStore) AdvanceJob(ctx context.Context, jobID string, from, to model.JobStatus) error {
	if !from.CanAdvance(to) {
		return eris.Errorf("postgres: advance job %s: illegal transition %s -> %s", jobID, from, to)
	}
	now := time.Now().UTC()

	var lastStep *string
	if to.Rank() >= 0 {
		f := string(from)
		lastStep = &f
	}
	var completedAt *time.Time
	if to.Terminal() {
		completedAt = &now
	}

	tag, err := s.pool.Exec(ctx, pgAdvanceJob, string(to), lastStep, completedAt, now, jobID, string(from))
	if err != nil {
		return eris.Wrapf(err, "postgres: advance job %s", jobID)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetJob(ctx, jobID); err != nil {
			return err
		}
		return eris.Wrapf(ErrStaleStatus, "postgres: advance job %s from %s", jobID, from)
	}
	return nil
}

func (s *PostgresStore) UpdateJobProgress(ctx context.Context, job *model.ResearchJob) error {
	warnings, err := json.Marshal(nonNil(job.Warnings))
	if err != nil {
		return eris.Wrap(err, "postgres: marshal warnings")
	}
	job.UpdatedAt = time.Now().UTC()

	tag, err := s.pool.Exec(ctx,
		`UPDATE research_jobs SET model_version = $1, vocab_version = $2, input_tokens = $3,
			output_tokens = $4, cache_creation_tokens = $5, cache_read_tokens = $6, cost_usd = $7,
			candidate_count = $8, signal_count = $9, resolved_count = $10, unresolved_count = $11,
			conflict_count = $12, review_count = $13, applied_count = $14, failed_batches = $15,
			warnings = $16, error = $17, report_path = $18, updated_at = $19
		 WHERE id = $20`,
		job.ModelVersion, job.VocabVersion, job.Usage.InputTokens, job.Usage.OutputTokens,
		job.Usage.CacheCreationTokens, job.Usage.CacheReadTokens, job.Usage.Cost,
		job.CandidateCount, job.SignalCount, job.ResolvedCount, job.UnresolvedCount,
		job.ConflictCount, job.ReviewCount, job.AppliedCount, job.FailedBatches,
		warnings, job.Error, job.ReportPath, job.UpdatedAt, job.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update job progress %s", job.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: job %s", job.ID)
	}
	return nil
}

func (s *PostgresStore) DailySpend(ctx context.Context, since time.Time) (float64, error) {
	var spend float64
	err := s.pool.QueryRow(ctx, pgDailySpend, since).Scan(&spend)
	return spend, eris.Wrap(err, "postgres: daily spend")
}

// -- governor --

func (s *PostgresStore) GetGovernorState(ctx context.Context) (model.GovernorState, error) {
	return scanPgGovernor(s.pool.QueryRow(ctx, pgGovernorState))
}

func (s *PostgresStore) UpdateGovernorState(ctx context.Context, fn func(*model.GovernorState) error) (model.GovernorState, error) {
	var out model.GovernorState
	err := db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		st, err := scanPgGovernor(tx.QueryRow(ctx, pgGovernorState+` FOR UPDATE`))
		if err != nil {
			return err
		}
		if err := fn(&st); err != nil {
			return err
		}
		_, err = tx.Exec(ctx,
			`UPDATE governor_state SET consecutive_failures = $1, tripped = $2, tripped_at = $3,
				reset_by = $4, reset_at = $5 WHERE id = 1`,
			st.ConsecutiveFailures, st.Tripped, st.TrippedAt, st.ResetBy, st.ResetAt,
		)
		if err != nil {
			return eris.Wrap(err, "postgres: update governor state")
		}
		out = st
		return nil
	})
	return out, err
}

func scanPgGovernor(row pgx.Row) (model.GovernorState, error) {
	var st model.GovernorState
	err := row.Scan(&st.ConsecutiveFailures, &st.Tripped, &st.TrippedAt, &st.ResetBy, &st.ResetAt)
	return st, eris.Wrap(err, "postgres: scan governor state")
}

// -- bundle and synthesis --

func (s *PostgresStore) SaveBundle(ctx context.Context, b *model.Bundle) error {
	data, err := json.Marshal(b)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal bundle")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO job_bundles (job_id, city, data) VALUES ($1, $2, $3)
		 ON CONFLICT (job_id) DO UPDATE SET data = EXCLUDED.data`,
		b.JobID, b.City, data,
	)
	return eris.Wrapf(err, "postgres: save bundle %s", b.JobID)
}

func (s *PostgresStore) GetBundle(ctx context.Context, jobID string) (*model.Bundle, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM job_bundles WHERE job_id = $1`, jobID).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: get bundle %s", jobID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get bundle %s", jobID)
	}
	var b model.Bundle
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal bundle")
	}
	return &b, nil
}

func (s *PostgresStore) SaveSynthesis(ctx context.Context, syn *model.CityResearchSynthesis) error {
	data, err := json.Marshal(syn)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal synthesis")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO city_syntheses (job_id, city, data, model_version) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (job_id) DO UPDATE SET data = EXCLUDED.data, model_version = EXCLUDED.model_version`,
		syn.JobID, syn.City, data, syn.ModelVersion,
	)
	return eris.Wrapf(err, "postgres: save synthesis %s", syn.JobID)
}

func (s *PostgresStore) GetSynthesis(ctx context.Context, jobID string) (*model.CityResearchSynthesis, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM city_syntheses WHERE job_id = $1`, jobID).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: get synthesis %s", jobID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get synthesis %s", jobID)
	}
	var syn model.CityResearchSynthesis
	if err := json.Unmarshal(data, &syn); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal synthesis")
	}
	return &syn, nil
}

func scanPgJob(row pgx.Row) (*model.ResearchJob, error) {
	var j model.ResearchJob
	var lastStep *string
	var warnings []byte

	err := row.Scan(
		&j.ID, &j.City, &j.Reason, &j.WriteBack, &j.DiffReport, &j.Status, &lastStep,
		&j.ModelVersion, &j.VocabVersion, &j.Usage.InputTokens, &j.Usage.OutputTokens,
		&j.Usage.CacheCreationTokens, &j.Usage.CacheReadTokens, &j.Usage.Cost,
		&j.CandidateCount, &j.SignalCount, &j.ResolvedCount, &j.UnresolvedCount,
		&j.ConflictCount, &j.ReviewCount, &j.AppliedCount, &j.FailedBatches,
		&warnings, &j.Error, &j.ReportPath, &j.CreatedAt, &j.UpdatedAt, &j.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	if lastStep != nil {
		j.LastCompletedStep = model.JobStatus(*lastStep)
	}
	if j.Warnings, err = unmarshalList[model.Warning](string(warnings)); err != nil {
		return nil, err
	}
	return &j, nil
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
