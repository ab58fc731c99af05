package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/venue-fusion/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
	// admitMu serializes admission inside this process; BEGIN IMMEDIATE
	// covers other processes sharing the file.
	admitMu sync.Mutex
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
// The pragmas ride on the DSN so every pooled connection gets them, not just
// the first one.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", sqliteDSN(dsn))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	if err := db.Ping(); err != nil {
		db.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "sqlite: ping")
	}
	return &SQLiteStore{db: db}, nil
}

var sqlitePragmas = []string{
	"busy_timeout(5000)",
	"journal_mode(WAL)",
	"synchronous(NORMAL)",
	"foreign_keys(1)",
}

// sqliteDSN appends the connection pragmas and makes BeginTx take the write
// lock up front, so concurrent writers wait on busy_timeout instead of
// failing a lock upgrade.
func sqliteDSN(dsn string) string {
	params := make([]string, 0, len(sqlitePragmas)+1)
	for _, p := range sqlitePragmas {
		params = append(params, "_pragma="+p)
	}
	params = append(params, "_txlock=immediate")

	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + strings.Join(params, "&")
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS research_jobs (
	id                    TEXT PRIMARY KEY,
	city                  TEXT NOT NULL,
	reason                TEXT NOT NULL,
	write_back            INTEGER NOT NULL DEFAULT 0,
	diff_report           INTEGER NOT NULL DEFAULT 0,
	status                TEXT NOT NULL DEFAULT 'QUEUED',
	last_completed_step   TEXT,
	model_version         TEXT NOT NULL DEFAULT '',
	vocab_version         TEXT NOT NULL DEFAULT '',
	input_tokens          INTEGER NOT NULL DEFAULT 0,
	output_tokens         INTEGER NOT NULL DEFAULT 0,
	cache_creation_tokens INTEGER NOT NULL DEFAULT 0,
	cache_read_tokens     INTEGER NOT NULL DEFAULT 0,
	cost_usd              REAL NOT NULL DEFAULT 0,
	candidate_count       INTEGER NOT NULL DEFAULT 0,
	signal_count          INTEGER NOT NULL DEFAULT 0,
	resolved_count        INTEGER NOT NULL DEFAULT 0,
	unresolved_count      INTEGER NOT NULL DEFAULT 0,
	conflict_count        INTEGER NOT NULL DEFAULT 0,
	review_count          INTEGER NOT NULL DEFAULT 0,
	applied_count         INTEGER NOT NULL DEFAULT 0,
	failed_batches        INTEGER NOT NULL DEFAULT 0,
	warnings              TEXT NOT NULL DEFAULT '[]',
	error                 TEXT NOT NULL DEFAULT '',
	report_path           TEXT NOT NULL DEFAULT '',
	created_at            TEXT NOT NULL,
	updated_at            TEXT NOT NULL,
	completed_at          TEXT
);

CREATE TABLE IF NOT EXISTS governor_state (
	id                   INTEGER PRIMARY KEY CHECK (id = 1),
	consecutive_failures INTEGER NOT NULL DEFAULT 0,
	tripped              INTEGER NOT NULL DEFAULT 0,
	tripped_at           TEXT,
	reset_by             TEXT NOT NULL DEFAULT '',
	reset_at             TEXT
);
INSERT OR IGNORE INTO governor_state (id) VALUES (1);

CREATE TABLE IF NOT EXISTS source_documents (
	id          TEXT PRIMARY KEY,
	city        TEXT NOT NULL,
	source_type TEXT NOT NULL,
	title       TEXT NOT NULL DEFAULT '',
	body        TEXT NOT NULL,
	engagement  REAL NOT NULL DEFAULT 0,
	authority   REAL NOT NULL DEFAULT 0,
	fetched_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS venues (
	id                  TEXT PRIMARY KEY,
	city                TEXT NOT NULL,
	name                TEXT NOT NULL,
	category            TEXT NOT NULL DEFAULT '',
	corpus_score        REAL,
	corpus_confidence   REAL,
	corpus_tags         TEXT NOT NULL DEFAULT '[]',
	corpus_source_count INTEGER NOT NULL DEFAULT 0,
	corpus_amplified    INTEGER NOT NULL DEFAULT 0,
	corpus_scored_at    TEXT,
	research_confidence REAL,
	research_score      REAL,
	research_tags       TEXT NOT NULL DEFAULT '[]',
	research_conflict   INTEGER NOT NULL DEFAULT 0,
	research_provenance TEXT NOT NULL DEFAULT '',
	research_job_id     TEXT NOT NULL DEFAULT '',
	research_updated_at TEXT
);

CREATE TABLE IF NOT EXISTS job_bundles (
	job_id TEXT PRIMARY KEY REFERENCES research_jobs(id),
	city   TEXT NOT NULL,
	data   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS city_syntheses (
	job_id        TEXT PRIMARY KEY REFERENCES research_jobs(id),
	city          TEXT NOT NULL,
	data          TEXT NOT NULL,
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
	resolution_confidence REAL NOT NULL DEFAULT 0,
	tags                  TEXT NOT NULL DEFAULT '[]',
	touristiness          REAL NOT NULL,
	confidence            REAL NOT NULL,
	knowledge_source      TEXT NOT NULL,
	amplification_suspect INTEGER NOT NULL DEFAULT 0,
	conflict_note         TEXT NOT NULL DEFAULT '',
	evidence_ids          TEXT NOT NULL DEFAULT '[]'
);

CREATE TABLE IF NOT EXISTS unresolved_research_signals (
	id                TEXT PRIMARY KEY,
	city              TEXT NOT NULL,
	job_id            TEXT NOT NULL,
	signal_id         TEXT NOT NULL UNIQUE REFERENCES venue_research_signals(id),
	raw_name          TEXT NOT NULL,
	normalized_name   TEXT NOT NULL,
	attempts          INTEGER NOT NULL DEFAULT 0,
	last_attempt_at   TEXT NOT NULL,
	resolved_venue_id TEXT,
	resolved_at       TEXT
);

CREATE TABLE IF NOT EXISTS cross_reference_results (
	id                  TEXT PRIMARY KEY,
	venue_id            TEXT NOT NULL,
	venue_name          TEXT NOT NULL,
	job_id              TEXT NOT NULL REFERENCES research_jobs(id),
	city                TEXT NOT NULL,
	provenance          TEXT NOT NULL,
	conflict            INTEGER NOT NULL DEFAULT 0,
	score_delta         REAL NOT NULL DEFAULT 0,
	tag_overlap         REAL NOT NULL DEFAULT 0,
	corpus_score        REAL,
	research_score      REAL,
	corpus_confidence   REAL,
	research_confidence REAL,
	merged_score        REAL NOT NULL,
	merged_confidence   REAL NOT NULL,
	merged_tags         TEXT NOT NULL DEFAULT '[]',
	prior_score         REAL,
	prior_confidence    REAL,
	prior_tags          TEXT NOT NULL DEFAULT '[]',
	resolved_by         TEXT NOT NULL DEFAULT '',
	action              TEXT NOT NULL DEFAULT 'pending',
	review_status       TEXT NOT NULL DEFAULT 'none',
	reviewer            TEXT NOT NULL DEFAULT '',
	reviewed_at         TEXT,
	computed_at         TEXT NOT NULL,
	UNIQUE (venue_id, job_id)
);

CREATE INDEX IF NOT EXISTS idx_jobs_city_created ON research_jobs(city, created_at);
CREATE INDEX IF NOT EXISTS idx_jobs_status ON research_jobs(status);
CREATE INDEX IF NOT EXISTS idx_source_documents_city ON source_documents(city);
CREATE INDEX IF NOT EXISTS idx_venues_city ON venues(city);
CREATE INDEX IF NOT EXISTS idx_signals_job ON venue_research_signals(job_id);
CREATE INDEX IF NOT EXISTS idx_unresolved_city ON unresolved_research_signals(city);
CREATE INDEX IF NOT EXISTS idx_results_city_job ON cross_reference_results(city, job_id);
CREATE INDEX IF NOT EXISTS idx_results_review ON cross_reference_results(city, review_status);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// sqlQuerier is satisfied by *sql.DB, *sql.Tx and *sql.Conn.
type sqlQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	if err := fn(tx); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit tx")
}

// -- jobs --

const sqliteJobColumns = `id, city, reason, write_back, diff_report, status, last_completed_step,
	model_version, vocab_version, input_tokens, output_tokens, cache_creation_tokens,
	cache_read_tokens, cost_usd, candidate_count, signal_count, resolved_count,
	unresolved_count, conflict_count, review_count, applied_count, failed_batches,
	warnings, error, report_path, created_at, updated_at, completed_at`

const terminalStatuses = `('COMPLETE', 'VALIDATION_FAILED', 'ERROR')`

func (s *SQLiteStore) AdmitJob(ctx context.Context, job *model.ResearchJob, daySince time.Time, admit AdmitFunc) error {
	s.admitMu.Lock()
	defer s.admitMu.Unlock()

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return eris.Wrap(err, "sqlite: admit: conn")
	}
	defer conn.Close() //nolint:errcheck

	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return eris.Wrap(err, "sqlite: admit: begin")
	}
	committed := false
	defer func() {
		if !committed {
			_, _ = conn.ExecContext(context.Background(), "ROLLBACK")
		}
	}()

	state, err := s.readAdmission(ctx, conn, job.City, daySince)
	if err != nil {
		return err
	}
	if err := admit(state); err != nil {
		return err
	}

	warnings, err := marshalList(job.Warnings)
	if err != nil {
		return err
	}
	_, err = conn.ExecContext(ctx,
		`INSERT INTO research_jobs (id, city, reason, write_back, diff_report, status, model_version,
			vocab_version, warnings, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.City, string(job.Reason), job.WriteBack, job.DiffReport, string(job.Status),
		job.ModelVersion, job.VocabVersion, warnings, fmtTime(job.CreatedAt), fmtTime(job.UpdatedAt),
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: admit: insert job")
	}

	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return eris.Wrap(err, "sqlite: admit: commit")
	}
	committed = true
	return nil
}

func (s *SQLiteStore) readAdmission(ctx context.Context, q sqlQuerier, city string, daySince time.Time) (AdmissionState, error) {
	var st AdmissionState

	if err := q.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(cost_usd), 0) FROM research_jobs WHERE created_at >= ?`,
		fmtTime(daySince),
	).Scan(&st.DailySpendUSD); err != nil {
		return st, eris.Wrap(err, "sqlite: admit: daily spend")
	}

	var last sql.NullString
	if err := q.QueryRowContext(ctx,
		`SELECT MAX(created_at) FROM research_jobs WHERE city = ? AND status <> 'ERROR'`,
		city,
	).Scan(&last); err != nil {
		return st, eris.Wrap(err, "sqlite: admit: last start")
	}
	lastAt, err := parseNullTime(last)
	if err != nil {
		return st, err
	}
	st.LastStartedAt = lastAt

	err = q.QueryRowContext(ctx,
		`SELECT id FROM research_jobs WHERE city = ? AND status NOT IN `+terminalStatuses+`
		 ORDER BY created_at DESC LIMIT 1`,
		city,
	).Scan(&st.ActiveJobID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return st, eris.Wrap(err, "sqlite: admit: active job")
	}

	st.Breaker, err = scanSQLiteGovernor(q.QueryRowContext(ctx, sqliteGovernorSelect))
	if err != nil {
		return st, err
	}
	return st, nil
}

func (s *SQLiteStore) GetJob(ctx context.Context, jobID string) (*model.ResearchJob, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteJobColumns+` FROM research_jobs WHERE id = ?`, jobID)
	job, err := scanSQLiteJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: get job %s", jobID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get job %s", jobID)
	}
	return job, nil
}

func (s *SQLiteStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.ResearchJob, error) {
	query := `SELECT ` + sqliteJobColumns + ` FROM research_jobs WHERE 1=1`
	var args []any
	if filter.City != "" {
		query += ` AND city = ?`
		args = append(args, filter.City)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if !filter.CreatedAfter.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, fmtTime(filter.CreatedAfter))
	}
	query += ` ORDER BY created_at DESC, id`
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ? OFFSET ?`
	args = append(args, limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list jobs")
	}
	defer rows.Close() //nolint:errcheck

	var jobs []model.ResearchJob
	for rows.Next() {
		job, err := scanSQLiteJob(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: list jobs")
		}
		jobs = append(jobs, *job)
	}
	return jobs, eris.Wrap(rows.Err(), "sqlite: list jobs")
}

func (s *SQLiteStore) AdvanceJob(ctx context.Context, jobID string, from, to model.JobStatus) error {
	if !from.CanAdvance(to) {
		return eris.Errorf("sqlite: advance job %s: illegal transition %s -> %s", jobID, from, to)
	}
	now := time.Now().UTC()

	var lastStep any
	if to.Rank() >= 0 {
		lastStep = string(from)
	}
	var completedAt any
	if to.Terminal() {
		completedAt = fmtTime(now)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE research_jobs
		 SET status = ?, last_completed_step = COALESCE(?, last_completed_step),
		     completed_at = COALESCE(?, completed_at), updated_at = ?
		 WHERE id = ? AND status = ?`,
		string(to), lastStep, completedAt, fmtTime(now), jobID, string(from),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: advance job %s", jobID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		if _, err := s.GetJob(ctx, jobID); err != nil {
			return err
		}
		return eris.Wrapf(ErrStaleStatus, "sqlite: advance job %s from %s", jobID, from)
	}
	return nil
}

func (s *SQLiteStore) UpdateJobProgress(ctx context.Context, job *model.ResearchJob) error {
	warnings, err := marshalList(job.Warnings)
	if err != nil {
		return err
	}
	job.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE research_jobs SET model_version = ?, vocab_version = ?, input_tokens = ?,
			output_tokens = ?, cache_creation_tokens = ?, cache_read_tokens = ?, cost_usd = ?,
			candidate_count = ?, signal_count = ?, resolved_count = ?, unresolved_count = ?,
			conflict_count = ?, review_count = ?, applied_count = ?, failed_batches = ?,
			warnings = ?, error = ?, report_path = ?, updated_at = ?
		 WHERE id = ?`,
		job.ModelVersion, job.VocabVersion, job.Usage.InputTokens, job.Usage.OutputTokens,
		job.Usage.CacheCreationTokens, job.Usage.CacheReadTokens, job.Usage.Cost,
		job.CandidateCount, job.SignalCount, job.ResolvedCount, job.UnresolvedCount,
		job.ConflictCount, job.ReviewCount, job.AppliedCount, job.FailedBatches,
		warnings, job.Error, job.ReportPath, fmtTime(job.UpdatedAt), job.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update job progress %s", job.ID)
	}
	return checkRowsAffected(res, "job", job.ID)
}

func (s *SQLiteStore) DailySpend(ctx context.Context, since time.Time) (float64, error) {
	var spend float64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(cost_usd), 0) FROM research_jobs WHERE created_at >= ?`,
		fmtTime(since),
	).Scan(&spend)
	return spend, eris.Wrap(err, "sqlite: daily spend")
}

// -- governor --

const sqliteGovernorSelect = `SELECT consecutive_failures, tripped, tripped_at, reset_by, reset_at
	FROM governor_state WHERE id = 1`

func (s *SQLiteStore) GetGovernorState(ctx context.Context) (model.GovernorState, error) {
	return scanSQLiteGovernor(s.db.QueryRowContext(ctx, sqliteGovernorSelect))
}

func (s *SQLiteStore) UpdateGovernorState(ctx context.Context, fn func(*model.GovernorState) error) (model.GovernorState, error) {
	var out model.GovernorState
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		st, err := scanSQLiteGovernor(tx.QueryRowContext(ctx, sqliteGovernorSelect))
		if err != nil {
			return err
		}
		if err := fn(&st); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE governor_state SET consecutive_failures = ?, tripped = ?, tripped_at = ?,
				reset_by = ?, reset_at = ? WHERE id = 1`,
			st.ConsecutiveFailures, st.Tripped, fmtTimePtr(st.TrippedAt), st.ResetBy, fmtTimePtr(st.ResetAt),
		)
		if err != nil {
			return eris.Wrap(err, "sqlite: update governor state")
		}
		out = st
		return nil
	})
	return out, err
}

func scanSQLiteGovernor(row scannable) (model.GovernorState, error) {
	var st model.GovernorState
	var trippedAt, resetAt sql.NullString
	if err := row.Scan(&st.ConsecutiveFailures, &st.Tripped, &trippedAt, &st.ResetBy, &resetAt); err != nil {
		return st, eris.Wrap(err, "sqlite: scan governor state")
	}
	var err error
	if st.TrippedAt, err = parseNullTime(trippedAt); err != nil {
		return st, err
	}
	if st.ResetAt, err = parseNullTime(resetAt); err != nil {
		return st, err
	}
	return st, nil
}

// -- bundle and synthesis --

func (s *SQLiteStore) SaveBundle(ctx context.Context, b *model.Bundle) error {
	data, err := json.Marshal(b)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal bundle")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO job_bundles (job_id, city, data) VALUES (?, ?, ?)
		 ON CONFLICT (job_id) DO UPDATE SET data = excluded.data`,
		b.JobID, b.City, string(data),
	)
	return eris.Wrapf(err, "sqlite: save bundle %s", b.JobID)
}

func (s *SQLiteStore) GetBundle(ctx context.Context, jobID string) (*model.Bundle, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM job_bundles WHERE job_id = ?`, jobID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: get bundle %s", jobID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get bundle %s", jobID)
	}
	var b model.Bundle
	if err := json.Unmarshal([]byte(data), &b); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal bundle")
	}
	return &b, nil
}

func (s *SQLiteStore) SaveSynthesis(ctx context.Context, syn *model.CityResearchSynthesis) error {
	data, err := json.Marshal(syn)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal synthesis")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO city_syntheses (job_id, city, data, model_version) VALUES (?, ?, ?, ?)
		 ON CONFLICT (job_id) DO UPDATE SET data = excluded.data, model_version = excluded.model_version`,
		syn.JobID, syn.City, string(data), syn.ModelVersion,
	)
	return eris.Wrapf(err, "sqlite: save synthesis %s", syn.JobID)
}

func (s *SQLiteStore) GetSynthesis(ctx context.Context, jobID string) (*model.CityResearchSynthesis, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM city_syntheses WHERE job_id = ?`, jobID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: get synthesis %s", jobID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get synthesis %s", jobID)
	}
	var syn model.CityResearchSynthesis
	if err := json.Unmarshal([]byte(data), &syn); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal synthesis")
	}
	return &syn, nil
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

func scanSQLiteJob(row scannable) (*model.ResearchJob, error) {
	var j model.ResearchJob
	var lastStep, completedAt sql.NullString
	var warnings, createdAt, updatedAt string

	err := row.Scan(
		&j.ID, &j.City, &j.Reason, &j.WriteBack, &j.DiffReport, &j.Status, &lastStep,
		&j.ModelVersion, &j.VocabVersion, &j.Usage.InputTokens, &j.Usage.OutputTokens,
		&j.Usage.CacheCreationTokens, &j.Usage.CacheReadTokens, &j.Usage.Cost,
		&j.CandidateCount, &j.SignalCount, &j.ResolvedCount, &j.UnresolvedCount,
		&j.ConflictCount, &j.ReviewCount, &j.AppliedCount, &j.FailedBatches,
		&warnings, &j.Error, &j.ReportPath, &createdAt, &updatedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	j.LastCompletedStep = model.JobStatus(lastStep.String)
	if j.Warnings, err = unmarshalList[model.Warning](warnings); err != nil {
		return nil, err
	}
	if j.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if j.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if j.CompletedAt, err = parseNullTime(completedAt); err != nil {
		return nil, err
	}
	return &j, nil
}
