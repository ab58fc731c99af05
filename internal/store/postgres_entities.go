package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/venue-fusion/internal/db"
	"github.com/sells-group/venue-fusion/internal/model"
)

// -- upstream content --

func (s *PostgresStore) ListSourceDocuments(ctx context.Context, city string) ([]model.SourceDocument, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, city, source_type, title, body, engagement, authority, fetched_at
		 FROM source_documents WHERE city = $1 ORDER BY source_type, id`, city)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list source documents")
	}
	defer rows.Close()

	var docs []model.SourceDocument
	for rows.Next() {
		var d model.SourceDocument
		if err := rows.Scan(&d.ID, &d.City, &d.SourceType, &d.Title, &d.Text, &d.Engagement, &d.Authority, &d.FetchedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan source document")
		}
		docs = append(docs, d)
	}
	return docs, eris.Wrap(rows.Err(), "postgres: list source documents iterate")
}

func (s *PostgresStore) ImportSourceDocuments(ctx context.Context, docs []model.SourceDocument) error {
	if len(docs) == 0 {
		return nil
	}
	rows := make([][]any, len(docs))
	for i, d := range docs {
		if d.ID == "" {
			d.ID = uuid.New().String()
		}
		if d.FetchedAt.IsZero() {
			d.FetchedAt = time.Now().UTC()
		}
		rows[i] = []any{d.ID, d.City, d.SourceType, d.Title, d.Text, d.Engagement, d.Authority, d.FetchedAt}
	}
	_, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "source_documents",
		Columns:      []string{"id", "city", "source_type", "title", "body", "engagement", "authority", "fetched_at"},
		ConflictKeys: []string{"id"},
	}, rows)
	return eris.Wrap(err, "postgres: import source documents")
}

// -- venues --

const pgVenueColumns = `id, city, name, category, corpus_score, corpus_confidence, corpus_tags,
	corpus_source_count, corpus_amplified, corpus_scored_at, research_confidence, research_score,
	research_tags, research_conflict, research_provenance, research_job_id, research_updated_at`

func (s *PostgresStore) ListVenues(ctx context.Context, city string) ([]model.Venue, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+pgVenueColumns+` FROM venues WHERE city = $1 ORDER BY name, id`, city)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list venues")
	}
	defer rows.Close()

	var venues []model.Venue
	for rows.Next() {
		var v model.Venue
		var corpusTags, resTags []byte
		var provenance string
		if err := rows.Scan(
			&v.ID, &v.City, &v.Name, &v.Category, &v.CorpusScore, &v.CorpusConfidence, &corpusTags,
			&v.CorpusSourceCount, &v.CorpusAmplified, &v.CorpusScoredAt, &v.Research.Confidence,
			&v.Research.Score, &resTags, &v.Research.Conflict, &provenance, &v.Research.JobID,
			&v.Research.UpdatedAt,
		); err != nil {
			return nil, eris.Wrap(err, "postgres: scan venue")
		}
		v.Research.Provenance = model.Provenance(provenance)
		if v.CorpusTags, err = unmarshalList[string](string(corpusTags)); err != nil {
			return nil, err
		}
		if v.Research.Tags, err = unmarshalList[string](string(resTags)); err != nil {
			return nil, err
		}
		venues = append(venues, v)
	}
	return venues, eris.Wrap(rows.Err(), "postgres: list venues iterate")
}

// ImportVenues upserts identity and corpus columns only.
func (s *PostgresStore) ImportVenues(ctx context.Context, venues []model.Venue) error {
	if len(venues) == 0 {
		return nil
	}
	rows := make([][]any, len(venues))
	for i, v := range venues {
		if v.ID == "" {
			v.ID = uuid.New().String()
		}
		tags, err := json.Marshal(nonNil(v.CorpusTags))
		if err != nil {
			return eris.Wrap(err, "postgres: marshal corpus tags")
		}
		rows[i] = []any{
			v.ID, v.City, v.Name, v.Category, v.CorpusScore, v.CorpusConfidence, tags,
			v.CorpusSourceCount, v.CorpusAmplified, v.CorpusScoredAt,
		}
	}
	_, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table: "venues",
		Columns: []string{
			"id", "city", "name", "category", "corpus_score", "corpus_confidence", "corpus_tags",
			"corpus_source_count", "corpus_amplified", "corpus_scored_at",
		},
		ConflictKeys: []string{"id"},
	}, rows)
	return eris.Wrap(err, "postgres: import venues")
}

func (s *PostgresStore) ApplyVenueWrites(ctx context.Context, writes []model.VenueWrite) error {
	if len(writes) == 0 {
		return nil
	}
	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		for _, w := range writes {
			tags, err := json.Marshal(nonNil(w.Fields.Tags))
			if err != nil {
				return eris.Wrap(err, "postgres: marshal research tags")
			}
			tag, err := tx.Exec(ctx, pgWriteVenue,
				w.Fields.Confidence, w.Fields.Score, tags, w.Fields.Conflict,
				string(w.Fields.Provenance), w.Fields.JobID, w.Fields.UpdatedAt, w.VenueID, w.City,
			)
			if err != nil {
				return eris.Wrapf(err, "postgres: write venue %s", w.VenueID)
			}
			if tag.RowsAffected() == 0 {
				return eris.Wrapf(ErrNotFound, "postgres: venue %s in %s", w.VenueID, w.City)
			}
		}
		return nil
	})
}

// -- signals --

var pgSignalColumns = []string{
	"id", "job_id", "city", "batch_index", "raw_name", "venue_id", "resolution_status",
	"resolution_method", "resolution_confidence", "tags", "touristiness", "confidence",
	"knowledge_source", "amplification_suspect", "conflict_note", "evidence_ids",
}

func (s *PostgresStore) SaveSignals(ctx context.Context, signals []model.VenueResearchSignal) error {
	rows := make([][]any, 0, len(signals))
	for _, sig := range signals {
		tags, err := json.Marshal(nonNil(sig.Tags))
		if err != nil {
			return eris.Wrap(err, "postgres: marshal signal tags")
		}
		evidence, err := json.Marshal(nonNil(sig.EvidenceIDs))
		if err != nil {
			return eris.Wrap(err, "postgres: marshal evidence ids")
		}
		status := sig.ResolutionStatus
		if status == "" {
			status = model.ResolutionPending
		}
		var venueID *string
		if sig.VenueID != "" {
			venueID = &sig.VenueID
		}
		rows = append(rows, []any{
			sig.ID, sig.JobID, sig.City, sig.BatchIndex, sig.RawName, venueID, string(status),
			string(sig.ResolutionMethod), sig.ResolutionConfidence, tags, sig.Touristiness,
			sig.Confidence, string(sig.KnowledgeSource), sig.AmplificationSuspect, sig.ConflictNote,
			evidence,
		})
	}
	_, err := db.CopyFrom(ctx, s.pool, "venue_research_signals", pgSignalColumns, rows)
	return eris.Wrap(err, "postgres: save signals")
}

func (s *PostgresStore) ListSignals(ctx context.Context, jobID string) ([]model.VenueResearchSignal, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, job_id, city, batch_index, raw_name, venue_id, resolution_status, resolution_method,
			resolution_confidence, tags, touristiness, confidence, knowledge_source,
			amplification_suspect, conflict_note, evidence_ids
		 FROM venue_research_signals WHERE job_id = $1 ORDER BY batch_index, raw_name, id`, jobID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list signals")
	}
	defer rows.Close()

	var out []model.VenueResearchSignal
	for rows.Next() {
		var sig model.VenueResearchSignal
		var venueID *string
		var tags, evidence []byte
		if err := rows.Scan(
			&sig.ID, &sig.JobID, &sig.City, &sig.BatchIndex, &sig.RawName, &venueID,
			&sig.ResolutionStatus, &sig.ResolutionMethod, &sig.ResolutionConfidence, &tags,
			&sig.Touristiness, &sig.Confidence, &sig.KnowledgeSource, &sig.AmplificationSuspect,
			&sig.ConflictNote, &evidence,
		); err != nil {
			return nil, eris.Wrap(err, "postgres: scan signal")
		}
		if venueID != nil {
			sig.VenueID = *venueID
		}
		if sig.Tags, err = unmarshalList[string](string(tags)); err != nil {
			return nil, err
		}
		if sig.EvidenceIDs, err = unmarshalList[string](string(evidence)); err != nil {
			return nil, err
		}
		out = append(out, sig)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list signals iterate")
}

func (s *PostgresStore) SaveResolutions(ctx context.Context, jobID string, resolved []model.Resolution, unresolved []model.UnresolvedResearchSignal) error {
	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		for _, r := range resolved {
			if err := pgMarkResolved(ctx, tx, r, `job_id`, jobID); err != nil {
				return err
			}
		}
		for _, u := range unresolved {
			if _, err := tx.Exec(ctx,
				`UPDATE venue_research_signals SET resolution_status = $1, venue_id = NULL
				 WHERE id = $2 AND job_id = $3`,
				string(model.ResolutionUnresolved), u.SignalID, jobID,
			); err != nil {
				return eris.Wrapf(err, "postgres: mark unresolved %s", u.SignalID)
			}
			if u.ID == "" {
				u.ID = uuid.New().String()
			}
			if _, err := tx.Exec(ctx,
				`INSERT INTO unresolved_research_signals (id, city, job_id, signal_id, raw_name,
					normalized_name, attempts, last_attempt_at)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
				 ON CONFLICT (signal_id) DO UPDATE SET attempts = EXCLUDED.attempts,
					last_attempt_at = EXCLUDED.last_attempt_at`,
				u.ID, u.City, u.JobID, u.SignalID, u.RawName, u.NormalizedName, u.Attempts, u.LastAttemptAt,
			); err != nil {
				return eris.Wrapf(err, "postgres: queue unresolved %s", u.SignalID)
			}
		}
		return nil
	})
}

func pgMarkResolved(ctx context.Context, tx pgx.Tx, r model.Resolution, scopeCol, scopeVal string) error {
	tag, err := tx.Exec(ctx,
		fmt.Sprintf(`UPDATE venue_research_signals SET venue_id = $1, resolution_status = $2,
			resolution_method = $3, resolution_confidence = $4
		 WHERE id = $5 AND %s = $6`, scopeCol),
		r.VenueID, string(model.ResolutionResolved), string(r.Method), r.Confidence, r.SignalID, scopeVal,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: resolve signal %s", r.SignalID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: signal %s", r.SignalID)
	}
	return nil
}

func (s *PostgresStore) ListUnresolved(ctx context.Context, city string) ([]model.UnresolvedResearchSignal, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, city, job_id, signal_id, raw_name, normalized_name, attempts, last_attempt_at
		 FROM unresolved_research_signals
		 WHERE city = $1 AND resolved_venue_id IS NULL
		 ORDER BY last_attempt_at, id`, city)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list unresolved")
	}
	defer rows.Close()

	var out []model.UnresolvedResearchSignal
	for rows.Next() {
		var u model.UnresolvedResearchSignal
		if err := rows.Scan(&u.ID, &u.City, &u.JobID, &u.SignalID, &u.RawName, &u.NormalizedName, &u.Attempts, &u.LastAttemptAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan unresolved")
		}
		out = append(out, u)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list unresolved iterate")
}

func (s *PostgresStore) UpdateUnresolved(ctx context.Context, city string, resolved []model.Resolution, attempted []string, at time.Time) error {
	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		for _, r := range resolved {
			if _, err := tx.Exec(ctx,
				`UPDATE unresolved_research_signals
				 SET resolved_venue_id = $1, resolved_at = $2, attempts = attempts + 1, last_attempt_at = $2
				 WHERE signal_id = $3 AND city = $4`,
				r.VenueID, at, r.SignalID, city,
			); err != nil {
				return eris.Wrapf(err, "postgres: close unresolved %s", r.SignalID)
			}
			if err := pgMarkResolved(ctx, tx, r, `city`, city); err != nil {
				return err
			}
		}
		for _, id := range attempted {
			if _, err := tx.Exec(ctx,
				`UPDATE unresolved_research_signals SET attempts = attempts + 1, last_attempt_at = $1
				 WHERE signal_id = $2 AND city = $3`,
				at, id, city,
			); err != nil {
				return eris.Wrapf(err, "postgres: bump unresolved %s", id)
			}
		}
		return nil
	})
}

// -- cross-reference results --

var pgResultColumns = []string{
	"id", "venue_id", "venue_name", "job_id", "city", "provenance", "conflict", "score_delta",
	"tag_overlap", "corpus_score", "research_score", "corpus_confidence", "research_confidence",
	"merged_score", "merged_confidence", "merged_tags", "prior_score", "prior_confidence",
	"prior_tags", "resolved_by", "action", "review_status", "reviewer", "reviewed_at", "computed_at",
}

// pgResultRecomputed are the columns a recomputation may overwrite; the
// write-back and review columns survive a rerun.
var pgResultRecomputed = []string{
	"venue_name", "provenance", "conflict", "score_delta", "tag_overlap", "corpus_score",
	"research_score", "corpus_confidence", "research_confidence", "merged_score",
	"merged_confidence", "merged_tags", "prior_score", "prior_confidence", "prior_tags",
	"resolved_by", "computed_at",
}

const pgResultSelect = `SELECT id, venue_id, venue_name, job_id, city, provenance, conflict, score_delta,
	tag_overlap, corpus_score, research_score, corpus_confidence, research_confidence, merged_score,
	merged_confidence, merged_tags, prior_score, prior_confidence, prior_tags, resolved_by, action,
	review_status, reviewer, reviewed_at, computed_at FROM cross_reference_results`

// SaveResults upserts by (venue_id, job_id) through the bulk COPY path.
func (s *PostgresStore) SaveResults(ctx context.Context, results []model.CrossReferenceResult) error {
	rows := make([][]any, 0, len(results))
	for _, r := range results {
		merged, err := json.Marshal(nonNil(r.MergedTags))
		if err != nil {
			return eris.Wrap(err, "postgres: marshal merged tags")
		}
		prior, err := json.Marshal(nonNil(r.PriorTags))
		if err != nil {
			return eris.Wrap(err, "postgres: marshal prior tags")
		}
		action, review := r.Action, r.ReviewStatus
		if action == "" {
			action = model.ActionPending
		}
		if review == "" {
			review = model.ReviewNone
		}
		rows = append(rows, []any{
			r.ID, r.VenueID, r.VenueName, r.JobID, r.City, string(r.Provenance), r.Conflict,
			r.ScoreDelta, r.TagOverlap, r.CorpusScore, r.ResearchScore, r.CorpusConfidence,
			r.ResearchConfidence, r.MergedScore, r.MergedConfidence, merged, r.PriorScore,
			r.PriorConfidence, prior, string(r.ResolvedBy), string(action), string(review),
			r.Reviewer, r.ReviewedAt, r.ComputedAt,
		})
	}
	_, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "cross_reference_results",
		Columns:      pgResultColumns,
		ConflictKeys: []string{"venue_id", "job_id"},
		UpdateCols:   pgResultRecomputed,
	}, rows)
	return eris.Wrap(err, "postgres: save results")
}

func (s *PostgresStore) ListResults(ctx context.Context, filter ResultFilter) ([]model.CrossReferenceResult, error) {
	if filter.City == "" {
		return nil, eris.New("postgres: list results: city is required")
	}
	query := pgResultSelect + ` WHERE city = $1`
	args := []any{filter.City}
	argIdx := 2

	if filter.JobID != "" {
		query += fmt.Sprintf(` AND job_id = $%d`, argIdx)
		args = append(args, filter.JobID)
		argIdx++
	}
	if filter.ReviewStatus != "" {
		query += fmt.Sprintf(` AND review_status = $%d`, argIdx)
		args = append(args, string(filter.ReviewStatus))
		argIdx++
	}
	query += ` ORDER BY venue_name, venue_id, computed_at`
	if filter.Limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, argIdx)
		args = append(args, filter.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list results")
	}
	defer rows.Close()

	var out []model.CrossReferenceResult
	for rows.Next() {
		r, err := scanPgResult(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan result")
		}
		out = append(out, *r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list results iterate")
}

func (s *PostgresStore) GetResult(ctx context.Context, resultID string) (*model.CrossReferenceResult, error) {
	r, err := scanPgResult(s.pool.QueryRow(ctx, pgResultSelect+` WHERE id = $1`, resultID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: get result %s", resultID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get result %s", resultID)
	}
	return r, nil
}

func (s *PostgresStore) RecordResultActions(ctx context.Context, actions []ResultAction) error {
	if len(actions) == 0 {
		return nil
	}
	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		for _, a := range actions {
			tag, err := tx.Exec(ctx,
				`UPDATE cross_reference_results SET action = $1, review_status = $2 WHERE id = $3`,
				string(a.Action), string(a.ReviewStatus), a.ResultID,
			)
			if err != nil {
				return eris.Wrapf(err, "postgres: record action %s", a.ResultID)
			}
			if tag.RowsAffected() == 0 {
				return eris.Wrapf(ErrNotFound, "postgres: result %s", a.ResultID)
			}
		}
		return nil
	})
}

func (s *PostgresStore) SetReview(ctx context.Context, resultID string, status model.ReviewStatus, reviewer string, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE cross_reference_results SET review_status = $1, reviewer = $2, reviewed_at = $3 WHERE id = $4`,
		string(status), reviewer, at, resultID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set review %s", resultID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: result %s", resultID)
	}
	return nil
}

func scanPgResult(row pgx.Row) (*model.CrossReferenceResult, error) {
	var r model.CrossReferenceResult
	var merged, prior []byte

	err := row.Scan(
		&r.ID, &r.VenueID, &r.VenueName, &r.JobID, &r.City, &r.Provenance, &r.Conflict,
		&r.ScoreDelta, &r.TagOverlap, &r.CorpusScore, &r.ResearchScore, &r.CorpusConfidence,
		&r.ResearchConfidence, &r.MergedScore, &r.MergedConfidence, &merged, &r.PriorScore,
		&r.PriorConfidence, &prior, &r.ResolvedBy, &r.Action, &r.ReviewStatus, &r.Reviewer,
		&r.ReviewedAt, &r.ComputedAt,
	)
	if err != nil {
		return nil, err
	}
	if r.MergedTags, err = unmarshalList[string](string(merged)); err != nil {
		return nil, err
	}
	if r.PriorTags, err = unmarshalList[string](string(prior)); err != nil {
		return nil, err
	}
	return &r, nil
}
