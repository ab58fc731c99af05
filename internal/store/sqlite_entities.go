package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/venue-fusion/internal/model"
)

// -- upstream content --

func (s *SQLiteStore) ListSourceDocuments(ctx context.Context, city string) ([]model.SourceDocument, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, city, source_type, title, body, engagement, authority, fetched_at
		 FROM source_documents WHERE city = ? ORDER BY source_type, id`, city)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list source documents")
	}
	defer rows.Close() //nolint:errcheck

	var docs []model.SourceDocument
	for rows.Next() {
		var d model.SourceDocument
		var fetchedAt string
		if err := rows.Scan(&d.ID, &d.City, &d.SourceType, &d.Title, &d.Text, &d.Engagement, &d.Authority, &fetchedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan source document")
		}
		if d.FetchedAt, err = parseTime(fetchedAt); err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, eris.Wrap(rows.Err(), "sqlite: list source documents")
}

func (s *SQLiteStore) ImportSourceDocuments(ctx context.Context, docs []model.SourceDocument) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, d := range docs {
			if d.ID == "" {
				d.ID = uuid.New().String()
			}
			fetched := d.FetchedAt
			if fetched.IsZero() {
				fetched = time.Now().UTC()
			}
			_, err := tx.ExecContext(ctx,
				`INSERT INTO source_documents (id, city, source_type, title, body, engagement, authority, fetched_at)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
				 ON CONFLICT (id) DO UPDATE SET city = excluded.city, source_type = excluded.source_type,
					title = excluded.title, body = excluded.body, engagement = excluded.engagement,
					authority = excluded.authority, fetched_at = excluded.fetched_at`,
				d.ID, d.City, d.SourceType, d.Title, d.Text, d.Engagement, d.Authority, fmtTime(fetched),
			)
			if err != nil {
				return eris.Wrapf(err, "sqlite: import source document %s", d.ID)
			}
		}
		return nil
	})
}

// -- venues --

const sqliteVenueColumns = `id, city, name, category, corpus_score, corpus_confidence, corpus_tags,
	corpus_source_count, corpus_amplified, corpus_scored_at, research_confidence, research_score,
	research_tags, research_conflict, research_provenance, research_job_id, research_updated_at`

func (s *SQLiteStore) ListVenues(ctx context.Context, city string) ([]model.Venue, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteVenueColumns+` FROM venues WHERE city = ? ORDER BY name, id`, city)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list venues")
	}
	defer rows.Close() //nolint:errcheck

	var venues []model.Venue
	for rows.Next() {
		v, err := scanSQLiteVenue(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan venue")
		}
		venues = append(venues, *v)
	}
	return venues, eris.Wrap(rows.Err(), "sqlite: list venues")
}

// ImportVenues upserts identity and corpus columns only. Research columns
// are left untouched.
func (s *SQLiteStore) ImportVenues(ctx context.Context, venues []model.Venue) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, v := range venues {
			if v.ID == "" {
				v.ID = uuid.New().String()
			}
			tags, err := marshalList(v.CorpusTags)
			if err != nil {
				return err
			}
			_, err = tx.ExecContext(ctx,
				`INSERT INTO venues (id, city, name, category, corpus_score, corpus_confidence, corpus_tags,
					corpus_source_count, corpus_amplified, corpus_scored_at)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
				 ON CONFLICT (id) DO UPDATE SET city = excluded.city, name = excluded.name,
					category = excluded.category, corpus_score = excluded.corpus_score,
					corpus_confidence = excluded.corpus_confidence, corpus_tags = excluded.corpus_tags,
					corpus_source_count = excluded.corpus_source_count,
					corpus_amplified = excluded.corpus_amplified, corpus_scored_at = excluded.corpus_scored_at`,
				v.ID, v.City, v.Name, v.Category, nullFloat(v.CorpusScore), nullFloat(v.CorpusConfidence),
				tags, v.CorpusSourceCount, v.CorpusAmplified, fmtTimePtr(v.CorpusScoredAt),
			)
			if err != nil {
				return eris.Wrapf(err, "sqlite: import venue %s", v.ID)
			}
		}
		return nil
	})
}

func (s *SQLiteStore) ApplyVenueWrites(ctx context.Context, writes []model.VenueWrite) error {
	if len(writes) == 0 {
		return nil
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, w := range writes {
			tags, err := marshalList(w.Fields.Tags)
			if err != nil {
				return err
			}
			res, err := tx.ExecContext(ctx,
				`UPDATE venues SET research_confidence = ?, research_score = ?, research_tags = ?,
					research_conflict = ?, research_provenance = ?, research_job_id = ?, research_updated_at = ?
				 WHERE id = ? AND city = ?`,
				nullFloat(w.Fields.Confidence), nullFloat(w.Fields.Score), tags, w.Fields.Conflict,
				string(w.Fields.Provenance), w.Fields.JobID, fmtTimePtr(w.Fields.UpdatedAt),
				w.VenueID, w.City,
			)
			if err != nil {
				return eris.Wrapf(err, "sqlite: write venue %s", w.VenueID)
			}
			if err := checkRowsAffected(res, "venue", w.VenueID); err != nil {
				return err
			}
		}
		return nil
	})
}

func scanSQLiteVenue(row scannable) (*model.Venue, error) {
	var v model.Venue
	var corpusScore, corpusConf, resConf, resScore sql.NullFloat64
	var corpusTags, resTags, provenance string
	var scoredAt, updatedAt sql.NullString

	err := row.Scan(
		&v.ID, &v.City, &v.Name, &v.Category, &corpusScore, &corpusConf, &corpusTags,
		&v.CorpusSourceCount, &v.CorpusAmplified, &scoredAt, &resConf, &resScore,
		&resTags, &v.Research.Conflict, &provenance, &v.Research.JobID, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	v.CorpusScore = floatPtr(corpusScore)
	v.CorpusConfidence = floatPtr(corpusConf)
	v.Research.Confidence = floatPtr(resConf)
	v.Research.Score = floatPtr(resScore)
	v.Research.Provenance = model.Provenance(provenance)
	if v.CorpusTags, err = unmarshalList[string](corpusTags); err != nil {
		return nil, err
	}
	if v.Research.Tags, err = unmarshalList[string](resTags); err != nil {
		return nil, err
	}
	if v.CorpusScoredAt, err = parseNullTime(scoredAt); err != nil {
		return nil, err
	}
	if v.Research.UpdatedAt, err = parseNullTime(updatedAt); err != nil {
		return nil, err
	}
	return &v, nil
}

// -- signals --

const sqliteSignalColumns = `id, job_id, city, batch_index, raw_name, venue_id, resolution_status,
	resolution_method, resolution_confidence, tags, touristiness, confidence, knowledge_source,
	amplification_suspect, conflict_note, evidence_ids`

func (s *SQLiteStore) SaveSignals(ctx context.Context, signals []model.VenueResearchSignal) error {
	if len(signals) == 0 {
		return nil
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, sig := range signals {
			tags, err := marshalList(sig.Tags)
			if err != nil {
				return err
			}
			evidence, err := marshalList(sig.EvidenceIDs)
			if err != nil {
				return err
			}
			status := sig.ResolutionStatus
			if status == "" {
				status = model.ResolutionPending
			}
			_, err = tx.ExecContext(ctx,
				`INSERT INTO venue_research_signals (`+sqliteSignalColumns+`)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
				 ON CONFLICT (id) DO NOTHING`,
				sig.ID, sig.JobID, sig.City, sig.BatchIndex, sig.RawName, nullString(sig.VenueID),
				string(status), string(sig.ResolutionMethod), sig.ResolutionConfidence, tags,
				sig.Touristiness, sig.Confidence, string(sig.KnowledgeSource), sig.AmplificationSuspect,
				sig.ConflictNote, evidence,
			)
			if err != nil {
				return eris.Wrapf(err, "sqlite: insert signal %s", sig.ID)
			}
		}
		return nil
	})
}

func (s *SQLiteStore) ListSignals(ctx context.Context, jobID string) ([]model.VenueResearchSignal, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteSignalColumns+` FROM venue_research_signals WHERE job_id = ?
		 ORDER BY batch_index, raw_name, id`, jobID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list signals")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.VenueResearchSignal
	for rows.Next() {
		var sig model.VenueResearchSignal
		var venueID sql.NullString
		var tags, evidence string
		if err := rows.Scan(
			&sig.ID, &sig.JobID, &sig.City, &sig.BatchIndex, &sig.RawName, &venueID,
			&sig.ResolutionStatus, &sig.ResolutionMethod, &sig.ResolutionConfidence, &tags,
			&sig.Touristiness, &sig.Confidence, &sig.KnowledgeSource, &sig.AmplificationSuspect,
			&sig.ConflictNote, &evidence,
		); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan signal")
		}
		sig.VenueID = venueID.String
		if sig.Tags, err = unmarshalList[string](tags); err != nil {
			return nil, err
		}
		if sig.EvidenceIDs, err = unmarshalList[string](evidence); err != nil {
			return nil, err
		}
		out = append(out, sig)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list signals")
}

func (s *SQLiteStore) SaveResolutions(ctx context.Context, jobID string, resolved []model.Resolution, unresolved []model.UnresolvedResearchSignal) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, r := range resolved {
			if err := sqliteMarkResolved(ctx, tx, r, `job_id = ?`, jobID); err != nil {
				return err
			}
		}
		for _, u := range unresolved {
			if _, err := tx.ExecContext(ctx,
				`UPDATE venue_research_signals SET resolution_status = ?, venue_id = NULL
				 WHERE id = ? AND job_id = ?`,
				string(model.ResolutionUnresolved), u.SignalID, jobID,
			); err != nil {
				return eris.Wrapf(err, "sqlite: mark unresolved %s", u.SignalID)
			}
			if u.ID == "" {
				u.ID = uuid.New().String()
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO unresolved_research_signals (id, city, job_id, signal_id, raw_name,
					normalized_name, attempts, last_attempt_at)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
				 ON CONFLICT (signal_id) DO UPDATE SET attempts = excluded.attempts,
					last_attempt_at = excluded.last_attempt_at`,
				u.ID, u.City, u.JobID, u.SignalID, u.RawName, u.NormalizedName, u.Attempts,
				fmtTime(u.LastAttemptAt),
			); err != nil {
				return eris.Wrapf(err, "sqlite: queue unresolved %s", u.SignalID)
			}
		}
		return nil
	})
}

func sqliteMarkResolved(ctx context.Context, tx *sql.Tx, r model.Resolution, scope string, scopeArg string) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE venue_research_signals SET venue_id = ?, resolution_status = ?, resolution_method = ?,
			resolution_confidence = ?
		 WHERE id = ? AND `+scope,
		r.VenueID, string(model.ResolutionResolved), string(r.Method), r.Confidence, r.SignalID, scopeArg,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: resolve signal %s", r.SignalID)
	}
	return checkRowsAffected(res, "signal", r.SignalID)
}

func (s *SQLiteStore) ListUnresolved(ctx context.Context, city string) ([]model.UnresolvedResearchSignal, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, city, job_id, signal_id, raw_name, normalized_name, attempts, last_attempt_at
		 FROM unresolved_research_signals
		 WHERE city = ? AND resolved_venue_id IS NULL
		 ORDER BY last_attempt_at, id`, city)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list unresolved")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.UnresolvedResearchSignal
	for rows.Next() {
		var u model.UnresolvedResearchSignal
		var lastAttempt string
		if err := rows.Scan(&u.ID, &u.City, &u.JobID, &u.SignalID, &u.RawName, &u.NormalizedName, &u.Attempts, &lastAttempt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan unresolved")
		}
		if u.LastAttemptAt, err = parseTime(lastAttempt); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list unresolved")
}

func (s *SQLiteStore) UpdateUnresolved(ctx context.Context, city string, resolved []model.Resolution, attempted []string, at time.Time) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, r := range resolved {
			if _, err := tx.ExecContext(ctx,
				`UPDATE unresolved_research_signals
				 SET resolved_venue_id = ?, resolved_at = ?, attempts = attempts + 1, last_attempt_at = ?
				 WHERE signal_id = ? AND city = ?`,
				r.VenueID, fmtTime(at), fmtTime(at), r.SignalID, city,
			); err != nil {
				return eris.Wrapf(err, "sqlite: close unresolved %s", r.SignalID)
			}
			if err := sqliteMarkResolved(ctx, tx, r, `city = ?`, city); err != nil {
				return err
			}
		}
		for _, id := range attempted {
			if _, err := tx.ExecContext(ctx,
				`UPDATE unresolved_research_signals SET attempts = attempts + 1, last_attempt_at = ?
				 WHERE signal_id = ? AND city = ?`,
				fmtTime(at), id, city,
			); err != nil {
				return eris.Wrapf(err, "sqlite: bump unresolved %s", id)
			}
		}
		return nil
	})
}

// -- cross-reference results --

const sqliteResultColumns = `id, venue_id, venue_name, job_id, city, provenance, conflict, score_delta,
	tag_overlap, corpus_score, research_score, corpus_confidence, research_confidence, merged_score,
	merged_confidence, merged_tags, prior_score, prior_confidence, prior_tags, resolved_by, action,
	review_status, reviewer, reviewed_at, computed_at`

func (s *SQLiteStore) SaveResults(ctx context.Context, results []model.CrossReferenceResult) error {
	if len(results) == 0 {
		return nil
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, r := range results {
			merged, err := marshalList(r.MergedTags)
			if err != nil {
				return err
			}
			prior, err := marshalList(r.PriorTags)
			if err != nil {
				return err
			}
			action, review := r.Action, r.ReviewStatus
			if action == "" {
				action = model.ActionPending
			}
			if review == "" {
				review = model.ReviewNone
			}
			_, err = tx.ExecContext(ctx,
				`INSERT INTO cross_reference_results (`+sqliteResultColumns+`)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
				 ON CONFLICT (venue_id, job_id) DO UPDATE SET venue_name = excluded.venue_name,
					provenance = excluded.provenance, conflict = excluded.conflict,
					score_delta = excluded.score_delta, tag_overlap = excluded.tag_overlap,
					corpus_score = excluded.corpus_score, research_score = excluded.research_score,
					corpus_confidence = excluded.corpus_confidence,
					research_confidence = excluded.research_confidence,
					merged_score = excluded.merged_score, merged_confidence = excluded.merged_confidence,
					merged_tags = excluded.merged_tags, prior_score = excluded.prior_score,
					prior_confidence = excluded.prior_confidence, prior_tags = excluded.prior_tags,
					resolved_by = excluded.resolved_by, computed_at = excluded.computed_at`,
				r.ID, r.VenueID, r.VenueName, r.JobID, r.City, string(r.Provenance), r.Conflict,
				r.ScoreDelta, r.TagOverlap, nullFloat(r.CorpusScore), nullFloat(r.ResearchScore),
				nullFloat(r.CorpusConfidence), nullFloat(r.ResearchConfidence), r.MergedScore,
				r.MergedConfidence, merged, nullFloat(r.PriorScore), nullFloat(r.PriorConfidence),
				prior, string(r.ResolvedBy), string(action), string(review), r.Reviewer,
				fmtTimePtr(r.ReviewedAt), fmtTime(r.ComputedAt),
			)
			if err != nil {
				return eris.Wrapf(err, "sqlite: upsert result %s/%s", r.VenueID, r.JobID)
			}
		}
		return nil
	})
}

func (s *SQLiteStore) ListResults(ctx context.Context, filter ResultFilter) ([]model.CrossReferenceResult, error) {
	if filter.City == "" {
		return nil, eris.New("sqlite: list results: city is required")
	}
	query := `SELECT ` + sqliteResultColumns + ` FROM cross_reference_results WHERE city = ?`
	args := []any{filter.City}
	if filter.JobID != "" {
		query += ` AND job_id = ?`
		args = append(args, filter.JobID)
	}
	if filter.ReviewStatus != "" {
		query += ` AND review_status = ?`
		args = append(args, string(filter.ReviewStatus))
	}
	query += ` ORDER BY venue_name, venue_id, computed_at`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list results")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.CrossReferenceResult
	for rows.Next() {
		r, err := scanSQLiteResult(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan result")
		}
		out = append(out, *r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list results")
}

func (s *SQLiteStore) GetResult(ctx context.Context, resultID string) (*model.CrossReferenceResult, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteResultColumns+` FROM cross_reference_results WHERE id = ?`, resultID)
	r, err := scanSQLiteResult(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: get result %s", resultID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get result %s", resultID)
	}
	return r, nil
}

func (s *SQLiteStore) RecordResultActions(ctx context.Context, actions []ResultAction) error {
	if len(actions) == 0 {
		return nil
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, a := range actions {
			res, err := tx.ExecContext(ctx,
				`UPDATE cross_reference_results SET action = ?, review_status = ? WHERE id = ?`,
				string(a.Action), string(a.ReviewStatus), a.ResultID,
			)
			if err != nil {
				return eris.Wrapf(err, "sqlite: record action %s", a.ResultID)
			}
			if err := checkRowsAffected(res, "result", a.ResultID); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *SQLiteStore) SetReview(ctx context.Context, resultID string, status model.ReviewStatus, reviewer string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE cross_reference_results SET review_status = ?, reviewer = ?, reviewed_at = ? WHERE id = ?`,
		string(status), reviewer, fmtTime(at), resultID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set review %s", resultID)
	}
	return checkRowsAffected(res, "result", resultID)
}

func scanSQLiteResult(row scannable) (*model.CrossReferenceResult, error) {
	var r model.CrossReferenceResult
	var corpusScore, researchScore, corpusConf, researchConf, priorScore, priorConf sql.NullFloat64
	var merged, prior, computedAt string
	var reviewedAt sql.NullString

	err := row.Scan(
		&r.ID, &r.VenueID, &r.VenueName, &r.JobID, &r.City, &r.Provenance, &r.Conflict,
		&r.ScoreDelta, &r.TagOverlap, &corpusScore, &researchScore, &corpusConf, &researchConf,
		&r.MergedScore, &r.MergedConfidence, &merged, &priorScore, &priorConf, &prior,
		&r.ResolvedBy, &r.Action, &r.ReviewStatus, &r.Reviewer, &reviewedAt, &computedAt,
	)
	if err != nil {
		return nil, err
	}
	r.CorpusScore = floatPtr(corpusScore)
	r.ResearchScore = floatPtr(researchScore)
	r.CorpusConfidence = floatPtr(corpusConf)
	r.ResearchConfidence = floatPtr(researchConf)
	r.PriorScore = floatPtr(priorScore)
	r.PriorConfidence = floatPtr(priorConf)
	if r.MergedTags, err = unmarshalList[string](merged); err != nil {
		return nil, err
	}
	if r.PriorTags, err = unmarshalList[string](prior); err != nil {
		return nil, err
	}
	if r.ReviewedAt, err = parseNullTime(reviewedAt); err != nil {
		return nil, err
	}
	if r.ComputedAt, err = parseTime(computedAt); err != nil {
		return nil, err
	}
	return &r, nil
}
