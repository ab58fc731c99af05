// Package research sequences one fusion job through its state machine:
// bundle, two generative passes, validation, resolution, cross-reference and
// write-back. Every step persists its artefact before the job advances, so an
// interrupted job can be resumed from its last status.
package research

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/venue-fusion/internal/bundle"
	"github.com/sells-group/venue-fusion/internal/cost"
	"github.com/sells-group/venue-fusion/internal/governor"
	"github.com/sells-group/venue-fusion/internal/model"
	"github.com/sells-group/venue-fusion/internal/resolve"
	"github.com/sells-group/venue-fusion/internal/store"
	"github.com/sells-group/venue-fusion/internal/synthesis"
	"github.com/sells-group/venue-fusion/internal/validate"
	"github.com/sells-group/venue-fusion/internal/vocab"
	"github.com/sells-group/venue-fusion/internal/writeback"
	"github.com/sells-group/venue-fusion/internal/xref"
)

// Pre-flight refusals, returned before a job is admitted.
var (
	ErrCorpusNotScored = eris.New("research: corpus scoring has not completed for city")
	ErrUnpricedModel   = eris.New("research: model has no configured price")
	ErrJobTerminal     = eris.New("research: job is already terminal")
)

// VocabLoader returns the current controlled vocabulary.
type VocabLoader func(ctx context.Context) (*vocab.Vocabulary, error)

// Reporter writes the optional diff report for a finished job and returns
// its location.
type Reporter interface {
	Write(ctx context.Context, job *model.ResearchJob, results []model.CrossReferenceResult) (string, error)
}

// Observer receives job lifecycle events. The metrics package implements it.
type Observer interface {
	JobFinished(job *model.ResearchJob)
	Refused(reason string)
	Written(sum writeback.Summary)
}

// Deps holds everything the orchestrator drives. Reporter and Observer are
// optional.
type Deps struct {
	Store     store.Store
	Governor  *governor.Governor
	Assembler *bundle.Assembler
	Vocab     VocabLoader
	Engine    *synthesis.Engine
	Pricing   *cost.Calculator
	Validator *validate.Gate
	Resolver  *resolve.Resolver
	Scorer    *xref.Scorer
	WriteBack *writeback.Gate
	Reporter  Reporter
	Observer  Observer
}

// TriggerRequest asks for a research job for one city.
type TriggerRequest struct {
	City       string              `json:"city"`
	Reason     model.TriggerReason `json:"reason"`
	WriteBack  bool                `json:"write_back"`
	DiffReport bool                `json:"diff_report"`
}

// Outcome is the result of a job that reached a terminal status, or stopped
// resumably on cancellation.
type Outcome struct {
	Job        *model.ResearchJob           `json:"job"`
	Validation *validate.Report             `json:"validation,omitempty"`
	WriteBack  writeback.Summary            `json:"write_back"`
	Results    []model.CrossReferenceResult `json:"-"`
}

// Orchestrator runs research jobs. Jobs for different cities run
// concurrently; one city runs at most one job at a time in this process.
type Orchestrator struct {
	d     Deps
	locks *cityLocks
}

// New creates an Orchestrator.
func New(d Deps) *Orchestrator {
	return &Orchestrator{d: d, locks: newCityLocks()}
}

// Trigger runs pre-flight checks, asks the governor for admission and runs the
// admitted job to a terminal status. Refusals and pre-flight failures return
// an error with no job. A job that fails inside the pipeline is returned as an
// Outcome with a failure status and a nil error.
func (o *Orchestrator) Trigger(ctx context.Context, req TriggerRequest) (*Outcome, error) {
	city := governor.NormalizeCity(req.City)
	if err := o.preflight(ctx, city, req.Reason); err != nil {
		o.refused(err)
		return nil, err
	}

	if !o.locks.tryLock(city) {
		err := eris.Wrapf(governor.ErrJobActive, "research: %s is running in this process", city)
		o.refused(err)
		return nil, err
	}
	defer o.locks.unlock(city)

	job, err := o.d.Governor.Admit(ctx, governor.Request{
		City:       city,
		Reason:     req.Reason,
		WriteBack:  req.WriteBack,
		DiffReport: req.DiffReport,
	})
	if err != nil {
		o.refused(err)
		return nil, err
	}

	job.ModelVersion = o.d.Engine.Model()
	if err := o.d.Store.UpdateJobProgress(ctx, job); err != nil {
		return nil, eris.Wrapf(err, "research: record model for job %s", job.ID)
	}
	return o.execute(ctx, job)
}

// Resume continues a non-terminal job from its persisted status. Pass-B
// batches whose signals were already saved are skipped.
func (o *Orchestrator) Resume(ctx context.Context, jobID string) (*Outcome, error) {
	job, err := o.d.Store.GetJob(ctx, jobID)
	if err != nil {
		return nil, eris.Wrapf(err, "research: load job %s", jobID)
	}
	if job.Status.Terminal() {
		return nil, eris.Wrapf(ErrJobTerminal, "research: job %s is %s", job.ID, job.Status)
	}
	if !o.locks.tryLock(job.City) {
		return nil, eris.Wrapf(governor.ErrJobActive, "research: %s is running in this process", job.City)
	}
	defer o.locks.unlock(job.City)

	zap.L().Info("research: resuming job",
		zap.String("city", job.City),
		zap.String("job_id", job.ID),
		zap.String("status", string(job.Status)),
	)
	return o.execute(ctx, job)
}

// RetryUnresolved re-resolves a city's queued signals, scores the venues they
// now resolve to under their originating jobs and sends the new results
// through write-back with each job's own write-back choice. It returns how
// many signals resolved.
func (o *Orchestrator) RetryUnresolved(ctx context.Context, city string) (int, error) {
	city = governor.NormalizeCity(city)
	if !o.locks.tryLock(city) {
		return 0, eris.Wrapf(governor.ErrJobActive, "research: %s is running in this process", city)
	}
	defer o.locks.unlock(city)

	retried, err := o.d.Resolver.RetryUnresolved(ctx, city)
	if err != nil {
		return 0, err
	}

	byJob := make(map[string][]string)
	var order []string
	for _, r := range retried {
		if _, ok := byJob[r.JobID]; !ok {
			order = append(order, r.JobID)
		}
		byJob[r.JobID] = append(byJob[r.JobID], r.VenueID)
	}
	for _, jobID := range order {
		if err := o.applyRetried(ctx, jobID, city, byJob[jobID]); err != nil {
			return 0, err
		}
	}
	return len(retried), nil
}

// applyRetried rescores venueIDs for jobID, writes the results back and moves
// the late resolutions from the job's unresolved count to its resolved count.
func (o *Orchestrator) applyRetried(ctx context.Context, jobID, city string, venueIDs []string) error {
	job, err := o.d.Store.GetJob(ctx, jobID)
	if err != nil {
		return eris.Wrapf(err, "research: load job %s", jobID)
	}
	results, err := o.d.Scorer.Rescore(ctx, jobID, city, venueIDs)
	if err != nil {
		return eris.Wrapf(err, "research: rescore job %s", jobID)
	}
	sum, err := o.d.WriteBack.Apply(ctx, job, results)
	if err != nil {
		return eris.Wrapf(err, "research: write back rescored job %s", jobID)
	}

	job.ResolvedCount += len(venueIDs)
	job.UnresolvedCount = max(job.UnresolvedCount-len(venueIDs), 0)
	job.AppliedCount += sum.Applied
	job.ReviewCount += sum.Withheld
	if sum.Failed > 0 {
		job.AddWarning("write_failed", model.SeverityWarning,
			fmt.Sprintf("%d venue writes failed after retry", sum.Failed))
	}
	if err := o.d.Store.UpdateJobProgress(ctx, job); err != nil {
		return eris.Wrapf(err, "research: save progress for job %s", jobID)
	}
	if o.d.Observer != nil {
		o.d.Observer.Written(sum)
	}

	zap.L().Info("research: late resolutions written",
		zap.String("city", city),
		zap.String("job_id", jobID),
		zap.Int("resolved", len(venueIDs)),
		zap.Int("applied", sum.Applied),
		zap.Int("withheld", sum.Withheld),
		zap.Bool("dry_run", !job.WriteBack),
	)
	return nil
}

// preflight checks the conditions a job needs before it may consume budget.
func (o *Orchestrator) preflight(ctx context.Context, city string, reason model.TriggerReason) error {
	if city == "" {
		return eris.New("research: city is required")
	}
	if !reason.Valid() {
		return eris.Errorf("research: unknown trigger reason %q", reason)
	}
	if !reason.Manual() && !o.d.Governor.KnownCity(city) {
		return eris.Wrapf(governor.ErrUnknownCity, "research: %s", city)
	}

	venues, err := o.d.Store.ListVenues(ctx, city)
	if err != nil {
		return eris.Wrapf(err, "research: list venues for %s", city)
	}
	scored := false
	for _, v := range venues {
		if v.CorpusScoredAt != nil {
			scored = true
			break
		}
	}
	if !scored {
		return eris.Wrapf(ErrCorpusNotScored, "research: %s", city)
	}

	ok, err := o.d.Assembler.HasData(ctx, city)
	if err != nil {
		return err
	}
	if !ok {
		return eris.Wrapf(bundle.ErrNoSourceData, "research: %s", city)
	}

	if o.d.Pricing != nil && !o.d.Pricing.Known(o.d.Engine.Model()) {
		return eris.Wrapf(ErrUnpricedModel, "research: %s", o.d.Engine.Model())
	}
	return nil
}

func (o *Orchestrator) refused(err error) {
	if o.d.Observer == nil {
		return
	}
	if r := RefusalReason(err); r != "" {
		o.d.Observer.Refused(r)
	}
}

// RefusalReason names the refusal err carries, or "" when err is not a
// refusal.
func RefusalReason(err error) string {
	if r := governor.Reason(err); r != "" {
		return r
	}
	switch {
	case errors.Is(err, ErrCorpusNotScored):
		return "corpus_not_scored"
	case errors.Is(err, bundle.ErrNoSourceData):
		return "no_source_data"
	case errors.Is(err, ErrUnpricedModel):
		return "unpriced_model"
	}
	return ""
}

// run is the state of one execute call. Artefacts are loaded lazily so a
// resumed job reads what the earlier attempt persisted.
type run struct {
	job        *model.ResearchJob
	log        *zap.Logger
	vocab      *vocab.Vocabulary
	venues     []model.Venue
	bundle     *model.Bundle
	synthesis  *model.CityResearchSynthesis
	outcome    *Outcome
	phaseStart time.Time
}

func (o *Orchestrator) execute(ctx context.Context, job *model.ResearchJob) (*Outcome, error) {
	r := &run{
		job: job,
		log: zap.L().With(
			zap.String("city", job.City),
			zap.String("job_id", job.ID),
		),
		outcome: &Outcome{Job: job},
	}

	for !job.Status.Terminal() {
		from := job.Status
		r.phaseStart = time.Now()

		err := o.step(ctx, r)
		if err != nil {
			if ctx.Err() != nil {
				r.log.Warn("research: job interrupted; resumable",
					zap.String("status", string(job.Status)),
					zap.Error(err),
				)
				o.saveProgress(context.WithoutCancel(ctx), r)
				return r.outcome, eris.Wrapf(ctx.Err(), "research: job %s interrupted at %s", job.ID, job.Status)
			}
			status := model.JobStatusError
			var vf *validationFailure
			if errors.As(err, &vf) {
				status = model.JobStatusValidationFailed
			}
			if ferr := o.fail(ctx, r, status, err); ferr != nil {
				return r.outcome, ferr
			}
			break
		}

		r.log.Info("research: phase complete",
			zap.String("phase", string(from)),
			zap.Int64("duration_ms", time.Since(r.phaseStart).Milliseconds()),
		)
		next, _ := from.Next()
		if err := o.advance(ctx, r, next); err != nil {
			return r.outcome, err
		}
	}

	if job.Status == model.JobStatusComplete {
		if _, err := o.d.Governor.RecordOutcome(ctx, job); err != nil {
			r.log.Error("research: record outcome failed", zap.Error(err))
		}
		r.log.Info("research: job complete",
			zap.Int("signals", job.SignalCount),
			zap.Int("resolved", job.ResolvedCount),
			zap.Int("unresolved", job.UnresolvedCount),
			zap.Int("conflicts", job.ConflictCount),
			zap.Int("applied", job.AppliedCount),
			zap.Float64("cost_usd", job.Usage.Cost),
		)
	}
	if o.d.Observer != nil {
		o.d.Observer.JobFinished(job)
	}
	return r.outcome, nil
}

// step performs the work of the job's current status. The caller advances
// the job when it returns nil.
func (o *Orchestrator) step(ctx context.Context, r *run) error {
	switch r.job.Status {
	case model.JobStatusQueued:
		return nil
	case model.JobStatusAssemblingBundle:
		return o.assemble(ctx, r)
	case model.JobStatusRunningPassA:
		return o.passA(ctx, r)
	case model.JobStatusRunningPassB:
		return o.passB(ctx, r)
	case model.JobStatusValidating:
		return o.validate(ctx, r)
	case model.JobStatusResolving:
		return o.resolve(ctx, r)
	case model.JobStatusCrossReferencing:
		return o.crossReference(ctx, r)
	case model.JobStatusWritingBack:
		return o.writeBack(ctx, r)
	}
	return eris.Errorf("research: no step for status %s", r.job.Status)
}

func (o *Orchestrator) assemble(ctx context.Context, r *run) error {
	v, err := o.loadVocab(ctx, r)
	if err != nil {
		return err
	}
	r.job.VocabVersion = v.Version()

	venues, err := o.loadVenues(ctx, r)
	if err != nil {
		return err
	}
	candidates := candidateNames(venues)
	r.job.CandidateCount = len(candidates)

	b, err := o.d.Assembler.Assemble(ctx, r.job.City, candidates)
	if err != nil {
		return err
	}
	b.JobID = r.job.ID
	if err := o.d.Store.SaveBundle(ctx, b); err != nil {
		return eris.Wrap(err, "research: save bundle")
	}
	r.bundle = b

	if len(b.AmplificationSuspect) > 0 {
		r.job.AddWarning("amplification_suspect", model.SeverityInfo,
			fmt.Sprintf("%d venues dominate the bundle", len(b.AmplificationSuspect)))
	}
	if b.DroppedForBudget > 0 {
		r.job.AddWarning("bundle_truncated", model.SeverityInfo,
			fmt.Sprintf("%d documents dropped for the token budget", b.DroppedForBudget))
	}
	return nil
}

func (o *Orchestrator) passA(ctx context.Context, r *run) error {
	b, err := o.loadBundle(ctx, r)
	if err != nil {
		return err
	}
	v, err := o.loadVocab(ctx, r)
	if err != nil {
		return err
	}

	syn, usage, err := o.d.Engine.RunPassA(ctx, r.job, b, v)
	r.job.Usage.Add(usage)
	if err != nil {
		return err
	}
	if err := o.d.Store.SaveSynthesis(ctx, syn); err != nil {
		return eris.Wrap(err, "research: save synthesis")
	}
	r.synthesis = syn
	return nil
}

func (o *Orchestrator) passB(ctx context.Context, r *run) error {
	b, err := o.loadBundle(ctx, r)
	if err != nil {
		return err
	}
	v, err := o.loadVocab(ctx, r)
	if err != nil {
		return err
	}
	syn, err := o.loadSynthesis(ctx, r)
	if err != nil {
		return err
	}
	venues, err := o.loadVenues(ctx, r)
	if err != nil {
		return err
	}

	existing, err := o.d.Store.ListSignals(ctx, r.job.ID)
	if err != nil {
		return eris.Wrap(err, "research: list persisted signals")
	}
	completed := make(map[int]bool)
	for _, s := range existing {
		completed[s.BatchIndex] = true
	}
	parsed, attempted := len(completed), 0

	err = o.d.Engine.RunPassB(ctx, synthesis.PassBInput{
		Job:        r.job,
		Bundle:     b,
		Synthesis:  syn,
		Candidates: candidateNames(venues),
		Vocabulary: v,
		Completed:  completed,
		BeforeBatch: func(ctx context.Context, index int) error {
			if err := o.d.Store.UpdateJobProgress(ctx, r.job); err != nil {
				return eris.Wrap(err, "research: save progress")
			}
			return o.d.Governor.CheckSpend(ctx, r.job)
		},
		AfterBatch: func(ctx context.Context, br synthesis.BatchResult) error {
			attempted++
			r.job.Usage.Add(br.Usage)
			if !br.OK() {
				r.job.FailedBatches++
				r.job.AddWarning("batch_"+string(br.Outcome), model.SeverityWarning,
					fmt.Sprintf("batch %d: %s", br.Index, br.Reason))
				return nil
			}
			if err := o.d.Store.SaveSignals(ctx, br.Signals); err != nil {
				return eris.Wrapf(err, "research: save signals for batch %d", br.Index)
			}
			parsed++
			r.job.SignalCount += len(br.Signals)
			return nil
		},
	})
	if err != nil {
		return err
	}
	if parsed == 0 && attempted > 0 {
		return eris.Errorf("research: all %d pass b batches failed", attempted)
	}
	return nil
}

// validationFailure marks a hard validation failure so execute can route the
// job to VALIDATION_FAILED rather than ERROR.
type validationFailure struct{ err error }

func (v *validationFailure) Error() string { return v.err.Error() }
func (v *validationFailure) Unwrap() error { return v.err }

func (o *Orchestrator) validate(ctx context.Context, r *run) error {
	signals, err := o.d.Store.ListSignals(ctx, r.job.ID)
	if err != nil {
		return eris.Wrap(err, "research: list signals")
	}
	r.job.SignalCount = len(signals)
	v, err := o.loadVocab(ctx, r)
	if err != nil {
		return err
	}
	venues, err := o.loadVenues(ctx, r)
	if err != nil {
		return err
	}

	report := o.d.Validator.Check(signals, v, validate.CorpusBaseline(venues))
	r.outcome.Validation = &report
	r.job.Warnings = append(r.job.Warnings, report.JobWarnings()...)
	if !report.Passed() {
		return &validationFailure{err: report.Err()}
	}
	return nil
}

func (o *Orchestrator) resolve(ctx context.Context, r *run) error {
	signals, err := o.d.Store.ListSignals(ctx, r.job.ID)
	if err != nil {
		return eris.Wrap(err, "research: list signals")
	}
	res, err := o.d.Resolver.Resolve(ctx, r.job.City, signals)
	if err != nil {
		return err
	}
	if err := o.d.Store.SaveResolutions(ctx, r.job.ID, res.Resolved, res.Unresolved); err != nil {
		return eris.Wrap(err, "research: save resolutions")
	}
	r.job.ResolvedCount = len(res.Resolved)
	r.job.UnresolvedCount = len(res.Unresolved)
	if len(res.Unresolved) > 0 {
		r.job.AddWarning("unresolved_signals", model.SeverityInfo,
			fmt.Sprintf("%d of %d signals unresolved (%.0f%%)",
				len(res.Unresolved), len(signals), res.Ratio()*100))
	}
	return nil
}

func (o *Orchestrator) crossReference(ctx context.Context, r *run) error {
	results, err := o.d.Scorer.Run(ctx, r.job)
	if err != nil {
		return err
	}
	conflicts := 0
	for _, res := range results {
		if res.Conflict {
			conflicts++
		}
	}
	r.job.ConflictCount = conflicts
	r.outcome.Results = results
	return nil
}

func (o *Orchestrator) writeBack(ctx context.Context, r *run) error {
	results := r.outcome.Results
	if results == nil {
		var err error
		results, err = o.d.Store.ListResults(ctx, store.ResultFilter{City: r.job.City, JobID: r.job.ID})
		if err != nil {
			return eris.Wrap(err, "research: list results")
		}
	}

	sum, err := o.d.WriteBack.Apply(ctx, r.job, results)
	if err != nil {
		return err
	}
	r.outcome.Results = results
	r.outcome.WriteBack = sum
	r.job.AppliedCount = sum.Applied
	r.job.ReviewCount = sum.Withheld
	if sum.Failed > 0 {
		r.job.AddWarning("write_failed", model.SeverityWarning,
			fmt.Sprintf("%d venue writes failed", sum.Failed))
	}
	if o.d.Observer != nil {
		o.d.Observer.Written(sum)
	}

	if r.job.DiffReport && o.d.Reporter != nil {
		path, err := o.d.Reporter.Write(ctx, r.job, results)
		if err != nil {
			r.log.Warn("research: diff report failed", zap.Error(err))
			r.job.AddWarning("report_failed", model.SeverityWarning, err.Error())
		} else {
			r.job.ReportPath = path
		}
	}
	return nil
}

// advance moves the job one step and persists its progress first, so the
// counters recorded with a status always describe the work behind it.
func (o *Orchestrator) advance(ctx context.Context, r *run, to model.JobStatus) error {
	if err := o.d.Store.UpdateJobProgress(ctx, r.job); err != nil {
		return eris.Wrapf(err, "research: save progress for job %s", r.job.ID)
	}
	if err := o.d.Store.AdvanceJob(ctx, r.job.ID, r.job.Status, to); err != nil {
		return eris.Wrapf(err, "research: advance job %s", r.job.ID)
	}
	if to.Rank() >= 0 {
		r.job.LastCompletedStep = r.job.Status
	}
	r.job.Status = to
	if to.Terminal() {
		now := time.Now().UTC()
		r.job.CompletedAt = &now
	}
	return nil
}

// fail records the error on the job and moves it to a failure terminal.
func (o *Orchestrator) fail(ctx context.Context, r *run, status model.JobStatus, cause error) error {
	r.job.Error = cause.Error()
	r.log.Error("research: phase failed",
		zap.String("phase", string(r.job.Status)),
		zap.String("terminal", string(status)),
		zap.Int64("duration_ms", time.Since(r.phaseStart).Milliseconds()),
		zap.Error(cause),
	)
	if err := o.advance(ctx, r, status); err != nil {
		return err
	}
	if _, err := o.d.Governor.RecordOutcome(ctx, r.job); err != nil {
		r.log.Error("research: record outcome failed", zap.Error(err))
	}
	return nil
}

func (o *Orchestrator) saveProgress(ctx context.Context, r *run) {
	if err := o.d.Store.UpdateJobProgress(ctx, r.job); err != nil {
		r.log.Error("research: save progress failed", zap.Error(err))
	}
}

func (o *Orchestrator) loadVocab(ctx context.Context, r *run) (*vocab.Vocabulary, error) {
	if r.vocab != nil {
		return r.vocab, nil
	}
	v, err := o.d.Vocab(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "research: load vocabulary")
	}
	if r.job.VocabVersion != "" && r.job.VocabVersion != v.Version() {
		r.job.AddWarning("vocab_changed", model.SeverityWarning,
			fmt.Sprintf("vocabulary changed from %s to %s during the job", r.job.VocabVersion, v.Version()))
	}
	r.vocab = v
	return v, nil
}

func (o *Orchestrator) loadVenues(ctx context.Context, r *run) ([]model.Venue, error) {
	if r.venues != nil {
		return r.venues, nil
	}
	venues, err := o.d.Store.ListVenues(ctx, r.job.City)
	if err != nil {
		return nil, eris.Wrapf(err, "research: list venues for %s", r.job.City)
	}
	r.venues = venues
	return venues, nil
}

func (o *Orchestrator) loadBundle(ctx context.Context, r *run) (*model.Bundle, error) {
	if r.bundle != nil {
		return r.bundle, nil
	}
	b, err := o.d.Store.GetBundle(ctx, r.job.ID)
	if err != nil {
		return nil, eris.Wrapf(err, "research: load bundle for job %s", r.job.ID)
	}
	r.bundle = b
	return b, nil
}

func (o *Orchestrator) loadSynthesis(ctx context.Context, r *run) (*model.CityResearchSynthesis, error) {
	if r.synthesis != nil {
		return r.synthesis, nil
	}
	syn, err := o.d.Store.GetSynthesis(ctx, r.job.ID)
	if err != nil {
		return nil, eris.Wrapf(err, "research: load synthesis for job %s", r.job.ID)
	}
	r.synthesis = syn
	return syn, nil
}

// candidateNames lists venue names in store order with duplicates removed.
func candidateNames(venues []model.Venue) []string {
	seen := make(map[string]bool, len(venues))
	names := make([]string, 0, len(venues))
	for _, v := range venues {
		if v.Name == "" || seen[v.Name] {
			continue
		}
		seen[v.Name] = true
		names = append(names, v.Name)
	}
	return names
}

type cityLocks struct {
	mu   sync.Mutex
	held map[string]bool
}

func newCityLocks() *cityLocks {
	return &cityLocks{held: make(map[string]bool)}
}

func (l *cityLocks) tryLock(city string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[city] {
		return false
	}
	l.held[city] = true
	return true
}

func (l *cityLocks) unlock(city string) {
	l.mu.Lock()
	delete(l.held, city)
	l.mu.Unlock()
}
