// Package synthesis runs the two generative passes: a city-level synthesis
// over the whole bundle (Pass A), then batched per-venue signal extraction
// grounded in that synthesis and the bundle (Pass B).
package synthesis

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/venue-fusion/internal/config"
	"github.com/sells-group/venue-fusion/internal/cost"
	"github.com/sells-group/venue-fusion/internal/model"
	"github.com/sells-group/venue-fusion/internal/resilience"
	"github.com/sells-group/venue-fusion/internal/vocab"
	"github.com/sells-group/venue-fusion/pkg/anthropic"
)

// Engine issues the generative calls for one or more jobs. It is safe for
// concurrent use by jobs in different cities.
type Engine struct {
	client    anthropic.Client
	calc      *cost.Calculator
	limiter   *rate.Limiter
	cfg       config.SynthesisConfig
	model     string
	maxTokens int64
	retry     resilience.RetryConfig
}

// NewEngine creates an Engine. A non-positive requests-per-minute disables
// throttling.
func NewEngine(client anthropic.Client, calc *cost.Calculator, ac config.AnthropicConfig, sc config.SynthesisConfig) *Engine {
	var limiter *rate.Limiter
	if ac.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(ac.RequestsPerMinute/60), 1)
	}
	return &Engine{
		client:    client,
		calc:      calc,
		limiter:   limiter,
		cfg:       sc,
		model:     ac.Model,
		maxTokens: ac.MaxTokens,
		retry:     resilience.WithAttempts(sc.RetryAttempts),
	}
}

// WithRetry overrides the retry policy. Tests use it to avoid real backoff.
func (e *Engine) WithRetry(cfg resilience.RetryConfig) *Engine {
	e.retry = cfg
	return e
}

// Model returns the pinned model identity recorded on every job.
func (e *Engine) Model() string { return e.model }

// RunPassA issues the single city-level synthesis call.
func (e *Engine) RunPassA(ctx context.Context, job *model.ResearchJob, b *model.Bundle, v *vocab.Vocabulary) (*model.CityResearchSynthesis, model.TokenUsage, error) {
	req := e.request(
		[]anthropic.SystemBlock{{Text: passASystem(v)}},
		passAUser(b),
	)

	resp, err := resilience.DoVal(ctx, e.retry, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return e.call(ctx, req)
	})
	if err != nil {
		return nil, model.TokenUsage{}, eris.Wrapf(err, "synthesis: pass a for %s", job.City)
	}
	usage := e.usage(resp, job, "pass_a")

	syn, err := ParseSynthesis(resp.Text())
	if err != nil {
		return nil, usage, err
	}
	syn.JobID = job.ID
	syn.City = job.City
	syn.ModelVersion = resp.Model
	return syn, usage, nil
}

// PassBInput carries everything one Pass-B run needs.
type PassBInput struct {
	Job        *model.ResearchJob
	Bundle     *model.Bundle
	Synthesis  *model.CityResearchSynthesis
	Candidates []string
	Vocabulary *vocab.Vocabulary

	// Completed lists batch indexes already persisted by an earlier attempt.
	Completed map[int]bool

	// BeforeBatch runs before each call; an error stops the pass.
	BeforeBatch func(ctx context.Context, index int) error

	// AfterBatch receives every batch result in order; an error stops the pass.
	AfterBatch func(ctx context.Context, r BatchResult) error
}

// RunPassB runs the candidate batches sequentially. A batch that fails to
// parse, or whose call fails after bounded retries, is reported to
// AfterBatch and the pass continues. A permanent provider error stops the
// pass and is returned.
func (e *Engine) RunPassB(ctx context.Context, in PassBInput) error {
	log := zap.L().With(
		zap.String("component", "synthesis"),
		zap.String("city", in.Job.City),
		zap.String("job_id", in.Job.ID),
	)

	system := anthropic.CachedSystemBlocks(passBSystem(in.Vocabulary, in.Synthesis, in.Bundle))
	top := TopEngagement(in.Bundle.Documents, e.cfg.ContextSnippets)

	for i, batch := range Batches(in.Candidates, e.cfg.BatchSize) {
		if in.Completed[i] {
			log.Debug("synthesis: skipping persisted batch", zap.Int("batch", i))
			continue
		}
		if in.BeforeBatch != nil {
			if err := in.BeforeBatch(ctx, i); err != nil {
				return err
			}
		}

		snippets := FilterSnippets(in.Bundle.Documents, batch, e.cfg.MaxSnippetsPerBatch)
		req := e.request(system, passBUser(in.Job.City, batch, snippets, top))

		retry := e.retry
		retry.OnRetry = resilience.RetryLogger(in.Job.City, i)
		resp, err := resilience.DoVal(ctx, retry, func(ctx context.Context) (*anthropic.MessageResponse, error) {
			return e.call(ctx, req)
		})

		var result BatchResult
		switch {
		case err != nil && ctx.Err() != nil:
			return eris.Wrap(ctx.Err(), "synthesis: pass b cancelled")
		case err != nil && resilience.IsPermanent(err):
			return eris.Wrapf(err, "synthesis: pass b batch %d", i)
		case err != nil:
			log.Warn("synthesis: batch call failed", zap.Int("batch", i), zap.Error(err))
			result = BatchResult{Outcome: BatchCallError, Reason: err.Error()}
		default:
			result = ParseBatch(resp.Text())
			result.Index = i
			result.Usage = e.usage(resp, in.Job, fmt.Sprintf("pass_b_%d", i))
			e.stamp(&result, in)
		}
		result.Index = i

		if !result.OK() {
			log.Warn("synthesis: batch rejected",
				zap.Int("batch", i),
				zap.String("outcome", string(result.Outcome)),
				zap.String("reason", result.Reason),
			)
		}
		if in.AfterBatch != nil {
			if err := in.AfterBatch(ctx, result); err != nil {
				return err
			}
		}
	}
	return nil
}

// stamp scopes parsed signals to the job and merges the bundle's
// amplification suspects into the model's own flag.
func (e *Engine) stamp(r *BatchResult, in PassBInput) {
	for i := range r.Signals {
		s := &r.Signals[i]
		s.ID = uuid.NewString()
		s.JobID = in.Job.ID
		s.City = in.Job.City
		s.BatchIndex = r.Index
		s.ResolutionStatus = model.ResolutionPending
		if in.Bundle.IsAmplified(s.RawName) {
			s.AmplificationSuspect = true
		}
	}
}

func (e *Engine) request(system []anthropic.SystemBlock, user string) anthropic.MessageRequest {
	zero := 0.0
	return anthropic.MessageRequest{
		Model:       e.model,
		MaxTokens:   e.maxTokens,
		System:      system,
		Messages:    []anthropic.Message{{Role: "user", Content: user}},
		Temperature: &zero,
	}
}

func (e *Engine) call(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "synthesis: rate limit")
		}
	}
	return e.client.CreateMessage(ctx, req)
}

// usage prices a response and logs cost attribution for the pass.
func (e *Engine) usage(resp *anthropic.MessageResponse, job *model.ResearchJob, phase string) model.TokenUsage {
	u := e.calc.Price(e.model, model.TokenUsage{
		InputTokens:         int(resp.Usage.InputTokens),
		OutputTokens:        int(resp.Usage.OutputTokens),
		CacheCreationTokens: int(resp.Usage.CacheCreationInputTokens),
		CacheReadTokens:     int(resp.Usage.CacheReadInputTokens),
	})
	zap.L().Info("cost attribution",
		zap.String("job_id", job.ID),
		zap.String("city", job.City),
		zap.String("model", e.model),
		zap.String("phase", phase),
		zap.Int("input_tokens", u.InputTokens),
		zap.Int("output_tokens", u.OutputTokens),
		zap.Int("cache_write_tokens", u.CacheCreationTokens),
		zap.Int("cache_read_tokens", u.CacheReadTokens),
		zap.Float64("estimated_cost_usd", u.Cost),
	)
	return u
}
