package main

import (
	"context"

	"go.uber.org/zap"

	"github.com/sells-group/venue-fusion/internal/bundle"
	"github.com/sells-group/venue-fusion/internal/cost"
	"github.com/sells-group/venue-fusion/internal/governor"
	"github.com/sells-group/venue-fusion/internal/metrics"
	"github.com/sells-group/venue-fusion/internal/report"
	"github.com/sells-group/venue-fusion/internal/research"
	"github.com/sells-group/venue-fusion/internal/resolve"
	"github.com/sells-group/venue-fusion/internal/review"
	"github.com/sells-group/venue-fusion/internal/store"
	"github.com/sells-group/venue-fusion/internal/synthesis"
	"github.com/sells-group/venue-fusion/internal/validate"
	"github.com/sells-group/venue-fusion/internal/vocab"
	"github.com/sells-group/venue-fusion/internal/writeback"
	"github.com/sells-group/venue-fusion/internal/xref"
	anthropicpkg "github.com/sells-group/venue-fusion/pkg/anthropic"
	"github.com/sells-group/venue-fusion/pkg/notion"
)

// fusionEnv holds the store and every component the research commands need.
type fusionEnv struct {
	Store        store.Store
	Governor     *governor.Governor
	Orchestrator *research.Orchestrator
	WriteBack    *writeback.Gate
	Review       *review.Queue
	Metrics      *metrics.Metrics
	Notion       notion.Client // nil without a token
}

// Close releases resources held by the environment.
func (fe *fusionEnv) Close() {
	if fe.Store != nil {
		_ = fe.Store.Close()
	}
}

// initFusion opens the store and builds the orchestrator. mode is the
// config validation mode. Callers should defer env.Close().
func initFusion(ctx context.Context, mode string) (*fusionEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}

	var notionClient notion.Client
	if cfg.Notion.Token != "" {
		notionClient = notion.NewClient(cfg.Notion.Token, notion.WithRateLimit(cfg.Notion.RateLimit))
	} else {
		zap.L().Debug("FUSION_NOTION_TOKEN not set, vocabulary loads from fixture and review export is disabled")
	}

	calc := cost.FromConfig(cfg.Pricing)
	engine := synthesis.NewEngine(anthropicpkg.NewClient(cfg.Anthropic.Key), calc, cfg.Anthropic, cfg.Synthesis)
	gov := governor.New(st, cfg.Governor)
	wb := writeback.NewGate(st, cfg.WriteBack)
	m := metrics.New()

	orch := research.New(research.Deps{
		Store:     st,
		Governor:  gov,
		Assembler: bundle.NewAssembler(st, cfg.Bundle),
		Vocab: func(ctx context.Context) (*vocab.Vocabulary, error) {
			return vocab.Load(ctx, cfg.Vocab, notionClient)
		},
		Engine:    engine,
		Pricing:   calc,
		Validator: validate.NewGate(cfg.Validation),
		Resolver:  resolve.New(st, cfg.Resolve),
		Scorer:    xref.NewScorer(st, xref.DefaultParams()),
		WriteBack: wb,
		Reporter:  report.NewWriter(st, cfg.Report.Dir),
		Observer:  m,
	})

	return &fusionEnv{
		Store:        st,
		Governor:     gov,
		Orchestrator: orch,
		WriteBack:    wb,
		Review:       review.NewQueue(st, wb, m),
		Metrics:      m,
		Notion:       notionClient,
	}, nil
}
