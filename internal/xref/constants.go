package xref

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
)

// Params holds every weight and threshold the scorer uses.
type Params struct {
	// Tag weights by which side proposed the tag.
	ConsensusTagWeight    float64
	CorpusOnlyTagWeight   float64
	ResearchOnlyTagWeight float64
	// AmplifiedTagFactor scales research-only tags when either side is
	// amplification-flagged.
	AmplifiedTagFactor float64
	MaxTags            int

	// ConflictDelta is the |corpus - research| score gap above which the
	// two sides conflict.
	ConflictDelta        float64
	ConflictCorpusWeight float64
	AgreeCorpusWeight    float64

	CorpusConfidenceWeight   float64
	ResearchConfidenceWeight float64
	OverlapBonus             float64
	ConflictPenalty          float64
	DiversityStep            float64
	DiversityCap             float64

	// Single-source confidence multipliers.
	ResearchOnlyFactor float64
	CorpusOnlyFactor   float64
}

// DefaultParams returns the production scoring constants.
func DefaultParams() Params {
	return Params{
		ConsensusTagWeight:    1.0,
		CorpusOnlyTagWeight:   0.8,
		ResearchOnlyTagWeight: 0.6,
		AmplifiedTagFactor:    0.5,
		MaxTags:               8,

		ConflictDelta:        0.3,
		ConflictCorpusWeight: 0.75,
		AgreeCorpusWeight:    0.55,

		CorpusConfidenceWeight:   0.5,
		ResearchConfidenceWeight: 0.5,
		OverlapBonus:             0.15,
		ConflictPenalty:          0.2,
		DiversityStep:            0.05,
		DiversityCap:             0.1,

		ResearchOnlyFactor: 0.7,
		CorpusOnlyFactor:   0.85,
	}
}

// Validate checks that the parameters are internally consistent.
func (p Params) Validate() error {
	var errs []string
	unit := map[string]float64{
		"consensus_tag_weight":     p.ConsensusTagWeight,
		"corpus_only_tag_weight":   p.CorpusOnlyTagWeight,
		"research_only_tag_weight": p.ResearchOnlyTagWeight,
		"amplified_tag_factor":     p.AmplifiedTagFactor,
		"conflict_corpus_weight":   p.ConflictCorpusWeight,
		"agree_corpus_weight":      p.AgreeCorpusWeight,
		"research_only_factor":     p.ResearchOnlyFactor,
		"corpus_only_factor":       p.CorpusOnlyFactor,
	}
	for name, v := range unit {
		if v < 0 || v > 1 {
			errs = append(errs, fmt.Sprintf("%s must be in [0,1]", name))
		}
	}
	if p.MaxTags <= 0 {
		errs = append(errs, "max_tags must be > 0")
	}
	if p.ConflictCorpusWeight < p.AgreeCorpusWeight {
		errs = append(errs, "conflict_corpus_weight must be >= agree_corpus_weight")
	}
	if s := p.CorpusConfidenceWeight + p.ResearchConfidenceWeight; s <= 0 || s > 1.0001 {
		errs = append(errs, "confidence weights must sum to (0,1]")
	}
	if len(errs) > 0 {
		return eris.Errorf("xref: params validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
