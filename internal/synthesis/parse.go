package synthesis

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/venue-fusion/internal/model"
)

// BatchOutcome tags how a Pass-B batch ended.
type BatchOutcome string

const (
	BatchParsed      BatchOutcome = "parsed"
	BatchSchemaError BatchOutcome = "schema_error"
	BatchParseError  BatchOutcome = "parse_error"
	// BatchCallError means the call itself failed after bounded retries.
	BatchCallError BatchOutcome = "call_error"
)

// BatchResult is the tagged result of one Pass-B batch. Signals is only
// populated when Outcome is BatchParsed; Reason explains the other outcomes.
type BatchResult struct {
	Index   int
	Outcome BatchOutcome
	Signals []model.VenueResearchSignal
	Reason  string
	Usage   model.TokenUsage
}

// OK reports whether the batch produced signals.
func (r BatchResult) OK() bool { return r.Outcome == BatchParsed }

type rawVenue struct {
	Name                 *string   `json:"name"`
	Tags                 *[]string `json:"tags"`
	Touristiness         *float64  `json:"touristiness"`
	Confidence           *float64  `json:"confidence"`
	KnowledgeSource      *string   `json:"knowledge_source"`
	AmplificationSuspect bool      `json:"amplification_suspect"`
	ConflictNote         string    `json:"conflict_note"`
	EvidenceIDs          []string  `json:"evidence_ids"`
}

type rawBatch struct {
	Venues *[]rawVenue `json:"venues"`
}

// ParseBatch turns generated text into a tagged batch result. Signals carry
// only the generated fields; the engine stamps ids and job scope.
func ParseBatch(text string) BatchResult {
	cleaned := cleanJSON(text)
	if !json.Valid([]byte(cleaned)) {
		return BatchResult{Outcome: BatchParseError, Reason: "response is not valid JSON"}
	}

	var raw rawBatch
	if err := strictDecode(cleaned, &raw); err != nil {
		return BatchResult{Outcome: BatchSchemaError, Reason: err.Error()}
	}
	if raw.Venues == nil {
		return BatchResult{Outcome: BatchSchemaError, Reason: `missing required field "venues"`}
	}

	signals := make([]model.VenueResearchSignal, 0, len(*raw.Venues))
	seen := make(map[string]struct{})
	for i, v := range *raw.Venues {
		if err := v.validate(); err != nil {
			return BatchResult{Outcome: BatchSchemaError, Reason: fmt.Sprintf("venues[%d]: %v", i, err)}
		}
		name := strings.TrimSpace(*v.Name)
		key := strings.ToLower(name)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		signals = append(signals, model.VenueResearchSignal{
			RawName:              name,
			Tags:                 *v.Tags,
			Touristiness:         *v.Touristiness,
			Confidence:           *v.Confidence,
			KnowledgeSource:      model.KnowledgeSource(*v.KnowledgeSource),
			AmplificationSuspect: v.AmplificationSuspect,
			ConflictNote:         strings.TrimSpace(v.ConflictNote),
			EvidenceIDs:          v.EvidenceIDs,
		})
	}
	return BatchResult{Outcome: BatchParsed, Signals: signals}
}

func (v rawVenue) validate() error {
	switch {
	case v.Name == nil || strings.TrimSpace(*v.Name) == "":
		return errors.New(`missing required field "name"`)
	case v.Tags == nil:
		return errors.New(`missing required field "tags"`)
	case v.Touristiness == nil:
		return errors.New(`missing required field "touristiness"`)
	case v.Confidence == nil:
		return errors.New(`missing required field "confidence"`)
	case v.KnowledgeSource == nil:
		return errors.New(`missing required field "knowledge_source"`)
	case !model.KnowledgeSource(*v.KnowledgeSource).Valid():
		return fmt.Errorf("invalid knowledge_source %q", *v.KnowledgeSource)
	case math.IsNaN(*v.Touristiness) || math.IsNaN(*v.Confidence):
		return errors.New("NaN score")
	}
	return nil
}

type rawSynthesis struct {
	Summary          *string              `json:"summary"`
	Neighborhoods    []model.Neighborhood `json:"neighborhoods"`
	TemporalPatterns []string             `json:"temporal_patterns"`
	NotableVenues    []string             `json:"notable_venues"`
	Divergences      *[]model.Divergence  `json:"divergences"`
}

// ParseSynthesis decodes the Pass-A response. Unlike Pass B there is a
// single call, so any failure here is an error for the job.
func ParseSynthesis(text string) (*model.CityResearchSynthesis, error) {
	var raw rawSynthesis
	if err := strictDecode(cleanJSON(text), &raw); err != nil {
		return nil, eris.Wrap(err, "synthesis: decode pass a")
	}
	if raw.Summary == nil {
		return nil, eris.New(`synthesis: pass a missing required field "summary"`)
	}
	if raw.Divergences == nil {
		return nil, eris.New(`synthesis: pass a missing required field "divergences"`)
	}
	return &model.CityResearchSynthesis{
		Summary:          *raw.Summary,
		Neighborhoods:    raw.Neighborhoods,
		TemporalPatterns: raw.TemporalPatterns,
		NotableVenues:    raw.NotableVenues,
		Divergences:      *raw.Divergences,
	}, nil
}

func strictDecode(text string, dst any) error {
	dec := json.NewDecoder(bytes.NewReader([]byte(text)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("trailing data after JSON object")
	}
	return nil
}

// cleanJSON strips markdown fences and surrounding prose from generated JSON.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}
	return strings.TrimSpace(text)
}
