package vocab

import (
	"context"
	"os"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/venue-fusion/internal/config"
	"github.com/sells-group/venue-fusion/pkg/notion"
)

// Load fetches the vocabulary from Notion when a database is configured,
// otherwise from the fixture file. An empty allow-list is an error: no
// generated tag could ever validate against it.
func Load(ctx context.Context, cfg config.VocabConfig, client notion.Client) (*Vocabulary, error) {
	var (
		v   *Vocabulary
		err error
	)
	if cfg.NotionDB != "" && client != nil {
		v, err = LoadFromNotion(ctx, client, cfg.NotionDB)
	} else {
		v, err = LoadFromFile(cfg.FixturePath)
	}
	if err != nil {
		return nil, err
	}
	if v.Len() == 0 {
		return nil, eris.New("vocab: empty allow-list")
	}
	return v, nil
}

// LoadFromNotion queries the vocabulary database for Active pages. The
// title property "Tag" is required; "Category" and "Description" are optional.
func LoadFromNotion(ctx context.Context, client notion.Client, dbID string) (*Vocabulary, error) {
	pages, err := notion.QueryByStatus(ctx, client, dbID, "Active")
	if err != nil {
		return nil, eris.Wrap(err, "vocab: load from notion")
	}

	terms := make([]Term, 0, len(pages))
	for _, p := range pages {
		t, err := parseTermPage(p)
		if err != nil {
			zap.L().Warn("vocab: skipping malformed vocabulary page",
				zap.String("page_id", string(p.ID)),
				zap.Error(err),
			)
			continue
		}
		terms = append(terms, t)
	}
	return New(terms), nil
}

func parseTermPage(p notionapi.Page) (Term, error) {
	t := Term{
		Tag:         notion.PlainText(p, "Tag"),
		Category:    notion.PlainText(p, "Category"),
		Description: notion.PlainText(p, "Description"),
	}
	if t.Tag == "" {
		return t, eris.New("missing Tag property")
	}
	return t, nil
}

type fixture struct {
	Terms []Term `yaml:"terms"`
}

// LoadFromFile reads a YAML vocabulary fixture.
func LoadFromFile(path string) (*Vocabulary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "vocab: read fixture")
	}
	var f fixture
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrap(err, "vocab: unmarshal fixture")
	}
	return New(f.Terms), nil
}
