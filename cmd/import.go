package main

import (
	"context"
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/venue-fusion/internal/model"
	"github.com/sells-group/venue-fusion/internal/store"
)

var (
	importVenuesPath string
	importDocsPath   string
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import venues and source documents from JSON files",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if importVenuesPath == "" && importDocsPath == "" {
			return eris.New("one of --venues or --docs is required")
		}
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		return importFiles(ctx, st, importVenuesPath, importDocsPath)
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the store schema",
	RunE: func(cmd *cobra.Command, _ []string) error {
		st, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		zap.L().Info("migrations applied", zap.String("driver", cfg.Store.Driver))
		return st.Close()
	},
}

func init() {
	importCmd.Flags().StringVar(&importVenuesPath, "venues", "", "path to a JSON array of venues")
	importCmd.Flags().StringVar(&importDocsPath, "docs", "", "path to a JSON array of source documents")
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(migrateCmd)
}

// importFiles loads whichever fixture paths are set. Venues go first so
// documents for a new city land after its venue list.
func importFiles(ctx context.Context, st store.Store, venuesPath, docsPath string) error {
	if venuesPath != "" {
		var venues []model.Venue
		if err := readJSON(venuesPath, &venues); err != nil {
			return err
		}
		if err := st.ImportVenues(ctx, venues); err != nil {
			return eris.Wrap(err, "import venues")
		}
		zap.L().Info("venues imported", zap.Int("count", len(venues)), zap.String("file", venuesPath))
	}
	if docsPath != "" {
		var docs []model.SourceDocument
		if err := readJSON(docsPath, &docs); err != nil {
			return err
		}
		if err := st.ImportSourceDocuments(ctx, docs); err != nil {
			return eris.Wrap(err, "import source documents")
		}
		zap.L().Info("source documents imported", zap.Int("count", len(docs)), zap.String("file", docsPath))
	}
	return nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return eris.Wrapf(err, "read %s", path)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return eris.Wrapf(err, "parse %s", path)
	}
	return nil
}
