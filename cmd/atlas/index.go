package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/srinidhi621/knowledge-atlas/internal/tools/docsearch"
)

func indexCMD(load loader) *cobra.Command {
	var notebookID string
	var chunkSize int

	index := &cobra.Command{
		Use:   "index [files...]",
		Short: "Add text documents to a notebook's search index",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := load()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			if cfg.Tools.DocumentIndexDir == "" {
				return fmt.Errorf("tools.document_index_dir must be set to persist an index")
			}
			lib := docsearch.NewLibrary(cfg.Tools.DocumentIndexDir, logger.Named("docsearch"))
			defer lib.Close()

			for _, path := range args {
				raw, err := os.ReadFile(path)
				if err != nil {
					return err
				}
				chunks := docsearch.ChunkText(filepath.Base(path), string(raw), chunkSize)
				if err := lib.AddChunks(notebookID, chunks...); err != nil {
					return fmt.Errorf("index %s: %w", path, err)
				}
				logger.Info("indexed", zap.String("source_id", filepath.Base(path)), zap.Int("chunks", len(chunks)))
			}
			return nil
		},
	}
	index.Flags().StringVarP(&notebookID, "notebook", "n", "", "notebook id")
	index.Flags().IntVar(&chunkSize, "chunk-size", 1200, "approximate chunk size in characters")
	_ = index.MarkFlagRequired("notebook")
	return index
}
