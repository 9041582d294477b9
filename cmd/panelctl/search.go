package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"modelpanel/internal/backend"
	"modelpanel/internal/common/logger"
	"modelpanel/internal/sanitize"
	"modelpanel/internal/search"
)

func newSearchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search",
		Short: "Generate candidate answers for a query and pick the best",
		RunE:  runSearch,
	}
	cmd.Flags().String("query", "", "Search query (required)")
	cmd.Flags().Int("n", 10, "Candidate count")
	cmd.Flags().StringSlice("backends", nil, "Backends to use (default: all configured)")
	cmd.Flags().String("mode", "self", "Verification mode: self, scoring, cross, consensus")
	cmd.MarkFlagRequired("query")
	return cmd
}

func runSearch(cmd *cobra.Command, args []string) error {
	query, _ := cmd.Flags().GetString("query")
	n, _ := cmd.Flags().GetInt("n")
	names, _ := cmd.Flags().GetStringSlice("backends")
	modeStr, _ := cmd.Flags().GetString("mode")

	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	mode, err := search.ParseMode(modeStr)
	if err != nil {
		return err
	}

	log := logger.NewStructured(cfg.Logging.Level, cfg.Logging.Format)
	registry := backend.NewRegistry(cfg.Backends)
	caller := backend.NewClient(registry, cfg.Call, log)
	sanitizer := sanitize.New(cfg.Sanitize, registry)
	searcher := search.NewSearcher(caller, sanitizer, cfg.Search, log)

	backends := registry.IDs()
	if len(names) > 0 {
		backends = backends[:0]
		for _, name := range names {
			id := backend.ID(name)
			if _, err := registry.Lookup(id); err != nil {
				return err
			}
			backends = append(backends, id)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	result, err := searcher.Search(ctx, query, n, backends, mode)
	if err != nil {
		return fmt.Errorf("search: %w", err)
	}

	fmt.Printf("Query: %s\nMode: %s | Candidates: %d | Verification score: %.1f | Elapsed: %.2fs\n\n",
		result.Query, result.Mode, result.TotalCandidates, result.VerificationScore, result.ElapsedSeconds)

	if result.Best == nil {
		fmt.Println("No usable candidates were produced.")
		return nil
	}
	fmt.Printf("Best candidate (%.1f via %s):\n%s\n", result.Best.Score, result.Best.Backend, result.Best.ResponseText)
	return nil
}
