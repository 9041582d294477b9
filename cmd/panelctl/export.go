package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"modelpanel/internal/store"
)

func newExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Fetch an archived session snapshot by ID",
		RunE:  runExport,
	}
	cmd.Flags().String("session", "", "Session ID (required)")
	cmd.Flags().String("out", "", "Write the snapshot JSON to this file instead of stdout")
	cmd.MarkFlagRequired("session")
	return cmd
}

func runExport(cmd *cobra.Command, args []string) error {
	sessionID, _ := cmd.Flags().GetString("session")
	outPath, _ := cmd.Flags().GetString("out")

	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx := context.Background()

	// Prefer the hot cache, fall back to the archive.
	if cfg.Storage.Redis.Enabled {
		cache := store.NewSnapshotCache(cfg.Storage.Redis)
		defer cache.Close()

		snap, err := cache.Get(ctx, sessionID)
		if err == nil {
			return writeSnapshot(snap, outPath)
		}
		if !errors.Is(err, store.ErrNotFound) {
			fmt.Fprintf(os.Stderr, "cache lookup failed: %v\n", err)
		}
	}

	if cfg.Storage.Postgres.Enabled {
		archive, err := store.NewArchive(cfg.Storage.Postgres)
		if err != nil {
			return fmt.Errorf("opening archive: %w", err)
		}
		defer archive.Close()

		snap, err := archive.Load(ctx, sessionID)
		if err != nil {
			return fmt.Errorf("loading snapshot %s: %w", sessionID, err)
		}
		return writeSnapshot(snap, outPath)
	}

	return fmt.Errorf("session %s not found (no storage backend produced it)", sessionID)
}

func writeSnapshot(snap interface{}, outPath string) error {
	raw, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}
	if outPath == "" {
		fmt.Println(string(raw))
		return nil
	}
	if err := os.WriteFile(outPath, raw, 0o644); err != nil {
		return fmt.Errorf("writing snapshot: %w", err)
	}
	fmt.Printf("Snapshot saved to %s\n", outPath)
	return nil
}
