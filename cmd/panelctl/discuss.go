package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"modelpanel/internal/backend"
	"modelpanel/internal/common/config"
	"modelpanel/internal/common/logger"
	"modelpanel/internal/discussion"
	"modelpanel/internal/prompt"
	"modelpanel/internal/sanitize"
)

func newDiscussCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "discuss",
		Short: "Run a multi-round panel discussion on a question",
		RunE:  runDiscuss,
	}
	cmd.Flags().String("question", "", "Discussion question (required)")
	cmd.Flags().Int("rounds", 0, "Override configured round count")
	cmd.Flags().StringArray("participant", nil, "Participant as backend:name:role (repeatable; overrides configured panel)")
	cmd.Flags().String("out", "", "Write the session snapshot JSON to this file")
	cmd.MarkFlagRequired("question")
	return cmd
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Root().PersistentFlags().GetString("config")
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

// parseParticipants turns backend:name:role flags into profiles.
func parseParticipants(specs []string) ([]discussion.ParticipantProfile, error) {
	out := make([]discussion.ParticipantProfile, 0, len(specs))
	for _, spec := range specs {
		parts := strings.SplitN(spec, ":", 3)
		if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("invalid participant %q: want backend:name[:role]", spec)
		}
		p := discussion.ParticipantProfile{
			Backend:     backend.ID(parts[0]),
			DisplayName: parts[1],
		}
		if len(parts) == 3 {
			p.Role = parts[2]
		}
		out = append(out, p)
	}
	return out, nil
}

func configuredPanel(cfg *config.Config) []discussion.ParticipantProfile {
	out := make([]discussion.ParticipantProfile, 0, len(cfg.Discussion.Panel))
	for _, p := range cfg.Discussion.Panel {
		out = append(out, discussion.ParticipantProfile{
			Backend:     backend.ID(p.Backend),
			DisplayName: p.DisplayName,
			Role:        p.Role,
			Style:       p.Style,
		})
	}
	return out
}

func runDiscuss(cmd *cobra.Command, args []string) error {
	question, _ := cmd.Flags().GetString("question")
	rounds, _ := cmd.Flags().GetInt("rounds")
	specs, _ := cmd.Flags().GetStringArray("participant")
	outPath, _ := cmd.Flags().GetString("out")

	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if rounds > 0 {
		cfg.Discussion.Rounds = rounds
	}

	participants := configuredPanel(cfg)
	if len(specs) > 0 {
		if participants, err = parseParticipants(specs); err != nil {
			return err
		}
	}
	if len(participants) == 0 {
		return fmt.Errorf("no participants: configure discussion.panel or pass --participant")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	log := logger.NewStructured(cfg.Logging.Level, cfg.Logging.Format)
	registry := backend.NewRegistry(cfg.Backends)
	caller := backend.NewClient(registry, cfg.Call, log)
	sanitizer := sanitize.New(cfg.Sanitize, registry)
	builder := prompt.New(cfg.Discussion.ContextWindow, cfg.Discussion.Language, cfg.Discussion.MaxAnswerWords)

	orch := discussion.NewOrchestrator(caller, sanitizer, builder, cfg.Discussion, log)
	orch.OnTurn = func(r discussion.ResponseRecord) {
		marker := ""
		if r.Failed {
			marker = " [failed]"
		}
		fmt.Printf("[round %d] %s (%s)%s:\n%s\n\n", r.Round+1, r.Participant, r.Backend, marker, r.CleanedText)
	}

	fmt.Printf("Question: %s\nPanel: %d participants | Rounds: %d\n\n", question, len(participants), cfg.Discussion.Rounds)

	session, runErr := orch.Run(ctx, question, participants)
	if session == nil {
		return runErr
	}
	if runErr != nil {
		fmt.Fprintf(os.Stderr, "discussion ended early: %v\n", runErr)
	}

	snap, err := discussion.Export(session)
	if err != nil {
		return fmt.Errorf("exporting session: %w", err)
	}

	printStats(snap.Statistics)

	if outPath != "" {
		raw, err := json.MarshalIndent(snap, "", "  ")
		if err != nil {
			return fmt.Errorf("encoding snapshot: %w", err)
		}
		if err := os.WriteFile(outPath, raw, 0o644); err != nil {
			return fmt.Errorf("writing snapshot: %w", err)
		}
		fmt.Printf("\nSnapshot saved to %s\n", outPath)
	}
	return nil
}

func printStats(stats discussion.SessionStats) {
	fmt.Printf("Turns: %d total, %d valid, %d failed | Mean quality: %.1f\n",
		stats.TotalTurns, stats.ValidTurns, stats.FailedTurns, stats.MeanQuality)
	for _, p := range stats.Participants {
		fmt.Printf("  %-12s %d turns, mean quality %.1f, mean latency %.0fms\n",
			p.Participant, p.Turns, p.MeanQuality, p.MeanProcessingMs)
	}
}
