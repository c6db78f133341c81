package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/vidsift/internal/models"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the persisted run state",
	Long: `Show the run state saved in the database and the outcomes recorded
for that run. This reads the database directly; while "vidsift serve" is
running, GET /api/v1/automation/status reports live progress instead.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		p, err := openStore(cmd.Context(), cfg, slog.Default())
		if err != nil {
			return err
		}
		defer p.Close()

		state, err := p.store.LoadRunState(cmd.Context())
		if err != nil {
			return fmt.Errorf("loading run state: %w", err)
		}
		out := cmd.OutOrStdout()
		if state == nil {
			fmt.Fprintln(out, "no run recorded")
			return nil
		}

		outcomes, err := p.store.Outcomes(cmd.Context(), state.RunID)
		if err != nil {
			return fmt.Errorf("loading outcomes: %w", err)
		}
		printRunState(out, state, outcomes)
		return nil
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Discard the persisted run state",
	Long: `Discard the saved run state so the next start begins fresh and serve
does not resume it. Queued videos and recorded outcomes are kept.

Do not use this while "vidsift serve" is running; call
POST /api/v1/automation/reset instead.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		p, err := openStore(cmd.Context(), cfg, slog.Default())
		if err != nil {
			return err
		}
		defer p.Close()

		if err := p.store.ClearRunState(cmd.Context()); err != nil {
			return fmt.Errorf("clearing run state: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "run state cleared")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd, resetCmd)
}

func printRunState(w io.Writer, state *models.RunState, outcomes []*models.VideoOutcome) {
	fmt.Fprintf(w, "run:      %s\n", state.RunID)
	fmt.Fprintf(w, "phase:    %s\n", state.Phase)
	if state.IsPaused {
		fmt.Fprintln(w, "paused:   yes")
	}
	fmt.Fprintf(w, "progress: video %d of %d", min(state.CurrentVideoIndex+1, state.TotalCount), state.TotalCount)
	if state.CurrentVideo != "" {
		fmt.Fprintf(w, " (%s, segment %d)", state.CurrentVideo, state.CurrentSegmentIndex+1)
	}
	fmt.Fprintln(w)
	if !state.StartedAt.IsZero() {
		fmt.Fprintf(w, "started:  %s\n", state.StartedAt.Local().Format(time.RFC3339))
	}
	fmt.Fprintf(w, "updated:  %s\n", state.LastUpdated.Local().Format(time.RFC3339))

	if len(outcomes) == 0 {
		return
	}
	fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "VIDEO\tSTATUS\tSEGMENTS\tATTEMPTS\tTIMEOUTS\tERROR")
	for _, o := range outcomes {
		fmt.Fprintf(tw, "%s\t%s\t%d/%d\t%d\t%d\t%s\n",
			o.VideoID, o.Status, o.SegmentsSucceeded, o.SegmentsTotal, o.Attempts, o.Timeouts, o.LastError)
	}
	_ = tw.Flush()
}
