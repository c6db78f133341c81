package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/vidsift/internal/models"
	"github.com/jmylchreest/vidsift/pkg/duration"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Manage the durable video queue",
	Long: `Manage the queue that a run without explicit videos processes.

Videos stay queued until they complete or fail, so a stopped run can be
started again over whatever is left.`,
}

var queueAddCmd = &cobra.Command{
	Use:   "add <batch-file>",
	Short: "Append videos from a YAML or JSON batch file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("reading batch file: %w", err)
		}
		jobs, err := parseBatch(data)
		if err != nil {
			return err
		}
		if err := models.ValidateQueue(jobs); err != nil {
			return err
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		p, err := openStore(cmd.Context(), cfg, slog.Default())
		if err != nil {
			return err
		}
		defer p.Close()

		if err := p.store.Enqueue(cmd.Context(), jobs); err != nil {
			return fmt.Errorf("adding to queue: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "queued %d videos\n", len(jobs))
		return nil
	},
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List queued videos in run order",
	Args:  cobra.NoArgs,
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

		jobs, err := p.store.Queue(cmd.Context())
		if err != nil {
			return fmt.Errorf("listing queue: %w", err)
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "#\tID\tDURATION\tTITLE\tURL")
		for i, j := range jobs {
			length := "unknown"
			if j.DurationSeconds != nil {
				length = duration.Format(time.Duration(*j.DurationSeconds * float64(time.Second)))
			}
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", i+1, j.ID, length, j.Title, j.URL)
		}
		return tw.Flush()
	},
}

var queueRemoveCmd = &cobra.Command{
	Use:   "remove <video-id>...",
	Short: "Remove videos from the queue",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		p, err := openStore(cmd.Context(), cfg, slog.Default())
		if err != nil {
			return err
		}
		defer p.Close()

		for _, id := range args {
			removed, err := p.store.Dequeue(cmd.Context(), id)
			if err != nil {
				return fmt.Errorf("removing %s: %w", id, err)
			}
			if !removed {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s: not queued\n", id)
				continue
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", id)
		}
		return nil
	},
}

var queueClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every queued video",
	Args:  cobra.NoArgs,
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

		n, err := p.store.ClearQueue(cmd.Context())
		if err != nil {
			return fmt.Errorf("clearing queue: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "removed %d videos\n", n)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(queueCmd)
	queueCmd.AddCommand(queueAddCmd, queueListCmd, queueRemoveCmd, queueClearCmd)
}
