package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jmylchreest/vidsift/internal/config"
	"github.com/jmylchreest/vidsift/internal/models"
	"github.com/jmylchreest/vidsift/internal/orchestrator"
	"github.com/jmylchreest/vidsift/internal/service/progress"
	"github.com/jmylchreest/vidsift/pkg/duration"
)

var (
	runDryRun     bool
	runMaxSegment string
	runMaxRetries int
)

var runCmd = &cobra.Command{
	Use:   "run [batch-file]",
	Short: "Process a batch of videos in the foreground",
	Long: `Run the automation once in the foreground and print progress.

The batch file is YAML or JSON: either a list of videos or a document with a
"videos" key. Each video has an id, a url, and optionally a title and a
duration (seconds, "PT1H5M" or "65m"). Without a file the stored queue is
used.

The first interrupt stops the run at the next boundary. A second interrupt
abandons it and keeps its state so a later "vidsift serve" resumes it.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "use the dry-run worker driver")
	runCmd.Flags().StringVar(&runMaxSegment, "max-segment", "", "override the longest segment, e.g. 30m")
	runCmd.Flags().IntVar(&runMaxRetries, "max-retries", 0, "override total attempts per task")
}

// batchFile is the document form of a batch.
type batchFile struct {
	Videos []models.VideoJob `yaml:"videos"`
}

// parseBatch reads a list of videos from YAML or JSON.
func parseBatch(data []byte) ([]models.VideoJob, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, errors.New("batch file is empty")
	}

	var doc batchFile
	if err := yaml.Unmarshal(data, &doc); err == nil && len(doc.Videos) > 0 {
		return doc.Videos, nil
	}

	var list []models.VideoJob
	if err := yaml.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("parsing batch: %w", err)
	}
	if len(list) == 0 {
		return nil, errors.New("batch contains no videos")
	}
	return list, nil
}

func runRun(cmd *cobra.Command, args []string) error {
	logger := slog.Default()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if runDryRun {
		cfg.Worker.Driver = config.DriverDryRun
	}

	var jobs []models.VideoJob
	if len(args) == 1 {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("reading batch file: %w", err)
		}
		if jobs, err = parseBatch(data); err != nil {
			return err
		}
	}

	a, err := newApp(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		a.close(shutdownCtx)
	}()

	runCfg := a.orch.Defaults()
	if runMaxSegment != "" {
		if runCfg.MaxSegmentDuration, err = duration.Parse(runMaxSegment); err != nil {
			return fmt.Errorf("parsing --max-segment: %w", err)
		}
	}
	if runMaxRetries > 0 {
		runCfg.MaxRetries = runMaxRetries
	}

	sub := a.progress.Subscribe(nil)
	printed := make(chan struct{})
	go func() {
		defer close(printed)
		printEvents(cmd.OutOrStdout(), sub.Events)
	}()

	runID, err := a.orch.Start(cmd.Context(), jobs, runCfg)
	if err != nil {
		a.progress.Unsubscribe(sub.ID)
		return fmt.Errorf("starting run: %w", err)
	}
	logger.Debug("run started", slog.String("run_id", runID.String()))

	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	go func() {
		interrupts := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-sigs:
				interrupts++
				if interrupts == 1 {
					fmt.Fprintln(cmd.ErrOrStderr(), "stopping after the current task, interrupt again to abandon")
					_ = a.orch.Stop()
					continue
				}
				cancel()
				return
			}
		}
	}()

	if err := a.orch.Wait(ctx); err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), "abandoning run, state kept for resume")
	}
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancelShutdown()
	if err := a.orch.Shutdown(shutdownCtx); err != nil {
		logger.Warn("run did not stop in time", slog.String("error", err.Error()))
	}

	a.progress.Unsubscribe(sub.ID)
	<-printed

	status := a.orch.Status()
	printSummary(cmd.OutOrStdout(), status)
	if status.Phase == models.RunPhaseFailed {
		return errors.New("run failed")
	}
	return nil
}

func printEvents(w io.Writer, events <-chan progress.Event) {
	for e := range events {
		prefix := string(e.Type)
		if e.Total > 0 {
			prefix = fmt.Sprintf("%s %d/%d", prefix, e.Current, e.Total)
		}
		fmt.Fprintf(w, "%s [%s] %s\n", e.Timestamp.Local().Format("15:04:05"), prefix, e.Message)
	}
}

func printSummary(w io.Writer, st orchestrator.Status) {
	fmt.Fprintf(w, "\nrun %s: %s\n", st.RunID, st.Phase)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "VIDEO\tSTATUS\tSEGMENTS\tATTEMPTS\tERROR")
	for _, v := range st.Videos {
		fmt.Fprintf(tw, "%s\t%s\t%d/%d\t%d\t%s\n",
			v.VideoID, v.Status, v.SegmentsSucceeded, v.SegmentsTotal, v.Attempts, v.LastError)
	}
	_ = tw.Flush()
	fmt.Fprintf(w, "completed %d, failed %d, skipped %d, timeouts %d\n",
		st.Summary.VideosCompleted, st.Summary.VideosFailed, st.Summary.VideosSkipped, st.Summary.Timeouts)
}
