package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/labhub/uploadq/internal/config"
	"github.com/labhub/uploadq/internal/history"
	"github.com/labhub/uploadq/internal/queue"
	"github.com/labhub/uploadq/internal/transport"
	"github.com/labhub/uploadq/internal/tui"
)

// Version information - set via ldflags during build
var (
	Version   = "dev"
	BuildTime = "unknown"
)

var rootCmd = &cobra.Command{
	Use:     "uploadq [file]...",
	Short:   "A concurrent, retrying upload queue for the terminal",
	Long: `uploadq posts files to an HTTP endpoint through a bounded-concurrency
queue with automatic retry and live progress. Transfers that keep failing
are kept around for manual retry; finished ones land in a local history.`,
	Version: Version,
	Args:    cobra.MinimumNArgs(1),
	RunE:    runRoot,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.Flags().StringP("endpoint", "e", "", "upload endpoint URL")
	rootCmd.Flags().String("field", "", "multipart form field name")
	rootCmd.Flags().IntP("concurrency", "n", 0, "simultaneous uploads")
	rootCmd.Flags().Int("retries", -1, "automatic retries per file")
	rootCmd.Flags().Duration("timeout", 0, "per-attempt timeout (0 = none)")
	rootCmd.Flags().Bool("headless", false, "no TUI, print results and exit")
	rootCmd.Flags().Bool("no-history", false, "skip recording to the upload history")

	rootCmd.AddCommand(historyCmd)
}

// resolveSettings layers explicit flags over the settings file.
func resolveSettings(cmd *cobra.Command, s *config.Settings) {
	if cmd.Flags().Changed("endpoint") {
		s.Upload.Endpoint, _ = cmd.Flags().GetString("endpoint")
	}
	if cmd.Flags().Changed("field") {
		s.Upload.FieldName, _ = cmd.Flags().GetString("field")
	}
	if cmd.Flags().Changed("concurrency") {
		s.Upload.MaxConcurrentUploads, _ = cmd.Flags().GetInt("concurrency")
	}
	if cmd.Flags().Changed("retries") {
		s.Retry.MaxRetries, _ = cmd.Flags().GetInt("retries")
	}
	if cmd.Flags().Changed("timeout") {
		s.Upload.AttemptTimeout, _ = cmd.Flags().GetDuration("timeout")
	}
	if noHist, _ := cmd.Flags().GetBool("no-history"); noHist {
		s.History.Enabled = false
	}
}

func runRoot(cmd *cobra.Command, args []string) error {
	settings, err := config.LoadSettings()
	if err != nil {
		settings = config.DefaultSettings()
	}
	resolveSettings(cmd, settings)

	if settings.Upload.Endpoint == "" {
		return fmt.Errorf("no endpoint configured: pass --endpoint or set it in %s", config.GetSettingsPath())
	}

	files := make([]queue.File, 0, len(args))
	for _, path := range args {
		f, err := queue.FileFromPath(path)
		if err != nil {
			return err
		}
		files = append(files, f)
	}

	q := queue.New(
		queue.WithConcurrency(settings.Upload.MaxConcurrentUploads),
		queue.WithMaxRetries(settings.Retry.MaxRetries),
		queue.WithBackoff(settings.Retry.BackoffBase, settings.Retry.BackoffCap),
		queue.WithAttemptTimeout(settings.Upload.AttemptTimeout),
		queue.WithMonitorWindow(settings.Network.SpeedWindow),
	)
	defer q.Close()

	uploader := transport.New(settings.Upload.Endpoint,
		transport.WithFieldName(settings.Upload.FieldName))

	if settings.History.Enabled {
		store, err := history.Open(settings.GetHistoryPath())
		if err != nil {
			fmt.Fprintf(os.Stderr, "warning: upload history disabled: %v\n", err)
		} else {
			defer store.Close()
			rec := newRecorder(store)
			defer q.Subscribe(rec.observe)()
		}
	}

	headless, _ := cmd.Flags().GetBool("headless")
	if !headless {
		q.Enqueue(files, uploader.Upload)
		return tui.Run(q)
	}

	done := make(chan struct{}, 1)
	unsubscribe := q.Subscribe(func(tasks []queue.Task) {
		for _, t := range tasks {
			if !t.Status.Terminal() {
				return
			}
		}
		select {
		case done <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	q.Enqueue(files, uploader.Upload)
	<-done

	failed := 0
	for _, t := range q.Tasks() {
		line := fmt.Sprintf("%-9s  %s", t.Status, t.File.Name)
		if t.Error != "" {
			line += "  (" + t.Error + ")"
		}
		fmt.Println(line)
		if t.Status != queue.StatusCompleted {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d uploads did not complete", failed, len(files))
	}
	return nil
}

// recorder writes terminal transitions to the history ledger. It diffs
// consecutive snapshots so each task is recorded once.
type recorder struct {
	store *history.Store
	seen  map[string]queue.Status
}

func newRecorder(store *history.Store) *recorder {
	return &recorder{store: store, seen: make(map[string]queue.Status)}
}

func (r *recorder) observe(tasks []queue.Task) {
	for _, t := range tasks {
		if t.Status != queue.StatusCompleted && t.Status != queue.StatusFailed {
			continue
		}
		if r.seen[t.ID] == t.Status {
			continue
		}
		r.seen[t.ID] = t.Status

		var duration time.Duration
		if t.StartedAt != nil && t.CompletedAt != nil {
			duration = t.CompletedAt.Sub(*t.StartedAt)
		}
		err := r.store.Record(history.Entry{
			ID:       t.ID,
			Name:     t.File.Name,
			Size:     t.File.Size,
			Status:   string(t.Status),
			Error:    t.Error,
			Duration: duration,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "warning: record history: %v\n", err)
		}
	}
}
