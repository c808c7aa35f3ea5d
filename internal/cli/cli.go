// ============================================================================
// kwsource CLI - Command Line Interface
// ============================================================================
//
// Package: internal/cli
// File: cli.go
// Purpose: cobra 命令樹，串接設定、儲存層與 controller
//
// Command Structure:
//   kwsource                       # Root command
//   ├── run                        # Scan all queued departments
//   ├── departments                # List department codes offered by the source
//   ├── checksum <dept> <number>   # Print the full identifier with control digit
//   ├── last <dept>                # Highest stored sequence number of a department
//   ├── status                     # Show the last progress snapshot
//   ├── export --out               # Journal metadata records → Parquet
//   ├── verify [--dump]            # Validate the result journal
//   └── --config, -c               # Config file (default configs/default.yaml)
//
// .env is loaded before every command; KW_POSTGRES_DSN, KW_REDIS_URL and
// KW_WEBDRIVER_URL override the config file.
//
// ============================================================================

package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ChuLiYu/kw-sourcing/internal/checksum"
	"github.com/ChuLiYu/kw-sourcing/internal/export"
	"github.com/ChuLiYu/kw-sourcing/internal/snapshot"
	"github.com/ChuLiYu/kw-sourcing/internal/storage/postgres"
	"github.com/ChuLiYu/kw-sourcing/internal/storage/wal"
	"github.com/ChuLiYu/kw-sourcing/internal/tracker"
	"github.com/ChuLiYu/kw-sourcing/internal/webdriver"
	"github.com/ChuLiYu/kw-sourcing/pkg/types"
)

// Version is set at build time.
var Version = "dev"

var configFile string

// BuildCLI returns the root command.
func BuildCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "kwsource",
		Short: "kwsource: land-register book identifier sourcing",
		Long: `kwsource enumerates candidate book identifiers per department,
submits them to the public register search and records every result:
- append-only result journal with optional Postgres and Kafka mirrors
- shared department queue (in-process or Redis)
- progress snapshots, Prometheus metrics and gRPC health`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// .env is optional
			_ = godotenv.Load()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "configs/default.yaml", "config file path")

	rootCmd.AddCommand(buildRunCommand())
	rootCmd.AddCommand(buildDepartmentsCommand())
	rootCmd.AddCommand(buildChecksumCommand())
	rootCmd.AddCommand(buildLastCommand())
	rootCmd.AddCommand(buildStatusCommand())
	rootCmd.AddCommand(buildExportCommand())
	rootCmd.AddCommand(buildVerifyCommand())

	return rootCmd
}

// ============================================================================
// run
// ============================================================================

func buildRunCommand() *cobra.Command {
	var sessions int

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start scanning the queued departments",
		Long:  "Open the record sessions and scan every department until the queue is drained or the process is interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if sessions > 0 {
				cfg.Source.Sessions = sessions
			}

			runID := uuid.NewString()
			logger, closer, err := newLogger(cfg.Log.Dir, cfg.Log.Level, runID, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer closer.Close()

			logger.Info("starting run",
				"config", configFile,
				"sessions", cfg.Source.Sessions,
				"journal", cfg.Sink.JournalPath,
				"redis", cfg.Queue.RedisURL != "")
			return runSourcing(cmd.Context(), cfg, runID, logger)
		},
	}

	cmd.Flags().IntVarP(&sessions, "sessions", "n", 0, "number of parallel record sessions (overrides source.sessions)")
	return cmd
}

// ============================================================================
// departments
// ============================================================================

func buildDepartmentsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "departments",
		Short: "List department codes offered by the source",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			logger, closer, err := newLogger("", cfg.Log.Level, "", cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer closer.Close()

			s, err := webdriver.Open(cmd.Context(), cfg.WebDriver(logger))
			if err != nil {
				return err
			}
			defer s.Close()

			codes := s.Departments(cmd.Context())
			if len(codes) == 0 {
				return errors.New("source returned no departments")
			}
			for _, code := range codes {
				fmt.Fprintln(cmd.OutOrStdout(), code)
			}
			return nil
		},
	}
}

// ============================================================================
// checksum
// ============================================================================

func buildChecksumCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "checksum <department> <number>",
		Short: "Print the identifier with its control digit",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			dept := types.DepartmentCode(strings.ToUpper(args[0]))
			if err := dept.Validate(); err != nil {
				return err
			}
			n, err := strconv.Atoi(args[1])
			if err != nil || n < 0 || n >= types.SequenceSpace {
				return fmt.Errorf("number must be in [0, %d): %q", types.SequenceSpace, args[1])
			}
			id, err := checksum.BookID(dept, n)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
}

// ============================================================================
// last
// ============================================================================

func buildLastCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "last <department>",
		Short: "Show the highest stored sequence number of a department",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			dept := types.DepartmentCode(strings.ToUpper(args[0]))
			if err := dept.Validate(); err != nil {
				return err
			}
			return showLast(cmd, cfg, dept)
		},
	}
}

func showLast(cmd *cobra.Command, cfg *Config, dept types.DepartmentCode) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	journal, err := wal.Open(cfg.Sink.JournalPath)
	if err != nil {
		return err
	}
	defer journal.Close()

	seq, ok, err := journal.LastSequenceNumber(ctx, dept)
	if err != nil {
		return err
	}
	if ok {
		fmt.Fprintf(out, "journal:  %s last found number %08d\n", dept, seq)
	} else {
		fmt.Fprintf(out, "journal:  %s has no metadata records\n", dept)
	}

	if cfg.Sink.PostgresDSN == "" {
		return nil
	}
	store, err := postgres.Open(ctx, cfg.Sink.PostgresDSN)
	if err != nil {
		return err
	}
	defer store.Close()

	seq, ok, err = store.LastSequenceNumber(ctx, dept)
	if err != nil {
		return err
	}
	if ok {
		fmt.Fprintf(out, "postgres: %s last found number %08d\n", dept, seq)
	} else {
		fmt.Fprintf(out, "postgres: %s has no metadata records\n", dept)
	}
	reasons := []types.FailureReason{types.ReasonNotFound, types.ReasonAPIException, types.ReasonIncorrectControlNumber}
	counts, err := store.FailureCounts(ctx, dept, reasons)
	if err != nil {
		return err
	}
	for _, r := range reasons {
		fmt.Fprintf(out, "  └─ %-25s %d\n", r, counts[r])
	}
	return nil
}

// ============================================================================
// status
// ============================================================================

func buildStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the last progress status snapshot",
		Long:  "Display per-department progress from the last snapshot written by run",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			return showStatus(cmd.OutOrStdout(), cfg)
		},
	}
}

func showStatus(w io.Writer, cfg *Config) error {
	fmt.Fprintln(w, "\n╔═══════════════════════════════════════════════════════════╗")
	fmt.Fprintln(w, "║           kwsource Run Status                             ║")
	fmt.Fprintln(w, "╚═══════════════════════════════════════════════════════════╝")
	fmt.Fprintln(w)

	fmt.Fprintln(w, "📋 Configuration:")
	fmt.Fprintf(w, "  └─ Config File:     %s\n", configFile)
	fmt.Fprintf(w, "  └─ Sessions:        %d\n", cfg.Source.Sessions)
	fmt.Fprintf(w, "  └─ Scan Range:      [%d, %d)\n", cfg.Scan.StartSequence, cfg.Scan.EndSequence)
	fmt.Fprintf(w, "  └─ Snapshot Every:  %s\n", cfg.Snapshot.Interval)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "💾 Storage:")
	fmt.Fprintf(w, "  ├─ Journal:   %s\n", cfg.Sink.JournalPath)
	fmt.Fprintf(w, "  ├─ Postgres:  %s\n", enabled(cfg.Sink.PostgresDSN != ""))
	fmt.Fprintf(w, "  ├─ Kafka:     %s\n", enabled(len(cfg.Sink.KafkaBrokers) > 0))
	fmt.Fprintf(w, "  └─ Snapshot:  %s\n", cfg.Snapshot.Path)
	fmt.Fprintln(w)

	snap, err := snapshot.NewManager(cfg.Snapshot.Path).Load()
	switch {
	case errors.Is(err, snapshot.ErrSnapshotNotFound):
		fmt.Fprintln(w, "📊 Departments:")
		fmt.Fprintln(w, "  └─ No snapshot yet (run 'kwsource run' to start)")
		fmt.Fprintln(w)
		return nil
	case err != nil:
		return err
	}

	tr := tracker.New("")
	if err := tr.Restore(snap); err != nil {
		return err
	}
	counts := tr.StatusCounts()
	total := 0
	for _, n := range counts {
		total += n
	}

	fmt.Fprintf(w, "📊 Departments (run %s, %s):\n", snap.RunID, time.UnixMilli(snap.TakenAt).Format(time.RFC3339))
	fmt.Fprintf(w, "  ├─ Total:          %d\n", total)
	fmt.Fprintf(w, "  ├─ ⏳ Pending:      %d\n", counts[types.StatusPending])
	fmt.Fprintf(w, "  ├─ 🔄 In-Flight:    %d\n", counts[types.StatusInFlight])
	fmt.Fprintf(w, "  ├─ ✅ Completed:    %d\n", counts[types.StatusCompleted])
	fmt.Fprintf(w, "  └─ ❌ Abandoned:    %d\n", counts[types.StatusAbandoned])
	fmt.Fprintln(w)

	for _, p := range tr.List("") {
		kinds := make([]string, 0, len(p.Counts))
		for k, n := range p.Counts {
			kinds = append(kinds, fmt.Sprintf("%s=%d", k, n))
		}
		sort.Strings(kinds)
		fmt.Fprintf(w, "  %s  %-10s cursor=%-9d %s\n", p.Code, p.Status, p.Cursor, strings.Join(kinds, " "))
		if p.Error != "" {
			fmt.Fprintf(w, "        └─ %s\n", p.Error)
		}
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "═══════════════════════════════════════════════════════════")
	return nil
}

func enabled(on bool) string {
	if on {
		return "✅ enabled"
	}
	return "⚠️  disabled"
}

// ============================================================================
// export / verify
// ============================================================================

func buildExportCommand() *cobra.Command {
	var outPath string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export journal metadata records to Parquet",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			n, err := export.FromJournal(cfg.Sink.JournalPath, outPath)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exported %d records to %s\n", n, outPath)
			return nil
		},
	}

	cmd.Flags().StringVarP(&outPath, "out", "o", "data/metadata.parquet", "output Parquet file")
	return cmd
}

func buildVerifyCommand() *cobra.Command {
	var dump bool

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Validate the result journal",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			return verifyJournal(cmd.OutOrStdout(), cfg.Sink.JournalPath, dump)
		},
	}

	cmd.Flags().BoolVar(&dump, "dump", false, "print every event")
	return cmd
}

func verifyJournal(w io.Writer, path string, dump bool) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("journal: %w", err)
	}
	if dump {
		if err := wal.DumpWAL(path, w); err != nil {
			return err
		}
	}

	stats, err := wal.GetWALStats(path)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "events:    %d (seq %d..%d)\n", stats.TotalEvents, stats.FirstSeq, stats.LastSeq)
	fmt.Fprintf(w, "metadata:  %d\n", stats.EventTypes[wal.EventMetadata])
	fmt.Fprintf(w, "failures:  %d\n", stats.EventTypes[wal.EventFailure])
	for _, r := range []types.FailureReason{types.ReasonNotFound, types.ReasonAPIException, types.ReasonIncorrectControlNumber} {
		fmt.Fprintf(w, "  └─ %-25s %d\n", r, stats.Reasons[r])
	}
	fmt.Fprintf(w, "corrupted: %d\n", stats.CorruptedCount)

	if err := wal.ValidateWAL(path); err != nil {
		return fmt.Errorf("journal invalid: %w", err)
	}
	fmt.Fprintln(w, "journal OK")
	return nil
}
