package main

// Demo: scan synthetic departments with in-process sessions.
//
//	go run ./cmd/demo            # 3 departments, 2 sessions
//	go run ./cmd/demo 6 4        # 6 departments, 4 sessions
//
// Ctrl+C interrupts the run; the snapshot keeps the cursors of the
// departments that were in flight.

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"math/rand/v2"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/ChuLiYu/kw-sourcing/internal/controller"
	"github.com/ChuLiYu/kw-sourcing/internal/scanner"
	"github.com/ChuLiYu/kw-sourcing/internal/session/memory"
	"github.com/ChuLiYu/kw-sourcing/internal/snapshot"
	"github.com/ChuLiYu/kw-sourcing/internal/storage/wal"
	"github.com/ChuLiYu/kw-sourcing/internal/tracker"
	"github.com/ChuLiYu/kw-sourcing/internal/worker"
	"github.com/ChuLiYu/kw-sourcing/pkg/types"
)

const (
	demoDir   = "data/demo"
	rangeEnd  = 500
	bookRatio = 0.1
)

var demoDepartments = []types.DepartmentCode{"KI1I", "WA1M", "GD1G", "KR1P", "PO1P", "WR1K", "LU1I", "SZ1S"}

func main() {
	departments, sessions := argInt(1, 3), argInt(2, 2)
	if departments < 1 || departments > len(demoDepartments) {
		log.Fatalf("departments must be in [1, %d]", len(demoDepartments))
	}

	if err := os.MkdirAll(demoDir, 0o755); err != nil {
		log.Fatalf("Failed to create %s: %v", demoDir, err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	reg := memory.NewRegistry(demoDepartments[:departments]...)
	books := reg.Populate(rangeEnd, bookRatio, rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 7)))
	reg.SetLatency(2 * time.Millisecond)
	fmt.Printf("✓ Registry: %d departments, %d books in [0, %d)\n", departments, len(books), rangeEnd)

	journal, err := wal.Open(filepath.Join(demoDir, "results.wal"), wal.WithLogger(logger))
	if err != nil {
		log.Fatalf("Failed to open journal: %v", err)
	}
	defer journal.Close()

	tr := tracker.New(fmt.Sprintf("demo-%d", time.Now().Unix()))
	ctrl := controller.NewController(controller.Config{
		Departments: reg.Departments(context.Background()),
		SeedQueue:   true,
		ScanOptions: []scanner.Option{
			scanner.WithRange(0, rangeEnd),
			scanner.WithSettle(0),
			scanner.WithErrorSleep(10 * time.Millisecond),
			scanner.WithStableTimeout(time.Second),
		},
		SnapshotInterval: time.Second,
		KeepSnapshots:    2,
	}, worker.NewMemoryQueue(), journal,
		controller.WithLogger(logger),
		controller.WithTracker(tr),
		controller.WithSnapshots(snapshot.NewManager(filepath.Join(demoDir, "progress.json"))),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	open := make([]worker.Session, sessions)
	for i := range open {
		open[i] = reg.NewSession()
	}

	done := make(chan error, 1)
	go func() { done <- ctrl.Run(ctx, open) }()
	fmt.Printf("⚡ Scanning with %d sessions, press Ctrl+C to interrupt\n\n", sessions)

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case err := <-done:
			printStatus("Final Status", tr)
			if err != nil {
				fmt.Printf("\n⚠️  Run stopped: %v\n", err)
			}
			fmt.Printf("\nJournal:  %s (%d events)\n", journal.Path(), journal.LastSeq())
			fmt.Printf("Snapshot: %s\n", filepath.Join(demoDir, "progress.json"))
			return
		case <-ticker.C:
			counts := tr.StatusCounts()
			fmt.Printf("📊 Status: Pending=%d, In-Flight=%d, Completed=%d, Abandoned=%d\n",
				counts[types.StatusPending], counts[types.StatusInFlight],
				counts[types.StatusCompleted], counts[types.StatusAbandoned])
		}
	}
}

func printStatus(title string, tr *tracker.Tracker) {
	fmt.Printf("\n📊 %s:\n", title)
	for _, p := range tr.List("") {
		fmt.Printf("  %s  %-10s cursor=%-4d found=%-3d not_found=%-4d rejected=%d\n",
			p.Code, p.Status, p.Cursor,
			p.Counts[types.OutcomeFound], p.Counts[types.OutcomeNotFound],
			p.Counts[types.OutcomeChecksumRejected])
	}
}

func argInt(i, def int) int {
	if len(os.Args) <= i {
		return def
	}
	n, err := strconv.Atoi(os.Args[i])
	if err != nil {
		log.Fatalf("argument %d: %v", i, err)
	}
	return n
}
