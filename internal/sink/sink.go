// Package sink defines where scan outcomes are persisted.
package sink

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/ChuLiYu/kw-sourcing/pkg/types"
)

// Appender persists records. Implementations stamp InjectedAt themselves.
type Appender interface {
	AppendFailure(ctx context.Context, bookID string, reason types.FailureReason) error
	AppendMetadata(ctx context.Context, record types.MetadataRecord) error
}

// ResultSink is an append-only document store for outcomes.
type ResultSink interface {
	Appender

	// LastSequenceNumber returns the highest sequence number among stored metadata
	// ids of the department. ok is false when none exist.
	LastSequenceNumber(ctx context.Context, department types.DepartmentCode) (seq int, ok bool, err error)
}

// MaxSequence scans ids and returns the highest sequence number belonging to
// department. Ids that do not parse are ignored.
func MaxSequence(department types.DepartmentCode, ids []string) (int, bool) {
	prefix := string(department) + "/"
	best, found := 0, false
	for _, id := range ids {
		if !strings.HasPrefix(id, prefix) {
			continue
		}
		parsed, err := types.ParseBookID(id)
		if err != nil {
			continue
		}
		if !found || parsed.Number > best {
			best, found = parsed.Number, true
		}
	}
	return best, found
}

// DefaultMirrorTimeout bounds a single mirror write.
const DefaultMirrorTimeout = 10 * time.Second

// Fanout writes to a primary sink and mirrors every record to secondary appenders.
// Only primary errors are returned; mirror errors are logged.
type Fanout struct {
	primary ResultSink
	mirrors []Appender
	logger  *slog.Logger

	// MirrorTimeout bounds each mirror call. Zero or negative means DefaultMirrorTimeout.
	MirrorTimeout time.Duration
}

// NewFanout creates a Fanout. A nil logger falls back to slog.Default().
func NewFanout(primary ResultSink, logger *slog.Logger, mirrors ...Appender) *Fanout {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fanout{primary: primary, mirrors: mirrors, logger: logger, MirrorTimeout: DefaultMirrorTimeout}
}

func (f *Fanout) AppendFailure(ctx context.Context, bookID string, reason types.FailureReason) error {
	if err := f.primary.AppendFailure(ctx, bookID, reason); err != nil {
		return err
	}
	f.mirror(ctx, bookID, func(ctx context.Context, m Appender) error {
		return m.AppendFailure(ctx, bookID, reason)
	})
	return nil
}

func (f *Fanout) AppendMetadata(ctx context.Context, record types.MetadataRecord) error {
	if err := f.primary.AppendMetadata(ctx, record); err != nil {
		return err
	}
	f.mirror(ctx, record.ID, func(ctx context.Context, m Appender) error {
		return m.AppendMetadata(ctx, record)
	})
	return nil
}

// mirror runs write against every mirror, each under its own deadline.
func (f *Fanout) mirror(ctx context.Context, bookID string, write func(context.Context, Appender) error) {
	timeout := f.MirrorTimeout
	if timeout <= 0 {
		timeout = DefaultMirrorTimeout
	}
	for _, m := range f.mirrors {
		mctx, cancel := context.WithTimeout(ctx, timeout)
		err := write(mctx, m)
		cancel()
		if err != nil {
			f.logger.Warn("mirror append failed", "book_id", bookID, "error", err)
		}
	}
}

func (f *Fanout) LastSequenceNumber(ctx context.Context, department types.DepartmentCode) (int, bool, error) {
	return f.primary.LastSequenceNumber(ctx, department)
}

// now is swapped in tests.
var now = time.Now
