// Package scanner walks one department's identifier space against a record session.
package scanner

// ============================================================================
// Department scanner
// Responsibility: drive one identifier through the lookup state machine,
// classify the result, and write it to the sink
// ============================================================================

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ChuLiYu/kw-sourcing/internal/sequencer"
	"github.com/ChuLiYu/kw-sourcing/internal/sink"
	"github.com/ChuLiYu/kw-sourcing/pkg/types"
)

const (
	// DefaultErrorSleep is the cooldown after a session failure.
	DefaultErrorSleep = 300 * time.Second
	// DefaultStableTimeout bounds WaitUntilStable.
	DefaultStableTimeout = 30 * time.Second
	// DefaultSettle is the pause after submitting the form and after each section switch.
	DefaultSettle = 500 * time.Millisecond
)

// State is the position of the scanner within one identifier's lookup.
type State int

const (
	StateInit State = iota
	StateSubmitIdentification
	StateValidateControl
	StateCheckFound
	StateExtract
	StateDone
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateSubmitIdentification:
		return "SUBMIT_IDENTIFICATION"
	case StateValidateControl:
		return "VALIDATE_CONTROL"
	case StateCheckFound:
		return "CHECK_FOUND"
	case StateExtract:
		return "EXTRACT"
	case StateDone:
		return "DONE"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Observer is notified after every classified identifier.
// position is the cursor position after the identifier.
type Observer interface {
	ObserveOutcome(outcome types.Outcome, position int, elapsed time.Duration)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(outcome types.Outcome, position int, elapsed time.Duration)

func (f ObserverFunc) ObserveOutcome(o types.Outcome, position int, elapsed time.Duration) {
	f(o, position, elapsed)
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Sleep is the default Sleeper.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Scanner scans one department with one session. It is used by a single
// goroutine at a time.
type Scanner struct {
	session RecordSession
	sink    sink.Appender
	cursor  *sequencer.Cursor

	logger        *slog.Logger
	observers     []Observer
	sleep         Sleeper
	errorSleep    time.Duration
	stableTimeout time.Duration
	settle        time.Duration
	cursorOpts    []sequencer.Option
	tracer        trace.Tracer

	state State
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Scanner) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithObserver adds an outcome observer.
func WithObserver(o Observer) Option {
	return func(s *Scanner) {
		if o != nil {
			s.observers = append(s.observers, o)
		}
	}
}

// WithSleeper replaces the sleep used for cooldowns and settles.
func WithSleeper(fn Sleeper) Option {
	return func(s *Scanner) { s.sleep = fn }
}

// WithErrorSleep sets the cooldown after a session failure.
func WithErrorSleep(d time.Duration) Option {
	return func(s *Scanner) { s.errorSleep = d }
}

// WithStableTimeout bounds the wait for the result page.
func WithStableTimeout(d time.Duration) Option {
	return func(s *Scanner) { s.stableTimeout = d }
}

// WithSettle sets the short pause after form submission and section switches.
func WithSettle(d time.Duration) Option {
	return func(s *Scanner) { s.settle = d }
}

// WithRange limits the scan to sequence numbers [start, end).
func WithRange(start, end int) Option {
	return func(s *Scanner) { s.cursorOpts = append(s.cursorOpts, sequencer.WithRange(start, end)) }
}

// New creates a scanner for department over session, writing to out.
func New(session RecordSession, department types.DepartmentCode, out sink.Appender, opts ...Option) (*Scanner, error) {
	if err := department.Validate(); err != nil {
		return nil, err
	}
	s := &Scanner{
		session:       session,
		sink:          out,
		logger:        slog.Default(),
		sleep:         Sleep,
		errorSleep:    DefaultErrorSleep,
		stableTimeout: DefaultStableTimeout,
		settle:        DefaultSettle,
		tracer:        otel.Tracer("github.com/ChuLiYu/kw-sourcing/internal/scanner"),
	}
	for _, opt := range opts {
		opt(s)
	}
	cursor, err := sequencer.New(department, s.cursorOpts...)
	if err != nil {
		return nil, err
	}
	s.cursor = cursor
	s.logger = s.logger.With("department", string(department))
	return s, nil
}

// State returns the current state.
func (s *Scanner) State() State { return s.state }

// Cursor exposes the scanner's position.
func (s *Scanner) Cursor() *sequencer.Cursor { return s.cursor }

// Run scans every identifier of the cursor range in order. Each identifier is
// classified exactly once. Unexpected session or sink errors abort the scan and
// are returned; ctx cancellation stops between identifiers.
func (s *Scanner) Run(ctx context.Context) (err error) {
	ctx, span := s.tracer.Start(ctx, "scanner.department", trace.WithAttributes(
		attribute.String("department", string(s.cursor.Department())),
		attribute.Int("start", s.cursor.Position()),
		attribute.Int("end", s.cursor.End()),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	s.logger.Info("department scan started", "start", s.cursor.Position(), "end", s.cursor.End())
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.state = StateInit
		id, ok, err := s.cursor.Next()
		if err != nil {
			return fmt.Errorf("next identifier: %w", err)
		}
		if !ok {
			s.state = StateDone
			s.logger.Info("department scan finished", "position", s.cursor.Position())
			return nil
		}

		start := time.Now()
		outcome, err := s.scanOne(ctx, id)
		if err != nil {
			return fmt.Errorf("scan %s in state %s: %w", id, s.state, err)
		}
		elapsed := time.Since(start)
		for _, o := range s.observers {
			o.ObserveOutcome(outcome, s.cursor.Position(), elapsed)
		}
	}
}

func (s *Scanner) scanOne(ctx context.Context, id types.BookID) (types.Outcome, error) {
	outcome := types.Outcome{ID: id}
	log := s.logger.With("book_id", id.String())

	s.state = StateSubmitIdentification
	if err := s.session.SubmitIdentification(ctx, identification(id)); err != nil {
		if !errors.Is(err, ErrSessionFailure) {
			return outcome, fmt.Errorf("submit identification: %w", err)
		}
		log.Error("submitting identification failed", "error", err)
		outcome.Kind = types.OutcomeSessionFailure
		if err := s.fail(ctx, id, outcome.Kind); err != nil {
			return outcome, err
		}
		if err := s.recoverSession(ctx); err != nil {
			return outcome, err
		}
		return outcome, nil
	}
	_ = s.sleep(ctx, s.settle)

	s.state = StateValidateControl
	flagged, err := s.session.IsControlNumberFlagged(ctx)
	if err != nil {
		return outcome, fmt.Errorf("check control number: %w", err)
	}
	if flagged {
		log.Warn("control number rejected by source")
		outcome.Kind = types.OutcomeChecksumRejected
		return outcome, s.fail(ctx, id, outcome.Kind)
	}

	s.state = StateCheckFound
	found, page, err := s.checkFound(ctx, log)
	if err != nil {
		return outcome, err
	}
	if !found {
		log.Debug("book not found")
		outcome.Kind = types.OutcomeNotFound
		if err := s.fail(ctx, id, outcome.Kind); err != nil {
			return outcome, err
		}
		if err := s.session.ClickElement(ctx, ElementBackToCriteria); err != nil {
			return outcome, fmt.Errorf("back to criteria: %w", err)
		}
		return outcome, nil
	}

	s.state = StateExtract
	log.Info("book found")
	fields := s.extract(ctx, log, page)
	outcome.Kind = types.OutcomeFound
	outcome.Metadata = fields
	if err := s.sink.AppendMetadata(ctx, types.MetadataRecord{ID: id.String(), Fields: fields}); err != nil {
		return outcome, fmt.Errorf("append metadata: %w", err)
	}
	if err := s.session.NavigateToBaseURL(ctx); err != nil {
		return outcome, fmt.Errorf("navigate to base url: %w", err)
	}
	return outcome, nil
}

func identification(id types.BookID) map[string]string {
	return map[string]string{
		FieldDepartment: string(id.Department),
		FieldNumber:     id.NumberString(),
		FieldControl:    string(id.Control),
	}
}

func (s *Scanner) fail(ctx context.Context, id types.BookID, kind types.OutcomeKind) error {
	reason, _ := kind.Reason()
	if err := s.sink.AppendFailure(ctx, id.String(), reason); err != nil {
		return fmt.Errorf("append failure: %w", err)
	}
	return nil
}

// recoverSession waits out the cooldown and resets the session to the search form.
func (s *Scanner) recoverSession(ctx context.Context) error {
	s.logger.Warn("cooling down after session failure", "sleep", s.errorSleep)
	if err := s.sleep(ctx, s.errorSleep); err != nil {
		return err
	}
	if err := s.session.NavigateToBaseURL(ctx); err != nil {
		return fmt.Errorf("recover: navigate to base url: %w", err)
	}
	if err := s.session.Refresh(ctx); err != nil {
		return fmt.Errorf("recover: refresh: %w", err)
	}
	return nil
}

// checkFound waits for the result page and looks for the not-found marker.
// An unreadable page counts as not found. The page text is returned for extract.
func (s *Scanner) checkFound(ctx context.Context, log *slog.Logger) (bool, string, error) {
	stable, err := s.session.WaitUntilStable(ctx, s.stableTimeout)
	if err != nil {
		return false, "", fmt.Errorf("wait for result page: %w", err)
	}
	if !stable {
		log.Warn("result page did not settle", "timeout", s.stableTimeout)
	}
	text, err := s.session.PageText(ctx)
	if err != nil {
		log.Warn("reading result page failed", "error", err)
		return false, "", nil
	}
	return !strings.Contains(text, NotFoundMarker), text, nil
}

// extract reads the metadata block and the five sections. Every read is best
// effort: a failed read leaves its value empty. A page without ResultHeader is
// not a result page and yields no fields.
func (s *Scanner) extract(ctx context.Context, log *slog.Logger, page string) map[string]string {
	if !strings.Contains(page, ResultHeader) {
		log.Warn("book search results header missing")
		return map[string]string{}
	}
	metadata, err := s.session.ReadElementText(ctx, ElementMetadata)
	if err != nil {
		log.Warn("reading metadata block failed", "error", err)
		metadata = ""
	}
	fields, missing := ExtractLandRegisterInfo(metadata)
	if len(missing) > 0 {
		log.Warn("metadata labels missing", "labels", missing)
	}

	if err := s.session.ClickElement(ctx, ElementPrint); err != nil {
		log.Warn("opening print view failed", "error", err)
	}
	for _, section := range Sections {
		fields[section] = s.readSection(ctx, log, section)
	}
	return fields
}

func (s *Scanner) readSection(ctx context.Context, log *slog.Logger, section string) string {
	if err := s.session.ClickElement(ctx, SectionButton(section)); err != nil {
		log.Warn("opening section failed", "section", section, "error", err)
		return ""
	}
	_ = s.sleep(ctx, s.settle)
	text, err := s.session.ReadElementText(ctx, ElementSectionContent)
	if err != nil {
		log.Warn("reading section failed", "section", section, "error", err)
		return ""
	}
	return text
}
