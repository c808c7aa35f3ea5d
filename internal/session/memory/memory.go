// Package memory simulates the land register search form in memory. It backs
// the demo binary and end-to-end tests that cannot reach a browser.
package memory

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ChuLiYu/kw-sourcing/internal/checksum"
	"github.com/ChuLiYu/kw-sourcing/internal/scanner"
	"github.com/ChuLiYu/kw-sourcing/pkg/types"
)

// ErrNoSuchElement mirrors a missing element on the simulated page.
var ErrNoSuchElement = errors.New("memory: no such element")

// ErrClosed is returned by every call on a closed session.
var ErrClosed = errors.New("memory: session closed")

// Book is one record held by the simulated source.
type Book struct {
	Fields   map[string]string // keyed by scanner.LandRegisterLabels
	Sections map[string]string // keyed by scanner.Sections
}

// MetadataText renders the metadata block the way the source lays it out:
// each label on its own line followed by its value.
func (b Book) MetadataText() string {
	var sb strings.Builder
	sb.WriteString(scanner.ResultHeader + "\n")
	for _, label := range scanner.LandRegisterLabels {
		if v, ok := b.Fields[label]; ok {
			fmt.Fprintf(&sb, "%s\n%s\n", label, v)
		}
	}
	return sb.String()
}

// ============================================================================
// Registry
// ============================================================================

// Registry is the simulated record source shared by all sessions.
type Registry struct {
	mu          sync.Mutex
	departments []types.DepartmentCode
	books       map[string]Book
	rejected    map[string]bool
	failures    map[string]int
	latency     time.Duration
}

// NewRegistry creates an empty source listing departments.
func NewRegistry(departments ...types.DepartmentCode) *Registry {
	return &Registry{
		departments: departments,
		books:       map[string]Book{},
		rejected:    map[string]bool{},
		failures:    map[string]int{},
	}
}

// Add stores a book under id (DEPT/NNNNNNNN/C).
func (r *Registry) Add(id string, b Book) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.books[id] = b
}

// RejectControl makes the source flag the control digit of id.
func (r *Registry) RejectControl(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rejected[id] = true
}

// FailSubmissions makes the next n submissions of id fail transiently.
func (r *Registry) FailSubmissions(id string, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures[id] += n
}

// SetLatency delays every form submission.
func (r *Registry) SetLatency(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.latency = d
}

// Departments lists the department codes of the source.
func (r *Registry) Departments(context.Context) []types.DepartmentCode {
	return append([]types.DepartmentCode(nil), r.departments...)
}

// Populate adds a synthetic book for roughly density of the numbers in [0, end)
// for every department. It returns the ids added.
func (r *Registry) Populate(end int, density float64, rng *rand.Rand) []string {
	var ids []string
	for _, dept := range r.departments {
		for n := 0; n < end; n++ {
			if rng.Float64() >= density {
				continue
			}
			id, err := checksum.BookID(dept, n)
			if err != nil {
				continue
			}
			r.Add(id.String(), SyntheticBook(id))
			ids = append(ids, id.String())
		}
	}
	return ids
}

// SyntheticBook builds plausible content for id.
func SyntheticBook(id types.BookID) Book {
	fields := map[string]string{
		"Numer księgi wieczystej": id.String(),
		"Typ księgi wieczystej":   "NIERUCHOMOŚĆ GRUNTOWA",
		"Oznaczenie wydziału prowadzącego księgę wieczystą": fmt.Sprintf("%s, SĄD REJONOWY", id.Department),
		"Data zapisania księgi wieczystej":                  "2001-05-14",
		"Położenie": fmt.Sprintf("DZIAŁKA %d", id.Number),
		"Właściciel / użytkownik wieczysty / uprawniony": "SKARB PAŃSTWA",
	}
	sections := make(map[string]string, len(scanner.Sections))
	for _, s := range scanner.Sections {
		sections[s] = fmt.Sprintf("%s\n%s", s, id.String())
	}
	return Book{Fields: fields, Sections: sections}
}

func (r *Registry) submit(id string) (book Book, found, rejected bool, err error) {
	r.mu.Lock()
	latency := r.latency
	if n := r.failures[id]; n > 0 {
		r.failures[id] = n - 1
		r.mu.Unlock()
		return Book{}, false, false, fmt.Errorf("%w: search button intercepted", scanner.ErrSessionFailure)
	}
	rejected = r.rejected[id]
	book, found = r.books[id]
	r.mu.Unlock()

	if latency > 0 {
		time.Sleep(latency)
	}
	return book, found, rejected, nil
}

// ============================================================================
// Session
// ============================================================================

type page int

const (
	pageForm page = iota
	pageNotFound
	pageFound
	pagePrint
)

// Session is a simulated browser tab over a Registry.
type Session struct {
	registry *Registry

	page     page
	id       string
	book     Book
	flagged  bool
	section  string
	closed   atomic.Bool
	Submits  int
	Recovers int
}

var _ scanner.RecordSession = (*Session)(nil)

// NewSession opens a session on the search form.
func (r *Registry) NewSession() *Session {
	return &Session{registry: r}
}

// Departments lists the registry's departments, like the source's selection list.
func (s *Session) Departments(ctx context.Context) []types.DepartmentCode {
	return s.registry.Departments(ctx)
}

// SubmitIdentification looks up the identifier built from fields.
func (s *Session) SubmitIdentification(_ context.Context, fields map[string]string) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if s.page != pageForm {
		return fmt.Errorf("%w: %s", scanner.ErrSessionFailure, scanner.FieldDepartment)
	}
	s.Submits++
	dept := fields[scanner.FieldDepartment]
	number := fields[scanner.FieldNumber]
	control := fields[scanner.FieldControl]
	id := dept + "/" + number + "/" + control

	book, found, rejected, err := s.registry.submit(id)
	if err != nil {
		return err
	}

	want, err := checksum.ControlDigit(dept, number)
	s.id = id
	s.flagged = rejected || err != nil || control != string(want)
	s.section = ""
	switch {
	case s.flagged:
		s.page = pageForm
	case found:
		s.page, s.book = pageFound, book
	default:
		s.page = pageNotFound
	}
	return nil
}

// IsControlNumberFlagged reports the control digit warning of the last submission.
func (s *Session) IsControlNumberFlagged(context.Context) (bool, error) {
	if s.closed.Load() {
		return false, ErrClosed
	}
	return s.flagged, nil
}

// WaitUntilStable returns immediately; the simulated page is always loaded.
func (s *Session) WaitUntilStable(ctx context.Context, _ time.Duration) (bool, error) {
	if s.closed.Load() {
		return false, ErrClosed
	}
	return true, ctx.Err()
}

// PageText renders the current page.
func (s *Session) PageText(context.Context) (string, error) {
	if s.closed.Load() {
		return "", ErrClosed
	}
	switch s.page {
	case pageNotFound:
		return fmt.Sprintf("Księga wieczysta o numerze %s nie została odnaleziona.", s.id), nil
	case pageFound, pagePrint:
		return s.book.MetadataText(), nil
	}
	return "Wyszukiwanie księgi wieczystej", nil
}

// ReadElementText reads the metadata block or the open section.
func (s *Session) ReadElementText(_ context.Context, name string) (string, error) {
	if s.closed.Load() {
		return "", ErrClosed
	}
	switch {
	case name == scanner.ElementMetadata && s.page == pageFound:
		return s.book.MetadataText(), nil
	case name == scanner.ElementSectionContent && s.page == pagePrint && s.section != "":
		return s.book.Sections[s.section], nil
	}
	return "", fmt.Errorf("%w: %s", ErrNoSuchElement, name)
}

// ClickElement follows the page transitions of the source.
func (s *Session) ClickElement(_ context.Context, name string) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if section, ok := scanner.SectionFromButton(name); ok && s.page == pagePrint {
		if _, exists := s.book.Sections[section]; exists {
			s.section = section
			return nil
		}
	}
	switch {
	case name == scanner.ElementBackToCriteria && s.page == pageNotFound:
		s.page = pageForm
		return nil
	case name == scanner.ElementPrint && s.page == pageFound:
		s.page = pagePrint
		return nil
	}
	return fmt.Errorf("%w: %s", ErrNoSuchElement, name)
}

// NavigateToBaseURL returns to the search form.
func (s *Session) NavigateToBaseURL(context.Context) error {
	if s.closed.Load() {
		return ErrClosed
	}
	s.page = pageForm
	s.section = ""
	s.flagged = false
	return nil
}

// Refresh counts recoveries; the form is already reset by NavigateToBaseURL.
func (s *Session) Refresh(context.Context) error {
	if s.closed.Load() {
		return ErrClosed
	}
	s.Recovers++
	return nil
}

// Close marks the session closed.
func (s *Session) Close() error {
	s.closed.Store(true)
	return nil
}

// Closed reports whether Close was called.
func (s *Session) Closed() bool { return s.closed.Load() }
