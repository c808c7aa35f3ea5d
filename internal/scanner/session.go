package scanner

import (
	"context"
	"errors"
	"time"
)

// ErrSessionFailure marks a transient failure while submitting the search form
// (element missing, click intercepted, page blocked). Sessions wrap such errors
// with it; any other submission error abandons the department.
var ErrSessionFailure = errors.New("record session failure")

// Logical element names understood by every RecordSession.
const (
	FieldDepartment = "kodWydzialuInput"
	FieldNumber     = "numerKsiegiWieczystej"
	FieldControl    = "cyfraKontrolna"

	ElementSearch         = "wyszukaj"
	ElementControlFlag    = "cyfraKontrolna--cyfra-kontrolna"
	ElementMetadata       = "content-wrapper"
	ElementPrint          = "przyciskWydrukZwykly"
	ElementSectionContent = "contentDzialu"
	ElementBackToCriteria = "powrotDoKryterii"
	ElementDepartmentList = "kodWydzialuList"
	ElementDepartmentOpen = "kodWydzialuImg"

	// sectionPrefix marks a section tab button; the rest of the name is its label.
	sectionPrefix = "section:"
)

// IdentificationFields is the order in which form fields are filled.
var IdentificationFields = []string{FieldDepartment, FieldNumber, FieldControl}

// SectionButton returns the logical element name of a section's tab button.
func SectionButton(section string) string { return sectionPrefix + section }

// SectionFromButton reverses SectionButton.
func SectionFromButton(name string) (string, bool) {
	if len(name) > len(sectionPrefix) && name[:len(sectionPrefix)] == sectionPrefix {
		return name[len(sectionPrefix):], true
	}
	return "", false
}

// RecordSession is one interactive session against the external record source.
// A session is owned by exactly one worker and is never used concurrently.
type RecordSession interface {
	// SubmitIdentification fills the search form with fields (keyed by the Field*
	// constants) and triggers the search.
	SubmitIdentification(ctx context.Context, fields map[string]string) error
	// IsControlNumberFlagged reports whether the source rejected the control digit.
	IsControlNumberFlagged(ctx context.Context) (bool, error)
	// WaitUntilStable blocks until the page finished loading or timeout elapses.
	WaitUntilStable(ctx context.Context, timeout time.Duration) (bool, error)
	// PageText returns the visible text of the whole page.
	PageText(ctx context.Context) (string, error)
	ReadElementText(ctx context.Context, name string) (string, error)
	ClickElement(ctx context.Context, name string) error
	NavigateToBaseURL(ctx context.Context) error
	Refresh(ctx context.Context) error
}
