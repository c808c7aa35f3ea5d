package scanner

import (
	"regexp"
	"strings"

	"github.com/ChuLiYu/kw-sourcing/pkg/types"
)

// NotFoundMarker is shown by the source when no book matches the identifier.
const NotFoundMarker = "nie została odnaleziona"

// ResultHeader heads the result page of a found book.
const ResultHeader = "Wynik wyszukiwania księgi wieczystej"

// LandRegisterLabels are the metadata block labels, in display order.
var LandRegisterLabels = []string{
	"Numer księgi wieczystej",
	"Typ księgi wieczystej",
	"Oznaczenie wydziału prowadzącego księgę wieczystą",
	"Data zapisania księgi wieczystej",
	"Położenie",
	"Właściciel / użytkownik wieczysty / uprawniony",
}

// Sections are the book sections read after switching to the print view.
var Sections = []string{"Dział I-O", "Dział I-Sp", "Dział II", "Dział III", "Dział IV"}

var labelPatterns = func() []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(LandRegisterLabels))
	for i, label := range LandRegisterLabels {
		out[i] = regexp.MustCompile(regexp.QuoteMeta(label) + `\s*\n([^\n]+)`)
	}
	return out
}()

// ExtractLandRegisterInfo reads each label's value from the metadata text. A value
// is the first non-empty line after its label. Labels without a value map to ""
// and are also returned in missing.
func ExtractLandRegisterInfo(metadata string) (fields map[string]string, missing []string) {
	fields = make(map[string]string, len(LandRegisterLabels))
	for i, label := range LandRegisterLabels {
		m := labelPatterns[i].FindStringSubmatch(metadata)
		if m == nil {
			fields[label] = ""
			missing = append(missing, label)
			continue
		}
		fields[label] = strings.TrimSpace(m[1])
	}
	return fields, missing
}

var departmentLine = regexp.MustCompile(`\n([A-Z]{2}\d[A-Z]) - `)

// ParseDepartmentCodes extracts department codes from the text of the source's
// department dropdown, where each entry is a line "CODE - Name".
func ParseDepartmentCodes(text string) []types.DepartmentCode {
	matches := departmentLine.FindAllStringSubmatch(text, -1)
	codes := make([]types.DepartmentCode, 0, len(matches))
	for _, m := range matches {
		codes = append(codes, types.DepartmentCode(m[1]))
	}
	return codes
}
