// Package caen implements the CAEN nomenclature import pipeline, exports and
// the offline lookup cache.
package caen

import (
	"regexp"
	"strings"
)

// Record is one CAEN nomenclature entry.
type Record struct {
	Code        string `json:"code"`
	Description string `json:"description"`
	NACE        string `json:"nace,omitempty"`
	Division    string `json:"division,omitempty"`
}

var codePattern = regexp.MustCompile(`^\d{2,4}$`)

// ValidCode reports whether s is a CAEN code: a 2 to 4 digit group.
func ValidCode(s string) bool {
	return codePattern.MatchString(s)
}

// Validate reports whether the record is importable. The code must be valid
// and the description present.
func (r Record) Validate() bool {
	return ValidCode(r.Code) && strings.TrimSpace(r.Description) != ""
}
