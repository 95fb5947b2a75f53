// Package firm holds the firm read model and the coalescing query facade.
package firm

import (
	"github.com/rotisserie/eris"

	"github.com/opencrm-ro/firmdir/internal/activity"
)

// Firm is one directory entry, keyed by fiscal code (CUI). Financial fields
// are the latest reported year. CAEN may be absent; that is a displayable
// state, not an error.
type Firm struct {
	CUI       string  `json:"cui"`
	Name      string  `json:"denumire"`
	County    string  `json:"judet"`
	Locality  string  `json:"localitate"`
	Revenue   int64   `json:"cifra_afaceri"`
	NetProfit int64   `json:"profit_net"`
	Employees int     `json:"angajati"`
	Licenses  int     `json:"licente"`
	CAEN      *string `json:"caen,omitempty"`
}

// FirmView is the complete read model served to clients: the firm plus its
// activity history. It is always a full replacement, never a partial merge.
type FirmView struct {
	Firm       Firm                `json:"firm"`
	Activities []activity.Activity `json:"activities"`
}

// ErrNotFound reports a lookup for a firm that does not exist. Coalesced
// callers all observe it for the same miss.
var ErrNotFound = eris.New("firm: not found")
