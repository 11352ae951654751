package verdict

import (
	"patchcert/domain/grid"
)

// Status is the three-way certification outcome for one input.
type Status string

const (
	StatusIncorrect       Status = "incorrect"
	StatusVulnerable      Status = "vulnerable"
	StatusCertifiedRobust Status = "certified_robust"
)

// AllStatuses lists statuses in increasing order of strength.
var AllStatuses = []Status{StatusIncorrect, StatusVulnerable, StatusCertifiedRobust}

// AdversaryModel names the threat model a BoundTable was computed under.
type AdversaryModel string

const (
	// ModelMasking: cells inside one window vote arbitrarily.
	ModelMasking AdversaryModel = "masking"
	// ModelClipping: scores inside one window move anywhere in [0, V].
	ModelClipping AdversaryModel = "clipping"
)

// BoundTable holds, per class, sound worst-case (Lower) and best-case (Upper)
// aggregate support under one adversary model, plus the clean aggregate of the
// unperturbed grid.
// INVARIANTS:
// - len(Lower) == len(Upper) == len(Clean) == number of classes
// - Lower[c] <= Clean[c] <= Upper[c]
// - every single-window corruption keeps class c's aggregate in [Lower[c], Upper[c]]
type BoundTable struct {
	Model  AdversaryModel   `json:"model"`
	Window grid.WindowShape `json:"window"`
	Lower  []float64        `json:"lower"`
	Upper  []float64        `json:"upper"`
	Clean  []float64        `json:"clean"`
}

// NewBoundTable allocates zeroed bounds for the given number of classes.
func NewBoundTable(model AdversaryModel, window grid.WindowShape, classes int) *BoundTable {
	return &BoundTable{
		Model:  model,
		Window: window,
		Lower:  make([]float64, classes),
		Upper:  make([]float64, classes),
		Clean:  make([]float64, classes),
	}
}

// Classes returns the number of classes covered.
func (b *BoundTable) Classes() int { return len(b.Lower) }

// Verdict is a certification outcome with the bounds that justified it.
type Verdict struct {
	Status     Status  `json:"status"`
	TrueLabel  int     `json:"true_label"`
	Lower      float64 `json:"lower"`      // worst-case support of the true label
	Upper      float64 `json:"upper"`      // best-case support of the strongest competitor
	Competitor int     `json:"competitor"` // class attaining Upper
	CleanLabel int     `json:"clean_label"`

	Bounds *BoundTable `json:"bounds,omitempty"`
}

// Margin is Lower - Upper; positive exactly when the verdict is certified.
func (v Verdict) Margin() float64 { return v.Lower - v.Upper }
