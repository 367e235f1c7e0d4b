package schemas

import "time"

// -- Automation Layers --

// Layer identifies which automation stack a candidate goes through to reach
// its element. Layers are ordered from nearest (richest, most precise) to
// farthest (bluntest, last resort); escalation only ever moves outward.
type Layer int

const (
	LayerDOM           Layer = iota // CSS/XPath selectors through the DOM or CDP.
	LayerAccessibility              // Accessibility tree lookups (UIA, AX API).
	LayerCoordinates                // Raw screen-coordinate clicks.
	LayerVision                     // Vision-model grounded locating.
)

// layerNames maps layers to their wire/config names.
var layerNames = map[Layer]string{
	LayerDOM:           "dom",
	LayerAccessibility: "accessibility",
	LayerCoordinates:   "coordinates",
	LayerVision:        "vision",
}

// Layers lists all layers in near-to-far order. Escalation scans this slice.
func Layers() []Layer {
	return []Layer{LayerDOM, LayerAccessibility, LayerCoordinates, LayerVision}
}

func (l Layer) String() string {
	if name, ok := layerNames[l]; ok {
		return name
	}
	return "unknown"
}

// Valid reports whether l is one of the defined layers.
func (l Layer) Valid() bool {
	_, ok := layerNames[l]
	return ok
}

// ParseLayer maps a wire/config name back to its Layer. The second return is
// false for unknown names.
func ParseLayer(name string) (Layer, bool) {
	for l, n := range layerNames {
		if n == name {
			return l, true
		}
	}
	return 0, false
}

// -- Candidates --

// SelectorKind names the addressing scheme of a candidate's selector value.
// It is carried for the execution layer's benefit; this engine never
// interprets it.
type SelectorKind string

const (
	SelectorCSS        SelectorKind = "css"
	SelectorXPath      SelectorKind = "xpath"
	SelectorAXQuery    SelectorKind = "ax_query"
	SelectorPoint      SelectorKind = "point"
	SelectorVisionHint SelectorKind = "vision_hint"
)

// Candidate is one concrete way to address a logical UI target. Candidates
// are immutable once registered; their identity within a target is ID.
type Candidate struct {
	ID             string       `json:"id"`
	Layer          Layer        `json:"layer"`
	SelectorKind   SelectorKind `json:"selector_kind"`
	SelectorValue  string       `json:"selector_value"`
	StaticPriority int          `json:"static_priority"` // Author-assigned ordering hint; higher is preferred a priori.
}

// -- Learned Statistics --

// CandidateStats is the durable reward ledger for one (target, candidate)
// pair. It is mutated only through the store's RecordOutcome path.
type CandidateStats struct {
	Trials    int       `json:"trials"`
	RewardSum float64   `json:"reward_sum"`
	Misclicks int       `json:"misclicks"`
	Timeouts  int       `json:"timeouts"`
	NotFound  int       `json:"not_found"`
	LastSeen  time.Time `json:"last_seen"`
}

// MeanReward returns RewardSum/Trials, or 0 for an untried candidate.
func (s CandidateStats) MeanReward() float64 {
	if s.Trials == 0 {
		return 0
	}
	return s.RewardSum / float64(s.Trials)
}

// MisclickRate returns Misclicks/Trials, or 0 for an untried candidate.
func (s CandidateStats) MisclickRate() float64 {
	if s.Trials == 0 {
		return 0
	}
	return float64(s.Misclicks) / float64(s.Trials)
}

// -- Circuit Breaker Rows --

// BreakerPhase is the circuit breaker state for one (target, candidate) pair.
type BreakerPhase string

const (
	BreakerClosed   BreakerPhase = "CLOSED"    // Candidate is healthy and fully eligible.
	BreakerOpen     BreakerPhase = "OPEN"      // Candidate is quarantined until OpenUntil passes.
	BreakerHalfOpen BreakerPhase = "HALF_OPEN" // Cooldown elapsed; the next outcome decides.
)

// BreakerRow is the durable breaker state paired with a CandidateStats row.
// The two are always written in the same logical transaction.
type BreakerRow struct {
	Phase     BreakerPhase `json:"phase"`
	OpenUntil time.Time    `json:"open_until"`
	EMAFail   float64      `json:"ema_fail"` // Exponentially smoothed failure estimate in [0,1].
	Attempts  int          `json:"attempts"` // Outcomes observed since the last CLOSED reset.
}

// NewBreakerRow returns the initial state for a freshly seen candidate.
func NewBreakerRow() BreakerRow {
	return BreakerRow{Phase: BreakerClosed}
}
