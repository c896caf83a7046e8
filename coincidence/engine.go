package coincidence

import (
	"fmt"
	"sort"
	"time"

	"github.com/tanghyd/spiir-search/detector"
	"github.com/tanghyd/spiir-search/errors"
	"github.com/tanghyd/spiir-search/trigger"
)

// Config holds the coincidence tunables. All of them are search
// configuration; none are constants of the implementation.
type Config struct {
	// Detectors are the participating site ids; pair windows are
	// precomputed over this set.
	Detectors []string
	// TimingMargin is added to each pair's light travel time to absorb
	// timing reconstruction uncertainty.
	TimingMargin time.Duration
	// Window is the maximum age an open group may reach before it is
	// force-closed, measured in stream time.
	Window time.Duration
	// EmitSingles controls whether single-detector groups are emitted
	// as lower-confidence candidates or dropped at close.
	EmitSingles bool
	// ChisqPenaltyEnabled applies the consistency penalty to the
	// ranking statistic when member triggers carry chi-square values.
	ChisqPenaltyEnabled bool
	// ChisqPenaltyExponent shapes the penalty knee; 3 is the default.
	ChisqPenaltyExponent float64
	// TemplateNeighborhood selects the template matching rule. Only
	// "exact" (or empty) is implemented: nearby-template clustering is
	// a recognized future extension, and Validate rejects any other
	// value rather than silently degrading to exact matching.
	TemplateNeighborhood string
}

// Validate checks ranges and fills defaults.
func (c *Config) Validate() error {
	if len(c.Detectors) == 0 {
		return errors.WrapInvalid(errors.ErrMissingConfig, "coincidence", "Validate", "detector list validation")
	}
	for _, id := range c.Detectors {
		if !detector.Known(id) {
			return errors.WrapInvalid(
				fmt.Errorf("unknown detector %q", id),
				"coincidence", "Validate", "detector table lookup")
		}
	}
	if c.TimingMargin < 0 {
		return errors.WrapInvalid(
			fmt.Errorf("timing margin must be >= 0, got %v", c.TimingMargin),
			"coincidence", "Validate", "timing margin validation")
	}
	if c.Window <= 0 {
		return errors.WrapInvalid(
			fmt.Errorf("coincidence window must be > 0, got %v", c.Window),
			"coincidence", "Validate", "window validation")
	}
	if c.TemplateNeighborhood != "" && c.TemplateNeighborhood != "exact" {
		return errors.WrapInvalid(
			fmt.Errorf("template neighborhood %q is not implemented (only \"exact\")", c.TemplateNeighborhood),
			"coincidence", "Validate", "template neighborhood validation")
	}
	if c.ChisqPenaltyExponent == 0 {
		c.ChisqPenaltyExponent = 3
	}
	if c.ChisqPenaltyExponent < 1 {
		return errors.WrapInvalid(
			fmt.Errorf("chisq penalty exponent must be >= 1, got %g", c.ChisqPenaltyExponent),
			"coincidence", "Validate", "penalty exponent validation")
	}
	return nil
}

// group is one open cluster of mutually consistent triggers for a single
// template id.
type group struct {
	templateID int
	members    []*trigger.Trigger
	detectors  map[string]bool
	earliest   float64
	latest     float64
}

// Engine performs incremental coincidence clustering over a time-ordered
// trigger stream. It is driven from a single goroutine (the coincidence
// stage is the pipeline's serialization point) and holds only open
// groups: closed groups leave as Events and are forgotten.
type Engine struct {
	cfg Config

	// pairWindow[a][b] is the admission window between two detectors in
	// seconds: light travel time plus margin.
	pairWindow map[string]map[string]float64
	// maxWindow bounds any pair window, sizing the watermark hold-back.
	maxWindow float64

	open map[int][]*group // open groups keyed by template id
}

// NewEngine validates cfg and precomputes the pairwise admission windows.
func NewEngine(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	margin := cfg.TimingMargin.Seconds()
	pairWindow := make(map[string]map[string]float64, len(cfg.Detectors))
	maxWindow := 0.0
	for _, a := range cfg.Detectors {
		pairWindow[a] = make(map[string]float64, len(cfg.Detectors))
		for _, b := range cfg.Detectors {
			ltt, err := detector.LightTravelTime(a, b)
			if err != nil {
				return nil, err
			}
			w := ltt.Seconds() + margin
			pairWindow[a][b] = w
			if w > maxWindow {
				maxWindow = w
			}
		}
	}

	return &Engine{
		cfg:        cfg,
		pairWindow: pairWindow,
		maxWindow:  maxWindow,
		open:       make(map[int][]*group),
	}, nil
}

// MaxPairWindow returns the largest admission window in seconds. The
// stream controller holds the watermark back by at least this much before
// closing groups.
func (e *Engine) MaxPairWindow() float64 {
	return e.maxWindow
}

// consistent reports whether t fits the pair window against every member
// of g (the chain rule: transitive membership still requires pairwise
// consistency with the whole group).
func (e *Engine) consistent(g *group, t *trigger.Trigger) bool {
	if g.detectors[t.Detector] {
		// One trigger per detector per event; a second trigger from the
		// same site opens its own group.
		return false
	}
	for _, m := range g.members {
		w, ok := e.pairWindow[m.Detector][t.Detector]
		if !ok {
			return false
		}
		dt := t.Time - m.Time
		if dt < 0 {
			dt = -dt
		}
		if dt > w {
			return false
		}
	}
	return true
}

// Add admits one trigger. Triggers must arrive in global time order (the
// pipeline merges per-detector streams before calling). The trigger
// joins the open group of its template it is chain-consistent with; an
// inconsistent trigger opens a new group. When several groups accept it,
// it joins only the one with the tightest timing fit: two distinct open
// groups always contain a mutually inconsistent pair (that is why the
// second one was opened), so absorbing both would hand downstream an
// event whose members violate the pairwise windows or carry two triggers
// from one site.
func (e *Engine) Add(t *trigger.Trigger) error {
	if t == nil {
		return errors.WrapInvalid(errors.ErrInvalidData, "coincidence", "Add", "nil trigger validation")
	}
	if err := t.Validate(); err != nil {
		return err
	}
	if !detector.Known(t.Detector) {
		return errors.WrapInvalid(
			fmt.Errorf("unknown detector %q", t.Detector),
			"coincidence", "Add", "detector table lookup")
	}

	groups := e.open[t.TemplateID]
	var joined []*group
	for _, g := range groups {
		if e.consistent(g, t) {
			joined = append(joined, g)
		}
	}

	if len(joined) == 0 {
		g := &group{
			templateID: t.TemplateID,
			members:    []*trigger.Trigger{t},
			detectors:  map[string]bool{t.Detector: true},
			earliest:   t.Time,
			latest:     t.Time,
		}
		e.open[t.TemplateID] = append(groups, g)
		return nil
	}

	dst := joined[0]
	if len(joined) > 1 {
		dst = bestFit(joined, t)
	}

	dst.members = append(dst.members, t)
	dst.detectors[t.Detector] = true
	if t.Time < dst.earliest {
		dst.earliest = t.Time
	}
	if t.Time > dst.latest {
		dst.latest = t.Time
	}
	return nil
}

// bestFit returns the group whose members sit closest in time to t,
// judged by the worst member offset.
func bestFit(gs []*group, t *trigger.Trigger) *group {
	best := gs[0]
	bestSpread := maxOffset(best, t)
	for _, g := range gs[1:] {
		if spread := maxOffset(g, t); spread < bestSpread {
			best, bestSpread = g, spread
		}
	}
	return best
}

func maxOffset(g *group, t *trigger.Trigger) float64 {
	spread := 0.0
	for _, m := range g.members {
		dt := t.Time - m.Time
		if dt < 0 {
			dt = -dt
		}
		if dt > spread {
			spread = dt
		}
	}
	return spread
}

// AdvanceWatermark closes and returns every group that can no longer
// grow: either no consistent trigger can arrive at or before the
// watermark plus pair window, or the group has outlived the configured
// window. Returned events are ordered by earliest member time. Single
// -detector groups are emitted only when configured.
func (e *Engine) AdvanceWatermark(watermark float64) []*Event {
	var events []*Event

	for templateID, groups := range e.open {
		kept := groups[:0]
		for _, g := range groups {
			closable := watermark > g.latest+e.maxWindow
			expired := watermark-g.earliest > e.cfg.Window.Seconds()
			if !closable && !expired {
				kept = append(kept, g)
				continue
			}
			if ev := e.close(g); ev != nil {
				events = append(events, ev)
			}
		}
		if len(kept) == 0 {
			delete(e.open, templateID)
		} else {
			e.open[templateID] = kept
		}
	}

	sortEventsByTime(events)
	return events
}

// Flush closes every open group regardless of the watermark, for stream
// end or shutdown.
func (e *Engine) Flush() []*Event {
	var events []*Event
	for _, groups := range e.open {
		for _, g := range groups {
			if ev := e.close(g); ev != nil {
				events = append(events, ev)
			}
		}
	}
	e.open = make(map[int][]*group)
	sortEventsByTime(events)
	return events
}

// OpenGroups returns the number of currently open groups, for health and
// metrics.
func (e *Engine) OpenGroups() int {
	n := 0
	for _, groups := range e.open {
		n += len(groups)
	}
	return n
}

func (e *Engine) close(g *group) *Event {
	if len(g.members) == 1 && !e.cfg.EmitSingles {
		return nil
	}
	sortTriggersByTime(g.members)
	return newEvent(g.templateID, g.members, e.cfg.ChisqPenaltyExponent, e.cfg.ChisqPenaltyEnabled)
}

func sortTriggersByTime(ts []*trigger.Trigger) {
	sort.Slice(ts, func(i, j int) bool { return ts[i].Time < ts[j].Time })
}

func sortEventsByTime(evs []*Event) {
	sort.Slice(evs, func(i, j int) bool { return evs[i].TimeMin < evs[j].TimeMin })
}
