// Package coincidence groups time-ordered per-detector triggers into
// multi-detector candidate events. Two triggers coincide when they share a
// template and their arrival times differ by no more than the pair's light
// travel time plus a timing-uncertainty margin; grouping is transitive
// with chain-rule admission against open groups only, so trigger volume
// never forces quadratic re-comparison. Groups close against the stream
// controller's watermark, which bounds output latency.
package coincidence

import (
	"encoding/json"
	"math"

	"github.com/google/uuid"

	"github.com/tanghyd/spiir-search/trigger"
)

// Event is a closed coincidence group: member triggers from distinct
// detectors, a combined ranking statistic, and optional source
// classification. Terminal output of the search core.
type Event struct {
	ID         string             `json:"id"`
	TemplateID int                `json:"template_id"`
	Triggers   []*trigger.Trigger `json:"triggers"`
	// NetworkSNR is the quadrature sum of member SNR magnitudes.
	NetworkSNR float64 `json:"network_snr"`
	// RankingStat is NetworkSNR after the signal-consistency penalty;
	// equal to NetworkSNR when no member carries a chi-square value.
	RankingStat float64 `json:"ranking_stat"`
	Single      bool    `json:"single"`
	TimeMin     float64 `json:"time_min"`
	TimeMax     float64 `json:"time_max"`
	// SourceProbabilities holds optional per-class astrophysical source
	// probabilities attached by the classifier.
	SourceProbabilities map[string]float64 `json:"source_probabilities,omitempty"`
}

// Detectors returns the member detector ids in trigger order.
func (e *Event) Detectors() []string {
	out := make([]string, len(e.Triggers))
	for i, t := range e.Triggers {
		out[i] = t.Detector
	}
	return out
}

// MarshalJSON implements json.Marshaler; the field set above is the
// stable wire contract.
func (e *Event) MarshalJSON() ([]byte, error) {
	type alias Event
	return json.Marshal((*alias)(e))
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *Event) UnmarshalJSON(data []byte) error {
	type alias Event
	return json.Unmarshal(data, (*alias)(e))
}

// newEvent builds the terminal record from a closed group.
func newEvent(templateID int, members []*trigger.Trigger, penaltyExp float64, penaltyOn bool) *Event {
	ev := &Event{
		ID:         uuid.New().String(),
		TemplateID: templateID,
		Triggers:   members,
		Single:     len(members) == 1,
		TimeMin:    math.Inf(1),
		TimeMax:    math.Inf(-1),
	}

	var sumSq, sumPenalized float64
	for _, t := range members {
		sumSq += t.Magnitude * t.Magnitude

		contribution := t.Magnitude * t.Magnitude
		if penaltyOn && t.ChiSq != nil {
			contribution /= chisqPenalty(*t.ChiSq, penaltyExp)
		}
		sumPenalized += contribution

		if t.Time < ev.TimeMin {
			ev.TimeMin = t.Time
		}
		if t.Time > ev.TimeMax {
			ev.TimeMax = t.Time
		}
	}

	ev.NetworkSNR = math.Sqrt(sumSq)
	ev.RankingStat = math.Sqrt(sumPenalized)
	return ev
}

// chisqPenalty is the smooth, monotonic down-weight applied to a member
// whose reduced chi-square exceeds one:
//
//	penalty(x) = ((1 + x^p) / 2)^(1/p)  for x > 1, else 1
//
// It is 1 at x=1 and asymptotically linear in x, so marginal consistency
// costs little and gross inconsistency dominates. The exponent p shapes
// the knee. This is a calibration placeholder; the combined statistic
// must be re-tuned against background before its values mean anything
// absolute.
func chisqPenalty(x, p float64) float64 {
	if x <= 1 {
		return 1
	}
	return math.Pow((1+math.Pow(x, p))/2, 1/p)
}
