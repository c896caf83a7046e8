// Package classify assigns astrophysical source-class probabilities to
// candidate events with the chirp-mass area method (Villa-Ortega et al.
// 2021): luminosity distance and its spread are estimated from the
// recovered SNR and effective distance, the detector-frame chirp mass is
// converted to a source-frame band, and the band's area inside each
// component-mass region (BNS, NSBH, BBH, optionally MassGap) sets the
// class probabilities. FAR-based astro-vs-terrestrial weighting is out of
// scope here; Classifier is the seam for richer models.
package classify

import (
	"encoding/json"
	"fmt"
	"math"
	"os"

	"github.com/tanghyd/spiir-search/errors"
)

// Source class labels as they appear in event records.
const (
	ClassBNS     = "bns"
	ClassNSBH    = "nsbh"
	ClassBBH     = "bbh"
	ClassMassGap = "mass_gap"
)

// Classifier maps a candidate's recovered parameters to source-class
// probabilities summing to one.
type Classifier interface {
	Classify(mchirp, snr, effDist float64) (map[string]float64, error)
}

// Planck15 low-redshift Hubble relation, enough for the distances this
// search reaches.
const (
	hubbleH0   = 67.9       // km/s/Mpc
	speedLight = 299792.458 // km/s
)

// defaultTruncateDist floors the distance estimate so an extreme SNR can
// never imply a non-positive luminosity distance.
const defaultTruncateDist = 0.0003

// ChirpMassAreaModel carries the fitted coefficients of the chirp-mass
// area classifier. a0 scales effective distance to luminosity distance;
// b0 and b1 set the distance spread as a function of SNR; m0 is the
// relative chirp-mass uncertainty.
type ChirpMassAreaModel struct {
	A0 float64 `json:"a0"`
	B0 float64 `json:"b0"`
	B1 float64 `json:"b1"`
	M0 float64 `json:"m0"`

	// MassBounds are the lower and upper component-mass limits of the
	// template bank, in solar masses.
	MassBounds [2]float64 `json:"mass_bounds"`
	// NSMax separates neutron stars from the region above.
	NSMax float64 `json:"ns_max"`
	// MassGapMax, when set, opens a MassGap class between NSMax and this
	// bound; black holes then start at MassGapMax.
	MassGapMax *float64 `json:"mass_gap_max,omitempty"`

	// TruncateLowerDist floors the estimated luminosity distance. Zero
	// selects the default.
	TruncateLowerDist float64 `json:"truncate_lower_dist,omitempty"`
}

// LoadModel reads model coefficients from a JSON file.
func LoadModel(path string) (*ChirpMassAreaModel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "classify", "LoadModel", "model file read")
	}
	var m ChirpMassAreaModel
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errors.WrapInvalid(err, "classify", "LoadModel", "model decode")
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks coefficient and boundary sanity.
func (m *ChirpMassAreaModel) Validate() error {
	for name, v := range map[string]float64{"a0": m.A0, "b0": m.B0, "b1": m.B1, "m0": m.M0} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return errors.WrapInvalid(
				fmt.Errorf("coefficient %s is not finite", name),
				"classify", "Validate", "coefficient validation")
		}
	}
	if m.A0 <= 0 {
		return errors.WrapInvalid(
			fmt.Errorf("a0 must be > 0, got %g", m.A0),
			"classify", "Validate", "coefficient validation")
	}
	if m.M0 <= 0 {
		return errors.WrapInvalid(
			fmt.Errorf("m0 must be > 0, got %g", m.M0),
			"classify", "Validate", "coefficient validation")
	}
	if m.MassBounds[0] <= 0 || m.MassBounds[1] <= m.MassBounds[0] {
		return errors.WrapInvalid(
			fmt.Errorf("mass bounds must satisfy 0 < min < max, got %v", m.MassBounds),
			"classify", "Validate", "mass bounds validation")
	}
	if m.NSMax <= m.MassBounds[0] || m.NSMax >= m.MassBounds[1] {
		return errors.WrapInvalid(
			fmt.Errorf("ns_max %g must lie inside mass bounds %v", m.NSMax, m.MassBounds),
			"classify", "Validate", "ns boundary validation")
	}
	if m.MassGapMax != nil {
		if *m.MassGapMax <= m.NSMax || *m.MassGapMax >= m.MassBounds[1] {
			return errors.WrapInvalid(
				fmt.Errorf("mass_gap_max %g must lie between ns_max %g and the upper mass bound %g",
					*m.MassGapMax, m.NSMax, m.MassBounds[1]),
				"classify", "Validate", "mass gap boundary validation")
		}
	}
	if m.TruncateLowerDist < 0 {
		return errors.WrapInvalid(
			fmt.Errorf("truncate_lower_dist must be >= 0, got %g", m.TruncateLowerDist),
			"classify", "Validate", "distance floor validation")
	}
	return nil
}

// lumDist estimates the luminosity distance from the minimum effective
// distance across the network.
func (m *ChirpMassAreaModel) lumDist(effDist float64) float64 {
	d := m.A0 * effDist
	floor := m.TruncateLowerDist
	if floor == 0 {
		floor = defaultTruncateDist
	}
	if d < floor {
		d = floor
	}
	return d
}

// lumDistStd estimates the spread of the luminosity distance as a
// function of SNR, relative to the central estimate.
func (m *ChirpMassAreaModel) lumDistStd(effDist, snr float64) float64 {
	return math.Pow(snr, m.B0) + math.Exp(m.B1) + m.lumDist(effDist)
}

// redshift converts luminosity distance in Mpc to redshift with the
// low-z Hubble relation.
func redshift(dist float64) float64 {
	return dist * hubbleH0 / speedLight
}

// Classify computes the source-class probabilities for a candidate with
// detector-frame chirp mass mchirp, network SNR snr and effective
// distance effDist (Mpc).
func (m *ChirpMassAreaModel) Classify(mchirp, snr, effDist float64) (map[string]float64, error) {
	if mchirp <= 0 || math.IsNaN(mchirp) || math.IsInf(mchirp, 0) {
		return nil, errors.WrapInvalid(
			fmt.Errorf("chirp mass must be positive and finite, got %g", mchirp),
			"classify", "Classify", "chirp mass validation")
	}
	if snr <= 0 || effDist <= 0 {
		return nil, errors.WrapInvalid(
			fmt.Errorf("snr and effective distance must be positive, got snr=%g eff_dist=%g", snr, effDist),
			"classify", "Classify", "input validation")
	}

	dist := m.lumDist(effDist)
	distStd := m.lumDistStd(effDist, snr)

	z := redshift(dist)
	zStd := redshift(distStd)

	// Source-frame chirp mass and its band half-width: the relative
	// chirp-mass uncertainty and the redshift spread add in quadrature.
	srcMchirp := mchirp / (1 + z)
	srcStd := srcMchirp * math.Sqrt(m.M0*m.M0+(zStd/(1+z))*(zStd/(1+z)))

	mcLow := srcMchirp - srcStd
	if mcLow < 0 {
		mcLow = 0
	}
	mcHigh := srcMchirp + srcStd

	areas := m.classAreas(mcLow, mcHigh)

	total := 0.0
	for _, a := range areas {
		total += a
	}
	if total <= 0 {
		// The band cleared the bank's mass plane entirely; pin the
		// probability to the nearest extreme class.
		return m.extremeClass(srcMchirp), nil
	}

	probs := make(map[string]float64, len(areas))
	for class, a := range areas {
		probs[class] = a / total
	}
	return probs, nil
}

// extremeClass handles bands entirely below or above the bank's chirp
// mass range.
func (m *ChirpMassAreaModel) extremeClass(srcMchirp float64) map[string]float64 {
	probs := map[string]float64{ClassBNS: 0, ClassNSBH: 0, ClassBBH: 0}
	if m.MassGapMax != nil {
		probs[ClassMassGap] = 0
	}
	if srcMchirp > chirpMass(m.MassBounds[1], m.MassBounds[1]) {
		probs[ClassBBH] = 1
	} else {
		probs[ClassBNS] = 1
	}
	return probs
}

// chirpMass of a component pair.
func chirpMass(m1, m2 float64) float64 {
	return math.Pow(m1*m2, 0.6) / math.Pow(m1+m2, 0.2)
}
