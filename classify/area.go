package classify

import "math"

// massPiece is one integrable slice of a class region in the (m1, m2)
// component-mass plane, with m1 >= m2 enforced by capping m2 at m1.
type massPiece struct {
	m1Lo, m1Hi float64
	m2Lo, m2Hi float64
	capAtM1    bool
}

// regionPieces decomposes each source class into mass-plane pieces.
// Classes are disjoint: with a mass gap configured, black holes start at
// the gap's upper bound and the gap claims everything between.
func (m *ChirpMassAreaModel) regionPieces() map[string][]massPiece {
	mMin, mMax := m.MassBounds[0], m.MassBounds[1]
	bhMin := m.NSMax
	if m.MassGapMax != nil {
		bhMin = *m.MassGapMax
	}

	pieces := map[string][]massPiece{
		ClassBNS: {
			{m1Lo: mMin, m1Hi: m.NSMax, m2Lo: mMin, m2Hi: m.NSMax, capAtM1: true},
		},
		ClassNSBH: {
			{m1Lo: bhMin, m1Hi: mMax, m2Lo: mMin, m2Hi: m.NSMax},
		},
		ClassBBH: {
			{m1Lo: bhMin, m1Hi: mMax, m2Lo: bhMin, m2Hi: mMax, capAtM1: true},
		},
	}
	if m.MassGapMax != nil {
		gap := *m.MassGapMax
		pieces[ClassMassGap] = []massPiece{
			// Primary inside the gap.
			{m1Lo: m.NSMax, m1Hi: gap, m2Lo: mMin, m2Hi: gap, capAtM1: true},
			// Primary above the gap, secondary inside it.
			{m1Lo: gap, m1Hi: mMax, m2Lo: m.NSMax, m2Hi: gap},
		}
	}
	return pieces
}

// classAreas integrates the area between the chirp-mass contours mcLow
// and mcHigh inside each class region.
func (m *ChirpMassAreaModel) classAreas(mcLow, mcHigh float64) map[string]float64 {
	areas := make(map[string]float64)
	for class, pieces := range m.regionPieces() {
		a := 0.0
		for _, p := range pieces {
			a += bandArea(p, mcLow, mcHigh)
		}
		areas[class] = a
	}
	return areas
}

const bandAreaSteps = 512

// bandArea integrates, over the piece's m1 range, the m2 extent where
// the chirp mass falls inside [mcLow, mcHigh]. Composite Simpson rule;
// the integrand is continuous and piecewise smooth, so a fixed grid is
// plenty at the precision probabilities need.
func bandArea(p massPiece, mcLow, mcHigh float64) float64 {
	if p.m1Hi <= p.m1Lo {
		return 0
	}
	h := (p.m1Hi - p.m1Lo) / bandAreaSteps
	sum := bandWidth(p, p.m1Lo, mcLow, mcHigh) + bandWidth(p, p.m1Hi, mcLow, mcHigh)
	for i := 1; i < bandAreaSteps; i++ {
		m1 := p.m1Lo + float64(i)*h
		w := bandWidth(p, m1, mcLow, mcHigh)
		if i%2 == 1 {
			sum += 4 * w
		} else {
			sum += 2 * w
		}
	}
	return sum * h / 3
}

// bandWidth is the m2 extent at fixed m1 where mcLow <= mc(m1, m2) <=
// mcHigh, clipped to the piece's m2 range.
func bandWidth(p massPiece, m1, mcLow, mcHigh float64) float64 {
	hi := p.m2Hi
	if p.capAtM1 && m1 < hi {
		hi = m1
	}
	lo := p.m2Lo
	if hi <= lo {
		return 0
	}

	// The chirp mass is strictly increasing in m2 at fixed m1, so the
	// band maps to a single m2 interval.
	bandLo := lo
	if mcLow > 0 {
		bandLo = m2ForChirpMass(m1, mcLow)
	}
	bandHi := m2ForChirpMass(m1, mcHigh)

	if bandLo < lo {
		bandLo = lo
	}
	if bandHi > hi {
		bandHi = hi
	}
	if bandHi <= bandLo {
		return 0
	}
	return bandHi - bandLo
}

// m2ForChirpMass inverts mc(m1, m2) = mc for m2 at fixed m1 by bisection.
func m2ForChirpMass(m1, mc float64) float64 {
	if mc <= 0 {
		return 0
	}
	lo, hi := 0.0, m1
	for chirpMass(m1, hi) < mc {
		hi *= 2
		if math.IsInf(hi, 0) {
			return hi
		}
	}
	for i := 0; i < 80; i++ {
		mid := (lo + hi) / 2
		if chirpMass(m1, mid) < mc {
			lo = mid
		} else {
			hi = mid
		}
	}
	return (lo + hi) / 2
}
