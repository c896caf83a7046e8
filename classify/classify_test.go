package classify

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testModel() *ChirpMassAreaModel {
	return &ChirpMassAreaModel{
		A0:         0.7,
		B0:         -1.0,
		B1:         -2.0,
		M0:         0.01,
		MassBounds: [2]float64{1.0, 45.0},
		NSMax:      3.0,
	}
}

func TestChirpMass(t *testing.T) {
	// Equal-mass pairs reduce to m / 2^(1/5).
	assert.InDelta(t, 1.4/math.Pow(2, 0.2), chirpMass(1.4, 1.4), 1e-12)
	assert.InDelta(t, 3.0/math.Pow(2, 0.2), chirpMass(3, 3), 1e-12)
	// Symmetric in the components.
	assert.InDelta(t, chirpMass(10, 2), chirpMass(2, 10), 1e-12)
}

func TestModelValidate(t *testing.T) {
	gap := 5.0
	badGap := 2.0
	tests := []struct {
		name    string
		mutate  func(*ChirpMassAreaModel)
		wantErr bool
	}{
		{"valid", func(m *ChirpMassAreaModel) {}, false},
		{"valid with gap", func(m *ChirpMassAreaModel) { m.MassGapMax = &gap }, false},
		{"nan a0", func(m *ChirpMassAreaModel) { m.A0 = math.NaN() }, true},
		{"non-positive a0", func(m *ChirpMassAreaModel) { m.A0 = 0 }, true},
		{"non-positive m0", func(m *ChirpMassAreaModel) { m.M0 = -0.01 }, true},
		{"inverted bounds", func(m *ChirpMassAreaModel) { m.MassBounds = [2]float64{45, 1} }, true},
		{"ns_max outside bounds", func(m *ChirpMassAreaModel) { m.NSMax = 50 }, true},
		{"gap below ns_max", func(m *ChirpMassAreaModel) { m.MassGapMax = &badGap }, true},
		{"negative distance floor", func(m *ChirpMassAreaModel) { m.TruncateLowerDist = -1 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := testModel()
			tt.mutate(m)
			err := m.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestClassifyBNS(t *testing.T) {
	m := testModel()
	// A nearby 1.4+1.4 candidate: the chirp-mass band sits well below
	// the neutron-star boundary.
	probs, err := m.Classify(1.22, 10, 50)
	require.NoError(t, err)
	assert.InDelta(t, 1, probs[ClassBNS], 1e-6)
	assert.InDelta(t, 0, probs[ClassNSBH], 1e-6)
	assert.InDelta(t, 0, probs[ClassBBH], 1e-6)
}

func TestClassifyBBH(t *testing.T) {
	m := testModel()
	probs, err := m.Classify(25, 12, 500)
	require.NoError(t, err)
	assert.InDelta(t, 1, probs[ClassBBH], 1e-6)
}

func TestClassifyBoundaryStraddle(t *testing.T) {
	m := testModel()
	// Chirp mass near the equal-mass neutron-star boundary: the band
	// overlaps BNS below and NSBH/BBH above.
	boundary := chirpMass(m.NSMax, m.NSMax)
	probs, err := m.Classify(boundary, 8, 100)
	require.NoError(t, err)
	assert.Greater(t, probs[ClassBNS], 0.0)
	assert.Greater(t, probs[ClassNSBH]+probs[ClassBBH], 0.0)

	sum := 0.0
	for _, p := range probs {
		sum += p
	}
	assert.InDelta(t, 1, sum, 1e-9)
}

func TestClassifyMassGap(t *testing.T) {
	gap := 5.0
	m := testModel()
	m.MassGapMax = &gap
	require.NoError(t, m.Validate())

	// A 4+4 candidate: the band sits above the BNS range and below the
	// BBH range, so only the gap and the NSBH strip share the mass.
	probs, err := m.Classify(chirpMass(4, 4), 10, 50)
	require.NoError(t, err)
	require.Contains(t, probs, ClassMassGap)
	assert.Greater(t, probs[ClassMassGap], 0.0)
	assert.InDelta(t, 0, probs[ClassBNS], 1e-6)
	assert.InDelta(t, 0, probs[ClassBBH], 1e-6)

	// Without a gap configured the class is absent entirely.
	probs, err = testModel().Classify(chirpMass(4, 4), 10, 50)
	require.NoError(t, err)
	assert.NotContains(t, probs, ClassMassGap)
}

func TestClassifyProbabilitiesSumToOne(t *testing.T) {
	m := testModel()
	for _, mc := range []float64{1.0, 2.6, 5.0, 8.75, 20.0} {
		probs, err := m.Classify(mc, 9, 120)
		require.NoError(t, err)
		sum := 0.0
		for _, p := range probs {
			require.False(t, math.IsNaN(p))
			require.GreaterOrEqual(t, p, 0.0)
			sum += p
		}
		assert.InDelta(t, 1, sum, 1e-9, "mchirp %g", mc)
	}
}

func TestClassifyAboveBankPinsBBH(t *testing.T) {
	m := testModel()
	// Far beyond the bank's reach: no area anywhere, pinned to BBH.
	probs, err := m.Classify(200, 15, 2000)
	require.NoError(t, err)
	assert.Equal(t, 1.0, probs[ClassBBH])
}

func TestClassifyRejectsInvalidInputs(t *testing.T) {
	m := testModel()
	_, err := m.Classify(-1, 10, 50)
	assert.Error(t, err)
	_, err = m.Classify(1.2, 0, 50)
	assert.Error(t, err)
	_, err = m.Classify(1.2, 10, -5)
	assert.Error(t, err)
}

func TestLoadModel(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "model.json")
	doc := `{
		"a0": 0.7, "b0": -1.0, "b1": -2.0, "m0": 0.01,
		"mass_bounds": [1.0, 45.0], "ns_max": 3.0, "mass_gap_max": 5.0
	}`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	m, err := LoadModel(path)
	require.NoError(t, err)
	assert.Equal(t, 0.7, m.A0)
	require.NotNil(t, m.MassGapMax)
	assert.Equal(t, 5.0, *m.MassGapMax)

	_, err = LoadModel(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"a0": 0}`), 0o600))
	_, err = LoadModel(bad)
	assert.Error(t, err)
}
