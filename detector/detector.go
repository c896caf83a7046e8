// Package detector provides the table of gravitational-wave detector sites
// and the pairwise light-travel-time geometry the coincidence test depends
// on. The table is fixed at compile time; site positions are Earth-fixed
// Cartesian coordinates in meters from the published interferometer
// geometry.
package detector

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/tanghyd/spiir-search/errors"
)

// speedOfLight in meters per second (exact, SI definition).
const speedOfLight = 299792458.0

// Site describes one detector installation.
type Site struct {
	ID       string  // canonical interferometer prefix ("H1", "L1", ...)
	Name     string  // human-readable observatory name
	X, Y, Z  float64 // Earth-fixed position of the vertex, meters
	Operable bool    // false for decommissioned sites kept for replay data
}

// sites is the canonical table, keyed by interferometer prefix.
var sites = map[string]Site{
	"H1": {
		ID: "H1", Name: "LIGO Hanford",
		X: -2.16141492636e6, Y: -3.83469517889e6, Z: 4.60035022664e6,
		Operable: true,
	},
	"L1": {
		ID: "L1", Name: "LIGO Livingston",
		X: -74276.0447238, Y: -5.49628372197e6, Z: 3.22425701744e6,
		Operable: true,
	},
	"V1": {
		ID: "V1", Name: "Virgo",
		X: 4.54637409900e6, Y: 842989.697626, Z: 4.37857696241e6,
		Operable: true,
	},
	"K1": {
		ID: "K1", Name: "KAGRA",
		X: -3.77733602400e6, Y: 3.48489841100e6, Z: 3.76531369700e6,
		Operable: true,
	},
	"G1": {
		ID: "G1", Name: "GEO600",
		X: 3.85630994926e6, Y: 666598.956317, Z: 5.01964141725e6,
		Operable: true,
	},
}

// Lookup returns the site for a detector id.
func Lookup(id string) (Site, error) {
	s, ok := sites[id]
	if !ok {
		return Site{}, errors.WrapInvalid(
			fmt.Errorf("unknown detector %q", id),
			"detector", "Lookup", "site table lookup")
	}
	return s, nil
}

// Known reports whether id names a site in the table.
func Known(id string) bool {
	_, ok := sites[id]
	return ok
}

// IDs returns all known detector ids in sorted order.
func IDs() []string {
	out := make([]string, 0, len(sites))
	for id := range sites {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// LightTravelTime returns the straight-line signal propagation time between
// two detector vertices. A gravitational wavefront can separate arrival at
// the two sites by at most this much, so it bounds the physically
// consistent trigger time difference. The time for a site paired with
// itself is zero.
func LightTravelTime(a, b string) (time.Duration, error) {
	sa, err := Lookup(a)
	if err != nil {
		return 0, err
	}
	sb, err := Lookup(b)
	if err != nil {
		return 0, err
	}

	dx := sa.X - sb.X
	dy := sa.Y - sb.Y
	dz := sa.Z - sb.Z
	dist := math.Sqrt(dx*dx + dy*dy + dz*dz)

	seconds := dist / speedOfLight
	return time.Duration(seconds * float64(time.Second)), nil
}

// MaxLightTravelTime returns the largest pairwise light travel time over
// the given detectors. The coincidence engine uses it to size the
// watermark hold-back for open groups.
func MaxLightTravelTime(ids []string) (time.Duration, error) {
	var max time.Duration
	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			ltt, err := LightTravelTime(ids[i], ids[j])
			if err != nil {
				return 0, err
			}
			if ltt > max {
				max = ltt
			}
		}
	}
	return max, nil
}
