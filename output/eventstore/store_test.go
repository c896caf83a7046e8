package eventstore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tanghyd/spiir-search/coincidence"
	"github.com/tanghyd/spiir-search/trigger"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func chisq(v float64) *float64 { return &v }

func storedEvent(id string, tmin, ranking float64) *coincidence.Event {
	return &coincidence.Event{
		ID:         id,
		TemplateID: 11,
		Triggers: []*trigger.Trigger{
			{TemplateID: 11, Detector: "H1", SampleIndex: 2048, Time: tmin,
				SNRReal: 7, SNRImag: 1, Magnitude: 7.07, ChiSq: chisq(0.8)},
			{TemplateID: 11, Detector: "L1", SampleIndex: 2050, Time: tmin + 0.004,
				SNRReal: 5, SNRImag: 2, Magnitude: 5.39},
		},
		NetworkSNR:  8.9,
		RankingStat: ranking,
		TimeMin:     tmin,
		TimeMax:     tmin + 0.004,
		SourceProbabilities: map[string]float64{
			"BNS": 0.7, "NSBH": 0.1, "BBH": 0.1, "Terrestrial": 0.1,
		},
	}
}

func TestSaveAndGetEvent(t *testing.T) {
	s := openTestStore(t)

	inserted, err := s.SaveEvent(storedEvent("evt-1", 1000.5, 9.1))
	require.NoError(t, err)
	assert.True(t, inserted)

	ev, err := s.GetEvent("evt-1")
	require.NoError(t, err)
	assert.Equal(t, 11, ev.TemplateID)
	assert.InDelta(t, 9.1, ev.RankingStat, 1e-12)
	assert.InDelta(t, 0.7, ev.SourceProbabilities["BNS"], 1e-12)

	require.Len(t, ev.Triggers, 2)
	assert.Equal(t, "H1", ev.Triggers[0].Detector)
	require.NotNil(t, ev.Triggers[0].ChiSq)
	assert.InDelta(t, 0.8, *ev.Triggers[0].ChiSq, 1e-12)
	assert.Nil(t, ev.Triggers[1].ChiSq)
}

func TestSaveEventIgnoresRedelivery(t *testing.T) {
	s := openTestStore(t)

	inserted, err := s.SaveEvent(storedEvent("evt-1", 1000.5, 9.1))
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = s.SaveEvent(storedEvent("evt-1", 1000.5, 9.1))
	require.NoError(t, err)
	assert.False(t, inserted)

	ev, err := s.GetEvent("evt-1")
	require.NoError(t, err)
	assert.Len(t, ev.Triggers, 2)

	n, err := s.CountEvents()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestEventsInRange(t *testing.T) {
	s := openTestStore(t)

	for i, tmin := range []float64{1000, 1010, 1020, 1030} {
		_, err := s.SaveEvent(storedEvent(
			map[int]string{0: "a", 1: "b", 2: "c", 3: "d"}[i], tmin, 8))
		require.NoError(t, err)
	}

	events, err := s.EventsInRange(1005, 1025, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	// Newest first.
	assert.Equal(t, "c", events[0].ID)
	assert.Equal(t, "b", events[1].ID)
	assert.Len(t, events[0].Triggers, 2)
}

func TestTopRanked(t *testing.T) {
	s := openTestStore(t)

	_, err := s.SaveEvent(storedEvent("low", 1000, 6.1))
	require.NoError(t, err)
	_, err = s.SaveEvent(storedEvent("high", 1010, 12.4))
	require.NoError(t, err)
	_, err = s.SaveEvent(storedEvent("mid", 1020, 9.0))
	require.NoError(t, err)

	events, err := s.TopRanked(2)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "high", events[0].ID)
	assert.Equal(t, "mid", events[1].ID)
}

func TestGetEventUnknown(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetEvent("missing")
	assert.Error(t, err)
}
