package pipeline

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tanghyd/spiir-search/config"
	"github.com/tanghyd/spiir-search/errors"
	"github.com/tanghyd/spiir-search/strain"
	"github.com/tanghyd/spiir-search/template"
)

// passthroughBank builds a one-template bank whose single filter has a
// zero pole and unit gain and weight, so the summed SNR at each sample
// equals the sample value. Trigger behavior becomes hand-checkable.
func passthroughBank(t *testing.T) *template.Bank {
	t.Helper()
	doc := struct {
		Bank      template.BankMeta    `json:"bank"`
		Templates []*template.Template `json:"templates"`
	}{
		Bank: template.BankMeta{Name: "pipeline-test", SampleRate: 16},
		Templates: []*template.Template{
			{
				ID: 1, Mass1: 1.6, Mass2: 1.4, Support: 4,
				Filters: []template.Filter{
					{
						Pole:   template.Complex(complex(0, 0)),
						Gain:   template.Complex(complex(1, 0)),
						Weight: template.Complex(complex(1, 0)),
					},
				},
			},
		},
	}
	data, err := json.Marshal(doc)
	require.NoError(t, err)
	bank, err := template.Parse(data, template.LoadOptions{})
	require.NoError(t, err)
	return bank
}

func testSearchConfig() config.SearchConfig {
	return config.SearchConfig{
		SNRThreshold:      5.0,
		MinTriggerSupport: 1,
		TimingMargin:      2 * time.Millisecond,
		CoincidenceWindow: time.Second,
		GapTolerance:      4,
		BackpressureBound: time.Second,
		BlockCapacity:     8,
	}
}

func newTestPipeline(t *testing.T, search config.SearchConfig) (*detectorPipeline, chan batch) {
	t.Helper()
	out := make(chan batch, 16)
	p, err := newDetectorPipeline("H1", passthroughBank(t), search, out, slog.Default(), nil)
	require.NoError(t, err)
	return p, out
}

func block(startIndex uint64, samples ...float64) *strain.SampleBlock {
	return &strain.SampleBlock{
		Detector:   "H1",
		StartIndex: startIndex,
		SampleRate: 16,
		Epoch:      1000,
		Samples:    samples,
	}
}

func TestProcessBlockExtractsTrigger(t *testing.T) {
	p, _ := newTestPipeline(t, testSearchConfig())

	trigs, err := p.processBlock(block(0, 0, 0, 6, 8, 7, 0))
	require.NoError(t, err)
	require.Len(t, trigs, 1)

	trig := trigs[0]
	assert.Equal(t, 1, trig.TemplateID)
	assert.Equal(t, "H1", trig.Detector)
	assert.Equal(t, uint64(3), trig.SampleIndex)
	assert.InDelta(t, 1000+3.0/16, trig.Time, 1e-12)
	assert.InDelta(t, 8.0, trig.Magnitude, 1e-12)
	assert.Nil(t, trig.ChiSq)
}

func TestProcessBlockRejectsOutOfOrder(t *testing.T) {
	p, _ := newTestPipeline(t, testSearchConfig())

	_, err := p.processBlock(block(0, 0, 0, 0, 0))
	require.NoError(t, err)

	// Overlaps samples the stream already consumed.
	_, err = p.processBlock(block(2, 0, 0))
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrSequence))

	// A rejected block does not move the stream position.
	assert.Equal(t, uint64(4), p.seq.NextIndex())
}

func TestFillableGapKeepsAbsoluteIndexing(t *testing.T) {
	p, _ := newTestPipeline(t, testSearchConfig())

	_, err := p.processBlock(block(0, 0, 0, 0, 0))
	require.NoError(t, err)

	// Two missing samples, inside the tolerance of four: zero-filled.
	trigs, err := p.processBlock(block(6, 6, 8, 7, 0))
	require.NoError(t, err)
	require.Len(t, trigs, 1)

	// The peak sits at absolute index 7, not at an index local to the
	// block, and its GPS time reflects that.
	assert.Equal(t, uint64(7), trigs[0].SampleIndex)
	assert.InDelta(t, 1000+7.0/16, trigs[0].Time, 1e-12)
	assert.Equal(t, uint64(10), p.seq.NextIndex())
}

func TestResetGapSalvagesInFlightCandidate(t *testing.T) {
	p, _ := newTestPipeline(t, testSearchConfig())

	// Ends while still rising: a candidate with peak 8 is in flight.
	trigs, err := p.processBlock(block(0, 0, 6, 8))
	require.NoError(t, err)
	assert.Empty(t, trigs)

	// Gap of ten samples exceeds the tolerance of four.
	trigs, err = p.processBlock(block(13, 0, 0, 0))
	require.NoError(t, err)
	require.Len(t, trigs, 1)
	assert.InDelta(t, 8.0, trigs[0].Magnitude, 1e-12)
	assert.Equal(t, uint64(2), trigs[0].SampleIndex)
}

func TestResetGapDropsShortCandidate(t *testing.T) {
	search := testSearchConfig()
	search.MinTriggerSupport = 3
	p, _ := newTestPipeline(t, search)

	// Only two samples above threshold before the stream breaks.
	_, err := p.processBlock(block(0, 0, 6, 8))
	require.NoError(t, err)

	trigs, err := p.processBlock(block(13, 0, 0, 0))
	require.NoError(t, err)
	assert.Empty(t, trigs)
}

func TestChiSqAttachedWhenEnabled(t *testing.T) {
	search := testSearchConfig()
	search.ChisqEnabled = true
	p, _ := newTestPipeline(t, search)

	trigs, err := p.processBlock(block(0, 0, 6, 8, 7, 0))
	require.NoError(t, err)
	require.Len(t, trigs, 1)
	require.NotNil(t, trigs[0].ChiSq)

	// A single-filter template is trivially self-consistent.
	assert.InDelta(t, 0.0, *trigs[0].ChiSq, 1e-9)
}

func TestRunEmitsWatermarkHeartbeat(t *testing.T) {
	p, out := newTestPipeline(t, testSearchConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = p.run(ctx)
	}()

	_, err := p.enqueue(ctx, block(0, 0, 0, 0, 0))
	require.NoError(t, err)

	select {
	case b := <-out:
		assert.Equal(t, "H1", b.detector)
		assert.Empty(t, b.triggers)
		// Four samples at 16 Hz from epoch 1000.
		assert.InDelta(t, 1000.25, b.watermark, 1e-12)
	case <-time.After(2 * time.Second):
		t.Fatal("no batch emitted")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop on cancellation")
	}
}

func TestRunSkipsOutOfOrderAndContinues(t *testing.T) {
	p, out := newTestPipeline(t, testSearchConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _ = p.run(ctx) }()

	_, err := p.enqueue(ctx, block(0, 0, 0, 0, 0))
	require.NoError(t, err)
	_, err = p.enqueue(ctx, block(0, 0, 0)) // duplicate, rejected
	require.NoError(t, err)
	_, err = p.enqueue(ctx, block(4, 0, 6, 8, 7))
	require.NoError(t, err)

	var batches []batch
	timeout := time.After(2 * time.Second)
	for len(batches) < 2 {
		select {
		case b := <-out:
			batches = append(batches, b)
		case <-timeout:
			t.Fatal("expected two batches")
		}
	}

	// The rejected duplicate produced no batch; the second batch carries
	// the trigger from the follow-on block.
	assert.InDelta(t, 1000.25, batches[0].watermark, 1e-12)
	assert.InDelta(t, 1000.5, batches[1].watermark, 1e-12)
	require.Len(t, batches[1].triggers, 1)
	assert.Equal(t, uint64(6), batches[1].triggers[0].SampleIndex)
}

func TestEnqueueBlocksWhenQueueFull(t *testing.T) {
	cfg := testSearchConfig()
	cfg.BlockCapacity = 1
	p, _ := newTestPipeline(t, cfg)

	// No run goroutine: the queue drains only if ingestion drops blocks,
	// which it must not.
	_, err := p.enqueue(context.Background(), block(0, 0, 0, 0, 0))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	blocked, err := p.enqueue(ctx, block(4, 0, 0, 0, 0))
	require.Error(t, err)
	assert.GreaterOrEqual(t, blocked, 50*time.Millisecond)
}

func TestEnqueueReportsStallDuration(t *testing.T) {
	cfg := testSearchConfig()
	cfg.BlockCapacity = 1
	p, _ := newTestPipeline(t, cfg)

	_, err := p.enqueue(context.Background(), block(0, 0, 0, 0, 0))
	require.NoError(t, err)

	// Drain the queue after a delay so the second write unblocks without
	// dropping anything.
	go func() {
		time.Sleep(30 * time.Millisecond)
		p.queue.Read()
	}()

	blocked, err := p.enqueue(context.Background(), block(4, 0, 0, 0, 0))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, blocked, 20*time.Millisecond)
}
