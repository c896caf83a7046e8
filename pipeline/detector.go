package pipeline

import (
	"context"
	stderrors "errors"
	"log/slog"
	"time"

	"github.com/tanghyd/spiir-search/config"
	"github.com/tanghyd/spiir-search/errors"
	"github.com/tanghyd/spiir-search/pkg/buffer"
	"github.com/tanghyd/spiir-search/spiir"
	"github.com/tanghyd/spiir-search/strain"
	"github.com/tanghyd/spiir-search/template"
	"github.com/tanghyd/spiir-search/trigger"
)

// batch is one detector's output for one processed block: the triggers it
// produced and the watermark the stream has reached. An empty trigger
// slice is still sent; it is the heartbeat that advances the coincidence
// stage's clock.
type batch struct {
	detector  string
	watermark float64
	triggers  []*trigger.Trigger
}

// readIdleWait bounds how long the run loop sleeps when the queue is
// empty before re-checking for new blocks or shutdown.
const readIdleWait = 2 * time.Millisecond

// detectorPipeline owns the full single-detector path: sequencing, the
// shared-state filter engine, and one extractor per template. It consumes
// blocks from its ingest queue and sends batches to the controller's
// merge loop. Not safe for concurrent use; exactly one run goroutine
// drives it.
type detectorPipeline struct {
	detector string
	bank     *template.Bank
	seq      *strain.Sequencer
	engine   *spiir.Engine

	extractors []*trigger.Extractor
	chisq      bool

	// snrBuf is block-sized scratch for the summed SNR series; zeroBuf is
	// gap-fill scratch. peakStates holds, per ordinal, the filter state
	// captured at the current candidate peak, consumed when the candidate
	// finalizes. Lazily allocated since most templates rarely trigger.
	snrBuf     []complex128
	zeroBuf    []float64
	peakStates [][]complex128

	queue   buffer.Buffer[*strain.SampleBlock]
	out     chan<- batch
	logger  *slog.Logger
	metrics *Metrics

	watermark float64
}

// newDetectorPipeline builds the single-detector path. Each detector gets
// its own engine so filter state never crosses streams, and its own
// blocking ingest queue sized by BlockCapacity.
func newDetectorPipeline(
	det string,
	bank *template.Bank,
	search config.SearchConfig,
	out chan<- batch,
	logger *slog.Logger,
	metrics *Metrics,
) (*detectorPipeline, error) {
	queue, err := buffer.NewCircularBuffer(
		search.BlockCapacity,
		buffer.WithOverflowPolicy[*strain.SampleBlock](buffer.Block),
	)
	if err != nil {
		return nil, errors.Wrap(err, "detectorPipeline", "new", "ingest queue creation")
	}

	extractors := make([]*trigger.Extractor, bank.Len())
	for ord, tpl := range bank.Templates {
		extractors[ord] = trigger.NewExtractor(trigger.Config{
			TemplateID: tpl.ID,
			Detector:   det,
			Threshold:  search.SNRThreshold,
			MinSupport: search.MinTriggerSupport,
		})
	}

	return &detectorPipeline{
		detector:   det,
		bank:       bank,
		seq:        strain.NewSequencer(det, search.GapTolerance),
		engine:     spiir.NewEngine(bank),
		extractors: extractors,
		chisq:      search.ChisqEnabled,
		peakStates: make([][]complex128, bank.Len()),
		queue:      queue,
		out:        out,
		logger:     logger.With("detector", det),
		metrics:    metrics,
	}, nil
}

// enqueue hands one block to the pipeline, blocking when the queue is
// full. It returns how long the write stalled so the controller can judge
// backpressure against its bound.
func (p *detectorPipeline) enqueue(ctx context.Context, block *strain.SampleBlock) (time.Duration, error) {
	bw, ok := p.queue.(buffer.BlockingWriter[*strain.SampleBlock])
	if !ok {
		return 0, p.queue.Write(block)
	}

	start := time.Now()
	if err := bw.WriteWithContext(ctx, block); err != nil {
		return time.Since(start), err
	}
	return time.Since(start), nil
}

// run is the pipeline's processing loop. It returns nil on context
// cancellation and a non-nil error only for failures that end the
// detector's participation in the search, such as non-finite filter
// state.
func (p *detectorPipeline) run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		block, ok := p.queue.Read()
		if !ok {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(readIdleWait):
			}
			continue
		}

		start := time.Now()
		triggers, err := p.processBlock(block)
		if err != nil {
			if stderrors.Is(err, errors.ErrSequence) {
				if p.metrics != nil {
					p.metrics.sequenceRejects.WithLabelValues(p.detector).Inc()
				}
				p.logger.Warn("rejected out-of-order block",
					"start_index", block.StartIndex, "error", err)
				continue
			}
			if errors.IsInvalid(err) {
				p.logger.Warn("rejected malformed block",
					"start_index", block.StartIndex, "error", err)
				continue
			}
			// Non-finite filter state or another fatal condition: the
			// detector leaves the quorum.
			p.logger.Error("detector pipeline failed",
				"start_index", block.StartIndex, "error", err)
			return err
		}

		p.watermark = block.TimeAt(block.EndIndex())
		if p.metrics != nil {
			p.metrics.blockLatency.Observe(time.Since(start).Seconds())
			p.metrics.samplesFiltered.WithLabelValues(p.detector).Add(float64(len(block.Samples)))
			p.metrics.detectorWatermark.WithLabelValues(p.detector).Set(p.watermark)
			if len(triggers) > 0 {
				p.metrics.triggersExtracted.WithLabelValues(p.detector).Add(float64(len(triggers)))
			}
		}

		select {
		case p.out <- batch{detector: p.detector, watermark: p.watermark, triggers: triggers}:
		case <-ctx.Done():
			return nil
		}
	}
}

// processBlock sequences one block and drives it through the filter and
// extraction stages, including any gap handling the sequencer demands.
func (p *detectorPipeline) processBlock(block *strain.SampleBlock) ([]*trigger.Trigger, error) {
	disposition, gap, err := p.seq.Check(block)
	if err != nil {
		return nil, err
	}

	var triggers []*trigger.Trigger

	switch disposition {
	case strain.FillableGap:
		// Filters keep evolving through short dropouts as if the strain
		// were silence, so template phase tracking survives the gap.
		if p.metrics != nil {
			p.metrics.zeroFilledSamples.WithLabelValues(p.detector).Add(float64(gap))
		}
		zeros := p.zeros(int(gap))
		fillStart := block.StartIndex - gap
		trigs, err := p.filterRun(block, fillStart, zeros)
		if err != nil {
			return nil, err
		}
		triggers = append(triggers, trigs...)

	case strain.ResetGap:
		// The gap is too long to bridge: state from before it is
		// meaningless. Salvage any in-flight candidates, then start the
		// filters cold.
		if p.metrics != nil {
			p.metrics.gapResets.WithLabelValues(p.detector).Inc()
		}
		p.logger.Info("gap beyond tolerance, resetting filter state",
			"gap_samples", gap, "start_index", block.StartIndex)
		triggers = append(triggers, p.interruptAll()...)
		p.engine.ResetAll()
	}

	trigs, err := p.filterRun(block, block.StartIndex, block.Samples)
	if err != nil {
		return nil, err
	}
	return append(triggers, trigs...), nil
}

// filterRun feeds one contiguous run of samples through every template's
// filters and extractor. startIndex is the absolute index of samples[0];
// sample times are derived from the block's epoch and rate so zero-filled
// runs carry correct GPS times.
func (p *detectorPipeline) filterRun(
	block *strain.SampleBlock, startIndex uint64, samples []float64,
) ([]*trigger.Trigger, error) {
	if len(samples) == 0 {
		return nil, nil
	}
	if cap(p.snrBuf) < len(samples) {
		p.snrBuf = make([]complex128, len(samples))
	}
	snr := p.snrBuf[:len(samples)]

	var triggers []*trigger.Trigger
	for ord := range p.bank.Templates {
		trigs, err := p.advanceTemplate(ord, block, startIndex, samples, snr)
		if err != nil {
			return nil, err
		}
		triggers = append(triggers, trigs...)
	}
	return triggers, nil
}

// advanceTemplate runs one template over a sample run. With the
// consistency check off it takes the block-at-a-time fast path; with it
// on, samples advance one at a time so the filter state at each candidate
// peak can be captured before it evolves away.
func (p *detectorPipeline) advanceTemplate(
	ord int, block *strain.SampleBlock, startIndex uint64, samples []float64, snr []complex128,
) ([]*trigger.Trigger, error) {
	tpl := p.bank.Templates[ord]
	ext := p.extractors[ord]
	var triggers []*trigger.Trigger

	if !p.chisq {
		if err := p.engine.AdvanceBlock(ord, samples, snr); err != nil {
			return nil, err
		}
		for i := range samples {
			idx := startIndex + uint64(i)
			res := ext.Process(idx, block.TimeAt(idx), snr[i])
			if res.Trigger != nil {
				triggers = append(triggers, res.Trigger)
			}
		}
		return triggers, nil
	}

	for i, s := range samples {
		if _, err := p.engine.Advance(tpl.ID, s); err != nil {
			return nil, err
		}
		rho := p.engine.SNR(ord)
		idx := startIndex + uint64(i)
		res := ext.Process(idx, block.TimeAt(idx), rho)
		if res.NewPeak {
			p.peakStates[ord] = p.engine.Snapshot(ord, p.peakStates[ord])
		}
		if res.Trigger != nil {
			p.attachChiSq(ord, res.Trigger)
			triggers = append(triggers, res.Trigger)
		}
	}
	return triggers, nil
}

// attachChiSq computes the consistency value from the state captured at
// the trigger's peak.
func (p *detectorPipeline) attachChiSq(ord int, trig *trigger.Trigger) {
	snapshot := p.peakStates[ord]
	if len(snapshot) == 0 {
		return
	}
	chi := spiir.ChiSquare(p.bank.Templates[ord], snapshot, trig.SNR())
	trig.ChiSq = &chi
}

// interruptAll finalizes every in-flight candidate, keeping those whose
// support meets the configured minimum. Used on reset gaps and shutdown.
func (p *detectorPipeline) interruptAll() []*trigger.Trigger {
	var survivors []*trigger.Trigger
	for ord, ext := range p.extractors {
		if trig := ext.Interrupt(); trig != nil {
			if p.chisq {
				p.attachChiSq(ord, trig)
			}
			survivors = append(survivors, trig)
		}
	}
	return survivors
}

// drain empties the ingest queue without processing, used on shutdown so
// blocked writers unstick.
func (p *detectorPipeline) drain() {
	for {
		if _, ok := p.queue.Read(); !ok {
			return
		}
	}
}

// zeros returns a zero-valued scratch slice of length n.
func (p *detectorPipeline) zeros(n int) []float64 {
	if cap(p.zeroBuf) < n {
		p.zeroBuf = make([]float64, n)
	}
	z := p.zeroBuf[:n]
	for i := range z {
		z[i] = 0
	}
	return z
}
