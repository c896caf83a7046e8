package pipeline

import (
	"context"
	"encoding/json"
	"time"

	"github.com/tanghyd/spiir-search/errors"
	"github.com/tanghyd/spiir-search/natsclient"
	"github.com/tanghyd/spiir-search/pkg/timestamp"
)

// checkpointKey is the single KV key under which the controller persists
// its stream positions.
const checkpointKey = "positions"

// detectorPosition records where one detector's stream stood when the
// checkpoint was taken.
type detectorPosition struct {
	NextIndex uint64  `json:"next_index"` // next expected sample index
	Watermark float64 `json:"watermark"`  // GPS seconds the stream is complete to
}

// checkpoint is the persisted controller state. On restart it tells
// operators where each stream resumed from; the sequencer itself accepts
// the first post-restart block as a fresh stream start.
type checkpoint struct {
	SavedAtMs int64                       `json:"saved_at_ms"`
	Detectors map[string]detectorPosition `json:"detectors"`
}

// saveCheckpoint writes the current stream positions to the KV store.
func (c *Controller) saveCheckpoint(ctx context.Context) error {
	if c.kv == nil {
		return nil
	}

	cp := checkpoint{
		SavedAtMs: timestamp.ToUnixMs(time.Now()),
		Detectors: make(map[string]detectorPosition, len(c.pipelines)),
	}
	for det, p := range c.pipelines {
		cp.Detectors[det] = detectorPosition{
			NextIndex: p.seq.NextIndex(),
			Watermark: p.watermark,
		}
	}

	data, err := json.Marshal(cp)
	if err != nil {
		return errors.WrapInvalid(err, "pipeline", "saveCheckpoint", "checkpoint encoding")
	}
	if _, err := c.kv.Put(ctx, checkpointKey, data); err != nil {
		return errors.WrapTransient(err, "pipeline", "saveCheckpoint", "KV write")
	}

	if c.metrics != nil {
		c.metrics.checkpointsSaved.Inc()
	}
	return nil
}

// restoreCheckpoint loads the last saved positions, if any. A missing key
// is a normal first start.
func (c *Controller) restoreCheckpoint(ctx context.Context) (*checkpoint, error) {
	if c.kv == nil {
		return nil, nil
	}

	entry, err := c.kv.Get(ctx, checkpointKey)
	if err != nil {
		if natsclient.IsKVNotFoundError(err) {
			return nil, nil
		}
		return nil, errors.WrapTransient(err, "pipeline", "restoreCheckpoint", "KV read")
	}

	var cp checkpoint
	if err := json.Unmarshal(entry.Value, &cp); err != nil {
		return nil, errors.WrapInvalid(err, "pipeline", "restoreCheckpoint", "checkpoint decoding")
	}
	return &cp, nil
}
