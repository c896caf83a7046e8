// Package replay feeds recorded strain into the search from a JSONL
// file, one sample block per line, paced against the blocks' own sample
// rate so a recording plays back at the cadence a live detector would
// deliver it. A speed multiplier accelerates regression runs; zero
// disables pacing entirely for offline reprocessing.
package replay
