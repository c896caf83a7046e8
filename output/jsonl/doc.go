// Package jsonl archives search results to disk as JSON Lines.
//
// The archive subscribes to the ranked event subject and the
// per-detector trigger subjects and appends each envelope to a stream
// file named after its message category (events.jsonl, triggers.jsonl).
// Writes are buffered and flushed on an interval so a burst of triggers
// does not turn into a burst of syscalls; Stop drains the buffer before
// closing the files.
//
// The archive is append-only and crash-tolerant: a partial final line
// from an unclean shutdown is skipped by any JSONL reader, and restart
// simply continues appending.
package jsonl
