// Package udp bridges UDP strain datagrams onto the message bus.
//
// Detector frontends that cannot speak NATS send one JSON-encoded sample
// block per datagram. The input decodes and validates each block, wraps
// it in the platform envelope, and publishes it on the per-detector
// strain subject the stream controller subscribes to. Malformed
// datagrams and blocks for unexpected detectors are counted and dropped;
// they never reach the filters.
//
// Sequencing is not enforced here. The stream controller owns gap and
// ordering semantics, so a burst of reordered datagrams surfaces as
// ErrSequence rejections there rather than silent reordering at ingest.
package udp
