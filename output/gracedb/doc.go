// Package gracedb submits ranked candidate events to a GraceDB-style
// event database over HTTPS.
//
// The submitter subscribes to the ranked event subject, unwraps each
// envelope, and POSTs the event record to the configured endpoint with
// the pipeline and search group attached. A minimum ranking statistic
// gates submission so quiet-time singles and marginal coincidences do
// not flood the database.
//
// Submission is retried with exponential backoff; a 4xx response is not
// retried because the server has rejected the record rather than failed
// to receive it. Client TLS (including mTLS and ACME-issued
// certificates) follows the platform security configuration.
package gracedb
