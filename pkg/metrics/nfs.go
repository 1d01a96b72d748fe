package metrics

import "time"

// NFSMetrics receives RPC adapter activity. The Prometheus implementation
// lives in pkg/metrics/prometheus; adapters built without one use
// NewNoopNFSMetrics.
type NFSMetrics interface {
	// RecordRequest records a completed call. procedure is the dispatch
	// name ("READ", "MOUNT_MNT"); err is nil on success.
	RecordRequest(procedure string, duration time.Duration, err error)

	// RecordRequestStart and RecordRequestEnd bracket a call for the
	// in-flight gauge.
	RecordRequestStart(procedure string)
	RecordRequestEnd(procedure string)

	// RecordRejected counts calls answered without running a procedure.
	// reason is one of "prog_unavail", "prog_mismatch", "proc_unavail",
	// "garbage_args", "rate_limited" or "system_err".
	RecordRejected(reason string)

	// RecordBytesTransferred counts RPC record bytes ("in" or "out").
	RecordBytesTransferred(direction string, bytes int64)

	SetActiveConnections(count int32)
	RecordConnectionAccepted()
	RecordConnectionClosed()
	RecordConnectionForceClosed()
}

// NewNoopNFSMetrics returns an NFSMetrics that discards everything.
func NewNoopNFSMetrics() NFSMetrics {
	return noopNFSMetrics{}
}

type noopNFSMetrics struct{}

func (noopNFSMetrics) RecordRequest(string, time.Duration, error) {}
func (noopNFSMetrics) RecordRequestStart(string)                  {}
func (noopNFSMetrics) RecordRequestEnd(string)                    {}
func (noopNFSMetrics) RecordRejected(string)                      {}
func (noopNFSMetrics) RecordBytesTransferred(string, int64)        {}
func (noopNFSMetrics) SetActiveConnections(int32)                 {}
func (noopNFSMetrics) RecordConnectionAccepted()                  {}
func (noopNFSMetrics) RecordConnectionClosed()                    {}
func (noopNFSMetrics) RecordConnectionForceClosed()               {}
