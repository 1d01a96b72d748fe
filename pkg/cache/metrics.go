package cache

// Metrics receives cache activity. pkg/metrics provides the Prometheus
// implementation.
type Metrics interface {
	RecordHit()
	RecordMiss()
	RecordEviction(reason string)
	SetResident(files int, bytes int64)
}

type noopMetrics struct{}

func (noopMetrics) RecordHit()             {}
func (noopMetrics) RecordMiss()            {}
func (noopMetrics) RecordEviction(string)  {}
func (noopMetrics) SetResident(int, int64) {}
