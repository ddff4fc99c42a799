package metrics

// Recorder is the minimal metrics surface handed to components that should
// not depend on a concrete collector.
type Recorder interface {
	// RecordOperation counts an operation with its status ("success" or "error").
	RecordOperation(operation, status string)

	// RecordDuration records how long an operation took, in seconds.
	RecordDuration(operation string, seconds float64)

	// RecordError counts a failed operation by error category.
	RecordError(operation, errorType string)
}

// NopRecorder discards everything.
type NopRecorder struct{}

func (NopRecorder) RecordOperation(string, string) {}
func (NopRecorder) RecordDuration(string, float64) {}
func (NopRecorder) RecordError(string, string)     {}
