// Package metrics provides the Prometheus collectors for patchwork components.
package metrics

import "time"

// Operation names shared by the datastore and HTTP collectors.
const (
	OpSessionCreate  = "session_create"
	OpSessionGet     = "session_get"
	OpSaveIteration  = "save_iteration"
	OpLoadLabels     = "load_labels"
	OpRecordAccuracy = "record_accuracy"
	OpAccuracyQuery  = "accuracy_query"
)

// Status values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// ShutdownTimeout bounds the graceful stop of the metrics endpoint.
const ShutdownTimeout = 5 * time.Second
