package telemetry

import "go.opentelemetry.io/otel/attribute"

// Common attribute keys for consistent tracing across the application.
const (
	PortalKey    = "portal.name"
	OperationKey = "portal.operation"
	StatusKey    = "portal.status_code"

	JobTypeKey     = "job.type"
	JobStatusKey   = "job.status"
	JobDurationKey = "job.duration_ms"

	ErrorKey     = "error"
	ErrorTypeKey = "error.type"
)

// PortalAttributes creates span attributes for an upstream portal request.
func PortalAttributes(portal, operation string, status int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(PortalKey, portal),
		attribute.String(OperationKey, operation),
		attribute.Int(StatusKey, status),
	}
}

// JobAttributes creates span attributes for a background job run.
func JobAttributes(jobType, status string, durationMS int64) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(JobTypeKey, jobType),
		attribute.String(JobStatusKey, status),
		attribute.Int64(JobDurationKey, durationMS),
	}
}

// ErrorAttributes creates span attributes for an error.
func ErrorAttributes(_ error, errorType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Bool(ErrorKey, true),
		attribute.String(ErrorTypeKey, errorType),
	}
}
