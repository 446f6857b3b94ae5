package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldRequestID = "request_id"
	FieldJobID     = "job_id"
	FieldUID       = "uid"

	// Process fields
	FieldEvent     = "event"
	FieldComponent = "component"

	// Portal fields
	FieldPortal    = "portal"
	FieldOperation = "operation"
	FieldStatus    = "status"
	FieldURL       = "url"

	// Path fields
	FieldPath = "path"
)
