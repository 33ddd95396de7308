package contextkey

// Key is the type of request scoped values stored on a context.
type Key string

const (
	TraceID      Key = "trace_id"
	RequestID    Key = "request_id"
	UserID       Key = "user_id"
	UserRole     Key = "user_role"
	SubmissionID Key = "submission_id"
)
