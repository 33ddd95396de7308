package errors

// ErrorCode represents a unique error identifier
type ErrorCode int

// Error code ranges allocation:
// 10000-10999: System & Common errors
// 12000-12999: Problem & Test case errors
// 13000-13999: Submission, Judge & Executor errors
// 14000-14999: Contest & Ranking errors
// 16000-16999: Permission errors
// 17000-17999: Similarity errors

const (
	// ========== System & Common Errors (10000-10999) ==========

	Success ErrorCode = 10000

	// Generic errors (10000-10099)
	InternalServerError ErrorCode = 10001
	InvalidParams       ErrorCode = 10002
	NotFound            ErrorCode = 10003
	Unauthorized        ErrorCode = 10004
	Forbidden           ErrorCode = 10005
	TooManyRequests     ErrorCode = 10006
	ServiceUnavailable  ErrorCode = 10007
	Timeout             ErrorCode = 10008

	// Database errors (10100-10199)
	DatabaseError       ErrorCode = 10100
	RecordNotFound      ErrorCode = 10101
	RecordAlreadyExists ErrorCode = 10102
	TransactionFailed   ErrorCode = 10103

	// Cache errors (10200-10299)
	CacheError     ErrorCode = 10200
	CacheMiss      ErrorCode = 10201
	CacheSetFailed ErrorCode = 10202
	LockFailed     ErrorCode = 10203

	// Validation errors (10300-10399)
	ValidationFailed   ErrorCode = 10300
	InvalidFormat      ErrorCode = 10301
	InvalidValue       ErrorCode = 10302
	RequiredFieldEmpty ErrorCode = 10303

	// Infrastructure errors (10400-10499)
	MessageQueueError ErrorCode = 10400
	StorageError      ErrorCode = 10401

	// Auth (10500-10599)
	TokenExpired ErrorCode = 10500
	TokenInvalid ErrorCode = 10501

	// ========== Problem Errors (12000-12999) ==========

	ProblemNotFound  ErrorCode = 12000
	TestCaseNotFound ErrorCode = 12100
	TestCaseInvalid  ErrorCode = 12102

	// ========== Submission, Judge & Executor Errors (13000-13999) ==========

	// Submission (13000-13099)
	SubmissionNotFound      ErrorCode = 13000
	SubmissionCreateFailed  ErrorCode = 13001
	CodeTooLarge            ErrorCode = 13002
	LanguageNotSupported    ErrorCode = 13003
	SubmitTooFrequently     ErrorCode = 13004
	SubmissionNotTerminal   ErrorCode = 13005
	SubmissionSuperseded    ErrorCode = 13006
	SubmissionUpdateFailed  ErrorCode = 13007
	DuplicateSubmission     ErrorCode = 13008
	InvalidStatusTransition ErrorCode = 13009
	ReportNotFound          ErrorCode = 13010

	// Judge (13100-13199)
	JudgeQueueFull   ErrorCode = 13100
	JudgeSystemError ErrorCode = 13101
	EvaluationFailed ErrorCode = 13102
	NoTestCases      ErrorCode = 13103

	// Executor (13200-13299)
	ExecutorUnavailable       ErrorCode = 13200
	ExecutorMalformedResponse ErrorCode = 13201
	ExecutorTimeout           ErrorCode = 13202
	ExecutorNotConfigured     ErrorCode = 13203

	// ========== Contest Errors (14000-14999) ==========

	ContestNotFound        ErrorCode = 14000
	ContestUpdateFailed    ErrorCode = 14005
	RankingNotAvailable    ErrorCode = 14200
	LeaderboardLockTimeout ErrorCode = 14201

	// ========== Permission Errors (16000-16999) ==========

	PermissionDenied       ErrorCode = 16000
	InsufficientPermission ErrorCode = 16001

	// ========== Similarity Errors (17000-17999) ==========

	SimilarityCheckFailed ErrorCode = 17000
	SimilarityProfileBad  ErrorCode = 17001
)

// errorMessages maps error codes to their default English messages
var errorMessages = map[ErrorCode]string{
	// System & Common
	Success:             "Success",
	InternalServerError: "Internal server error",
	InvalidParams:       "Invalid parameters",
	NotFound:            "Resource not found",
	Unauthorized:        "Unauthorized access",
	Forbidden:           "Access forbidden",
	TooManyRequests:     "Too many requests, please try again later",
	ServiceUnavailable:  "Service temporarily unavailable",
	Timeout:             "Request timeout",

	// Database
	DatabaseError:       "Database operation failed",
	RecordNotFound:      "Record not found in database",
	RecordAlreadyExists: "Record already exists",
	TransactionFailed:   "Database transaction failed",

	// Cache
	CacheError:     "Cache operation failed",
	CacheMiss:      "Cache miss",
	CacheSetFailed: "Failed to set cache",
	LockFailed:     "Failed to acquire lock",

	// Validation
	ValidationFailed:   "Validation failed",
	InvalidFormat:      "Invalid format",
	InvalidValue:       "Invalid value",
	RequiredFieldEmpty: "Required field is empty",

	// Infrastructure
	MessageQueueError: "Message queue operation failed",
	StorageError:      "Object storage operation failed",

	// Auth
	TokenExpired: "Token has expired",
	TokenInvalid: "Invalid token",

	// Problem
	ProblemNotFound:  "Problem not found",
	TestCaseNotFound: "Test case not found",
	TestCaseInvalid:  "Invalid test case format",

	// Submission
	SubmissionNotFound:      "Submission not found",
	SubmissionCreateFailed:  "Failed to create submission",
	CodeTooLarge:            "Code is too large",
	LanguageNotSupported:    "Programming language not supported",
	SubmitTooFrequently:     "Submitting too frequently, please wait",
	SubmissionNotTerminal:   "Submission is still being evaluated",
	SubmissionSuperseded:    "Submission was superseded by a newer run",
	SubmissionUpdateFailed:  "Failed to update submission",
	DuplicateSubmission:     "Duplicate submission request",
	InvalidStatusTransition: "Invalid submission status transition",
	ReportNotFound:          "Evaluation report not found",

	// Judge
	JudgeQueueFull:   "Judge queue is full, please try again later",
	JudgeSystemError: "Judge system error",
	EvaluationFailed: "Evaluation could not be completed",
	NoTestCases:      "Problem has no test cases configured",

	// Executor
	ExecutorUnavailable:       "Executor is unreachable",
	ExecutorMalformedResponse: "Executor returned a malformed response",
	ExecutorTimeout:           "Executor call timed out",
	ExecutorNotConfigured:     "Executor is not configured",

	// Contest
	ContestNotFound:        "Contest not found",
	ContestUpdateFailed:    "Failed to update contest standings",
	RankingNotAvailable:    "Ranking is not available",
	LeaderboardLockTimeout: "Leaderboard is busy, please retry",

	// Permission
	PermissionDenied:       "Permission denied",
	InsufficientPermission: "Insufficient permission",

	// Similarity
	SimilarityCheckFailed: "Similarity check failed",
	SimilarityProfileBad:  "Invalid similarity weight profile",
}

// Message returns the default message for the error code
func (c ErrorCode) Message() string {
	if msg, ok := errorMessages[c]; ok {
		return msg
	}
	return "Unknown error"
}

// HTTPStatus returns the recommended HTTP status code for the error code
func (c ErrorCode) HTTPStatus() int {
	switch {
	case c == Success:
		return 200
	case c == Unauthorized, c == TokenExpired, c == TokenInvalid:
		return 401
	case c == Forbidden, c >= 16000 && c < 16100:
		return 403
	case c == NotFound, c == ProblemNotFound, c == SubmissionNotFound, c == ContestNotFound, c == RecordNotFound, c == ReportNotFound:
		return 404
	case c == SubmissionNotTerminal, c == InvalidStatusTransition, c == DuplicateSubmission, c == SubmissionSuperseded:
		return 409
	case c == TooManyRequests, c == SubmitTooFrequently:
		return 429
	case c == ServiceUnavailable, c == JudgeQueueFull, c == LeaderboardLockTimeout, c == ExecutorUnavailable:
		return 503
	case c >= 10300 && c < 10400:
		return 400
	case c == InvalidParams, c == CodeTooLarge, c == LanguageNotSupported:
		return 400
	default:
		return 500
	}
}
