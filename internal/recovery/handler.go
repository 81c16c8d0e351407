package recovery

// ServiceErrorHandler is implemented once per downstream collaborator
// (metadata, download, storage). It owns the collaborator's error
// vocabulary and may fully handle an error class itself.
type ServiceErrorHandler interface {
	// Classify maps a raised failure into a retry reason.
	Classify(err error) RetryReason

	// HandleError gives the service a chance to fully own recovery for
	// an error class. Returning true means the error was resolved at the
	// service level and the generic retry loop is bypassed; returning
	// false routes the error into the generic strategy.
	HandleError(err error, ectx *ErrorContext) bool

	// RecoverySuggestions returns remediation hints recorded alongside a
	// terminal failure.
	RecoverySuggestions(ectx *ErrorContext) []string
}
