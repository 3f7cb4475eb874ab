package service

// Kind classifies a failed operation for the transport layer.
type Kind int

const (
	KindUnknown Kind = iota
	KindUnauthenticated
	KindPermissionDenied
	KindNotFound
	KindQuotaExceeded
	KindValidation
	KindUpstream
)

// Error is a typed failure with a client-safe message.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return e.Message + ": " + e.cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.cause }

// KindOf extracts the kind from an error, defaulting to KindUnknown.
func KindOf(err error) Kind {
	if e, ok := err.(*Error); ok {
		return e.Kind
	}
	return KindUnknown
}

func unauthenticated(msg string) *Error {
	return &Error{Kind: KindUnauthenticated, Message: msg}
}

func permissionDenied(msg string) *Error {
	return &Error{Kind: KindPermissionDenied, Message: msg}
}

func notFound(msg string) *Error {
	return &Error{Kind: KindNotFound, Message: msg}
}

func quotaExceeded(msg string) *Error {
	return &Error{Kind: KindQuotaExceeded, Message: msg}
}

func validation(msg string) *Error {
	return &Error{Kind: KindValidation, Message: msg}
}

func upstream(msg string, cause error) *Error {
	return &Error{Kind: KindUpstream, Message: msg, cause: cause}
}
