package claims

import "errors"

// Kind classifies claim-service failures so callers can map them to user
// messaging and HTTP statuses without string matching.
type Kind int

const (
	// KindValidation: bad input, raised before any transaction opens.
	KindValidation Kind = iota
	// KindNotFound: the source document vanished — someone won the race.
	KindNotFound
	// KindConflict: ownership check failed — someone else holds the claim.
	KindConflict
	// KindTransport: the store itself failed; retry is the caller's call.
	KindTransport
)

// Error carries a human-readable message plus the failure kind. Messages
// are shown to drivers verbatim, so they stay short and specific.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func transportError(err error) *Error {
	return &Error{Kind: KindTransport, Message: err.Error(), Err: err}
}

func kindOf(err error) (Kind, bool) {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind, true
	}
	return 0, false
}

func IsValidation(err error) bool { k, ok := kindOf(err); return ok && k == KindValidation }
func IsNotFound(err error) bool   { k, ok := kindOf(err); return ok && k == KindNotFound }
func IsConflict(err error) bool   { k, ok := kindOf(err); return ok && k == KindConflict }
func IsTransport(err error) bool  { k, ok := kindOf(err); return ok && k == KindTransport }
