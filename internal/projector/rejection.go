package projector

import (
	"errors"
	"fmt"
)

// Rejection marks an event as terminally unappliable: a violated
// precondition or an invalid payload. It is not a transport error and must
// not be retried; the dispatcher surfaces it to the user.
type Rejection struct {
	Reason  string
	Message string
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("event rejected (%s): %s", r.Reason, r.Message)
}

func reject(reason, format string, args ...any) error {
	return &Rejection{Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// AsRejection unwraps a Rejection from err, or returns nil.
func AsRejection(err error) *Rejection {
	var rejection *Rejection
	if errors.As(err, &rejection) {
		return rejection
	}
	return nil
}
