package beckn

import (
	"errors"
	"fmt"
)

// TransportError reports that a gateway call did not produce a usable
// response. Retryable failures leave no state behind and may be repeated.
type TransportError struct {
	Action     Action
	StatusCode int // 0 when no response was received
	Retryable  bool
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("beckn %s: gateway returned HTTP %d: %v", e.Action, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("beckn %s: %v", e.Action, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsRetryable reports whether err is a transport failure worth retrying.
func IsRetryable(err error) bool {
	var te *TransportError
	return errors.As(err, &te) && te.Retryable
}
