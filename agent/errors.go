package agent

import "fmt"

// ProtocolError reports a violation of the conversation protocol: a
// pairing breach or a malformed model response. It is fatal for the
// sample and never silently retried.
type ProtocolError struct {
	Message string
}

func (e *ProtocolError) Error() string {
	return "protocol error: " + e.Message
}

// InfrastructureError reports a model API failure or a verifier launch
// failure. Fatal for the sample; the loop performs no internal retry, so
// recovery means re-invoking the whole sample from outside.
type InfrastructureError struct {
	Op    string
	Cause error
}

func (e *InfrastructureError) Error() string {
	return fmt.Sprintf("infrastructure error in %s: %v", e.Op, e.Cause)
}

func (e *InfrastructureError) Unwrap() error {
	return e.Cause
}

// IsFatal reports whether err should abort a sample rather than be folded
// back into the dialogue.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	switch err.(type) {
	case *ProtocolError, *InfrastructureError:
		return true
	}
	return false
}
