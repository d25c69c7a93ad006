package core

import (
	"errors"
	"fmt"
)

// ErrConfiguration marks invalid settings or an unusable storage schema.
// Callers surface it at startup and exit.
var ErrConfiguration = errors.New("configuration error")

// ServiceError is a failure talking to an external service (LLM runtime,
// embedding endpoint, chat platform, broker). It is transient: the pipeline
// degrades instead of failing the message.
type ServiceError struct {
	Service    string
	Op         string
	StatusCode int
	Err        error
}

func (e *ServiceError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s: status %d: %v", e.Service, e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Service, e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// IsTransient reports whether err came from an external service call.
func IsTransient(err error) bool {
	var se *ServiceError
	return errors.As(err, &se)
}
