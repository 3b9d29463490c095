package atmi

import (
	"errors"
	"fmt"
)

var (
	// ErrNoEntry reports an unknown service or queue.
	ErrNoEntry = errors.New("atmi: no such service or queue")
	// ErrNoMessage reports an empty queue or no matching message.
	ErrNoMessage = errors.New("atmi: no message")
	// ErrClosed reports use of a closed conversation or bus.
	ErrClosed         = errors.New("atmi: closed")
	ErrBadDescriptor  = errors.New("atmi: unknown call descriptor")
	ErrBadCallInfo    = errors.New("atmi: call info must be a fielded buffer")
	ErrDuplicateEntry = errors.New("atmi: service already advertised")
	ErrConversational = errors.New("atmi: service mode does not match call")
)

// ServiceError reports a service that returned failure. The reply data, if
// any, is still delivered.
type ServiceError struct {
	Service    string
	ReturnCode int
	UserCode   int64
}

func (e ServiceError) Error() string {
	return fmt.Sprintf("atmi: service %s failed (rcode %d, user code %d)", e.Service, e.ReturnCode, e.UserCode)
}
