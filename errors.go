package poolsource

import (
	"errors"
	"fmt"
	"regexp"
)

// ErrDriverNotReady marks an open failure caused by a driver that has not finished
// its own lazy initialization. Drivers return it (or wrap it) when an open races
// their first use. Connect and ConnectUser retry exactly once when the failure
// matches this class; every other failure surfaces immediately.
var ErrDriverNotReady = errors.New("driver not ready")

// ErrClosed is returned when a pooled connection is used after Close.
var ErrClosed = errors.New("pooled connection is closed")

// ConnectError is returned by Connect and ConnectUser when the physical open fails.
// It wraps the driver's error.
type ConnectError struct {
	DriverName string
	URL        string
	err        error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("failed to connect to `driver=%s url=%s`: %s", e.DriverName, redactURL(e.URL), e.err)
}

func (e *ConnectError) Unwrap() error {
	return e.err
}

// FrozenError is returned by setters called after the source has opened its first
// connection.
type FrozenError struct {
	Property string
}

func (e *FrozenError) Error() string {
	return fmt.Sprintf("cannot set %s: configuration is frozen once a connection has been requested", e.Property)
}

// DriverNotFoundError is returned when no driver is registered under the requested
// name.
type DriverNotFoundError struct {
	Name string
}

func (e *DriverNotFoundError) Error() string {
	return fmt.Sprintf("unknown driver %q (forgotten Register?)", e.Name)
}

// UnderlyingAccessError is returned by PooledConn.Raw when access to the underlying
// connection has not been allowed on the source.
type UnderlyingAccessError struct {
	ConnID string
}

func (e *UnderlyingAccessError) Error() string {
	return fmt.Sprintf("access to the underlying connection of %s is not allowed", e.ConnID)
}

var (
	urlPasswordRegexp = regexp.MustCompile(`(://[^:@/]+):[^@]+@`)
	kvPasswordRegexp  = regexp.MustCompile(`password=('[^']*'|[^ ]*)`)
)

// redactURL hides credentials embedded in a connection URL so they never reach
// error messages or logs.
func redactURL(s string) string {
	s = urlPasswordRegexp.ReplaceAllString(s, "$1:xxxxx@")
	return kvPasswordRegexp.ReplaceAllString(s, "password=xxxxx")
}
