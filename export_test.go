// File export_test exports some internals for better testing.

package poolsource

// UnregisterDriver removes a registered driver so tests can reuse names and
// exercise missing-driver paths.
func UnregisterDriver(name string) {
	driversMu.Lock()
	defer driversMu.Unlock()
	delete(drivers, name)
}

// RedactURL exposes the credential redaction applied to URLs in error messages.
func RedactURL(s string) string {
	return redactURL(s)
}

// NewConnectError builds a ConnectError around a cause.
func NewConnectError(driverName, url string, err error) error {
	return &ConnectError{DriverName: driverName, URL: url, err: err}
}
