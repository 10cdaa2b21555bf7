package poolsource

import (
	"context"
	"sort"
	"sync"
)

// Driver is the physical-open primitive a DriverSource adapts. Implementations open
// exactly one new connection per call and do no pooling of their own; pooling is the
// business of whatever layer sits on top of the pooled connections.
//
// Drivers whose lazy initialization can race their first open should return an error
// matching ErrDriverNotReady for that window; Connect retries such failures once.
type Driver interface {
	// Open establishes one new physical connection using discrete credentials.
	Open(ctx context.Context, url, user, password string) (Conn, error)

	// OpenProperties establishes one new physical connection from a property map.
	// The map always carries the "user" and "password" keys; drivers may honor any
	// further keys they understand and must ignore the rest.
	OpenProperties(ctx context.Context, url string, props map[string]string) (Conn, error)
}

// Conn is one physical connection as handed out by a Driver.
type Conn interface {
	// Prepare compiles query on this connection.
	Prepare(ctx context.Context, query string) (Stmt, error)

	// Close tears the physical connection down.
	Close() error
}

// Stmt is a prepared statement owned by a Conn.
type Stmt interface {
	Close() error
}

var (
	driversMu sync.RWMutex
	drivers   = make(map[string]Driver)
)

// Register makes a driver available under the given name. It panics when d is nil or
// when name is already taken. Driver packages call it from init, so using a driver
// usually takes no more than a blank import.
func Register(name string, d Driver) {
	driversMu.Lock()
	defer driversMu.Unlock()

	if d == nil {
		panic("poolsource: Register driver is nil")
	}
	if _, dup := drivers[name]; dup {
		panic("poolsource: Register called twice for driver " + name)
	}
	drivers[name] = d
}

// Drivers returns the sorted names of the registered drivers.
//
// Calling it once after all blank driver imports forces every registration to have
// completed before the first connection is opened, which pins down initialization
// order for drivers that register lazily.
func Drivers() []string {
	driversMu.RLock()
	defer driversMu.RUnlock()

	list := make([]string, 0, len(drivers))
	for name := range drivers {
		list = append(list, name)
	}
	sort.Strings(list)
	return list
}

func lookupDriver(name string) (Driver, bool) {
	driversMu.RLock()
	defer driversMu.RUnlock()

	d, ok := drivers[name]
	return d, ok
}
