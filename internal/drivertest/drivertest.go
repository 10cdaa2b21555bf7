// Package drivertest provides a scriptable in-memory driver for testing poolsource.
package drivertest

import (
	"context"
	"errors"
	"sync"

	poolsource "github.com/poolkit/poolsource-go"
)

var (
	_ poolsource.Driver = (*Driver)(nil)
	_ poolsource.Conn   = (*Conn)(nil)
	_ poolsource.Stmt   = (*Stmt)(nil)
)

// OpenCall records the arguments of one Open or OpenProperties call.
type OpenCall struct {
	URL      string
	User     string
	Password string
	Props    map[string]string // nil for Open, the received map for OpenProperties
}

// Driver is an in-memory poolsource.Driver whose behavior is scripted by the test.
// The zero value is ready to use: every Open succeeds and hands out a fresh Conn.
type Driver struct {
	mu       sync.Mutex
	openErrs []error
	opens    []OpenCall
	conns    []*Conn
}

func (d *Driver) Open(ctx context.Context, url, user, password string) (poolsource.Conn, error) {
	return d.open(OpenCall{URL: url, User: user, Password: password})
}

func (d *Driver) OpenProperties(ctx context.Context, url string, props map[string]string) (poolsource.Conn, error) {
	return d.open(OpenCall{URL: url, User: props["user"], Password: props["password"], Props: props})
}

func (d *Driver) open(call OpenCall) (poolsource.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.opens = append(d.opens, call)

	if len(d.openErrs) > 0 {
		err := d.openErrs[0]
		d.openErrs = d.openErrs[1:]
		if err != nil {
			return nil, err
		}
	}

	conn := &Conn{}
	d.conns = append(d.conns, conn)
	return conn, nil
}

// FailNextOpen queues err for the next Open or OpenProperties call. Queue several
// errors to fail several consecutive opens; once the queue drains, opens succeed
// again.
func (d *Driver) FailNextOpen(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.openErrs = append(d.openErrs, err)
}

// OpenCount reports how many opens were attempted, including failed ones.
func (d *Driver) OpenCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.opens)
}

// Calls returns a copy of every recorded open call, in order.
func (d *Driver) Calls() []OpenCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]OpenCall(nil), d.opens...)
}

// LastCall returns the most recent open call. It panics when nothing was opened.
func (d *Driver) LastCall() OpenCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opens[len(d.opens)-1]
}

// Conns returns every Conn the driver handed out, in order.
func (d *Driver) Conns() []*Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Conn(nil), d.conns...)
}

// Conn is one fake physical connection. Closing it twice is an error so that tests
// catch double-close bugs.
type Conn struct {
	mu          sync.Mutex
	closed      bool
	prepareErrs []error
	prepared    []string
	stmts       []*Stmt
}

func (c *Conn) Prepare(ctx context.Context, query string) (poolsource.Stmt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, errors.New("drivertest: prepare on closed connection")
	}

	if len(c.prepareErrs) > 0 {
		err := c.prepareErrs[0]
		c.prepareErrs = c.prepareErrs[1:]
		if err != nil {
			return nil, err
		}
	}

	c.prepared = append(c.prepared, query)
	s := &Stmt{conn: c, Query: query}
	c.stmts = append(c.stmts, s)
	return s, nil
}

func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errors.New("drivertest: connection closed twice")
	}
	c.closed = true
	return nil
}

// FailNextPrepare queues err for the next Prepare call on this connection.
func (c *Conn) FailNextPrepare(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prepareErrs = append(c.prepareErrs, err)
}

// Closed reports whether Close has been called.
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Prepared returns the queries physically prepared on this connection, in order.
func (c *Conn) Prepared() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.prepared...)
}

// PrepareCount reports how many statements were physically prepared.
func (c *Conn) PrepareCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.prepared)
}

// OpenStmts reports how many handed-out statements have not been closed yet.
func (c *Conn) OpenStmts() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	open := 0
	for _, s := range c.stmts {
		if !s.Closed() {
			open++
		}
	}
	return open
}

// Stmt is a fake prepared statement. As with Conn, closing it twice is an error.
type Stmt struct {
	conn  *Conn
	Query string

	mu     sync.Mutex
	closed bool
}

func (s *Stmt) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.New("drivertest: statement closed twice")
	}
	s.closed = true
	return nil
}

// Closed reports whether Close has been called.
func (s *Stmt) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
