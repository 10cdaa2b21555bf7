// Package sqlbridge adapts database/sql drivers to poolsource.
//
// A Bridge is a poolsource.Driver backed by a driver registered with database/sql.
// Each open claims exactly one physical connection, so the existing database/sql
// driver ecosystem can feed a poolsource.DriverSource through a blank import:
//
//	import _ "modernc.org/sqlite"
//
//	sqlbridge.Register("sqlite", "sqlite")
package sqlbridge

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	poolsource "github.com/poolkit/poolsource-go"
)

var (
	_ poolsource.Driver = (*Bridge)(nil)
	_ poolsource.Conn   = (*Conn)(nil)
	_ poolsource.Stmt   = (*Stmt)(nil)
)

// DSNFunc composes the data source name handed to database/sql from the URL,
// credentials and connection properties of one open call.
type DSNFunc func(url, user, password string, props map[string]string) (string, error)

// Option configures a Bridge.
type Option func(*Bridge)

// WithDSN sets how the bridge composes the data source name. The default hands the
// URL through untouched, which suits drivers whose DSN already embeds the
// credentials; drivers that take credentials separately need a DSNFunc that splices
// them in.
func WithDSN(fn DSNFunc) Option {
	return func(b *Bridge) {
		b.dsn = fn
	}
}

// Bridge is a poolsource.Driver that opens its connections through a database/sql
// driver.
type Bridge struct {
	sqlDriverName string
	dsn           DSNFunc
}

// New returns a bridge over the database/sql driver registered under
// sqlDriverName.
func New(sqlDriverName string, opts ...Option) *Bridge {
	b := &Bridge{
		sqlDriverName: sqlDriverName,
		dsn: func(url, user, password string, props map[string]string) (string, error) {
			return url, nil
		},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Register builds a bridge over the database/sql driver sqlDriverName and registers
// it with poolsource under name. It panics when name is already taken, matching
// poolsource.Register.
func Register(name, sqlDriverName string, opts ...Option) {
	poolsource.Register(name, New(sqlDriverName, opts...))
}

func (b *Bridge) Open(ctx context.Context, url, user, password string) (poolsource.Conn, error) {
	return b.open(ctx, url, user, password, nil)
}

func (b *Bridge) OpenProperties(ctx context.Context, url string, props map[string]string) (poolsource.Conn, error) {
	return b.open(ctx, url, props["user"], props["password"], props)
}

// open claims one physical connection. The *sql.DB underneath is capped at a single
// connection and lives exactly as long as the Conn, so database/sql's own pooling
// never kicks in.
func (b *Bridge) open(ctx context.Context, url, user, password string, props map[string]string) (poolsource.Conn, error) {
	dsn, err := b.dsn(url, user, password, props)
	if err != nil {
		return nil, fmt.Errorf("sqlbridge: composing dsn for %s: %w", b.sqlDriverName, err)
	}

	db, err := sql.Open(b.sqlDriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlbridge: opening %s: %w", b.sqlDriverName, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	conn, err := db.Conn(ctx)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlbridge: connecting via %s: %w", b.sqlDriverName, err)
	}

	return &Conn{db: db, conn: conn}, nil
}

// Conn is one physical connection claimed from a database/sql driver.
type Conn struct {
	db   *sql.DB
	conn *sql.Conn
}

func (c *Conn) Prepare(ctx context.Context, query string) (poolsource.Stmt, error) {
	stmt, err := c.conn.PrepareContext(ctx, query)
	if err != nil {
		return nil, err
	}
	return &Stmt{stmt: stmt}, nil
}

// Std returns the claimed *sql.Conn for use beyond preparing statements. It is the
// value poolsource hands out through PooledConn.Raw.
func (c *Conn) Std() *sql.Conn {
	return c.conn
}

func (c *Conn) Close() error {
	return errors.Join(c.conn.Close(), c.db.Close())
}

// Stmt is a prepared statement on a bridged connection.
type Stmt struct {
	stmt *sql.Stmt
}

// Std returns the underlying *sql.Stmt for execution.
func (s *Stmt) Std() *sql.Stmt {
	return s.stmt
}

func (s *Stmt) Close() error {
	return s.stmt.Close()
}
