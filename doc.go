// Package poolsource adapts a non-pooling database driver into a source of pooled
// connections.
/*
poolsource sits between a driver that only knows how to open one physical connection
at a time and a pooling layer that wants connection handles it can manage. A
DriverSource holds the connection settings for one driver, opens exactly one physical
connection per Connect call, and equips each connection with its own prepared
statement cache. It never reuses physical connections; stacking a pool on top of the
handles is the caller's business.

Drivers

A Driver is anything that can open one physical connection from a URL plus
credentials, either as three discrete values or as a property map. Drivers register
themselves under a name, usually from init, so using one takes no more than a blank
import:

    import _ "example.com/somedriver"

    src := poolsource.NewDriverSource()
    if err := src.SetDriverName("somedriver"); err != nil {
        return err
    }

Call [Drivers] once after all driver imports when registration order matters to your
process; it forces every init-time registration to have completed before the first
connection is opened.

Package sqlbridge adapts any registered database/sql driver into a poolsource.Driver,
so the existing driver ecosystem works out of the box.

Opening Connections

Connect opens one new physical connection with the configured credentials;
ConnectUser does the same with per-call credentials:

    pc, err := src.Connect(ctx)
    if err != nil {
        return err
    }
    defer pc.Close()

    stmt, err := pc.Prepare(ctx, "select name from widgets where id = $1")

The first Connect or ConnectUser call, successful or not, freezes the configuration:
from then on the configuration setters fail with *FrozenError. Diagnostic settings
(description, login timeout, logger, underlying access) stay live after the freeze.

Statement Caching

With SetPoolPreparedStatements(true) every connection carries a prepared statement
cache. SetMaxPreparedStatements selects the flavor: a non-positive value means an
unbounded cache whose idle statements are reclaimed by a background evictor driven by
the eviction timing settings, while a positive value bounds the distinct statement
keys and evicts the least recently used entries synchronously when the cache fills.
Package stmtcache implements both flavors; DriverSource only picks the plan.

Externalization

A DriverSource can be flattened into a Reference, a type-tagged list of named string
attributes, for storage in a directory or registry outside the process, and rebuilt
from one later:

    ref, err := src.Reference()
    // ... persist ref.Attributes(), read them back ...
    src2, err := poolsource.FromReference(ref)

FromReference returns (nil, nil) for a reference describing some other type, so
lookups that fan out over heterogeneous entries skip foreign ones silently.

Tracing and Logging

poolsource is quiet by default. SetLogger installs a tracelog.Logger that receives
connection, retry and statement cache diagnostics; the tracelog package ships a
charmbracelet/log adapter and a fan-out MultiLogger.
*/
package poolsource
