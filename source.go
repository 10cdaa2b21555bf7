package poolsource

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/poolkit/poolsource-go/stmtcache"
	"github.com/poolkit/poolsource-go/tracelog"
)

// DriverSource adapts a registered Driver into a source of pooled connections. It
// holds the connection settings, opens one physical connection per Connect call, and
// equips each connection with its own statement cache according to the statement
// cache settings.
//
// A DriverSource is mutable until the first Connect or ConnectUser, successful or
// not. That first call freezes the configuration: the settings are snapshotted, the
// snapshot serves every later open, and the freeze-guarded setters fail with
// *FrozenError from then on. The freeze is one-way.
//
// All methods are safe for concurrent use. Connections opened by the same source are
// fully independent of each other.
type DriverSource struct {
	mu sync.Mutex

	description *string
	url         *string
	user        *string
	password    *string
	driverName  *string
	props       map[string]string

	loginTimeout    int
	allowUnderlying bool
	logWriter       io.Writer
	logger          tracelog.Logger

	poolPreparedStatements        bool
	maxActive                     int
	maxIdle                       int
	timeBetweenEvictionRunsMillis int
	numTestsPerEvictionRun        int
	minEvictableIdleTimeMillis    int
	maxPreparedStatements         int

	// snap is nil until the source freezes. Opens read only the snapshot.
	snap *snapshot
}

// snapshot is the immutable view of the configuration taken when the source
// freezes. allowUnderlying and the logger stay live on purpose: both are diagnostic
// toggles the original keeps mutable after initialization.
type snapshot struct {
	url        string
	user       string
	password   string
	driverName string
	props      map[string]string
	plan       stmtcache.Plan
}

// NewDriverSource returns a source with every setting at its default: no driver, no
// URL, statement pooling off, maxActive and maxIdle 10, and the eviction knobs -1
// (no statement limit, no evictor).
func NewDriverSource() *DriverSource {
	return &DriverSource{
		maxActive:                     10,
		maxIdle:                       10,
		timeBetweenEvictionRunsMillis: -1,
		numTestsPerEvictionRun:        -1,
		minEvictableIdleTimeMillis:    -1,
		maxPreparedStatements:         -1,
	}
}

// Connect opens one new physical connection using the configured credentials. The
// first call (even a failing one) freezes the configuration.
func (s *DriverSource) Connect(ctx context.Context) (*PooledConn, error) {
	snap := s.freeze()
	return s.connect(ctx, snap, snap.user, snap.password)
}

// ConnectUser is Connect with per-call credentials overriding the configured ones.
func (s *DriverSource) ConnectUser(ctx context.Context, user, password string) (*PooledConn, error) {
	snap := s.freeze()
	return s.connect(ctx, snap, user, password)
}

// freeze snapshots the configuration on the first call and returns the snapshot on
// every call after that.
func (s *DriverSource) freeze() *snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.snap == nil {
		s.snap = &snapshot{
			url:        strv(s.url),
			user:       strv(s.user),
			password:   strv(s.password),
			driverName: strv(s.driverName),
			props:      copyProps(s.props),
			plan: stmtcache.PlanFor(
				s.poolPreparedStatements,
				s.maxActive,
				s.maxIdle,
				s.timeBetweenEvictionRunsMillis,
				s.numTestsPerEvictionRun,
				s.minEvictableIdleTimeMillis,
				s.maxPreparedStatements,
			),
		}
	}
	return s.snap
}

func (s *DriverSource) connect(ctx context.Context, snap *snapshot, user, password string) (*PooledConn, error) {
	s.mu.Lock()
	logger := s.logger
	allowUnderlying := s.allowUnderlying
	s.mu.Unlock()

	driver, ok := lookupDriver(snap.driverName)
	if !ok {
		return nil, &DriverNotFoundError{Name: snap.driverName}
	}

	user, password, err := resolveCredentials(ctx, logger, snap.url, user, password, snap.props)
	if err != nil {
		return nil, &ConnectError{DriverName: snap.driverName, URL: snap.url, err: err}
	}

	open := func() (Conn, error) {
		if snap.props != nil {
			props := make(map[string]string, len(snap.props)+2)
			for k, v := range snap.props {
				props[k] = v
			}
			props["user"] = user
			props["password"] = password
			return driver.OpenProperties(ctx, snap.url, props)
		}
		return driver.Open(ctx, snap.url, user, password)
	}

	conn, err := open()
	if err != nil && errors.Is(err, ErrDriverNotReady) {
		// The one legacy failure class worth a second chance: the driver's lazy
		// initialization raced this open. Retry once with identical arguments.
		if logger != nil {
			logger.Log(ctx, tracelog.LogLevelDebug, "driver not ready, retrying open once",
				map[string]any{"driver": snap.driverName})
		}
		conn, err = open()
	}
	if err != nil {
		if logger != nil {
			logger.Log(ctx, tracelog.LogLevelError, "connection failed",
				map[string]any{"driver": snap.driverName, "url": redactURL(snap.url), "err": err})
		}
		return nil, &ConnectError{DriverName: snap.driverName, URL: snap.url, err: err}
	}

	var cache stmtcache.Cache[Stmt]
	if snap.plan.Mode != stmtcache.ModeDisabled {
		cache = stmtcache.New[Stmt](snap.plan, Stmt.Close, stmtcache.Config{Logger: logger})
	}

	pc := newPooledConn(conn, cache, allowUnderlying, logger)
	if logger != nil {
		logger.Log(ctx, tracelog.LogLevelDebug, "connection established",
			map[string]any{"conn": pc.ID(), "driver": snap.driverName, "cache": snap.plan.Mode.String()})
	}
	return pc, nil
}

// Frozen reports whether the first connection has been requested and the
// configuration is locked.
func (s *DriverSource) Frozen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap != nil
}

// Description returns the free-form description of this source.
func (s *DriverSource) Description() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return strv(s.description)
}

// SetDescription sets the free-form description. It is diagnostic only and stays
// settable after the source has frozen.
func (s *DriverSource) SetDescription(description string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.description = &description
}

// URL returns the connection URL handed to the driver.
func (s *DriverSource) URL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return strv(s.url)
}

// SetURL sets the connection URL handed to the driver.
func (s *DriverSource) SetURL(url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snap != nil {
		return &FrozenError{Property: "url"}
	}
	s.url = &url
	return nil
}

// User returns the default user name.
func (s *DriverSource) User() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return strv(s.user)
}

// SetUser sets the default user name. When connection properties are configured the
// value is also written through to their "user" key, keeping the two open forms
// consistent.
func (s *DriverSource) SetUser(user string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snap != nil {
		return &FrozenError{Property: "user"}
	}
	s.user = &user
	if s.props != nil {
		s.props["user"] = user
	}
	return nil
}

// Password returns the default password.
func (s *DriverSource) Password() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return strv(s.password)
}

// SetPassword sets the default password, writing through to the "password" key of
// the connection properties when they are configured.
func (s *DriverSource) SetPassword(password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snap != nil {
		return &FrozenError{Property: "password"}
	}
	s.password = &password
	if s.props != nil {
		s.props["password"] = password
	}
	return nil
}

// DriverName returns the name the driver was registered under.
func (s *DriverSource) DriverName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return strv(s.driverName)
}

// SetDriverName selects the driver by its registered name. The name is validated
// eagerly: when no driver is registered under it, SetDriverName fails with
// *DriverNotFoundError and the configured name is left unchanged.
func (s *DriverSource) SetDriverName(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snap != nil {
		return &FrozenError{Property: "driverName"}
	}
	if _, ok := lookupDriver(name); !ok {
		return &DriverNotFoundError{Name: name}
	}
	s.driverName = &name
	return nil
}

// ConnectionProperties returns a copy of the configured connection properties, or
// nil when none are configured.
func (s *DriverSource) ConnectionProperties() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyProps(s.props)
}

// SetConnectionProperties switches the source to the property-map open form: every
// open copies the map, writes the effective credentials into the "user" and
// "password" keys of the copy, and calls the driver's OpenProperties. The map is
// copied on the way in, and a "user" or "password" key in it is adopted as the
// default user and password. Passing nil reverts to the discrete open form.
func (s *DriverSource) SetConnectionProperties(props map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snap != nil {
		return &FrozenError{Property: "connectionProperties"}
	}

	if props == nil {
		s.props = nil
		return nil
	}

	s.props = copyProps(props)
	if user, ok := s.props["user"]; ok {
		s.user = &user
	}
	if password, ok := s.props["password"]; ok {
		s.password = &password
	}
	return nil
}

// LoginTimeout returns the configured login timeout in seconds.
func (s *DriverSource) LoginTimeout() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loginTimeout
}

// SetLoginTimeout stores the login timeout in seconds. The value is carried and
// externalized but not applied to opens; drivers that honor timeouts take them from
// the context or their own settings. It stays settable after the source has frozen.
func (s *DriverSource) SetLoginTimeout(seconds int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loginTimeout = seconds
}

// AllowUnderlying reports whether Raw access to the physical connection is allowed
// on connections opened by this source.
func (s *DriverSource) AllowUnderlying() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.allowUnderlying
}

// SetAllowUnderlying toggles Raw access on connections opened after the call. As a
// diagnostic toggle it stays settable after the source has frozen; connections
// already open keep the setting they were opened with.
func (s *DriverSource) SetAllowUnderlying(allow bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.allowUnderlying = allow
}

// LogWriter returns the writer set by SetLogWriter.
func (s *DriverSource) LogWriter() io.Writer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logWriter
}

// SetLogWriter stores a writer for API compatibility with sources that expose one.
// poolsource itself never writes to it; use SetLogger for diagnostics.
func (s *DriverSource) SetLogWriter(w io.Writer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logWriter = w
}

// Logger returns the logger set by SetLogger.
func (s *DriverSource) Logger() tracelog.Logger {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logger
}

// SetLogger sets the logger that receives open, retry and statement cache
// diagnostics. It stays settable after the source has frozen; connections already
// open keep the logger they were opened with. nil disables logging.
func (s *DriverSource) SetLogger(logger tracelog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = logger
}

// PoolPreparedStatements reports whether connections cache prepared statements.
func (s *DriverSource) PoolPreparedStatements() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.poolPreparedStatements
}

// SetPoolPreparedStatements enables or disables the per-connection statement cache.
func (s *DriverSource) SetPoolPreparedStatements(pool bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snap != nil {
		return &FrozenError{Property: "poolPreparedStatements"}
	}
	s.poolPreparedStatements = pool
	return nil
}

// MaxActive returns the expected bound on concurrently borrowed statements per key.
func (s *DriverSource) MaxActive() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxActive
}

// SetMaxActive sets the expected bound on concurrently borrowed statements for one
// statement key. The cache grows past it on demand.
func (s *DriverSource) SetMaxActive(n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snap != nil {
		return &FrozenError{Property: "maxActive"}
	}
	s.maxActive = n
	return nil
}

// MaxIdle returns the bound on idle statements retained per key.
func (s *DriverSource) MaxIdle() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxIdle
}

// SetMaxIdle bounds the idle statements retained per statement key. Negative means
// no bound, zero means idle statements are never retained.
func (s *DriverSource) SetMaxIdle(n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snap != nil {
		return &FrozenError{Property: "maxIdle"}
	}
	s.maxIdle = n
	return nil
}

// TimeBetweenEvictionRunsMillis returns the background eviction interval in
// milliseconds.
func (s *DriverSource) TimeBetweenEvictionRunsMillis() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timeBetweenEvictionRunsMillis
}

// SetTimeBetweenEvictionRunsMillis sets the background eviction interval in
// milliseconds. Non-positive disables the evictor. It only applies while no
// statement limit is set; a bounded cache evicts on the insert path instead.
func (s *DriverSource) SetTimeBetweenEvictionRunsMillis(millis int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snap != nil {
		return &FrozenError{Property: "timeBetweenEvictionRunsMillis"}
	}
	s.timeBetweenEvictionRunsMillis = millis
	return nil
}

// NumTestsPerEvictionRun returns how many idle statements one eviction pass
// examines.
func (s *DriverSource) NumTestsPerEvictionRun() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.numTestsPerEvictionRun
}

// SetNumTestsPerEvictionRun caps how many idle statements one background eviction
// pass examines. Non-positive means all of them.
func (s *DriverSource) SetNumTestsPerEvictionRun(n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snap != nil {
		return &FrozenError{Property: "numTestsPerEvictionRun"}
	}
	s.numTestsPerEvictionRun = n
	return nil
}

// MinEvictableIdleTimeMillis returns how long a statement must sit idle before the
// background evictor may reclaim it, in milliseconds.
func (s *DriverSource) MinEvictableIdleTimeMillis() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.minEvictableIdleTimeMillis
}

// SetMinEvictableIdleTimeMillis sets how long a statement must sit idle before the
// background evictor may reclaim it, in milliseconds. Non-positive means idle
// statements are never reclaimed.
func (s *DriverSource) SetMinEvictableIdleTimeMillis(millis int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snap != nil {
		return &FrozenError{Property: "minEvictableIdleTimeMillis"}
	}
	s.minEvictableIdleTimeMillis = millis
	return nil
}

// MaxPreparedStatements returns the bound on distinct cached statement keys.
func (s *DriverSource) MaxPreparedStatements() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxPreparedStatements
}

// SetMaxPreparedStatements bounds the distinct statement keys cached per
// connection. Non-positive means no bound. A positive bound switches the cache to
// synchronous least-recently-used eviction and disables the background evictor.
func (s *DriverSource) SetMaxPreparedStatements(n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snap != nil {
		return &FrozenError{Property: "maxPreparedStatements"}
	}
	s.maxPreparedStatements = n
	return nil
}

func strv(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func copyProps(props map[string]string) map[string]string {
	if props == nil {
		return nil
	}
	out := make(map[string]string, len(props))
	for k, v := range props {
		out[k] = v
	}
	return out
}
