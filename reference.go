package poolsource

import (
	"fmt"
	"strconv"
)

// ReferenceTypeName tags references produced by DriverSource.Reference. FromReference
// only accepts references carrying this tag.
const ReferenceTypeName = "poolsource.DriverSource"

// nullMarker stands in for an unset string field in a Reference, so that an unset
// description, user or password survives a round trip distinguishably from an empty
// one. A real value equal to the marker cannot round-trip.
const nullMarker = "\x00"

// Attribute names. The encoder emits them in the fixed order listed here; the
// decoder accepts them in any order.
const (
	attrDescription             = "description"
	attrDriver                  = "driver"
	attrLoginTimeout            = "loginTimeout"
	attrPassword                = "password"
	attrUser                    = "user"
	attrURL                     = "url"
	attrPoolPreparedStatements  = "poolPreparedStatements"
	attrMaxActive               = "maxActive"
	attrMaxIdle                 = "maxIdle"
	attrTimeBetweenEvictionRuns = "timeBetweenEvictionRunsMillis"
	attrNumTestsPerEvictionRun  = "numTestsPerEvictionRun"
	attrMinEvictableIdleTime    = "minEvictableIdleTimeMillis"
	attrMaxPreparedStatements   = "maxPreparedStatements"
)

// Attribute is one name/value pair of an externalized source.
type Attribute struct {
	Name  string
	Value string
}

// Reference is the externalized form of a DriverSource: a type tag plus a flat,
// ordered attribute list. It is the boundary format for directory or registry
// storage; poolsource itself only produces and consumes it.
type Reference struct {
	TypeName string
	attrs    []Attribute
}

// NewReference returns an empty reference tagged with typeName.
func NewReference(typeName string) *Reference {
	return &Reference{TypeName: typeName}
}

// Add appends an attribute. Order is preserved.
func (r *Reference) Add(name, value string) {
	r.attrs = append(r.attrs, Attribute{Name: name, Value: value})
}

// Get returns the value of the first attribute named name.
func (r *Reference) Get(name string) (string, bool) {
	for _, a := range r.attrs {
		if a.Name == name {
			return a.Value, true
		}
	}
	return "", false
}

// Attributes returns a copy of the attributes in the order they were added.
func (r *Reference) Attributes() []Attribute {
	return append([]Attribute(nil), r.attrs...)
}

// Reference externalizes the scalar configuration of the source as a flat attribute
// list tagged ReferenceTypeName.
//
// description, loginTimeout, password and user are always present, with unset
// strings encoded as a null marker; driver and url are omitted entirely when unset;
// the statement cache settings are always present in strconv form. The connection
// properties map, the log writer and the logger are not externalized.
func (s *DriverSource) Reference() (*Reference, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ref := NewReference(ReferenceTypeName)

	ref.Add(attrDescription, nullable(s.description))
	if s.driverName != nil {
		ref.Add(attrDriver, *s.driverName)
	}
	ref.Add(attrLoginTimeout, strconv.Itoa(s.loginTimeout))
	ref.Add(attrPassword, nullable(s.password))
	ref.Add(attrUser, nullable(s.user))
	if s.url != nil {
		ref.Add(attrURL, *s.url)
	}

	ref.Add(attrPoolPreparedStatements, strconv.FormatBool(s.poolPreparedStatements))
	ref.Add(attrMaxActive, strconv.Itoa(s.maxActive))
	ref.Add(attrMaxIdle, strconv.Itoa(s.maxIdle))
	ref.Add(attrTimeBetweenEvictionRuns, strconv.Itoa(s.timeBetweenEvictionRunsMillis))
	ref.Add(attrNumTestsPerEvictionRun, strconv.Itoa(s.numTestsPerEvictionRun))
	ref.Add(attrMinEvictableIdleTime, strconv.Itoa(s.minEvictableIdleTimeMillis))
	ref.Add(attrMaxPreparedStatements, strconv.Itoa(s.maxPreparedStatements))

	return ref, nil
}

// FromReference rebuilds a DriverSource from a reference produced by Reference.
//
// A nil reference, or one whose TypeName is not ReferenceTypeName, yields (nil, nil):
// the codec silently declines input addressed to some other type. Otherwise every
// present attribute is applied through the normal setter, so a driver attribute
// naming an unregistered driver fails with *DriverNotFoundError and malformed
// numerics fail with a parse error. Absent attributes and null markers leave the
// defaults in place.
func FromReference(ref *Reference) (*DriverSource, error) {
	if ref == nil || ref.TypeName != ReferenceTypeName {
		return nil, nil
	}

	s := NewDriverSource()

	if v, ok := ref.Get(attrDescription); ok && v != nullMarker {
		s.SetDescription(v)
	}
	if v, ok := ref.Get(attrDriver); ok {
		if err := s.SetDriverName(v); err != nil {
			return nil, err
		}
	}
	if v, ok := ref.Get(attrPassword); ok && v != nullMarker {
		if err := s.SetPassword(v); err != nil {
			return nil, err
		}
	}
	if v, ok := ref.Get(attrUser); ok && v != nullMarker {
		if err := s.SetUser(v); err != nil {
			return nil, err
		}
	}
	if v, ok := ref.Get(attrURL); ok {
		if err := s.SetURL(v); err != nil {
			return nil, err
		}
	}
	if v, ok := ref.Get(attrPoolPreparedStatements); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("reference attribute %s: %w", attrPoolPreparedStatements, err)
		}
		if err := s.SetPoolPreparedStatements(b); err != nil {
			return nil, err
		}
	}

	intAttrs := []struct {
		name string
		set  func(int) error
	}{
		{attrLoginTimeout, func(n int) error { s.SetLoginTimeout(n); return nil }},
		{attrMaxActive, s.SetMaxActive},
		{attrMaxIdle, s.SetMaxIdle},
		{attrTimeBetweenEvictionRuns, s.SetTimeBetweenEvictionRunsMillis},
		{attrNumTestsPerEvictionRun, s.SetNumTestsPerEvictionRun},
		{attrMinEvictableIdleTime, s.SetMinEvictableIdleTimeMillis},
		{attrMaxPreparedStatements, s.SetMaxPreparedStatements},
	}
	for _, ia := range intAttrs {
		v, ok := ref.Get(ia.name)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("reference attribute %s: %w", ia.name, err)
		}
		if err := ia.set(n); err != nil {
			return nil, err
		}
	}

	return s, nil
}

func nullable(p *string) string {
	if p == nil {
		return nullMarker
	}
	return *p
}
