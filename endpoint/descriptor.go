// Package endpoint defines the URI-shaped descriptor that identifies a
// service instance: protocol, address, service path, and a parameter map.
//
// Descriptors are immutable values. Every With* method returns a copy, so a
// descriptor can be shared between goroutines and re-wrapped per registry
// without defensive copying at the call sites. The canonical string form
// round-trips: Parse(d.String()) equals d.
package endpoint

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// Well-known parameter keys carried on exported descriptors.
const (
	SideKey      = "side"
	ProviderSide = "provider"

	AnyHostKey  = "anyhost"
	BindIPKey   = "bind.ip"
	BindPortKey = "bind.port"
	MethodsKey  = "methods"
	RevisionKey = "revision"
	TokenKey    = "token"
	DynamicKey  = "dynamic"
	MonitorKey  = "monitor"
	ScopeKey    = "scope"
	ExportKey   = "export"
	GenericKey  = "generic"
	GroupKey    = "group"
	VersionKey  = "version"
	WeightKey   = "weight"
	ProxyKey    = "proxy"
	RegistryKey = "registry"
	RegisterKey = "register"
	NotifyKey   = "notify"

	// AnyValue is the wildcard parameter value ("*"), used for the method
	// list of generic services.
	AnyValue = "*"

	ScopeLocal  = "local"
	ScopeRemote = "remote"
	ScopeNone   = "none"
)

// ParseError reports a malformed descriptor string.
type ParseError struct {
	Input  string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("endpoint: cannot parse %q: %s", e.Input, e.Reason)
}

// Descriptor is an immutable endpoint identity. The zero value is empty and
// unusable; build one with New or Parse.
type Descriptor struct {
	protocol string
	username string
	password string
	host     string
	port     uint16
	path     string
	keys     []string // parameter keys in first-insertion order
	params   map[string]string
}

// New builds a descriptor without parameters.
func New(protocol, host string, port uint16, path string) Descriptor {
	return Descriptor{
		protocol: strings.ToLower(protocol),
		host:     host,
		port:     port,
		path:     strings.TrimPrefix(path, "/"),
	}
}

// NewWithParams builds a descriptor with the given parameters, inserted in
// sorted key order so the string form is deterministic.
func NewWithParams(protocol, host string, port uint16, path string, params map[string]string) Descriptor {
	d := New(protocol, host, port, path)
	if len(params) == 0 {
		return d
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	d.keys = keys
	d.params = make(map[string]string, len(params))
	for k, v := range params {
		d.params[k] = v
	}
	return d
}

// Parse accepts protocol://[user[:pass]@]host[:port]/path?k=v&k=v. Duplicate
// query keys keep the first occurrence's position and the last occurrence's
// value. Keys are taken verbatim; values are percent-decoded.
func Parse(s string) (Descriptor, error) {
	u, err := url.Parse(s)
	if err != nil {
		return Descriptor{}, &ParseError{Input: s, Reason: err.Error()}
	}
	if u.Scheme == "" {
		return Descriptor{}, &ParseError{Input: s, Reason: "missing protocol"}
	}
	if u.Host == "" && u.Opaque != "" {
		return Descriptor{}, &ParseError{Input: s, Reason: "missing authority"}
	}

	d := Descriptor{
		protocol: strings.ToLower(u.Scheme),
		host:     u.Hostname(),
		path:     strings.TrimPrefix(u.Path, "/"),
	}
	if u.User != nil {
		d.username = u.User.Username()
		d.password, _ = u.User.Password()
	}
	if portStr := u.Port(); portStr != "" {
		port, err := strconv.Atoi(portStr)
		if err != nil || port < 0 || port > 65535 {
			return Descriptor{}, &ParseError{Input: s, Reason: "invalid port " + portStr}
		}
		d.port = uint16(port)
	}

	if u.RawQuery != "" {
		for _, pair := range strings.Split(u.RawQuery, "&") {
			if pair == "" {
				continue
			}
			key, rawVal, _ := strings.Cut(pair, "=")
			val, err := url.QueryUnescape(rawVal)
			if err != nil {
				return Descriptor{}, &ParseError{Input: s, Reason: "bad escape in value of " + key}
			}
			d = d.setParam(key, val)
		}
	}
	return d, nil
}

// MustParse is Parse for statically known inputs; it panics on error.
func MustParse(s string) Descriptor {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

func (d Descriptor) Protocol() string { return d.protocol }
func (d Descriptor) Username() string { return d.username }
func (d Descriptor) Host() string     { return d.host }
func (d Descriptor) Port() uint16     { return d.port }
func (d Descriptor) Path() string     { return d.path }

// Address returns "host:port".
func (d Descriptor) Address() string {
	return d.host + ":" + strconv.Itoa(int(d.port))
}

// ServiceKey identifies the service for registry and balancer purposes:
// [group/]path[:version].
func (d Descriptor) ServiceKey() string {
	var b strings.Builder
	if g := d.Parameter(GroupKey, ""); g != "" {
		b.WriteString(g)
		b.WriteString("/")
	}
	b.WriteString(d.path)
	if v := d.Parameter(VersionKey, ""); v != "" {
		b.WriteString(":")
		b.WriteString(v)
	}
	return b.String()
}

// Parameter returns the value for key, or def when absent.
func (d Descriptor) Parameter(key, def string) string {
	if v, ok := d.params[key]; ok && v != "" {
		return v
	}
	return def
}

// HasParameter reports whether key is present with a non-empty value.
func (d Descriptor) HasParameter(key string) bool {
	v, ok := d.params[key]
	return ok && v != ""
}

// ParameterAsInt returns the integer value for key, or def when absent or
// unparseable.
func (d Descriptor) ParameterAsInt(key string, def int) int {
	v, ok := d.params[key]
	if !ok || v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// ParameterAsBool returns the boolean value for key; true/1/yes are truthy,
// case-insensitively. Anything else is false. def applies when absent.
func (d Descriptor) ParameterAsBool(key string, def bool) bool {
	v, ok := d.params[key]
	if !ok || v == "" {
		return def
	}
	switch strings.ToLower(v) {
	case "true", "1", "yes":
		return true
	default:
		return false
	}
}

// Parameters returns a copy of the parameter map.
func (d Descriptor) Parameters() map[string]string {
	out := make(map[string]string, len(d.params))
	for k, v := range d.params {
		out[k] = v
	}
	return out
}

// WithParameter returns a copy with key set to value.
func (d Descriptor) WithParameter(key, value string) Descriptor {
	return d.setParam(key, value)
}

// WithParameterIfAbsent returns a copy with key set to value, unless key is
// already present with a non-empty value.
func (d Descriptor) WithParameterIfAbsent(key, value string) Descriptor {
	if value == "" || d.HasParameter(key) {
		return d
	}
	return d.setParam(key, value)
}

// WithEncodedParameter percent-encodes raw and sets it as key's value. The
// stored value is the encoded form; retrieve the original with
// DecodedParameter.
func (d Descriptor) WithEncodedParameter(key, raw string) Descriptor {
	return d.setParam(key, url.QueryEscape(raw))
}

// DecodedParameter returns the percent-decoded value for key.
func (d Descriptor) DecodedParameter(key string) (string, error) {
	return url.QueryUnescape(d.Parameter(key, ""))
}

// WithParameters returns a copy with every entry of params set, in sorted key
// order for determinism.
func (d Descriptor) WithParameters(params map[string]string) Descriptor {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		d = d.setParam(k, params[k])
	}
	return d
}

// WithoutParameter returns a copy with key removed.
func (d Descriptor) WithoutParameter(key string) Descriptor {
	if _, ok := d.params[key]; !ok {
		return d
	}
	keys := make([]string, 0, len(d.keys)-1)
	for _, k := range d.keys {
		if k != key {
			keys = append(keys, k)
		}
	}
	params := make(map[string]string, len(d.params)-1)
	for k, v := range d.params {
		if k != key {
			params[k] = v
		}
	}
	d.keys, d.params = keys, params
	return d
}

// WithProtocol returns a copy using protocol.
func (d Descriptor) WithProtocol(protocol string) Descriptor {
	d.protocol = strings.ToLower(protocol)
	return d
}

// WithHost returns a copy using host.
func (d Descriptor) WithHost(host string) Descriptor {
	d.host = host
	return d
}

// WithPort returns a copy using port.
func (d Descriptor) WithPort(port uint16) Descriptor {
	d.port = port
	return d
}

// WithPath returns a copy using path.
func (d Descriptor) WithPath(path string) Descriptor {
	d.path = strings.TrimPrefix(path, "/")
	return d
}

// setParam is the one mutation point; it copies the key slice and map so the
// receiver stays untouched.
func (d Descriptor) setParam(key, value string) Descriptor {
	_, exists := d.params[key]
	keys := d.keys
	if !exists {
		keys = append(append(make([]string, 0, len(d.keys)+1), d.keys...), key)
	}
	params := make(map[string]string, len(d.params)+1)
	for k, v := range d.params {
		params[k] = v
	}
	params[key] = value
	d.keys, d.params = keys, params
	return d
}

// String renders the canonical full form:
// protocol://[user[:pass]@]host:port/path?k=v&k=v with parameters in
// insertion order. Values with query-significant characters are
// percent-encoded.
func (d Descriptor) String() string {
	var b strings.Builder
	b.WriteString(d.protocol)
	b.WriteString("://")
	if d.username != "" {
		b.WriteString(d.username)
		if d.password != "" {
			b.WriteString(":")
			b.WriteString(d.password)
		}
		b.WriteString("@")
	}
	if d.host != "" {
		b.WriteString(d.host)
		b.WriteString(":")
		b.WriteString(strconv.Itoa(int(d.port)))
	}
	b.WriteString("/")
	b.WriteString(d.path)
	for i, k := range d.keys {
		if i == 0 {
			b.WriteString("?")
		} else {
			b.WriteString("&")
		}
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(encodeValue(d.params[k]))
	}
	return b.String()
}

// Equal reports whether the two descriptors are identical: same identity and
// the same parameter set, regardless of insertion order.
func (d Descriptor) Equal(o Descriptor) bool {
	if d.protocol != o.protocol || d.username != o.username || d.password != o.password ||
		d.host != o.host || d.port != o.port || d.path != o.path {
		return false
	}
	if len(d.params) != len(o.params) {
		return false
	}
	for k, v := range d.params {
		if ov, ok := o.params[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

// encodeValue escapes only the characters that would corrupt the query
// string; already-encoded values (from WithEncodedParameter) pass through
// QueryEscape's %-escaping untouched on decode because '%' is re-escaped and
// decoded exactly once by Parse.
func encodeValue(v string) string {
	if !strings.ContainsAny(v, "&=%?+ \t") {
		return v
	}
	return url.QueryEscape(v)
}
