package config

import (
	"strconv"
	"strings"

	"mesh-rpc/endpoint"
)

// RegistryConfig describes one discovery registry the provider registers
// with. Address may be "host:port", "proto://host:port", or a comma-joined
// cluster list whose first entry names the primary.
type RegistryConfig struct {
	Protocol string        `yaml:"protocol"`
	Address  string        `yaml:"address"`
	Username string        `yaml:"username"`
	Password string        `yaml:"password"`
	Timeout  Duration      `yaml:"timeout"`
	Dynamic  *bool         `yaml:"dynamic"`
	Register *bool         `yaml:"register"`

	Parameters map[string]string `yaml:"parameters"`
}

// RegistryServicePath is the fixed path of registry descriptors.
const RegistryServicePath = "RegistryService"

// ToDescriptor renders the registry:// descriptor the export pipeline hands
// to the registry transport. The concrete registry protocol travels in the
// "registry" parameter.
func (c *RegistryConfig) ToDescriptor() (endpoint.Descriptor, error) {
	address := strings.TrimSpace(c.Address)
	if address == "" {
		return endpoint.Descriptor{}, Errorf("registry address is required")
	}
	proto := c.Protocol
	if i := strings.Index(address, "://"); i >= 0 {
		if proto == "" {
			proto = address[:i]
		}
		address = address[i+3:]
	}
	if proto == "" {
		proto = "etcd"
	}
	// a cluster list registers against its first member
	if i := strings.IndexByte(address, ','); i >= 0 {
		address = address[:i]
	}

	host := address
	port := 0
	if h, p, ok := splitHostPort(address); ok {
		host, port = h, p
	}

	d := endpoint.New("registry", host, uint16(port), RegistryServicePath).
		WithParameter(endpoint.RegistryKey, strings.ToLower(proto))
	if c.Username != "" {
		d = d.WithParameter("username", c.Username)
	}
	if c.Timeout > 0 {
		d = d.WithParameter("timeout", strconv.FormatInt(c.Timeout.Milliseconds(), 10))
	}
	if c.Dynamic != nil {
		d = d.WithParameter(endpoint.DynamicKey, strconv.FormatBool(*c.Dynamic))
	}
	if c.Register != nil {
		d = d.WithParameter(endpoint.RegisterKey, strconv.FormatBool(*c.Register))
	}
	d = d.WithParameters(c.Parameters)
	return d, nil
}

// MonitorConfig locates the monitor endpoint attached to exported
// descriptors as the encoded "monitor" parameter.
type MonitorConfig struct {
	Protocol string `yaml:"protocol"`
	Address  string `yaml:"address"`

	Parameters map[string]string `yaml:"parameters"`
}

// ToDescriptor renders the monitor descriptor.
func (c *MonitorConfig) ToDescriptor() (endpoint.Descriptor, error) {
	address := strings.TrimSpace(c.Address)
	if address == "" {
		return endpoint.Descriptor{}, Errorf("monitor address is required")
	}
	proto := c.Protocol
	if i := strings.Index(address, "://"); i >= 0 {
		if proto == "" {
			proto = address[:i]
		}
		address = address[i+3:]
	}
	if proto == "" {
		proto = "dubbo"
	}
	host := address
	port := 0
	if h, p, ok := splitHostPort(address); ok {
		host, port = h, p
	}
	d := endpoint.New(proto, host, uint16(port), "MonitorService").
		WithParameters(c.Parameters)
	return d, nil
}

func splitHostPort(s string) (string, int, bool) {
	i := strings.LastIndexByte(s, ':')
	if i < 0 {
		return "", 0, false
	}
	port, err := strconv.Atoi(s[i+1:])
	if err != nil || port < 0 || port > 65535 {
		return "", 0, false
	}
	return s[:i], port, true
}
