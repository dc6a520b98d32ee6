package export

import (
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"mesh-rpc/config"
	"mesh-rpc/endpoint"
	"mesh-rpc/logger"
	"mesh-rpc/netutil"
	"mesh-rpc/transport"
)

// Environment keys controlling bind and advertised addresses, each looked up
// first with the uppercased protocol name as prefix ("DUBBO_" for dubbo) and
// then bare.
const (
	EnvIPToBind       = "DUBBO_IP_TO_BIND"
	EnvIPToRegistry   = "DUBBO_IP_TO_REGISTRY"
	EnvPortToBind     = "DUBBO_PORT_TO_BIND"
	EnvPortToRegistry = "DUBBO_PORT_TO_REGISTRY"
)

const probeTimeout = time.Second

// test seams; production uses the real network
var (
	localHostFn = netutil.LocalHost
	dialTimeout = net.DialTimeout
)

// envValue looks key up with the protocol prefix, falling back to the bare
// key.
func envValue(protocol, key string) string {
	if v := strings.TrimSpace(os.Getenv(strings.ToUpper(protocol) + "_" + key)); v != "" {
		return v
	}
	return strings.TrimSpace(os.Getenv(key))
}

// findConfiguredHost resolves the advertised host for one protocol export
// and records bind.ip and anyhost in params.
//
// Bind priority: environment, protocol config, provider config, local
// interface lookup, registry socket probe, local-host fallback. The
// advertised host is its own environment override, else the bind host.
func (s *Service) findConfiguredHost(pc *config.ProtocolConfig, name string, registryURLs []endpoint.Descriptor, params map[string]string) (string, error) {
	anyhost := false

	hostToBind := envValue(name, EnvIPToBind)
	if hostToBind != "" && netutil.IsInvalidLocalHost(hostToBind) {
		return "", config.Errorf("invalid bind host %q from environment", hostToBind)
	}

	if hostToBind == "" {
		hostToBind = pc.Host
		if hostToBind == "" && s.Provider != nil {
			hostToBind = s.Provider.Host
		}
		if netutil.IsInvalidLocalHost(hostToBind) {
			anyhost = true
			hostToBind = localHostFn()
			if netutil.IsInvalidLocalHost(hostToBind) {
				hostToBind = probeRegistries(registryURLs, hostToBind)
				if netutil.IsInvalidLocalHost(hostToBind) {
					hostToBind = localHostFn()
				}
			}
		}
	}
	params[endpoint.BindIPKey] = hostToBind

	hostToRegistry := envValue(name, EnvIPToRegistry)
	if hostToRegistry != "" && netutil.IsInvalidLocalHost(hostToRegistry) {
		return "", config.Errorf("invalid registry host %q from environment", hostToRegistry)
	}
	if hostToRegistry == "" {
		hostToRegistry = hostToBind
	}
	params[endpoint.AnyHostKey] = strconv.FormatBool(anyhost)

	return hostToRegistry, nil
}

// probeRegistries connects to each non-multicast registry with a bounded
// timeout and reads the local address of the first successful connection.
// Failures only warn; the current host is kept when nothing connects.
func probeRegistries(registryURLs []endpoint.Descriptor, current string) string {
	for _, reg := range registryURLs {
		if strings.EqualFold(reg.Parameter(endpoint.RegistryKey, ""), "multicast") {
			continue
		}
		conn, err := dialTimeout("tcp", reg.Address(), probeTimeout)
		if err != nil {
			logger.L().Warn("registry probe failed",
				logger.String("registry", reg.Address()), logger.Error(err))
			continue
		}
		host := netutil.HostOnly(conn.LocalAddr().String())
		conn.Close()
		return host
	}
	return current
}

// findConfiguredPort resolves the advertised port for one protocol export
// and records bind.port in params.
//
// Bind priority: environment, protocol config, provider config, transport
// default, the per-protocol random-port cache, a fresh free port (which is
// then cached). The advertised port is its own environment override, else
// the bind port.
func (s *Service) findConfiguredPort(pc *config.ProtocolConfig, name string, tr transport.Transport, params map[string]string) (uint16, error) {
	portToBind, err := parsePort(envValue(name, EnvPortToBind))
	if err != nil {
		return 0, err
	}

	if portToBind == 0 {
		portToBind = pc.Port
		if portToBind == 0 && s.Provider != nil {
			portToBind = s.Provider.Port
		}
		if portToBind < 0 || portToBind > netutil.MaxPort {
			return 0, config.Errorf("invalid port %d for protocol %s", portToBind, name)
		}
		defaultPort := int(tr.DefaultPort())
		if portToBind == 0 {
			portToBind = defaultPort
		}
		if portToBind <= 0 {
			cached, ok := randomPort(name)
			if !ok {
				cached = netutil.AvailablePort(defaultPort)
				recordRandomPort(name, cached)
			}
			portToBind = cached
		}
	}
	params[endpoint.BindPortKey] = strconv.Itoa(portToBind)

	portToRegistry, err := parsePort(envValue(name, EnvPortToRegistry))
	if err != nil {
		return 0, err
	}
	if portToRegistry == 0 {
		portToRegistry = portToBind
	}
	return uint16(portToRegistry), nil
}

// parsePort validates an explicitly configured port string. Empty means
// unset; anything else must be a number in [1, 65535].
func parsePort(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	port, err := strconv.Atoi(raw)
	if err != nil || !netutil.IsValidPort(port) {
		return 0, config.Errorf("invalid port %q from environment", raw)
	}
	return port, nil
}
