package export

import (
	"strings"
	"sync"

	"mesh-rpc/logger"
)

// randomPorts caches the randomly allocated port per protocol for the
// lifetime of the process, so repeated exports of the same protocol reuse
// one port instead of drifting. Only the first recorded port per protocol
// sticks; concurrent first-callers that lose the race keep serving on the
// port they bound, and the cache stays with the winner.
var randomPorts sync.Map // protocol -> int

// randomPort returns the cached port for protocol, if one was recorded.
func randomPort(protocol string) (int, bool) {
	v, ok := randomPorts.Load(strings.ToLower(protocol))
	if !ok {
		return 0, false
	}
	return v.(int), true
}

// recordRandomPort caches port for protocol. First write wins.
func recordRandomPort(protocol string, port int) {
	if _, loaded := randomPorts.LoadOrStore(strings.ToLower(protocol), port); !loaded {
		logger.L().Warn("using random available port",
			logger.String("protocol", protocol),
			logger.Int("port", port))
	}
}
