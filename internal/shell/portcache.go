package shell

import (
	"math/rand"
	"sync"
)

const (
	minTunnelPort = 1025
	maxTunnelPort = 65535
)

// PortCache hands out one random local port per host config name and keeps
// it for the lifetime of the cache, usually one invocation of the tool.
type PortCache struct {
	mu    sync.Mutex
	ports map[string]int
	rnd   func() int
}

func NewPortCache() *PortCache {
	return &PortCache{
		ports: map[string]int{},
		rnd:   func() int { return minTunnelPort + rand.Intn(maxTunnelPort-minTunnelPort+1) },
	}
}

// Port returns the cached port for configName, allocating one if needed.
func (c *PortCache) Port(configName string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.ports[configName]; ok {
		return p
	}
	p := c.rnd()
	c.ports[configName] = p
	return p
}

// Pin records an explicit port for configName.
func (c *PortCache) Pin(configName string, port int) {
	c.mu.Lock()
	c.ports[configName] = port
	c.mu.Unlock()
}
