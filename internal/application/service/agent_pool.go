package service

import (
	"fmt"
	"sync"
)

// DefaultAgentSlots applies to agents without a configured limit
const DefaultAgentSlots = 1

// AgentPool caps how many executions each agent runs at once
type AgentPool struct {
	limits  map[string]int // agent name -> slots
	current map[string]int
	mu      sync.Mutex
}

// NewAgentPool creates a pool; agents missing from limits get DefaultAgentSlots
func NewAgentPool(limits map[string]int) *AgentPool {
	pool := &AgentPool{
		limits:  make(map[string]int, len(limits)),
		current: make(map[string]int),
	}
	for agent, n := range limits {
		if n >= 1 {
			pool.limits[agent] = n
		}
	}
	return pool
}

// TryAcquire takes a slot for the agent, reporting false when all are busy
func (p *AgentPool) TryAcquire(agent string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.current[agent] >= p.limitLocked(agent) {
		return false
	}
	p.current[agent]++
	return true
}

// Release returns a slot taken by TryAcquire
func (p *AgentPool) Release(agent string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.current[agent] > 0 {
		p.current[agent]--
	}
}

// SetLimit changes the slot count of an agent
func (p *AgentPool) SetLimit(agent string, n int) error {
	if n < 1 {
		return fmt.Errorf("agent slots must be >= 1, got: %d", n)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.limits[agent] = n
	return nil
}

// Usage reports active and maximum slots for an agent
func (p *AgentPool) Usage(agent string) AgentUsage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return AgentUsage{Agent: agent, Active: p.current[agent], Max: p.limitLocked(agent)}
}

func (p *AgentPool) limitLocked(agent string) int {
	if n, ok := p.limits[agent]; ok {
		return n
	}
	return DefaultAgentSlots
}

// AgentUsage is a point-in-time view of one agent's slots
type AgentUsage struct {
	Agent  string
	Active int
	Max    int
}

// Available reports whether a slot is free
func (u AgentUsage) Available() bool {
	return u.Active < u.Max
}

// UtilizationPercent returns the utilization percentage (0-100)
func (u AgentUsage) UtilizationPercent() float64 {
	if u.Max == 0 {
		return 0
	}
	return float64(u.Active) / float64(u.Max) * 100
}
