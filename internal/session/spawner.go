package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"ratchet/internal/logging"
	"ratchet/internal/task"
	"ratchet/internal/types"
)

// ErrUnknownAgent is returned when an agent id is not registered.
var ErrUnknownAgent = errors.New("unknown agent")

// SpawnerConfig configures the subagent scheduler.
type SpawnerConfig struct {
	// MaxActive bounds concurrent running children; spawns beyond it queue
	// until a slot frees, in FIFO order.
	MaxActive int

	// DefaultMaxIterations applies when a spec leaves its bound zero.
	DefaultMaxIterations int

	// SpawnTimeout bounds each child's wall-clock run.
	SpawnTimeout time.Duration

	// Mode is the workflow enforcement mode child gates run under.
	Mode task.Mode
}

// DefaultSpawnerConfig returns the scheduler defaults.
func DefaultSpawnerConfig() SpawnerConfig {
	return SpawnerConfig{
		MaxActive:            3,
		DefaultMaxIterations: 10,
		SpawnTimeout:         10 * time.Minute,
	}
}

// QueueStatus is a point-in-time census of the scheduler.
type QueueStatus struct {
	Queued    int `json:"queued"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
	MaxActive int `json:"max_active"`
}

// Spawner is the bounded-concurrency subagent scheduler. Spawn enqueues
// without blocking; admission beyond MaxActive waits on a FIFO semaphore.
// Children are independent loop instances and never share mutable state
// with the parent or each other.
type Spawner struct {
	mu       sync.RWMutex
	client   types.LLMClient
	registry types.ToolRegistry
	cfg      SpawnerConfig
	agents   map[string]*SubAgent
	order    []string
	sem      *semaphore.Weighted
}

// NewSpawner creates a scheduler over the shared LLM client and registry.
func NewSpawner(client types.LLMClient, registry types.ToolRegistry, cfg SpawnerConfig) *Spawner {
	if cfg.MaxActive < 1 {
		cfg.MaxActive = 1
	}
	if cfg.DefaultMaxIterations < 1 {
		cfg.DefaultMaxIterations = DefaultSpawnerConfig().DefaultMaxIterations
	}
	if cfg.SpawnTimeout <= 0 {
		cfg.SpawnTimeout = DefaultSpawnerConfig().SpawnTimeout
	}
	logging.Agent("Spawner created (max_active=%d, default_iters=%d)", cfg.MaxActive, cfg.DefaultMaxIterations)
	return &Spawner{
		client:   client,
		registry: registry,
		cfg:      cfg,
		agents:   make(map[string]*SubAgent),
		sem:      semaphore.NewWeighted(int64(cfg.MaxActive)),
	}
}

// Spawn enqueues a child and returns its id immediately. The child starts
// running as soon as an admission slot frees.
func (s *Spawner) Spawn(spec SubAgentSpec) (string, error) {
	if spec.Task == "" {
		return "", fmt.Errorf("subagent task is required")
	}
	if spec.Name == "" {
		spec.Name = "agent"
	}
	if spec.MaxIterations <= 0 {
		spec.MaxIterations = s.cfg.DefaultMaxIterations
	}
	if spec.Timeout <= 0 {
		spec.Timeout = s.cfg.SpawnTimeout
	}

	agent := &SubAgent{
		id:   fmt.Sprintf("%s_%s", spec.Name, uuid.New().String()[:8]),
		spec: spec,
		done: make(chan struct{}),
	}

	runCtx, cancel := context.WithTimeout(context.Background(), spec.Timeout)
	agent.mu.Lock()
	agent.cancel = cancel
	agent.mu.Unlock()

	s.mu.Lock()
	s.agents[agent.id] = agent
	s.order = append(s.order, agent.id)
	s.mu.Unlock()

	logging.Agent("Spawned %s (tools=%d, max_iters=%d)", agent.id, len(spec.AllowedTools), spec.MaxIterations)
	logging.Audit().Log(logging.AuditEvent{
		EventType: logging.AuditAgentSpawn,
		Target:    agent.id,
		Success:   true,
		Message:   truncate(spec.Task, 200),
	})

	go func() {
		defer cancel()
		// FIFO admission: waiters are served in arrival order.
		if err := s.sem.Acquire(runCtx, 1); err != nil {
			agent.finish(SubAgentCancelled, SubAgentResult{
				AgentID: agent.id,
				Name:    spec.Name,
				Error:   "cancelled while queued: " + err.Error(),
			})
			close(agent.done)
			return
		}
		defer s.sem.Release(1)
		agent.run(runCtx, s.client, s.registry, s.cfg.Mode)
	}()

	return agent.id, nil
}

// WaitAll blocks until every requested id resolves and returns exactly one
// result per id. It never fails: unknown ids and child failures are
// captured inside their entries, and a cancelled wait fills the remaining
// slots with cancellation results.
func (s *Spawner) WaitAll(ctx context.Context, ids []string) map[string]SubAgentResult {
	results := make(map[string]SubAgentResult, len(ids))
	for _, id := range ids {
		if _, seen := results[id]; seen {
			continue
		}
		s.mu.RLock()
		agent, ok := s.agents[id]
		s.mu.RUnlock()
		if !ok {
			results[id] = SubAgentResult{
				AgentID: id,
				Error:   ErrUnknownAgent.Error(),
			}
			continue
		}
		res, _ := agent.wait(ctx)
		results[id] = res
	}
	logging.Agent("WaitAll joined %d agent(s)", len(results))
	return results
}

// Get looks up an agent by id.
func (s *Spawner) Get(id string) (*SubAgent, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	agent, ok := s.agents[id]
	return agent, ok
}

// List returns all agents in spawn order.
func (s *Spawner) List() []*SubAgent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*SubAgent, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.agents[id])
	}
	return out
}

// QueueStatus returns a census of agent states.
func (s *Spawner) QueueStatus() QueueStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status := QueueStatus{MaxActive: s.cfg.MaxActive}
	for _, agent := range s.agents {
		switch agent.State() {
		case SubAgentQueued:
			status.Queued++
		case SubAgentRunning:
			status.Running++
		case SubAgentCompleted:
			status.Completed++
		case SubAgentFailed:
			status.Failed++
		case SubAgentCancelled:
			status.Cancelled++
		}
	}
	return status
}

// StopAll cancels every non-terminal agent.
func (s *Spawner) StopAll() {
	for _, agent := range s.List() {
		if !agent.State().Terminal() {
			agent.Stop()
		}
	}
}

// Cleanup drops terminal agents from tracking and returns how many were
// removed. Spawn order is preserved for the survivors.
func (s *Spawner) Cleanup() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	kept := s.order[:0]
	for _, id := range s.order {
		if s.agents[id].State().Terminal() {
			delete(s.agents, id)
			removed++
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept
	if removed > 0 {
		logging.AgentDebug("Cleaned up %d terminal agent(s)", removed)
	}
	return removed
}

// Results returns terminal agents' results sorted by agent id, for
// deterministic reporting.
func (s *Spawner) Results() []SubAgentResult {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []SubAgentResult
	for _, agent := range s.agents {
		if agent.State().Terminal() {
			out = append(out, agent.Result())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out
}
