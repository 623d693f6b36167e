package agents

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/querypilot/querypilot/internal/llm"
	"github.com/querypilot/querypilot/internal/observability"
)

type ProviderOptions struct {
	Service   Service
	Cache     IDCache
	Completer llm.Completer
	Logger    *slog.Logger
	// Cleanup deletes agents created by this provider on Close.
	Cleanup bool
}

// Provider resolves agent identities, reusing existing remote agents by name.
//
// Two processes starting at the same time may both miss the cache and the
// listing and create an agent with the same name. Later lookups converge on
// whichever id was written to the cache last; the other agent is orphaned.
type Provider struct {
	service   Service
	cache     IDCache
	completer llm.Completer
	logger    *slog.Logger
	cleanup   bool

	mu     sync.Mutex
	agents map[string]*Agent
	group  singleflight.Group
}

func NewProvider(opts ProviderOptions) (*Provider, error) {
	if opts.Service == nil {
		return nil, fmt.Errorf("agent service is required")
	}
	if opts.Completer == nil {
		return nil, fmt.Errorf("completer is required")
	}
	cache := opts.Cache
	if cache == nil {
		cache = NewMemoryIDCache()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{
		service:   opts.Service,
		cache:     cache,
		completer: opts.Completer,
		logger:    logger,
		cleanup:   opts.Cleanup,
		agents:    map[string]*Agent{},
	}, nil
}

// Get returns the agent for def, looking in order at this provider's agents,
// the id cache and the remote listing before creating a new remote agent.
// Concurrent callers share one resolution, which ignores the first caller's
// cancellation.
func (p *Provider) Get(ctx context.Context, def Definition) (*Agent, error) {
	if err := def.validate(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	agent, ok := p.agents[def.Name]
	p.mu.Unlock()
	if ok {
		observability.ObserveAgentLookup("instance")
		return agent, nil
	}

	value, err, _ := p.group.Do(def.Name, func() (any, error) {
		return p.resolve(context.WithoutCancel(ctx), def)
	})
	if err != nil {
		return nil, err
	}
	return value.(*Agent), nil
}

func (p *Provider) resolve(ctx context.Context, def Definition) (*Agent, error) {
	p.mu.Lock()
	if agent, ok := p.agents[def.Name]; ok {
		p.mu.Unlock()
		return agent, nil
	}
	p.mu.Unlock()

	id, ok, err := p.cache.Get(ctx, def.Name)
	if err != nil {
		p.logger.WarnContext(ctx, "agent id cache lookup failed", "agent", def.Name, "error", err)
	}
	if err == nil && ok {
		observability.ObserveAgentLookup("cache")
		return p.remember(def, id, false), nil
	}

	if id, found := p.findRemote(ctx, def.Name); found {
		observability.ObserveAgentLookup("remote")
		p.writeCache(ctx, def.Name, id)
		return p.remember(def, id, false), nil
	}

	created, err := p.service.Create(ctx, def)
	if err != nil {
		return nil, fmt.Errorf("create agent %s: %w", def.Name, err)
	}
	observability.ObserveAgentLookup("created")
	p.logger.InfoContext(ctx, "created agent", "agent", def.Name, "agent_id", created.ID)
	p.writeCache(ctx, def.Name, created.ID)
	return p.remember(def, created.ID, true), nil
}

func (p *Provider) findRemote(ctx context.Context, name string) (string, bool) {
	remote, err := p.service.List(ctx)
	if err != nil {
		observability.ObserveAgentLookup("list_error")
		p.logger.WarnContext(ctx, "listing remote agents failed, creating a new one", "agent", name, "error", err)
		return "", false
	}
	for _, candidate := range remote {
		if candidate.Name == name {
			return candidate.ID, true
		}
	}
	return "", false
}

func (p *Provider) writeCache(ctx context.Context, name, id string) {
	if err := p.cache.Set(ctx, name, id); err != nil {
		p.logger.WarnContext(ctx, "agent id cache write failed", "agent", name, "error", err)
	}
}

func (p *Provider) remember(def Definition, id string, owned bool) *Agent {
	agent := &Agent{
		ID:           id,
		Name:         def.Name,
		Instructions: def.Instructions,
		Owned:        owned,
		completer:    p.completer,
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if existing, ok := p.agents[def.Name]; ok {
		return existing
	}
	p.agents[def.Name] = agent
	return agent
}

// Close deletes owned agents when cleanup is enabled and forgets all agents.
func (p *Provider) Close(ctx context.Context) error {
	p.mu.Lock()
	agents := p.agents
	p.agents = map[string]*Agent{}
	p.mu.Unlock()
	if !p.cleanup {
		return nil
	}

	var firstErr error
	for name, agent := range agents {
		if !agent.Owned {
			continue
		}
		if err := p.service.Delete(ctx, agent.ID); err != nil {
			p.logger.WarnContext(ctx, "delete agent failed", "agent", name, "agent_id", agent.ID, "error", err)
			if firstErr == nil {
				firstErr = fmt.Errorf("delete agent %s: %w", name, err)
			}
			continue
		}
		if err := p.cache.Delete(ctx, name); err != nil {
			p.logger.WarnContext(ctx, "agent id cache delete failed", "agent", name, "error", err)
		}
	}
	return firstErr
}
