package agents

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// LocalService keeps agents in memory. It stands in for a hosted agent service
// when completions go straight to an LLM endpoint.
type LocalService struct {
	mu     sync.Mutex
	agents map[string]RemoteAgent
}

func NewLocalService() *LocalService {
	return &LocalService{agents: map[string]RemoteAgent{}}
}

func (s *LocalService) List(context.Context) ([]RemoteAgent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]RemoteAgent, 0, len(s.agents))
	for _, agent := range s.agents {
		out = append(out, agent)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *LocalService) Create(_ context.Context, def Definition) (RemoteAgent, error) {
	agent := RemoteAgent{ID: "agent_" + uuid.NewString(), Name: def.Name}
	s.mu.Lock()
	s.agents[agent.ID] = agent
	s.mu.Unlock()
	return agent, nil
}

func (s *LocalService) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.agents[id]; !ok {
		return ErrNotFound
	}
	delete(s.agents, id)
	return nil
}
