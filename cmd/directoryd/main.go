// Package main provides directoryd - a reference JSON-RPC directory server
// that trust-chain agents can register with to find one another.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/trustmesh-net/trustchaind/internal/rpc"
	"github.com/trustmesh-net/trustchaind/internal/wire"
	"github.com/trustmesh-net/trustchaind/pkg/helpers"
	"github.com/trustmesh-net/trustchaind/pkg/logging"
)

func main() {
	var (
		addr     = flag.String("addr", "0.0.0.0:8099", "Listen address")
		logLevel = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	)
	flag.Parse()

	log := logging.New(&logging.Config{Level: *logLevel, TimeFormat: time.TimeOnly})
	logging.SetDefault(log)

	reg := newRegistry()
	s := rpc.NewServer(log.Component("rpc"))
	s.Register("register", reg.register)
	s.Register("unregister", reg.unregister)
	s.Register("agents", reg.list)

	if err := s.Start(*addr); err != nil {
		log.Fatal("Failed to start directory server", "error", err)
	}
	log.Info("Directory listening", "addr", *addr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info("Shutting down...")

	if err := s.Stop(); err != nil {
		log.Error("Error stopping directory server", "error", err)
	}
}

// registry is the in-memory agent list: a registration is never evicted
// except by an explicit unregister call. Liveness is the registering
// agent's responsibility, not this registry's.
type registry struct {
	mu     sync.RWMutex
	agents map[string]wire.AgentInfo
}

func newRegistry() *registry {
	return &registry{agents: make(map[string]wire.AgentInfo)}
}

type agentParams struct {
	Agent wire.AgentInfo `json:"agent"`
}

func (r *registry) register(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p agentParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	if len(p.Agent.PublicKey) == 0 {
		return nil, fmt.Errorf("agent.public_key is required")
	}

	r.mu.Lock()
	r.agents[helpers.BytesToHex(p.Agent.PublicKey)] = p.Agent
	r.mu.Unlock()

	return map[string]bool{"ok": true}, nil
}

func (r *registry) unregister(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p agentParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}

	r.mu.Lock()
	delete(r.agents, helpers.BytesToHex(p.Agent.PublicKey))
	r.mu.Unlock()

	return map[string]bool{"ok": true}, nil
}

func (r *registry) list(ctx context.Context, params json.RawMessage) (interface{}, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]wire.AgentInfo, 0, len(r.agents))
	for _, info := range r.agents {
		out = append(out, info)
	}
	return struct {
		Agents []wire.AgentInfo `json:"agents"`
	}{Agents: out}, nil
}
