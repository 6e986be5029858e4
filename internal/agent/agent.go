package agent

import (
	"context"
	"time"

	"github.com/libp2p/go-libp2p/core/crypto"

	"github.com/trustmesh-net/trustchaind/internal/chain"
	"github.com/trustmesh-net/trustchaind/internal/config"
	"github.com/trustmesh-net/trustchaind/internal/store"
	"github.com/trustmesh-net/trustchaind/internal/wire"
	"github.com/trustmesh-net/trustchaind/pkg/logging"
)

// Transport sends an envelope to a peer address. Implemented by
// internal/node on top of a libp2p stream.
type Transport interface {
	Send(ctx context.Context, address string, env *wire.Envelope) error
}

// Peer is a candidate the scheduler can pick for the next interaction:
// enough to address a message and to check/record it on the ignore list.
type Peer struct {
	Address   string
	PublicKey []byte
}

// PeerSource supplies the scheduler with candidates to try (spec.md
// §4.7's "discovery list"), backed by the DHT/mDNS-fed peerstore or the
// directory client.
type PeerSource interface {
	Peers() []Peer
}

// Agent owns the mutable PROTECT state for one identity. The
// RequestCache and scheduler state are touched only from the single
// goroutine that runs Run, so they need no locks (spec.md §5). The
// BlockStore and ExchangeStorage live in the store, which the
// introspection RPC also reads directly; the store guards itself with
// its own mutex.
type Agent struct {
	identityPub []byte
	selfAddr    string
	factory     *chain.Factory
	store       *store.Store
	cache       *RequestCache
	opts        Options
	cfg         config.AgentConfig
	transport   Transport
	peers       PeerSource
	log         *logging.Logger

	events   chan event
	handlers map[wire.MessageType]handlerFunc
}

type event interface{ isEvent() }

type inboundEvent struct {
	addr string
	env  *wire.Envelope
}

func (inboundEvent) isEvent() {}

type tickEvent struct{}

func (tickEvent) isEvent() {}

type sweepEvent struct{}

func (sweepEvent) isEvent() {}

type queryEvent struct {
	fn func(a *Agent)
}

func (queryEvent) isEvent() {}

type handlerFunc func(a *Agent, ctx context.Context, addr string, env *wire.Envelope)

// New builds an Agent. priv is the identity key used to sign new blocks;
// st is the already-open persistence store; transport sends outbound
// envelopes; peers supplies the scheduler's candidate addresses.
func New(priv crypto.PrivKey, selfAddr string, st *store.Store, transport Transport, peers PeerSource, cfg config.AgentConfig, opts Options, log *logging.Logger) (*Agent, error) {
	factory, err := chain.NewFactory(priv)
	if err != nil {
		return nil, err
	}
	timeout := cfg.StepInterval * time.Duration(cfg.RequestCacheTimeoutMultiplier)

	a := &Agent{
		identityPub: factory.PublicKey(),
		selfAddr:    selfAddr,
		factory:     factory,
		store:       st,
		cache:       NewRequestCache(timeout),
		opts:        opts,
		cfg:         cfg,
		transport:   transport,
		peers:       peers,
		log:         log,
		events:      make(chan event, 256),
	}
	a.handlers = a.buildDispatch()
	return a, nil
}

// PublicKey returns this agent's identity, the "public_key" of spec.md
// §3.
func (a *Agent) PublicKey() []byte {
	return a.identityPub
}

// Inbound enqueues a received envelope for processing by Run. Safe to
// call from any goroutine (e.g. a libp2p stream handler callback); it
// never touches agent state directly.
func (a *Agent) Inbound(addr string, env *wire.Envelope) {
	select {
	case a.events <- inboundEvent{addr: addr, env: env}:
	default:
		a.log.Warn("event queue full, dropping inbound message", "peer", addr, "type", env.Type.String())
	}
}

// Tick enqueues a scheduler tick. Called by the scheduler's ticker
// goroutine; never touches agent state directly.
func (a *Agent) Tick() {
	select {
	case a.events <- tickEvent{}:
	default:
		a.log.Warn("event queue full, dropping scheduler tick")
	}
}

// TriggerSweep enqueues a request-cache sweep. Called by the timeout
// sweeper's ticker goroutine.
func (a *Agent) TriggerSweep() {
	select {
	case a.events <- sweepEvent{}:
	default:
		a.log.Warn("event queue full, dropping sweep trigger")
	}
}

// Query runs fn on the agent's own event-loop goroutine and blocks until
// it returns, giving a caller on another goroutine (the introspection
// RPC server) a safe read of cache/store state without a lock. Returns
// false, without running fn, if the event queue is full.
func (a *Agent) Query(fn func(a *Agent)) bool {
	done := make(chan struct{})
	select {
	case a.events <- queryEvent{fn: func(ag *Agent) { fn(ag); close(done) }}:
	default:
		a.log.Warn("event queue full, dropping query")
		return false
	}
	<-done
	return true
}

// Run drains the event channel until ctx is canceled. This is the single
// goroutine that owns all of the agent's mutable state.
func (a *Agent) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-a.events:
			a.handleEvent(ctx, ev)
		}
	}
}

func (a *Agent) handleEvent(ctx context.Context, ev event) {
	switch e := ev.(type) {
	case inboundEvent:
		a.dispatch(ctx, e.addr, e.env)
	case tickEvent:
		a.step(ctx)
	case sweepEvent:
		a.sweepExpired()
	case queryEvent:
		e.fn(a)
	}
}

func (a *Agent) dispatch(ctx context.Context, addr string, env *wire.Envelope) {
	h, ok := a.handlers[env.Type]
	if !ok {
		a.log.Warn("no handler for message type, dropping", "peer", addr, "type", env.Type.String())
		return
	}
	h(a, ctx, addr, env)
}

func (a *Agent) send(ctx context.Context, addr string, env *wire.Envelope) {
	if err := a.transport.Send(ctx, addr, env); err != nil {
		a.log.Warn("send failed", "peer", addr, "type", env.Type.String(), "error", err)
	}
}

func (a *Agent) reject(ctx context.Context, addr string) {
	a.send(ctx, addr, wire.Reject(a.selfAddr))
}

// rejectAndIgnore sends PROTECT_REJECT and permanently blocks the peer's
// public key (error category 1, spec.md §7).
func (a *Agent) rejectAndIgnore(ctx context.Context, addr string, peerKey []byte, reason string) {
	a.reject(ctx, addr)
	if err := a.store.Ignore(peerKey, reason); err != nil {
		a.log.Error("failed to record ignore-list entry", "peer", addr, "error", err)
	}
	a.cache.Remove(addr)
}

func (a *Agent) sweepExpired() {
	for _, addr := range a.cache.Sweep(time.Now()) {
		a.log.Warn("request cache entry expired", "peer", addr)
	}
}
