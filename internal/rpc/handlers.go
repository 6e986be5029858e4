package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/trustmesh-net/trustchaind/internal/agent"
	"github.com/trustmesh-net/trustchaind/internal/index"
	"github.com/trustmesh-net/trustchaind/internal/store"
	"github.com/trustmesh-net/trustchaind/internal/wire"
	"github.com/trustmesh-net/trustchaind/pkg/helpers"
)

// Introspection wires the six read-only methods of SPEC_FULL.md §4.13
// onto s: agent_info, chain_get, index_get, ignore_list,
// request_cache_list, store_stats.
type Introspection struct {
	agent *agent.Agent
	store *store.Store
}

// NewIntrospection builds an Introspection bound to ag/st and registers
// its methods on s.
func NewIntrospection(s *Server, ag *agent.Agent, st *store.Store) *Introspection {
	in := &Introspection{agent: ag, store: st}
	s.Register("agent_info", in.agentInfo)
	s.Register("chain_get", in.chainGet)
	s.Register("index_get", in.indexGet)
	s.Register("ignore_list", in.ignoreList)
	s.Register("request_cache_list", in.requestCacheList)
	s.Register("store_stats", in.storeStats)
	return in
}

type pkParams struct {
	PublicKey string `json:"public_key"`
}

func decodePK(params json.RawMessage) ([]byte, error) {
	var p pkParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	pk, err := helpers.HexToBytes(p.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("invalid public_key: %w", err)
	}
	return pk, nil
}

func (in *Introspection) agentInfo(ctx context.Context, params json.RawMessage) (interface{}, error) {
	return wire.AgentInfo{
		PublicKey: in.agent.PublicKey(),
		Address:   in.agent.SelfAddress(),
		Type:      "trustchain",
	}, nil
}

func (in *Introspection) chainGet(ctx context.Context, params json.RawMessage) (interface{}, error) {
	pk, err := decodePK(params)
	if err != nil {
		return nil, err
	}
	blocks, err := in.store.GetChain(pk)
	if err != nil {
		return nil, err
	}
	wireBlocks, err := wire.BlocksToWire(blocks)
	if err != nil {
		return nil, err
	}
	return struct {
		Chain []wire.Block `json:"chain"`
	}{Chain: wireBlocks}, nil
}

func (in *Introspection) indexGet(ctx context.Context, params json.RawMessage) (interface{}, error) {
	pk, err := decodePK(params)
	if err != nil {
		return nil, err
	}
	blocks, err := in.store.GetChain(pk)
	if err != nil {
		return nil, err
	}
	chainBlocks := make([]index.ChainBlock, len(blocks))
	for i, b := range blocks {
		chainBlocks[i] = b
	}
	idx := index.FromChain(chainBlocks)
	return wire.IndexToWire(idx), nil
}

func (in *Introspection) ignoreList(ctx context.Context, params json.RawMessage) (interface{}, error) {
	keys, err := in.store.IgnoredKeys()
	if err != nil {
		return nil, err
	}
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = helpers.BytesToHex(k)
	}
	return struct {
		Ignored []string `json:"ignored"`
	}{Ignored: out}, nil
}

// sessionView is request_cache_list's per-peer projection of an
// agent.Session: enough to see where an in-flight PROTECT exchange is
// stuck without exposing the disclosed-chain scratch state.
type sessionView struct {
	Address   string `json:"address"`
	Role      string `json:"role"`
	State     string `json:"state"`
	PeerKey   string `json:"peer_key,omitempty"`
	OpenedAt  int64  `json:"opened_at"`
	ExpiresIn string `json:"expires_in"`
}

func (in *Introspection) requestCacheList(ctx context.Context, params json.RawMessage) (interface{}, error) {
	sessions := in.agent.Sessions()
	out := make([]sessionView, len(sessions))
	for i, s := range sessions {
		out[i] = sessionView{
			Address:   s.Address,
			Role:      s.Role.String(),
			State:     s.State.String(),
			PeerKey:   helpers.BytesToHex(s.PeerKey),
			OpenedAt:  s.OpenedAt.Unix(),
			ExpiresIn: time.Until(s.OpenedAt.Add(s.Timeout)).Round(time.Second).String(),
		}
	}
	return struct {
		Sessions []sessionView `json:"sessions"`
	}{Sessions: out}, nil
}

func (in *Introspection) storeStats(ctx context.Context, params json.RawMessage) (interface{}, error) {
	blocks, err := in.store.GetAllBlocks()
	if err != nil {
		return nil, err
	}
	exchange, err := in.store.AllExchanges()
	if err != nil {
		return nil, err
	}
	ignored, err := in.store.IgnoredKeys()
	if err != nil {
		return nil, err
	}
	peerCount, err := in.store.PeerCount()
	if err != nil {
		return nil, err
	}
	return struct {
		BlockCount       int `json:"block_count"`
		ExchangeKeyCount int `json:"exchange_key_count"`
		IgnoredPeerCount int `json:"ignored_peer_count"`
		KnownPeerCount   int `json:"known_peer_count"`
	}{
		BlockCount:       len(blocks),
		ExchangeKeyCount: exchange.NumKeys(),
		IgnoredPeerCount: len(ignored),
		KnownPeerCount:   peerCount,
	}, nil
}
