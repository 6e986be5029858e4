package agent

import (
	"context"

	"github.com/trustmesh-net/trustchaind/internal/chain"
	"github.com/trustmesh-net/trustchaind/internal/index"
	"github.com/trustmesh-net/trustchaind/internal/store"
	"github.com/trustmesh-net/trustchaind/internal/wire"
)

// RequestProtect begins a PROTECT session with peer, sending our full
// chain as message 1 (spec.md §4.6). A no-op if a session with peer is
// already open or peer is on the ignore list.
func (a *Agent) RequestProtect(ctx context.Context, addr string, peerKey []byte) {
	if _, open := a.cache.Get(addr); open {
		a.log.Debug("PROTECT request already open, skipping", "peer", addr)
		return
	}
	ignored, err := a.store.IsIgnored(peerKey)
	if err != nil {
		a.log.Error("ignore list lookup failed", "peer", addr, "error", err)
		return
	}
	if ignored {
		return
	}

	ownChain, err := a.store.GetChain(a.identityPub)
	if err != nil {
		a.log.Error("failed to load own chain", "peer", addr, "error", err)
		return
	}
	wireChain, err := wire.BlocksToWire(ownChain)
	if err != nil {
		a.log.Error("failed to encode own chain", "peer", addr, "error", err)
		return
	}

	s := a.cache.New(addr, RoleInitiator, peerKey)
	s.State = StateChainSent

	a.send(ctx, addr, &wire.Envelope{
		Type:    wire.ProtectChain,
		Address: a.selfAddr,
		Database: &wire.Database{
			Info:   wire.AgentInfo{PublicKey: a.identityPub, Address: a.selfAddr},
			Blocks: wireChain,
		},
	})
}

// handleProtectChain is message 1: a peer discloses its full chain and
// asks to start a PROTECT session.
func (a *Agent) handleProtectChain(ctx context.Context, addr string, env *wire.Envelope) {
	if _, open := a.cache.Get(addr); open {
		a.reject(ctx, addr)
		return
	}
	if env.Database == nil {
		a.log.Warn("PROTECT_CHAIN missing chain payload", "peer", addr)
		return
	}
	peerKey := env.Database.Info.PublicKey
	ignored, err := a.store.IsIgnored(peerKey)
	if err != nil {
		a.log.Error("ignore list lookup failed", "peer", addr, "error", err)
		return
	}
	if ignored {
		a.reject(ctx, addr)
		return
	}
	disclosedChain, err := wire.BlocksFromWire(env.Database.Blocks)
	if err != nil {
		a.log.Warn("malformed chain in PROTECT_CHAIN", "peer", addr, "error", err)
		a.reject(ctx, addr)
		return
	}

	s := a.cache.New(addr, RoleResponder, peerKey)
	s.DisclosedChain = disclosedChain

	if !verifyChain(disclosedChain) {
		a.rejectAndIgnore(ctx, addr, peerKey, "chain failed I1 verification")
		return
	}
	for _, b := range disclosedChain {
		if err := a.store.Add(b); err != nil {
			a.log.Error("failed to persist disclosed chain block", "peer", addr, "error", err)
			return
		}
	}
	s.State = StateChainReceived

	a.send(ctx, addr, &wire.Envelope{Type: wire.ProtectIndexRequest, Address: a.selfAddr})
	s.State = StateIndexSent
}

// handleProtectIndexRequest is message 2: send our own exchange storage
// so the peer can compute what it is missing from us.
func (a *Agent) handleProtectIndexRequest(ctx context.Context, addr string, env *wire.Envelope) {
	s, open := a.cache.Get(addr)
	if !open {
		a.log.Debug("no open request for PROTECT_INDEX_REQUEST, dropping", "peer", addr)
		return
	}
	exMsg, err := a.store.AsMessage()
	if err != nil {
		a.log.Error("failed to build exchange index", "peer", addr, "error", err)
		return
	}
	a.send(ctx, addr, &wire.Envelope{Type: wire.ProtectIndexReply, Address: a.selfAddr, ExIndex: &exMsg})
	s.State = StateIndexReplied
}

// handleProtectIndexReply is message 3: reconstruct the peer's full
// attested index and ask for whatever we're missing from it.
func (a *Agent) handleProtectIndexReply(ctx context.Context, addr string, env *wire.Envelope) {
	s, open := a.cache.Get(addr)
	if !open {
		a.log.Debug("no open request for PROTECT_INDEX_REPLY, dropping", "peer", addr)
		return
	}
	if env.ExIndex == nil {
		a.log.Warn("PROTECT_INDEX_REPLY missing exchange index", "peer", addr)
		return
	}

	exchangeIdx := store.FromMessage(*env.ExIndex)
	partnerIdx := index.Union(exchangeIdx, index.FromChain(chain.ToChainBlocks(s.DisclosedChain)))

	ownBlocks, err := a.store.GetAllBlocks()
	if err != nil {
		a.log.Error("failed to load own blocks", "peer", addr, "error", err)
		return
	}
	ownIdx := index.FromBlocks(chain.ToChainBlocks(ownBlocks))
	missing := index.Difference(partnerIdx, ownIdx)

	s.PartnerIndex = partnerIdx
	s.Missing = missing

	wireMissing := wire.IndexToWire(missing)
	a.send(ctx, addr, &wire.Envelope{Type: wire.ProtectBlocksRequest, Address: a.selfAddr, Index: &wireMissing})
	s.State = StateBlocksReceived
}

// handleProtectBlocksRequest is message 4: select and send the blocks the
// peer asked for.
func (a *Agent) handleProtectBlocksRequest(ctx context.Context, addr string, env *wire.Envelope) {
	s, open := a.cache.Get(addr)
	if !open {
		a.log.Debug("no open request for PROTECT_BLOCKS_REQUEST, dropping", "peer", addr)
		return
	}
	if env.Index == nil {
		a.log.Warn("PROTECT_BLOCKS_REQUEST missing index payload", "peer", addr)
		return
	}
	requested := wire.IndexFromWire(*env.Index)
	s.TransferUp = requested

	blocks, err := a.store.Index(requested)
	if err != nil {
		a.log.Error("failed to select requested blocks", "peer", addr, "error", err)
		return
	}
	wireBlocks, err := wire.BlocksToWire(blocks)
	if err != nil {
		a.log.Error("failed to encode requested blocks", "peer", addr, "error", err)
		return
	}

	a.send(ctx, addr, &wire.Envelope{
		Type:    wire.ProtectBlocksReply,
		Address: a.selfAddr,
		Database: &wire.Database{
			Info:   wire.AgentInfo{PublicKey: a.identityPub, Address: a.selfAddr},
			Blocks: wireBlocks,
		},
	})
	s.State = StateBlocksSent
}

// handleProtectBlocksReply is message 5: verify the replied blocks match
// what we asked for, then disclose our own chain and the blocks we hold
// above the peer.
func (a *Agent) handleProtectBlocksReply(ctx context.Context, addr string, env *wire.Envelope) {
	s, open := a.cache.Get(addr)
	if !open {
		a.log.Debug("no open request for PROTECT_BLOCKS_REPLY, dropping", "peer", addr)
		return
	}
	if env.Database == nil {
		a.rejectAndIgnore(ctx, addr, s.PeerKey, "missing blocks payload")
		return
	}
	blocks, err := wire.BlocksFromWire(env.Database.Blocks)
	if err != nil || !verifyBlocks(a.opts, blocks, s.Missing) {
		a.rejectAndIgnore(ctx, addr, s.PeerKey, "replied blocks did not match requested index")
		return
	}
	for _, b := range blocks {
		if err := a.store.Add(b); err != nil {
			a.log.Error("failed to persist transferred block", "peer", addr, "error", err)
			return
		}
	}

	ownChain, err := a.store.GetChain(a.identityPub)
	if err != nil {
		a.log.Error("failed to load own chain", "peer", addr, "error", err)
		return
	}
	ownBlocks, err := a.store.GetAllBlocks()
	if err != nil {
		a.log.Error("failed to load own blocks", "peer", addr, "error", err)
		return
	}
	ownIdx := index.FromBlocks(chain.ToChainBlocks(ownBlocks))
	transferDown := index.Difference(ownIdx, s.PartnerIndex)
	s.TransferDown = transferDown

	subset, err := a.store.Index(transferDown)
	if err != nil {
		a.log.Error("failed to select transfer_down blocks", "peer", addr, "error", err)
		return
	}

	wireChain, err := wire.BlocksToWire(ownChain)
	if err != nil {
		a.log.Error("failed to encode own chain", "peer", addr, "error", err)
		return
	}
	wireSubset, err := wire.BlocksToWire(subset)
	if err != nil {
		a.log.Error("failed to encode transfer_down blocks", "peer", addr, "error", err)
		return
	}
	exMsg, err := a.store.AsMessage()
	if err != nil {
		a.log.Error("failed to build exchange index", "peer", addr, "error", err)
		return
	}

	a.send(ctx, addr, &wire.Envelope{
		Type:    wire.ProtectChainBlocks,
		Address: a.selfAddr,
		ChainIndex: &wire.ChainAndBlocks{
			Chain:    wireChain,
			Blocks:   wireSubset,
			Exchange: exMsg,
		},
	})
	s.State = StateProposalSent
}

// handleProtectChainBlocks is message 6: verify the peer's chain and its
// extra blocks, then propose the exchange block that attests to this
// session's mutual disclosure.
func (a *Agent) handleProtectChainBlocks(ctx context.Context, addr string, env *wire.Envelope) {
	s, open := a.cache.Get(addr)
	if !open {
		a.log.Debug("no open request for PROTECT_CHAIN_BLOCKS, dropping", "peer", addr)
		return
	}
	if env.ChainIndex == nil {
		a.rejectAndIgnore(ctx, addr, s.PeerKey, "missing chain_and_blocks payload")
		return
	}
	peerChain, chainErr := wire.BlocksFromWire(env.ChainIndex.Chain)
	peerBlocks, blocksErr := wire.BlocksFromWire(env.ChainIndex.Blocks)
	if chainErr != nil || blocksErr != nil || !verifyChain(peerChain) {
		a.rejectAndIgnore(ctx, addr, s.PeerKey, "peer chain or blocks failed verification")
		return
	}
	for _, b := range peerChain {
		if err := a.store.Add(b); err != nil {
			a.log.Error("failed to persist peer chain block", "peer", addr, "error", err)
			return
		}
	}
	for _, b := range peerBlocks {
		if err := a.store.Add(b); err != nil {
			a.log.Error("failed to persist peer transfer_down block", "peer", addr, "error", err)
			return
		}
	}
	transferDown := index.FromBlocks(chain.ToChainBlocks(peerBlocks))

	ownChain, err := a.store.GetChain(a.identityPub)
	if err != nil {
		a.log.Error("failed to load own chain", "peer", addr, "error", err)
		return
	}
	proposal, err := a.factory.CreateNew(lastBlock(ownChain), s.PeerKey, chain.Transaction{
		TransferUp:   s.TransferUp,
		TransferDown: transferDown,
	})
	if err != nil {
		a.log.Error("failed to mint exchange proposal", "peer", addr, "error", err)
		return
	}
	if err := a.store.Add(proposal); err != nil {
		a.log.Error("failed to persist exchange proposal", "peer", addr, "error", err)
		return
	}

	wireProposal, err := wire.BlockToWire(proposal)
	if err != nil {
		a.log.Error("failed to encode exchange proposal", "peer", addr, "error", err)
		return
	}
	a.send(ctx, addr, &wire.Envelope{Type: wire.ProtectBlockProposal, Address: a.selfAddr, Block: &wireProposal})

	if err := a.store.AddExchange(proposal.Hash(), s.TransferUp); err != nil {
		a.log.Error("failed to record exchange storage entry", "peer", addr, "error", err)
	}
	s.Proposal = proposal
	s.State = StateAwaitingAgreement
}

// handleProtectBlockProposal is message 7: store the peer's proposal,
// countersign the linked agreement, and close our half of the session.
func (a *Agent) handleProtectBlockProposal(ctx context.Context, addr string, env *wire.Envelope) {
	s, open := a.cache.Get(addr)
	if !open {
		a.log.Debug("no open request for PROTECT_BLOCK_PROPOSAL, dropping", "peer", addr)
		return
	}
	if env.Block == nil {
		a.log.Warn("PROTECT_BLOCK_PROPOSAL missing block", "peer", addr)
		return
	}
	proposal, err := wire.BlockFromWire(*env.Block)
	if err != nil {
		a.log.Warn("malformed exchange proposal", "peer", addr, "error", err)
		return
	}
	if err := a.store.Add(proposal); err != nil {
		a.log.Error("failed to persist exchange proposal", "peer", addr, "error", err)
		return
	}

	ownChain, err := a.store.GetChain(a.identityPub)
	if err != nil {
		a.log.Error("failed to load own chain", "peer", addr, "error", err)
		return
	}
	agreement, err := a.factory.CreateLinked(lastBlock(ownChain), proposal)
	if err != nil {
		a.log.Error("failed to mint exchange agreement", "peer", addr, "error", err)
		return
	}
	if err := a.store.Add(agreement); err != nil {
		a.log.Error("failed to persist exchange agreement", "peer", addr, "error", err)
		return
	}

	wireAgreement, err := wire.BlockToWire(agreement)
	if err != nil {
		a.log.Error("failed to encode exchange agreement", "peer", addr, "error", err)
		return
	}
	a.send(ctx, addr, &wire.Envelope{Type: wire.ProtectBlockAgreement, Address: a.selfAddr, Block: &wireAgreement})

	if err := a.store.AddExchange(agreement.Hash(), s.TransferDown); err != nil {
		a.log.Error("failed to record exchange storage entry", "peer", addr, "error", err)
	}
	a.cache.Remove(addr)
}

// handleProtectBlockAgreement is message 8: store the agreement and hand
// off to a normal base-protocol interaction (spec.md §4.7).
func (a *Agent) handleProtectBlockAgreement(ctx context.Context, addr string, env *wire.Envelope) {
	s, open := a.cache.Get(addr)
	if !open {
		a.log.Debug("no open request for PROTECT_BLOCK_AGREEMENT, dropping", "peer", addr)
		return
	}
	if env.Block == nil {
		a.log.Warn("PROTECT_BLOCK_AGREEMENT missing block", "peer", addr)
		return
	}
	agreement, err := wire.BlockFromWire(*env.Block)
	if err != nil {
		a.log.Warn("malformed exchange agreement", "peer", addr, "error", err)
		return
	}
	if err := a.store.Add(agreement); err != nil {
		a.log.Error("failed to persist exchange agreement", "peer", addr, "error", err)
	}

	peerKey := s.PeerKey
	a.cache.Remove(addr)
	a.RequestInteraction(ctx, addr, peerKey)
}

// handleProtectReject handles PROTECT_REJECT from any state: clear our
// side of the session, no ignore-list change.
func (a *Agent) handleProtectReject(ctx context.Context, addr string, env *wire.Envelope) {
	if _, open := a.cache.Get(addr); !open {
		a.log.Debug("no open request for PROTECT_REJECT, dropping", "peer", addr)
		return
	}
	a.cache.Remove(addr)
}

func lastBlock(chainBlocks []*chain.Block) *chain.Block {
	if len(chainBlocks) == 0 {
		return nil
	}
	return chainBlocks[len(chainBlocks)-1]
}
