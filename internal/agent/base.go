package agent

import (
	"context"

	"github.com/trustmesh-net/trustchaind/internal/chain"
	"github.com/trustmesh-net/trustchaind/internal/wire"
)

// RequestInteraction sends a bare BLOCK_PROPOSAL to peer (spec.md §4.7's
// two-message base protocol), used directly when PROTECT is disabled and
// as the follow-on once a PROTECT session completes.
func (a *Agent) RequestInteraction(ctx context.Context, addr string, peerKey []byte) {
	ownChain, err := a.store.GetChain(a.identityPub)
	if err != nil {
		a.log.Error("failed to load own chain", "peer", addr, "error", err)
		return
	}
	proposal, err := a.factory.CreateNew(lastBlock(ownChain), peerKey, chain.Transaction{})
	if err != nil {
		a.log.Error("failed to mint interaction block", "peer", addr, "error", err)
		return
	}
	if err := a.store.Add(proposal); err != nil {
		a.log.Error("failed to persist interaction block", "peer", addr, "error", err)
		return
	}
	wireProposal, err := wire.BlockToWire(proposal)
	if err != nil {
		a.log.Error("failed to encode interaction block", "peer", addr, "error", err)
		return
	}
	a.send(ctx, addr, &wire.Envelope{Type: wire.BlockProposal, Address: a.selfAddr, Block: &wireProposal})
}

// handleBlockProposal is the base protocol's first message: store the
// proposal and reply with a linked agreement.
func (a *Agent) handleBlockProposal(ctx context.Context, addr string, env *wire.Envelope) {
	if env.Block == nil {
		a.log.Warn("BLOCK_PROPOSAL missing block", "peer", addr)
		return
	}
	proposal, err := wire.BlockFromWire(*env.Block)
	if err != nil {
		a.log.Warn("malformed block proposal", "peer", addr, "error", err)
		return
	}
	if err := a.store.Add(proposal); err != nil {
		a.log.Error("failed to persist block proposal", "peer", addr, "error", err)
		return
	}

	ownChain, err := a.store.GetChain(a.identityPub)
	if err != nil {
		a.log.Error("failed to load own chain", "peer", addr, "error", err)
		return
	}
	agreement, err := a.factory.CreateLinked(lastBlock(ownChain), proposal)
	if err != nil {
		a.log.Error("failed to mint block agreement", "peer", addr, "error", err)
		return
	}
	if err := a.store.Add(agreement); err != nil {
		a.log.Error("failed to persist block agreement", "peer", addr, "error", err)
		return
	}
	wireAgreement, err := wire.BlockToWire(agreement)
	if err != nil {
		a.log.Error("failed to encode block agreement", "peer", addr, "error", err)
		return
	}
	a.send(ctx, addr, &wire.Envelope{Type: wire.BlockAgreement, Address: a.selfAddr, Block: &wireAgreement})
}

// handleBlockAgreement is the base protocol's second message: store the
// countersigned agreement block.
func (a *Agent) handleBlockAgreement(ctx context.Context, addr string, env *wire.Envelope) {
	if env.Block == nil {
		a.log.Warn("BLOCK_AGREEMENT missing block", "peer", addr)
		return
	}
	agreement, err := wire.BlockFromWire(*env.Block)
	if err != nil {
		a.log.Warn("malformed block agreement", "peer", addr, "error", err)
		return
	}
	if err := a.store.Add(agreement); err != nil {
		a.log.Error("failed to persist block agreement", "peer", addr, "error", err)
	}
}
