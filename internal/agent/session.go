// Package agent implements the PROTECT state machine and the scheduler
// that drives it: the protocol core of a TrustChain agent (spec.md §4.6,
// §4.7).
package agent

import (
	"time"

	"github.com/trustmesh-net/trustchaind/internal/chain"
	"github.com/trustmesh-net/trustchaind/internal/index"
)

// Role distinguishes which side of a PROTECT session this agent is
// playing for a given peer.
type Role int

const (
	RoleInitiator Role = iota
	RoleResponder
)

func (r Role) String() string {
	if r == RoleInitiator {
		return "initiator"
	}
	return "responder"
}

// State is a PROTECT session's position in the state machine, tracked
// per peer address (spec.md §4.6).
type State int

const (
	StateIdle State = iota
	// Initiator-side states.
	StateChainSent
	StateIndexReplied
	StateBlocksSent
	StateAwaitingAgreement
	// Responder-side states.
	StateChainReceived
	StateIndexSent
	StateBlocksReceived
	StateProposalSent
	// Terminal.
	StateDone
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateChainSent:
		return "CHAIN_SENT"
	case StateIndexReplied:
		return "INDEX_REPLIED"
	case StateBlocksSent:
		return "BLOCKS_SENT"
	case StateAwaitingAgreement:
		return "AWAITING_AGREEMENT"
	case StateChainReceived:
		return "CHAIN_RECEIVED"
	case StateIndexSent:
		return "INDEX_SENT"
	case StateBlocksReceived:
		return "BLOCKS_RECEIVED"
	case StateProposalSent:
		return "PROPOSAL_SENT"
	case StateDone:
		return "DONE"
	default:
		return "UNKNOWN"
	}
}

// Session is a RequestCache entry: the scratch state an in-flight PROTECT
// exchange with one peer accumulates (spec.md §4.4, §4.6).
type Session struct {
	Address string
	Role    Role
	State   State

	// PeerKey is the partner's marshaled public key: known up front on
	// the initiator side (it picked the partner), taken from the
	// AgentInfo public key sent with message 1 on the responder side.
	PeerKey []byte

	// DisclosedChain holds the peer's chain as received with message 1.
	// Populated only on the responder side; used in message 3's
	// handler to reconstruct the peer's attested index.
	DisclosedChain []*chain.Block

	// PartnerIndex is the responder's reconstruction, built while
	// handling message 3, of the full index the initiator's chain and
	// exchange storage together attest to. Responder-side only.
	PartnerIndex *index.BlockIndex

	// Missing is the responder's computed gap (PartnerIndex minus the
	// responder's own index), sent as message 4's payload. Kept so
	// message 5's handler can verify the replied blocks against exactly
	// what was requested. Responder-side only.
	Missing *index.BlockIndex

	// TransferUp is the index of blocks the initiator selected and sent
	// in message 5, recorded while handling message 4. Initiator-side
	// only; becomes part of the exchange-block payload and the
	// initiator's own exchange-storage entry for the proposal block.
	TransferUp *index.BlockIndex

	// TransferDown is the index of blocks the responder selected and
	// sent in message 6, recorded while handling message 5. Responder-
	// side only; becomes the responder's own exchange-storage entry for
	// the agreement block.
	TransferDown *index.BlockIndex

	// Proposal is the exchange block proposal half, held between
	// messages 7 and 8.
	Proposal *chain.Block

	OpenedAt time.Time
	Timeout  time.Duration
}

// Expired reports whether this session has outlived its timeout as of
// now.
func (s *Session) Expired(now time.Time) bool {
	return now.Sub(s.OpenedAt) > s.Timeout
}
