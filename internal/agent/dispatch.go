package agent

import (
	"github.com/trustmesh-net/trustchaind/internal/wire"
)

// buildDispatch wires each wire.MessageType this agent responds to onto
// its handler, grounded on the teacher's StreamHandler.handlers
// map-of-closures pattern.
func (a *Agent) buildDispatch() map[wire.MessageType]handlerFunc {
	return map[wire.MessageType]handlerFunc{
		wire.ProtectChain:          (*Agent).handleProtectChain,
		wire.ProtectIndexRequest:   (*Agent).handleProtectIndexRequest,
		wire.ProtectIndexReply:     (*Agent).handleProtectIndexReply,
		wire.ProtectBlocksRequest:  (*Agent).handleProtectBlocksRequest,
		wire.ProtectBlocksReply:    (*Agent).handleProtectBlocksReply,
		wire.ProtectChainBlocks:    (*Agent).handleProtectChainBlocks,
		wire.ProtectBlockProposal:  (*Agent).handleProtectBlockProposal,
		wire.ProtectBlockAgreement: (*Agent).handleProtectBlockAgreement,
		wire.ProtectReject:         (*Agent).handleProtectReject,
		wire.BlockProposal:         (*Agent).handleBlockProposal,
		wire.BlockAgreement:        (*Agent).handleBlockAgreement,
	}
}
