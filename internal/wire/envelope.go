// Package wire implements the tagged envelope exchanged between agents
// and between an agent and the directory, and the length-prefixed JSON
// codec that puts it on a libp2p stream (spec.md §6).
package wire

import "fmt"

// MessageType tags an Envelope's payload.
type MessageType int

const (
	Register                MessageType = 1
	AgentReplyType          MessageType = 2
	AgentRequest            MessageType = 3
	Unregister              MessageType = 4
	BlockProposal           MessageType = 5
	BlockAgreement          MessageType = 6
	ProtectChain            MessageType = 7
	ProtectBlocksRequest    MessageType = 8
	ProtectBlocksReply      MessageType = 9
	ProtectChainBlocks      MessageType = 10
	ProtectBlockProposal    MessageType = 11
	ProtectBlockAgreement   MessageType = 12
	ProtectReject           MessageType = 13
	ProtectIndexRequest     MessageType = 14
	ProtectIndexReply       MessageType = 15
)

func (t MessageType) String() string {
	switch t {
	case Register:
		return "REGISTER"
	case AgentReplyType:
		return "AGENT_REPLY"
	case AgentRequest:
		return "AGENT_REQUEST"
	case Unregister:
		return "UNREGISTER"
	case BlockProposal:
		return "BLOCK_PROPOSAL"
	case BlockAgreement:
		return "BLOCK_AGREEMENT"
	case ProtectChain:
		return "PROTECT_CHAIN"
	case ProtectBlocksRequest:
		return "PROTECT_BLOCKS_REQUEST"
	case ProtectBlocksReply:
		return "PROTECT_BLOCKS_REPLY"
	case ProtectChainBlocks:
		return "PROTECT_CHAIN_BLOCKS"
	case ProtectBlockProposal:
		return "PROTECT_BLOCK_PROPOSAL"
	case ProtectBlockAgreement:
		return "PROTECT_BLOCK_AGREEMENT"
	case ProtectReject:
		return "PROTECT_REJECT"
	case ProtectIndexRequest:
		return "PROTECT_INDEX_REQUEST"
	case ProtectIndexReply:
		return "PROTECT_INDEX_REPLY"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(t))
	}
}

// AgentInfo identifies an agent on the directory and in AGENT_REPLY lists.
type AgentInfo struct {
	PublicKey []byte `json:"public_key"`
	Address   string `json:"address"`
	Type      string `json:"type"`
}

// RegisterMsg and UnregisterMsg are sent to the directory on startup and
// shutdown.
type RegisterMsg struct {
	Agent AgentInfo `json:"agent"`
}

type UnregisterMsg struct {
	Agent AgentInfo `json:"agent"`
}

// AgentReplyMsg answers an AGENT_REQUEST with the directory's known peers.
type AgentReplyMsg struct {
	Agents []AgentInfo `json:"agents"`
}

// Envelope is the single message type carried on every stream: a type tag,
// a reply address, and exactly one populated payload field.
type Envelope struct {
	Type    MessageType `json:"type"`
	Address string      `json:"address"`

	Register   *RegisterMsg    `json:"register,omitempty"`
	Unregister *UnregisterMsg  `json:"unregister,omitempty"`
	AgentReply *AgentReplyMsg  `json:"agent_reply,omitempty"`
	Block      *Block          `json:"block,omitempty"`
	Database   *Database       `json:"db,omitempty"`
	Index      *BlockIndex     `json:"index,omitempty"`
	ChainIndex *ChainAndBlocks `json:"chain_index,omitempty"`
	ExIndex    *ExchangeIndex  `json:"ex_index,omitempty"`
}

// Reject builds the uniform PROTECT_REJECT envelope any step of the state
// machine sends on a verification failure.
func Reject(address string) *Envelope {
	return &Envelope{Type: ProtectReject, Address: address}
}
