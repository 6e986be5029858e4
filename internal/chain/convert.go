package chain

import "github.com/trustmesh-net/trustchaind/internal/index"

// ToChainBlocks adapts a concrete chain to the narrow view index.FromChain
// and index.FromBlocks operate on.
func ToChainBlocks(blocks []*Block) []index.ChainBlock {
	out := make([]index.ChainBlock, len(blocks))
	for i, b := range blocks {
		out[i] = b
	}
	return out
}
