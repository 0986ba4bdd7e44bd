package config

import (
	"fmt"
	"sort"
	"strings"

	"github.com/tolelom/lottochain/core"
	"github.com/tolelom/lottochain/crypto"
)

// GenesisHash is a canonical all-zeros previous hash for the genesis block.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// CreateGenesisBlock builds and signs block #0 at timestamp (unix ns) from
// the config's Alloc map. It credits the initial balances in state and
// commits them. The lottery needs no genesis entry: a fresh state already
// reports session 1 as current.
func CreateGenesisBlock(cfg *Config, state core.State, proposerPriv crypto.PrivateKey, timestamp int64) (*core.Block, error) {
	addrs := make([]string, 0, len(cfg.Genesis.Alloc))
	for a := range cfg.Genesis.Alloc {
		addrs = append(addrs, a)
	}
	sort.Strings(addrs)

	for _, a := range addrs {
		if !crypto.IsPubKeyHex(a) {
			return nil, fmt.Errorf("genesis alloc: %q is not an ed25519 public key", a)
		}
		if err := state.SetAccount(&core.Account{Address: a, Balance: cfg.Genesis.Alloc[a]}); err != nil {
			return nil, err
		}
	}

	stateRoot := state.ComputeRoot()
	if err := state.Commit(); err != nil {
		return nil, err
	}

	block := core.NewBlockAt(0, GenesisHash, proposerPriv.Public().Hex(), nil, timestamp)
	block.Header.StateRoot = stateRoot
	// The chain id stands in for the tx root so different chains never
	// share a genesis hash.
	block.Header.TxRoot = crypto.Hash([]byte(cfg.Genesis.ChainID))
	block.Sign(proposerPriv)
	return block, nil
}

// IsGenesisHash returns true if the hash is the canonical genesis prev-hash.
func IsGenesisHash(h string) bool {
	return strings.Count(h, "0") == len(h) && len(h) == 64
}
