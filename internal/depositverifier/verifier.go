// Package depositverifier confirms an NFT sits at a deposit address on
// its source chain and reads its metadata. One Verifier implementation
// serves each chain family, selected by table lookup: a capability-set
// interface with one method set per chain rather than a type switch
// spread through call sites.
package depositverifier

import (
	"context"
	"fmt"

	"github.com/rebornbridge/relayer/internal/chains"
)

// Result is the outcome of one verification attempt.
type Result struct {
	Verified       bool
	TokenURI       string
	Name           string
	Description    string
	ImageURL       string
	CollectionName string
	Error          string
}

// Verifier confirms NFT ownership at a deposit address for one chain
// family and reads back whatever metadata fields that family's RPC
// surface exposes directly (beyond what tokenURI alone would give).
type Verifier interface {
	VerifyDeposit(ctx context.Context, nftContract, tokenID string, depositAddress []byte) (Result, error)
}

// Registry dispatches to the Verifier registered for a chain's family.
type Registry struct {
	byFamily map[chains.Family]Verifier
}

// NewRegistry builds an empty registry; call Register for each family
// this deployment supports.
func NewRegistry() *Registry {
	return &Registry{byFamily: make(map[chains.Family]Verifier)}
}

// Register installs the Verifier for a chain family, overwriting any
// previous registration.
func (r *Registry) Register(family chains.Family, v Verifier) {
	r.byFamily[family] = v
}

// VerifyDeposit resolves sourceChain to its family and dispatches to the
// registered Verifier. Returns an error only for "this daemon cannot
// even attempt verification" conditions (unknown chain, no verifier
// registered); a failed-but-attempted verification is reported through
// Result.Verified=false/Result.Error, not a Go error.
func (r *Registry) VerifyDeposit(ctx context.Context, sourceChain chains.Tag, nftContract, tokenID string, depositAddress []byte) (Result, error) {
	info, ok := chains.Lookup(sourceChain)
	if !ok {
		return Result{}, fmt.Errorf("depositverifier: unknown source chain %q", sourceChain)
	}
	v, ok := r.byFamily[info.Family]
	if !ok {
		return Result{}, fmt.Errorf("depositverifier: no verifier registered for family %q", info.Family)
	}
	return v.VerifyDeposit(ctx, nftContract, tokenID, depositAddress)
}
