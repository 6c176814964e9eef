// Package chain is the keeper's boundary with the on-chain core contract:
// the Gateway capability it consumes, the payload descriptors it hands over,
// and the translators that build them from command fields.
package chain

import (
	"context"

	"github.com/shopspring/decimal"
)

// Identity names a signing credential held by the wallet collaborator.
// Account creation is signed by the admin; routine token-movement batches by
// the per-instance operator.
type Identity string

const (
	IdentityOperator Identity = "operator"
	IdentityAdmin    Identity = "admin"
)

// Payload is a gateway-neutral call descriptor: one entry function and its
// ordered arguments, already converted to chain representation.
type Payload struct {
	Function string
	Args     []string
}

// TxResult is the finalized outcome of a single submitted transaction.
type TxResult struct {
	Hash    string
	Success bool
}

// ItemResult is the outcome of one payload within a batch.
type ItemResult struct {
	Hash    string
	Success bool
}

// BatchResult summarizes one submitted transaction group.
type BatchResult struct {
	Submitted int
	Succeeded int
	Items     []ItemResult
}

// Gateway is the transaction-submission capability the relay consumes. The
// wallet holding key material and the chain client live behind it.
type Gateway interface {
	// ResourceAccount resolves the resource account created for a user
	// account hash, reporting whether it exists yet.
	ResourceAccount(ctx context.Context, userAccountHash string) (string, bool, error)

	// AccountExists reports whether a resource account exists on chain.
	// Implementations may cache positive answers; accounts are never deleted.
	AccountExists(ctx context.Context, resourceAccount string) (bool, error)

	// Balance returns a resource account's token balance in human units.
	Balance(ctx context.Context, resourceAccount string) (decimal.Decimal, error)

	// SubmitBatch submits the payloads as one transaction group under the
	// given identity and blocks until execution finishes, returning per-item
	// outcomes.
	SubmitBatch(ctx context.Context, identity Identity, payloads []Payload) (BatchResult, error)

	// SubmitSingle submits one transaction under the given identity and
	// blocks until it is finalized.
	SubmitSingle(ctx context.Context, identity Identity, payload Payload) (TxResult, error)
}
