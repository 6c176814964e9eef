// Package command defines the closed set of economic intents that business
// logic enqueues for the keeper to relay on-chain, along with their frozen
// JSON wire format.
package command

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Kind discriminates command variants on the wire.
type Kind string

const (
	KindCreateResourceAccount             Kind = "create_resource_account"
	KindCreateResourceAccountAndMintToken Kind = "create_resource_account_and_mint_token"
	KindMintToken                         Kind = "mint_token"
	KindTransferToken                     Kind = "transfer_token"
	KindReferralBonus                     Kind = "referral_bonus"
	KindTaskBonus                         Kind = "task_bonus"
)

// Class partitions commands across the two durable queues. Account-lifecycle
// commands are drained by a dedicated consumer ahead of token movements that
// may reference the same account.
type Class int

const (
	ClassAccount Class = iota
	ClassToken
)

// Command is one immutable economic intent. Amounts are decimal strings in
// human units; UniID fields are idempotency tokens forwarded to the chain so
// that a replayed command is rejected there, not here.
type Command interface {
	Kind() Kind
	Class() Class
}

// CreateResourceAccount lazily creates the on-chain resource account for one
// off-chain user identity.
type CreateResourceAccount struct {
	UserAccountHash string
}

func (CreateResourceAccount) Kind() Kind   { return KindCreateResourceAccount }
func (CreateResourceAccount) Class() Class { return ClassAccount }

// CreateResourceAccountAndMintToken is the combined atomic primitive: create
// the resource account and mint an initial grant in one transaction.
type CreateResourceAccountAndMintToken struct {
	UserAccountHash string
	UniID           string
	Amount          string
}

func (CreateResourceAccountAndMintToken) Kind() Kind {
	return KindCreateResourceAccountAndMintToken
}
func (CreateResourceAccountAndMintToken) Class() Class { return ClassAccount }

// MintToken mints tokens to an existing resource account.
type MintToken struct {
	Receipt string
	UniID   string
	Amount  string
}

func (MintToken) Kind() Kind   { return KindMintToken }
func (MintToken) Class() Class { return ClassToken }

// TransferToken moves tokens between two resource accounts.
type TransferToken struct {
	From   string
	To     string
	UniID  string
	Amount string
}

func (TransferToken) Kind() Kind   { return KindTransferToken }
func (TransferToken) Class() Class { return ClassToken }

// ReferralBonus pays an inviter for a referred signup.
type ReferralBonus struct {
	Inviter string
	UniID   string
	Amount  string
}

func (ReferralBonus) Kind() Kind   { return KindReferralBonus }
func (ReferralBonus) Class() Class { return ClassToken }

// TaskBonus pays out a completed task reward.
type TaskBonus struct {
	Receipt string
	UniID   string
	Amount  string
}

func (TaskBonus) Kind() Kind   { return KindTaskBonus }
func (TaskBonus) Class() Class { return ClassToken }

// Envelope is one queue entry: a command plus the number of times the
// consumer has returned it to the queue. Attempt is zero for fresh pushes and
// omitted from the wire, so envelopes remain readable by earlier consumers.
type Envelope struct {
	Cmd     Command
	Attempt int
}

// wireCommand is the flat JSON layout shared by every variant. Field names
// are frozen for compatibility with producers and consumers of other
// revisions; do not rename them.
type wireCommand struct {
	Type            Kind   `json:"type"`
	UserAccountHash string `json:"userAccountHash,omitempty"`
	Receipt         string `json:"receipt,omitempty"`
	From            string `json:"from,omitempty"`
	To              string `json:"to,omitempty"`
	Inviter         string `json:"inviter,omitempty"`
	UniID           string `json:"uniId,omitempty"`
	Amount          string `json:"amount,omitempty"`
	Attempt         int    `json:"attempt,omitempty"`
}

// Marshal encodes a fresh command for the queue.
func Marshal(cmd Command) ([]byte, error) {
	return MarshalEnvelope(Envelope{Cmd: cmd})
}

// MarshalEnvelope encodes a command carrying a requeue attempt counter.
func MarshalEnvelope(env Envelope) ([]byte, error) {
	w := wireCommand{Type: env.Cmd.Kind(), Attempt: env.Attempt}
	switch c := env.Cmd.(type) {
	case CreateResourceAccount:
		w.UserAccountHash = c.UserAccountHash
	case CreateResourceAccountAndMintToken:
		w.UserAccountHash = c.UserAccountHash
		w.UniID = c.UniID
		w.Amount = c.Amount
	case MintToken:
		w.Receipt = c.Receipt
		w.UniID = c.UniID
		w.Amount = c.Amount
	case TransferToken:
		w.From = c.From
		w.To = c.To
		w.UniID = c.UniID
		w.Amount = c.Amount
	case ReferralBonus:
		w.Inviter = c.Inviter
		w.UniID = c.UniID
		w.Amount = c.Amount
	case TaskBonus:
		w.Receipt = c.Receipt
		w.UniID = c.UniID
		w.Amount = c.Amount
	default:
		return nil, fmt.Errorf("unknown command type %T", env.Cmd)
	}
	return json.Marshal(w)
}

// Unmarshal decodes one queue entry. An unrecognized type discriminant is an
// error; the queue is a closed protocol.
func Unmarshal(data []byte) (Envelope, error) {
	var w wireCommand
	if err := json.Unmarshal(data, &w); err != nil {
		return Envelope{}, fmt.Errorf("decode command: %w", err)
	}

	var cmd Command
	switch w.Type {
	case KindCreateResourceAccount:
		cmd = CreateResourceAccount{UserAccountHash: w.UserAccountHash}
	case KindCreateResourceAccountAndMintToken:
		cmd = CreateResourceAccountAndMintToken{
			UserAccountHash: w.UserAccountHash,
			UniID:           w.UniID,
			Amount:          w.Amount,
		}
	case KindMintToken:
		cmd = MintToken{Receipt: w.Receipt, UniID: w.UniID, Amount: w.Amount}
	case KindTransferToken:
		cmd = TransferToken{From: w.From, To: w.To, UniID: w.UniID, Amount: w.Amount}
	case KindReferralBonus:
		cmd = ReferralBonus{Inviter: w.Inviter, UniID: w.UniID, Amount: w.Amount}
	case KindTaskBonus:
		cmd = TaskBonus{Receipt: w.Receipt, UniID: w.UniID, Amount: w.Amount}
	default:
		return Envelope{}, fmt.Errorf("unknown command type %q", w.Type)
	}
	return Envelope{Cmd: cmd, Attempt: w.Attempt}, nil
}

// NewUniID returns a fresh idempotency token for one economic event.
func NewUniID() string {
	u := uuid.New()
	return hex.EncodeToString(u[:8])
}
