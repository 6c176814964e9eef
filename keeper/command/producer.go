package command

import (
	"context"
	"fmt"
	"time"

	"github.com/momo-labs/keeper/keeper/queue"
)

// Producer builds commands and pushes them onto the queue matching their
// class. Callers invoke it from inside their own write transaction; a push
// error must abort that transaction so the business mutation and the command
// emission stay consistent.
type Producer struct {
	queue      queue.Queue
	locker     queue.Locker
	accountKey string
	tokenKey   string
}

func NewProducer(q queue.Queue, locker queue.Locker, accountKey, tokenKey string) *Producer {
	return &Producer{
		queue:      q,
		locker:     locker,
		accountKey: accountKey,
		tokenKey:   tokenKey,
	}
}

func (p *Producer) AddCreateResourceAccount(ctx context.Context, userAccountHash string) error {
	return p.push(ctx, CreateResourceAccount{UserAccountHash: userAccountHash})
}

func (p *Producer) AddCreateResourceAccountAndMintToken(ctx context.Context, userAccountHash, uniID, amount string) error {
	return p.push(ctx, CreateResourceAccountAndMintToken{
		UserAccountHash: userAccountHash,
		UniID:           uniID,
		Amount:          amount,
	})
}

func (p *Producer) AddMintToken(ctx context.Context, receipt, uniID, amount string) error {
	return p.push(ctx, MintToken{Receipt: receipt, UniID: uniID, Amount: amount})
}

func (p *Producer) AddTransferToken(ctx context.Context, from, to, uniID, amount string) error {
	return p.push(ctx, TransferToken{From: from, To: to, UniID: uniID, Amount: amount})
}

func (p *Producer) AddReferralBonus(ctx context.Context, inviter, uniID, amount string) error {
	return p.push(ctx, ReferralBonus{Inviter: inviter, UniID: uniID, Amount: amount})
}

func (p *Producer) AddTaskBonus(ctx context.Context, receipt, uniID, amount string) error {
	return p.push(ctx, TaskBonus{Receipt: receipt, UniID: uniID, Amount: amount})
}

func (p *Producer) push(ctx context.Context, cmd Command) error {
	data, err := Marshal(cmd)
	if err != nil {
		return err
	}
	key := p.tokenKey
	if cmd.Class() == ClassAccount {
		key = p.accountKey
	}
	if err := p.queue.Push(ctx, key, data); err != nil {
		return fmt.Errorf("push %s command: %w", cmd.Kind(), err)
	}
	return nil
}

// WithUserLock serializes fn against other emitters touching the same user,
// e.g. two concurrent plays racing on one user's play count. The lock
// auto-expires after ttl if fn never returns.
func (p *Producer) WithUserLock(ctx context.Context, userID string, ttl time.Duration, fn func(ctx context.Context) error) error {
	lock, err := p.locker.Acquire(ctx, "lock:user:"+userID, ttl)
	if err != nil {
		return fmt.Errorf("acquire user lock for %s: %w", userID, err)
	}
	defer lock.Release(ctx)
	return fn(ctx)
}
