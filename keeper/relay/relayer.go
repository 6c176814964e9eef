// Package relay drains the durable command queues and submits the resulting
// payloads on-chain: single awaited transactions for account creation,
// batched transaction groups for token movements.
package relay

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/momo-labs/keeper/keeper/chain"
	"github.com/momo-labs/keeper/keeper/command"
	"github.com/momo-labs/keeper/keeper/queue"
)

// MissingAccountPolicy decides what happens to a token-movement command whose
// referenced resource account does not exist yet.
type MissingAccountPolicy string

const (
	// DropMissing discards the command permanently. This matches the historical
	// behavior: account creation drains from a higher-priority queue and is
	// expected to win the race.
	DropMissing MissingAccountPolicy = "drop"
	// RequeueMissing pushes the command back onto the queue tail with an
	// incremented attempt counter, dropping it once RequeueLimit is reached.
	RequeueMissing MissingAccountPolicy = "requeue"
)

const (
	defaultInterval  = time.Second
	defaultBatchSize = 10
)

// Drop reasons recorded on the dropped-commands counter.
const (
	dropReasonExists       = "account_exists"
	dropReasonMissing      = "missing_account"
	dropReasonRequeueLimit = "requeue_limit"
	dropReasonMisrouted    = "misrouted"
)

// Config tunes one Relayer instance.
type Config struct {
	AccountQueueKey  string
	TokenQueueKey    string
	Interval         time.Duration
	BatchSize        int
	OnMissingAccount MissingAccountPolicy
	RequeueLimit     int
}

func (c Config) validate() error {
	if c.AccountQueueKey == "" || c.TokenQueueKey == "" {
		return errors.New("account and token queue keys are required")
	}
	switch c.OnMissingAccount {
	case DropMissing, RequeueMissing:
	default:
		return fmt.Errorf("unknown missing-account policy %q", c.OnMissingAccount)
	}
	if c.OnMissingAccount == RequeueMissing && c.RequeueLimit <= 0 {
		return errors.New("requeue policy requires a positive requeue limit")
	}
	return nil
}

// Relayer runs the two polling loops. Each loop has its own reentrancy
// guard: a timer fire that lands while the previous tick is still running is
// skipped whole, never queued, so at most one drain per queue is in flight
// within one process.
type Relayer struct {
	log      *zap.Logger
	cfg      Config
	queue    queue.Queue
	gateway  chain.Gateway
	contract *chain.CoreContract
	wallet   *chain.Wallet
	metrics  *PrometheusMetrics

	accountBusy atomic.Bool
	tokenBusy   atomic.Bool
}

func NewRelayer(
	log *zap.Logger,
	cfg Config,
	q queue.Queue,
	gateway chain.Gateway,
	contract *chain.CoreContract,
	wallet *chain.Wallet,
	metrics *PrometheusMetrics,
) (*Relayer, error) {
	if cfg.Interval == 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.OnMissingAccount == "" {
		cfg.OnMissingAccount = DropMissing
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Relayer{
		log:      log.With(zap.String("sys", "relay")),
		cfg:      cfg,
		queue:    q,
		gateway:  gateway,
		contract: contract,
		wallet:   wallet,
		metrics:  metrics,
	}, nil
}

// Run blocks until ctx is canceled or a loop fails in a way that escapes the
// tick boundary. Errors inside a tick are logged and the tick abandoned; the
// queue is re-drained on the next timer fire.
func (r *Relayer) Run(ctx context.Context) error {
	eg, egCtx := errgroup.WithContext(ctx)

	if r.wallet.DrainsAccountQueue() {
		eg.Go(func() error {
			return r.runLoop(egCtx, "account", &r.accountBusy, r.AccountTick)
		})
	} else {
		r.log.Info("Instance does not drain the account queue",
			zap.Int("instance_id", r.wallet.InstanceID),
		)
	}

	eg.Go(func() error {
		return r.runLoop(egCtx, "token", &r.tokenBusy, r.TokenTick)
	})

	return eg.Wait()
}

func (r *Relayer) runLoop(ctx context.Context, name string, busy *atomic.Bool, tick func(context.Context) error) error {
	log := r.log.With(zap.String("loop", name))
	log.Info("Starting relay loop", zap.Duration("interval", r.cfg.Interval))

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("Relay loop stopped")
			return nil
		case <-ticker.C:
			if !busy.CompareAndSwap(false, true) {
				continue
			}
			if err := tick(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("Tick abandoned", zap.Error(err))
				r.metrics.IncTickError(name)
			}
			busy.Store(false)
		}
	}
}

// AccountTick pops at most one account-lifecycle command and submits it as a
// single awaited transaction under the admin identity. Exported so tests can
// drive individual ticks without the timer.
func (r *Relayer) AccountTick(ctx context.Context) error {
	r.observeDepth(ctx, "account", r.cfg.AccountQueueKey)

	data, err := r.queue.Pop(ctx, r.cfg.AccountQueueKey)
	if errors.Is(err, queue.ErrEmpty) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("pop account queue: %w", err)
	}
	r.metrics.IncDrained("account")

	env, err := command.Unmarshal(data)
	if err != nil {
		return err
	}

	var (
		hash    string
		payload chain.Payload
	)
	switch cmd := env.Cmd.(type) {
	case command.CreateResourceAccount:
		hash = cmd.UserAccountHash
		payload = r.contract.CreateResourceAccount(hash)
	case command.CreateResourceAccountAndMintToken:
		hash = cmd.UserAccountHash
		payload, err = r.contract.CreateResourceAccountAndMintToken(hash, cmd.UniID, cmd.Amount)
		if err != nil {
			return err
		}
	default:
		r.metrics.IncDropped("account", dropReasonMisrouted)
		return fmt.Errorf("unexpected %s command on account queue", env.Cmd.Kind())
	}

	// Idempotency guard: an earlier attempt may have created the account
	// before the process crashed.
	account, exists, err := r.gateway.ResourceAccount(ctx, hash)
	if err != nil {
		return fmt.Errorf("resolve resource account for %s: %w", hash, err)
	}
	if exists {
		r.log.Info("Resource account already exists, discarding command",
			zap.String("user_account_hash", hash),
			zap.String("resource_account", account),
		)
		r.metrics.IncDropped("account", dropReasonExists)
		return nil
	}

	res, err := r.gateway.SubmitSingle(ctx, chain.IdentityAdmin, payload)
	if err != nil {
		return fmt.Errorf("submit %s: %w", env.Cmd.Kind(), err)
	}
	r.metrics.AddTransactions(res.Success, 1)
	r.log.Info("Resource account transaction finalized",
		zap.String("user_account_hash", hash),
		zap.String("tx_hash", res.Hash),
		zap.Bool("success", res.Success),
	)
	return nil
}

// TokenTick pops up to BatchSize token-movement commands, gates each on the
// existence of its referenced account, and submits the survivors as one
// transaction group under the operator identity.
func (r *Relayer) TokenTick(ctx context.Context) error {
	r.observeDepth(ctx, "token", r.cfg.TokenQueueKey)

	var (
		payloads []chain.Payload
		requeues [][]byte
	)
	for i := 0; i < r.cfg.BatchSize; i++ {
		data, err := r.queue.Pop(ctx, r.cfg.TokenQueueKey)
		if errors.Is(err, queue.ErrEmpty) {
			break
		}
		if err != nil {
			return fmt.Errorf("pop token queue: %w", err)
		}
		r.metrics.IncDrained("token")

		env, err := command.Unmarshal(data)
		if err != nil {
			return err
		}
		if err := r.appendTokenPayload(ctx, &payloads, &requeues, env); err != nil {
			return err
		}
	}

	// Requeued commands return to the tail only after the drain loop exits,
	// so a tick never re-pops its own requeues; each attempt spans a full
	// tick interval.
	if len(requeues) > 0 {
		if err := r.queue.Push(ctx, r.cfg.TokenQueueKey, requeues...); err != nil {
			return fmt.Errorf("requeue commands: %w", err)
		}
	}

	if len(payloads) == 0 {
		return nil
	}

	res, err := r.gateway.SubmitBatch(ctx, chain.IdentityOperator, payloads)
	if err != nil {
		return fmt.Errorf("submit batch: %w", err)
	}
	r.metrics.IncBatches()
	r.metrics.AddTransactions(true, res.Succeeded)
	r.metrics.AddTransactions(false, res.Submitted-res.Succeeded)
	r.log.Info("Batch finished",
		zap.Int("submitted", res.Submitted),
		zap.Int("succeeded", res.Succeeded),
	)
	return nil
}

func (r *Relayer) appendTokenPayload(ctx context.Context, payloads *[]chain.Payload, requeues *[][]byte, env command.Envelope) error {
	switch cmd := env.Cmd.(type) {
	case command.CreateResourceAccount:
		// Combined-queue deployments route account creation here too.
		_, exists, err := r.gateway.ResourceAccount(ctx, cmd.UserAccountHash)
		if err != nil {
			return err
		}
		if exists {
			r.metrics.IncDropped("token", dropReasonExists)
			return nil
		}
		*payloads = append(*payloads, r.contract.CreateResourceAccount(cmd.UserAccountHash))
		return nil

	case command.MintToken:
		return r.gated(ctx, payloads, requeues, env, cmd.Receipt, func() (chain.Payload, error) {
			return r.contract.MintToken(cmd.Receipt, cmd.UniID, cmd.Amount)
		})

	case command.TransferToken:
		return r.gated(ctx, payloads, requeues, env, cmd.From, func() (chain.Payload, error) {
			return r.contract.TransferToken(cmd.From, cmd.To, cmd.UniID, cmd.Amount)
		})

	case command.ReferralBonus:
		return r.gated(ctx, payloads, requeues, env, cmd.Inviter, func() (chain.Payload, error) {
			return r.contract.ReferralBonus(cmd.Inviter, cmd.UniID, cmd.Amount)
		})

	case command.TaskBonus:
		return r.gated(ctx, payloads, requeues, env, cmd.Receipt, func() (chain.Payload, error) {
			return r.contract.TaskBonus(cmd.Receipt, cmd.UniID, cmd.Amount)
		})

	default:
		r.metrics.IncDropped("token", dropReasonMisrouted)
		return fmt.Errorf("unexpected %s command on token queue", env.Cmd.Kind())
	}
}

// gated appends the payload built by build only if the referenced resource
// account exists; otherwise the configured missing-account policy applies.
func (r *Relayer) gated(
	ctx context.Context,
	payloads *[]chain.Payload,
	requeues *[][]byte,
	env command.Envelope,
	account string,
	build func() (chain.Payload, error),
) error {
	exists, err := r.gateway.AccountExists(ctx, account)
	if err != nil {
		return fmt.Errorf("check resource account %s: %w", account, err)
	}
	if !exists {
		return r.handleMissing(env, account, requeues)
	}
	payload, err := build()
	if err != nil {
		return err
	}
	*payloads = append(*payloads, payload)
	return nil
}

func (r *Relayer) handleMissing(env command.Envelope, account string, requeues *[][]byte) error {
	log := r.log.With(
		zap.String("kind", string(env.Cmd.Kind())),
		zap.String("resource_account", account),
	)

	if r.cfg.OnMissingAccount == RequeueMissing {
		if env.Attempt+1 <= r.cfg.RequeueLimit {
			data, err := command.MarshalEnvelope(command.Envelope{Cmd: env.Cmd, Attempt: env.Attempt + 1})
			if err != nil {
				return err
			}
			*requeues = append(*requeues, data)
			log.Info("Resource account missing, requeueing command",
				zap.Int("attempt", env.Attempt+1),
			)
			return nil
		}
		log.Warn("Resource account still missing after requeue limit, dropping command",
			zap.Int("attempts", env.Attempt),
		)
		r.metrics.IncDropped("token", dropReasonRequeueLimit)
		return nil
	}

	log.Info("Resource account missing, dropping command")
	r.metrics.IncDropped("token", dropReasonMissing)
	return nil
}

func (r *Relayer) observeDepth(ctx context.Context, name, key string) {
	depth, err := r.queue.Len(ctx, key)
	if err != nil {
		return
	}
	r.metrics.SetQueueDepth(name, depth)
}
