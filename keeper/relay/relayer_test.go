package relay_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/momo-labs/keeper/keeper/chain"
	"github.com/momo-labs/keeper/keeper/command"
	"github.com/momo-labs/keeper/keeper/queue"
	"github.com/momo-labs/keeper/keeper/relay"
)

const (
	accountKey = "commands:account"
	tokenKey   = "commands:token"
)

// mockGateway applies account creation to its own state so that idempotency
// checks observe the effect of earlier submissions, the way chain state does.
type mockGateway struct {
	mu       sync.Mutex
	existing map[string]bool
	batches  [][]chain.Payload
	singles  []chain.Payload

	// callDelay slows every gateway call down, for overlap tests.
	callDelay time.Duration
	active    int
	maxActive int
}

func newMockGateway(existing ...string) *mockGateway {
	g := &mockGateway{existing: make(map[string]bool)}
	for _, account := range existing {
		g.existing[account] = true
	}
	return g
}

func (g *mockGateway) enter() {
	g.mu.Lock()
	g.active++
	if g.active > g.maxActive {
		g.maxActive = g.active
	}
	delay := g.callDelay
	g.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
}

func (g *mockGateway) exit() {
	g.mu.Lock()
	g.active--
	g.mu.Unlock()
}

func (g *mockGateway) ResourceAccount(_ context.Context, hash string) (string, bool, error) {
	g.enter()
	defer g.exit()
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.existing[hash] {
		return "ra-" + hash, true, nil
	}
	return "", false, nil
}

func (g *mockGateway) AccountExists(_ context.Context, account string) (bool, error) {
	g.enter()
	defer g.exit()
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.existing[account], nil
}

func (g *mockGateway) Balance(context.Context, string) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

func (g *mockGateway) SubmitBatch(_ context.Context, identity chain.Identity, payloads []chain.Payload) (chain.BatchResult, error) {
	g.enter()
	defer g.exit()
	g.mu.Lock()
	defer g.mu.Unlock()
	if identity != chain.IdentityOperator {
		panic("batches must be submitted by the operator")
	}
	g.batches = append(g.batches, payloads)
	res := chain.BatchResult{Submitted: len(payloads), Succeeded: len(payloads)}
	for range payloads {
		res.Items = append(res.Items, chain.ItemResult{Hash: "0x1", Success: true})
	}
	return res, nil
}

func (g *mockGateway) SubmitSingle(_ context.Context, identity chain.Identity, payload chain.Payload) (chain.TxResult, error) {
	g.enter()
	defer g.exit()
	g.mu.Lock()
	defer g.mu.Unlock()
	if identity != chain.IdentityAdmin {
		panic("account creation must be submitted by the admin")
	}
	g.singles = append(g.singles, payload)
	// Creation takes effect: the account hash resolves from now on.
	if strings.HasSuffix(payload.Function, "create_resource_account") ||
		strings.HasSuffix(payload.Function, "create_resource_account_and_mint_token") {
		g.existing[payload.Args[0]] = true
	}
	return chain.TxResult{Hash: "0xabc", Success: true}, nil
}

func (g *mockGateway) submittedBatches() [][]chain.Payload {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.batches
}

func (g *mockGateway) submittedSingles() []chain.Payload {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.singles
}

type fixture struct {
	relayer *relay.Relayer
	queue   *queue.Memory
	gateway *mockGateway
	metrics *relay.PrometheusMetrics
}

func newFixture(t *testing.T, cfg relay.Config, gateway *mockGateway) *fixture {
	t.Helper()
	if cfg.AccountQueueKey == "" {
		cfg.AccountQueueKey = accountKey
	}
	if cfg.TokenQueueKey == "" {
		cfg.TokenQueueKey = tokenKey
	}

	q := queue.NewMemory()
	contract, err := chain.NewCoreContract("0xc0ffee", 8)
	require.NoError(t, err)
	wallet, err := chain.NewWallet(0, "admin", []string{"op-0"})
	require.NoError(t, err)
	metrics := relay.NewPrometheusMetrics()

	r, err := relay.NewRelayer(zaptest.NewLogger(t), cfg, q, gateway, contract, wallet, metrics)
	require.NoError(t, err)
	return &fixture{relayer: r, queue: q, gateway: gateway, metrics: metrics}
}

func (f *fixture) push(t *testing.T, key string, cmd command.Command) {
	t.Helper()
	data, err := command.Marshal(cmd)
	require.NoError(t, err)
	require.NoError(t, f.queue.Push(context.Background(), key, data))
}

func TestAccountTickCreatesAccountOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, relay.Config{}, newMockGateway())

	f.push(t, accountKey, command.CreateResourceAccount{UserAccountHash: "abc"})
	f.push(t, accountKey, command.CreateResourceAccount{UserAccountHash: "abc"})

	require.NoError(t, f.relayer.AccountTick(ctx))

	singles := f.gateway.submittedSingles()
	require.Len(t, singles, 1)
	require.Equal(t, "0xc0ffee::momo::create_resource_account", singles[0].Function)
	require.Equal(t, []string{"abc"}, singles[0].Args)

	_, exists, err := f.gateway.ResourceAccount(ctx, "abc")
	require.NoError(t, err)
	require.True(t, exists)

	// The duplicate is detected by the existence check and discarded.
	require.NoError(t, f.relayer.AccountTick(ctx))
	require.Len(t, f.gateway.submittedSingles(), 1)

	depth, err := f.queue.Len(ctx, accountKey)
	require.NoError(t, err)
	require.Zero(t, depth)
}

func TestAccountTickCombinedCreateAndMint(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, relay.Config{}, newMockGateway())

	f.push(t, accountKey, command.CreateResourceAccountAndMintToken{
		UserAccountHash: "abc",
		UniID:           "u1",
		Amount:          "2.5",
	})
	require.NoError(t, f.relayer.AccountTick(ctx))

	singles := f.gateway.submittedSingles()
	require.Len(t, singles, 1)
	require.Equal(t, "0xc0ffee::momo::create_resource_account_and_mint_token", singles[0].Function)
	require.Equal(t, []string{"abc", "u1", "250000000"}, singles[0].Args)
}

func TestAccountTickRejectsMisroutedCommand(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, relay.Config{}, newMockGateway())

	f.push(t, accountKey, command.MintToken{Receipt: "abc", UniID: "u1", Amount: "1"})

	err := f.relayer.AccountTick(ctx)
	require.ErrorContains(t, err, "account queue")
	require.Empty(t, f.gateway.submittedSingles())
}

func TestAccountTickEmptyQueueIsNoOp(t *testing.T) {
	f := newFixture(t, relay.Config{}, newMockGateway())
	require.NoError(t, f.relayer.AccountTick(context.Background()))
	require.Empty(t, f.gateway.submittedSingles())
}

func TestTokenTickBatchCompleteness(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, relay.Config{BatchSize: 10}, newMockGateway("ra-abc"))

	for i := 0; i < 15; i++ {
		f.push(t, tokenKey, command.MintToken{Receipt: "ra-abc", UniID: command.NewUniID(), Amount: "1"})
	}

	require.NoError(t, f.relayer.TokenTick(ctx))

	batches := f.gateway.submittedBatches()
	require.Len(t, batches, 1)
	require.Len(t, batches[0], 10)

	depth, err := f.queue.Len(ctx, tokenKey)
	require.NoError(t, err)
	require.EqualValues(t, 5, depth)

	// The next tick picks up the remainder.
	require.NoError(t, f.relayer.TokenTick(ctx))
	batches = f.gateway.submittedBatches()
	require.Len(t, batches, 2)
	require.Len(t, batches[1], 5)
}

// One mint to an existing account and one to a missing
// account drain in the same tick; only the former reaches the batch.
func TestTokenTickDropsMissingAccount(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, relay.Config{}, newMockGateway("ra-abc"))

	f.push(t, tokenKey, command.MintToken{Receipt: "ra-abc", UniID: "u1", Amount: "100"})
	f.push(t, tokenKey, command.MintToken{Receipt: "ra-missing", UniID: "u2", Amount: "50"})

	require.NoError(t, f.relayer.TokenTick(ctx))

	batches := f.gateway.submittedBatches()
	require.Len(t, batches, 1)
	require.Len(t, batches[0], 1)
	require.Equal(t, []string{"ra-abc", "u1", "10000000000"}, batches[0][0].Args)

	// The dropped command is gone for good: creating the account later does
	// not resurrect it.
	f.gateway.mu.Lock()
	f.gateway.existing["ra-missing"] = true
	f.gateway.mu.Unlock()
	require.NoError(t, f.relayer.TokenTick(ctx))
	require.Len(t, f.gateway.submittedBatches(), 1)
}

func TestTokenTickRequeuePolicy(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, relay.Config{
		OnMissingAccount: relay.RequeueMissing,
		RequeueLimit:     2,
	}, newMockGateway())

	f.push(t, tokenKey, command.MintToken{Receipt: "ra-late", UniID: "u1", Amount: "1"})

	// Two ticks requeue with growing attempt counts, the third drops.
	for i := 0; i < 2; i++ {
		require.NoError(t, f.relayer.TokenTick(ctx))
		depth, err := f.queue.Len(ctx, tokenKey)
		require.NoError(t, err)
		require.EqualValues(t, 1, depth, "tick %d should requeue", i)
	}
	require.NoError(t, f.relayer.TokenTick(ctx))
	depth, err := f.queue.Len(ctx, tokenKey)
	require.NoError(t, err)
	require.Zero(t, depth)
	require.Empty(t, f.gateway.submittedBatches())
}

// A tick must never re-pop the commands it just requeued: the envelope left
// on the queue after one tick carries exactly one attempt, even when the
// queue is far shorter than the batch size.
func TestTokenTickRequeueIncrementsOncePerTick(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, relay.Config{
		OnMissingAccount: relay.RequeueMissing,
		RequeueLimit:     3,
	}, newMockGateway())

	f.push(t, tokenKey, command.MintToken{Receipt: "ra-late", UniID: "u1", Amount: "1"})

	require.NoError(t, f.relayer.TokenTick(ctx))

	data, err := f.queue.Pop(ctx, tokenKey)
	require.NoError(t, err)
	env, err := command.Unmarshal(data)
	require.NoError(t, err)
	require.Equal(t, 1, env.Attempt)
	require.Equal(t, command.KindMintToken, env.Cmd.Kind())
}

func TestTokenTickRequeuedCommandSubmitsOnceAccountExists(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, relay.Config{
		OnMissingAccount: relay.RequeueMissing,
		RequeueLimit:     5,
	}, newMockGateway())

	f.push(t, tokenKey, command.TransferToken{From: "ra-late", To: "ra-b", UniID: "u1", Amount: "1"})
	require.NoError(t, f.relayer.TokenTick(ctx))
	require.Empty(t, f.gateway.submittedBatches())

	f.gateway.mu.Lock()
	f.gateway.existing["ra-late"] = true
	f.gateway.mu.Unlock()

	require.NoError(t, f.relayer.TokenTick(ctx))
	batches := f.gateway.submittedBatches()
	require.Len(t, batches, 1)
	require.Equal(t, []string{"ra-late", "ra-b", "u1", "100000000"}, batches[0][0].Args)
}

func TestTokenTickHandlesAllMovementKinds(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, relay.Config{}, newMockGateway("ra-a", "ra-b"))

	f.push(t, tokenKey, command.MintToken{Receipt: "ra-a", UniID: "u1", Amount: "1"})
	f.push(t, tokenKey, command.TransferToken{From: "ra-a", To: "ra-b", UniID: "u2", Amount: "2"})
	f.push(t, tokenKey, command.ReferralBonus{Inviter: "ra-b", UniID: "u3", Amount: "3"})
	f.push(t, tokenKey, command.TaskBonus{Receipt: "ra-a", UniID: "u4", Amount: "4"})

	require.NoError(t, f.relayer.TokenTick(ctx))

	batches := f.gateway.submittedBatches()
	require.Len(t, batches, 1)
	require.Len(t, batches[0], 4)
	require.Equal(t, "0xc0ffee::momo::mint_token", batches[0][0].Function)
	require.Equal(t, "0xc0ffee::momo::transfer_token", batches[0][1].Function)
	require.Equal(t, "0xc0ffee::momo::referral_bonus", batches[0][2].Function)
	require.Equal(t, "0xc0ffee::momo::task_bonus", batches[0][3].Function)
}

func TestTokenTickEmptyQueueSubmitsNothing(t *testing.T) {
	f := newFixture(t, relay.Config{}, newMockGateway())
	require.NoError(t, f.relayer.TokenTick(context.Background()))
	require.Empty(t, f.gateway.submittedBatches())
}

// Overlapping timer fires are skipped whole: even with ticks far slower than
// the interval, at most one drain per queue is ever in flight.
func TestRunSkipsOverlappingTicks(t *testing.T) {
	gateway := newMockGateway("ra-abc")
	gateway.callDelay = 50 * time.Millisecond

	f := newFixture(t, relay.Config{
		Interval:  5 * time.Millisecond,
		BatchSize: 1,
	}, gateway)

	for i := 0; i < 50; i++ {
		f.push(t, tokenKey, command.MintToken{Receipt: "ra-abc", UniID: command.NewUniID(), Amount: "1"})
		f.push(t, accountKey, command.CreateResourceAccount{UserAccountHash: "abc"})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	require.NoError(t, f.relayer.Run(ctx))

	gateway.mu.Lock()
	maxActive := gateway.maxActive
	gateway.mu.Unlock()

	// The account and token loops may overlap each other, but never
	// themselves.
	require.LessOrEqual(t, maxActive, 2)
	require.NotEmpty(t, gateway.submittedBatches())
}

func TestNewRelayerValidatesConfig(t *testing.T) {
	q := queue.NewMemory()
	contract, err := chain.NewCoreContract("0xc0ffee", 8)
	require.NoError(t, err)
	wallet, err := chain.NewWallet(0, "admin", []string{"op-0"})
	require.NoError(t, err)

	_, err = relay.NewRelayer(zaptest.NewLogger(t), relay.Config{
		AccountQueueKey:  accountKey,
		TokenQueueKey:    tokenKey,
		OnMissingAccount: "explode",
	}, q, newMockGateway(), contract, wallet, nil)
	require.ErrorContains(t, err, "missing-account policy")

	_, err = relay.NewRelayer(zaptest.NewLogger(t), relay.Config{
		AccountQueueKey:  accountKey,
		TokenQueueKey:    tokenKey,
		OnMissingAccount: relay.RequeueMissing,
	}, q, newMockGateway(), contract, wallet, nil)
	require.ErrorContains(t, err, "requeue limit")

	_, err = relay.NewRelayer(zaptest.NewLogger(t), relay.Config{}, q, newMockGateway(), contract, wallet, nil)
	require.ErrorContains(t, err, "queue keys")
}
