package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const defaultRPCTimeout = 30 * time.Second

// RPCGateway implements Gateway over the JSON-RPC surface of the wallet
// daemon, which holds key material and the chain client. The keeper never
// signs or encodes transactions itself.
type RPCGateway struct {
	log        *zap.Logger
	url        string
	httpClient *http.Client
	contract   *CoreContract

	mu       sync.RWMutex
	accounts map[string]string   // userAccountHash -> resource account, positive results only
	existing map[string]struct{} // resource accounts known to exist
}

var _ Gateway = (*RPCGateway)(nil)

func NewRPCGateway(log *zap.Logger, url string, timeout time.Duration, contract *CoreContract) *RPCGateway {
	if timeout == 0 {
		timeout = defaultRPCTimeout
	}
	return &RPCGateway{
		log:        log.With(zap.String("sys", "gateway")),
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
		contract:   contract,
		accounts:   make(map[string]string),
		existing:   make(map[string]struct{}),
	}
}

type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
	ID      int         `json:"id"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

type viewParams struct {
	Function  string   `json:"function"`
	Arguments []string `json:"arguments"`
}

type submitParams struct {
	Sender   Identity  `json:"sender"`
	Payloads []Payload `json:"payloads"`
}

// MarshalJSON keeps the wire names of Payload stable independently of the Go
// field names.
func (p Payload) MarshalJSON() ([]byte, error) {
	return json.Marshal(viewParams{Function: p.Function, Arguments: p.Args})
}

func (g *RPCGateway) call(ctx context.Context, method string, params, result interface{}) error {
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", Method: method, Params: params, ID: 1})
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute %s request: %w", method, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s response: %w", method, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned status %d: %s", method, resp.StatusCode, respBody)
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return fmt.Errorf("decode %s response: %w", method, err)
	}
	if rpcResp.Error != nil {
		return rpcResp.Error
	}
	if result != nil {
		if err := json.Unmarshal(rpcResp.Result, result); err != nil {
			return fmt.Errorf("decode %s result: %w", method, err)
		}
	}
	return nil
}

// view wraps read calls with a short transient-failure retry. Submission
// calls are never retried here; replay defense belongs to the chain contract.
func (g *RPCGateway) view(ctx context.Context, function string, args []string, result interface{}) error {
	return retry.Do(
		func() error {
			err := g.call(ctx, "view", viewParams{Function: function, Arguments: args}, result)
			if _, ok := err.(*rpcError); ok {
				// Execution-level failures are deterministic.
				return retry.Unrecoverable(err)
			}
			return err
		},
		retry.Context(ctx),
		retry.Attempts(3),
		retry.Delay(100*time.Millisecond),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	)
}

func (g *RPCGateway) ResourceAccount(ctx context.Context, userAccountHash string) (string, bool, error) {
	g.mu.RLock()
	account, ok := g.accounts[userAccountHash]
	g.mu.RUnlock()
	if ok {
		return account, true, nil
	}

	var results []string
	err := g.view(ctx, g.contract.ViewResourceAccount(), []string{userAccountHash}, &results)
	var execErr *rpcError
	if errors.As(err, &execErr) {
		// The view aborts while the resource account does not exist yet.
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	if len(results) == 0 || results[0] == "" {
		return "", false, nil
	}

	g.mu.Lock()
	g.accounts[userAccountHash] = results[0]
	g.existing[results[0]] = struct{}{}
	g.mu.Unlock()
	return results[0], true, nil
}

func (g *RPCGateway) AccountExists(ctx context.Context, resourceAccount string) (bool, error) {
	g.mu.RLock()
	_, ok := g.existing[resourceAccount]
	g.mu.RUnlock()
	if ok {
		return true, nil
	}

	var results []bool
	if err := g.view(ctx, g.contract.ViewAccountExists(), []string{resourceAccount}, &results); err != nil {
		return false, err
	}
	if len(results) == 0 || !results[0] {
		return false, nil
	}

	// Accounts are never deleted, so a positive answer is cacheable forever.
	g.mu.Lock()
	g.existing[resourceAccount] = struct{}{}
	g.mu.Unlock()
	return true, nil
}

func (g *RPCGateway) Balance(ctx context.Context, resourceAccount string) (decimal.Decimal, error) {
	var results []string
	if err := g.view(ctx, g.contract.ViewBalance(), []string{resourceAccount}, &results); err != nil {
		return decimal.Decimal{}, err
	}
	if len(results) == 0 {
		return decimal.Decimal{}, fmt.Errorf("balance view returned no value for %s", resourceAccount)
	}
	return g.contract.FromBaseUnits(results[0])
}

func (g *RPCGateway) SubmitBatch(ctx context.Context, identity Identity, payloads []Payload) (BatchResult, error) {
	var result BatchResult
	err := g.call(ctx, "submit_batch", submitParams{Sender: identity, Payloads: payloads}, &result)
	if err != nil {
		return BatchResult{}, fmt.Errorf("submit batch of %d: %w", len(payloads), err)
	}
	return result, nil
}

func (g *RPCGateway) SubmitSingle(ctx context.Context, identity Identity, payload Payload) (TxResult, error) {
	var result TxResult
	err := g.call(ctx, "submit_single", submitParams{Sender: identity, Payloads: []Payload{payload}}, &result)
	if err != nil {
		return TxResult{}, fmt.Errorf("submit %s: %w", payload.Function, err)
	}
	return result, nil
}
