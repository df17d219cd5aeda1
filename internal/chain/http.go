package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

// HTTPClient talks JSON-RPC to a ledger gateway. The limiter keeps the
// worker under the provider's rate cap; hitting it anyway surfaces as
// ErrRateLimited and goes through the normal retry path.
type HTTPClient struct {
	endpoint string
	apiKey   string
	client   *http.Client
	limiter  *rate.Limiter
}

// NewHTTPClient creates a rate-limited gateway client.
func NewHTTPClient(endpoint, apiKey string, rps float64) *HTTPClient {
	return &HTTPClient{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: 30 * time.Second},
		limiter:  rate.NewLimiter(rate.Limit(rps), 1),
	}
}

type rpcRequest struct {
	Method string         `json:"method"`
	Params map[string]any `json:"params"`
	APIKey string         `json:"api_key"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *HTTPClient) call(ctx context.Context, method string, params map[string]any, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrNetwork, err)
	}

	body, err := json.Marshal(rpcRequest{Method: method, Params: params, APIKey: c.apiKey})
	if err != nil {
		return fmt.Errorf("marshal %s: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return ErrRateLimited
	}
	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: gateway status %d", ErrNetwork, resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNetwork, err)
	}

	var rpc rpcResponse
	if err := json.Unmarshal(raw, &rpc); err != nil {
		return fmt.Errorf("parse %s response: %w", method, err)
	}
	if rpc.Error != nil {
		switch rpc.Error.Code {
		case "INVALID_ADDRESS":
			return fmt.Errorf("%w: %s", ErrInvalidAddress, rpc.Error.Message)
		case "REVERTED":
			return fmt.Errorf("%w: %s", ErrReverted, rpc.Error.Message)
		case "RATE_LIMITED":
			return ErrRateLimited
		default:
			return fmt.Errorf("%w: %s %s", ErrNetwork, rpc.Error.Code, rpc.Error.Message)
		}
	}
	if out != nil {
		if err := json.Unmarshal(rpc.Result, out); err != nil {
			return fmt.Errorf("parse %s result: %w", method, err)
		}
	}
	return nil
}

// SubmitTransfer submits a transfer and waits for the receipt.
func (c *HTTPClient) SubmitTransfer(ctx context.Context, from, to string, amount decimal.Decimal) (TxReceipt, error) {
	if !ValidAddress(to) {
		return TxReceipt{}, fmt.Errorf("%w: %q", ErrInvalidAddress, to)
	}
	var receipt TxReceipt
	err := c.call(ctx, "submit_transfer", map[string]any{
		"from":   from,
		"to":     to,
		"amount": amount.String(),
	}, &receipt)
	return receipt, err
}

// Deposits lists incoming transfers at or after sinceBlock.
func (c *HTTPClient) Deposits(ctx context.Context, sinceBlock uint64) ([]Deposit, error) {
	var deposits []Deposit
	err := c.call(ctx, "list_deposits", map[string]any{
		"since_block": sinceBlock,
	}, &deposits)
	return deposits, err
}
