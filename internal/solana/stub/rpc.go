package stub

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"solana-swap-trader/internal/solana"
)

// ErrNotScripted is returned when a call has no scripted response left.
var ErrNotScripted = errors.New("stub: no scripted response")

// SendCall records one SendTransaction invocation.
type SendCall struct {
	Endpoint string
	Raw      []byte
	Opts     solana.SendOptions
}

// RPCClient implements solana.RPCClient for testing.
// Responses are consumed in order; the last scripted balance repeats.
type RPCClient struct {
	mu sync.Mutex

	URL string

	SendErrors  []error
	Signatures  []string
	Statuses    map[string][]*solana.SignatureStatus
	StatusErr   error
	Balances    []uint64
	BalanceErr  error
	Decimals    int
	Slot        int64
	sendCalls   []SendCall
	statusCalls int
	balanceIdx  int
}

// NewRPCClient creates a stub bound to a named endpoint.
func NewRPCClient(url string) *RPCClient {
	return &RPCClient{
		URL:      url,
		Statuses: make(map[string][]*solana.SignatureStatus),
		Decimals: 6,
	}
}

// Endpoint returns the configured endpoint name.
func (c *RPCClient) Endpoint() string {
	return c.URL
}

// SendTransaction pops the next scripted error; when none remain it returns
// the next scripted signature or a synthetic one.
func (c *RPCClient) SendTransaction(_ context.Context, raw []byte, opts solana.SendOptions) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := len(c.sendCalls)
	c.sendCalls = append(c.sendCalls, SendCall{Endpoint: c.URL, Raw: raw, Opts: opts})

	if n < len(c.SendErrors) && c.SendErrors[n] != nil {
		return "", c.SendErrors[n]
	}
	if n < len(c.Signatures) {
		return c.Signatures[n], nil
	}
	return fmt.Sprintf("sig-%s-%d", c.URL, n), nil
}

// GetSignatureStatuses returns the next scripted status per signature.
// The final scripted status for a signature repeats.
func (c *RPCClient) GetSignatureStatuses(_ context.Context, sigs []string) ([]*solana.SignatureStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.statusCalls++
	if c.StatusErr != nil {
		return nil, c.StatusErr
	}

	out := make([]*solana.SignatureStatus, len(sigs))
	for i, sig := range sigs {
		seq := c.Statuses[sig]
		if len(seq) == 0 {
			continue
		}
		out[i] = seq[0]
		if len(seq) > 1 {
			c.Statuses[sig] = seq[1:]
		}
	}
	return out, nil
}

// GetTokenBalance returns scripted balances in order.
func (c *RPCClient) GetTokenBalance(_ context.Context, _ string, mint string) (*solana.TokenBalance, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.BalanceErr != nil {
		return nil, c.BalanceErr
	}
	if len(c.Balances) == 0 {
		return nil, ErrNotScripted
	}
	idx := c.balanceIdx
	if idx >= len(c.Balances) {
		idx = len(c.Balances) - 1
	} else {
		c.balanceIdx++
	}
	amount := c.Balances[idx]
	accounts := 0
	if amount > 0 {
		accounts = 1
	}
	return &solana.TokenBalance{Mint: mint, Amount: amount, Decimals: c.Decimals, Accounts: accounts}, nil
}

// GetSlot returns the scripted slot.
func (c *RPCClient) GetSlot(_ context.Context) (int64, error) {
	return c.Slot, nil
}

// SendCalls returns a copy of the recorded SendTransaction calls.
func (c *RPCClient) SendCalls() []SendCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]SendCall, len(c.sendCalls))
	copy(out, c.sendCalls)
	return out
}

// StatusCalls returns how many times GetSignatureStatuses was called.
func (c *RPCClient) StatusCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusCalls
}

// BalanceCalls returns how many scripted balances have been consumed.
func (c *RPCClient) BalanceCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.balanceIdx
}

// Landed is a convenience status for a confirmed, successful signature.
func Landed() *solana.SignatureStatus {
	return &solana.SignatureStatus{ConfirmationStatus: solana.CommitmentConfirmed}
}

// Pending is a convenience status for a processed signature with no confirmations.
func Pending() *solana.SignatureStatus {
	zero := int64(0)
	return &solana.SignatureStatus{Confirmations: &zero, ConfirmationStatus: solana.CommitmentProcessed}
}

// Failed is a convenience status carrying an execution error.
func Failed(errVal interface{}) *solana.SignatureStatus {
	return &solana.SignatureStatus{Err: errVal, ConfirmationStatus: solana.CommitmentConfirmed}
}

var _ solana.RPCClient = (*RPCClient)(nil)
