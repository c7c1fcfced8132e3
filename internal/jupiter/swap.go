package jupiter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"solana-swap-trader/internal/domain"
)

// DefaultComputeUnitPrice is the priority fee sent with every swap build.
const DefaultComputeUnitPrice uint64 = 9000

// SwapResult is the swap-build endpoint's success variant.
type SwapResult struct {
	Transaction          string // base64 unsigned legacy transaction
	LastValidBlockHeight uint64
}

// Swap builds an unsigned legacy transaction for the quote in req.
// An embedded error or simulation error in a 200 body is returned as
// *domain.SwapSimulationError.
func (c *Client) Swap(ctx context.Context, req *domain.SwapRequest, minOut uint64) (*SwapResult, error) {
	if req == nil || req.Quote == nil || len(req.Quote.Raw) == 0 {
		return nil, fmt.Errorf("swap: quote with raw response required")
	}

	cup := req.ComputeUnitPriceMicroLamports
	if cup == 0 {
		cup = DefaultComputeUnitPrice
	}
	payload := swapRequestV1{
		QuoteResponse:                 req.Quote.Raw,
		UserPublicKey:                 req.UserPublicKey,
		WrapAndUnwrapSol:              req.WrapAndUnwrapSOL,
		AsLegacyTransaction:           true,
		DynamicSlippage:               false,
		MinOut:                        minOut,
		ComputeUnitPriceMicroLamports: cup,
	}
	if req.UseSharedAccounts {
		shared := true
		payload.UseSharedAccounts = &shared
	}

	body, err := c.do(ctx, http.MethodPost, c.baseURL+swapPath, payload, true)
	if err != nil {
		return nil, err
	}

	var resp swapResponseV1
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: swap: %v", ErrDecode, err)
	}

	switch {
	case resp.SimulationError != nil:
		return nil, &domain.SwapSimulationError{
			Code:    resp.SimulationError.ErrorCode,
			Message: resp.SimulationError.Error,
		}
	case len(resp.Error) > 0 && string(resp.Error) != "null":
		eb := errorBodyV1{ErrorCode: resp.ErrorCode, Error: resp.Error}
		return nil, &domain.SwapSimulationError{
			Code:    eb.code(),
			Message: truncate(string(resp.Error), 600),
		}
	case resp.SwapTransaction == "":
		return nil, fmt.Errorf("%w: swap: missing swapTransaction", ErrDecode)
	}

	return &SwapResult{
		Transaction:          resp.SwapTransaction,
		LastValidBlockHeight: resp.LastValidBlockHeight,
	}, nil
}
