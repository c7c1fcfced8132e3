package jupiter

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// Response schemas, one per endpoint version. Field fallbacks are explicit
// methods on the schema rather than lookups scattered through callers.

// flexNumber accepts a JSON number or a JSON string holding a number.
// The aggregator encodes amounts as strings and some fractions as either.
type flexNumber string

func (n *flexNumber) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*n = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*n = flexNumber(strings.TrimSpace(s))
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(b, &num); err != nil {
		return err
	}
	*n = flexNumber(num.String())
	return nil
}

func (n flexNumber) Uint64() uint64 {
	if n == "" {
		return 0
	}
	v, err := strconv.ParseUint(string(n), 10, 64)
	if err != nil {
		// Some amounts arrive as "123.0".
		f, ferr := strconv.ParseFloat(string(n), 64)
		if ferr != nil || f < 0 {
			return 0
		}
		return uint64(f)
	}
	return v
}

func (n flexNumber) Float64() float64 {
	if n == "" {
		return 0
	}
	f, err := strconv.ParseFloat(string(n), 64)
	if err != nil {
		return 0
	}
	return f
}

func (n flexNumber) Int() int {
	return int(n.Float64())
}

// errorBodyV1 is the error envelope shared by quote and swap endpoints.
type errorBodyV1 struct {
	ErrorCode string          `json:"errorCode"`
	Error     json.RawMessage `json:"error"`
}

func (e errorBodyV1) code() string {
	if e.ErrorCode != "" {
		return e.ErrorCode
	}
	if len(e.Error) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(e.Error, &s) == nil {
		return s
	}
	var obj simulationErrorV1
	if json.Unmarshal(e.Error, &obj) == nil {
		if obj.ErrorCode != "" {
			return obj.ErrorCode
		}
		return obj.Error
	}
	return ""
}

// quoteResponseV1 is GET /swap/v1/quote.
type quoteResponseV1 struct {
	InputMint             string            `json:"inputMint"`
	InAmount              flexNumber        `json:"inAmount"`
	OutputMint            string            `json:"outputMint"`
	OutAmount             flexNumber        `json:"outAmount"`
	OtherAmountThreshold  flexNumber        `json:"otherAmountThreshold"`
	OutAmountWithSlippage flexNumber        `json:"outAmountWithSlippage"`
	SwapMode              string            `json:"swapMode"`
	SlippageBps           int               `json:"slippageBps"`
	PriceImpactPct        flexNumber        `json:"priceImpactPct"`
	RoutePlan             []routePlanStepV1 `json:"routePlan"`
	ErrorCode             string            `json:"errorCode"`
}

// minThreshold returns otherAmountThreshold, falling back to outAmountWithSlippage.
func (q *quoteResponseV1) minThreshold() uint64 {
	if v := q.OtherAmountThreshold.Uint64(); v > 0 {
		return v
	}
	return q.OutAmountWithSlippage.Uint64()
}

type routePlanStepV1 struct {
	SwapInfo      swapInfoV1 `json:"swapInfo"`
	Percent       flexNumber `json:"percent"`
	PercentFeeBps flexNumber `json:"percentFeeBps"`
	Label         string     `json:"label"`
}

// label prefers swapInfo.label, then the step label.
func (s *routePlanStepV1) label() string {
	if s.SwapInfo.Label != "" {
		return s.SwapInfo.Label
	}
	return s.Label
}

type swapInfoV1 struct {
	AmmKey     string     `json:"ammKey"`
	Label      string     `json:"label"`
	InputMint  string     `json:"inputMint"`
	OutputMint string     `json:"outputMint"`
	InAmount   flexNumber `json:"inAmount"`
	OutAmount  flexNumber `json:"outAmount"`
	FeeAmount  flexNumber `json:"feeAmount"`
	FeeMint    string     `json:"feeMint"`
}

// swapRequestV1 is the body of POST /swap/v1/swap.
type swapRequestV1 struct {
	QuoteResponse                 json.RawMessage `json:"quoteResponse"`
	UserPublicKey                 string          `json:"userPublicKey"`
	WrapAndUnwrapSol              bool            `json:"wrapAndUnwrapSol"`
	UseSharedAccounts             *bool           `json:"useSharedAccounts,omitempty"`
	AsLegacyTransaction           bool            `json:"asLegacyTransaction"`
	DynamicSlippage               bool            `json:"dynamicSlippage"`
	MinOut                        uint64          `json:"minOut,omitempty"`
	ComputeUnitPriceMicroLamports uint64          `json:"computeUnitPriceMicroLamports,omitempty"`
}

// swapResponseV1 is a tagged variant: either SwapTransaction or one of the
// error fields is set.
type swapResponseV1 struct {
	SwapTransaction           string             `json:"swapTransaction"`
	LastValidBlockHeight      uint64             `json:"lastValidBlockHeight"`
	PrioritizationFeeLamports uint64             `json:"prioritizationFeeLamports"`
	SimulationError           *simulationErrorV1 `json:"simulationError"`
	Error                     json.RawMessage    `json:"error"`
	ErrorCode                 string             `json:"errorCode"`
}

type simulationErrorV1 struct {
	ErrorCode string `json:"errorCode"`
	Error     string `json:"error"`
}

// priceEntryV3 is one id in GET /price/v3. usdPrice is current, price is
// the older field name.
type priceEntryV3 struct {
	USDPrice flexNumber `json:"usdPrice"`
	Price    flexNumber `json:"price"`
}

func (p *priceEntryV3) value() float64 {
	if p == nil {
		return 0
	}
	if v := p.USDPrice.Float64(); v > 0 {
		return v
	}
	return p.Price.Float64()
}

// decodePriceResponseV3 accepts {"data": {id: entry}} first, then a top-level
// {id: entry} map.
func decodePriceResponseV3(body []byte) (map[string]*priceEntryV3, error) {
	var env struct {
		Data map[string]*priceEntryV3 `json:"data"`
	}
	if err := json.Unmarshal(body, &env); err == nil && env.Data != nil {
		return env.Data, nil
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, err
	}
	flat := make(map[string]*priceEntryV3, len(raw))
	for id, v := range raw {
		var entry priceEntryV3
		if json.Unmarshal(v, &entry) != nil {
			continue // non-entry members such as timeTaken
		}
		flat[id] = &entry
	}
	return flat, nil
}
