package jupiter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"solana-swap-trader/internal/domain"
)

// QuoteParams are the inputs of one quote request.
type QuoteParams struct {
	InputMint        string
	OutputMint       string
	Amount           uint64
	SlippageBps      int
	OnlyDirectRoutes bool
	MaxAccounts      int
}

// Quote requests an ExactIn quote and decodes it into a domain quote.
// The raw body is kept on the quote so the swap-build call can echo it.
// The returned quote is tagged NonDirect when OnlyDirectRoutes was false.
func (c *Client) Quote(ctx context.Context, p QuoteParams) (*domain.Quote, error) {
	q := url.Values{}
	q.Set("inputMint", p.InputMint)
	q.Set("outputMint", p.OutputMint)
	q.Set("amount", strconv.FormatUint(p.Amount, 10))
	q.Set("swapMode", "ExactIn")
	q.Set("slippageBps", strconv.Itoa(p.SlippageBps))
	q.Set("onlyDirectRoutes", strconv.FormatBool(p.OnlyDirectRoutes))
	q.Set("restrictIntermediateTokens", "true")
	if p.MaxAccounts > 0 {
		q.Set("maxAccounts", strconv.Itoa(p.MaxAccounts))
	}

	body, err := c.do(ctx, http.MethodGet, c.baseURL+quotePath+"?"+q.Encode(), nil, true)
	if err != nil {
		return nil, err
	}

	var resp quoteResponseV1
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: quote: %v", ErrDecode, err)
	}
	if resp.ErrorCode != "" {
		return nil, &HTTPError{Status: http.StatusOK, Code: resp.ErrorCode}
	}

	quote := &domain.Quote{
		InputMint:    firstNonEmpty(resp.InputMint, p.InputMint),
		OutputMint:   firstNonEmpty(resp.OutputMint, p.OutputMint),
		InAmount:     resp.InAmount.Uint64(),
		OutAmount:    resp.OutAmount.Uint64(),
		MinOutAmount: resp.minThreshold(),
		SlippageBps:  p.SlippageBps,
		PriceImpact:  resp.PriceImpactPct.Float64(),
		Legs:         make([]domain.RouteLeg, 0, len(resp.RoutePlan)),
		NonDirect:    !p.OnlyDirectRoutes,
		MaxAccounts:  p.MaxAccounts,
		Raw:          json.RawMessage(body),
		ReceivedAt:   time.Now(),
	}
	if quote.InAmount == 0 {
		quote.InAmount = p.Amount
	}
	for i := range resp.RoutePlan {
		step := &resp.RoutePlan[i]
		quote.Legs = append(quote.Legs, domain.RouteLeg{
			Label:      step.label(),
			FeeBps:     step.PercentFeeBps.Int(),
			InputMint:  step.SwapInfo.InputMint,
			OutputMint: step.SwapInfo.OutputMint,
		})
	}

	c.log.WithFields(logrus.Fields{
		"in":     short(quote.InputMint),
		"out":    short(quote.OutputMint),
		"legs":   len(quote.Legs),
		"ma":     p.MaxAccounts,
		"direct": p.OnlyDirectRoutes,
	}).Debug("quote received")

	return quote, nil
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func short(mint string) string {
	if len(mint) > 6 {
		return mint[:6]
	}
	return mint
}
