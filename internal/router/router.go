// Package router races aggregator quote requests and selects the first
// candidate that passes a routing policy.
package router

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"solana-swap-trader/internal/domain"
	"solana-swap-trader/internal/jupiter"
	"solana-swap-trader/internal/observability"
)

// Quoter issues one quote request.
type Quoter interface {
	Quote(ctx context.Context, p jupiter.QuoteParams) (*domain.Quote, error)
}

// Builder is the post-build hook offered every candidate that passes the
// policy, in arrival order. A returned error excludes the candidate and the
// race continues with the next arrival.
type Builder func(ctx context.Context, q *domain.Quote) (*domain.SignedTransaction, error)

// Request is one routing request.
type Request struct {
	InputMint  string
	OutputMint string
	Amount     uint64
	Policy     Policy
	Build      Builder // optional
}

// Result is the accepted candidate.
type Result struct {
	Quote      *domain.Quote
	Tx         *domain.SignedTransaction // set when a Builder was supplied
	Variant    Variant
	Rejections []*domain.RouteRejection // candidates excluded before this one
}

// Router runs quote races.
type Router struct {
	quoter Quoter
	log    logrus.FieldLogger
}

// New creates a Router.
func New(quoter Quoter, log logrus.FieldLogger) *Router {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Router{quoter: quoter, log: log.WithField("component", "router")}
}

type arrival struct {
	variant Variant
	quote   *domain.Quote
	tx      *domain.SignedTransaction
	err     error
}

// Route races every policy variant and returns the first acceptable candidate.
// When no direct candidate passes and any rejection means "no route", one
// non-direct request is issued if the policy allows it.
// Returns *domain.NoRouteError when nothing passes.
func (r *Router) Route(ctx context.Context, req Request) (*Result, error) {
	if len(req.Policy.Variants) == 0 {
		return nil, fmt.Errorf("router: policy has no variants")
	}

	res, rejections := r.race(ctx, req, req.Policy.Variants, "direct")
	if res != nil {
		return res, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if req.Policy.Fallback && anyNoRoute(rejections) && allDirect(req.Policy.Variants) {
		ma := req.Policy.FallbackMaxAccounts
		if ma == 0 {
			ma = req.Policy.Variants[0].MaxAccounts
		}
		r.log.WithFields(logrus.Fields{
			"out":    req.OutputMint,
			"reason": rejections[len(rejections)-1].Error(),
		}).Info("retrying with non-direct route")

		fres, frej := r.race(ctx, req, []Variant{{OnlyDirect: false, MaxAccounts: ma}}, "fallback")
		if fres != nil {
			fres.Rejections = append(rejections, fres.Rejections...)
			return fres, nil
		}
		rejections = append(rejections, frej...)
	}

	return nil, &domain.NoRouteError{
		InputMint:  req.InputMint,
		OutputMint: req.OutputMint,
		Rejections: rejections,
	}
}

// race issues one request per variant and consumes arrivals in order.
// Goroutines of losing variants finish into the buffered channel and are
// never awaited; their in-flight requests are not aborted.
func (r *Router) race(ctx context.Context, req Request, variants []Variant, pass string) (*Result, []*domain.RouteRejection) {
	timeout := req.Policy.Timeout
	if timeout <= 0 {
		timeout = BuyQuoteTimeout
	}
	arrivals := make(chan arrival, len(variants))
	for _, v := range variants {
		go func(v Variant) {
			qctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
			defer cancel()
			start := time.Now()
			q, err := r.quoter.Quote(qctx, jupiter.QuoteParams{
				InputMint:        req.InputMint,
				OutputMint:       req.OutputMint,
				Amount:           req.Amount,
				SlippageBps:      req.Policy.SlippageBps,
				OnlyDirectRoutes: v.OnlyDirect,
				MaxAccounts:      v.MaxAccounts,
			})
			observability.RecordQuoteLatency(pass, time.Since(start).Seconds())
			arrivals <- arrival{variant: v, quote: q, err: err}
		}(v)
	}

	var rejections []*domain.RouteRejection
	for i := 0; i < len(variants); i++ {
		var a arrival
		select {
		case a = <-arrivals:
		case <-ctx.Done():
			return nil, append(rejections, &domain.RouteRejection{
				Candidate: pass,
				Reason:    domain.RejectTransport,
				Err:       ctx.Err(),
			})
		}

		rej := r.evaluate(ctx, req, &a)
		if rej == nil {
			observability.RecordQuoteCandidate(req.Policy.Side, "accepted")
			return a.result(rejections), nil
		}
		observability.RecordQuoteCandidate(req.Policy.Side, string(rej.Reason))
		r.log.WithFields(logrus.Fields{
			"variant": a.variant.String(),
			"reason":  rej.Reason,
			"detail":  rej.Detail,
		}).Debug("candidate rejected")
		rejections = append(rejections, rej)
	}
	return nil, rejections
}

// evaluate classifies an arrival. A nil return means accepted; a built
// transaction, if any, is stored on the arrival.
func (r *Router) evaluate(ctx context.Context, req Request, a *arrival) *domain.RouteRejection {
	candidate := a.variant.String()
	if a.err != nil {
		return classify(candidate, a.err)
	}

	q := a.quote
	if q == nil {
		return &domain.RouteRejection{Candidate: candidate, Reason: domain.RejectEmptyRoute}
	}
	q.NonDirect = !a.variant.OnlyDirect
	if rej := req.Policy.check(q); rej != nil {
		rej.Candidate = candidate
		return rej
	}

	if req.Build != nil {
		tx, err := req.Build(ctx, q)
		if err != nil {
			return classify(candidate, err)
		}
		a.tx = tx
	}
	return nil
}

func (a *arrival) result(rejections []*domain.RouteRejection) *Result {
	return &Result{Quote: a.quote, Tx: a.tx, Variant: a.variant, Rejections: rejections}
}

// classify maps a transport, aggregator or build error onto a rejection.
func classify(candidate string, err error) *domain.RouteRejection {
	var (
		herr    *jupiter.HTTPError
		simErr  *domain.SwapSimulationError
		sizeErr *domain.TransactionTooLargeError
	)
	switch {
	case errors.As(err, &herr):
		return &domain.RouteRejection{Candidate: candidate, Reason: domain.RejectHTTPStatus, Detail: herr.Reason(), Err: err}
	case errors.As(err, &sizeErr):
		return &domain.RouteRejection{Candidate: candidate, Reason: domain.RejectTooLarge, Err: err}
	case errors.As(err, &simErr):
		return &domain.RouteRejection{Candidate: candidate, Reason: domain.RejectSimulation, Detail: simErr.Code, Err: err}
	case errors.Is(err, jupiter.ErrDecode):
		return &domain.RouteRejection{Candidate: candidate, Reason: domain.RejectDecode, Err: err}
	default:
		return &domain.RouteRejection{Candidate: candidate, Reason: domain.RejectTransport, Err: err}
	}
}

func anyNoRoute(rejections []*domain.RouteRejection) bool {
	for _, rej := range rejections {
		if rej.IsNoRoute() {
			return true
		}
	}
	return false
}

func allDirect(variants []Variant) bool {
	for _, v := range variants {
		if !v.OnlyDirect {
			return false
		}
	}
	return true
}

// Target pairs a routing request with a name for logs, e.g. "USDC".
type Target struct {
	Name    string
	Request Request
}

// RouteAny routes every target concurrently. The first target in the slice
// is preferred when several succeed. When all fail, the second target is
// retried once. The error of the preferred target is returned on failure.
func (r *Router) RouteAny(ctx context.Context, targets []Target) (*Result, int, error) {
	if len(targets) == 0 {
		return nil, -1, fmt.Errorf("router: no targets")
	}

	results := make([]*Result, len(targets))
	errs := make([]error, len(targets))
	var wg sync.WaitGroup
	for i := range targets {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = r.Route(ctx, targets[i].Request)
		}(i)
	}
	wg.Wait()

	for i, res := range results {
		if res != nil {
			return res, i, nil
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, -1, err
	}

	if len(targets) > 1 {
		alt := targets[1]
		r.log.WithFields(logrus.Fields{
			"target": alt.Name,
			"err":    errs[1],
		}).Info("retrying alternative target")
		res, err := r.Route(ctx, alt.Request)
		if err == nil {
			return res, 1, nil
		}
		errs[1] = err
	}
	return nil, -1, errs[0]
}
