package submit

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"solana-swap-trader/internal/clock"
	"solana-swap-trader/internal/domain"
	"solana-swap-trader/internal/observability"
	"solana-swap-trader/internal/solana"
)

// Confirmation polling defaults.
const (
	DefaultConfirmTimeout  = 90 * time.Second
	DefaultConfirmInitial  = 500 * time.Millisecond
	DefaultConfirmMaxDelay = 3 * time.Second
	DefaultConfirmFactor   = 1.7
)

// ConfirmConfig configures Confirmer.
type ConfirmConfig struct {
	Timeout         time.Duration
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	Clock           clock.Clock
	Logger          logrus.FieldLogger
}

// Confirmer polls signature status until the transaction settles.
type Confirmer struct {
	client solana.RPCClient
	cfg    ConfirmConfig
	log    logrus.FieldLogger
}

// NewConfirmer creates a Confirmer with defaults applied.
func NewConfirmer(client solana.RPCClient, cfg ConfirmConfig) *Confirmer {
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultConfirmTimeout
	}
	if cfg.InitialInterval == 0 {
		cfg.InitialInterval = DefaultConfirmInitial
	}
	if cfg.MaxInterval == 0 {
		cfg.MaxInterval = DefaultConfirmMaxDelay
	}
	if cfg.Multiplier == 0 {
		cfg.Multiplier = DefaultConfirmFactor
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	return &Confirmer{client: client, cfg: cfg, log: cfg.Logger.WithField("component", "confirm")}
}

func (c *Confirmer) newBackOff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.cfg.InitialInterval
	bo.Multiplier = c.cfg.Multiplier
	bo.MaxInterval = c.cfg.MaxInterval
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0 // the deadline is enforced by Confirm
	bo.Clock = c.cfg.Clock
	bo.Reset()
	return bo
}

// Confirm polls until the signature lands or fails, or the timeout passes.
//
// An execution error returns *domain.TransactionFailedError. Reaching the
// deadline returns *domain.ConfirmationTimeoutError: the outcome is unknown
// and the transaction may still land. Status lookup errors are transient
// and polling continues.
func (c *Confirmer) Confirm(ctx context.Context, signature string) (*solana.SignatureStatus, error) {
	clk := c.cfg.Clock
	start := clk.Now()
	bo := c.newBackOff()

	for {
		statuses, err := c.client.GetSignatureStatuses(ctx, []string{signature})
		switch {
		case err != nil:
			c.log.WithError(err).WithField("sig", signature).Debug("status lookup failed")
		case len(statuses) > 0 && statuses[0] != nil:
			st := statuses[0]
			if st.Failed() {
				observability.RecordConfirmation("failed", clk.Now().Sub(start).Seconds())
				return st, &domain.TransactionFailedError{Signature: signature, Err: st.Err}
			}
			if st.Landed() {
				observability.RecordConfirmation("landed", clk.Now().Sub(start).Seconds())
				c.log.WithFields(logrus.Fields{
					"sig":    signature,
					"status": st.ConfirmationStatus,
					"slot":   st.Slot,
				}).Info("transaction confirmed")
				return st, nil
			}
		}

		elapsed := clk.Now().Sub(start)
		if elapsed >= c.cfg.Timeout {
			observability.RecordConfirmation("timeout", elapsed.Seconds())
			c.log.WithField("sig", signature).Warn("confirmation timed out; outcome indeterminate")
			return nil, &domain.ConfirmationTimeoutError{Signature: signature, Waited: elapsed}
		}

		wait := bo.NextBackOff()
		if remaining := c.cfg.Timeout - elapsed; wait > remaining {
			wait = remaining
		}
		if err := clk.Sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
}
