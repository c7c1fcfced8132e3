// Package submit sends signed transactions across a matrix of RPC endpoints
// and preflight modes, and polls for their confirmation.
package submit

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"solana-swap-trader/internal/clock"
	"solana-swap-trader/internal/domain"
	"solana-swap-trader/internal/observability"
	"solana-swap-trader/internal/solana"
)

// PublicFallbackRPC is appended as the last endpoint when no fallback is configured.
const PublicFallbackRPC = "https://api.mainnet-beta.solana.com"

// DefaultAttemptDelay is the pause after every failed attempt.
const DefaultAttemptDelay = 200 * time.Millisecond

// Mode is one preflight setting of the matrix.
type Mode struct {
	SkipPreflight bool
	Commitment    string
	MaxRetries    int
}

func (m Mode) String() string {
	if m.SkipPreflight {
		return "skip_preflight"
	}
	return "preflight"
}

// DefaultModes tries preflight first, then skips it with more node-side retries.
var DefaultModes = []Mode{
	{SkipPreflight: false, Commitment: solana.CommitmentConfirmed, MaxRetries: 2},
	{SkipPreflight: true, Commitment: solana.CommitmentProcessed, MaxRetries: 4},
}

// Config configures Submitter.
type Config struct {
	Modes        []Mode
	AttemptDelay time.Duration
	Clock        clock.Clock
	Logger       logrus.FieldLogger
}

// Submitter tries every (endpoint, mode) pair in priority order.
type Submitter struct {
	endpoints []solana.RPCClient
	modes     []Mode
	delay     time.Duration
	clock     clock.Clock
	log       logrus.FieldLogger
}

// NewSubmitter creates a Submitter. endpoints are tried in order: primary first.
func NewSubmitter(endpoints []solana.RPCClient, cfg Config) *Submitter {
	if len(cfg.Modes) == 0 {
		cfg.Modes = DefaultModes
	}
	if cfg.AttemptDelay == 0 {
		cfg.AttemptDelay = DefaultAttemptDelay
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	return &Submitter{
		endpoints: endpoints,
		modes:     cfg.Modes,
		delay:     cfg.AttemptDelay,
		clock:     cfg.Clock,
		log:       cfg.Logger.WithField("component", "submit"),
	}
}

// Result is a successful submission and the attempts that led to it.
type Result struct {
	Signature string
	Endpoint  string
	Attempts  []domain.SubmissionAttempt
}

// Submit sends tx until one pair returns a signature. It does not wait for
// confirmation. When every pair fails it returns
// *domain.SubmissionExhaustedError carrying the last error.
func (s *Submitter) Submit(ctx context.Context, tx *domain.SignedTransaction) (*Result, error) {
	if len(s.endpoints) == 0 {
		return nil, fmt.Errorf("submit: no endpoints configured")
	}

	var (
		attempts []domain.SubmissionAttempt
		lastErr  error
	)
	for _, ep := range s.endpoints {
		for _, mode := range s.modes {
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			sig, err := ep.SendTransaction(ctx, tx.Payload, solana.SendOptions{
				SkipPreflight:       mode.SkipPreflight,
				PreflightCommitment: mode.Commitment,
				MaxRetries:          mode.MaxRetries,
			})
			attempt := domain.SubmissionAttempt{
				Endpoint:      ep.Endpoint(),
				SkipPreflight: mode.SkipPreflight,
				Commitment:    mode.Commitment,
				MaxRetries:    mode.MaxRetries,
				Signature:     sig,
				Err:           err,
			}
			attempts = append(attempts, attempt)

			if attempt.Succeeded() {
				observability.RecordSubmission(ep.Endpoint(), mode.String(), "ok")
				s.log.WithFields(logrus.Fields{
					"endpoint": ep.Endpoint(),
					"mode":     mode.String(),
					"sig":      sig,
					"attempt":  len(attempts),
				}).Info("transaction sent")
				return &Result{Signature: sig, Endpoint: ep.Endpoint(), Attempts: attempts}, nil
			}

			if err == nil {
				err = fmt.Errorf("empty signature from %s", ep.Endpoint())
				attempts[len(attempts)-1].Err = err
			}
			lastErr = err
			observability.RecordSubmission(ep.Endpoint(), mode.String(), "error")
			s.log.WithFields(logrus.Fields{
				"endpoint": ep.Endpoint(),
				"mode":     mode.String(),
				"attempt":  len(attempts),
			}).WithError(err).Warn("send failed")

			if err := s.clock.Sleep(ctx, s.delay); err != nil {
				return nil, err
			}
		}
	}

	return nil, &domain.SubmissionExhaustedError{Attempts: attempts, Last: lastErr}
}
