// Package webhook turns verified provider notifications into transaction
// transitions and balance credits. The pipeline is verify, parse, load,
// compare-and-set, credit; each stage is safe to replay.
package webhook

import (
	"context"
	"strings"

	ledgerdomain "github.com/tallyhq/tally/internal/ledger/domain"
	obsmetrics "github.com/tallyhq/tally/internal/observability/metrics"
	"github.com/tallyhq/tally/internal/payment/adapters"
	"github.com/tallyhq/tally/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log        *zap.Logger
	Registry   *adapters.Registry
	Payments   domain.Service
	Ledger     ledgerdomain.Service
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	log        *zap.Logger
	registry   *adapters.Registry
	payments   domain.Service
	ledger     ledgerdomain.Service
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) domain.Reconciler {
	return &Service{
		log:        p.Log.Named("payment.webhook"),
		registry:   p.Registry,
		payments:   p.Payments,
		ledger:     p.Ledger,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) Reconcile(ctx context.Context, provider string, body []byte, header map[string]string) (domain.PaymentTransaction, error) {
	adapter := s.registry.Lookup(provider)
	if adapter == nil {
		return domain.PaymentTransaction{}, domain.ErrInvalidProvider
	}

	if err := adapter.Verify(ctx, body, header); err != nil {
		s.record(ctx, adapter.Provider(), "verification_failed")
		return domain.PaymentTransaction{}, err
	}

	event, err := adapter.Parse(ctx, body)
	if err != nil {
		s.record(ctx, adapter.Provider(), "malformed")
		return domain.PaymentTransaction{}, err
	}

	tx, err := s.payments.GetByID(ctx, event.TransactionID)
	if err != nil {
		s.record(ctx, adapter.Provider(), "unknown_transaction")
		return domain.PaymentTransaction{}, err
	}

	log := s.log.With(
		zap.String("provider", adapter.Provider()),
		zap.String("transaction_id", tx.ID),
		zap.String("provider_transaction_id", event.ProviderTransactionID),
	)

	// Providers notify before settlement too; nothing to move yet.
	if event.Status == domain.StatusPending {
		s.record(ctx, adapter.Provider(), "ignored")
		return tx, nil
	}

	if tx.Status.Terminal() {
		log.Info("webhook replay for settled transaction acknowledged",
			zap.String("status", string(tx.Status)),
		)
		s.record(ctx, adapter.Provider(), "replayed")
		return tx, nil
	}

	var notified map[string]any
	if event.Amount > 0 {
		// The stored amount is what gets credited; keep the provider's
		// figure on the row for audit.
		notified = map[string]any{"notified_amount": event.Amount}
	}
	updated, transitioned, err := s.payments.TransitionStatus(ctx, tx.ID, event.Status, event.ProviderTransactionID, notified)
	if err != nil {
		return domain.PaymentTransaction{}, err
	}
	if !transitioned {
		// A concurrent delivery won the compare-and-set; it owns the
		// credit.
		log.Info("webhook lost settlement race, acknowledged",
			zap.String("status", string(updated.Status)),
		)
		s.record(ctx, adapter.Provider(), "replayed")
		return updated, nil
	}

	if event.Status == domain.StatusSucceeded {
		if _, err := s.ledger.ApplyDelta(ctx, ledgerdomain.ApplyDeltaRequest{
			UserID: updated.UserID,
			Delta:  updated.Amount,
			Actor:  updated.UserID,
			Reason: ledgerdomain.ReasonPaymentTopUp,
			Metadata: map[string]any{
				"transaction_id":          updated.ID,
				"provider":                adapter.Provider(),
				"provider_transaction_id": event.ProviderTransactionID,
			},
		}); err != nil {
			// The transaction is already settled; the missing credit
			// needs operator reconciliation, not a retry loop that
			// will no-op against the terminal row.
			log.Error("balance credit failed after settlement",
				zap.String("user_id", updated.UserID),
				zap.Int64("amount", updated.Amount),
				zap.Error(err),
			)
			s.record(ctx, adapter.Provider(), "credit_failed")
			return updated, err
		}
	}

	log.Info("webhook reconciled",
		zap.String("status", string(updated.Status)),
		zap.Int64("amount", updated.Amount),
	)
	s.record(ctx, adapter.Provider(), strings.ToLower(string(updated.Status)))
	return updated, nil
}

func (s *Service) record(ctx context.Context, provider, status string) {
	if s.obsMetrics != nil {
		s.obsMetrics.RecordPaymentEvent(ctx, provider, status)
	}
}
