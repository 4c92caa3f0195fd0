package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/rafitos77/vipgate/pkg/entitlement"
	"github.com/rafitos77/vipgate/pkg/pricing"
)

// Activator activates a license after a payment is durably recorded as paid.
// Satisfied by the entitlement service.
type Activator interface {
	Activate(ctx context.Context, userID int64, plan entitlement.PlanType) (entitlement.Entitlement, error)
}

// Notifier tells the user about their payment outcome. The messaging
// transport lives outside this core; notification failures are logged, never
// propagated, since the payment state is already committed.
type Notifier interface {
	PaymentConfirmed(ctx context.Context, userID int64, plan entitlement.PlanType) error
}

// Notification is one upstream payment event, already authenticated and
// normalized by the adapter or handler that parsed it. Authentication always
// happens before a Notification is constructed.
type Notification struct {
	Provider   ProviderID
	ExternalID string
	Status     ReportedStatus

	// Embedded metadata fallback, used only to synthesize a record when no
	// stored one exists. The stored record is authoritative over these since
	// metadata round-tripped through an upstream can be altered.
	UserID int64
	Plan   entitlement.PlanType
	Amount pricing.Money

	Raw []byte
}

// ReconcilerOption configures optional reconciler collaborators.
type ReconcilerOption func(*Reconciler)

func WithNotifier(n Notifier) ReconcilerOption {
	return func(r *Reconciler) {
		if n != nil {
			r.notifier = n
		}
	}
}

func WithReconcilerLogger(log *slog.Logger) ReconcilerOption {
	return func(r *Reconciler) {
		if log != nil {
			r.log = log
		}
	}
}

// Reconciler turns authenticated payment notifications into durable record
// transitions and license activations. Safe to re-run for the same event: the
// only non-idempotent step, license activation, happens strictly after the
// record's single pending -> paid transition and only on the call that
// performed it.
type Reconciler struct {
	store     Store
	activator Activator
	notifier  Notifier
	log       *slog.Logger
}

// NewReconciler creates a Reconciler.
// Panics if store or activator is nil to fail fast during initialization.
func NewReconciler(store Store, activator Activator, opts ...ReconcilerOption) *Reconciler {
	if store == nil {
		panic("payment: Store is required")
	}
	if activator == nil {
		panic("payment: Activator is required")
	}
	r := &Reconciler{
		store:     store,
		activator: activator,
		log:       slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Process drives one notification through the record state machine.
// A nil return means the delivery is settled and the upstream should receive
// a 2xx; any error means the caller should signal "retry" instead.
func (r *Reconciler) Process(ctx context.Context, n Notification) error {
	if n.Provider == "" || n.ExternalID == "" {
		return fmt.Errorf("%w: notification missing provider or external id", ErrPaymentNotFound)
	}

	rec, err := r.store.Get(ctx, n.Provider, n.ExternalID)
	switch {
	case errors.Is(err, ErrPaymentNotFound):
		// Synthesize a record from embedded metadata rather than dropping the
		// event. Without usable metadata there is nothing to reconcile.
		if n.UserID == 0 || !n.Plan.Purchasable() {
			return fmt.Errorf("%w: no stored record and no usable metadata for %s/%s",
				ErrPaymentNotFound, n.Provider, n.ExternalID)
		}
		rec = Record{
			UserID:     n.UserID,
			Provider:   n.Provider,
			ExternalID: n.ExternalID,
			Amount:     n.Amount,
			Plan:       n.Plan,
		}
		if err := r.store.CreatePending(ctx, rec); err != nil && !errors.Is(err, ErrAlreadyProcessed) {
			return err
		}
		r.log.InfoContext(ctx, "synthesized payment record from notification metadata",
			slog.String("provider", string(n.Provider)),
			slog.String("external_id", n.ExternalID),
			slog.Int64("user_id", n.UserID))
	case err != nil:
		return err
	}

	// Idempotent short-circuit: a repeat delivery for a paid record is
	// success, not an error.
	if paid, err := r.store.IsPaid(ctx, n.Provider, n.ExternalID); err != nil {
		return err
	} else if paid {
		r.log.DebugContext(ctx, "payment already processed, skipping",
			slog.String("provider", string(n.Provider)),
			slog.String("external_id", n.ExternalID))
		return nil
	}

	switch n.Status {
	case ReportedPaid:
		stored, transitioned, err := r.store.MarkPaid(ctx, n.Provider, n.ExternalID, n.Raw)
		if err != nil {
			return err
		}
		if !transitioned {
			if stored.Status != StatusPaid {
				r.log.WarnContext(ctx, "paid notification for a terminal record, ignoring",
					slog.String("provider", string(n.Provider)),
					slog.String("external_id", n.ExternalID),
					slog.String("status", string(stored.Status)))
			}
			return nil
		}

		// Activation only after the durable pending -> paid transition, and
		// only on the call that performed it: concurrent deliveries both
		// succeed while the license activates exactly once.
		if _, err := r.activator.Activate(ctx, stored.UserID, stored.Plan); err != nil {
			return fmt.Errorf("failed to activate license for user %d: %w", stored.UserID, err)
		}
		r.log.InfoContext(ctx, "payment reconciled, license activated",
			slog.String("provider", string(n.Provider)),
			slog.String("external_id", n.ExternalID),
			slog.Int64("user_id", stored.UserID),
			slog.String("plan", string(stored.Plan)))

		if r.notifier != nil {
			if err := r.notifier.PaymentConfirmed(ctx, stored.UserID, stored.Plan); err != nil {
				r.log.ErrorContext(ctx, "failed to notify user about confirmed payment",
					slog.Int64("user_id", stored.UserID),
					slog.Any("error", err))
			}
		}
		return nil

	case ReportedFailed:
		return r.store.MarkFailed(ctx, n.Provider, n.ExternalID, n.Raw)

	case ReportedExpired:
		return r.store.MarkExpired(ctx, n.Provider, n.ExternalID, n.Raw)

	case ReportedPending:
		return nil

	default:
		r.log.InfoContext(ctx, "unhandled notification status, ignoring",
			slog.String("provider", string(n.Provider)),
			slog.String("status", string(n.Status)))
		return nil
	}
}
