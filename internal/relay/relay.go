// Package relay composes an authorized request end to end: allowance check,
// provider dispatch, consumption recording.
package relay

import (
	"context"
	"errors"

	log "github.com/sirupsen/logrus"

	"github.com/lexiflow/lexiflow-server/internal/dispatch"
	"github.com/lexiflow/lexiflow-server/internal/plans"
	"github.com/lexiflow/lexiflow-server/internal/quota"
)

// Outcome is the result of one relayed operation.
type Outcome struct {
	Output    string `json:"output"`
	Provider  string `json:"provider"`
	Remaining int    `json:"remaining"`
}

// Service ties the quota ledger and the provider dispatcher together.
type Service struct {
	ledger     *quota.Ledger
	dispatcher *dispatch.Dispatcher
}

// NewService constructs a Service.
func NewService(ledger *quota.Ledger, dispatcher *dispatch.Dispatcher) *Service {
	return &Service{ledger: ledger, dispatcher: dispatcher}
}

// Dispatcher exposes the underlying dispatcher for capability checks.
func (s *Service) Dispatcher() *dispatch.Dispatcher {
	return s.dispatcher
}

// Execute runs one operation for a user: verify today's allowance, dispatch
// across the provider chain, then record the consumption. A failed dispatch
// records nothing. A consumption denial after a successful dispatch means a
// concurrent request won the last slot; the result is still returned and the
// discrepancy is logged.
func (s *Service) Execute(ctx context.Context, userID uint64, typ quota.ResourceType, op dispatch.Operation, input dispatch.Input, primary string, fallbacks []string) (*Outcome, error) {
	allowance, used, errAllowance := s.ledger.GetAllowance(ctx, userID, typ)
	if errAllowance != nil {
		return nil, errAllowance
	}
	if allowance != plans.Unlimited && used >= allowance {
		return nil, quota.ErrQuotaExceeded
	}

	result, errDispatch := s.dispatcher.Dispatch(ctx, op, input, primary, fallbacks)
	if errDispatch != nil {
		return nil, errDispatch
	}

	remaining, errConsume := s.ledger.TryConsume(ctx, userID, typ, result.Provider)
	if errConsume != nil {
		if errors.Is(errConsume, quota.ErrQuotaExceeded) {
			log.WithFields(log.Fields{
				"user_id": userID,
				"type":    typ,
			}).Warn("allowance exhausted by concurrent request after dispatch; result delivered unrecorded")
		} else {
			log.WithError(errConsume).WithFields(log.Fields{
				"user_id": userID,
				"type":    typ,
			}).Error("record consumption failed after dispatch; result delivered unrecorded")
		}
		return &Outcome{Output: result.Output, Provider: result.Provider, Remaining: 0}, nil
	}

	return &Outcome{Output: result.Output, Provider: result.Provider, Remaining: remaining}, nil
}
