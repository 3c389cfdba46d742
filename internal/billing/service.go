// Package billing implements the metering core: the fast-path charge, the
// reserve/commit protocol, balance presentation, admin adjustments, and the
// aggregate stats read. Every operation validates its inputs, performs
// exactly one atomic ledger step, and appends its audit entry afterwards —
// the ledger write is the commit point, the log is the record of it.
package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/amerfu/bllm/internal/errs"
	"github.com/amerfu/bllm/internal/exchange"
	"github.com/amerfu/bllm/internal/ledger"
	"github.com/amerfu/bllm/internal/monitor"
	"github.com/amerfu/bllm/internal/pricing"
	"github.com/amerfu/bllm/internal/validate"
)

// Config carries the two reservation lifetimes.
type Config struct {
	ReservationTTL time.Duration // pending hold, reserve → commit window
	CommittedTTL   time.Duration // audit retention after commit
}

// Service is the billing core. It owns no state of its own; everything
// durable lives in the ledger store.
type Service struct {
	store    *ledger.Store
	pricing  *pricing.Manager
	exchange *exchange.Manager
	monitor  *monitor.Monitor
	logger   *zap.Logger
	cfg      Config

	now          func() time.Time
	newRequestID func() string
}

func New(store *ledger.Store, pricingMgr *pricing.Manager, exchangeMgr *exchange.Manager,
	mon *monitor.Monitor, logger *zap.Logger, cfg Config) *Service {
	return &Service{
		store:        store,
		pricing:      pricingMgr,
		exchange:     exchangeMgr,
		monitor:      mon,
		logger:       logger,
		cfg:          cfg,
		now:          time.Now,
		newRequestID: uuid.NewString,
	}
}

func (s *Service) day() string {
	return s.now().UTC().Format("2006-01-02")
}

// appendAudit writes a stream entry after the ledger step has succeeded. A
// failed append is logged and swallowed: the money already moved, and a
// reply the caller can trust outranks a complete log.
func (s *Service) appendAudit(ctx context.Context, stream string, fields map[string]interface{}) {
	if err := s.store.AppendStream(ctx, stream, fields); err != nil {
		s.logger.Warn("audit append failed", zap.String("stream", stream), zap.Error(err))
	}
}

// ChargeParams is a fast-path debit with a caller-computed cost.
type ChargeParams struct {
	UserID string
	Model  string
	Tokens int64
	Cost   decimal.Decimal
}

// ChargeResult reports the balance after the debit.
type ChargeResult struct {
	NewBalance decimal.Decimal
}

// Charge debits a caller-supplied cost and counts the tokens under the
// user's direct-usage bucket. The cost is validated for range and
// granularity but otherwise trusted.
func (s *Service) Charge(ctx context.Context, p ChargeParams) (ChargeResult, error) {
	res, err := s.charge(ctx, p)
	s.monitor.Record(monitor.OpCharge, p.Cost, err)
	return res, err
}

func (s *Service) charge(ctx context.Context, p ChargeParams) (ChargeResult, error) {
	if err := validate.UserID(p.UserID); err != nil {
		return ChargeResult{}, err
	}
	if err := validate.ModelID(p.Model); err != nil {
		return ChargeResult{}, err
	}
	if err := validate.TokensPositive("tokens_used", p.Tokens); err != nil {
		return ChargeResult{}, err
	}
	if err := validate.Amount("cost_usd", p.Cost); err != nil {
		return ChargeResult{}, err
	}

	balance, err := s.store.DebitForCharge(ctx, ledger.ChargeDebit{
		UserID: p.UserID,
		Model:  p.Model,
		Cost:   p.Cost,
		Tokens: p.Tokens,
		Day:    s.day(),
	})
	if err != nil {
		return ChargeResult{}, err
	}

	s.appendAudit(ctx, ledger.StreamLog, map[string]interface{}{
		"user_id":     p.UserID,
		"model":       p.Model,
		"tokens_used": p.Tokens,
		"cost_usd":    p.Cost.String(),
		"balance_usd": balance.String(),
		"timestamp":   s.now().Unix(),
	})

	s.logger.Info("charge applied",
		zap.String("user_id", p.UserID),
		zap.String("model", p.Model),
		zap.Int64("tokens", p.Tokens),
		zap.String("cost_usd", p.Cost.String()),
		zap.String("balance_usd", balance.String()))
	return ChargeResult{NewBalance: balance}, nil
}

// ReserveParams opens a hold priced from token estimates. RequestID is
// optional; a random one is generated when empty.
type ReserveParams struct {
	UserID               string
	RequestID            string
	Model                string
	Endpoint             string
	InputTokensEstimate  int64
	OutputTokensEstimate int64
}

// ReserveResult identifies the hold and reports the debited estimate.
type ReserveResult struct {
	ReservationID    string
	ReservedAmount   decimal.Decimal
	RemainingBalance decimal.Decimal
}

// Reserve prices the estimates, debits the estimated cost, and creates the
// reservation record. The debit happens first; if the record cannot be
// written the debit is reversed, so a failed Reserve never strands funds.
func (s *Service) Reserve(ctx context.Context, p ReserveParams) (ReserveResult, error) {
	res, err := s.reserve(ctx, p)
	s.monitor.Record(monitor.OpReserve, res.ReservedAmount, err)
	return res, err
}

func (s *Service) reserve(ctx context.Context, p ReserveParams) (ReserveResult, error) {
	if err := validate.UserID(p.UserID); err != nil {
		return ReserveResult{}, err
	}
	if err := validate.ModelID(p.Model); err != nil {
		return ReserveResult{}, err
	}
	endpoint, err := pricing.ParseEndpoint(p.Endpoint)
	if err != nil {
		return ReserveResult{}, err
	}
	if err := validate.TokensPositive("input_tokens_estimate", p.InputTokensEstimate); err != nil {
		return ReserveResult{}, err
	}
	if err := validate.TokensNonNegative("output_tokens_estimate", p.OutputTokensEstimate); err != nil {
		return ReserveResult{}, err
	}
	requestID := p.RequestID
	if requestID == "" {
		requestID = s.newRequestID()
	} else if err := validate.RequestID(requestID); err != nil {
		return ReserveResult{}, err
	}

	cost, err := s.pricing.Cost(p.Model, endpoint, p.InputTokensEstimate, p.OutputTokensEstimate)
	if err != nil {
		return ReserveResult{}, err
	}
	if !cost.IsPositive() {
		return ReserveResult{}, errs.Pricing("invalid pricing calculation")
	}

	now := s.now()
	reservationID := fmt.Sprintf("res:%s:%s:%d", p.UserID, requestID, now.Unix())

	balance, err := s.store.CASDebit(ctx, p.UserID, cost)
	if err != nil {
		return ReserveResult{}, err
	}

	reservation := &ledger.Reservation{
		ID:                   reservationID,
		UserID:               p.UserID,
		Model:                p.Model,
		Endpoint:             string(endpoint),
		InputTokensEstimate:  p.InputTokensEstimate,
		OutputTokensEstimate: p.OutputTokensEstimate,
		EstimatedCost:        cost,
		Status:               ledger.StatusReserved,
		CreatedAt:            now,
	}
	if err := s.store.PutReservation(ctx, reservation, s.cfg.ReservationTTL); err != nil {
		// The hold never materialized; give the debit back.
		if _, cerr := s.store.Credit(ctx, p.UserID, cost); cerr != nil {
			s.logger.Error("failed to reverse debit after reservation write failure",
				zap.String("user_id", p.UserID),
				zap.String("reservation_id", reservationID),
				zap.String("amount_usd", cost.String()),
				zap.Error(cerr))
		}
		return ReserveResult{}, err
	}

	s.logger.Info("funds reserved",
		zap.String("user_id", p.UserID),
		zap.String("reservation_id", reservationID),
		zap.String("model", p.Model),
		zap.String("endpoint", string(endpoint)),
		zap.String("reserved_usd", cost.String()),
		zap.String("balance_usd", balance.String()))
	return ReserveResult{
		ReservationID:    reservationID,
		ReservedAmount:   cost,
		RemainingBalance: balance,
	}, nil
}

// CommitParams settles a hold against actual token counts.
type CommitParams struct {
	ReservationID      string
	InputTokensActual  int64
	OutputTokensActual int64
}

// CommitResult reports the settled cost and the balance after adjustment.
type CommitResult struct {
	FinalCost        decimal.Decimal
	RemainingBalance decimal.Decimal
}

// Commit reprices the reservation with actual token counts and settles the
// difference against the balance in one atomic step. An adjustment that
// would overdraw is refused, leaving the reservation reserved.
func (s *Service) Commit(ctx context.Context, p CommitParams) (CommitResult, error) {
	res, err := s.commit(ctx, p)
	s.monitor.Record(monitor.OpCommit, res.FinalCost, err)
	return res, err
}

func (s *Service) commit(ctx context.Context, p CommitParams) (CommitResult, error) {
	if err := validate.ReservationID(p.ReservationID); err != nil {
		return CommitResult{}, err
	}
	if err := validate.TokensPositive("input_tokens_actual", p.InputTokensActual); err != nil {
		return CommitResult{}, err
	}
	if err := validate.TokensNonNegative("output_tokens_actual", p.OutputTokensActual); err != nil {
		return CommitResult{}, err
	}

	reservation, err := s.store.GetReservation(ctx, p.ReservationID)
	if err != nil {
		return CommitResult{}, err
	}
	if reservation.Status == ledger.StatusCommitted {
		return CommitResult{}, errs.ReservationConflict(errs.ReasonAlreadyCommitted,
			"reservation already committed")
	}

	actual, err := s.pricing.Cost(reservation.Model, pricing.Endpoint(reservation.Endpoint),
		p.InputTokensActual, p.OutputTokensActual)
	if err != nil {
		return CommitResult{}, err
	}

	// Positive adjustment refunds, negative debits further. The finalize
	// script re-checks the status, so a concurrent Commit loses cleanly.
	adjustment := reservation.EstimatedCost.Sub(actual)
	balance, err := s.store.FinalizeReservation(ctx, ledger.Finalize{
		ReservationID: p.ReservationID,
		UserID:        reservation.UserID,
		Model:         reservation.Model,
		Endpoint:      reservation.Endpoint,
		Adjustment:    adjustment,
		ActualCost:    actual,
		InputTokens:   p.InputTokensActual,
		OutputTokens:  p.OutputTokensActual,
		Day:           s.day(),
		CommittedTTL:  s.cfg.CommittedTTL,
	})
	if err != nil {
		return CommitResult{}, err
	}

	s.appendAudit(ctx, ledger.StreamLog, map[string]interface{}{
		"user_id":        reservation.UserID,
		"model":          reservation.Model,
		"endpoint":       reservation.Endpoint,
		"input_tokens":   p.InputTokensActual,
		"output_tokens":  p.OutputTokensActual,
		"cost_usd":       actual.String(),
		"balance_usd":    balance.String(),
		"reservation_id": p.ReservationID,
		"timestamp":      s.now().Unix(),
	})

	s.logger.Info("reservation committed",
		zap.String("user_id", reservation.UserID),
		zap.String("reservation_id", p.ReservationID),
		zap.String("cost_usd", actual.String()),
		zap.String("adjustment_usd", adjustment.String()),
		zap.String("balance_usd", balance.String()))
	return CommitResult{FinalCost: actual, RemainingBalance: balance}, nil
}

// Balance presents one balance in the base currency and two convenience
// conversions. Conversions are presentation only; a missing rate renders as
// zero rather than failing the read.
type Balance struct {
	UserID string
	USD    decimal.Decimal
	RUB    decimal.Decimal
	EUR    decimal.Decimal
}

// GetBalance reads a user's balance. Reading is also where the low-balance
// alert is evaluated.
func (s *Service) GetBalance(ctx context.Context, userID string) (Balance, error) {
	if err := validate.UserID(userID); err != nil {
		return Balance{}, err
	}

	usd, err := s.store.GetBalance(ctx, userID)
	if err != nil {
		return Balance{}, err
	}
	s.monitor.CheckBalance(userID, usd)

	return Balance{
		UserID: userID,
		USD:    usd,
		RUB:    s.exchange.Convert(usd, "RUB"),
		EUR:    s.exchange.Convert(usd, "EUR"),
	}, nil
}

// AdjustBalance credits a user by a positive amount and records the reason
// on the adjustments stream. Debit-shaped corrections go through Charge.
func (s *Service) AdjustBalance(ctx context.Context, userID string, amount decimal.Decimal, reason string) (decimal.Decimal, error) {
	if err := validate.UserID(userID); err != nil {
		return decimal.Zero, err
	}
	if err := validate.Amount("amount_usd", amount); err != nil {
		return decimal.Zero, err
	}
	if reason == "" {
		reason = "manual_adjustment"
	}

	balance, err := s.store.Credit(ctx, userID, amount)
	if err != nil {
		return decimal.Zero, err
	}

	s.appendAudit(ctx, ledger.StreamAdjustments, map[string]interface{}{
		"user_id":    userID,
		"amount_usd": amount.String(),
		"reason":     reason,
		"timestamp":  s.now().Unix(),
	})

	s.logger.Info("balance adjusted",
		zap.String("user_id", userID),
		zap.String("amount_usd", amount.String()),
		zap.String("reason", reason),
		zap.String("balance_usd", balance.String()))
	return balance, nil
}

// Stats is the admin aggregate over the streams and counters.
type Stats struct {
	TotalRevenue  decimal.Decimal  // sum of logged costs, cents precision
	ActiveUsers   int64            // users holding a balance key
	TotalDeposits decimal.Decimal  // sum over the deposits stream
	TodayUsage    map[string]int64 // per-model tokens for the current day
}

// GetStats walks the transaction and deposit streams and reads today's
// usage bucket. It is an admin read and makes no attempt to be cheap.
func (s *Service) GetStats(ctx context.Context) (Stats, error) {
	logEntries, err := s.store.RangeStream(ctx, ledger.StreamLog)
	if err != nil {
		return Stats{}, err
	}
	revenue := decimal.Zero
	for _, entry := range logEntries {
		cost, err := decimal.NewFromString(entry["cost_usd"])
		if err != nil {
			continue
		}
		revenue = revenue.Add(cost)
	}

	deposits, err := s.store.RangeStream(ctx, ledger.StreamDeposits)
	if err != nil {
		return Stats{}, err
	}
	deposited := decimal.Zero
	for _, entry := range deposits {
		amount, err := decimal.NewFromString(entry["amount_usd"])
		if err != nil {
			continue
		}
		deposited = deposited.Add(amount)
	}

	users, err := s.store.CountBalances(ctx)
	if err != nil {
		return Stats{}, err
	}

	usage, err := s.store.DailyUsage(ctx, s.day())
	if err != nil {
		return Stats{}, err
	}

	return Stats{
		TotalRevenue:  revenue.Round(2),
		ActiveUsers:   users,
		TotalDeposits: deposited,
		TodayUsage:    usage,
	}, nil
}

// Usage is one user's per-endpoint token counters for a model.
type Usage struct {
	UserID      string
	Model       string
	ByEndpoint  map[string]int64
	TotalTokens int64
}

// GetUsage reads a user's counters for one model. Reading is where the
// high-usage alert is evaluated.
func (s *Service) GetUsage(ctx context.Context, userID, model string) (Usage, error) {
	if err := validate.UserID(userID); err != nil {
		return Usage{}, err
	}
	if err := validate.ModelID(model); err != nil {
		return Usage{}, err
	}

	byEndpoint, err := s.store.ModelUsage(ctx, userID, model)
	if err != nil {
		return Usage{}, err
	}
	var total int64
	for _, tokens := range byEndpoint {
		total += tokens
	}
	s.monitor.CheckUsage(userID, total)

	return Usage{
		UserID:      userID,
		Model:       model,
		ByEndpoint:  byEndpoint,
		TotalTokens: total,
	}, nil
}
