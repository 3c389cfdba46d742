package ledger

import (
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the reservation lifecycle state. The only legal transition is
// reserved → committed; expiry deletes the record in either state.
type Status string

const (
	StatusReserved  Status = "reserved"
	StatusCommitted Status = "committed"
)

// Reservation is a tentative debit against a user's balance. It is persisted
// as a substrate hash under reservation:<id>; the hash field names predate
// this service and are kept for compatibility with existing audit tooling.
type Reservation struct {
	ID                   string
	UserID               string
	Model                string
	Endpoint             string
	InputTokensEstimate  int64
	OutputTokensEstimate int64
	EstimatedCost        decimal.Decimal
	Status               Status
	CreatedAt            time.Time

	// Populated by Commit.
	ActualCost         decimal.Decimal
	InputTokensActual  int64
	OutputTokensActual int64
}

// hashPairs returns the field/value pairs written on creation.
func (r *Reservation) hashPairs() []interface{} {
	return []interface{}{
		"user_id", r.UserID,
		"model", r.Model,
		"endpoint", r.Endpoint,
		"input_tokens", strconv.FormatInt(r.InputTokensEstimate, 10),
		"output_tokens", strconv.FormatInt(r.OutputTokensEstimate, 10),
		"estimated_cost", r.EstimatedCost.String(),
		"status", string(r.Status),
		"created_at", strconv.FormatInt(r.CreatedAt.Unix(), 10),
	}
}

func reservationFromHash(id string, h map[string]string) (*Reservation, error) {
	res := &Reservation{
		ID:       id,
		UserID:   h["user_id"],
		Model:    h["model"],
		Endpoint: h["endpoint"],
		Status:   Status(h["status"]),
	}

	var err error
	if res.InputTokensEstimate, err = parseInt(h, "input_tokens"); err != nil {
		return nil, err
	}
	if res.OutputTokensEstimate, err = parseInt(h, "output_tokens"); err != nil {
		return nil, err
	}
	if res.EstimatedCost, err = parseDecimal(h, "estimated_cost"); err != nil {
		return nil, err
	}
	createdAt, err := parseInt(h, "created_at")
	if err != nil {
		return nil, err
	}
	res.CreatedAt = time.Unix(createdAt, 0).UTC()

	if res.Status == StatusCommitted {
		if res.ActualCost, err = parseDecimal(h, "actual_cost"); err != nil {
			return nil, err
		}
		if res.InputTokensActual, err = parseInt(h, "input_tokens_actual"); err != nil {
			return nil, err
		}
		if res.OutputTokensActual, err = parseInt(h, "output_tokens_actual"); err != nil {
			return nil, err
		}
	}

	return res, nil
}

func parseInt(h map[string]string, field string) (int64, error) {
	v, ok := h[field]
	if !ok {
		return 0, fmt.Errorf("reservation field %s missing", field)
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("reservation field %s: %w", field, err)
	}
	return n, nil
}

func parseDecimal(h map[string]string, field string) (decimal.Decimal, error) {
	v, ok := h[field]
	if !ok {
		return decimal.Zero, fmt.Errorf("reservation field %s missing", field)
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero, fmt.Errorf("reservation field %s: %w", field, err)
	}
	return d, nil
}
