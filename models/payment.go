package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentMethod string

const (
	PaymentCard         PaymentMethod = "card"
	PaymentWallet       PaymentMethod = "wallet"
	PaymentBankTransfer PaymentMethod = "bank_transfer"
	PaymentCash         PaymentMethod = "cash"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCard, PaymentWallet, PaymentBankTransfer, PaymentCash:
		return true
	}
	return false
}

type PaymentStatus string

const (
	PaymentSuccessful PaymentStatus = "Successful"
	PaymentFailed     PaymentStatus = "Failed"
)

// Payment is recorded once, together with the Reserved -> Paid transition.
type Payment struct {
	ID            int64           `json:"payment_id"`
	ReservationID int64           `json:"reservation_id"`
	UserID        string          `json:"user_id"`
	Method        PaymentMethod   `json:"payment_method"`
	Status        PaymentStatus   `json:"payment_status"`
	Amount        decimal.Decimal `json:"amount"`
	Reference     string          `json:"reference"`
	PaidAt        time.Time       `json:"paid_at"`
}

type PenaltyQuote struct {
	PenaltyPercent int             `json:"penalty_percent"`
	PenaltyAmount  decimal.Decimal `json:"penalty_amount"`
	RefundAmount   decimal.Decimal `json:"refund_amount"`
}
