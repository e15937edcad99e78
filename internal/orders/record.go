package orders

import (
	"time"

	"github.com/balkolux/storefront-api/internal/pricing"
)

// TaskAuthorized is the queue task type carrying an authorized payment to the
// order service.
const TaskAuthorized = "order:payment_authorized"

// Record describes an authorized payment for order persistence. It never
// carries card data.
type Record struct {
	PaymentID      string        `json:"paymentId"`
	ConversationID string        `json:"conversationId"`
	BasketID       string        `json:"basketId"`
	BuyerID        string        `json:"buyerId"`
	BuyerEmail     string        `json:"buyerEmail,omitempty"`
	Currency       string        `json:"currency"`
	Installment    int           `json:"installment"`
	FraudStatus    int           `json:"fraudStatus"`
	Pricing        PricingRecord `json:"pricing"`
	Items          []ItemRecord  `json:"items"`
	AuthorizedAt   time.Time     `json:"authorizedAt"`
}

// PricingRecord mirrors pricing.Breakdown with fixed two-decimal strings.
type PricingRecord struct {
	Subtotal        string `json:"subtotal"`
	ServiceFee      string `json:"serviceFee"`
	BaseTotal       string `json:"baseTotal"`
	InstallmentRate string `json:"installmentRate"`
	InstallmentFee  string `json:"installmentFee"`
	Total           string `json:"total"`
}

// ItemRecord is a purchased basket line.
type ItemRecord struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Category string `json:"category,omitempty"`
	Price    string `json:"price"`
}

// NewPricingRecord converts a breakdown into its persisted form.
func NewPricingRecord(b pricing.Breakdown) PricingRecord {
	return PricingRecord{
		Subtotal:        pricing.Format(b.Subtotal),
		ServiceFee:      pricing.Format(b.ServiceFee),
		BaseTotal:       pricing.Format(b.BaseTotal),
		InstallmentRate: b.InstallmentRate.String(),
		InstallmentFee:  pricing.Format(b.InstallmentFee),
		Total:           pricing.Format(b.Total),
	}
}
