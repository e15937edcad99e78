package payment

import (
	"encoding/json"

	"github.com/balkolux/storefront-api/internal/payment/iyzico"
	"github.com/balkolux/storefront-api/internal/pricing"
)

// Request is the checkout body accepted by POST /api/payment.
type Request struct {
	PaymentCard     CardInput         `json:"paymentCard"`
	Buyer           BuyerInput        `json:"buyer"`
	ShippingAddress AddressInput      `json:"shippingAddress"`
	BillingAddress  AddressInput      `json:"billingAddress"`
	BasketItems     []BasketItemInput `json:"basketItems" validate:"required,min=1,dive"`
	Currency        string            `json:"currency" validate:"omitempty,len=3,alpha"`
	BasketID        string            `json:"basketId" validate:"omitempty,max=64"`
	Installment     int               `json:"installment" validate:"gte=0,lte=12"`
}

// CardInput holds raw card data for the duration of the request only.
type CardInput struct {
	CardHolderName string `json:"cardHolderName" validate:"required"`
	CardNumber     string `json:"cardNumber" validate:"required"`
	ExpireMonth    string `json:"expireMonth" validate:"required"`
	ExpireYear     string `json:"expireYear" validate:"required"`
	CVC            string `json:"cvc" validate:"required"`
}

type BuyerInput struct {
	ID                  string `json:"id" validate:"required"`
	Name                string `json:"name" validate:"required"`
	Surname             string `json:"surname" validate:"required"`
	GsmNumber           string `json:"gsmNumber"`
	Email               string `json:"email" validate:"required,email"`
	IdentityNumber      string `json:"identityNumber" validate:"required"`
	LastLoginDate       string `json:"lastLoginDate"`
	RegistrationDate    string `json:"registrationDate"`
	RegistrationAddress string `json:"registrationAddress" validate:"required"`
	IP                  string `json:"ip" validate:"omitempty,ip"`
	City                string `json:"city" validate:"required"`
	Country             string `json:"country" validate:"required"`
	ZipCode             string `json:"zipCode"`
}

type AddressInput struct {
	ContactName string `json:"contactName" validate:"required"`
	City        string `json:"city" validate:"required"`
	Country     string `json:"country" validate:"required"`
	Address     string `json:"address" validate:"required"`
	ZipCode     string `json:"zipCode"`
}

// BasketItemInput accepts the price as either a JSON number or a numeric string.
type BasketItemInput struct {
	ID        string          `json:"id" validate:"required"`
	Name      string          `json:"name" validate:"required"`
	Category1 string          `json:"category1"`
	Category2 string          `json:"category2"`
	ItemType  string          `json:"itemType" validate:"omitempty,oneof=PHYSICAL VIRTUAL physical virtual"`
	Price     json.RawMessage `json:"price"`
}

// Outcome is a successful authorization as returned to the storefront.
type Outcome struct {
	PaymentID      string
	ConversationID string
	BasketID       string
	FraudStatus    int
	Installment    int
	Pricing        pricing.Breakdown
}

// InstallmentQuote prices an amount for one installment tier.
type InstallmentQuote struct {
	Installment int
	Pricing     pricing.Breakdown
}

type pricingResponse struct {
	Subtotal        json.Number `json:"subtotal"`
	ServiceFee      json.Number `json:"serviceFee"`
	BaseTotal       json.Number `json:"baseTotal"`
	InstallmentRate json.Number `json:"installmentRate"`
	InstallmentFee  json.Number `json:"installmentFee"`
	Total           json.Number `json:"total"`
}

type successResponse struct {
	Status         string          `json:"status"`
	PaymentID      string          `json:"paymentId"`
	ConversationID string          `json:"conversationId"`
	FraudStatus    int             `json:"fraudStatus"`
	Installment    int             `json:"installment"`
	Pricing        pricingResponse `json:"pricing"`
}

type installmentOption struct {
	Installment int             `json:"installment"`
	Pricing     pricingResponse `json:"pricing"`
}

type installmentsResponse struct {
	Status  string              `json:"status"`
	Amount  json.Number         `json:"amount"`
	Options []installmentOption `json:"options"`
}

func newPricingResponse(b pricing.Breakdown) pricingResponse {
	return pricingResponse{
		Subtotal:        json.Number(pricing.Format(b.Subtotal)),
		ServiceFee:      json.Number(pricing.Format(b.ServiceFee)),
		BaseTotal:       json.Number(pricing.Format(b.BaseTotal)),
		InstallmentRate: json.Number(b.InstallmentRate.String()),
		InstallmentFee:  json.Number(pricing.Format(b.InstallmentFee)),
		Total:           json.Number(pricing.Format(b.Total)),
	}
}

func (c CardInput) vendor() iyzico.PaymentCard {
	return iyzico.PaymentCard{
		CardHolderName: c.CardHolderName,
		CardNumber:     c.CardNumber,
		ExpireMonth:    c.ExpireMonth,
		ExpireYear:     c.ExpireYear,
		CVC:            c.CVC,
	}
}

func (b BuyerInput) vendor(fallbackIP string) iyzico.Buyer {
	ip := b.IP
	if ip == "" {
		ip = fallbackIP
	}
	return iyzico.Buyer{
		ID:                  b.ID,
		Name:                b.Name,
		Surname:             b.Surname,
		GsmNumber:           b.GsmNumber,
		Email:               b.Email,
		IdentityNumber:      b.IdentityNumber,
		LastLoginDate:       b.LastLoginDate,
		RegistrationDate:    b.RegistrationDate,
		RegistrationAddress: b.RegistrationAddress,
		IP:                  ip,
		City:                b.City,
		Country:             b.Country,
		ZipCode:             b.ZipCode,
	}
}

func (a AddressInput) vendor() iyzico.Address {
	return iyzico.Address{
		ContactName: a.ContactName,
		City:        a.City,
		Country:     a.Country,
		Address:     a.Address,
		ZipCode:     a.ZipCode,
	}
}
