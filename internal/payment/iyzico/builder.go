package iyzico

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/balkolux/storefront-api/internal/pricing"
)

// VendorDateLayout is the local-time layout the processor expects for buyer dates.
const VendorDateLayout = "2006-01-02 15:04:05"

const (
	defaultLocale     = "tr"
	defaultCurrency   = "TRY"
	defaultCategory   = "Mobilya"
	paymentChannel    = "WEB"
	paymentGroup      = "PRODUCT"
	serviceFeeID      = "SERVICE_FEE"
	serviceFeeName    = "Hizmet Bedeli"
	installmentID     = "INSTALLMENT_FEE"
	installmentName   = "Taksit Farkı"
	surchargeCategory = "Hizmet"
)

var buyerDateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	VendorDateLayout,
	"2006-01-02",
	time.RFC1123Z,
	time.RFC1123,
	time.RFC822Z,
	time.RFC822,
	time.ANSIC,
}

// LineItem is a caller basket line with an already coerced price.
type LineItem struct {
	ID        string
	Name      string
	Category1 string
	Category2 string
	ItemType  string
	Price     decimal.Decimal
}

// BuildInput gathers everything needed to construct an authorization request.
// Buyer date fields hold caller supplied text and are reformatted by Build.
type BuildInput struct {
	Buyer           Buyer
	ShippingAddress Address
	BillingAddress  Address
	Items           []LineItem
	Card            PaymentCard
	Currency        string
	BasketID        string
	ConversationID  string
	Installment     int
}

// Builder constructs vendor authorization requests.
type Builder struct {
	Locale   string
	Location *time.Location
	NewID    func() string
}

// Build prices the basket and returns the vendor request together with the
// breakdown it was derived from. The vendor basket always sums to the total.
func (b Builder) Build(in BuildInput) (AuthRequest, pricing.Breakdown, error) {
	priced := make([]pricing.Item, 0, len(in.Items))
	for _, it := range in.Items {
		priced = append(priced, pricing.Item{ID: it.ID, Name: it.Name, Category: it.Category1, Price: it.Price})
	}
	breakdown := pricing.Compute(priced, in.Installment)

	buyer := in.Buyer
	var err error
	if buyer.RegistrationDate, err = b.vendorDate("buyer.registrationDate", buyer.RegistrationDate); err != nil {
		return AuthRequest{}, pricing.Breakdown{}, err
	}
	if buyer.LastLoginDate, err = b.vendorDate("buyer.lastLoginDate", buyer.LastLoginDate); err != nil {
		return AuthRequest{}, pricing.Breakdown{}, err
	}

	card := in.Card
	card.CardNumber = strings.Join(strings.Fields(card.CardNumber), "")

	basket := make([]BasketItem, 0, len(in.Items)+2)
	for _, it := range in.Items {
		category := strings.TrimSpace(it.Category1)
		if category == "" {
			category = defaultCategory
		}
		itemType := strings.ToUpper(strings.TrimSpace(it.ItemType))
		if itemType == "" {
			itemType = ItemTypePhysical
		}
		basket = append(basket, BasketItem{
			ID:        it.ID,
			Name:      it.Name,
			Category1: category,
			Category2: it.Category2,
			ItemType:  itemType,
			Price:     pricing.Format(pricing.Round(it.Price)),
		})
	}
	basket = append(basket, BasketItem{
		ID:        serviceFeeID,
		Name:      serviceFeeName,
		Category1: surchargeCategory,
		ItemType:  ItemTypeVirtual,
		Price:     pricing.Format(breakdown.ServiceFee),
	})
	if in.Installment > 1 && breakdown.InstallmentFee.IsPositive() {
		basket = append(basket, BasketItem{
			ID:        installmentID,
			Name:      installmentName,
			Category1: surchargeCategory,
			ItemType:  ItemTypeVirtual,
			Price:     pricing.Format(breakdown.InstallmentFee),
		})
	}

	conversationID := strings.TrimSpace(in.ConversationID)
	if conversationID == "" {
		conversationID = b.newID()
	}
	basketID := strings.TrimSpace(in.BasketID)
	if basketID == "" {
		basketID = b.newID()
	}

	total := pricing.Format(breakdown.Total)
	req := AuthRequest{
		Locale:          valueOr(b.Locale, defaultLocale),
		ConversationID:  conversationID,
		Price:           total,
		PaidPrice:       total,
		Currency:        strings.ToUpper(valueOr(in.Currency, defaultCurrency)),
		Installment:     in.Installment,
		BasketID:        basketID,
		PaymentChannel:  paymentChannel,
		PaymentGroup:    paymentGroup,
		PaymentCard:     card,
		Buyer:           buyer,
		ShippingAddress: in.ShippingAddress,
		BillingAddress:  in.BillingAddress,
		BasketItems:     basket,
	}
	return req, breakdown, nil
}

// FormatBuyerDate parses a date-like value and renders it in the vendor layout.
func FormatBuyerDate(value string, loc *time.Location) (string, error) {
	if loc == nil {
		loc = time.Local
	}
	trimmed := strings.TrimSpace(value)
	for _, layout := range buyerDateLayouts {
		t, err := time.ParseInLocation(layout, trimmed, loc)
		if err == nil {
			return t.In(loc).Format(VendorDateLayout), nil
		}
	}
	return "", fmt.Errorf("unrecognised date %q", value)
}

func (b Builder) vendorDate(field, value string) (string, error) {
	if strings.TrimSpace(value) == "" {
		return "", nil
	}
	formatted, err := FormatBuyerDate(value, b.Location)
	if err != nil {
		return "", &pricing.InputError{Field: field, Reason: err.Error()}
	}
	return formatted, nil
}

func (b Builder) newID() string {
	if b.NewID != nil {
		return b.NewID()
	}
	return uuid.NewString()
}

// SumBasket adds up the vendor-visible basket prices.
func SumBasket(items []BasketItem) (decimal.Decimal, error) {
	sum := decimal.Zero
	for _, it := range items {
		price, err := decimal.NewFromString(it.Price)
		if err != nil {
			return decimal.Zero, fmt.Errorf("basket item %s: %w", it.ID, err)
		}
		sum = sum.Add(price)
	}
	return sum, nil
}

func valueOr(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}
