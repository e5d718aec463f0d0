// Package domain provides core domain models and types.
package domain

import "time"

// Currency represents a currency code
type Currency string

const (
	CurrencyEUR Currency = "EUR"
	CurrencyUSD Currency = "USD"
	CurrencyGBP Currency = "GBP"
)

// SubscriptionStatus is the user's plan tier
type SubscriptionStatus string

const (
	SubscriptionFree    SubscriptionStatus = "FREE"
	SubscriptionPremium SubscriptionStatus = "PREMIUM"
)

// NotificationChannel is a delivery channel for alerts
type NotificationChannel string

const (
	ChannelEmail NotificationChannel = "EMAIL"
	ChannelPush  NotificationChannel = "PUSH"
)

// Valid reports whether c is a recognized channel
func (c NotificationChannel) Valid() bool {
	return c == ChannelEmail || c == ChannelPush
}

// SecurityType represents the kind of instrument held
type SecurityType string

const (
	SecurityTypeStock SecurityType = "STOCK"
	SecurityTypeETF   SecurityType = "ETF"
	SecurityTypeFund  SecurityType = "FUND"
)

// AssetClass represents the broad asset class of a holding
type AssetClass string

const (
	AssetClassEquity    AssetClass = "EQUITY"
	AssetClassCrypto    AssetClass = "CRYPTO"
	AssetClassCommodity AssetClass = "COMMODITY"
)

// DefaultPortfolioName is the name of the portfolio created at provisioning
const DefaultPortfolioName = "My First Portfolio"

// User is an account provisioned from a verified identity.
// The UID is the identity provider's subject.
type User struct {
	UID                     string                `json:"uid"`
	Username                string                `json:"username"`
	Email                   string                `json:"email"`
	SubscriptionStatus      SubscriptionStatus    `json:"subscriptionStatus"`
	NotificationPreferences []NotificationChannel `json:"notificationPreferences"`
	DefaultPortfolioID      *string               `json:"defaultPortfolioId"`
	CreatedAt               time.Time             `json:"createdAt"`
	ModifiedAt              time.Time             `json:"modifiedAt"`
}

// CashReserve tracks a portfolio's cash and the earmarked war chest.
// WarChestAmount never exceeds TotalAmount.
type CashReserve struct {
	TotalAmount    float64 `json:"totalAmount"`
	WarChestAmount float64 `json:"warChestAmount"`
}

// Valid reports whether the reserve satisfies its invariant
func (c CashReserve) Valid() bool {
	return c.TotalAmount >= 0 && c.WarChestAmount >= 0 && c.WarChestAmount <= c.TotalAmount
}

// TaxSettings holds per-portfolio tax configuration
type TaxSettings struct {
	CapitalGainTaxRate float64 `json:"capitalGainTaxRate"`
}

// Portfolio is a named collection of holdings owned by one user
type Portfolio struct {
	PortfolioID     string      `json:"portfolioId"`
	UserID          string      `json:"userId"`
	Name            string      `json:"name"`
	Description     string      `json:"description"`
	DefaultCurrency Currency    `json:"defaultCurrency"`
	CashReserve     CashReserve `json:"cashReserve"`
	TaxSettings     TaxSettings `json:"taxSettings"`
	RuleSetID       *string     `json:"ruleSetId"`
	CreatedAt       time.Time   `json:"createdAt"`
	ModifiedAt      time.Time   `json:"modifiedAt"`
}

// PortfolioNameClaim reserves a portfolio name for a user. One exists per
// live portfolio and is keyed by NameClaimKey.
type PortfolioNameClaim struct {
	UserID      string
	Name        string
	PortfolioID string
}

// NameClaimKey builds the storage key for a user's portfolio name
func NameClaimKey(userID, name string) string {
	return userID + "\x00" + name
}

// Holding is a position in one instrument inside a portfolio
type Holding struct {
	HoldingID    string       `json:"holdingId"`
	PortfolioID  string       `json:"portfolioId"`
	UserID       string       `json:"userId"`
	Ticker       string       `json:"ticker"`
	ISIN         string       `json:"ISIN,omitempty"`
	WKN          string       `json:"WKN,omitempty"`
	SecurityType SecurityType `json:"securityType"`
	AssetClass   AssetClass   `json:"assetClass"`
	Currency     Currency     `json:"currency"`
	AnnualCosts  *float64     `json:"annualCosts,omitempty"`
	RuleSetID    *string      `json:"ruleSetId"`
	Lots         []Lot        `json:"lots"`
	CreatedAt    time.Time    `json:"createdAt"`
	ModifiedAt   time.Time    `json:"modifiedAt"`
}

// FindLot returns the index of the lot with the given id, or -1
func (h *Holding) FindLot(lotID string) int {
	for i := range h.Lots {
		if h.Lots[i].LotID == lotID {
			return i
		}
	}
	return -1
}

// Lot is a single purchase. PurchaseDate is a calendar date (YYYY-MM-DD).
type Lot struct {
	LotID         string    `json:"lotId"`
	PurchaseDate  string    `json:"purchaseDate"`
	Quantity      float64   `json:"quantity"`
	PurchasePrice float64   `json:"purchasePrice"`
	CreatedAt     time.Time `json:"createdAt"`
	ModifiedAt    time.Time `json:"modifiedAt"`
}

// DateLayout is the wire format of calendar dates
const DateLayout = "2006-01-02"
