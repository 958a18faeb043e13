package gateway

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ErrGatewayUnavailable wraps every transport or authentication failure.
var ErrGatewayUnavailable = errors.New("gateway: unavailable")

// APIError carries a non-2xx gateway response.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gateway: status %d: %s", e.Status, e.Body)
}

// Customer is the payer printed on the billet.
type Customer struct {
	Name        string `json:"name"`
	CPF         string `json:"cpf,omitempty"`
	Email       string `json:"email,omitempty"`
	PhoneNumber string `json:"phone_number,omitempty"`
}

// Item is one billed line.
type Item struct {
	Name   string
	Amount decimal.Decimal
	Qty    int
}

// BilletConfig holds optional fine and interest, both in reais.
type BilletConfig struct {
	Fine     decimal.Decimal
	Interest decimal.Decimal
}

// ChargeRequest asks for a one-step banking billet charge.
type ChargeRequest struct {
	Items    []Item
	Customer Customer
	DueDate  time.Time
	Message  string
	Config   *BilletConfig
}

// ChargeResult is what the gateway returns for a created charge.
type ChargeResult struct {
	ChargeID string
	Barcode  string
	Link     string
	QRCode   string
	Status   string
	Total    decimal.Decimal
}

// ChargeStatus is the current state of a charge.
type ChargeStatus struct {
	ChargeID      string
	Status        string
	Total         decimal.Decimal
	PaymentMethod string
}

// Paid reports whether the provider considers the charge settled.
func (s ChargeStatus) Paid() bool {
	return s.Status == "paid" || s.Status == "settled"
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

type wireItem struct {
	Name   string `json:"name"`
	Value  int64  `json:"value"`
	Amount int    `json:"amount"`
}

type wireBilletConfig struct {
	Fine     int64 `json:"fine,omitempty"`
	Interest int64 `json:"interest,omitempty"`
}

type wireBillet struct {
	Customer       Customer          `json:"customer"`
	ExpireAt       string            `json:"expire_at"`
	Configurations *wireBilletConfig `json:"configurations,omitempty"`
	Message        string            `json:"message,omitempty"`
}

type wireCharge struct {
	Items   []wireItem `json:"items"`
	Payment struct {
		BankingBillet wireBillet `json:"banking_billet"`
	} `json:"payment"`
	Metadata *wireMetadata `json:"metadata,omitempty"`
}

type wireMetadata struct {
	NotificationURL string `json:"notification_url"`
}

type wireChargeResponse struct {
	Code int `json:"code"`
	Data struct {
		ChargeID int64  `json:"charge_id"`
		Barcode  string `json:"barcode"`
		Link     string `json:"link"`
		Pix      struct {
			QRCode string `json:"qrcode"`
		} `json:"pix"`
		Status  string `json:"status"`
		Total   int64  `json:"total"`
		Payment string `json:"payment"`
	} `json:"data"`
}

func cents(d decimal.Decimal) int64 {
	return d.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

func fromCents(v int64) decimal.Decimal {
	return decimal.New(v, -2)
}
