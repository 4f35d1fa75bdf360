package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionStatus for payment transactions reported by providers.
type TransactionStatus string

const (
	TransactionPending  TransactionStatus = "PENDING"
	TransactionApproved TransactionStatus = "APPROVED"
	TransactionFailed   TransactionStatus = "FAILED"
	TransactionRefunded TransactionStatus = "REFUNDED"
	TransactionCanceled TransactionStatus = "CANCELED"
)

// PaymentMethod is how the payer pays.
type PaymentMethod string

const (
	MethodPix        PaymentMethod = "PIX"
	MethodCreditCard PaymentMethod = "CREDIT_CARD"
	MethodDebitCard  PaymentMethod = "DEBIT_CARD"
	MethodBoleto     PaymentMethod = "BOLETO"
)

// Valid reports whether m is a known payment method.
func (m PaymentMethod) Valid() bool {
	switch m {
	case MethodPix, MethodCreditCard, MethodDebitCard, MethodBoleto:
		return true
	}
	return false
}

// PaymentTransaction is a payment created by the gateway integration layer.
// RegistrationID is set at most once, by reconciliation.
type PaymentTransaction struct {
	ID             uuid.UUID         `json:"id"`
	Provider       Provider          `json:"provider"`
	ExternalID     *string           `json:"external_id,omitempty"`
	Status         TransactionStatus `json:"status"`
	RawStatus      string            `json:"raw_status,omitempty"`
	Method         PaymentMethod     `json:"method,omitempty"`
	Amount         decimal.Decimal   `json:"amount"`
	Protocol       *string           `json:"protocol,omitempty"`
	Entity         EntityRef         `json:"entity"`
	RegistrationID *uuid.UUID        `json:"registration_id,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// Linked reports whether reconciliation already attached the transaction to a registration.
func (t *PaymentTransaction) Linked() bool {
	return t.RegistrationID != nil
}
