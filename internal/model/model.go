// Package model содержит доменные сущности сервиса учёта платежей.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Customer представляет клиента, за которым числятся платёжные обязательства.
type Customer struct {
	ID        int64
	Name      string
	CPF       string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ChargeStatus описывает статус платёжного обязательства.
type ChargeStatus string

const (
	ChargeStatusPendente  ChargeStatus = "PENDENTE"
	ChargeStatusPago      ChargeStatus = "PAGO"
	ChargeStatusVencido   ChargeStatus = "VENCIDO"
	ChargeStatusCancelado ChargeStatus = "CANCELADO"
)

// IsValidChargeStatus проверяет, что строка является известным статусом.
func IsValidChargeStatus(s string) bool {
	switch ChargeStatus(s) {
	case ChargeStatusPendente, ChargeStatusPago, ChargeStatusVencido, ChargeStatusCancelado:
		return true
	}
	return false
}

// Charge описывает платёжное обязательство клиента.
type Charge struct {
	ID         int64
	CustomerID int64
	Amount     decimal.Decimal
	DueDate    time.Time
	Status     ChargeStatus
	CreatedAt  time.Time
	UpdatedAt  time.Time

	// HasPayment показывает, зарегистрирован ли платёж по обязательству.
	HasPayment bool
}

// EffectiveStatus возвращает отображаемый статус обязательства.
// VENCIDO не хранится в БД: он вычисляется на чтении, когда срок оплаты
// прошёл, а платёж не зарегистрирован.
func (c *Charge) EffectiveStatus(now time.Time) ChargeStatus {
	if c.Status == ChargeStatusPendente && now.After(c.DueDate) && !c.HasPayment {
		return ChargeStatusVencido
	}
	return c.Status
}

// CanTransition проверяет допустимость перехода статуса обязательства.
// PAGO и CANCELADO — терминальные состояния.
func CanTransition(from, to ChargeStatus) bool {
	if from == to {
		return true
	}
	switch from {
	case ChargeStatusPendente:
		return to == ChargeStatusPago || to == ChargeStatusCancelado
	}
	return false
}

// PaymentMethod описывает способ оплаты. Значение информационное и не
// влияет на бизнес-правила.
type PaymentMethod string

const (
	PaymentMethodPix          PaymentMethod = "PIX"
	PaymentMethodCreditCard   PaymentMethod = "CREDIT_CARD"
	PaymentMethodDebitCard    PaymentMethod = "DEBIT_CARD"
	PaymentMethodBoleto       PaymentMethod = "BOLETO"
	PaymentMethodBankTransfer PaymentMethod = "BANK_TRANSFER"
)

// IsValidPaymentMethod проверяет, что строка является известным способом оплаты.
func IsValidPaymentMethod(s string) bool {
	switch PaymentMethod(s) {
	case PaymentMethodPix, PaymentMethodCreditCard, PaymentMethodDebitCard,
		PaymentMethodBoleto, PaymentMethodBankTransfer:
		return true
	}
	return false
}

// Payment описывает факт оплаты обязательства. По одному обязательству
// может существовать не более одного платежа.
type Payment struct {
	ID       int64
	ChargeID int64
	Amount   decimal.Decimal
	Method   PaymentMethod
	PaidAt   time.Time
}
