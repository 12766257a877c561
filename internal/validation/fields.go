package validation

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rodrigues/cobranca-system/internal/model"
)

// FieldError описывает нарушение правила валидации для одного поля.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Errors — список нарушений. Пустой список означает успешную валидацию.
type Errors []FieldError

func (e Errors) Error() string {
	parts := make([]string, 0, len(e))
	for _, fe := range e {
		parts = append(parts, fmt.Sprintf("%s: %s", fe.Field, fe.Message))
	}
	return strings.Join(parts, "; ")
}

// Empty сообщает, что нарушений не найдено.
func (e Errors) Empty() bool {
	return len(e) == 0
}

func (e *Errors) add(field, message string) {
	*e = append(*e, FieldError{Field: field, Message: message})
}

// ValidateCustomer проверяет данные клиента.
func ValidateCustomer(name, cpf string) Errors {
	var errs Errors

	if strings.TrimSpace(name) == "" {
		errs.add("name", "name is required")
	}
	if !IsValidCPF(cpf) {
		errs.add("cpf", "invalid CPF")
	}

	return errs
}

// ValidateChargeAmount проверяет сумму обязательства: строго больше нуля,
// не более двух знаков после запятой.
func ValidateChargeAmount(amount decimal.Decimal) Errors {
	var errs Errors

	if !amount.IsPositive() {
		errs.add("amount", "amount must be positive")
	} else if amount.Exponent() < -2 {
		errs.add("amount", "amount must have at most 2 decimal places")
	}

	return errs
}

// ValidateDueDate проверяет срок оплаты: не раньше сегодняшнего дня и не
// позже, чем через год. Сравнение ведётся с точностью до дня.
func ValidateDueDate(dueDate, now time.Time) Errors {
	var errs Errors

	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	due := time.Date(dueDate.Year(), dueDate.Month(), dueDate.Day(), 0, 0, 0, 0, now.Location())

	if due.Before(today) {
		errs.add("dueDate", "due date must be today or a future date")
	} else if due.After(today.AddDate(1, 0, 0)) {
		errs.add("dueDate", "due date must be at most one year from today")
	}

	return errs
}

// ValidateNewCharge проверяет данные нового обязательства.
func ValidateNewCharge(customerID int64, amount decimal.Decimal, dueDate, now time.Time) Errors {
	var errs Errors

	if customerID <= 0 {
		errs.add("customerId", "customer id must be positive")
	}
	errs = append(errs, ValidateChargeAmount(amount)...)
	errs = append(errs, ValidateDueDate(dueDate, now)...)

	return errs
}

// ValidateNewPayment проверяет данные платежа.
func ValidateNewPayment(chargeID int64, amount decimal.Decimal, method string) Errors {
	var errs Errors

	if chargeID <= 0 {
		errs.add("chargeId", "charge id must be positive")
	}
	if !amount.IsPositive() {
		errs.add("amount", "amount must be positive")
	}
	if !model.IsValidPaymentMethod(method) {
		errs.add("method", "unknown payment method")
	}

	return errs
}
