// Package settlement реализует авторизацию платежа по обязательству.
package settlement

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rodrigues/cobranca-system/internal/interest"
	"github.com/rodrigues/cobranca-system/internal/model"
)

// ErrChargeNotFound возвращается, если обязательство не найдено.
var (
	ErrChargeNotFound = errors.New("charge not found")
	// ErrAlreadyPaid возвращается, если по обязательству уже зарегистрирован платёж.
	ErrAlreadyPaid = errors.New("charge already has a payment registered")
	// ErrInvalidAmount возвращается, если сумма платежа не совпадает с ожидаемой.
	ErrInvalidAmount = errors.New("invalid payment amount")
)

// Допуск при сверке суммы платежа с ожидаемой: 1 сентаво на погрешности округления.
var amountTolerance = decimal.RequireFromString("0.01")

// InvalidAmountError содержит расшифровку ожидаемой суммы для отклонённого платежа.
type InvalidAmountError struct {
	Expected decimal.Decimal
	Original decimal.Decimal
	Interest decimal.Decimal
}

func (e *InvalidAmountError) Error() string {
	if e.Interest.IsPositive() {
		return fmt.Sprintf("invalid payment amount: expected %s (original %s + interest %s)",
			e.Expected.StringFixed(2), e.Original.StringFixed(2), e.Interest.StringFixed(2))
	}
	return fmt.Sprintf("invalid payment amount: expected %s", e.Expected.StringFixed(2))
}

// Unwrap позволяет сопоставлять ошибку с ErrInvalidAmount через errors.Is.
func (e *InvalidAmountError) Unwrap() error {
	return ErrInvalidAmount
}

// Decision описывает принятую авторизацию: новый статус обязательства и
// платёж к записи. Обе половины должны фиксироваться хранилищем в одной
// транзакции.
type Decision struct {
	NewStatus model.ChargeStatus
	Payment   model.Payment
	Interest  interest.Calculation
}

// Authorize решает, может ли платёж погасить обязательство.
//
// Порядок проверок фиксированный: существование обязательства, затем
// уникальность платежа, затем сверка суммы с ожидаемой (исходная сумма плюс
// начисленная пеня) с допуском в 1 сентаво. Проверка уникальности здесь
// только быстрый путь: авторитетной защитой от гонки остаётся уникальный
// индекс по charge_id в хранилище.
func Authorize(charge *model.Charge, existing *model.Payment, attempted decimal.Decimal, method model.PaymentMethod, now time.Time) (*Decision, error) {
	if charge == nil {
		return nil, ErrChargeNotFound
	}

	if existing != nil {
		return nil, fmt.Errorf("%w: charge %d", ErrAlreadyPaid, charge.ID)
	}

	calc := interest.Calculate(charge.Amount, charge.DueDate, now)

	if attempted.Sub(calc.TotalAmount).Abs().GreaterThan(amountTolerance) {
		return nil, &InvalidAmountError{
			Expected: calc.TotalAmount,
			Original: calc.OriginalAmount,
			Interest: calc.Interest,
		}
	}

	return &Decision{
		NewStatus: model.ChargeStatusPago,
		Payment: model.Payment{
			ChargeID: charge.ID,
			Amount:   attempted,
			Method:   method,
			PaidAt:   now,
		},
		Interest: calc,
	}, nil
}
