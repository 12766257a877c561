// Package interest содержит расчёт пени по просроченным обязательствам.
package interest

import (
	"time"

	"github.com/shopspring/decimal"
)

// Ставка пени: 10% за каждые 30 дней просрочки, пропорционально дням.
var (
	monthlyRate  = decimal.RequireFromString("0.1")
	daysPerMonth = decimal.NewFromInt(30)
)

// Calculation описывает результат расчёта пени на заданный момент времени.
type Calculation struct {
	OriginalAmount decimal.Decimal
	Interest       decimal.Decimal
	TotalAmount    decimal.Decimal
	IsOverdue      bool
	MonthsOverdue  decimal.Decimal
}

// Calculate вычисляет пеню по обязательству на момент now.
//
// Обязательство считается просроченным строго после срока оплаты: в момент
// самого срока просрочки ещё нет. Неполные сутки просрочки отбрасываются,
// месяц принимается равным 30 дням без капитализации. Interest и TotalAmount
// округляются до 2 знаков независимо друг от друга; MonthsOverdue округляется
// только для вывода, пеня считается от неокруглённого значения.
func Calculate(amount decimal.Decimal, dueDate, now time.Time) Calculation {
	if !now.After(dueDate) {
		return Calculation{
			OriginalAmount: amount,
			Interest:       decimal.Zero,
			TotalAmount:    amount,
			IsOverdue:      false,
			MonthsOverdue:  decimal.Zero,
		}
	}

	daysOverdue := int64(now.Sub(dueDate) / (24 * time.Hour))
	monthsOverdue := decimal.NewFromInt(daysOverdue).Div(daysPerMonth)
	interest := amount.Mul(monthlyRate).Mul(monthsOverdue)

	return Calculation{
		OriginalAmount: amount,
		Interest:       interest.Round(2),
		TotalAmount:    amount.Add(interest).Round(2),
		IsOverdue:      true,
		MonthsOverdue:  monthsOverdue.Round(2),
	}
}
