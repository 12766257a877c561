// Package validation содержит функции валидации входных данных.
package validation

import "unicode"

// IsValidCPF проверяет контрольные цифры CPF. Принимает как чистые 11 цифр,
// так и отформатированную запись (точки и дефис игнорируются).
func IsValidCPF(cpf string) bool {
	digits := make([]int, 0, 11)
	for _, ch := range cpf {
		if ch == '.' || ch == '-' || ch == ' ' {
			continue
		}
		if !unicode.IsDigit(ch) {
			return false
		}
		digits = append(digits, int(ch-'0'))
	}

	if len(digits) != 11 {
		return false
	}

	allEqual := true
	for _, d := range digits[1:] {
		if d != digits[0] {
			allEqual = false
			break
		}
	}
	if allEqual {
		return false
	}

	sum := 0
	for i := 0; i < 9; i++ {
		sum += digits[i] * (10 - i)
	}
	first := 11 - sum%11
	if first >= 10 {
		first = 0
	}
	if first != digits[9] {
		return false
	}

	sum = 0
	for i := 0; i < 10; i++ {
		sum += digits[i] * (11 - i)
	}
	second := 11 - sum%11
	if second >= 10 {
		second = 0
	}

	return second == digits[10]
}
