// Package validation содержит функции валидации входных данных.
package validation

import "unicode"

// IsValidPhone проверяет номер телефона пользователя: ровно 10 цифр,
// начинается с нуля (локальный южноафриканский формат).
func IsValidPhone(phone string) bool {
	if len(phone) != 10 {
		return false
	}

	if phone[0] != '0' {
		return false
	}

	for _, ch := range phone {
		if !unicode.IsDigit(ch) {
			return false
		}
	}

	return true
}
