// Package validation содержит функции проверки и нормализации ключей идентичности клиента.
package validation

import "strings"

const cpfLength = 11

// DigitsOnly удаляет из строки все символы, кроме цифр.
func DigitsOnly(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, ch := range s {
		if ch >= '0' && ch <= '9' {
			b.WriteRune(ch)
		}
	}
	return b.String()
}

// IsValidCPF проверяет CPF по двум контрольным цифрам (mod 11).
// Пунктуация игнорируется.
func IsValidCPF(document string) bool {
	digits := DigitsOnly(document)
	if len(digits) != cpfLength {
		return false
	}

	if strings.Count(digits, digits[:1]) == cpfLength {
		return false
	}

	d := make([]int, cpfLength)
	for i := range digits {
		d[i] = int(digits[i] - '0')
	}

	if checkDigit(d[:9]) != d[9] {
		return false
	}
	return checkDigit(d[:10]) == d[10]
}

// checkDigit вычисляет контрольную цифру с весами len+1..2.
func checkDigit(digits []int) int {
	sum := 0
	weight := len(digits) + 1
	for _, digit := range digits {
		sum += digit * weight
		weight--
	}

	remainder := (sum * 10) % 11
	if remainder >= 10 {
		return 0
	}
	return remainder
}

// FormatCPF приводит CPF к виду ###.###.###-##. Корректность не проверяется:
// если цифр не 11, возвращаются только цифры.
func FormatCPF(document string) string {
	digits := DigitsOnly(document)
	if len(digits) != cpfLength {
		return digits
	}
	return digits[0:3] + "." + digits[3:6] + "." + digits[6:9] + "-" + digits[9:11]
}
