package validation

import "strings"

// NormalizePhone оставляет в номере телефона только цифры. Номера сравниваются в этой форме.
func NormalizePhone(phone string) string {
	return DigitsOnly(phone)
}

// NormalizeEmail приводит email к нижнему регистру без окружающих пробелов.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

var brazilAreaCodes = map[string]struct{}{
	"11": {}, "12": {}, "13": {}, "14": {}, "15": {}, "16": {}, "17": {}, "18": {}, "19": {},
	"21": {}, "22": {}, "24": {}, "27": {}, "28": {},
	"31": {}, "32": {}, "33": {}, "34": {}, "35": {}, "37": {}, "38": {},
	"41": {}, "42": {}, "43": {}, "44": {}, "45": {}, "46": {}, "47": {}, "48": {}, "49": {},
	"51": {}, "53": {}, "54": {}, "55": {},
	"61": {}, "62": {}, "63": {}, "64": {}, "65": {}, "66": {}, "67": {}, "68": {}, "69": {},
	"71": {}, "73": {}, "74": {}, "75": {}, "77": {}, "79": {},
	"81": {}, "82": {}, "83": {}, "84": {}, "85": {}, "86": {}, "87": {}, "88": {}, "89": {},
	"91": {}, "92": {}, "93": {}, "94": {}, "95": {}, "96": {}, "97": {}, "98": {}, "99": {},
}

// IsValidBRMobile проверяет бразильский мобильный номер: DDD из списка и девять цифр,
// начинающихся с 9. Код страны 55 допускается в начале номера.
func IsValidBRMobile(phone string) bool {
	digits := NormalizePhone(phone)
	if len(digits) == 13 && strings.HasPrefix(digits, "55") {
		digits = digits[2:]
	}
	if len(digits) != 11 {
		return false
	}

	if _, ok := brazilAreaCodes[digits[:2]]; !ok {
		return false
	}
	return digits[2] == '9'
}
