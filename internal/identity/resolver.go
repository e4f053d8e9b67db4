// Package identity определяет, может ли кандидат быть зарегистрирован как новый клиент.
//
// Resolve не выполняет ввода-вывода: все обращения к хранилищу выполняет вызывающая сторона,
// а результат зависит только от переданных кандидата, политики и найденных совпадений.
package identity

import (
	"strings"

	"github.com/mmeshcher/cashback-core/internal/model"
	"github.com/mmeshcher/cashback-core/internal/validation"
)

// Candidate описывает ключи идентичности регистрируемого клиента.
// Пустые Email и Phone означают, что ключ не передан.
type Candidate struct {
	Document string
	Email    string
	Phone    string
}

// Matches содержит существующих клиентов, найденных по каждому из ключей кандидата.
// ByEmail и ByPhone должны искаться среди клиентов с другим документом.
type Matches struct {
	ByDocument *model.Customer
	ByEmail    *model.Customer
	ByPhone    *model.Customer
}

// Resolve проверяет кандидата на корректность документа и на конфликты с существующими клиентами.
// Клиент, возвращаемый в ExistingCustomer, выбирается по приоритету документ > email > телефон,
// но флаги выставляются для всех сработавших конфликтов.
func Resolve(c Candidate, policy model.DuplicatePolicy, m Matches) model.ValidationResult {
	document := validation.FormatCPF(c.Document)

	res := model.ValidationResult{
		Document: document,
		Email:    c.Email,
		Phone:    c.Phone,
	}

	if !validation.IsValidCPF(document) {
		return res
	}

	var conflicts model.Conflicts

	if m.ByDocument != nil {
		conflicts.DuplicateDocument = true
		conflicts.ExistingCustomer = m.ByDocument
	}

	if strings.TrimSpace(c.Email) != "" && !policy.AllowDuplicateEmail && conflictsWith(m.ByEmail, document) {
		conflicts.DuplicateEmail = true
		if conflicts.ExistingCustomer == nil {
			conflicts.ExistingCustomer = m.ByEmail
		}
	}

	if validation.NormalizePhone(c.Phone) != "" && !policy.AllowDuplicatePhone && conflictsWith(m.ByPhone, document) {
		conflicts.DuplicatePhone = true
		if conflicts.ExistingCustomer == nil {
			conflicts.ExistingCustomer = m.ByPhone
		}
	}

	res.Conflicts = conflicts
	res.IsValid = !conflicts.Any()

	return res
}

func conflictsWith(existing *model.Customer, document string) bool {
	if existing == nil {
		return false
	}
	return validation.FormatCPF(existing.Document) != document
}
