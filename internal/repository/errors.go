package repository

import "errors"

var (
	// ErrCustomerNotFound возвращается, если клиент не найден.
	ErrCustomerNotFound = errors.New("customer not found")
	// ErrDocumentExists возвращается при попытке создать клиента с уже зарегистрированным CPF.
	ErrDocumentExists = errors.New("document already registered")
	// ErrInsufficientPoints возвращается, если движение сделало бы баланс отрицательным.
	ErrInsufficientPoints = errors.New("insufficient points")
	// ErrCouponExists возвращается при попытке сохранить уже выпущенный код купона.
	ErrCouponExists = errors.New("coupon code already issued")
	// ErrCouponNotFound возвращается, если купон с таким кодом не выпускался.
	ErrCouponNotFound = errors.New("coupon not found")
	// ErrCouponAlreadyUsed возвращается, если купон уже привязан к движению.
	ErrCouponAlreadyUsed = errors.New("coupon already used")
	// ErrOperatorExists возвращается при попытке создать оператора с занятым логином.
	ErrOperatorExists = errors.New("operator already exists")
	// ErrOperatorNotFound возвращается, если оператор не найден.
	ErrOperatorNotFound = errors.New("operator not found")
	// ErrSettingsNotFound возвращается, если настройки программы ещё не сохранены.
	ErrSettingsNotFound = errors.New("program settings not found")
	// ErrNoLevels возвращается, если в программе не настроено ни одного уровня.
	ErrNoLevels = errors.New("no customer levels configured")
)
