package service

import "errors"

var (
	// ErrInvalidInput ошибка валидации входных данных
	ErrInvalidInput = errors.New("invalid input")
	// ErrOrderNotFound заказа нет. Для события об оплате это временная ошибка:
	// заказ мог ещё не доехать до хранилища.
	ErrOrderNotFound = errors.New("order not found")
	// ErrInvalidTransition заказ в статусе, из которого переход невозможен
	ErrInvalidTransition = errors.New("invalid order status transition")
)
