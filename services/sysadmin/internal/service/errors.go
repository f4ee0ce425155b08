package service

import "errors"

var (
	// ErrInvalidPayment событие нельзя учесть в отчёте
	ErrInvalidPayment = errors.New("invalid payment for report")
	// ErrRestaurantNotFound по ресторану нет оплат
	ErrRestaurantNotFound = errors.New("restaurant has no payments")
)
