package service

import (
	"context"
	"errors"

	"github.com/shestoi/GoFoodTech/platform/events"
)

// ErrPublishFailed возвращается publisher-ом, когда брокер не принял событие
// за отведённые попытки или бюджет времени
var ErrPublishFailed = errors.New("publish failed")

//go:generate go run github.com/vektra/mockery/v2@v2.53.5 --name=EventPublisher --dir=. --output=./mocks --outpkg=mocks

// EventPublisher публикует событие об успешной оплате
type EventPublisher interface {
	// Publish возвращает событие в том виде, в котором его принял брокер (с итоговым attempt).
	// Ошибка оборачивает ErrPublishFailed, если все попытки исчерпаны.
	Publish(ctx context.Context, event events.PaymentSucceeded) (events.PaymentSucceeded, error)
}
