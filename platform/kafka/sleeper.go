package kafka

import (
	"context"
	"time"
)

// Sleeper определяет интерфейс для задержки (используется для тестирования)
type Sleeper interface {
	// Sleep выполняет задержку на указанное время или до отмены контекста
	Sleep(ctx context.Context, d time.Duration) error
}

// DefaultSleeper реализует Sleeper используя time.After
type DefaultSleeper struct{}

// Sleep выполняет задержку используя time.After
func (s *DefaultSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Backoff возвращает экспоненциальную паузу для n-й повторной попытки (n >= 1): base, 2*base, 4*base ... но не больше max
func Backoff(base time.Duration, n int, max time.Duration) time.Duration {
	if n < 1 {
		n = 1
	}
	d := base
	for i := 1; i < n; i++ {
		d *= 2
		if max > 0 && d >= max {
			return max
		}
	}
	if max > 0 && d > max {
		return max
	}
	return d
}
