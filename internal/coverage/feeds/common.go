package feeds

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sony/gobreaker"
)

// BackoffConfig controls exponential backoff behaviour.
type BackoffConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultBackoff is used when a consumer is configured without one.
var DefaultBackoff = BackoffConfig{
	MaxRetries:      3,
	InitialInterval: 200 * time.Millisecond,
	MaxInterval:     5 * time.Second,
}

var (
	errIdle          = errors.New("no message within poll timeout")
	errCircuitOpen   = errors.New("circuit breaker open")
	errNoFetcher     = errors.New("message fetcher not configured")
	errInvalidConfig = errors.New("invalid backoff configuration")
)

// messageFetcher is the read capability of kafka.Reader.
type messageFetcher interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
}

// newBreaker builds the breaker guarding broker reads. An idle poll is not a
// failure. onState receives every transition.
func newBreaker(name string, onState func(to gobreaker.State)) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, errIdle)
		},
		OnStateChange: func(_ string, _, to gobreaker.State) {
			if onState != nil {
				onState(to)
			}
		},
	})
}

// fetchWithResilience reads one message with retries, exponential backoff
// and a circuit breaker. Each attempt is bounded by poll; an attempt that
// times out while ctx is still live returns errIdle without retrying.
func fetchWithResilience(
	ctx context.Context,
	backoff BackoffConfig,
	cb *gobreaker.CircuitBreaker,
	fetcher messageFetcher,
	poll time.Duration,
) (kafka.Message, error) {
	if fetcher == nil {
		return kafka.Message{}, errNoFetcher
	}
	if backoff.MaxRetries < 0 || backoff.InitialInterval <= 0 || poll <= 0 {
		return kafka.Message{}, errInvalidConfig
	}

	var attempt int
	for {
		if ctx.Err() != nil {
			return kafka.Message{}, ctx.Err()
		}

		result, err := cb.Execute(func() (interface{}, error) {
			fetchCtx, cancel := context.WithTimeout(ctx, poll)
			defer cancel()

			msg, fetchErr := fetcher.FetchMessage(fetchCtx)
			if fetchErr != nil {
				if errors.Is(fetchErr, context.DeadlineExceeded) && ctx.Err() == nil {
					return nil, errIdle
				}
				return nil, fetchErr
			}
			return msg, nil
		})

		if err == nil {
			msg, ok := result.(kafka.Message)
			if !ok {
				return kafka.Message{}, fmt.Errorf("unexpected result type from circuit breaker")
			}
			return msg, nil
		}

		if errors.Is(err, errIdle) {
			return kafka.Message{}, errIdle
		}
		if ctx.Err() != nil {
			return kafka.Message{}, ctx.Err()
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return kafka.Message{}, fmt.Errorf("%w: %v", errCircuitOpen, err)
		}
		// Closed readers never recover.
		if errors.Is(err, kafka.ErrGroupClosed) {
			return kafka.Message{}, err
		}

		if attempt >= backoff.MaxRetries {
			return kafka.Message{}, err
		}

		delay := backoff.InitialInterval * time.Duration(math.Pow(2, float64(attempt)))
		if delay > backoff.MaxInterval && backoff.MaxInterval > 0 {
			delay = backoff.MaxInterval
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return kafka.Message{}, ctx.Err()
		case <-timer.C:
		}

		attempt++
	}
}
