package transport

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/sony/gobreaker"
	"github.com/xela07ax/meshguard-go/internal/domain"
	"github.com/xela07ax/meshguard-go/internal/infra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// errServerStatus помечает 5xx для предохранителя и ретрая. Наружу не выходит:
// сам ответ отдается декодеру.
var errServerStatus = errors.New("gateway server error")

// ReliabilityWrapper оборачивает Sender: лимитер -> предохранитель -> один повтор GET.
type ReliabilityWrapper struct {
	next            Sender
	cb              *gobreaker.CircuitBreaker // nil: выключен
	limiter         *rate.Limiter             // nil: без лимита
	retryIdempotent bool
	retryDelay      time.Duration
	metrics         *Metrics
	logger          *zap.Logger
}

func NewReliabilityWrapper(next Sender, cfg infra.TransportConfig, metrics *Metrics, logger *zap.Logger) *ReliabilityWrapper {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	w := &ReliabilityWrapper{
		next:            next,
		retryIdempotent: cfg.RetryIdempotent,
		retryDelay:      100 * time.Millisecond,
		metrics:         metrics,
		logger:          logger.Named("reliability"),
	}

	// Настройка лимитера (0: выключен)
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		w.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	// Настройка предохранителя
	if cfg.CBEnabled {
		failures := cfg.CBFailures
		if failures == 0 {
			failures = 5
		}
		w.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "meshguard-gateway",
			MaxRequests: cfg.CBMaxRequests,
			Interval:    cfg.CBInterval,
			Timeout:     cfg.CBTimeout, // Время, через которое CB попробует "закрыться"
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= failures
			},
			// Отказ шлюза: это сеть, таймаут или 5xx. 4xx и отмена вызова на здоровье шлюза не влияют.
			IsSuccessful: func(err error) bool {
				return !isTransient(err)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				w.metrics.CircuitBreakerState.Set(float64(to))
				w.logger.Warn("circuit breaker state changed",
					zap.String("name", name),
					zap.String("from", from.String()),
					zap.String("to", to.String()),
				)
			},
		})
	}

	return w
}

func (w *ReliabilityWrapper) Send(ctx context.Context, req *Request) (*Response, error) {
	endpoint := endpointLabel(req.Path)
	w.metrics.TotalRequests.WithLabelValues(req.Method, endpoint).Inc()
	start := time.Now()

	resp, err := w.send(ctx, req)

	status := "error"
	if resp != nil {
		status = strconv.Itoa(resp.StatusCode)
	}
	w.metrics.RequestDuration.WithLabelValues(req.Method, endpoint, status).Observe(time.Since(start).Seconds())

	if err != nil {
		w.metrics.ErrorTotal.WithLabelValues(errorKind(err)).Inc()
		return nil, err
	}
	if resp.StatusCode >= 400 {
		w.metrics.ErrorTotal.WithLabelValues(statusKind(resp.StatusCode)).Inc()
	}
	return resp, nil
}

func (w *ReliabilityWrapper) send(ctx context.Context, req *Request) (*Response, error) {
	// 1. Rate Limiter
	if w.limiter != nil {
		if err := w.limiter.Wait(ctx); err != nil {
			rlErr := domain.NewRateLimitError("client rate limit exceeded", 0)
			rlErr.StatusCode = 0
			rlErr.Err = err
			return nil, rlErr
		}
	}

	// 2. Только идемпотентные чтения и только при явном включении
	if !w.retryIdempotent || req.Method != http.MethodGet {
		return w.attempt(ctx, req)
	}

	var resp *Response
	r := retry.New(
		retry.Context(ctx),
		retry.Attempts(2), // Один дополнительный запрос, не больше
		retry.Delay(w.retryDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(isTransient),
	)

	err := r.Do(func() error {
		var callErr error
		resp, callErr = w.attempt(ctx, req)
		if callErr == nil && resp.StatusCode >= 500 {
			return errServerStatus
		}
		return callErr
	})

	// 5xx после повтора отдаем декодеру как обычный ответ
	if errors.Is(err, errServerStatus) && resp != nil {
		return resp, nil
	}
	if err != nil {
		// Отмена контекста во время паузы между попытками
		var base *domain.MeshGuardError
		if !errors.As(err, &base) {
			return nil, classify(err)
		}
		return nil, err
	}
	return resp, nil
}

// attempt делает один проход через предохранитель.
func (w *ReliabilityWrapper) attempt(ctx context.Context, req *Request) (*Response, error) {
	if w.cb == nil {
		return w.next.Send(ctx, req)
	}

	result, err := w.cb.Execute(func() (interface{}, error) {
		resp, err := w.next.Send(ctx, req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 500 {
			return resp, errServerStatus
		}
		return resp, nil
	})

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, domain.NewConnectionError("gateway circuit breaker is open", err)
	}

	resp, _ := result.(*Response)
	if errors.Is(err, errServerStatus) {
		return resp, nil
	}
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func isTransient(err error) bool {
	return errors.Is(err, errServerStatus) || domain.IsRetryable(err)
}

func errorKind(err error) string {
	var (
		timeout *domain.TimeoutError
		conn    *domain.ConnectionError
		auth    *domain.AuthenticationError
		limited *domain.RateLimitError
	)
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return "breaker_open"
	case errors.As(err, &timeout):
		return "timeout"
	case errors.As(err, &conn):
		return "connection"
	case errors.As(err, &auth):
		return "auth"
	case errors.As(err, &limited):
		return "rate_limit"
	default:
		return "other"
	}
}

func statusKind(code int) string {
	switch {
	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		return "auth"
	case code == http.StatusTooManyRequests:
		return "rate_limit"
	case code >= 500:
		return "server"
	default:
		return "client"
	}
}
