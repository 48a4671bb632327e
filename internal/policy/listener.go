package policy

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Flusher сбрасывает состояние по сигналу изменения политик.
type Flusher interface {
	Flush()
}

// Listener держит "живучую" подписку на канал изменений политик.
type Listener struct {
	rdb     *redis.Client
	channel string
	target  Flusher
	logger  *zap.Logger

	// Паузы между переподключениями
	retryDelay     time.Duration
	reconnectDelay time.Duration
}

func NewListener(rdb *redis.Client, channel string, target Flusher, logger *zap.Logger) *Listener {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Listener{
		rdb:            rdb,
		channel:        channel,
		target:         target,
		logger:         logger.Named("policy-listener"),
		retryDelay:     5 * time.Second,
		reconnectDelay: time.Second,
	}
}

// Run блокируется до отмены ctx. Обрабатывает переподключения: после каждого
// успешного Subscribe кэш сбрасывается, так как сигналы могли потеряться.
func (l *Listener) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		pubsub := l.rdb.Subscribe(ctx, l.channel)

		// Проверка успешности подписки
		if _, err := pubsub.Receive(ctx); err != nil {
			pubsub.Close()
			if ctx.Err() != nil {
				return
			}
			l.logger.Error("failed to subscribe", zap.String("chan", l.channel), zap.Error(err))
			if !sleepCtx(ctx, l.retryDelay) {
				return
			}
			continue
		}

		// Синхронизация при каждом успешном коннекте
		l.target.Flush()

		ch := pubsub.Channel()

	loop:
		for {
			select {
			case <-ctx.Done():
				pubsub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break loop // Канал закрыт, идем на переподключение
				}
				l.handle(msg.Payload)
			}
		}

		pubsub.Close()
		if !sleepCtx(ctx, l.reconnectDelay) {
			return
		}
	}
}

// handle понимает "refresh", "flush" и "policy:<id>": любой из них сбрасывает кэш целиком.
func (l *Listener) handle(payload string) {
	p := strings.TrimSpace(payload)
	switch {
	case p == "refresh", p == "flush", p == "", strings.HasPrefix(p, "policy:"):
		l.logger.Info("policy update signal", zap.String("payload", p))
		l.target.Flush()
	default:
		l.logger.Warn("invalid signal format", zap.String("payload", payload))
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
