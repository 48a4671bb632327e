package audit

/*
Журнал решений (Decision Journal): локальная копия решений, полученных клиентом.

- Non-blocking: Log не ждет записи, события уходят в буферизованный канал.
  При переполнении событие сбрасывается (Load Shedding) с записью в логгер.
- Batching: воркер копит события и пишет пачкой по таймеру или по размеру пачки.
- Drain: Stop закрывает канал и ждет, пока воркер вычитает остаток и сделает финальный flush.
*/

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Storage определяет, куда физически будут сохраняться события
type Storage interface {
	// WriteBatch сохраняет пачку событий за один раз
	WriteBatch(ctx context.Context, events []DecisionEvent) error
}

type Auditor interface {
	Log(event DecisionEvent)
}

type Options struct {
	BufferSize    int
	BatchSize     int
	FlushInterval time.Duration
	// OnFill получает текущую заполненность буфера (для метрики backpressure)
	OnFill func(n int)
}

type Journal struct {
	ch            chan DecisionEvent // Буфер для асинхронности
	repo          Storage
	logger        *zap.Logger
	batchSize     int
	flushInterval time.Duration
	onFill        func(n int)

	wg        sync.WaitGroup
	mu        sync.RWMutex // Log держит RLock, Stop: Lock: после закрытия канала отправок нет
	isClosed  int32        // Атомарный флаг (0 - открыт, 1 - закрыт)
	startOnce sync.Once
	stopOnce  sync.Once
}

func NewJournal(repo Storage, opts Options, logger *zap.Logger) *Journal {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = 1000
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = 500 * time.Millisecond
	}
	return &Journal{
		ch:            make(chan DecisionEvent, opts.BufferSize),
		repo:          repo,
		logger:        logger.Named("journal"),
		batchSize:     opts.BatchSize,
		flushInterval: opts.FlushInterval,
		onFill:        opts.OnFill,
	}
}

func (j *Journal) Start() {
	j.startOnce.Do(func() {
		j.wg.Add(1)
		go j.worker()
	})
}

// Stop «запирает» вход в канал и ждет, пока воркер всё допишет. Повторный вызов безопасен.
func (j *Journal) Stop() {
	j.stopOnce.Do(func() {
		j.logger.Debug("stopping journal: closing channel and flushing buffer")

		j.mu.Lock()
		atomic.StoreInt32(&j.isClosed, 1)
		close(j.ch)
		j.mu.Unlock()

		// Воркер мог не стартовать: вычитываем сами
		j.startOnce.Do(func() {
			j.wg.Add(1)
			go j.worker()
		})
		j.wg.Wait()
		j.logger.Debug("journal stopped")
	})
}

func (j *Journal) Log(event DecisionEvent) {
	// Убеждаемся, что таймстемп всегда проставлен
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	j.mu.RLock()
	defer j.mu.RUnlock()

	if atomic.LoadInt32(&j.isClosed) == 1 {
		j.logger.Warn("decision event dropped: journal is stopped", zap.String("id", event.ID))
		return
	}

	// используем стратегию Load Shedding (сброс нагрузки)
	select {
	case j.ch <- event:
		if j.onFill != nil {
			j.onFill(len(j.ch))
		}
	default:
		j.logger.Error("journal_buffer_overflow",
			zap.String("action", event.Action),
			zap.String("trace_id", event.TraceID),
		)
	}
}

func (j *Journal) worker() {
	defer j.wg.Done()

	batch := make([]DecisionEvent, 0, j.batchSize)
	ticker := time.NewTicker(j.flushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		// Используем Background, так как контекст вызывающего может быть уже закрыт
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := j.repo.WriteBatch(ctx, batch); err != nil {
			j.logger.Error("journal flush failed", zap.Int("events", len(batch)), zap.Error(err))
		}
		batch = batch[:0]
		if j.onFill != nil {
			j.onFill(len(j.ch))
		}
	}

	for {
		select {
		case event, ok := <-j.ch:
			if !ok {
				// Канал закрыт в Stop(): остаток уже вычитан, финальный сброс
				flush()
				return
			}
			batch = append(batch, event)
			if len(batch) >= j.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
