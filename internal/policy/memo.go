package policy

import (
	"sync"
	"time"

	"github.com/xela07ax/meshguard-go/internal/domain"
	"go.uber.org/zap"
)

type memoEntry struct {
	decision domain.PolicyDecision
	expires  time.Time
}

// MemoCache in-process кэш решений с TTL. Живет внутри одного клиента
// и между процессами не разделяется. Ключ: action + resource.
type MemoCache struct {
	mu      sync.RWMutex
	entries map[string]memoEntry
	ttl     time.Duration
	now     func() time.Time
	logger  *zap.Logger
}

func NewMemoCache(ttl time.Duration, logger *zap.Logger) *MemoCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &MemoCache{
		entries: make(map[string]memoEntry),
		ttl:     ttl,
		now:     time.Now,
		logger:  logger.Named("memo"),
	}
}

func memoKey(action, resource string) string {
	return action + "\x00" + resource
}

// Get "Hot Path": только RAM, без сети.
func (c *MemoCache) Get(action, resource string) (domain.PolicyDecision, bool) {
	c.mu.RLock()
	e, ok := c.entries[memoKey(action, resource)]
	c.mu.RUnlock()

	if !ok {
		return domain.PolicyDecision{}, false
	}
	if !c.now().Before(e.expires) {
		c.mu.Lock()
		// Перепроверяем под записью: запись могли обновить
		if cur, ok := c.entries[memoKey(action, resource)]; ok && !c.now().Before(cur.expires) {
			delete(c.entries, memoKey(action, resource))
		}
		c.mu.Unlock()
		return domain.PolicyDecision{}, false
	}
	return e.decision, true
}

func (c *MemoCache) Put(action, resource string, d domain.PolicyDecision) {
	c.mu.Lock()
	c.entries[memoKey(action, resource)] = memoEntry{decision: d, expires: c.now().Add(c.ttl)}
	c.mu.Unlock()
}

// Flush сбрасывает все решения (сигнал об изменении политик).
func (c *MemoCache) Flush() {
	c.mu.Lock()
	n := len(c.entries)
	c.entries = make(map[string]memoEntry)
	c.mu.Unlock()

	c.logger.Debug("decision cache flushed", zap.Int("count", n))
}

// Len возвращает число записей, включая просроченные, которые еще не вычищены.
func (c *MemoCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
