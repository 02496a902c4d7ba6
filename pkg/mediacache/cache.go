package mediacache

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Entry retiene la referencia al mensaje original con media para que una
// descarga posterior pueda resolverlo. Solo vive en memoria por un TTL corto.
type Entry struct {
	Ref       any
	ExpiresAt time.Time
}

// Cache keys entries by (accountId, label, messageId).
type Cache struct {
	mu    sync.RWMutex
	ttl   time.Duration
	store map[string]Entry
}

func New(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &Cache{ttl: ttl, store: make(map[string]Entry)}
}

func key(accountID, label, messageID string) string {
	return accountID + "|" + label + "|" + messageID
}

func (c *Cache) Put(accountID, label, messageID string, ref any) {
	if strings.TrimSpace(messageID) == "" || ref == nil {
		return
	}
	c.mu.Lock()
	c.store[key(accountID, label, messageID)] = Entry{Ref: ref, ExpiresAt: time.Now().Add(c.ttl)}
	c.mu.Unlock()
}

// Get devuelve la referencia si sigue vigente; si expiró limpia la entrada.
func (c *Cache) Get(accountID, label, messageID string) (any, bool) {
	k := key(accountID, label, messageID)
	c.mu.RLock()
	e, ok := c.store[k]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if time.Now().After(e.ExpiresAt) {
		c.mu.Lock()
		delete(c.store, k)
		c.mu.Unlock()
		return nil, false
	}
	return e.Ref, true
}

func (c *Cache) Delete(accountID, label, messageID string) {
	c.mu.Lock()
	delete(c.store, key(accountID, label, messageID))
	c.mu.Unlock()
}

// DropSession elimina todas las entradas de una sesión.
func (c *Cache) DropSession(accountID, label string) {
	prefix := fmt.Sprintf("%s|%s|", accountID, label)
	c.mu.Lock()
	for k := range c.store {
		if strings.HasPrefix(k, prefix) {
			delete(c.store, k)
		}
	}
	c.mu.Unlock()
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.store)
}

// StartSweeper barre entradas expiradas cada interval hasta que ctx termine.
func (c *Cache) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.sweep(time.Now())
			}
		}
	}()
}

func (c *Cache) sweep(now time.Time) {
	c.mu.Lock()
	for k, e := range c.store {
		if now.After(e.ExpiresAt) {
			delete(c.store, k)
		}
	}
	c.mu.Unlock()
}
