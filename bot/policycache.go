package bot

import (
	"context"
	"sync"
	"time"

	"github.com/calmecac/wabridge/domains/policy"
	"github.com/calmecac/wabridge/pkg/utils"
	"github.com/sirupsen/logrus"
)

type cachedSession struct {
	view      policy.View
	fetchedAt time.Time
}

type cachedChat struct {
	view      policy.ChatView
	fetchedAt time.Time
}

type cachedSelf struct {
	ids       map[string]struct{}
	fetchedAt time.Time
}

// PolicyCache es la vista read-through de la política de bot con tres
// carriles: sesión, chat y self-ids por cuenta. Una vista fresca puede
// permitir un mensaje de más durante el primer minuto tras un cambio de
// configuración; eso es aceptado. Fallas de lectura niegan (fail-closed).
type PolicyCache struct {
	reader policy.Reader
	ttl    time.Duration

	mu       sync.Mutex
	sessions map[string]cachedSession
	chats    map[string]cachedChat
	selves   map[string]cachedSelf

	now func() time.Time
}

var _ policy.ICache = (*PolicyCache)(nil)

func NewPolicyCache(reader policy.Reader, ttl time.Duration) *PolicyCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &PolicyCache{
		reader:   reader,
		ttl:      ttl,
		sessions: make(map[string]cachedSession),
		chats:    make(map[string]cachedChat),
		selves:   make(map[string]cachedSelf),
		now:      time.Now,
	}
}

func (p *PolicyCache) AllowProcess(ctx context.Context, req policy.ProcessRequest) bool {
	view, err := p.sessionView(ctx, req.AccountID, req.Label)
	if err != nil {
		logrus.WithError(err).Warnf("[POLICY] Session view read failed for %s/%s; denying", req.AccountID, req.Label)
		return false
	}
	if !view.Enabled {
		return false
	}

	if req.SenderWaID != "" && !view.ReceiveFromBots {
		selves, err := p.selfIDs(ctx, req.AccountID)
		if err != nil {
			logrus.WithError(err).Warnf("[POLICY] Self-id read failed for %s; denying", req.AccountID)
			return false
		}
		if _, own := selves[req.SenderWaID]; own {
			return false
		}
	}

	return p.allowByChatRules(ctx, view, req.AccountID, req.Label, req.ChatID)
}

func (p *PolicyCache) AllowSend(ctx context.Context, accountID, label, chatID string) bool {
	view, err := p.sessionView(ctx, accountID, label)
	if err != nil {
		logrus.WithError(err).Warnf("[POLICY] Session view read failed for %s/%s; denying", accountID, label)
		return false
	}
	if !view.Enabled {
		return false
	}
	return p.allowByChatRules(ctx, view, accountID, label, chatID)
}

func (p *PolicyCache) allowByChatRules(ctx context.Context, view policy.View, accountID, label, chatID string) bool {
	normalized := utils.NormalizeChatID(chatID)

	switch view.Mode {
	case policy.ModeAllowlist:
		if !containsChat(view.Allowlist, normalized) {
			return false
		}
	case policy.ModeBlocklist:
		if containsChat(view.Blocklist, normalized) {
			return false
		}
	}

	chatView, err := p.chatView(ctx, accountID, label, chatID)
	if err != nil {
		logrus.WithError(err).Warnf("[POLICY] Chat view read failed for %s/%s %s; denying", accountID, label, chatID)
		return false
	}
	if chatView.BotEnabled != nil && !*chatView.BotEnabled {
		return false
	}
	return true
}

func containsChat(list []string, normalized string) bool {
	for _, entry := range list {
		if utils.NormalizeChatID(entry) == normalized {
			return true
		}
	}
	return false
}

// sessionView lee con cache TTL. El lock nunca se retiene durante la
// lectura al store.
func (p *PolicyCache) sessionView(ctx context.Context, accountID, label string) (policy.View, error) {
	key := accountID + "|" + label

	p.mu.Lock()
	if c, ok := p.sessions[key]; ok && p.now().Sub(c.fetchedAt) < p.ttl {
		p.mu.Unlock()
		return c.view, nil
	}
	p.mu.Unlock()

	view, err := p.reader.SessionView(ctx, accountID, label)
	if err != nil {
		return policy.View{}, err
	}

	p.mu.Lock()
	p.sessions[key] = cachedSession{view: view, fetchedAt: p.now()}
	p.mu.Unlock()
	return view, nil
}

func (p *PolicyCache) chatView(ctx context.Context, accountID, label, chatID string) (policy.ChatView, error) {
	key := accountID + "|" + label + "|" + chatID

	p.mu.Lock()
	if c, ok := p.chats[key]; ok && p.now().Sub(c.fetchedAt) < p.ttl {
		p.mu.Unlock()
		return c.view, nil
	}
	p.mu.Unlock()

	view, err := p.reader.ChatView(ctx, accountID, label, chatID)
	if err != nil {
		return policy.ChatView{}, err
	}

	p.mu.Lock()
	p.chats[key] = cachedChat{view: view, fetchedAt: p.now()}
	p.mu.Unlock()
	return view, nil
}

func (p *PolicyCache) selfIDs(ctx context.Context, accountID string) (map[string]struct{}, error) {
	p.mu.Lock()
	if c, ok := p.selves[accountID]; ok && p.now().Sub(c.fetchedAt) < p.ttl {
		p.mu.Unlock()
		return c.ids, nil
	}
	p.mu.Unlock()

	ids, err := p.reader.SelfIDs(ctx, accountID)
	if err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id != "" {
			set[id] = struct{}{}
		}
	}

	p.mu.Lock()
	p.selves[accountID] = cachedSelf{ids: set, fetchedAt: p.now()}
	p.mu.Unlock()
	return set, nil
}
