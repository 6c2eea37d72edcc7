package cache

import (
	"context"
	"log/slog"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// GuildLister はBotの在籍ギルドID集合を返す。botapi.Clientが実装する。
type GuildLister interface {
	Configured() bool
	ListGuildIDs(ctx context.Context) (map[string]struct{}, error)
}

const presenceKey = "bot_guilds"

// Presence はBotの在籍ギルド集合をTTL付きでキャッシュする。
// 取得失敗は在籍判定を「不明」として扱い、ダッシュボード表示を阻害しない。
type Presence struct {
	lister GuildLister
	logger *slog.Logger
	cache  *ttlcache.Cache[string, map[string]struct{}]
}

// NewPresence はPresenceキャッシュを生成する。
func NewPresence(lister GuildLister, logger *slog.Logger, ttl time.Duration) *Presence {
	return &Presence{
		lister: lister,
		logger: logger,
		cache: ttlcache.New(
			ttlcache.WithTTL[string, map[string]struct{}](ttl),
			ttlcache.WithDisableTouchOnHit[string, map[string]struct{}](),
		),
	}
}

// GuildIDs はBotが在籍するギルドIDの集合を返す。
// 第2戻り値がfalseの場合は在籍情報が得られなかったことを示す
// （Bot API未設定または取得失敗）。
func (p *Presence) GuildIDs(ctx context.Context) (map[string]struct{}, bool) {
	if !p.lister.Configured() {
		return nil, false
	}

	if item := p.cache.Get(presenceKey); item != nil {
		return item.Value(), true
	}

	ids, err := p.lister.ListGuildIDs(ctx)
	if err != nil {
		p.logger.Warn("Bot在籍ギルドの取得に失敗しました", slog.String("error", err.Error()))
		return nil, false
	}

	p.cache.Set(presenceKey, ids, ttlcache.DefaultTTL)
	return ids, true
}
