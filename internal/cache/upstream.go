// Package cache は上流API呼び出しを遮蔽するプロセスローカルキャッシュを提供する。
package cache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Fetcher はキーに対応する値を上流から取得する関数。
type Fetcher[T any] func(ctx context.Context, key string) (T, error)

// Result は取得結果とキャッシュメタデータ。
type Result[T any] struct {
	Payload T
	// FromCache はTTL内のキャッシュから返した場合にtrue。
	FromCache bool
	// Stale は取得失敗時に期限切れキャッシュで代替した場合にtrue。
	Stale bool
	// Age はキャッシュエントリの経過時間（FromCacheまたはStaleのとき有効）。
	Age time.Duration
	// Err は取得エラー。Staleの場合も元のエラーを保持する。
	Err error
}

// Upstream は上流リソースをキー単位のTTLキャッシュで遮蔽する。
// 同一キーへの同時の取得要求はsingleflightで1回の上流呼び出しに合流し、
// 取得失敗時は期限切れの前回値があればそれを返す（stale fallback）。
type Upstream[T any] struct {
	fetch   Fetcher[T]
	ttl     time.Duration
	timeout time.Duration
	now     func() time.Time

	group singleflight.Group

	mu      sync.Mutex
	entries map[string]*entry[T]
}

type entry[T any] struct {
	payload T
	at      time.Time
}

// NewUpstream はUpstreamキャッシュを生成する。
func NewUpstream[T any](fetch Fetcher[T], ttl, timeout time.Duration) *Upstream[T] {
	return &Upstream[T]{
		fetch:   fetch,
		ttl:     ttl,
		timeout: timeout,
		now:     time.Now,
		entries: make(map[string]*entry[T]),
	}
}

// WithClock はクロックを差し替える。テスト用。
func (c *Upstream[T]) WithClock(now func() time.Time) *Upstream[T] {
	c.now = now
	return c
}

// Get はキャッシュ経由でキーに対応する値を取得する。
//
// TTL内ならキャッシュを返す。ミス時は上流を取得するが、同一キーへの
// 同時のミスは1回の取得に合流する。呼び出し元のctxがキャンセルされても
// 進行中の取得は継続し、結果は後続のためにキャッシュされる。取得失敗時は
// 期限切れの前回値があればStaleフラグ付きで返す。
func (c *Upstream[T]) Get(ctx context.Context, key string) Result[T] {
	now := c.now()

	c.mu.Lock()
	if e := c.entries[key]; e != nil && now.Sub(e.at) < c.ttl {
		res := Result[T]{Payload: e.payload, FromCache: true, Age: now.Sub(e.at)}
		c.mu.Unlock()
		return res
	}
	c.mu.Unlock()

	// 取得は呼び出し元から切り離したctxで行う。タイムアウトは上流保護のため。
	ch := c.group.DoChan(key, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()

		payload, err := c.fetch(fctx, key)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.entries[key] = &entry[T]{payload: payload, at: c.now()}
		c.mu.Unlock()
		return payload, nil
	})

	select {
	case <-ctx.Done():
		return Result[T]{Err: ctx.Err()}
	case res := <-ch:
		if res.Err != nil {
			c.mu.Lock()
			e := c.entries[key]
			c.mu.Unlock()
			if e != nil {
				return Result[T]{
					Payload: e.payload,
					Stale:   true,
					Age:     c.now().Sub(e.at),
					Err:     res.Err,
				}
			}
			return Result[T]{Err: res.Err}
		}
		return Result[T]{Payload: res.Val.(T)}
	}
}
