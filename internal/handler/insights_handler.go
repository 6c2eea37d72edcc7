package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/chirpbot/chirpboard/internal/botapi"
	"github.com/chirpbot/chirpboard/internal/discord"
	"github.com/chirpbot/chirpboard/internal/middleware"
)

// BotBackend はインサイト集約が必要とするBot APIのインターフェース。
// botapi.Clientが実装する。
type BotBackend interface {
	GuildStats(ctx context.Context, guildID string) (json.RawMessage, error)
	GuildInfractions(ctx context.Context, guildID string, limit int, q string) (json.RawMessage, error)
	GuildPromotions(ctx context.Context, guildID string, limit int, q string) (json.RawMessage, error)
	InfractionSeries(ctx context.Context, guildID string, days int) (json.RawMessage, error)
	GuildConfig(ctx context.Context, guildID string) (json.RawMessage, error)
	UpdateGuildConfig(ctx context.Context, guildID, key string, value any) error
	SearchChannels(ctx context.Context, guildID, q string) (json.RawMessage, error)
	SearchRoles(ctx context.Context, guildID, q string) (json.RawMessage, error)
}

const (
	recentItemsLimit = 5
	seriesDays       = 30
)

// InsightsHandler はギルドインサイトの集約と設定更新のHTTPハンドラー。
// すべての操作は対象ギルドのManage Server権限（またはオーナー）を要求する。
type InsightsHandler struct {
	guilds GuildFetcher
	bot    BotBackend
}

// NewInsightsHandler はInsightsHandlerを生成する。
func NewInsightsHandler(guilds GuildFetcher, bot BotBackend) *InsightsHandler {
	return &InsightsHandler{guilds: guilds, bot: bot}
}

// requireManage はリクエスト主体が対象ギルドを管理できることを検証する。
// 検証に失敗した場合はレスポンスを書き込み、falseを返す。
func requireManage(w http.ResponseWriter, r *http.Request, fetcher GuildFetcher, guildID string) bool {
	cred, err := middleware.CredentialFromContext(r.Context())
	if err != nil {
		middleware.WriteError(w, http.StatusUnauthorized, "unauthenticated")
		return false
	}

	guilds, err := fetcher.FetchGuilds(r.Context(), cred.TokenType, cred.AccessToken)
	if err != nil {
		slog.Warn("failed to verify guild membership", slog.String("error", err.Error()))
		middleware.WriteError(w, http.StatusUnauthorized, "failed to verify membership")
		return false
	}

	var found *discord.Guild
	for i := range guilds {
		if guilds[i].ID == guildID {
			found = &guilds[i]
			break
		}
	}
	if found == nil {
		middleware.WriteError(w, http.StatusForbidden, "not in guild")
		return false
	}
	if !discord.CanManage(found) {
		middleware.WriteError(w, http.StatusForbidden, "forbidden")
		return false
	}
	return true
}

// Insights はギルドの統計・直近の記録・時系列・Bot設定を集約して返す。
// 各フィールドはベストエフォートで取得し、一部の失敗は応答全体を妨げない。
// GET /api/guilds/{id}/insights
func (h *InsightsHandler) Insights(w http.ResponseWriter, r *http.Request) {
	guildID := chi.URLParam(r, "id")
	if guildID == "" {
		middleware.WriteError(w, http.StatusBadRequest, "missing guild_id")
		return
	}
	if !requireManage(w, r, h.guilds, guildID) {
		return
	}

	ctx := r.Context()
	out := map[string]any{"ok": true, "guild_id": guildID}

	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		firstErr error
	)
	collect := func(field string, fetch func() (json.RawMessage, error)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			data, err := fetch()
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				return
			}
			out[field] = data
		}()
	}

	collect("stats", func() (json.RawMessage, error) { return h.bot.GuildStats(ctx, guildID) })
	collect("recent_infractions", func() (json.RawMessage, error) {
		return h.bot.GuildInfractions(ctx, guildID, recentItemsLimit, "")
	})
	collect("recent_promotions", func() (json.RawMessage, error) {
		return h.bot.GuildPromotions(ctx, guildID, recentItemsLimit, "")
	})
	collect("infractions_series", func() (json.RawMessage, error) {
		return h.bot.InfractionSeries(ctx, guildID, seriesDays)
	})
	collect("bot_config", func() (json.RawMessage, error) { return h.bot.GuildConfig(ctx, guildID) })
	wg.Wait()

	if firstErr != nil {
		out["error"] = firstErr.Error()
	}

	// 任意の記録検索（q + kind）
	params := r.URL.Query()
	q := params.Get("q")
	kind := params.Get("kind")
	if q != "" && (kind == "infractions" || kind == "promotions") {
		search := map[string]any{"kind": kind, "q": q}
		var (
			data json.RawMessage
			err  error
		)
		if kind == "infractions" {
			data, err = h.bot.GuildInfractions(ctx, guildID, recentItemsLimit, q)
		} else {
			data, err = h.bot.GuildPromotions(ctx, guildID, recentItemsLimit, q)
		}
		if err != nil {
			search["error"] = err.Error()
		} else {
			search["result"] = data
		}
		out["search"] = search
	}

	// 任意のチャンネル・ロール検索（search_type + search_query）
	searchType := params.Get("search_type")
	if searchType != "" && params.Has("search_query") {
		searchQuery := params.Get("search_query")
		results := map[string]any{"type": searchType, "query": searchQuery}
		var (
			data json.RawMessage
			err  error
		)
		if searchType == "channel" {
			data, err = h.bot.SearchChannels(ctx, guildID, searchQuery)
		} else {
			data, err = h.bot.SearchRoles(ctx, guildID, searchQuery)
		}
		if err != nil {
			results["error"] = err.Error()
		} else {
			results["items"] = extractSearchItems(data)
		}
		out["searchResults"] = results
	}

	writeJSON(w, http.StatusOK, out)
}

// extractSearchItems は検索応答のitemsまたはresultsフィールドを取り出す。
// どちらもない場合は空配列を返す。
func extractSearchItems(data json.RawMessage) []json.RawMessage {
	var payload struct {
		Items   []json.RawMessage `json:"items"`
		Results []json.RawMessage `json:"results"`
	}
	if err := json.Unmarshal(data, &payload); err == nil {
		if payload.Items != nil {
			return payload.Items
		}
		if payload.Results != nil {
			return payload.Results
		}
	}
	return []json.RawMessage{}
}

// configUpdateRequest はBot設定更新リクエストのボディ。
type configUpdateRequest struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

// UpdateConfig はギルドのBot設定の1項目を更新する。
// POST /api/guilds/{id}/insights
func (h *InsightsHandler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	guildID := chi.URLParam(r, "id")
	if guildID == "" {
		middleware.WriteError(w, http.StatusBadRequest, "missing guild_id")
		return
	}
	if !requireManage(w, r, h.guilds, guildID) {
		return
	}

	var req configUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Key == "" {
		middleware.WriteError(w, http.StatusBadRequest, "missing config key")
		return
	}

	if err := h.bot.UpdateGuildConfig(r.Context(), guildID, req.Key, req.Value); err != nil {
		slog.Error("failed to update bot config",
			slog.String("guild_id", guildID),
			slog.String("key", req.Key),
			slog.String("error", err.Error()),
		)
		middleware.WriteError(w, http.StatusInternalServerError, "failed to update bot config")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// writeUpstreamJSON は上流エラーのステータスとボディをそのまま転送する。
// 上流エラーでない場合はfalseを返す。
func writeUpstreamJSON(w http.ResponseWriter, err error) bool {
	var upErr *botapi.UpstreamError
	if !errors.As(err, &upErr) {
		return false
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(upErr.StatusCode)
	if len(upErr.Body) > 0 {
		w.Write(upErr.Body)
	} else {
		json.NewEncoder(w).Encode(map[string]any{"ok": false, "error": upErr.Error()})
	}
	return true
}
