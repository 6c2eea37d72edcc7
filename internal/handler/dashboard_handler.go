package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/chirpbot/chirpboard/internal/cache"
	"github.com/chirpbot/chirpboard/internal/discord"
	"github.com/chirpbot/chirpboard/internal/middleware"
)

// GuildFetcher はユーザーの所属ギルド一覧の取得に必要なインターフェース。
// discord.Clientが実装する。
type GuildFetcher interface {
	FetchGuilds(ctx context.Context, tokenType, accessToken string) ([]discord.Guild, error)
}

// DashboardHandler はダッシュボードのギルド一覧・詳細のHTTPハンドラー。
type DashboardHandler struct {
	guilds   GuildFetcher
	presence *cache.Presence
}

// NewDashboardHandler はDashboardHandlerを生成する。
func NewDashboardHandler(guilds GuildFetcher, presence *cache.Presence) *DashboardHandler {
	return &DashboardHandler{guilds: guilds, presence: presence}
}

// guildSummary はダッシュボードに返すギルドの要約。
// BotInGuildは在籍情報が取得できなかった場合nullになる。
type guildSummary struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Icon       *string `json:"icon"`
	Owner      bool    `json:"owner"`
	CanManage  bool    `json:"canManage"`
	BotInGuild *bool   `json:"botInGuild"`
}

func summarizeGuild(g *discord.Guild, botIDs map[string]struct{}, botKnown bool) guildSummary {
	var icon *string
	if g.Icon != "" {
		u := discord.GuildIconURL(g.ID, g.Icon)
		icon = &u
	}

	var botInGuild *bool
	if botKnown {
		_, in := botIDs[g.ID]
		botInGuild = &in
	}

	return guildSummary{
		ID:         g.ID,
		Name:       g.Name,
		Icon:       icon,
		Owner:      g.Owner,
		CanManage:  discord.CanManage(g),
		BotInGuild: botInGuild,
	}
}

// Guilds はユーザーの所属ギルド一覧を管理可否とBot在籍情報付きで返す。
// GET /api/dashboard/guilds
func (h *DashboardHandler) Guilds(w http.ResponseWriter, r *http.Request) {
	cred, err := middleware.CredentialFromContext(r.Context())
	if err != nil {
		middleware.WriteError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}

	guilds, err := h.guilds.FetchGuilds(r.Context(), cred.TokenType, cred.AccessToken)
	if err != nil {
		slog.Warn("failed to fetch user guilds", slog.String("error", err.Error()))
		middleware.WriteError(w, http.StatusBadRequest, "failed to fetch guilds")
		return
	}

	botIDs, botKnown := h.presence.GuildIDs(r.Context())

	out := make([]guildSummary, 0, len(guilds))
	for i := range guilds {
		out = append(out, summarizeGuild(&guilds[i], botIDs, botKnown))
	}

	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "guilds": out})
}

// Guild は単一ギルドの要約を返す。管理権限のないギルドは403。
// GET /api/dashboard/guild?guild_id=
func (h *DashboardHandler) Guild(w http.ResponseWriter, r *http.Request) {
	cred, err := middleware.CredentialFromContext(r.Context())
	if err != nil {
		middleware.WriteError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}

	guildID := r.URL.Query().Get("guild_id")
	if guildID == "" {
		middleware.WriteError(w, http.StatusBadRequest, "missing guild_id")
		return
	}

	guilds, err := h.guilds.FetchGuilds(r.Context(), cred.TokenType, cred.AccessToken)
	if err != nil {
		slog.Warn("failed to fetch user guilds", slog.String("error", err.Error()))
		middleware.WriteError(w, http.StatusBadRequest, "failed to fetch guilds")
		return
	}

	var found *discord.Guild
	for i := range guilds {
		if guilds[i].ID == guildID {
			found = &guilds[i]
			break
		}
	}
	if found == nil {
		middleware.WriteError(w, http.StatusNotFound, "guild not found for user")
		return
	}

	if !discord.CanManage(found) {
		writeJSON(w, http.StatusForbidden, map[string]any{"ok": false, "authorized": false})
		return
	}

	var icon *string
	if found.Icon != "" {
		u := discord.GuildIconURL(found.ID, found.Icon)
		icon = &u
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":         true,
		"authorized": true,
		"guild": map[string]any{
			"id":        found.ID,
			"name":      found.Name,
			"icon":      icon,
			"owner":     found.Owner,
			"canManage": true,
		},
	})
}

// writeJSON はJSONレスポンスをCache-Control: no-store付きで書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(payload)
}
