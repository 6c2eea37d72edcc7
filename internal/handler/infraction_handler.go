package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/chirpbot/chirpboard/internal/middleware"
)

// InfractionBackend は違反記録操作が必要とするBot APIのインターフェース。
// botapi.Clientが実装する。
type InfractionBackend interface {
	UserInfractions(ctx context.Context, userID string, limit int) ([]json.RawMessage, error)
	UpdateInfraction(ctx context.Context, guildID, infractionID, reason string) (json.RawMessage, error)
}

const myInfractionsLimit = 10

// InfractionHandler は違反記録のHTTPハンドラー。
type InfractionHandler struct {
	guilds GuildFetcher
	bot    InfractionBackend
}

// NewInfractionHandler はInfractionHandlerを生成する。
func NewInfractionHandler(guilds GuildFetcher, bot InfractionBackend) *InfractionHandler {
	return &InfractionHandler{guilds: guilds, bot: bot}
}

// MyInfractions はセッション主体自身の違反記録を返す。
// GET /api/me/infractions
func (h *InfractionHandler) MyInfractions(w http.ResponseWriter, r *http.Request) {
	subject, err := middleware.SubjectFromContext(r.Context())
	if err != nil {
		middleware.WriteError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}

	infractions, err := h.bot.UserInfractions(r.Context(), subject, myInfractionsLimit)
	if err != nil {
		slog.Warn("failed to fetch user infractions",
			slog.String("subject", subject),
			slog.String("error", err.Error()),
		)
		if writeUpstreamJSON(w, err) {
			return
		}
		middleware.WriteError(w, http.StatusInternalServerError, "failed to fetch user infractions")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":          true,
		"user_id":     subject,
		"infractions": infractions,
	})
}

// editInfractionRequest は違反記録編集リクエストのボディ。
type editInfractionRequest struct {
	GuildID string `json:"guild_id"`
	Reason  string `json:"reason"`
}

// EditInfraction は違反記録の理由を書き換える。対象ギルドの管理権限が必要。
// 上流のステータスとボディはそのまま転送する。
// PATCH /api/infractions/{id}
func (h *InfractionHandler) EditInfraction(w http.ResponseWriter, r *http.Request) {
	infractionID := chi.URLParam(r, "id")

	var req editInfractionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.GuildID == "" || infractionID == "" {
		middleware.WriteError(w, http.StatusBadRequest, "missing fields")
		return
	}

	if !requireManage(w, r, h.guilds, req.GuildID) {
		return
	}

	data, err := h.bot.UpdateInfraction(r.Context(), req.GuildID, infractionID, req.Reason)
	if err != nil {
		if writeUpstreamJSON(w, err) {
			return
		}
		slog.Error("failed to update infraction",
			slog.String("guild_id", req.GuildID),
			slog.String("infraction_id", infractionID),
			slog.String("error", err.Error()),
		)
		middleware.WriteError(w, http.StatusInternalServerError, "failed to reach bot api")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	if len(data) > 0 {
		w.Write(data)
	} else {
		json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}
}
