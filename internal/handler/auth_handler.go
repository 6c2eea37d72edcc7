// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/chirpbot/chirpboard/internal/auth"
	"github.com/chirpbot/chirpboard/internal/discord"
	"github.com/chirpbot/chirpboard/internal/middleware"
	"github.com/chirpbot/chirpboard/internal/session"
)

// AuthHandler はDiscord OAuth認証関連のHTTPハンドラー。
type AuthHandler struct {
	service       *auth.Service
	sessionMaxAge int // セッションCookieの有効期間（秒）
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service *auth.Service, sessionMaxAge int) *AuthHandler {
	return &AuthHandler{
		service:       service,
		sessionMaxAge: sessionMaxAge,
	}
}

// Login はDiscord OAuthフローを開始する。
// GET /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	state, err := auth.GenerateState()
	if err != nil {
		slog.Error("failed to generate oauth state", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	meta := session.MetaFromRequest(r)
	http.SetCookie(w, session.NewStateCookie(state, meta))
	http.Redirect(w, r, h.service.LoginURL(state), http.StatusFound)
}

// Callback は認可コードを交換してセッションを発行する。
// GET /auth/callback?code=...&state=...
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")
	if code == "" || state == "" {
		middleware.WriteError(w, http.StatusBadRequest, "missing code/state")
		return
	}

	// state Cookieの検証（CSRF対策）
	stateCookie, err := r.Cookie(session.StateCookieName)
	if err != nil || stateCookie.Value == "" {
		middleware.WriteError(w, http.StatusBadRequest, "state cookie missing")
		return
	}
	if stateCookie.Value != state {
		middleware.WriteError(w, http.StatusBadRequest, "state mismatch")
		return
	}

	meta := session.MetaFromRequest(r)
	_, cookieValue, err := h.service.HandleCallback(r.Context(), code, meta)
	if err != nil {
		slog.Error("oauth callback failed", slog.String("error", err.Error()))
		middleware.WriteError(w, http.StatusBadRequest, "token exchange failed")
		return
	}

	http.SetCookie(w, session.ClearStateCookie(meta))
	http.SetCookie(w, session.NewSessionCookie(cookieValue, meta, h.sessionMaxAge))
	http.Redirect(w, r, "/", http.StatusFound)
}

// Logout はセッションCookieを失効させる。
// Domainあり・なしの両スコープで削除する。
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	meta := session.MetaFromRequest(r)
	for _, c := range session.ClearSessionCookies(meta) {
		http.SetCookie(w, c)
	}
	http.Redirect(w, r, "/", http.StatusFound)
}

// meResponse は/auth/meのレスポンス。
type meResponse struct {
	OK   bool   `json:"ok"`
	User meUser `json:"user"`
}

type meUser struct {
	ID            string `json:"id"`
	Username      string `json:"username"`
	Discriminator string `json:"discriminator"`
	GlobalName    string `json:"global_name"`
	Avatar        string `json:"avatar"`
	AvatarURL     string `json:"avatar_url"`
}

// Me はセッションのユーザー情報を返す。アクセストークンは使用しない。
// GET /auth/me（セッションミドルウェアの後に配置、requireToken=false）
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	cred, err := middleware.CredentialFromContext(r.Context())
	if err != nil {
		middleware.WriteSessionError(w, session.ErrUnauthenticated)
		return
	}
	rec := cred.Record

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Vary", "Cookie")
	json.NewEncoder(w).Encode(meResponse{
		OK: true,
		User: meUser{
			ID:            rec.Subject,
			Username:      rec.Username,
			Discriminator: rec.Discriminator,
			GlobalName:    rec.GlobalName,
			Avatar:        rec.Avatar,
			AvatarURL:     discord.AvatarURL(rec.Subject, rec.Avatar),
		},
	})
}
