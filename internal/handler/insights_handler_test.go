package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/chirpbot/chirpboard/internal/auth"
	"github.com/chirpbot/chirpboard/internal/discord"
	"github.com/chirpbot/chirpboard/internal/middleware"
	"github.com/chirpbot/chirpboard/internal/session"
)

// mockBotBackend はBotBackendのテスト用モック。
type mockBotBackend struct {
	statsFunc        func(ctx context.Context, guildID string) (json.RawMessage, error)
	infractionsFunc  func(ctx context.Context, guildID string, limit int, q string) (json.RawMessage, error)
	promotionsFunc   func(ctx context.Context, guildID string, limit int, q string) (json.RawMessage, error)
	seriesFunc       func(ctx context.Context, guildID string, days int) (json.RawMessage, error)
	configFunc       func(ctx context.Context, guildID string) (json.RawMessage, error)
	updateConfigFunc func(ctx context.Context, guildID, key string, value any) error
	channelsFunc     func(ctx context.Context, guildID, q string) (json.RawMessage, error)
	rolesFunc        func(ctx context.Context, guildID, q string) (json.RawMessage, error)
}

func (m *mockBotBackend) GuildStats(ctx context.Context, guildID string) (json.RawMessage, error) {
	if m.statsFunc != nil {
		return m.statsFunc(ctx, guildID)
	}
	return json.RawMessage(`{"members":100}`), nil
}

func (m *mockBotBackend) GuildInfractions(ctx context.Context, guildID string, limit int, q string) (json.RawMessage, error) {
	if m.infractionsFunc != nil {
		return m.infractionsFunc(ctx, guildID, limit, q)
	}
	return json.RawMessage(`{"items":[]}`), nil
}

func (m *mockBotBackend) GuildPromotions(ctx context.Context, guildID string, limit int, q string) (json.RawMessage, error) {
	if m.promotionsFunc != nil {
		return m.promotionsFunc(ctx, guildID, limit, q)
	}
	return json.RawMessage(`{"items":[]}`), nil
}

func (m *mockBotBackend) InfractionSeries(ctx context.Context, guildID string, days int) (json.RawMessage, error) {
	if m.seriesFunc != nil {
		return m.seriesFunc(ctx, guildID, days)
	}
	return json.RawMessage(`{"series":[]}`), nil
}

func (m *mockBotBackend) GuildConfig(ctx context.Context, guildID string) (json.RawMessage, error) {
	if m.configFunc != nil {
		return m.configFunc(ctx, guildID)
	}
	return json.RawMessage(`{"prefix":"!"}`), nil
}

func (m *mockBotBackend) UpdateGuildConfig(ctx context.Context, guildID, key string, value any) error {
	if m.updateConfigFunc != nil {
		return m.updateConfigFunc(ctx, guildID, key, value)
	}
	return nil
}

func (m *mockBotBackend) SearchChannels(ctx context.Context, guildID, q string) (json.RawMessage, error) {
	if m.channelsFunc != nil {
		return m.channelsFunc(ctx, guildID, q)
	}
	return json.RawMessage(`{"items":[]}`), nil
}

func (m *mockBotBackend) SearchRoles(ctx context.Context, guildID, q string) (json.RawMessage, error) {
	if m.rolesFunc != nil {
		return m.rolesFunc(ctx, guildID, q)
	}
	return json.RawMessage(`{"items":[]}`), nil
}

func manageableGuilds() *mockGuildFetcher {
	return &mockGuildFetcher{guilds: []discord.Guild{
		{ID: "123", Name: "Managed", Permissions: json.Number("32")},
		{ID: "456", Name: "Member only", Permissions: json.Number("0")},
	}}
}

// insightsRequest は認証情報とchiのURLパラメータを含むリクエストを組み立てる。
func insightsRequest(t *testing.T, method, target, guildID string, body string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	cred := &auth.Credential{
		Record:      &session.Record{Subject: "42"},
		AccessToken: "at",
		TokenType:   "Bearer",
	}
	ctx := middleware.ContextWithCredential(req.Context(), cred)

	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("id", guildID)
	return req.WithContext(context.WithValue(ctx, chi.RouteCtxKey, rctx))
}

func TestInsightsHandler_ManageGate(t *testing.T) {
	bot := &mockBotBackend{}

	t.Run("membership verification failure", func(t *testing.T) {
		h := NewInsightsHandler(&mockGuildFetcher{err: errors.New("discord down")}, bot)
		rr := httptest.NewRecorder()
		h.Insights(rr, insightsRequest(t, http.MethodGet, "/api/guilds/123/insights", "123", ""))
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", rr.Code)
		}
		var body map[string]any
		json.Unmarshal(rr.Body.Bytes(), &body)
		if body["error"] != "failed to verify membership" {
			t.Errorf("error = %v", body["error"])
		}
	})

	t.Run("not in guild", func(t *testing.T) {
		h := NewInsightsHandler(manageableGuilds(), bot)
		rr := httptest.NewRecorder()
		h.Insights(rr, insightsRequest(t, http.MethodGet, "/api/guilds/999/insights", "999", ""))
		if rr.Code != http.StatusForbidden {
			t.Errorf("status = %d, want 403", rr.Code)
		}
		var body map[string]any
		json.Unmarshal(rr.Body.Bytes(), &body)
		if body["error"] != "not in guild" {
			t.Errorf("error = %v", body["error"])
		}
	})

	t.Run("member without manage", func(t *testing.T) {
		h := NewInsightsHandler(manageableGuilds(), bot)
		rr := httptest.NewRecorder()
		h.Insights(rr, insightsRequest(t, http.MethodGet, "/api/guilds/456/insights", "456", ""))
		if rr.Code != http.StatusForbidden {
			t.Errorf("status = %d, want 403", rr.Code)
		}
		var body map[string]any
		json.Unmarshal(rr.Body.Bytes(), &body)
		if body["error"] != "forbidden" {
			t.Errorf("error = %v", body["error"])
		}
	})
}

func TestInsightsHandler_Aggregate(t *testing.T) {
	h := NewInsightsHandler(manageableGuilds(), &mockBotBackend{})

	rr := httptest.NewRecorder()
	h.Insights(rr, insightsRequest(t, http.MethodGet, "/api/guilds/123/insights", "123", ""))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("body parse: %v", err)
	}
	if body["ok"] != true || body["guild_id"] != "123" {
		t.Errorf("body = %v", body)
	}
	for _, field := range []string{"stats", "recent_infractions", "recent_promotions", "infractions_series", "bot_config"} {
		if _, ok := body[field]; !ok {
			t.Errorf("missing field %q", field)
		}
	}
	if _, ok := body["error"]; ok {
		t.Errorf("unexpected error field: %v", body["error"])
	}
}

func TestInsightsHandler_PartialFailure(t *testing.T) {
	bot := &mockBotBackend{
		statsFunc: func(ctx context.Context, guildID string) (json.RawMessage, error) {
			return nil, errors.New("stats unavailable")
		},
	}
	h := NewInsightsHandler(manageableGuilds(), bot)

	rr := httptest.NewRecorder()
	h.Insights(rr, insightsRequest(t, http.MethodGet, "/api/guilds/123/insights", "123", ""))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var body map[string]any
	json.Unmarshal(rr.Body.Bytes(), &body)

	// 失敗したフィールドは欠け、他のフィールドとerrorは存在する
	if _, ok := body["stats"]; ok {
		t.Error("stats should be missing")
	}
	if _, ok := body["bot_config"]; !ok {
		t.Error("bot_config should still be present")
	}
	if body["error"] != "stats unavailable" {
		t.Errorf("error = %v", body["error"])
	}
}

func TestInsightsHandler_RecordSearch(t *testing.T) {
	var gotQ string
	bot := &mockBotBackend{
		infractionsFunc: func(ctx context.Context, guildID string, limit int, q string) (json.RawMessage, error) {
			if q != "" {
				gotQ = q
			}
			return json.RawMessage(`{"items":[{"id":"i1"}]}`), nil
		},
	}
	h := NewInsightsHandler(manageableGuilds(), bot)

	rr := httptest.NewRecorder()
	h.Insights(rr, insightsRequest(t, http.MethodGet, "/api/guilds/123/insights?q=spam&kind=infractions", "123", ""))

	if gotQ != "spam" {
		t.Errorf("search q = %q, want spam", gotQ)
	}
	var body map[string]any
	json.Unmarshal(rr.Body.Bytes(), &body)
	search, ok := body["search"].(map[string]any)
	if !ok {
		t.Fatalf("search missing: %v", body)
	}
	if search["kind"] != "infractions" || search["q"] != "spam" {
		t.Errorf("search = %v", search)
	}
	if _, ok := search["result"]; !ok {
		t.Error("search result missing")
	}
}

func TestInsightsHandler_DirectorySearch(t *testing.T) {
	bot := &mockBotBackend{
		rolesFunc: func(ctx context.Context, guildID, q string) (json.RawMessage, error) {
			// 上流はitemsではなくresultsで返す場合もある
			return json.RawMessage(`{"results":[{"id":"r1","name":"Mods"}]}`), nil
		},
	}
	h := NewInsightsHandler(manageableGuilds(), bot)

	rr := httptest.NewRecorder()
	h.Insights(rr, insightsRequest(t, http.MethodGet, "/api/guilds/123/insights?search_type=role&search_query=mods", "123", ""))

	var body map[string]any
	json.Unmarshal(rr.Body.Bytes(), &body)
	results, ok := body["searchResults"].(map[string]any)
	if !ok {
		t.Fatalf("searchResults missing: %v", body)
	}
	if results["type"] != "role" || results["query"] != "mods" {
		t.Errorf("searchResults = %v", results)
	}
	items, ok := results["items"].([]any)
	if !ok || len(items) != 1 {
		t.Errorf("items = %v", results["items"])
	}
}

func TestInsightsHandler_UpdateConfig(t *testing.T) {
	t.Run("missing key", func(t *testing.T) {
		h := NewInsightsHandler(manageableGuilds(), &mockBotBackend{})
		rr := httptest.NewRecorder()
		h.UpdateConfig(rr, insightsRequest(t, http.MethodPost, "/api/guilds/123/insights", "123", `{"value":"x"}`))
		if rr.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rr.Code)
		}
	})

	t.Run("success", func(t *testing.T) {
		var gotKey string
		var gotValue any
		bot := &mockBotBackend{
			updateConfigFunc: func(ctx context.Context, guildID, key string, value any) error {
				gotKey = key
				gotValue = value
				return nil
			},
		}
		h := NewInsightsHandler(manageableGuilds(), bot)
		rr := httptest.NewRecorder()
		h.UpdateConfig(rr, insightsRequest(t, http.MethodPost, "/api/guilds/123/insights", "123", `{"key":"log_channel","value":"456"}`))

		if rr.Code != http.StatusOK {
			t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
		}
		if gotKey != "log_channel" || gotValue != "456" {
			t.Errorf("key = %q, value = %v", gotKey, gotValue)
		}
		var body map[string]any
		json.Unmarshal(rr.Body.Bytes(), &body)
		if body["success"] != true {
			t.Errorf("body = %v", body)
		}
	})

	t.Run("upstream failure", func(t *testing.T) {
		bot := &mockBotBackend{
			updateConfigFunc: func(ctx context.Context, guildID, key string, value any) error {
				return errors.New("bot api down")
			},
		}
		h := NewInsightsHandler(manageableGuilds(), bot)
		rr := httptest.NewRecorder()
		h.UpdateConfig(rr, insightsRequest(t, http.MethodPost, "/api/guilds/123/insights", "123", `{"key":"k","value":1}`))
		if rr.Code != http.StatusInternalServerError {
			t.Errorf("status = %d, want 500", rr.Code)
		}
	})
}
