package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/chirpbot/chirpboard/internal/botapi"
)

// mockInfractionBackend はInfractionBackendのテスト用モック。
type mockInfractionBackend struct {
	userInfractionsFunc  func(ctx context.Context, userID string, limit int) ([]json.RawMessage, error)
	updateInfractionFunc func(ctx context.Context, guildID, infractionID, reason string) (json.RawMessage, error)
}

func (m *mockInfractionBackend) UserInfractions(ctx context.Context, userID string, limit int) ([]json.RawMessage, error) {
	return m.userInfractionsFunc(ctx, userID, limit)
}

func (m *mockInfractionBackend) UpdateInfraction(ctx context.Context, guildID, infractionID, reason string) (json.RawMessage, error) {
	return m.updateInfractionFunc(ctx, guildID, infractionID, reason)
}

func TestInfractionHandler_MyInfractions(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		bot := &mockInfractionBackend{
			userInfractionsFunc: func(ctx context.Context, userID string, limit int) ([]json.RawMessage, error) {
				if userID != "42" {
					t.Errorf("userID = %q, want 42", userID)
				}
				if limit != 10 {
					t.Errorf("limit = %d, want 10", limit)
				}
				return []json.RawMessage{json.RawMessage(`{"id":"i1","reason":"spam"}`)}, nil
			},
		}
		h := NewInfractionHandler(manageableGuilds(), bot)

		rr := httptest.NewRecorder()
		h.MyInfractions(rr, authedRequest(http.MethodGet, "/api/me/infractions"))

		if rr.Code != http.StatusOK {
			t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
		}
		var body struct {
			OK          bool              `json:"ok"`
			UserID      string            `json:"user_id"`
			Infractions []json.RawMessage `json:"infractions"`
		}
		if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
			t.Fatalf("body parse: %v", err)
		}
		if !body.OK || body.UserID != "42" || len(body.Infractions) != 1 {
			t.Errorf("body = %+v", body)
		}
	})

	t.Run("upstream error passes status through", func(t *testing.T) {
		bot := &mockInfractionBackend{
			userInfractionsFunc: func(ctx context.Context, userID string, limit int) ([]json.RawMessage, error) {
				return nil, &botapi.UpstreamError{StatusCode: 502, Body: []byte(`{"error":"bad gateway"}`)}
			},
		}
		h := NewInfractionHandler(manageableGuilds(), bot)

		rr := httptest.NewRecorder()
		h.MyInfractions(rr, authedRequest(http.MethodGet, "/api/me/infractions"))

		if rr.Code != http.StatusBadGateway {
			t.Errorf("status = %d, want 502", rr.Code)
		}
		if got := rr.Body.String(); got != `{"error":"bad gateway"}` {
			t.Errorf("body = %s", got)
		}
	})

	t.Run("unauthenticated", func(t *testing.T) {
		h := NewInfractionHandler(manageableGuilds(), &mockInfractionBackend{})
		rr := httptest.NewRecorder()
		h.MyInfractions(rr, httptest.NewRequest(http.MethodGet, "/api/me/infractions", nil))
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", rr.Code)
		}
	})
}

// editRequest はURLパラメータidに違反記録IDを載せたPATCHリクエストを組み立てる。
func editRequest(t *testing.T, infractionID, body string) *http.Request {
	t.Helper()
	return insightsRequest(t, http.MethodPatch, "/api/infractions/"+infractionID, infractionID, body)
}

func TestInfractionHandler_EditInfraction(t *testing.T) {
	t.Run("missing guild_id", func(t *testing.T) {
		h := NewInfractionHandler(manageableGuilds(), &mockInfractionBackend{})
		rr := httptest.NewRecorder()
		h.EditInfraction(rr, editRequest(t, "inf-1", `{"reason":"x"}`))
		if rr.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rr.Code)
		}
	})

	t.Run("manage gate applies", func(t *testing.T) {
		h := NewInfractionHandler(manageableGuilds(), &mockInfractionBackend{})
		rr := httptest.NewRecorder()
		// ギルド456はManage権限なし
		h.EditInfraction(rr, editRequest(t, "inf-1", `{"guild_id":"456","reason":"x"}`))
		if rr.Code != http.StatusForbidden {
			t.Errorf("status = %d, want 403", rr.Code)
		}
	})

	t.Run("success forwards upstream body", func(t *testing.T) {
		bot := &mockInfractionBackend{
			updateInfractionFunc: func(ctx context.Context, guildID, infractionID, reason string) (json.RawMessage, error) {
				if guildID != "123" || infractionID != "inf-1" || reason != "updated" {
					t.Errorf("args = %q %q %q", guildID, infractionID, reason)
				}
				return json.RawMessage(`{"ok":true,"id":"inf-1"}`), nil
			},
		}
		h := NewInfractionHandler(manageableGuilds(), bot)
		rr := httptest.NewRecorder()
		h.EditInfraction(rr, editRequest(t, "inf-1", `{"guild_id":"123","reason":"updated"}`))

		if rr.Code != http.StatusOK {
			t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
		}
		if !strings.Contains(rr.Body.String(), `"id":"inf-1"`) {
			t.Errorf("body = %s", rr.Body.String())
		}
	})

	t.Run("upstream error passes status through", func(t *testing.T) {
		bot := &mockInfractionBackend{
			updateInfractionFunc: func(ctx context.Context, guildID, infractionID, reason string) (json.RawMessage, error) {
				return nil, &botapi.UpstreamError{StatusCode: 404, Body: []byte(`{"error":"unknown infraction"}`)}
			},
		}
		h := NewInfractionHandler(manageableGuilds(), bot)
		rr := httptest.NewRecorder()
		h.EditInfraction(rr, editRequest(t, "inf-9", `{"guild_id":"123","reason":"x"}`))

		if rr.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", rr.Code)
		}
	})

	t.Run("transport error", func(t *testing.T) {
		bot := &mockInfractionBackend{
			updateInfractionFunc: func(ctx context.Context, guildID, infractionID, reason string) (json.RawMessage, error) {
				return nil, errors.New("connection refused")
			},
		}
		h := NewInfractionHandler(manageableGuilds(), bot)
		rr := httptest.NewRecorder()
		h.EditInfraction(rr, editRequest(t, "inf-1", `{"guild_id":"123","reason":"x"}`))

		if rr.Code != http.StatusInternalServerError {
			t.Errorf("status = %d, want 500", rr.Code)
		}
		var body map[string]any
		json.Unmarshal(rr.Body.Bytes(), &body)
		if body["error"] != "failed to reach bot api" {
			t.Errorf("error = %v", body["error"])
		}
	})
}
