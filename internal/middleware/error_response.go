package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/chirpbot/chirpboard/internal/session"
)

// errorResponseBody はAPIエラーレスポンスの統一フォーマット。
type errorResponseBody struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

// WriteError は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
// すべてのAPIエンドポイントで一貫したエラーレスポンスを提供する。
func WriteError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(errorResponseBody{OK: false, Error: message})
}

// WriteSessionError はセッションエラー分類のステータスとメッセージで応答する。
func WriteSessionError(w http.ResponseWriter, err *session.Error) {
	WriteError(w, err.Status, err.Message)
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteError(w, http.StatusInternalServerError, "internal error")
}
