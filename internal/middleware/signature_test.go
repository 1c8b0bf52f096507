package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/zapdesk/chatsync-server/internal/util"
)

func TestSignatureMiddleware(t *testing.T) {
	secret := "webhook-secret"
	body := `{"externalMessageId":"ext-1"}`

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Body must still be readable downstream after verification.
		got, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.Equal(t, body, string(got))
		w.WriteHeader(http.StatusOK)
	})

	t.Run("accepts valid signature", func(t *testing.T) {
		mw := NewSignatureMiddleware(secret)
		req := httptest.NewRequest(http.MethodPost, "/channel/webhook", strings.NewReader(body))
		req.Header.Set("X-Channel-Signature", util.HmacSHA256(secret, body))
		rec := httptest.NewRecorder()

		mw.Handler(next).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("rejects tampered body", func(t *testing.T) {
		mw := NewSignatureMiddleware(secret)
		req := httptest.NewRequest(http.MethodPost, "/channel/webhook", strings.NewReader(body))
		req.Header.Set("X-Channel-Signature", util.HmacSHA256(secret, `{"externalMessageId":"ext-2"}`))
		rec := httptest.NewRecorder()

		mw.Handler(next).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("rejects missing signature", func(t *testing.T) {
		mw := NewSignatureMiddleware(secret)
		req := httptest.NewRequest(http.MethodPost, "/channel/webhook", strings.NewReader(body))
		rec := httptest.NewRecorder()

		mw.Handler(next).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("bypassed when no secret configured", func(t *testing.T) {
		mw := NewSignatureMiddleware("")
		req := httptest.NewRequest(http.MethodPost, "/channel/webhook", strings.NewReader(body))
		rec := httptest.NewRecorder()

		mw.Handler(next).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
	})
}
