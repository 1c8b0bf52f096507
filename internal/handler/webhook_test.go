package handler

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWebhookValidation(t *testing.T) {
	h := NewWebhookHandler(nil) // not reached on validation failures

	t.Run("rejects malformed body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/channel/webhook", strings.NewReader("{not json"))
		rec := httptest.NewRecorder()

		h.Webhook(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "Invalid request body")
	})

	t.Run("rejects unknown direction", func(t *testing.T) {
		body := `{"tenantId":"t1","externalMessageId":"ext-1","conversationId":"c1","direction":"sideways"}`
		req := httptest.NewRequest(http.MethodPost, "/channel/webhook", strings.NewReader(body))
		rec := httptest.NewRecorder()

		h.Webhook(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "Invalid direction")
	})
}

func TestParsePagination(t *testing.T) {
	tests := []struct {
		name     string
		query    string
		expected PaginationParams
	}{
		{
			name:     "defaults when absent",
			query:    "",
			expected: PaginationParams{Limit: DefaultLimit, Offset: 0},
		},
		{
			name:     "honors explicit values",
			query:    "?limit=25&offset=100",
			expected: PaginationParams{Limit: 25, Offset: 100},
		},
		{
			name:     "caps oversized limit",
			query:    "?limit=9999",
			expected: PaginationParams{Limit: DefaultLimit, Offset: 0},
		},
		{
			name:     "rejects negative offset",
			query:    "?offset=-5",
			expected: PaginationParams{Limit: DefaultLimit, Offset: 0},
		},
		{
			name:     "ignores non-numeric values",
			query:    "?limit=abc&offset=xyz",
			expected: PaginationParams{Limit: DefaultLimit, Offset: 0},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/conversations"+tc.query, nil)
			assert.Equal(t, tc.expected, ParsePagination(req))
		})
	}
}
