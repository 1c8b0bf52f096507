package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zapdesk/chatsync-server/internal/model"
)

func TestDispatch(t *testing.T) {
	t.Run("posts message to instance endpoint", func(t *testing.T) {
		var gotPath, gotAuth string
		var gotReq DispatchRequest

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.Path
			gotAuth = r.Header.Get("Authorization")
			json.NewDecoder(r.Body).Decode(&gotReq)
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		client := NewClient(server.URL, "test-key")
		err := client.Dispatch(context.Background(), "conn-1", DispatchRequest{
			RecipientAddress: "5511999990000",
			Body:             "Olá, tudo bem?",
			Kind:             model.KindText,
		})

		require.NoError(t, err)
		assert.Equal(t, "/instances/conn-1/messages", gotPath)
		assert.Equal(t, "Bearer test-key", gotAuth)
		assert.Equal(t, "Olá, tudo bem?", gotReq.Body)
	})

	t.Run("non-2xx status is an error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer server.Close()

		client := NewClient(server.URL, "")
		err := client.Dispatch(context.Background(), "conn-1", DispatchRequest{Body: "hi", Kind: model.KindText})
		assert.ErrorContains(t, err, "status 502")
	})

	t.Run("unreachable host is an error", func(t *testing.T) {
		client := NewClient("http://127.0.0.1:1", "")
		err := client.Dispatch(context.Background(), "conn-1", DispatchRequest{Body: "hi", Kind: model.KindText})
		assert.Error(t, err)
	})
}

func TestFetchRecentMessages(t *testing.T) {
	t.Run("parses the provider log", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/instances/conn-1/messages", r.URL.Path)
			assert.NotEmpty(t, r.URL.Query().Get("since"))
			json.NewEncoder(w).Encode(map[string]any{
				"messages": []map[string]any{
					{
						"externalMessageId": "wamid.ABC123",
						"conversationId":    "conv-1",
						"contactId":         "contact-1",
						"direction":         "inbound",
						"kind":              "text",
						"body":              "oi",
						"timestamp":         time.Now().UTC().Format(time.RFC3339),
					},
				},
			})
		}))
		defer server.Close()

		client := NewClient(server.URL, "")
		items, err := client.FetchRecentMessages(context.Background(), "conn-1", time.Now().Add(-2*time.Minute))

		require.NoError(t, err)
		require.Len(t, items, 1)
		assert.Equal(t, "wamid.ABC123", items[0].ExternalMessageID)
		assert.Equal(t, model.DirectionInbound, items[0].Direction)
	})

	t.Run("non-200 status is an error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer server.Close()

		client := NewClient(server.URL, "")
		_, err := client.FetchRecentMessages(context.Background(), "conn-1", time.Now())
		assert.ErrorContains(t, err, "status 503")
	})
}
