package line

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pantryline/pantryline/internal/config"
)

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestValidateSignature(t *testing.T) {
	body := []byte(`{"events":[]}`)

	assert.True(t, ValidateSignature("secret", body, sign("secret", body)))
	assert.False(t, ValidateSignature("secret", body, sign("wrong", body)))
	assert.False(t, ValidateSignature("secret", body, ""))
	assert.False(t, ValidateSignature("secret", []byte("tampered"), sign("secret", body)))
}

func TestWebhookRequestDecoding(t *testing.T) {
	payload := `{
		"destination": "U0",
		"events": [
			{
				"type": "message",
				"replyToken": "tok1",
				"source": {"type": "user", "userId": "u1"},
				"message": {"id": "m1", "type": "image", "imageSet": {"id": "set1", "index": 1, "total": 3}}
			},
			{
				"type": "message",
				"replyToken": "tok2",
				"source": {"type": "user", "userId": "u1"},
				"message": {"id": "m2", "type": "text", "text": "查看"}
			},
			{
				"type": "postback",
				"replyToken": "tok3",
				"source": {"type": "user", "userId": "u2"},
				"postback": {"data": "recipe_select=2"}
			}
		]
	}`

	var req WebhookRequest
	require.NoError(t, json.Unmarshal([]byte(payload), &req))
	require.Len(t, req.Events, 3)

	image := req.Events[0]
	require.NotNil(t, image.Message)
	assert.Equal(t, "image", image.Message.Type)
	require.NotNil(t, image.Message.ImageSet)
	assert.Equal(t, 3, image.Message.ImageSet.Total)

	text := req.Events[1]
	require.NotNil(t, text.Message)
	assert.Equal(t, "查看", text.Message.Text)

	postback := req.Events[2]
	require.NotNil(t, postback.Postback)
	assert.Equal(t, "recipe_select=2", postback.Postback.Data)
}

func TestClientReplySendsToken(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/bot/message/reply", r.URL.Path)
		assert.Equal(t, "Bearer token123", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewClient(nil, config.LineConfig{
		ChannelAccessToken: "token123",
		APIBase:            srv.URL,
		DataAPIBase:        srv.URL,
	})

	require.NoError(t, client.Reply(context.Background(), "tok1", "hello"))
	assert.Equal(t, "tok1", got["replyToken"])
}

func TestClientPushErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	client := NewClient(nil, config.LineConfig{
		ChannelAccessToken: "token123",
		APIBase:            srv.URL,
		DataAPIBase:        srv.URL,
	})

	err := client.Push(context.Background(), "u1", "hello")
	assert.Error(t, err)
}

func TestClientDownloadContentUsesDataHost(t *testing.T) {
	content := []byte{0xff, 0xd8, 0xff, 0xe0}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/bot/message/m1/content", r.URL.Path)
		_, _ = w.Write(content)
	}))
	defer srv.Close()

	client := NewClient(nil, config.LineConfig{
		ChannelAccessToken: "token123",
		APIBase:            "http://unused.invalid",
		DataAPIBase:        srv.URL,
	})

	data, err := client.DownloadContent(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, content, data)
}

func TestValidImageData(t *testing.T) {
	assert.True(t, ValidImageData([]byte{0xff, 0xd8, 0xff, 0xe0, 0x00}))
	assert.True(t, ValidImageData([]byte("\x89PNG\r\n\x1a\n")))
	assert.True(t, ValidImageData([]byte("GIF89a")))
	assert.True(t, ValidImageData([]byte("BM\x00\x00")))
	assert.True(t, ValidImageData(append([]byte("RIFF\x00\x00\x00\x00WEBP"), 0)))
	assert.False(t, ValidImageData([]byte("%PDF-1.7")))
	assert.False(t, ValidImageData([]byte{0x00}))
}
