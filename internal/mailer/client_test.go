package mailer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestClient_Send(t *testing.T) {
	var got sendRequest
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
		w.Write([]byte(`{"id":"msg-1"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret", "news@quillhub.test", time.Second)
	err := c.Send(context.Background(), Message{To: "reader@example.com", Subject: "Hello", Text: "Body"})
	require.NoError(t, err)

	assert.Equal(t, "Bearer secret", auth)
	assert.Equal(t, "news@quillhub.test", got.From)
	assert.Equal(t, "reader@example.com", got.To)
	assert.Equal(t, "Hello", got.Subject)
}

func TestClient_SendError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"error":"mailbox does not exist"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", "news@quillhub.test", time.Second)
	err := c.Send(context.Background(), Message{To: "nobody@example.com"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mailbox does not exist")
}

func TestLogMailer(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	m := NewLogMailer(zap.New(core))

	require.NoError(t, m.Send(context.Background(), Message{To: "a@example.com", Subject: "Hi"}))
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "a@example.com", logs.All()[0].ContextMap()["to"])

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, m.Send(ctx, Message{}))
}

func TestNew(t *testing.T) {
	logger := zap.NewNop()

	m, err := New("log", "", "", "", time.Second, logger)
	require.NoError(t, err)
	assert.IsType(t, &LogMailer{}, m)

	m, err = New("http", "http://mail.test/send", "t", "f@x", time.Second, logger)
	require.NoError(t, err)
	assert.IsType(t, &Client{}, m)

	_, err = New("http", "", "", "", time.Second, logger)
	assert.Error(t, err)
	_, err = New("pigeon", "", "", "", time.Second, logger)
	assert.Error(t, err)
}
