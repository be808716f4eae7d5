package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOpenAIClientSendsTwoTurns(t *testing.T) {
	var got chatRequest
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		auth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"id":"x","choices":[{"index":0,"message":{"role":"assistant","content":"report\nAudit Score: 85"}}],"usage":{"total_tokens":10}}`))
	}))
	defer srv.Close()

	c, err := NewOpenAIClient(OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL})
	require.NoError(t, err)
	defer c.Close()

	out, err := c.Complete(context.Background(), "You are an auditor", "contract Token {}")
	require.NoError(t, err)
	require.Equal(t, "report\nAudit Score: 85", out)

	require.Equal(t, "Bearer sk-test", auth)
	require.Equal(t, "gpt-4", got.Model)
	require.Equal(t, 0.2, got.Temperature)
	require.Equal(t, 2000, got.MaxTokens)
	require.Equal(t, []Message{
		{Role: RoleSystem, Content: "You are an auditor"},
		{Role: RoleUser, Content: "contract Token {}"},
	}, got.Messages)
	require.Equal(t, "OpenAI (gpt-4)", c.GetName())
}

func TestOpenAIClientErrors(t *testing.T) {
	t.Run("missing key", func(t *testing.T) {
		_, err := NewOpenAIClient(OpenAIConfig{})
		require.Error(t, err)
	})

	t.Run("api error body", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":{"message":"Incorrect API key","type":"invalid_request_error","code":"invalid_api_key"}}`))
		}))
		defer srv.Close()

		c, err := NewOpenAIClient(OpenAIConfig{APIKey: "bad", BaseURL: srv.URL})
		require.NoError(t, err)
		_, err = c.Complete(context.Background(), "s", "u")
		require.ErrorContains(t, err, "Incorrect API key")
	})

	t.Run("non json failure", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte(`upstream down`))
		}))
		defer srv.Close()

		c, err := NewOpenAIClient(OpenAIConfig{APIKey: "k", BaseURL: srv.URL})
		require.NoError(t, err)
		_, err = c.Complete(context.Background(), "s", "u")
		require.ErrorContains(t, err, "status 502")
	})

	t.Run("no choices", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"choices":[]}`))
		}))
		defer srv.Close()

		c, err := NewOpenAIClient(OpenAIConfig{APIKey: "k", BaseURL: srv.URL})
		require.NoError(t, err)
		_, err = c.Complete(context.Background(), "s", "u")
		require.ErrorContains(t, err, "no choices")
	})
}

func TestDeepSeekClientDefaults(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"ok"}}]}`))
	}))
	defer srv.Close()

	c, err := NewDeepSeekClient(DeepSeekConfig{APIKey: "k", BaseURL: srv.URL})
	require.NoError(t, err)
	out, err := c.Complete(context.Background(), "s", "u")
	require.NoError(t, err)
	require.Equal(t, "ok", out)
	require.Equal(t, "deepseek-chat", got.Model)
}

func TestExplicitZeroTemperature(t *testing.T) {
	var raw map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&raw))
		if r.URL.Path == "/api/generate" {
			_, _ = w.Write([]byte(`{"response":"ok","done":true}`))
			return
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"ok"}}]}`))
	}))
	defer srv.Close()

	zero := 0.0
	openai, err := NewOpenAIClient(OpenAIConfig{APIKey: "k", BaseURL: srv.URL, Temperature: &zero})
	require.NoError(t, err)
	_, err = openai.Complete(context.Background(), "s", "u")
	require.NoError(t, err)
	require.Contains(t, raw, "temperature")
	require.EqualValues(t, 0, raw["temperature"])

	deepseek, err := NewDeepSeekClient(DeepSeekConfig{APIKey: "k", BaseURL: srv.URL, Temperature: &zero})
	require.NoError(t, err)
	_, err = deepseek.Complete(context.Background(), "s", "u")
	require.NoError(t, err)
	require.EqualValues(t, 0, raw["temperature"])

	local, err := NewLocalLLMClient(LocalLLMConfig{BaseURL: srv.URL, Temperature: &zero})
	require.NoError(t, err)
	_, err = local.Complete(context.Background(), "s", "u")
	require.NoError(t, err)
	require.Equal(t, map[string]any{"temperature": float64(0)}, raw["options"])
}

func TestLocalLLMClient(t *testing.T) {
	var got ollamaRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/generate", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"model":"codellama","response":"Audit Score: 70","done":true}`))
	}))
	defer srv.Close()

	c, err := NewLocalLLMClient(LocalLLMConfig{BaseURL: srv.URL, Model: "codellama"})
	require.NoError(t, err)
	out, err := c.Complete(context.Background(), "rubric", "contract A {}")
	require.NoError(t, err)
	require.Equal(t, "Audit Score: 70", out)
	require.Equal(t, "rubric", got.System)
	require.Equal(t, "contract A {}", got.Prompt)
	require.False(t, got.Stream)
}
