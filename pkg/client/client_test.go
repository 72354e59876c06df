package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thebtf/promptshelf/pkg/models"
)

func TestIsRunning(t *testing.T) {
	tests := []struct {
		name     string
		handler  http.HandlerFunc
		expected bool
	}{
		{
			name: "ready",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_ = json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
			},
			expected: true,
		},
		{
			name: "starting",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_ = json.NewEncoder(w).Encode(map[string]string{"status": "starting"})
			},
		},
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()
			assert.Equal(t, tt.expected, New(server.URL).IsRunning(context.Background()))
		})
	}

	assert.False(t, New("http://127.0.0.1:1").IsRunning(context.Background()))
}

func TestVersion(t *testing.T) {
	tests := []struct {
		name     string
		handler  http.HandlerFunc
		expected string
	}{
		{
			name: "returns version from server",
			handler: func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path == "/api/version" {
					_ = json.NewEncoder(w).Encode(map[string]string{"version": "1.2.3"})
				}
			},
			expected: "1.2.3",
		},
		{
			name: "returns empty on 404",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusNotFound)
			},
		},
		{
			name: "returns empty on invalid JSON",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte("not json"))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()
			assert.Equal(t, tt.expected, New(server.URL).Version(context.Background()))
		})
	}
}

func TestOptimize(t *testing.T) {
	var got map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/optimize", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"success": true,
			"result": models.OptimizationResult{
				OptimizedPrompt: "better",
				Source:          models.SourceRemote,
			},
		})
	}))
	defer server.Close()

	res, err := New(server.URL).Optimize(context.Background(), "draw a cat", models.CategoryImage)
	require.NoError(t, err)
	assert.Equal(t, "better", res.OptimizedPrompt)
	assert.Equal(t, models.SourceRemote, res.Source)
	assert.Equal(t, "draw a cat", got["text"])
	assert.Equal(t, "image", got["category"])
}

func TestTemplates_QueryAndErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("q") == "missing" {
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"success": false, "error": "template not found"})
			return
		}
		assert.Equal(t, "sun set", r.URL.Query().Get("q"))
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"success":   true,
			"templates": []models.Template{{ID: "1", Title: "Sunset"}},
		})
	}))
	defer server.Close()

	c := New(server.URL)
	list, err := c.Templates(context.Background(), "sun set")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Sunset", list[0].Title)

	_, err = c.Templates(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "template not found", apiErr.Message)
}
