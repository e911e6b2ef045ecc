/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package vaultapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/acronis/go-vaultkit/config"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := New(&Config{BaseURL: srv.URL, APIKey: "test-key"})
	require.NoError(t, err)
	return client
}

func TestClientGetFileContents(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "/vault/folder/file%20with%20spaces.md", r.URL.EscapedPath())
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte("# Note\n\nContents."))
	}))

	contents, err := client.GetFileContents(context.Background(), "folder/file with spaces.md")
	require.NoError(t, err)
	require.Equal(t, "# Note\n\nContents.", contents)
}

func TestClientListFiles(t *testing.T) {
	t.Run("vault root", func(t *testing.T) {
		client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/vault/", r.URL.Path)
			_ = json.NewEncoder(w).Encode(map[string][]string{"files": {"inbox.md", "daily/"}})
		}))

		files, err := client.ListFiles(context.Background(), "")
		require.NoError(t, err)
		require.Equal(t, []string{"inbox.md", "daily/"}, files)
	})

	t.Run("subdirectory", func(t *testing.T) {
		client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/vault/daily/", r.URL.Path)
			_ = json.NewEncoder(w).Encode(map[string][]string{"files": {"2025-01-01.md"}})
		}))

		files, err := client.ListFiles(context.Background(), "daily/")
		require.NoError(t, err)
		require.Equal(t, []string{"2025-01-01.md"}, files)
	})
}

func TestClientAppendContent(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/vault/test.md", r.URL.Path)
		require.Equal(t, "text/markdown", r.Header.Get("Content-Type"))
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.Equal(t, "appended text", string(body))
		w.WriteHeader(http.StatusNoContent)
	}))

	require.NoError(t, client.AppendContent(context.Background(), "test.md", "appended text"))
}

func TestClientPutContent(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		require.Equal(t, "/vault/test.md", r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	}))

	require.NoError(t, client.PutContent(context.Background(), "test.md", "whole new contents"))
}

func TestClientPatchContent(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPatch, r.Method)
		require.Equal(t, "/vault/test.md", r.URL.Path)
		require.Equal(t, "append", r.Header.Get("Operation"))
		require.Equal(t, "heading", r.Header.Get("Target-Type"))
		require.Equal(t, "Test+Section", r.Header.Get("Target"))
		w.WriteHeader(http.StatusOK)
	}))

	err := client.PatchContent(
		context.Background(), "test.md", PatchOpAppend, PatchTargetHeading, "Test Section", "new content")
	require.NoError(t, err)
}

func TestClientDeleteFile(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodDelete, r.Method)
		require.Equal(t, "/vault/obsolete.md", r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	}))

	require.NoError(t, client.DeleteFile(context.Background(), "obsolete.md"))
}

func TestClientRenameFile(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, http.MethodPost, r.Method)
			require.Equal(t, "/vault/old-file.md/rename", r.URL.Path)
			require.Equal(t, "application/json", r.Header.Get("Content-Type"))
			var body map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			require.Equal(t, map[string]string{"newPath": "new-file.md"}, body)
			_ = json.NewEncoder(w).Encode(map[string]string{"message": "File successfully renamed"})
		}))

		require.NoError(t, client.RenameFile(context.Background(), "old-file.md", "new-file.md"))
	})

	t.Run("source not found", func(t *testing.T) {
		client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"errorCode": 40404, "message": "File not found"})
		}))

		err := client.RenameFile(context.Background(), "nonexistent.md", "new.md")
		require.Error(t, err)
		require.True(t, IsNotFound(err))

		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		require.Equal(t, http.StatusNotFound, apiErr.StatusCode)
		require.Equal(t, 40404, apiErr.ErrorCode)
		require.Equal(t, "File not found", apiErr.Message)
	})

	t.Run("destination exists", func(t *testing.T) {
		client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusConflict)
			_ = json.NewEncoder(w).Encode(
				map[string]interface{}{"errorCode": 40901, "message": "Destination file already exists"})
		}))

		err := client.RenameFile(context.Background(), "source.md", "existing.md")
		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		require.Equal(t, 40901, apiErr.ErrorCode)
		require.Contains(t, err.Error(), "40901")
		require.Contains(t, err.Error(), "Destination file already exists")
	})
}

func TestClientSearch(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/search/simple/", r.URL.Path)
		require.Equal(t, "meeting notes", r.URL.Query().Get("query"))
		require.Equal(t, "50", r.URL.Query().Get("contextLength"))
		_, _ = w.Write([]byte(`[{"filename":"work/meetings.md","score":3.5,` +
			`"matches":[{"context":"weekly meeting notes","match":{"start":7,"end":20}}]}]`))
	}))

	results, err := client.Search(context.Background(), "meeting notes", 50)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "work/meetings.md", results[0].Filename)
	require.Len(t, results[0].Matches, 1)
	require.Equal(t, "weekly meeting notes", results[0].Matches[0].Context)
	require.Equal(t, 7, results[0].Matches[0].Match.Start)
}

func TestClientSearchJSON(t *testing.T) {
	query := map[string]interface{}{"==": []interface{}{map[string]string{"var": "file.name"}, "test.md"}}

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/search/", r.URL.Path)
		require.Equal(t, "application/vnd.olrapi.jsonlogic+json", r.Header.Get("Content-Type"))
		var gotQuery map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotQuery))
		require.Contains(t, gotQuery, "==")
		_, _ = w.Write([]byte(`[{"filename":"test.md","result":true}]`))
	}))

	results, err := client.SearchJSON(context.Background(), query)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "test.md", results[0].Filename)
	require.JSONEq(t, "true", string(results[0].Result))
}

func TestClientGetPeriodicNote(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "/periodic/daily/", r.URL.Path)
		_, _ = w.Write([]byte("# Daily note"))
	}))

	contents, err := client.GetPeriodicNote(context.Background(), PeriodDaily)
	require.NoError(t, err)
	require.Equal(t, "# Daily note", contents)
}

func TestClientErrorWithNonJSONBody(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream unavailable"))
	}))

	_, err := client.GetFileContents(context.Background(), "any.md")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	require.Equal(t, "upstream unavailable", apiErr.Message)
}

func TestNewValidation(t *testing.T) {
	t.Run("missing api key", func(t *testing.T) {
		_, err := New(&Config{BaseURL: DefaultBaseURL})
		require.Error(t, err)
		require.Contains(t, err.Error(), "API key")
	})

	t.Run("empty base url falls back to default", func(t *testing.T) {
		client, err := New(&Config{APIKey: "test-key"})
		require.NoError(t, err)
		require.Equal(t, DefaultBaseURL, client.baseURL)
	})
}

func TestNewWithRateLimits(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("contents"))
	}))
	defer srv.Close()

	client, err := New(&Config{
		BaseURL: srv.URL,
		APIKey:  "test-key",
		RateLimits: RateLimitsConfig{
			Enabled:     true,
			Limit:       100,
			Burst:       10,
			WaitTimeout: config.TimeDuration(time.Second),
		},
	})
	require.NoError(t, err)

	contents, err := client.GetFileContents(context.Background(), "any.md")
	require.NoError(t, err)
	require.Equal(t, "contents", contents)
}
