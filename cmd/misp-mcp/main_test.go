package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sid6224/misp-mcp/internal/config"
)

var envVars = []string{
	"MISP_URL", "MISP_API_KEY", "MISP_VERIFY_TLS", "MISP_TIMEOUT",
	"MISP_LOG_LEVEL", "MISP_LOG_FORMAT", "MISP_QUIET",
	"MISP_CACHE", "MISP_CACHE_TTL", "MISP_CACHE_SIZE",
	"MISP_REDIS_ADDR", "MISP_REDIS_DB", "MISP_BOLT_PATH", "MISP_CONFIG",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envVars {
		t.Setenv(k, "")
	}
}

type wireResponse struct {
	ID     json.RawMessage `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func fakeMISP(t *testing.T, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "k" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		if r.URL.Path != "/admin/users" {
			http.NotFound(w, r)
			return
		}
		hits.Add(1)
		_, _ = io.WriteString(w, `[{"User":{"id":"1","email":"alice@example.org"}}]`)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func runSession(t *testing.T, args []string, frames ...string) []wireResponse {
	t.Helper()
	in := strings.NewReader(strings.Join(frames, "\n") + "\n")
	var out, logs bytes.Buffer
	require.NoError(t, run(context.Background(), args, in, &out, &logs), logs.String())

	var resps []wireResponse
	sc := bufio.NewScanner(&out)
	for sc.Scan() {
		var r wireResponse
		require.NoError(t, json.Unmarshal(sc.Bytes(), &r), sc.Text())
		resps = append(resps, r)
	}
	return resps
}

const (
	initFrame   = `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2024-11-05","capabilities":{},"clientInfo":{"name":"test","version":"1"}}}`
	notifyFrame = `{"jsonrpc":"2.0","method":"notifications/initialized"}`
	listFrame   = `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`
	usersFrame  = `{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"get_users","arguments":{}}}`
)

func TestRunServesMISPTools(t *testing.T) {
	clearEnv(t)
	var hits atomic.Int32
	srv := fakeMISP(t, &hits)

	resps := runSession(t, []string{"--misp-url", srv.URL, "--api-key", "k", "--log-level", "debug"},
		initFrame, notifyFrame, listFrame, usersFrame)
	require.Len(t, resps, 3)

	var init struct {
		ProtocolVersion string `json:"protocolVersion"`
		ServerInfo      struct {
			Name    string `json:"name"`
			Version string `json:"version"`
		} `json:"serverInfo"`
	}
	require.NoError(t, json.Unmarshal(resps[0].Result, &init))
	assert.Equal(t, "2024-11-05", init.ProtocolVersion)
	assert.Equal(t, "misp-mcp-server", init.ServerInfo.Name)
	assert.Equal(t, "0.1.0", init.ServerInfo.Version)

	var list struct {
		Tools []struct {
			Name string `json:"name"`
		} `json:"tools"`
	}
	require.NoError(t, json.Unmarshal(resps[1].Result, &list))
	assert.Len(t, list.Tools, 39)

	var call struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		IsError bool `json:"isError"`
	}
	require.Nil(t, resps[2].Error)
	require.NoError(t, json.Unmarshal(resps[2].Result, &call))
	assert.False(t, call.IsError)
	require.Len(t, call.Content, 1)
	assert.Contains(t, call.Content[0].Text, "alice@example.org")
	assert.Equal(t, int32(1), hits.Load())
}

func TestRunWrongKeyIsToolError(t *testing.T) {
	clearEnv(t)
	var hits atomic.Int32
	srv := fakeMISP(t, &hits)

	resps := runSession(t, []string{"--misp-url", srv.URL, "--api-key", "wrong", "-q"},
		initFrame, usersFrame)
	require.Len(t, resps, 2)

	var call struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
		IsError bool `json:"isError"`
	}
	require.NoError(t, json.Unmarshal(resps[1].Result, &call))
	assert.True(t, call.IsError)
	assert.Equal(t, "Failed to get users: authentication failed: invalid API key", call.Content[0].Text)
}

func TestRunCachesResponses(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"memory", map[string]string{"MISP_CACHE": "memory"}},
		{"bolt", map[string]string{"MISP_CACHE": "bolt", "MISP_BOLT_PATH": filepath.Join(t.TempDir(), "cache.db")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			var hits atomic.Int32
			srv := fakeMISP(t, &hits)

			again := strings.Replace(usersFrame, `"id":3`, `"id":4`, 1)
			resps := runSession(t, []string{"--misp-url", srv.URL, "--api-key", "k", "-q"},
				initFrame, usersFrame, again)
			require.Len(t, resps, 3)
			assert.JSONEq(t, string(resps[1].Result), string(resps[2].Result))
			assert.Equal(t, int32(1), hits.Load())
		})
	}
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	clearEnv(t)
	var out, logs bytes.Buffer
	err := run(context.Background(), []string{"--api-key", "k"}, strings.NewReader(""), &out, &logs)
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
	assert.Empty(t, out.String())
}

func TestRunHelp(t *testing.T) {
	clearEnv(t)
	var out, usage bytes.Buffer
	err := run(context.Background(), []string{"--help"}, strings.NewReader(""), &out, &usage)
	assert.True(t, errors.Is(err, flag.ErrHelp))
	assert.Contains(t, usage.String(), "-misp-url")
	assert.Empty(t, out.String())
}

func TestRunLogsToStderrOnly(t *testing.T) {
	clearEnv(t)
	var hits atomic.Int32
	srv := fakeMISP(t, &hits)

	in := strings.NewReader(initFrame + "\n")
	var out, logs bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"--misp-url", srv.URL, "--api-key", "k", "--log-format", "json"}, in, &out, &logs))

	assert.Equal(t, 1, strings.Count(out.String(), "\n"))
	assert.Contains(t, logs.String(), `"msg":"server.run.start"`)
	assert.Contains(t, logs.String(), `"msg":"main.tools.registered"`)
}
