package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	mirror "github.com/drpcorg/mirror"
	"github.com/drpcorg/mirror/elements"
	"github.com/drpcorg/mirror/state"
	testutils "github.com/drpcorg/mirror/test_utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDaemon(t *testing.T) *daemon {
	cfg := mirror.EnvConfig{
		Name:        "test",
		RecentLimit: 16,
		LogLevel:    8,
		Types:       []string{"1=unit:is"},
	}
	d, err := openDaemon(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })

	auth := testutils.NewAuthority()
	auth.Define(1, "unit", elements.KindInt, elements.KindString)
	u := auth.Create(1, "scout")
	auth.Modify(u, 1, func(e state.Element) { e.(*elements.String).Value = "ready" })
	require.NoError(t, d.mirror.Apply(context.Background(), auth.Flush()))
	return d
}

func TestREPLCommands(t *testing.T) {
	d := openTestDaemon(t)
	var out bytes.Buffer
	repl := &REPL{daemon: d, out: &out}

	require.NoError(t, repl.Execute("show"))
	assert.Contains(t, out.String(), "1\tscout\t2 elements")

	out.Reset()
	require.NoError(t, repl.Execute("show 1"))
	assert.Contains(t, out.String(), "11\t\"ready\"")
	assert.Error(t, repl.Execute("show 7"))
	assert.ErrorIs(t, repl.Execute("show x"), ErrBadArgs)

	out.Reset()
	require.NoError(t, repl.Execute("digest"))
	assert.Contains(t, out.String(), "containers 1 [1..1] elements 2 [10..11]")

	out.Reset()
	require.NoError(t, repl.Execute("types"))
	assert.Equal(t, "1\tunit\n", out.String())

	out.Reset()
	require.NoError(t, repl.Execute("recent"))
	assert.Contains(t, out.String(), "1 batches")

	assert.ErrorIs(t, repl.Execute("listen"), ErrBadArgs)
	assert.Error(t, repl.Execute("frobnicate"))
	assert.NoError(t, repl.Execute("   "))
	assert.ErrorIs(t, repl.Execute("exit"), io.EOF)
}

func TestDigestHandler(t *testing.T) {
	d := openTestDaemon(t)
	rec := httptest.NewRecorder()
	DigestHandler(d)(rec, httptest.NewRequest(http.MethodGet, "/digest", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var reply digestReply
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reply))
	assert.Equal(t, uint32(2), reply.Digest.ElementCount)
	assert.Len(t, reply.Fingerprint, 16)

	rec = httptest.NewRecorder()
	DigestHandler(d)(rec, httptest.NewRequest(http.MethodPost, "/digest", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestListenHandler(t *testing.T) {
	d := openTestDaemon(t)
	handler := AddCorsHeaders(ListenHandler(d))

	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodPost, "/listen", strings.NewReader("tcp://127.0.0.1:0")))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, []string{"tcp://127.0.0.1:0"}, d.net.Listens())

	rec = httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodPost, "/listen", strings.NewReader("tcp://127.0.0.1:0")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodPost, "/listen", strings.NewReader(" ")))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}
