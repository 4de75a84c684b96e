package devserver

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()

	root := t.TempDir()
	files := map[string]string{
		"index.html":       "<html><body><h1>Home</h1></body></html>",
		"about/index.html": "<html><BODY>About</BODY></html>",
		"fragment.html":    "<p>no body</p>",
		"css/main.css":     "a{color:red}",
		"js/main.min.js":   strings.Repeat("var a=1;", 100),
		"images/logo.svg":  "<svg/>",
	}
	for name, content := range files {
		full := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
	}

	srv := New(root, "127.0.0.1:0")
	ts := httptest.NewServer(srv.Handler(context.Background()))
	t.Cleanup(func() {
		srv.hub.closeAll()
		ts.Close()
	})
	return srv, ts
}

func get(t *testing.T, url string) (*http.Response, string) {
	t.Helper()

	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func TestHTMLGetsLiveReloadScript(t *testing.T) {
	_, ts := newTestServer(t)

	resp, body := get(t, ts.URL+"/")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "<html><body><h1>Home</h1>"+string(scriptTag)+"</body></html>", body)

	_, body = get(t, ts.URL+"/about/")
	assert.Equal(t, "<html><BODY>About"+string(scriptTag)+"</BODY></html>", body)

	_, body = get(t, ts.URL+"/fragment.html")
	assert.Equal(t, "<p>no body</p>"+string(scriptTag), body)
}

func TestStaticFiles(t *testing.T) {
	_, ts := newTestServer(t)

	resp, body := get(t, ts.URL+"/css/main.css")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "a{color:red}", body)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/css")
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))

	resp, _ = get(t, ts.URL+"/missing.css")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = get(t, ts.URL+"/missing.html")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = get(t, ts.URL+ScriptPath)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, SocketPath)
}

func TestBrotliCompression(t *testing.T) {
	_, ts := newTestServer(t)

	req, err := http.NewRequest("GET", ts.URL+"/js/main.min.js", nil)
	require.NoError(t, err)
	req.Header.Set("Accept-Encoding", "gzip, br")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "br", resp.Header.Get("Content-Encoding"))
	body, err := io.ReadAll(brotli.NewReader(resp.Body))
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("var a=1;", 100), string(body))
}

func TestAcceptsBrotli(t *testing.T) {
	assert.True(t, acceptsBrotli("gzip, deflate, br"))
	assert.True(t, acceptsBrotli("br;q=0.5"))
	assert.False(t, acceptsBrotli("br;q=0"))
	assert.False(t, acceptsBrotli("gzip"))
	assert.False(t, acceptsBrotli(""))
}

func dial(t *testing.T, srv *Server, ts *httptest.Server) *websocket.Conn {
	t.Helper()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+SocketPath, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		conn.Close()
	})

	require.Eventually(t, func() bool {
		return srv.Clients() > 0
	}, 2*time.Second, 10*time.Millisecond)
	return conn
}

func readCommand(t *testing.T, conn *websocket.Conn) string {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var cmd Command
	require.NoError(t, conn.ReadJSON(&cmd))
	return cmd.Command
}

func TestStreamSendsRefreshCommands(t *testing.T) {
	srv, ts := newTestServer(t)
	conn := dial(t, srv, ts)

	srv.Stream([]string{"/project/build/css/main.css"})
	assert.Equal(t, CommandCSS, readCommand(t, conn))

	srv.Stream([]string{"/project/build/css/main.css", "/project/build/index.html"})
	assert.Equal(t, CommandReload, readCommand(t, conn))

	srv.Stream([]string{"/project/build/js/main.min.js"})
	assert.Equal(t, CommandReload, readCommand(t, conn))
}

func TestStreamWithoutChangesIsIgnored(t *testing.T) {
	srv, ts := newTestServer(t)
	conn := dial(t, srv, ts)

	srv.Stream(nil)
	srv.Stream([]string{"main.css"})
	assert.Equal(t, CommandCSS, readCommand(t, conn))
}

func TestClientsAreRemovedOnDisconnect(t *testing.T) {
	srv, ts := newTestServer(t)
	conn := dial(t, srv, ts)
	require.NoError(t, conn.Close())

	assert.Eventually(t, func() bool {
		return srv.Clients() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestServeStopsWhenContextIsCancelled(t *testing.T) {
	srv := New(t.TempDir(), "127.0.0.1:0")
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)
	go func() {
		result <- srv.Serve(ctx, listener)
	}()

	cancel()
	select {
	case err := <-result:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve didn't return after cancellation")
	}
}

func TestInjectScriptUsesLastBodyTag(t *testing.T) {
	page := injectScript([]byte("<body><pre></body></pre></body>"))
	assert.Equal(t, "<body><pre></body></pre>"+string(scriptTag)+"</body>", string(page))
}
