// Package devserver serves the build output and tells connected browsers to refresh when it changes.
package devserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog/hlog"
	"github.com/unrolled/secure"

	"github.com/ngld/sitepipe/pkg/buildsys"
)

// Server is a static file server with live reload support
type Server struct {
	// Root is the directory that is served
	Root    string
	Address string

	hub      *hub
	upgrader websocket.Upgrader
}

// New returns a server for the given build directory
func New(root, address string) *Server {
	return &Server{
		Root:    root,
		Address: address,
		hub:     newHub(),
	}
}

// Clients returns the number of connected live reload clients
func (s *Server) Clients() int {
	return s.hub.count()
}

// Stream tells all connected clients that the given files changed. Stylesheet-only changes are applied
// without a page reload.
func (s *Server) Stream(changed []string) {
	if len(changed) == 0 {
		return
	}

	cmd := Command{Command: CommandCSS}
	for _, item := range changed {
		if !strings.EqualFold(filepath.Ext(item), ".css") {
			cmd.Command = CommandReload
			break
		}
	}

	s.hub.broadcast(cmd)
}

// Handler builds the HTTP handler. Request logs go to the logger attached to ctx.
func (s *Server) Handler(ctx context.Context) http.Handler {
	r := mux.NewRouter()
	r.HandleFunc(SocketPath, s.serveSocket)
	r.HandleFunc(ScriptPath, serveClientScript).Methods("GET", "HEAD")
	r.PathPrefix("/").Handler(compress(http.HandlerFunc(s.serveStatic))).Methods("GET", "HEAD")

	sm := secure.New(secure.Options{
		IsDevelopment:      true,
		BrowserXssFilter:   true,
		ContentTypeNosniff: true,
	})

	logger := buildsys.Log(ctx).With().Str("module", "devserver").Logger()
	accessLog := hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Debug().
			Str("method", r.Method).
			Str("url", r.URL.String()).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("")
	})

	return hlog.NewHandler(logger)(hlog.RequestIDHandler("req", "Request-Id")(accessLog(sm.Handler(r))))
}

// Start listens on the configured address and serves requests until ctx is cancelled
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.Address)
	if err != nil {
		return eris.Wrapf(err, "failed to listen on %s", s.Address)
	}

	return s.Serve(ctx, listener)
}

// Serve handles requests on listener until ctx is cancelled
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	srv := http.Server{
		Handler:     s.Handler(ctx),
		ReadTimeout: 15 * time.Second,
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		err := srv.Shutdown(shutdownCtx)
		if err != nil {
			buildsys.Log(ctx).Warn().Err(err).Msg("Failed to shut down the dev server")
		}
		s.hub.closeAll()
	}()

	buildsys.Log(ctx).Info().Msgf("Serving %s on http://%s/", s.Root, listener.Addr())
	err := srv.Serve(listener)
	if errors.Is(err, http.ErrServerClosed) {
		<-done
		return nil
	}

	return eris.Wrap(err, "dev server failed")
}

func (s *Server) serveSocket(rw http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(rw, r, nil)
	if err != nil {
		// Upgrade already sent an error response
		hlog.FromRequest(r).Debug().Err(err).Msg("Websocket upgrade failed")
		return
	}

	s.hub.serve(conn, hlog.FromRequest(r))
}

func serveClientScript(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Set("Content-Type", "application/javascript; charset=utf-8")
	rw.Header().Set("Cache-Control", "no-cache")
	_, _ = rw.Write([]byte(clientScript))
}

func (s *Server) serveStatic(rw http.ResponseWriter, r *http.Request) {
	name := path.Clean("/" + r.URL.Path)
	full := filepath.Join(s.Root, filepath.FromSlash(name))

	info, err := os.Stat(full)
	if err == nil && info.IsDir() {
		full = filepath.Join(full, "index.html")
	}

	if strings.EqualFold(filepath.Ext(full), ".html") {
		s.serveHTML(rw, r, full)
		return
	}

	http.ServeFile(rw, r, full)
}

func (s *Server) serveHTML(rw http.ResponseWriter, r *http.Request, full string) {
	page, err := os.ReadFile(full)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			http.NotFound(rw, r)
			return
		}

		hlog.FromRequest(r).Error().Err(err).Str("file", full).Msg("Failed to read file")
		http.Error(rw, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	rw.Header().Set("Content-Type", "text/html; charset=utf-8")
	rw.Header().Set("Cache-Control", "no-cache")
	rw.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		_, _ = rw.Write(injectScript(page))
	}
}
