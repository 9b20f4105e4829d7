package cmd

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// CallbackServer is the local listener the CLI points redirect URIs at. It
// forwards every redirect it receives, query or fragment, as a raw URL.
type CallbackServer struct {
	server   *http.Server
	listener net.Listener
	port     int
	path     string
	results  chan string
	errs     chan error
	mu       sync.Mutex
	running  bool
}

// NewCallbackServer creates a listener for path on port. Port 0 picks a
// free port.
func NewCallbackServer(port int, path string) *CallbackServer {
	if path == "" {
		path = "/callback"
	}
	return &CallbackServer{
		port:    port,
		path:    path,
		results: make(chan string, 4),
		errs:    make(chan error, 1),
	}
}

// fragmentPage sends a fragment response back to the listener, since the
// browser never sends the fragment itself.
var fragmentPage = template.Must(template.New("fragment").Parse(`<!doctype html>
<html><head><title>OAuth Playground</title></head>
<body style="font-family:sans-serif">
<p id="msg">Finishing sign in...</p>
<script>
fetch({{.}}, {method: "POST", headers: {"Content-Type": "application/x-www-form-urlencoded"},
  body: "url=" + encodeURIComponent(window.location.href)})
  .then(function () { document.getElementById("msg").textContent = "Done. You can close this window."; });
</script>
</body></html>`))

// Start begins listening.
func (s *CallbackServer) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("callback server is already running")
	}
	listener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", s.port))
	if err != nil {
		return fmt.Errorf("port %d is not available: %w", s.port, err)
	}
	s.listener = listener
	s.port = listener.Addr().(*net.TCPAddr).Port

	mux := http.NewServeMux()
	mux.HandleFunc(s.path, s.handleCallback)
	s.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	s.running = true

	go func() {
		if errServe := s.server.Serve(listener); errServe != nil && !errors.Is(errServe, http.ErrServerClosed) {
			s.errs <- fmt.Errorf("callback server failed: %w", errServe)
		}
	}()
	log.Debugf("callback server listening on %s", s.URL())
	return nil
}

// URL is the redirect URI the listener answers on.
func (s *CallbackServer) URL() string {
	return fmt.Sprintf("http://localhost:%d%s", s.port, s.path)
}

// Results delivers the raw redirect URLs.
func (s *CallbackServer) Results() <-chan string {
	return s.results
}

// Stop gracefully stops the listener.
func (s *CallbackServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running || s.server == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err := s.server.Shutdown(shutdownCtx)
	s.running = false
	s.server = nil
	return err
}

// WaitForCallback waits for the next redirect.
func (s *CallbackServer) WaitForCallback(ctx context.Context, timeout time.Duration) (string, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case raw := <-s.results:
		return raw, nil
	case err := <-s.errs:
		return "", err
	case <-timer.C:
		return "", fmt.Errorf("timeout waiting for the redirect on %s", s.URL())
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (s *CallbackServer) handleCallback(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if r.URL.RawQuery == "" {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			if err := fragmentPage.Execute(w, s.path); err != nil {
				log.Errorf("failed to render callback page: %v", err)
			}
			return
		}
		s.sendResult((&url.URL{Scheme: "http", Host: r.Host, Path: r.URL.Path, RawQuery: r.URL.RawQuery}).String())
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, "<html><body style=\"font-family:sans-serif\"><h1>Redirect received</h1><p>You can close this window and return to the terminal.</p></body></html>")
	case http.MethodPost:
		raw := strings.TrimSpace(r.PostFormValue("url"))
		if raw == "" {
			http.Error(w, "url is required", http.StatusBadRequest)
			return
		}
		s.sendResult(raw)
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *CallbackServer) sendResult(raw string) {
	select {
	case s.results <- raw:
	default:
		log.Warn("callback channel is full, redirect dropped")
	}
}
