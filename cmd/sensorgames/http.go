package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"sensorgames/internal/game"
)

// ============================================================================
// HTTP Server
// ============================================================================
// Serves the presentation WebSocket and a small REST control API:
//
//   GET  /ws                        state event stream
//   GET  /api/games/{game}          snapshot
//   POST /api/games/{game}/start    begin a session
//   POST /api/games/{game}/stop     end a session early
//   POST /api/games/{game}/reset    back to Ready
//
// Responses use the IPC response shape.
// ============================================================================

type apiHandler struct {
	d      requester
	logger *slog.Logger
}

// newHTTPHandler returns the daemon's HTTP routes.
func newHTTPHandler(d requester, ws *Server, logger *slog.Logger) http.Handler {
	api := &apiHandler{d: d, logger: logger}

	mux := http.NewServeMux()
	if ws != nil {
		mux.HandleFunc("GET /ws", ws.handleStateWS)
	}
	mux.HandleFunc("GET /api/games/{game}", api.handle(requestStatus))
	mux.HandleFunc("POST /api/games/{game}/start", api.handle(requestStart))
	mux.HandleFunc("POST /api/games/{game}/stop", api.handle(requestStop))
	mux.HandleFunc("POST /api/games/{game}/reset", api.handle(requestReset))
	return mux
}

func (a *apiHandler) handle(typ string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		kind, err := game.ParseKind(r.PathValue("game"))
		if err != nil {
			a.writeError(w, fmt.Errorf("%w: %w", errUnknownGame, err))
			return
		}
		req, err := newRequest(typ, kind)
		if err != nil {
			a.writeError(w, err)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
		defer cancel()

		data, err := a.d.Do(ctx, req)
		if err != nil {
			a.writeError(w, err)
			return
		}
		a.writeJSON(w, http.StatusOK, okResponse(data))
	}
}

func (a *apiHandler) writeError(w http.ResponseWriter, err error) {
	resp := errorResponse(err)
	status := httpStatus(resp.Code)
	if status >= http.StatusInternalServerError {
		a.logger.Warn("api request failed", "code", resp.Code, "error", err)
	}
	a.writeJSON(w, status, resp)
}

func (a *apiHandler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Debug("api response write failed", "error", err)
	}
}

// runHTTPServer serves handler on addr and shuts it down gracefully when
// ctx is canceled. ready, if non-nil, receives the bound address.
func runHTTPServer(ctx context.Context, addr string, handler http.Handler, ready chan<- net.Addr, logger *slog.Logger) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("HTTP listen on %s: %w", addr, err)
	}
	logger.Info("HTTP server listening", "addr", ln.Addr().String())
	if ready != nil {
		ready <- ln.Addr()
	}

	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)

	go func() {
		// Serve returns http.ErrServerClosed on Shutdown; treat that as clean exit.
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		// Graceful shutdown with a timeout.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("HTTP server shutdown: %w", err)
		}
		// Wait for the Serve goroutine to return.
		<-errCh
		return nil

	case err := <-errCh:
		return err
	}
}
