package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"
)

// ============================================================================
// IPC Server - Unix Domain Socket Interface
// ============================================================================
// The IPC server lets local tools (gamectl, kiosk scripts) control the games.
//
// Protocol: Line-delimited JSON
//   - Client sends: {"type": "start|stop|reset|status", "data": {"game": "motion|audio"}}
//   - Server responds: {"status": "ok", "data": {...}} or
//     {"status": "error", "error": "msg", "code": "device_unavailable"}
// ============================================================================

// IPCResponse represents the response sent back to IPC clients
type IPCResponse struct {
	Status string `json:"status"`          // "ok" or "error"
	Data   any    `json:"data,omitempty"`  // snapshot or result
	Error  string `json:"error,omitempty"` // error message if status == "error"
	Code   string `json:"code,omitempty"`  // machine-readable error code
}

// requester executes control requests on the daemon loop.
type requester interface {
	Do(ctx context.Context, req Request) (any, error)
}

func okResponse(data any) IPCResponse {
	return IPCResponse{Status: "ok", Data: data}
}

func errorResponse(err error) IPCResponse {
	return IPCResponse{Status: "error", Error: err.Error(), Code: errorCode(err)}
}

// runIPCServer starts the Unix domain socket server.
// It runs until ctx is canceled, at which point it closes the listener and exits.
func runIPCServer(ctx context.Context, socketPath string, d requester, logger *slog.Logger) error {
	// Remove existing socket file if it exists
	if err := os.RemoveAll(socketPath); err != nil {
		return fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", socketPath, err)
	}
	defer listener.Close()
	defer os.Remove(socketPath)

	// Make socket accessible to the kiosk user.
	if err := os.Chmod(socketPath, 0o666); err != nil {
		return fmt.Errorf("chmod socket: %w", err)
	}

	logger.Info("IPC listening", "socket", socketPath)

	// Close the listener on shutdown. This unblocks Accept().
	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				logger.Debug("IPC listener closed (shutdown)")
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				logger.Debug("IPC listener closed")
				return nil
			}

			logger.Error("IPC accept error", "error", err)
			continue
		}

		go handleIPCConnection(ctx, conn, d, logger)
	}
}

// handleIPCConnection handles a single IPC connection
func handleIPCConnection(ctx context.Context, conn net.Conn, d requester, logger *slog.Logger) {
	defer conn.Close()

	logger.Debug("IPC connection", "remote_addr", conn.RemoteAddr())

	scanner := bufio.NewScanner(conn)
	encoder := json.NewEncoder(conn)

	for scanner.Scan() {
		line := scanner.Bytes()
		logger.Debug("IPC received", "line", string(line))

		var resp IPCResponse
		req, err := UnmarshalRequest(line)
		if err != nil {
			resp = errorResponse(&requestError{err: fmt.Errorf("parse request: %w", err)})
		} else {
			rctx, cancel := context.WithTimeout(ctx, requestTimeout)
			data, err := d.Do(rctx, req)
			cancel()
			if err != nil {
				resp = errorResponse(err)
			} else {
				resp = okResponse(data)
			}
		}

		_ = conn.SetWriteDeadline(time.Now().Add(requestTimeout))
		if encErr := encoder.Encode(resp); encErr != nil {
			logger.Error("IPC failed to send response", "error", encErr)
			return
		}
	}

	logger.Debug("IPC connection closed")
}
