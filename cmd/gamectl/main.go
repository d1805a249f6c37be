package main

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"time"
)

// ============================================================================
// gamectl - Command-line IPC Client
// ============================================================================
// This tool drives the sensorgames daemon over its IPC socket.
//
// Usage:
//   gamectl start motion
//   gamectl stop audio
//   gamectl reset motion
//   gamectl status audio
//
// Options:
//   -socket PATH    Unix domain socket path (default: /tmp/sensorgames.sock)
// ============================================================================

const defaultSocketPath = "/tmp/sensorgames.sock"

// RequestEnvelope wraps requests for JSON (duplicated from the daemon for
// a standalone binary).
type RequestEnvelope struct {
	Type string      `json:"type"`
	Data requestData `json:"data"`
}

type requestData struct {
	Game string `json:"game"`
}

// IPCResponse represents the daemon's response
type IPCResponse struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data,omitempty"`
	Error  string          `json:"error,omitempty"`
	Code   string          `json:"code,omitempty"`
}

func main() {
	socketPath := defaultSocketPath

	args := os.Args[1:]
	if len(args) > 0 && (args[0] == "-socket" || args[0] == "--socket") {
		if len(args) < 2 {
			fmt.Fprintf(os.Stderr, "error: -socket requires an argument\n")
			os.Exit(1)
		}
		socketPath = args[1]
		args = args[2:]
	}

	if len(args) > 0 && (args[0] == "help" || args[0] == "-h" || args[0] == "--help") {
		printUsage()
		os.Exit(0)
	}

	req, err := parseCommand(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		printUsage()
		os.Exit(1)
	}

	resp, err := sendRequest(socketPath, req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if resp.Status == "error" {
		fmt.Fprintf(os.Stderr, "daemon error (%s): %s\n", resp.Code, resp.Error)
		os.Exit(1)
	}

	if len(resp.Data) == 0 || string(resp.Data) == "null" {
		fmt.Println("ok")
		return
	}
	var pretty any
	if err := json.Unmarshal(resp.Data, &pretty); err != nil {
		fmt.Println(string(resp.Data))
		return
	}
	out, _ := json.MarshalIndent(pretty, "", "  ")
	fmt.Println(string(out))
}

// parseCommand turns "<command> <game>" into a request envelope.
func parseCommand(args []string) (RequestEnvelope, error) {
	if len(args) == 0 {
		return RequestEnvelope{}, fmt.Errorf("missing command")
	}

	var typ string
	switch args[0] {
	case "start", "begin":
		typ = "start"
	case "stop", "end":
		typ = "stop"
	case "reset":
		typ = "reset"
	case "status", "get":
		typ = "status"
	default:
		return RequestEnvelope{}, fmt.Errorf("unknown command: %s", args[0])
	}

	if len(args) < 2 {
		return RequestEnvelope{}, fmt.Errorf("%s requires a game (motion or audio)", args[0])
	}
	switch args[1] {
	case "motion", "audio":
	default:
		return RequestEnvelope{}, fmt.Errorf("unknown game: %s", args[1])
	}

	return RequestEnvelope{Type: typ, Data: requestData{Game: args[1]}}, nil
}

func sendRequest(socketPath string, req RequestEnvelope) (IPCResponse, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return IPCResponse{}, fmt.Errorf("connect to %s: %w", socketPath, err)
	}
	defer conn.Close()

	// Start may wait for a device before answering.
	_ = conn.SetDeadline(time.Now().Add(10 * time.Second))

	data, err := json.Marshal(req)
	if err != nil {
		return IPCResponse{}, fmt.Errorf("marshal request: %w", err)
	}

	// Line-delimited JSON
	if _, err := fmt.Fprintf(conn, "%s\n", data); err != nil {
		return IPCResponse{}, fmt.Errorf("send request: %w", err)
	}

	var response IPCResponse
	if err := json.NewDecoder(conn).Decode(&response); err != nil {
		return IPCResponse{}, fmt.Errorf("decode response: %w", err)
	}
	return response, nil
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `gamectl - Control the sensorgames daemon via IPC

Usage:
  gamectl [options] <command> <game>

Options:
  -socket PATH    Unix domain socket path (default: %s)

Commands:
  start, begin    Start a session (acquires the sensor)
  stop, end       End a running session early and show the result
  reset           Return to the ready screen
  status, get     Show the current snapshot
  help, -h        Show this help message

Games:
  motion          Shake counter (accelerometer)
  audio           Orange growth (microphone)

Examples:
  gamectl start motion
  gamectl -socket /run/sensorgames.sock status audio
`, defaultSocketPath)
}
