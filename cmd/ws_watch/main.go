package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
)

// envelope mirrors the daemon's {type, ts, data} frames.
type envelope struct {
	Type string          `json:"type"`
	Ts   *time.Time      `json:"ts,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

func main() {
	var (
		wsURL   = flag.String("ws", "ws://127.0.0.1:8080/ws", "sensorgames state websocket URL")
		raw     = flag.Bool("raw", false, "Print frames as received")
		metrics = flag.Bool("metrics", true, "Print metric_update frames")
		only    = flag.String("game", "", "Follow one game only (motion or audio)")
	)
	flag.Parse()

	u, err := url.Parse(*wsURL)
	if err != nil {
		log.Fatalf("invalid websocket URL: %v", err)
	}
	if *only != "" {
		q := u.Query()
		q.Set("game", *only)
		u.RawQuery = q.Encode()
	}

	// Handle shutdown
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

	d := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	log.Printf("connecting to %s...", u.String())
	conn, _, err := d.Dial(u.String(), nil)
	if err != nil {
		log.Fatalf("failed to connect: %v", err)
	}
	defer conn.Close()

	log.Printf("connected! (press Ctrl+C to exit)")

	// Mutex to protect concurrent writes to websocket
	var writeMu sync.Mutex

	// The daemon pings; reply handling is built in, we only extend the deadline.
	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPingHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(time.Second))
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			messageType, message, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Printf("websocket error: %v", err)
				}
				return
			}
			if messageType != websocket.TextMessage {
				fmt.Printf("[BINARY] %d bytes\n", len(message))
				continue
			}
			if *raw {
				fmt.Println(string(message))
				continue
			}
			if line, ok := formatFrame(message, *metrics); ok {
				fmt.Println(line)
			}
		}
	}()

	select {
	case <-sigc:
		log.Printf("shutting down...")
		writeMu.Lock()
		err := conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		writeMu.Unlock()
		if err != nil {
			log.Printf("error closing connection: %v", err)
		}
	case <-done:
		log.Printf("connection closed")
	}
}

// formatFrame renders one state frame as a single log line.
func formatFrame(message []byte, showMetrics bool) (string, bool) {
	var env envelope
	if err := json.Unmarshal(message, &env); err != nil {
		return "[TEXT] " + string(message), true
	}

	var d map[string]any
	_ = json.Unmarshal(env.Data, &d)

	switch env.Type {
	case "state_init":
		games, _ := d["games"].([]any)
		s := "[INIT]"
		for _, g := range games {
			m, _ := g.(map[string]any)
			s += fmt.Sprintf(" %v=%v(%vs)", m["game"], m["phase"], m["time_remaining"])
		}
		return s, true
	case "phase_changed":
		return fmt.Sprintf("[PHASE] %v -> %v", d["game"], d["phase"]), true
	case "timer_tick":
		return fmt.Sprintf("[TIMER] %v %vs", d["game"], d["seconds_left"]), true
	case "metric_update":
		if !showMetrics {
			return "", false
		}
		s := fmt.Sprintf("[METRIC] %v metric=%v level=%.2f", d["game"], d["metric"], d["level"])
		if pulse, _ := d["pulse"].(bool); pulse {
			s += fmt.Sprintf(" pulse tier=%v", d["speed_tier"])
		}
		return s, true
	case "result":
		return fmt.Sprintf("[RESULT] %v metric=%v score=%v label=%q", d["game"], d["metric"], d["score"], d["label"]), true
	default:
		pretty, _ := json.MarshalIndent(d, "", "  ")
		return fmt.Sprintf("[%s]\n%s", env.Type, pretty), true
	}
}
