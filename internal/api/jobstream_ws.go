package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type wsMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// JobStreamWSHandler is the WebSocket counterpart of the SSE job stream.
// Protocol: connection_init -> connection_ack, then subscribe messages with
// {"jobId": "..."} payloads; events arrive as "next" messages carrying the
// subscription id.
func (s *Server) JobStreamWSHandler(w http.ResponseWriter, r *http.Request) {
	p := s.getPrincipal(r)
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	conn.SetReadLimit(1 << 16)
	_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	})

	var writeMu sync.Mutex
	send := func(m wsMessage) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteJSON(m)
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		t := time.NewTicker(30 * time.Second)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-t.C:
				writeMu.Lock()
				err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
				writeMu.Unlock()
				if err != nil {
					return
				}
			}
		}
	}()

	type sub struct {
		jobID string
		ch    chan SSEEvent
		stop  chan struct{}
	}
	subs := map[string]*sub{}
	defer func() {
		for _, su := range subs {
			close(su.stop)
			s.Broker.Unsubscribe(su.jobID, su.ch)
		}
	}()

	for {
		var m wsMessage
		if err := conn.ReadJSON(&m); err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		switch m.Type {
		case "connection_init":
			_ = send(wsMessage{Type: "connection_ack"})
		case "ping":
			_ = send(wsMessage{Type: "pong"})
		case "subscribe":
			var body struct {
				JobID string `json:"jobId"`
			}
			_ = json.Unmarshal(m.Payload, &body)
			if m.ID == "" || body.JobID == "" {
				pl, _ := json.Marshal(map[string]string{"error": "subscribe needs id and jobId"})
				_ = send(wsMessage{Type: "error", ID: m.ID, Payload: pl})
				continue
			}
			if _, err := s.Store.GetJob(r.Context(), p.Tenant, body.JobID); err != nil {
				pl, _ := json.Marshal(map[string]string{"error": "job not found"})
				_ = send(wsMessage{Type: "error", ID: m.ID, Payload: pl})
				continue
			}
			if _, exists := subs[m.ID]; exists {
				continue
			}
			su := &sub{jobID: body.JobID, ch: s.Broker.Subscribe(body.JobID), stop: make(chan struct{})}
			subs[m.ID] = su
			go func(id string, su *sub) {
				for {
					select {
					case <-su.stop:
						return
					case evt, ok := <-su.ch:
						if !ok {
							return
						}
						pl, _ := json.Marshal(map[string]any{"type": evt.Type, "data": evt.Data})
						if err := send(wsMessage{Type: "next", ID: id, Payload: pl}); err != nil {
							return
						}
					}
				}
			}(m.ID, su)
		case "complete":
			if su, ok := subs[m.ID]; ok {
				close(su.stop)
				s.Broker.Unsubscribe(su.jobID, su.ch)
				delete(subs, m.ID)
			}
		}
	}
}
