// Package main runs a demo WebSocket client that follows one optimization
// job from submission to completion.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"
)

type wsMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func post(base, path string, body []byte, out any) error {
	req, _ := http.NewRequest(http.MethodPost, base+path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-Id", "t_demo")
	req.Header.Set("X-Role", "admin")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	return json.NewDecoder(resp.Body).Decode(out)
}

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	base := fmt.Sprintf("http://localhost:%s", port)

	var ls struct {
		ID string `json:"id"`
	}
	setBody := []byte(`{"name":"demo tour","locations":[
		{"name":"Depot","lat":52.5200,"lng":13.4050},
		{"name":"Museum","lat":52.5206,"lng":13.3862,"openTime":"10:00","closeTime":"18:00","stayMin":45},
		{"name":"Gallery","lat":52.5076,"lng":13.3904,"openTime":"11:00","closeTime":"17:00","stayMin":30},
		{"name":"Cafe","lat":52.5128,"lng":13.4206,"stayMin":20}
	]}`)
	if err := post(base, "/v1/location-sets", setBody, &ls); err != nil || ls.ID == "" {
		log.Fatalf("create location set: %v (%+v)", err, ls)
	}
	log.Printf("Location set: %s", ls.ID)

	var job struct {
		ID string `json:"id"`
	}
	optBody := []byte(fmt.Sprintf(`{"locationSetId":%q,"algorithm":"genetic","seed":42}`, ls.ID))
	if err := post(base, "/v1/optimize", optBody, &job); err != nil || job.ID == "" {
		log.Fatalf("optimize: %v (%+v)", err, job)
	}
	log.Printf("Job: %s", job.ID)

	u := url.URL{Scheme: "ws", Host: "localhost:" + port, Path: "/v1/jobs/ws"}
	hdr := http.Header{}
	hdr.Set("X-Tenant-Id", "t_demo")
	hdr.Set("X-Role", "admin")
	c, _, err := websocket.DefaultDialer.Dial(u.String(), hdr)
	if err != nil {
		log.Fatal("dial:", err)
	}
	defer func() { _ = c.Close() }()

	if err := c.WriteJSON(wsMessage{Type: "connection_init"}); err != nil {
		log.Fatal(err)
	}
	pl, _ := json.Marshal(map[string]string{"jobId": job.ID})
	if err := c.WriteJSON(wsMessage{Type: "subscribe", ID: "1", Payload: pl}); err != nil {
		log.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var m wsMessage
			if err := c.ReadJSON(&m); err != nil {
				log.Printf("read: %v", err)
				return
			}
			log.Printf("WS <- %s: %s", m.Type, string(m.Payload))
			if m.Type == "next" && bytes.Contains(m.Payload, []byte("job.done")) {
				return
			}
		}
	}()

	select {
	case <-time.After(30 * time.Second):
		log.Printf("timed out waiting for job.done")
	case <-done:
	}
}
