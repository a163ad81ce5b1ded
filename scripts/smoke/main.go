// Command smoke drives a running api service through login, user
// registration, a direct chat and one message, failing on the first
// unexpected status.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
)

type envelope struct {
	Status  bool `json:"status"`
	Payload struct {
		Message string `json:"message"`
		Data    struct {
			Data        json.RawMessage `json:"data"`
			AccessToken string          `json:"accessToken"`
		} `json:"data"`
	} `json:"payload"`
}

type client struct {
	base  string
	token string
	http  *http.Client
}

func (c *client) call(method, path string, body any, want int) json.RawMessage {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			log.Fatal(err)
		}
	}
	req, err := http.NewRequest(method, c.base+path, &buf)
	if err != nil {
		log.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		log.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		log.Fatalf("%s %s: decode: %v", method, path, err)
	}
	if resp.StatusCode != want {
		log.Fatalf("%s %s: got %d %q, want %d", method, path, resp.StatusCode, env.Payload.Message, want)
	}
	if env.Payload.Data.AccessToken != "" {
		c.token = env.Payload.Data.AccessToken
	}
	log.Printf("%s %s -> %d %s", method, path, resp.StatusCode, env.Payload.Message)
	return env.Payload.Data.Data
}

func newClient(base string) *client {
	return &client{base: base, http: &http.Client{Timeout: 10 * time.Second}}
}

func main() {
	apiAddr := flag.String("api", "http://localhost:3000", "api service address")
	email := flag.String("email", "admin@wechat.com", "admin email")
	password := flag.String("password", "", "admin password")
	flag.Parse()

	admin := newClient(*apiAddr)
	admin.call(http.MethodGet, "/ping", nil, http.StatusOK)
	admin.call(http.MethodGet, "/v1/chat", nil, http.StatusUnauthorized)
	admin.call(http.MethodPost, "/v1/user/login", map[string]string{"email": *email, "password": *password}, http.StatusOK)

	suffix := uuid.NewString()[:8]
	var created struct {
		ID string `json:"id"`
	}
	peerEmail := fmt.Sprintf("smoke-%s@wechat.com", suffix)
	raw := admin.call(http.MethodPost, "/v1/user/register",
		map[string]any{"name": "smoke-" + suffix, "email": peerEmail, "password": "smoke-pw"}, http.StatusCreated)
	if err := json.Unmarshal(raw, &created); err != nil {
		log.Fatal(err)
	}

	var chat struct {
		ID string `json:"id"`
	}
	raw = admin.call(http.MethodPost, "/v1/chat", map[string]string{"userId": created.ID}, http.StatusOK)
	if err := json.Unmarshal(raw, &chat); err != nil {
		log.Fatal(err)
	}
	admin.call(http.MethodPost, "/v1/message", map[string]string{"chatId": chat.ID, "content": "smoke test"}, http.StatusCreated)

	peer := newClient(*apiAddr)
	peer.call(http.MethodPost, "/v1/user/login", map[string]string{"email": peerEmail, "password": "smoke-pw"}, http.StatusOK)
	raw = peer.call(http.MethodGet, "/v1/message/"+chat.ID, nil, http.StatusOK)

	var history []struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal(raw, &history); err != nil {
		log.Fatal(err)
	}
	if len(history) != 1 || history[0].Content != "smoke test" {
		log.Fatalf("unexpected history: %s", raw)
	}
	log.Println("Smoke test passed")
}
