// Command client is a terminal chat client: it logs in over REST, opens the
// push channel and lets you join a chat, type and send messages.
//
//	/join <chatId>   join a chat room and make it current
//	/typing          send a typing indicator to the current chat
//	/quit            leave
//
// Any other line is sent as a message to the current chat.
package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mahaj/chatwithme/pkg/model"
	"github.com/mahaj/chatwithme/pkg/realtime"
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

type session struct {
	api   string
	token string
	me    model.Identity
}

func (s *session) call(method, path string, body any) (json.RawMessage, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, err
		}
	}
	req, err := http.NewRequest(method, s.api+path, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, err
	}
	if env.Payload.Data.AccessToken != "" {
		s.token = env.Payload.Data.AccessToken
	}
	if !env.Status {
		return nil, fmt.Errorf("%s %s: %s", method, path, env.Payload.Message)
	}
	return env.Payload.Data.Data, nil
}

func (s *session) login(email, password string) error {
	raw, err := s.call(http.MethodPost, "/v1/user/login", map[string]string{"email": email, "password": password})
	if err != nil {
		return err
	}
	var out struct {
		User model.Identity `json:"user"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return err
	}
	s.me = out.User
	return nil
}

func emit(c *websocket.Conn, event string, data any) error {
	frame, err := realtime.NewFrame(event, data)
	if err != nil {
		return err
	}
	return c.WriteMessage(websocket.TextMessage, frame)
}

func printFrame(raw []byte) {
	var f realtime.Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		fmt.Printf("\rreceived raw: %s\n> ", raw)
		return
	}
	switch f.Event {
	case realtime.EventMessageReceived:
		var msg model.MessageDetail
		if err := json.Unmarshal(f.Data, &msg); err == nil {
			fmt.Printf("\r[%s] %s: %s\n> ", msg.Chat.Name, msg.Sender.Name, msg.Content)
			return
		}
	case realtime.EventTyping, realtime.EventStopTyping:
		var t realtime.TypingData
		if err := json.Unmarshal(f.Data, &t); err == nil {
			fmt.Printf("\r%s: %s in %s\n> ", f.Event, t.UserID, t.Room)
			return
		}
	case realtime.EventConnected:
		fmt.Print("\rconnected\n> ")
		return
	}
	fmt.Printf("\r%s: %s\n> ", f.Event, f.Data)
}

func main() {
	gatewayAddr := flag.String("ws", "ws://localhost:3000/ws", "push channel url")
	apiAddr := flag.String("api", "http://localhost:3000", "api service address")
	email := flag.String("email", "", "login email")
	password := flag.String("password", "", "login password")
	flag.Parse()

	s := &session{api: strings.TrimRight(*apiAddr, "/")}
	log.Printf("Logging in as %s...", *email)
	if err := s.login(*email, *password); err != nil {
		log.Fatal("Login failed: ", err)
	}
	log.Printf("Logged in as %s (%s)", s.me.Name, s.me.ID)

	u, err := url.Parse(*gatewayAddr)
	if err != nil {
		log.Fatal(err)
	}
	c, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatal("dial: ", err)
	}
	defer c.Close()

	if err := emit(c, realtime.EventSetup, map[string]string{"token": s.token}); err != nil {
		log.Fatal("setup: ", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, message, err := c.ReadMessage()
			if err != nil {
				log.Println("read:", err)
				return
			}
			printFrame(message)
		}
	}()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	go func() {
		var current string
		scanner := bufio.NewScanner(os.Stdin)
		fmt.Print("> ")
		for scanner.Scan() {
			text := strings.TrimSpace(scanner.Text())
			switch {
			case text == "":
			case text == "/quit":
				interrupt <- os.Interrupt
				return
			case strings.HasPrefix(text, "/join "):
				current = strings.TrimSpace(strings.TrimPrefix(text, "/join "))
				if err := emit(c, realtime.EventJoinChat, current); err != nil {
					log.Println("write:", err)
					return
				}
			case text == "/typing":
				if err := emit(c, realtime.EventTyping, realtime.TypingData{Room: current, UserID: s.me.ID}); err != nil {
					log.Println("write:", err)
					return
				}
			case current == "":
				fmt.Println("join a chat first: /join <chatId>")
			default:
				if _, err := s.call(http.MethodPost, "/v1/message", map[string]string{"chatId": current, "content": text}); err != nil {
					fmt.Println("send failed:", err)
				}
			}
			fmt.Print("> ")
		}
	}()

	select {
	case <-done:
	case <-interrupt:
		log.Println("interrupt")
		err := c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		if err != nil {
			log.Println("write close:", err)
			return
		}
		select {
		case <-done:
		case <-time.After(time.Second):
		}
	}
}
