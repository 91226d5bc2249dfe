package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/serandev/seran-sjune/internal/messages"
)

type streamEvent struct {
	name string
	data string
}

func readEvents(t *testing.T, reader *bufio.Reader) <-chan streamEvent {
	t.Helper()
	events := make(chan streamEvent, 8)
	go func() {
		defer close(events)
		current := streamEvent{}
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				return
			}
			line = strings.TrimRight(line, "\r\n")
			switch {
			case line == "":
				if current.name != "" || current.data != "" {
					events <- current
				}
				current = streamEvent{}
			case strings.HasPrefix(line, "event:"):
				current.name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			case strings.HasPrefix(line, "data:"):
				current.data += strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			}
		}
	}()
	return events
}

func nextMessagesEvent(t *testing.T, events <-chan streamEvent) []messages.MessageWithUser {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for messages event")
			return nil
		case event, ok := <-events:
			if !ok {
				t.Fatal("stream closed before messages event")
			}
			if event.name != RealtimeEventMessages {
				continue
			}
			var snapshot []messages.MessageWithUser
			if err := json.Unmarshal([]byte(event.data), &snapshot); err != nil {
				t.Fatalf("failed to decode event payload %q: %v", event.data, err)
			}
			return snapshot
		}
	}
}

func TestMessageStreamEmitsSnapshots(t *testing.T) {
	fixture := newServerFixture(t)
	detach := fixture.realtime.Attach(context.Background(), fixture.messages)
	t.Cleanup(detach)

	server := httptest.NewServer(fixture.handler)
	t.Cleanup(server.Close)

	session := fixture.login(t, kakaoTokenGood)

	streamResp, err := http.Get(server.URL + "/messages/stream")
	if err != nil {
		t.Fatalf("failed to open stream: %v", err)
	}
	t.Cleanup(func() {
		_ = streamResp.Body.Close()
	})
	if streamResp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected stream status: %d", streamResp.StatusCode)
	}
	if !strings.HasPrefix(streamResp.Header.Get("Content-Type"), "text/event-stream") {
		t.Fatalf("unexpected content type %q", streamResp.Header.Get("Content-Type"))
	}

	events := readEvents(t, bufio.NewReader(streamResp.Body))
	if initial := nextMessagesEvent(t, events); len(initial) != 0 {
		t.Fatalf("expected empty initial snapshot, got %#v", initial)
	}

	body, _ := json.Marshal(map[string]string{"content": "live hello"})
	request, _ := http.NewRequest(http.MethodPost, server.URL+"/messages", bytes.NewReader(body))
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Authorization", "Bearer "+session.AccessToken)
	createResp, err := http.DefaultClient.Do(request)
	if err != nil {
		t.Fatalf("post failed: %v", err)
	}
	_ = createResp.Body.Close()
	if createResp.StatusCode != http.StatusCreated {
		t.Fatalf("unexpected post status %d", createResp.StatusCode)
	}

	for {
		snapshot := nextMessagesEvent(t, events)
		if len(snapshot) == 0 {
			continue
		}
		if snapshot[0].Content != "live hello" || snapshot[0].User.Nickname != "신부친구" {
			t.Fatalf("unexpected snapshot head %#v", snapshot[0])
		}
		return
	}
}

func TestMessageStreamSendsHeartbeat(t *testing.T) {
	fixture := newServerFixture(t, func(deps *Dependencies) {
		deps.HeartbeatInterval = 20 * time.Millisecond
	})
	server := httptest.NewServer(fixture.handler)
	t.Cleanup(server.Close)

	streamResp, err := http.Get(server.URL + "/messages/stream")
	if err != nil {
		t.Fatalf("failed to open stream: %v", err)
	}
	t.Cleanup(func() {
		_ = streamResp.Body.Close()
	})

	events := readEvents(t, bufio.NewReader(streamResp.Body))
	deadline := time.After(5 * time.Second)
	for {
		select {
		case <-deadline:
			t.Fatal("no heartbeat received")
		case event, ok := <-events:
			if !ok {
				t.Fatal("stream closed early")
			}
			if event.name == realtimeEventHeartbeat {
				return
			}
		}
	}
}
