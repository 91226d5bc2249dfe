package guestbook

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/serandev/seran-sjune/internal/messages"
	"go.uber.org/zap"
)

const (
	streamPath          = "/messages/stream"
	streamEventMessages = "messages"
	maxStreamLineBytes  = 4 << 20
)

// Watch streams the message list until ctx ends. callback receives every snapshot, newest first.
// A malformed snapshot or a broken stream is reported to callback as an empty list; a broken
// stream also ends Watch with ErrTransient. Watch returns nil when ctx is cancelled.
func (c *Client) Watch(ctx context.Context, callback func([]messages.MessageWithUser)) error {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+streamPath, http.NoBody)
	if err != nil {
		return err
	}
	request.Header.Set("Accept", "text/event-stream")
	request.Header.Set("Cache-Control", "no-cache")

	response, err := c.streamer.Do(request)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		callback([]messages.MessageWithUser{})
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		callback([]messages.MessageWithUser{})
		return fmt.Errorf("%w: stream returned %d", ErrTransient, response.StatusCode)
	}

	scanner := bufio.NewScanner(response.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxStreamLineBytes)

	var event string
	var data strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			c.dispatchEvent(event, data.String(), callback)
			event = ""
			data.Reset()
			continue
		}
		field, value := parseStreamLine(line)
		switch field {
		case "event":
			event = value
		case "data":
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(value)
		}
	}

	if ctx.Err() != nil {
		return nil
	}
	callback([]messages.MessageWithUser{})
	if err := scanner.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	return fmt.Errorf("%w: stream closed", ErrTransient)
}

func (c *Client) dispatchEvent(event, data string, callback func([]messages.MessageWithUser)) {
	if event != streamEventMessages || data == "" {
		return
	}
	var snapshot []messages.MessageWithUser
	if err := json.Unmarshal([]byte(data), &snapshot); err != nil {
		c.logger.Warn("malformed message snapshot", zap.Error(err))
		callback([]messages.MessageWithUser{})
		return
	}
	if snapshot == nil {
		snapshot = []messages.MessageWithUser{}
	}
	callback(snapshot)
}

// parseStreamLine splits an event stream line into field and value. Comment lines yield an empty field.
func parseStreamLine(line string) (string, string) {
	if strings.HasPrefix(line, ":") {
		return "", ""
	}
	field, value, found := strings.Cut(line, ":")
	if !found {
		return field, ""
	}
	return field, strings.TrimPrefix(value, " ")
}
