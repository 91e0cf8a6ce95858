package pocketbase

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Event is one realtime record change.
type Event struct {
	Topic  string          `json:"-"`
	Action string          `json:"action"`
	Record json.RawMessage `json:"record"`
}

type sseEvent struct {
	ID   string
	Name string
	Data string
}

// Subscribe opens the realtime stream and subscribes to topics such as
// "ranking/<id>". The channel closes when ctx ends or the stream drops.
func (c *Client) Subscribe(ctx context.Context, topics ...string) (<-chan Event, error) {
	if len(topics) == 0 {
		return nil, errors.New("subscribe: no topics")
	}
	req, err := c.newRequest(ctx, http.MethodGet, "/api/realtime", nil, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := c.stream.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode/100 != 2 {
		resp.Body.Close()
		return nil, &APIError{Status: resp.StatusCode, Message: "realtime connect failed"}
	}

	rd := bufio.NewReader(resp.Body)
	first, err := readEvent(rd)
	if err != nil {
		resp.Body.Close()
		return nil, fmt.Errorf("realtime handshake: %w", err)
	}
	var hello struct {
		ClientID string `json:"clientId"`
	}
	if first.Name != "PB_CONNECT" || json.Unmarshal([]byte(first.Data), &hello) != nil || hello.ClientID == "" {
		resp.Body.Close()
		return nil, fmt.Errorf("realtime handshake: unexpected event %q", first.Name)
	}

	body := map[string]any{"clientId": hello.ClientID, "subscriptions": topics}
	if err := c.do(ctx, http.MethodPost, "/api/realtime", nil, body, nil); err != nil {
		resp.Body.Close()
		return nil, fmt.Errorf("realtime subscribe: %w", err)
	}

	wanted := make(map[string]bool, len(topics))
	for _, t := range topics {
		wanted[t] = true
	}
	out := make(chan Event, 8)
	go func() {
		defer close(out)
		defer resp.Body.Close()
		go func() {
			<-ctx.Done()
			resp.Body.Close()
		}()
		for {
			ev, err := readEvent(rd)
			if err != nil {
				return
			}
			if !wanted[ev.Name] {
				continue
			}
			var e Event
			if err := json.Unmarshal([]byte(ev.Data), &e); err != nil {
				continue
			}
			e.Topic = ev.Name
			select {
			case out <- e:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// readEvent reads one server-sent event terminated by a blank line.
func readEvent(rd *bufio.Reader) (sseEvent, error) {
	var ev sseEvent
	var data []string
	seen := false
	for {
		line, err := rd.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) && seen {
				ev.Data = strings.Join(data, "\n")
				return ev, nil
			}
			return ev, err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			if !seen {
				continue
			}
			ev.Data = strings.Join(data, "\n")
			return ev, nil
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		seen = true
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "id":
			ev.ID = value
		case "event":
			ev.Name = value
		case "data":
			data = append(data, value)
		}
	}
}
