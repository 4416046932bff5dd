// Package chatclient implements the client half of the aztec-room sync
// protocol: interval polling of room and DM history over a pull-only
// transport, optimistic sends, unread-boundary tracking, and broadcast
// typing indicators with client-local expiry.
package chatclient

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/Seuncoded/aztec-room/pkg/telemetry"
)

const (
	// RoomPollInterval is the cadence of the room history poll loop.
	RoomPollInterval = 2500 * time.Millisecond
	// DmPollInterval is the slower cadence for DM threads.
	DmPollInterval = 5 * time.Second

	// MaxTextLen mirrors the store-side cap; the client refuses to submit
	// anything longer and never submits whitespace-only text.
	MaxTextLen = 2000

	defaultPollLimit = 100
)

// Message is a room message as returned by the store.
type Message struct {
	Id        string `json:"id"`
	Room      string `json:"room"`
	Handle    string `json:"handle,omitempty"`
	Text      string `json:"text"`
	CreatedAt string `json:"created_at"`
}

// DmMessage is a direct message within a two-party thread.
type DmMessage struct {
	Id         string `json:"id"`
	ThreadId   string `json:"thread_id"`
	FromHandle string `json:"from_handle"`
	ToHandle   string `json:"to_handle"`
	Text       string `json:"text"`
	CreatedAt  string `json:"created_at"`
}

// Backend is the store surface the sync loops poll against. Implementations
// must be safe for concurrent use; every call honors context cancellation.
type Backend interface {
	History(ctx context.Context, room string, limit int) ([]Message, error)
	Send(ctx context.Context, room, handle, text string) (Message, error)
	DmHistory(ctx context.Context, me, with string, limit int) ([]DmMessage, error)
	DmSend(ctx context.Context, from, to, text string) (DmMessage, error)
}

// NatsBackend implements Backend over the chat bus subjects.
type NatsBackend struct {
	nc *nats.Conn
}

func NewNatsBackend(nc *nats.Conn) *NatsBackend {
	return &NatsBackend{nc: nc}
}

func (b *NatsBackend) request(ctx context.Context, subject string, payload, out any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	reply, err := telemetry.Request(ctx, b.nc, subject, data)
	if err != nil {
		return fmt.Errorf("request %s: %w", subject, err)
	}
	var probe struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(reply.Data, &probe) == nil && probe.Error != "" {
		return fmt.Errorf("%s: %s", subject, probe.Error)
	}
	return json.Unmarshal(reply.Data, out)
}

func (b *NatsBackend) History(ctx context.Context, room string, limit int) ([]Message, error) {
	var resp struct {
		Items []Message `json:"items"`
	}
	err := b.request(ctx, "chat.history."+room, map[string]int{"limit": limit}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Items, nil
}

func (b *NatsBackend) Send(ctx context.Context, room, handle, text string) (Message, error) {
	var resp struct {
		Item Message `json:"item"`
	}
	err := b.request(ctx, "chat.send."+room,
		map[string]string{"handle": handle, "text": text}, &resp)
	return resp.Item, err
}

func (b *NatsBackend) DmHistory(ctx context.Context, me, with string, limit int) ([]DmMessage, error) {
	var resp struct {
		Items []DmMessage `json:"items"`
	}
	err := b.request(ctx, "dm.history",
		map[string]any{"me": me, "with": with, "limit": limit}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Items, nil
}

func (b *NatsBackend) DmSend(ctx context.Context, from, to, text string) (DmMessage, error) {
	var resp struct {
		Item DmMessage `json:"item"`
	}
	err := b.request(ctx, "dm.send",
		map[string]string{"from": from, "to": to, "text": text}, &resp)
	return resp.Item, err
}
