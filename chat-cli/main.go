// Command chat-cli is a terminal client for the aztec-room bus. It joins a
// room, polls history through the sync library, relays typing hints over the
// broadcast channel and supports direct-message threads.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/Seuncoded/aztec-room/pkg/chatclient"
)

const defaultRoom = "general"

var (
	handleAdjs    = []string{"silent", "mellow", "cosmic", "lucky", "shadow", "iron", "mystic", "steady"}
	handleAnimals = []string{"bear", "tiger", "wolf", "owl", "lynx", "otter", "fox", "eagle"}
)

// newHandle mints a throwaway session identity, e.g. "shadow-owl-412".
func newHandle() string {
	adj := handleAdjs[rand.Intn(len(handleAdjs))]
	animal := handleAnimals[rand.Intn(len(handleAnimals))]
	return fmt.Sprintf("%s-%s-%d", adj, animal, rand.Intn(900)+100)
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

type app struct {
	handle      string
	rooms       *chatclient.RoomSync
	dms         *chatclient.DMSync
	broadcaster *chatclient.TypingBroadcaster
	watcher     *chatclient.TypingWatcher
	nc          *nats.Conn

	mu         sync.Mutex
	rendered   int // room messages already printed
	dmRendered int
	inDm       bool
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	natsURL := envOrDefault("NATS_URL", nats.DefaultURL)
	nc, err := nats.Connect(natsURL,
		nats.UserInfo(os.Getenv("NATS_USER"), os.Getenv("NATS_PASSWORD")),
		nats.Timeout(5*time.Second))
	if err != nil {
		slog.Error("connect to nats", "url", natsURL, "error", err)
		os.Exit(1)
	}
	defer nc.Drain()

	handle := envOrDefault("CHAT_HANDLE", newHandle())
	backend := chatclient.NewNatsBackend(nc)

	a := &app{handle: handle, nc: nc}
	a.broadcaster = chatclient.NewTypingBroadcaster(nc, handle)
	a.watcher = chatclient.NewTypingWatcher(handle, func(active []string) {
		if len(active) > 0 {
			fmt.Printf("  * typing: %s\n", strings.Join(active, ", "))
		}
	})
	a.rooms = chatclient.NewRoomSync(backend, handle,
		chatclient.WithOnUpdate(a.renderRoom),
		chatclient.WithOnError(func(err error) { slog.Warn("poll failed", "error", err) }))
	a.dms = chatclient.NewDMSync(backend, handle,
		chatclient.WithDmOnUpdate(a.renderDm),
		chatclient.WithDmOnError(func(err error) { slog.Warn("dm poll failed", "error", err) }))

	fmt.Printf("you are @%s\n", handle)
	fmt.Println("commands: /join <room>  /dm <handle>  /leave  /quit")
	a.join(defaultRoom)

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			if !a.command(line) {
				break
			}
			continue
		}
		a.say(line)
	}

	a.rooms.Stop()
	a.dms.Close()
	a.watcher.Detach()
}

func (a *app) join(room string) {
	room = strings.ToLower(strings.TrimSpace(room))
	if room == "" {
		return
	}
	a.mu.Lock()
	a.inDm = false
	a.rendered = 0
	a.mu.Unlock()
	fmt.Printf("-- joined #%s --\n", room)
	a.rooms.Switch(room)
	if err := a.watcher.Attach(a.nc, room); err != nil {
		slog.Warn("typing watch unavailable", "room", room, "error", err)
	}
}

func (a *app) command(line string) bool {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/q":
		return false
	case "/join":
		if len(fields) < 2 {
			fmt.Println("usage: /join <room>")
			return true
		}
		a.dms.Close()
		a.join(fields[1])
	case "/dm":
		if len(fields) < 2 {
			fmt.Println("usage: /dm <handle>")
			return true
		}
		a.mu.Lock()
		a.inDm = true
		a.dmRendered = 0
		a.mu.Unlock()
		fmt.Printf("-- dm with @%s (/leave to return) --\n", fields[1])
		a.dms.Open(fields[1])
	case "/leave":
		a.dms.Close()
		a.mu.Lock()
		a.inDm = false
		a.mu.Unlock()
		fmt.Printf("-- back in #%s --\n", a.rooms.Room())
	default:
		fmt.Printf("unknown command %s\n", fields[0])
	}
	return true
}

func (a *app) say(text string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	a.mu.Lock()
	inDm := a.inDm
	a.mu.Unlock()
	if inDm {
		if err := a.dms.Send(ctx, text); err != nil {
			fmt.Printf("!! not sent: %v\n", err)
		}
		return
	}
	a.broadcaster.Announce(a.rooms.Room())
	if err := a.rooms.Send(ctx, text); err != nil {
		fmt.Printf("!! not sent: %v\n", err)
	}
}

func (a *app) renderRoom() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.inDm {
		return
	}
	msgs := a.rooms.Messages()
	if a.rendered > len(msgs) {
		a.rendered = 0
	}
	for _, m := range msgs[a.rendered:] {
		who := m.Handle
		if who == "" {
			who = "anon"
		}
		fmt.Printf("[%s] @%s: %s\n", m.Room, who, m.Text)
	}
	a.rendered = len(msgs)
}

func (a *app) renderDm() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.inDm {
		return
	}
	msgs := a.dms.Messages()
	if a.dmRendered > len(msgs) {
		a.dmRendered = 0
	}
	for _, m := range msgs[a.dmRendered:] {
		fmt.Printf("(dm) @%s: %s\n", m.FromHandle, m.Text)
	}
	a.dmRendered = len(msgs)
}
