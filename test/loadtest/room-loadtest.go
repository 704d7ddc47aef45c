// Room load generator for a roomchat relay.
// Usage: go run ./test/loadtest -url ws://127.0.0.1:3001/chat -clients 50 -duration 60s
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/cortexuvula/roomchat/internal/protocol"
)

type counters struct {
	joined       atomic.Int64
	sent         atomic.Int64
	messages     atomic.Int64
	presence     atomic.Int64
	typing       atomic.Int64
	malformed    atomic.Int64
	errors       atomic.Int64
	connectFails atomic.Int64
}

func main() {
	url := flag.String("url", "ws://127.0.0.1:3001/chat", "Relay WebSocket URL")
	clients := flag.Int("clients", 10, "Number of concurrent room members")
	duration := flag.Duration("duration", 30*time.Second, "Test duration")
	interval := flag.Duration("interval", time.Second, "Message send interval per client")
	withTyping := flag.Bool("typing", true, "Announce typing before each message")
	flag.Parse()

	fmt.Printf("roomchat relay load test\n")
	fmt.Printf("  URL:          %s\n", *url)
	fmt.Printf("  Clients:      %d\n", *clients)
	fmt.Printf("  Duration:     %s\n", *duration)
	fmt.Printf("  Msg interval: %s\n", *interval)
	fmt.Println()

	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		cancel()
	}()

	var c counters
	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < *clients; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			member(ctx, *url, fmt.Sprintf("load-%03d", id), *interval, *withTyping, &c)
		}(i)
	}

	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fmt.Printf("[%s] joined=%d sent=%d messages=%d presence=%d typing=%d errors=%d\n",
					time.Since(start).Round(time.Second), c.joined.Load(), c.sent.Load(),
					c.messages.Load(), c.presence.Load(), c.typing.Load(), c.errors.Load())
			}
		}
	}()

	wg.Wait()
	elapsed := time.Since(start)

	fmt.Println()
	fmt.Println("Results:")
	fmt.Printf("  Duration:        %s\n", elapsed.Round(time.Millisecond))
	fmt.Printf("  Joined:          %d / %d\n", c.joined.Load(), *clients)
	fmt.Printf("  Connect fails:   %d\n", c.connectFails.Load())
	fmt.Printf("  Messages sent:   %d\n", c.sent.Load())
	fmt.Printf("  Messages recv:   %d\n", c.messages.Load())
	fmt.Printf("  Presence events: %d\n", c.presence.Load())
	fmt.Printf("  Typing events:   %d\n", c.typing.Load())
	fmt.Printf("  Malformed:       %d\n", c.malformed.Load())
	fmt.Printf("  Errors:          %d\n", c.errors.Load())
	if elapsed.Seconds() > 0 {
		fmt.Printf("  Send rate:       %.1f msg/s\n", float64(c.sent.Load())/elapsed.Seconds())
		fmt.Printf("  Fan-out rate:    %.1f msg/s\n", float64(c.messages.Load())/elapsed.Seconds())
	}

	if c.connectFails.Load() > 0 || c.errors.Load() > 0 {
		log.Fatal("Load test completed with errors")
	}
}

// member joins the room as name and chats until ctx ends.
func member(ctx context.Context, url, name string, interval time.Duration, withTyping bool, c *counters) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		c.connectFails.Add(1)
		return
	}
	defer conn.CloseNow()

	send := func(event string, payload any) bool {
		frame, err := protocol.Encode(event, payload)
		if err != nil {
			c.errors.Add(1)
			return false
		}
		if err := conn.Write(ctx, websocket.MessageText, frame); err != nil {
			if ctx.Err() == nil {
				c.errors.Add(1)
			}
			return false
		}
		return true
	}

	go func() {
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			env, err := protocol.Decode(data)
			if err != nil {
				c.malformed.Add(1)
				continue
			}
			switch env.Event {
			case protocol.EventMessage:
				c.messages.Add(1)
			case protocol.EventJoin, protocol.EventUserJoined, protocol.EventUserLeft:
				c.presence.Add(1)
			case protocol.EventTyping:
				c.typing.Add(1)
			}
		}
	}()

	if !send(protocol.EventFindAllMessages, nil) || !send(protocol.EventJoin, protocol.NamePayload{Name: name}) {
		return
	}
	c.joined.Add(1)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for n := 1; ; n++ {
		select {
		case <-ctx.Done():
			// Best-effort leave on a fresh context; ctx is already done.
			lctx, lcancel := context.WithTimeout(context.Background(), time.Second)
			if frame, err := protocol.Encode(protocol.EventLeave, protocol.NamePayload{Name: name}); err == nil {
				conn.Write(lctx, websocket.MessageText, frame)
			}
			lcancel()
			conn.Close(websocket.StatusNormalClosure, "load test done")
			return
		case <-ticker.C:
			if withTyping && !send(protocol.EventTyping, protocol.TypingPayload{IsTyping: true, Name: name}) {
				return
			}
			if !send(protocol.EventCreateMessage, protocol.CreateMessagePayload{Name: name, Message: fmt.Sprintf("message %d from %s", n, name)}) {
				return
			}
			c.sent.Add(1)
			if withTyping && !send(protocol.EventTyping, protocol.TypingPayload{IsTyping: false, Name: name}) {
				return
			}
		}
	}
}
