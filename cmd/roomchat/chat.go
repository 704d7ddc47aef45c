package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/cortexuvula/roomchat/internal/config"
	"github.com/cortexuvula/roomchat/internal/logging"
	"github.com/cortexuvula/roomchat/internal/render"
	"github.com/cortexuvula/roomchat/internal/session"
)

const clearScreen = "\033[H\033[2J"

// console redraws the whole view on every update.
type console struct {
	mu  sync.Mutex
	out io.Writer
}

func (c *console) draw(v session.View) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprint(c.out, clearScreen)
	render.Text(c.out, v)
	if v.InRoom {
		fmt.Fprint(c.out, "> ")
	} else {
		fmt.Fprint(c.out, "Enter your name: ")
	}
}

func (c *console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

func runChat(configPath, name string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Log lines would interleave with the transcript, so they only go to a file.
	lj := logging.Setup(cfg.Logging, io.Discard)
	if lj != nil {
		defer lj.Close()
	}

	e, err := newEngine(cfg, nil, nil)
	if err != nil {
		return err
	}
	defer e.shutdown()

	con := &console{out: os.Stdout}
	e.sess.OnUpdate(con.draw)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if name == "" {
		name = cfg.Identity.Name
	}
	e.start(ctx, name)
	con.draw(e.sess.View())

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := handleLine(e.sess, con, line); quit {
				return nil
			}
		}
	}
}

// handleLine applies one line of input. It reports whether the user asked
// to quit.
func handleLine(sess *session.Session, con *console, line string) bool {
	line = strings.TrimSpace(line)
	v := sess.View()

	switch line {
	case "":
		con.draw(v)
		return false
	case "/quit":
		return true
	case "/logout":
		sess.Logout()
		con.draw(sess.View())
		return false
	case "/who":
		con.printf("Online: %s\n> ", strings.Join(render.PresenceLines(v.Presence), ", "))
		return false
	}

	if !v.InRoom {
		if !sess.Login(line) {
			con.printf("Name rejected.\nEnter your name: ")
		}
		return false
	}

	if !sess.SendMessage(line) {
		con.printf("Message not sent.\n> ")
	}
	return false
}
