package gateway

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"

	"github.com/rahul/toolflow/internal/agent"
	"golang.org/x/term"
)

// ConsoleChatID is the entity id of the local console user.
const ConsoleChatID = "console"

// ConsoleGateway chats over stdin/stdout. On a terminal it switches to raw
// mode for line editing and history.
type ConsoleGateway struct {
	Agent agent.Agent
	In    io.Reader
	Out   io.Writer

	mu       sync.Mutex
	restore  func()
	readLine func() (string, error)
	write    io.Writer
}

func NewConsoleGateway(a agent.Agent) *ConsoleGateway {
	return &ConsoleGateway{Agent: a, In: os.Stdin, Out: os.Stdout}
}

func (c *ConsoleGateway) Start(ctx context.Context) error {
	if err := c.open(); err != nil {
		return err
	}
	defer c.Stop()

	fmt.Fprintln(c.write, "Type a request, or /quit to exit.")
	for ctx.Err() == nil {
		line, err := c.readLine()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "/quit" || line == "/exit" {
			return nil
		}

		err = c.Agent.Handle(ctx, ConsoleChatID, line, func(_ context.Context, text string) error {
			return c.Send(ConsoleChatID, text)
		})
		if err != nil {
			log.Printf("Error handling console message: %v", err)
			_ = c.Send(ConsoleChatID, troubleReply)
		}
	}
	return nil
}

func (c *ConsoleGateway) open() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if f, ok := c.In.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		state, err := term.MakeRaw(int(f.Fd()))
		if err != nil {
			return fmt.Errorf("console: %w", err)
		}
		t := term.NewTerminal(struct {
			io.Reader
			io.Writer
		}{c.In, c.Out}, "> ")
		c.restore = func() { _ = term.Restore(int(f.Fd()), state) }
		c.readLine = t.ReadLine
		c.write = t
		return nil
	}

	scanner := bufio.NewScanner(c.In)
	c.readLine = func() (string, error) {
		if scanner.Scan() {
			return scanner.Text(), nil
		}
		if err := scanner.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	c.write = c.Out
	return nil
}

// Send prints text. The chat id is ignored since there is one console user.
func (c *ConsoleGateway) Send(_ string, text string) error {
	c.mu.Lock()
	w := c.write
	c.mu.Unlock()
	if w == nil {
		w = c.Out
	}
	_, err := fmt.Fprintf(w, "%s\n\n", text)
	return err
}

func (c *ConsoleGateway) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.restore != nil {
		c.restore()
		c.restore = nil
	}
	return nil
}
