package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/xiaot623/aichat/client"
	"github.com/xiaot623/aichat/protocol"
)

const (
	modeHTTP   = "http"
	modeStream = "stream"
	modeWS     = "ws"
)

// console holds one conversation with the endpoint.
type console struct {
	client  *client.Client
	out     io.Writer
	mode    string
	session *uuid.UUID
	context []byte
}

func newConsoleWith(c *client.Client, out io.Writer, mode string) *console {
	return &console{client: c, out: out, mode: mode}
}

// repl reads one message per line until EOF, /quit or cancellation.
func (c *console) repl(ctx context.Context, in io.Reader) error {
	fmt.Fprintln(c.out, "Type a message and press Enter to send.")
	fmt.Fprintln(c.out, "Commands: /reset to start a new session, /session to show it, /quit to exit")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		fmt.Fprint(c.out, "> ")
		var line string
		select {
		case <-ctx.Done():
			fmt.Fprintln(c.out, "\nInterrupted")
			return nil
		case l, ok := <-lines:
			if !ok {
				return nil
			}
			line = strings.TrimSpace(l)
		}

		switch line {
		case "":
			continue
		case "/quit":
			fmt.Fprintln(c.out, "Bye!")
			return nil
		case "/reset":
			c.session, c.context = nil, nil
			fmt.Fprintln(c.out, "Session reset.")
			continue
		case "/session":
			if c.session == nil {
				fmt.Fprintln(c.out, "No session yet.")
			} else {
				fmt.Fprintf(c.out, "Session: %s\n", c.session)
			}
			continue
		}

		if err := c.ask(ctx, line, nil); err != nil {
			if protocol.IsCancelled(err) {
				fmt.Fprintln(c.out, "\nInterrupted")
				return nil
			}
			fmt.Fprintf(c.out, "error: %v\n", err)
		}
	}
}

// ask sends content as the next user message and prints the reply.
func (c *console) ask(ctx context.Context, content string, files []protocol.Attachment) error {
	req := protocol.NewRequest(protocol.Message{
		Role:    protocol.RoleUser,
		Content: content,
		Files:   files,
	}).WithSessionState(c.session)
	req.Context = c.context

	var (
		completion *protocol.Completion
		err        error
	)
	switch c.mode {
	case modeStream, modeWS:
		completion, err = c.stream(ctx, req)
	default:
		completion, err = c.client.Complete(ctx, req)
		if err == nil {
			fmt.Fprintln(c.out, completion.Message.Content)
		}
	}
	if err != nil {
		return err
	}

	if completion.SessionState != nil {
		c.session = completion.SessionState
	}
	c.context = completion.Context
	return nil
}

func (c *console) stream(ctx context.Context, req *protocol.Request) (*protocol.Completion, error) {
	var (
		s   *client.Stream
		err error
	)
	if c.mode == modeWS {
		s, err = c.client.CompleteStreamingWS(ctx, req)
	} else {
		s, err = c.client.CompleteStreaming(ctx, req)
	}
	if err != nil {
		return nil, err
	}
	defer s.Close()

	for d, err := range s.Deltas() {
		if err != nil {
			fmt.Fprintln(c.out)
			return nil, err
		}
		fmt.Fprint(c.out, d.Delta.Content)
	}
	fmt.Fprintln(c.out)
	return s.Completion(), nil
}

func readAttachments(paths []string) ([]protocol.Attachment, error) {
	var out []protocol.Attachment
	for _, p := range paths {
		a, err := readAttachment(p)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func readAttachment(path string) (protocol.Attachment, error) {
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return protocol.Attachment{}, fmt.Errorf("detect content type of %s: %w", path, err)
	}
	f, err := os.Open(path)
	if err != nil {
		return protocol.Attachment{}, err
	}
	defer f.Close()

	return protocol.NewAttachment(filepath.Base(path), mt.String(), f)
}
