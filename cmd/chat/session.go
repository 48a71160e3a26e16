package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"sage-app/internal/sse"
)

// errTurnFailed marks a turn that ended with an error event or a dropped stream
var errTurnFailed = errors.New("turn failed")

// attempt is one request that produced a Sage turn. It is kept so a failed
// turn can be retried by hand.
type attempt struct {
	message   *string
	action    string
	messageID string
}

// Session is the client-side state of one conversation
type Session struct {
	client         *Client
	out            io.Writer
	conversationID string

	last    *attempt
	pending *sse.Event
}

// NewSession creates a session that prints to out
func NewSession(client *Client, conversationID string, out io.Writer) *Session {
	return &Session{client: client, conversationID: conversationID, out: out}
}

// Send sends a user message. A nil message asks Sage to open the session.
func (s *Session) Send(ctx context.Context, message *string) error {
	return s.run(ctx, &attempt{message: message})
}

// Decide answers the pending checkpoint
func (s *Session) Decide(ctx context.Context, action string) error {
	if s.pending == nil {
		return errors.New("no checkpoint is waiting for a decision")
	}
	return s.run(ctx, &attempt{action: action, messageID: s.pending.MessageID})
}

// Retry resends the last attempt. It never runs on its own.
func (s *Session) Retry(ctx context.Context) error {
	if s.last == nil {
		return errors.New("nothing to retry")
	}
	return s.run(ctx, s.last)
}

func (s *Session) run(ctx context.Context, a *attempt) error {
	s.last = a

	var completed, failed bool
	h := sse.Handlers{
		OnTextDelta: func(text string) {
			fmt.Fprint(s.out, text)
		},
		OnMessageComplete: func(e sse.Event) {
			completed = true
			s.conversationID = e.ConversationID
			fmt.Fprintf(s.out, "\n  (%s)\n", e.ProcessingText)

			s.pending = nil
			if e.Checkpoint != nil && e.Checkpoint.IsCheckpoint {
				ev := e
				s.pending = &ev
				fmt.Fprintf(s.out, "  checkpoint: %s\n", describeCheckpoint(e.Checkpoint))
				fmt.Fprintln(s.out, "  answer with /confirm, /reject or /refine")
			}
		},
		OnError: func(message string) {
			failed = true
			fmt.Fprintf(s.out, "\n! %s\n  type /retry to try again\n", message)
		},
	}

	var err error
	if a.action != "" {
		err = s.client.Confirm(ctx, a.messageID, a.action, s.conversationID, h)
	} else {
		err = s.client.Chat(ctx, a.message, s.conversationID, h)
	}
	if err != nil {
		fmt.Fprintf(s.out, "! %v\n  type /retry to try again\n", err)
		return fmt.Errorf("%w: %v", errTurnFailed, err)
	}

	if !completed && !failed {
		fmt.Fprintln(s.out, "\n! Connection lost before Sage finished.\n  type /retry to try again")
		failed = true
	}
	if failed {
		return errTurnFailed
	}
	s.last = nil
	return nil
}

func describeCheckpoint(c *sse.Checkpoint) string {
	desc := fmt.Sprintf("layer %d %s", c.Layer, c.Type)
	if c.Name != nil {
		desc += fmt.Sprintf(" %q", *c.Name)
	}
	return desc
}

// Loop reads lines from in until EOF or /quit
func (s *Session) Loop(ctx context.Context, in io.Reader) error {
	sc := bufio.NewScanner(in)
	fmt.Fprint(s.out, "> ")
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "/quit" {
			return nil
		}
		if line != "" {
			// Failed turns are already reported
			_ = s.command(ctx, line)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		fmt.Fprint(s.out, "> ")
	}
	return sc.Err()
}

func (s *Session) command(ctx context.Context, line string) error {
	switch line {
	case "/retry":
		return s.report(s.Retry(ctx))
	case "/confirm":
		return s.report(s.Decide(ctx, "confirmed"))
	case "/reject":
		return s.report(s.Decide(ctx, "rejected"))
	case "/refine":
		return s.report(s.Decide(ctx, "refined"))
	case "/manual":
		return s.report(s.printManual(ctx))
	case "/summary":
		return s.report(s.printSummary(ctx))
	}
	if strings.HasPrefix(line, "/") {
		fmt.Fprintln(s.out, "commands: /confirm /reject /refine /retry /manual /summary /quit")
		return nil
	}
	return s.Send(ctx, &line)
}

// report prints errors that run did not already print
func (s *Session) report(err error) error {
	if err != nil && !errors.Is(err, errTurnFailed) {
		fmt.Fprintf(s.out, "! %v\n", err)
	}
	return err
}

func (s *Session) printManual(ctx context.Context) error {
	m, err := s.client.Manual(ctx)
	if err != nil {
		return err
	}
	if len(m.Components) == 0 {
		fmt.Fprintln(s.out, "  your manual is empty")
	}
	for _, c := range m.Components {
		name := ""
		if c.Name != nil {
			name = " " + *c.Name
		}
		fmt.Fprintf(s.out, "  [layer %d %s%s] %s\n", c.Layer, c.Type, name, c.Content)
	}
	if m.GateReached {
		fmt.Fprintln(s.out, "  every layer has a confirmed component")
	}
	return nil
}

func (s *Session) printSummary(ctx context.Context) error {
	if s.conversationID == "" {
		return errors.New("no conversation yet")
	}
	summary, err := s.client.Summarize(ctx, s.conversationID)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "  %s\n", summary)
	return nil
}
