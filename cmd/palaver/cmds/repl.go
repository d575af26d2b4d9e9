package cmds

import (
	"bufio"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"strings"

	"github.com/go-go-golems/palaver/pkg/chat"
	"github.com/go-go-golems/palaver/pkg/conversation"
	"github.com/go-go-golems/palaver/pkg/identity"
	"github.com/go-go-golems/palaver/pkg/session"
	"github.com/pkg/errors"
)

const replHelp = `commands:
  /new              start a new conversation
  /list             list conversations
  /switch <id>      switch to a conversation
  /delete <id>      delete a conversation
  /clear            replace the current conversation with an empty one
  /login <user>     sign in as user
  /logout           sign out
  /export [file]    write all conversations as YAML (stdout without file)
  /help             show this help
  /quit             leave
anything else is sent as a user message`

// REPL is the line-oriented chat front end. It owns no state of its own;
// everything lives in the store.
type REPL struct {
	store   *session.Store
	runner  *chat.Runner
	tracker *identity.Tracker
}

func NewREPL(store *session.Store, runner *chat.Runner, tracker *identity.Tracker) *REPL {
	return &REPL{store: store, runner: runner, tracker: tracker}
}

func (r *REPL) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	r.prompt(out)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			r.prompt(out)
			continue
		}
		quit, err := r.handle(ctx, line, out)
		if err != nil {
			fmt.Fprintf(out, "error: %s\n", err)
		}
		if quit {
			return nil
		}
		r.prompt(out)
	}
	return scanner.Err()
}

func (r *REPL) prompt(out io.Writer) {
	user := "-"
	if id := r.tracker.Current(); id != nil {
		user = id.UserID
	}
	title := "no conversation"
	if c, ok := r.store.CurrentConversation(); ok {
		title = c.Title
	}
	fmt.Fprintf(out, "%s @ %s> ", user, title)
}

func (r *REPL) handle(ctx context.Context, line string, out io.Writer) (bool, error) {
	if !strings.HasPrefix(line, "/") {
		return false, r.send(ctx, line, out)
	}

	fields := strings.Fields(line)
	arg := ""
	if len(fields) > 1 {
		arg = fields[1]
	}

	switch fields[0] {
	case "/quit", "/exit":
		return true, nil
	case "/help":
		fmt.Fprintln(out, replHelp)
	case "/new":
		c, err := r.store.CreateConversation(ctx)
		if c != nil {
			fmt.Fprintf(out, "new conversation %s\n", c.ID)
		}
		return false, err
	case "/list":
		r.list(out)
	case "/switch":
		if arg == "" {
			return false, errors.New("usage: /switch <id>")
		}
		c, err := r.store.SwitchConversation(conversation.ID(arg))
		if err != nil {
			return false, err
		}
		r.printTranscript(c, out)
	case "/delete":
		if arg == "" {
			return false, errors.New("usage: /delete <id>")
		}
		if err := r.store.DeleteConversation(ctx, conversation.ID(arg)); err != nil {
			return false, err
		}
		fmt.Fprintf(out, "deleted %s\n", arg)
	case "/clear":
		_, err := r.store.ClearCurrentConversation(ctx)
		return false, err
	case "/login":
		id, err := identity.Parse(arg)
		if err != nil {
			return false, err
		}
		_, err = r.tracker.Set(ctx, id)
		return false, err
	case "/logout":
		_, err := r.tracker.Set(ctx, nil)
		return false, err
	case "/export":
		list := r.store.ListConversations()
		if arg == "" {
			return false, conversation.WriteTranscript(out, conversation.TranscriptYAML, list)
		}
		if err := conversation.SaveTranscript(arg, list); err != nil {
			return false, err
		}
		fmt.Fprintf(out, "exported %d conversations to %s\n", len(list), arg)
	default:
		return false, errors.Errorf("unknown command %s, try /help", fields[0])
	}
	return false, nil
}

func (r *REPL) send(ctx context.Context, line string, out io.Writer) error {
	c, err := r.runner.Send(ctx, line)
	if c != nil {
		if last, ok := c.LastMessage(); ok && last.Role == conversation.RoleAssistant {
			fmt.Fprintf(out, "%s\n", last.Content)
		}
	}
	if stderrors.Is(err, conversation.ErrProviderError) {
		// already shown as the assistant's message
		return nil
	}
	return err
}

func (r *REPL) list(out io.Writer) {
	current, _ := r.store.CurrentConversation()
	for _, c := range r.store.ListConversations() {
		marker := " "
		if current != nil && c.ID == current.ID {
			marker = "*"
		}
		fmt.Fprintf(out, "%s %s  %-50s  %d messages\n", marker, c.ID, c.Title, len(c.Messages))
	}
}

func (r *REPL) printTranscript(c *conversation.Conversation, out io.Writer) {
	fmt.Fprintf(out, "== %s ==\n", c.Title)
	for _, m := range c.Messages {
		fmt.Fprintln(out, m.String())
	}
}
