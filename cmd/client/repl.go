package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/vovakirdan/mchat/internal/client"
	"github.com/vovakirdan/mchat/internal/core"
)

const helpText = `commands:
  /list                   list chats
  /new <name> [desc]      create a chat
  /join <name>            subscribe to a chat
  /image <path>           send an image
  /file <path>            send a file
  /get <id> [out]         download a file
  /history                show cached messages of the current chat
  /help                   show this help
  /quit                   exit
anything else is sent as a text message`

// repl reads commands from in and prints replies to out. Callbacks arrive on
// the dispatcher goroutine, so every write goes through printf.
type repl struct {
	c   *client.Client
	in  io.Reader
	mu  sync.Mutex
	out io.Writer
}

func newREPL(c *client.Client, in io.Reader, out io.Writer) *repl {
	return &repl{c: c, in: in, out: out}
}

func (r *repl) printf(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.out, format+"\n", args...)
}

func (r *repl) printMessage(msg core.Message) {
	ts := msg.Time().Local().Format(time.TimeOnly)
	switch msg.Type {
	case core.MessageText:
		r.printf("[%s] #%d <%s> %s", ts, msg.ID, msg.Sender, msg.Body)
	default:
		r.printf("[%s] #%d <%s> sent %s %q (%d bytes, /get %d)", ts, msg.ID, msg.Sender, msg.Type, msg.Body, msg.Payload.Len(), msg.ID)
	}
}

func (r *repl) run(ctx context.Context, server, name string, args []string) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(r.in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	r.c.Connect(server, name, func(got string, err error) {
		if err != nil {
			r.printf("connect failed: %v", err)
			return
		}
		r.printf("connected to %s as %s", server, got)
	})
	if len(args) > 0 {
		r.join(args[0])
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := r.handle(ctx, line); quit {
				return nil
			}
		}
	}
}

// handle executes one input line and reports whether the user asked to quit.
func (r *repl) handle(ctx context.Context, line string) bool {
	cmd, rest := parseCommand(line)
	switch cmd {
	case "":
		if rest != "" {
			r.c.SendText(rest, r.sent)
		}
	case "quit", "exit":
		return true
	case "help":
		r.printf("%s", helpText)
	case "list":
		r.c.ListChats(func(chats []core.Chat, err error) {
			if err != nil {
				r.printf("list failed: %v", err)
				return
			}
			for _, ch := range chats {
				r.printf("  %-20s %s (by %s)", ch.Name, ch.Description, ch.Creator)
			}
		})
	case "new":
		chatName, desc, _ := strings.Cut(rest, " ")
		r.c.NewChat(chatName, strings.TrimSpace(desc), func(err error) {
			if err != nil {
				r.printf("could not create %q: %v", chatName, err)
				return
			}
			r.printf("created %q", chatName)
		})
	case "join":
		r.join(rest)
	case "image", "file":
		r.upload(cmd, rest)
	case "get":
		r.download(rest)
	case "history":
		msgs, err := r.c.History(ctx, r.c.Room())
		if err != nil {
			r.printf("history failed: %v", err)
			break
		}
		for _, m := range msgs {
			r.printMessage(m)
		}
	default:
		r.printf("unknown command /%s, try /help", cmd)
	}
	return false
}

func (r *repl) join(room string) {
	r.c.Subscribe(room, func(backlog []core.Message, err error) {
		if err != nil {
			r.printf("could not join %q: %v", room, err)
			return
		}
		r.printf("joined %q, %d new messages", room, len(backlog))
		for _, m := range backlog {
			r.printMessage(m)
		}
	}, r.printMessage)
}

func (r *repl) sent(msg core.Message, err error) {
	if err != nil {
		r.printf("not sent: %v", err)
		return
	}
	r.printMessage(msg)
}

func (r *repl) upload(kind, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		r.printf("read %s: %v", path, err)
		return
	}
	name := filepath.Base(path)
	if kind == "image" {
		r.c.SendImage(name, data, r.sent)
		return
	}
	p := r.c.SendFile(name, data, r.sent)
	r.printf("uploading %s (%d bytes)", name, p.Total())
}

func (r *repl) download(args string) {
	idArg, out, _ := strings.Cut(args, " ")
	id, err := strconv.ParseUint(idArg, 10, 64)
	if err != nil {
		r.printf("usage: /get <id> [out]")
		return
	}
	out = strings.TrimSpace(out)
	if out == "" {
		out = fmt.Sprintf("mchat-%d.bin", id)
	}
	r.c.GetFile(id, func(p core.Payload, err error) {
		if err != nil {
			var cerr *core.CoreError
			if errors.As(err, &cerr) {
				r.printf("download refused: %s", cerr.Message)
				return
			}
			r.printf("download failed: %v", err)
			return
		}
		if err := os.WriteFile(out, p.Bytes(), 0o644); err != nil {
			r.printf("write %s: %v", out, err)
			return
		}
		r.printf("saved %d bytes to %s", p.Len(), out)
	})
}

// parseCommand splits "/cmd args" into its parts. Plain text yields an empty
// command and the trimmed line; a leading "//" escapes a literal slash.
func parseCommand(line string) (cmd, rest string) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") {
		return "", line
	}
	if strings.HasPrefix(line, "//") {
		return "", line[1:]
	}
	cmd, rest, _ = strings.Cut(line[1:], " ")
	return strings.ToLower(cmd), strings.TrimSpace(rest)
}
