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

	"github.com/iamvkosarev/ca-study-chat/internal/app"
	"github.com/iamvkosarev/ca-study-chat/internal/catalog"
	"github.com/iamvkosarev/ca-study-chat/internal/model"
	"github.com/iamvkosarev/ca-study-chat/internal/usecase"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

const chatHelp = `Commands:
  /new [subject]  start a new chat
  /chats          list chats
  /open N         open chat N of the last list
  /subject S      filter chats by subject, "all" clears the filter
  /theme          toggle light and dark theme
  /suggest N      put suggested question N into the draft
  /send           send the draft
  /syllabus PATH  use a syllabus PDF, without PATH show the current one
  /quit           leave
Anything else is sent as a question.`

func newChatCmd() *cobra.Command {
	var (
		configPath string
		viewID     string
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the assistant in the terminal",
		Long:  "Starts a line-oriented chat in the terminal. Chats are stored in the configured storage.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}

			ctx, stop := signalContext(cmd)
			defer stop()

			a, err := app.New(ctx, cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			view, err := a.Views.Open(ctx, viewID, viewID)
			if err != nil {
				return err
			}
			repl := newChatREPL(view, a.Catalog, cmd.OutOrStdout(), isTerminal(cmd.InOrStdin()))
			return repl.run(ctx, cmd.InOrStdin())
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config file")
	cmd.Flags().StringVar(&viewID, "view", "terminal", "view id, also keys the stored preferences")
	return cmd
}

func isTerminal(in io.Reader) bool {
	f, ok := in.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// chatREPL renders a view as plain text lines.
type chatREPL struct {
	view        *usecase.View
	catalog     *catalog.Catalog
	out         io.Writer
	interactive bool

	listed  []model.Chat
	printed int
}

func newChatREPL(view *usecase.View, cat *catalog.Catalog, out io.Writer, interactive bool) *chatREPL {
	return &chatREPL{
		view:        view,
		catalog:     cat,
		out:         out,
		interactive: interactive,
	}
}

func (r *chatREPL) run(ctx context.Context, in io.Reader) error {
	fmt.Fprintln(r.out, "CAgpt - ask anything about your CA studies. Type /help for commands.")
	r.printSuggestions()
	r.render()

	scanner := bufio.NewScanner(in)
	for {
		if r.interactive {
			fmt.Fprint(r.out, "> ")
		}
		if !scanner.Scan() {
			return scanner.Err()
		}
		quit, err := r.handle(ctx, strings.TrimSpace(scanner.Text()))
		if err != nil {
			fmt.Fprintf(r.out, "error: %v\n", err)
		}
		if quit || ctx.Err() != nil {
			return nil
		}
	}
}

func (r *chatREPL) handle(ctx context.Context, line string) (bool, error) {
	if line == "" {
		return false, nil
	}
	if !strings.HasPrefix(line, "/") {
		r.submit(ctx, line)
		return false, nil
	}

	command, arg, _ := strings.Cut(strings.TrimPrefix(line, "/"), " ")
	arg = strings.TrimSpace(arg)
	switch command {
	case "quit", "exit":
		return true, nil
	case "help":
		fmt.Fprintln(r.out, chatHelp)
	case "new":
		chat, err := r.view.NewChat(ctx, arg)
		if err != nil {
			return false, err
		}
		r.printed = 0
		if chat.Subject != "" {
			fmt.Fprintf(r.out, "Started a new %s chat\n", chat.Subject)
		} else {
			fmt.Fprintln(r.out, "Started a new chat")
		}
	case "chats":
		return false, r.listChats(ctx)
	case "open":
		n, err := strconv.Atoi(arg)
		if err != nil || n < 1 || n > len(r.listed) {
			return false, fmt.Errorf("no chat %q in the last list, use /chats", arg)
		}
		chat, err := r.view.SelectChat(ctx, r.listed[n-1].ChatID)
		if err != nil {
			return false, err
		}
		fmt.Fprintf(r.out, "Opened %q\n", chat.Title)
		r.printed = 0
		r.render()
	case "subject":
		if strings.EqualFold(arg, "all") {
			arg = ""
		}
		prefs, err := r.view.SetSubjectFilter(ctx, arg)
		if err != nil {
			return false, err
		}
		if prefs.SubjectFilter == nil {
			fmt.Fprintln(r.out, "Showing chats of all subjects")
		} else {
			fmt.Fprintf(r.out, "Showing %s chats\n", *prefs.SubjectFilter)
		}
	case "theme":
		prefs, err := r.view.ToggleTheme(ctx)
		if err != nil {
			return false, err
		}
		fmt.Fprintf(r.out, "Theme: %s\n", prefs.Theme)
	case "suggest":
		n, err := strconv.Atoi(arg)
		if err != nil {
			return false, fmt.Errorf("usage: /suggest N")
		}
		text, err := r.view.UseSuggestion(n - 1)
		if err != nil {
			if errors.Is(err, model.ErrSuggestionDoesNotExist) {
				return false, fmt.Errorf("no suggestion %d", n)
			}
			return false, err
		}
		fmt.Fprintf(r.out, "Draft: %s (type /send to ask)\n", text)
	case "send":
		r.submit(ctx, r.view.Snapshot().Draft)
	case "syllabus":
		return false, r.syllabus(ctx, arg)
	default:
		fmt.Fprintln(r.out, "Unknown command. Type /help.")
	}
	return false, nil
}

func (r *chatREPL) syllabus(ctx context.Context, path string) error {
	if path == "" {
		syllabus, err := r.view.Syllabus(ctx)
		if errors.Is(err, model.ErrSyllabusDoesNotExist) {
			fmt.Fprintln(r.out, "No syllabus. Use /syllabus PATH to add one.")
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(r.out, "Syllabus: %s (%d bytes)\n", syllabus.FileName, len(syllabus.Data))
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	syllabus, err := r.view.UploadSyllabus(ctx, filepath.Base(path), "", data)
	if err != nil {
		return err
	}
	fmt.Fprintf(r.out, "Using syllabus %s\n", syllabus.FileName)
	return nil
}

// submit sends text and blocks until the reply is in the session.
func (r *chatREPL) submit(ctx context.Context, text string) {
	turn, ok := r.view.Submit(ctx, text)
	if !ok {
		return
	}
	if r.interactive {
		fmt.Fprintln(r.out, "CAgpt is typing...")
	}
	turn.Wait()
	r.render()
}

func (r *chatREPL) listChats(ctx context.Context) error {
	chats, err := r.view.ListChats(ctx)
	if err != nil {
		return err
	}
	r.listed = chats
	if len(chats) == 0 {
		fmt.Fprintln(r.out, "No chats yet")
		return nil
	}
	active := r.view.ActiveChatID()
	for i, chat := range chats {
		mark := " "
		if chat.ChatID == active {
			mark = "*"
		}
		line := fmt.Sprintf("%s%2d. %s", mark, i+1, chat.Title)
		if chat.Subject != "" {
			line += " [" + chat.Subject + "]"
		}
		fmt.Fprintf(r.out, "%s  %s\n", line, chat.UpdatedAt.Format("02 Jan 15:04"))
	}
	return nil
}

func (r *chatREPL) printSuggestions() {
	if len(r.catalog.Suggestions) == 0 {
		return
	}
	fmt.Fprintln(r.out, "Suggestions:")
	for i, s := range r.catalog.Suggestions {
		fmt.Fprintf(r.out, "  %d. %s\n", i+1, s)
	}
}

// render prints the session messages not printed yet.
func (r *chatREPL) render() {
	messages := r.view.Snapshot().Messages
	if r.printed > len(messages) {
		r.printed = 0
	}
	for _, msg := range messages[r.printed:] {
		who := "You"
		if msg.Role == model.RoleAssistant {
			who = "CAgpt"
		}
		fmt.Fprintf(r.out, "%s: %s\n", who, msg.Content)
	}
	r.printed = len(messages)
}
