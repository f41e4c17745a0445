package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/iamvkosarev/ca-study-chat/config"
	"github.com/iamvkosarev/ca-study-chat/internal/app"
)

func newTestREPL(t *testing.T) (*chatREPL, *bytes.Buffer) {
	t.Helper()
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	cfg := &config.Config{
		App:      config.App{Language: "en", UI: config.UI{Theme: "dark", SidebarOpen: true}},
		Log:      config.Log{Level: "error"},
		Provider: config.Provider{Backend: config.ProviderMock},
		Storage:  config.Storage{Backend: config.StorageMemory},
		View:     config.View{IdleTimeout: time.Minute},
	}
	a, err := app.New(context.Background(), cfg, io.Discard)
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}
	t.Cleanup(a.Close)

	view, err := a.Views.Open(context.Background(), "terminal", "terminal")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	out := new(bytes.Buffer)
	return newChatREPL(view, a.Catalog, out, false), out
}

func TestChatREPL_SuggestAndSend(t *testing.T) {
	repl, out := newTestREPL(t)

	in := strings.NewReader("/suggest 1\n/send\n/quit\nnever read\n")
	if err := repl.run(context.Background(), in); err != nil {
		t.Fatalf("run: %v", err)
	}

	got := out.String()
	for _, want := range []string{
		"1. Explain Section 44AD provisions",
		"Draft: Explain Section 44AD provisions",
		"You: Explain Section 44AD provisions",
		"CAgpt: Section 44AD is the presumptive taxation scheme",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output does not contain %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "never read") {
		t.Error("input after /quit was handled")
	}
}

func TestChatREPL_ChatsAndOpen(t *testing.T) {
	repl, out := newTestREPL(t)

	in := strings.NewReader("/subject audit\n/chats\n/open 1\n/subject all\n/open 9\n/theme\n/bogus\n")
	if err := repl.run(context.Background(), in); err != nil {
		t.Fatalf("run: %v", err)
	}

	got := out.String()
	for _, want := range []string{
		"Showing audit chats",
		"1. SA 700 audit report format [Audit]",
		"Opened \"SA 700 audit report format\"",
		"Showing chats of all subjects",
		"error: no chat \"9\" in the last list",
		"Theme: light",
		"Unknown command",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output does not contain %q:\n%s", want, got)
		}
	}
	if !strings.Contains(got, "CAgpt: ") {
		t.Error("opened chat history was not rendered")
	}
}

func TestChatREPL_EmptyInputIsIgnored(t *testing.T) {
	repl, out := newTestREPL(t)

	if err := repl.run(context.Background(), strings.NewReader("   \n/send\n")); err != nil {
		t.Fatalf("run: %v", err)
	}
	if strings.Contains(out.String(), "You:") {
		t.Errorf("empty input was sent:\n%s", out.String())
	}
	if n := len(repl.view.Snapshot().Messages); n != 0 {
		t.Errorf("messages = %d, want 0", n)
	}
}

func TestChatREPL_Syllabus(t *testing.T) {
	repl, out := newTestREPL(t)
	dir := t.TempDir()
	pdf := filepath.Join(dir, "ca-final.pdf")
	if err := os.WriteFile(pdf, []byte("%PDF-1.7\n%%EOF"), 0o600); err != nil {
		t.Fatal(err)
	}
	text := filepath.Join(dir, "notes.pdf")
	if err := os.WriteFile(text, []byte("plain notes"), 0o600); err != nil {
		t.Fatal(err)
	}

	in := strings.NewReader(
		"/syllabus\n/syllabus " + text + "\n/syllabus " + pdf + "\n/syllabus\nExplain Section 44AD provisions\n",
	)
	if err := repl.run(context.Background(), in); err != nil {
		t.Fatalf("run: %v", err)
	}

	got := out.String()
	for _, want := range []string{
		"No syllabus.",
		"error: syllabus is not a PDF file",
		"Using syllabus ca-final.pdf",
		"Syllabus: ca-final.pdf (14 bytes)",
		"(Checked against your syllabus ca-final.pdf.)",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output does not contain %q:\n%s", want, got)
		}
	}
}
