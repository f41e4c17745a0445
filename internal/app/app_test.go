package app

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/iamvkosarev/ca-study-chat/config"
	"github.com/iamvkosarev/ca-study-chat/internal/catalog"
)

func testConfig() *config.Config {
	return &config.Config{
		App: config.App{
			Language: "en",
			UI:       config.UI{Theme: "dark", SidebarOpen: true},
		},
		Log:      config.Log{Level: "error"},
		Provider: config.Provider{Backend: config.ProviderMock},
		Storage:  config.Storage{Backend: config.StorageMemory},
		View:     config.View{IdleTimeout: time.Minute, EvictionSchedule: "@every 1m"},
	}
}

func newTestApp(t *testing.T, cfg *config.Config) *App {
	t.Helper()
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	a, err := New(context.Background(), cfg, io.Discard)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(a.Close)
	return a
}

func TestNew_SeedsAndAnswers(t *testing.T) {
	a := newTestApp(t, testConfig())
	ctx := context.Background()

	chats, err := a.Chats.ListChats(ctx, nil)
	if err != nil {
		t.Fatalf("ListChats: %v", err)
	}
	if len(chats) != len(catalog.Default().Chats) {
		t.Errorf("seeded chats = %d", len(chats))
	}

	view, err := a.Views.Open(ctx, "", "")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	turn, ok := view.Submit(ctx, "Explain Section 44AD provisions")
	if !ok {
		t.Fatal("submit rejected")
	}
	result := turn.Wait()
	if result.Fallback || !strings.Contains(result.Reply.Content, "44AD") {
		t.Errorf("reply = %+v", result)
	}
}

func TestNew_SQLiteStorage(t *testing.T) {
	cfg := testConfig()
	cfg.Storage = config.Storage{
		Backend: config.StorageSQLite,
		SQL:     config.SQL{DSN: filepath.Join(t.TempDir(), "cagpt.db")},
	}

	first := newTestApp(t, cfg)
	chats, err := first.Chats.ListChats(context.Background(), nil)
	if err != nil || len(chats) != 3 {
		t.Fatalf("chats = %d, %v", len(chats), err)
	}
	if _, err = first.Syllabi.Upload(context.Background(), "student", "final.pdf", "application/pdf", []byte("%PDF-1.7")); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	first.Close()

	// a second start finds the stored history and does not seed again
	second := newTestApp(t, cfg)
	chats, err = second.Chats.ListChats(context.Background(), nil)
	if err != nil || len(chats) != 3 {
		t.Errorf("chats after restart = %d, %v", len(chats), err)
	}
	syllabus, err := second.Syllabi.GetSyllabus(context.Background(), "student")
	if err != nil || syllabus.FileName != "final.pdf" {
		t.Errorf("syllabus after restart = %+v, %v", syllabus, err)
	}
}

func TestNew_CatalogFile(t *testing.T) {
	cfg := testConfig()
	cfg.Catalog.Path = filepath.Join(t.TempDir(), "missing.yaml")
	if _, err := New(context.Background(), cfg, io.Discard); err == nil {
		t.Fatal("expected error for a missing catalog")
	}
}

func TestRunTelegram_RequiresToken(t *testing.T) {
	err := RunTelegram(context.Background(), testConfig(), io.Discard)
	if err == nil || !strings.Contains(err.Error(), "api_token") {
		t.Errorf("err = %v", err)
	}
}

func TestRunHTTP_StopsWithContext(t *testing.T) {
	cfg := testConfig()
	cfg.HTTP = config.HTTP{Address: "127.0.0.1:0", ShutdownTimeout: time.Second}

	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- RunHTTP(ctx, cfg, io.Discard)
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("RunHTTP: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("RunHTTP did not stop")
	}
}
