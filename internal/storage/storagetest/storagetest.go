// Package storagetest holds the behaviour every chat, preferences and
// syllabus storage backend must share.
package storagetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/iamvkosarev/ca-study-chat/internal/model"
	"github.com/iamvkosarev/ca-study-chat/internal/usecase"
)

func newChat(subject string, at time.Time) model.Chat {
	return model.Chat{
		ChatID:    model.NewID(),
		Title:     model.DefaultChatTitle,
		Subject:   subject,
		Messages:  make([]model.Message, 0),
		CreatedAt: at,
		UpdatedAt: at,
	}
}

// RunChatStorage exercises a ChatStorage backend. newStorage must return an
// empty storage.
func RunChatStorage(t *testing.T, newStorage func(t *testing.T) usecase.ChatStorage) {
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	t.Run("create and get", func(t *testing.T) {
		s := newStorage(t)
		chat := newChat("Taxation", base)
		if err := s.CreateChat(ctx, chat); err != nil {
			t.Fatalf("CreateChat: %v", err)
		}
		got, err := s.GetChat(ctx, chat.ChatID)
		if err != nil {
			t.Fatalf("GetChat: %v", err)
		}
		if got.ChatID != chat.ChatID || got.Title != model.DefaultChatTitle || got.Subject != "Taxation" {
			t.Errorf("chat = %+v", got)
		}
		if !got.CreatedAt.Equal(base) {
			t.Errorf("created at = %s, want %s", got.CreatedAt, base)
		}
		if len(got.Messages) != 0 {
			t.Errorf("messages = %d, want 0", len(got.Messages))
		}
	})

	t.Run("missing chat", func(t *testing.T) {
		s := newStorage(t)
		if _, err := s.GetChat(ctx, uuid.New()); !errors.Is(err, model.ErrChatDoesNotExist) {
			t.Errorf("GetChat err = %v, want ErrChatDoesNotExist", err)
		}
		msg := model.NewMessage(model.RoleUser, "hi", base)
		if err := s.AddMessageToChat(ctx, uuid.New(), msg); !errors.Is(err, model.ErrChatDoesNotExist) {
			t.Errorf("AddMessageToChat err = %v, want ErrChatDoesNotExist", err)
		}
		if err := s.DeleteChat(ctx, uuid.New()); !errors.Is(err, model.ErrChatDoesNotExist) {
			t.Errorf("DeleteChat err = %v, want ErrChatDoesNotExist", err)
		}
	})

	t.Run("add messages keeps order", func(t *testing.T) {
		s := newStorage(t)
		chat := newChat("", base)
		if err := s.CreateChat(ctx, chat); err != nil {
			t.Fatalf("CreateChat: %v", err)
		}
		user := model.NewMessage(model.RoleUser, "GST return filing due dates", base.Add(time.Minute))
		reply := model.NewMessage(model.RoleAssistant, "GSTR-3B is due on the 20th of the next month.", base.Add(2*time.Minute))
		for _, msg := range []model.Message{user, reply} {
			if err := s.AddMessageToChat(ctx, chat.ChatID, msg); err != nil {
				t.Fatalf("AddMessageToChat: %v", err)
			}
		}

		got, err := s.GetChat(ctx, chat.ChatID)
		if err != nil {
			t.Fatalf("GetChat: %v", err)
		}
		if len(got.Messages) != 2 {
			t.Fatalf("messages = %d, want 2", len(got.Messages))
		}
		if got.Messages[0].ID != user.ID || got.Messages[1].ID != reply.ID {
			t.Error("messages out of order")
		}
		if got.Messages[1].Role != model.RoleAssistant || got.Messages[1].Content != reply.Content {
			t.Errorf("reply = %+v", got.Messages[1])
		}
		if got.Title != user.Content {
			t.Errorf("title = %q", got.Title)
		}
		if got.Preview != reply.Content {
			t.Errorf("preview = %q", got.Preview)
		}
		if !got.UpdatedAt.Equal(reply.CreatedAt) {
			t.Errorf("updated at = %s, want %s", got.UpdatedAt, reply.CreatedAt)
		}
	})

	t.Run("list and delete", func(t *testing.T) {
		s := newStorage(t)
		first := newChat("Audit", base)
		second := newChat("Law", base.Add(time.Hour))
		for _, chat := range []model.Chat{first, second} {
			if err := s.CreateChat(ctx, chat); err != nil {
				t.Fatalf("CreateChat: %v", err)
			}
		}
		chats, err := s.ListChats(ctx)
		if err != nil {
			t.Fatalf("ListChats: %v", err)
		}
		if len(chats) != 2 {
			t.Fatalf("chats = %d, want 2", len(chats))
		}

		if err = s.DeleteChat(ctx, first.ChatID); err != nil {
			t.Fatalf("DeleteChat: %v", err)
		}
		chats, err = s.ListChats(ctx)
		if err != nil {
			t.Fatalf("ListChats: %v", err)
		}
		if len(chats) != 1 || chats[0].ChatID != second.ChatID {
			t.Errorf("chats = %+v", chats)
		}
		if _, err = s.GetChat(ctx, first.ChatID); !errors.Is(err, model.ErrChatDoesNotExist) {
			t.Errorf("GetChat err = %v, want ErrChatDoesNotExist", err)
		}
	})

	t.Run("returned chats are copies", func(t *testing.T) {
		s := newStorage(t)
		chat := newChat("", base)
		if err := s.CreateChat(ctx, chat); err != nil {
			t.Fatalf("CreateChat: %v", err)
		}
		if err := s.AddMessageToChat(ctx, chat.ChatID, model.NewMessage(model.RoleUser, "hello", base)); err != nil {
			t.Fatalf("AddMessageToChat: %v", err)
		}
		got, _ := s.GetChat(ctx, chat.ChatID)
		got.Messages[0].Content = "changed"

		again, _ := s.GetChat(ctx, chat.ChatID)
		if again.Messages[0].Content != "hello" {
			t.Errorf("content = %q, want hello", again.Messages[0].Content)
		}
	})
}

// RunPreferencesStorage exercises a PreferencesStorage backend.
func RunPreferencesStorage(t *testing.T, newStorage func(t *testing.T) usecase.PreferencesStorage) {
	ctx := context.Background()

	t.Run("missing", func(t *testing.T) {
		s := newStorage(t)
		if _, err := s.GetPreferences(ctx, "nobody"); !errors.Is(err, model.ErrPreferencesDoNotExist) {
			t.Errorf("err = %v, want ErrPreferencesDoNotExist", err)
		}
	})

	t.Run("save and get", func(t *testing.T) {
		s := newStorage(t)
		subject := "Costing"
		prefs := model.Preferences{Theme: model.ThemeLight, SidebarOpen: false, SubjectFilter: &subject}
		if err := s.SavePreferences(ctx, "owner-1", prefs); err != nil {
			t.Fatalf("SavePreferences: %v", err)
		}
		got, err := s.GetPreferences(ctx, "owner-1")
		if err != nil {
			t.Fatalf("GetPreferences: %v", err)
		}
		if got.Theme != model.ThemeLight || got.SidebarOpen {
			t.Errorf("prefs = %+v", got)
		}
		if got.SubjectFilter == nil || *got.SubjectFilter != "Costing" {
			t.Errorf("subject filter = %v", got.SubjectFilter)
		}
	})

	t.Run("overwrite clears filter", func(t *testing.T) {
		s := newStorage(t)
		subject := "Law"
		if err := s.SavePreferences(ctx, "owner-2", model.Preferences{Theme: model.ThemeDark, SubjectFilter: &subject}); err != nil {
			t.Fatalf("SavePreferences: %v", err)
		}
		if err := s.SavePreferences(ctx, "owner-2", model.Preferences{Theme: model.ThemeDark, SidebarOpen: true}); err != nil {
			t.Fatalf("SavePreferences: %v", err)
		}
		got, err := s.GetPreferences(ctx, "owner-2")
		if err != nil {
			t.Fatalf("GetPreferences: %v", err)
		}
		if got.SubjectFilter != nil {
			t.Errorf("subject filter = %q, want nil", *got.SubjectFilter)
		}
		if !got.SidebarOpen {
			t.Error("sidebar closed")
		}
	})
}

// RunSyllabusStorage exercises a SyllabusStorage backend.
func RunSyllabusStorage(t *testing.T, newStorage func(t *testing.T) usecase.SyllabusStorage) {
	ctx := context.Background()
	uploaded := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	pdf := []byte("%PDF-1.7\n% CA Intermediate syllabus\n%%EOF")

	t.Run("missing", func(t *testing.T) {
		s := newStorage(t)
		if _, err := s.GetSyllabus(ctx, "nobody"); !errors.Is(err, model.ErrSyllabusDoesNotExist) {
			t.Errorf("GetSyllabus err = %v, want ErrSyllabusDoesNotExist", err)
		}
		if err := s.DeleteSyllabus(ctx, "nobody"); !errors.Is(err, model.ErrSyllabusDoesNotExist) {
			t.Errorf("DeleteSyllabus err = %v, want ErrSyllabusDoesNotExist", err)
		}
	})

	t.Run("save, replace and delete", func(t *testing.T) {
		s := newStorage(t)
		first := model.Syllabus{OwnerID: "owner-1", FileName: "foundation.pdf", Data: pdf, UploadedAt: uploaded}
		if err := s.SaveSyllabus(ctx, first); err != nil {
			t.Fatalf("SaveSyllabus: %v", err)
		}
		got, err := s.GetSyllabus(ctx, "owner-1")
		if err != nil {
			t.Fatalf("GetSyllabus: %v", err)
		}
		if got.FileName != "foundation.pdf" || string(got.Data) != string(pdf) || !got.UploadedAt.Equal(uploaded) {
			t.Errorf("syllabus = %+v", got)
		}

		second := model.Syllabus{
			OwnerID:    "owner-1",
			FileName:   "intermediate.pdf",
			Data:       []byte("%PDF-1.4"),
			UploadedAt: uploaded.Add(time.Hour),
		}
		if err = s.SaveSyllabus(ctx, second); err != nil {
			t.Fatalf("SaveSyllabus: %v", err)
		}
		got, err = s.GetSyllabus(ctx, "owner-1")
		if err != nil {
			t.Fatalf("GetSyllabus: %v", err)
		}
		if got.FileName != "intermediate.pdf" || string(got.Data) != "%PDF-1.4" {
			t.Errorf("replaced syllabus = %+v", got)
		}

		if err = s.DeleteSyllabus(ctx, "owner-1"); err != nil {
			t.Fatalf("DeleteSyllabus: %v", err)
		}
		if _, err = s.GetSyllabus(ctx, "owner-1"); !errors.Is(err, model.ErrSyllabusDoesNotExist) {
			t.Errorf("GetSyllabus after delete err = %v", err)
		}
	})
}
