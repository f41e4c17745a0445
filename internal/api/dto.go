package api

import (
	"time"

	"github.com/google/uuid"
	"github.com/iamvkosarev/ca-study-chat/internal/model"
	"github.com/iamvkosarev/ca-study-chat/internal/usecase"
)

type errorResponse struct {
	Error string `json:"error"`
}

type catalogResponse struct {
	Suggestions []string `json:"suggestions"`
	Subjects    []string `json:"subjects"`
}

type messageResponse struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

type snapshotResponse struct {
	Messages []messageResponse `json:"messages"`
	Pending  bool              `json:"pending"`
	Draft    string            `json:"draft"`
	Version  uint64            `json:"version"`
}

type preferencesResponse struct {
	Theme         string  `json:"theme"`
	SidebarOpen   bool    `json:"sidebar_open"`
	SubjectFilter *string `json:"subject_filter"`
}

type viewResponse struct {
	ViewID       string              `json:"view_id"`
	ActiveChatID string              `json:"active_chat_id,omitempty"`
	Snapshot     snapshotResponse    `json:"snapshot"`
	Preferences  preferencesResponse `json:"preferences"`
}

type chatResponse struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Preview      string    `json:"preview"`
	Subject      string    `json:"subject,omitempty"`
	MessageCount int       `json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	Active       bool      `json:"active"`
}

type openViewRequest struct {
	ViewID  string `json:"view_id"`
	OwnerID string `json:"owner_id"`
}

type textRequest struct {
	Text string `json:"text"`
}

type submitResponse struct {
	Accepted    bool             `json:"accepted"`
	UserMessage *messageResponse `json:"user_message,omitempty"`
	Reply       *messageResponse `json:"reply,omitempty"`
	Fallback    bool             `json:"fallback,omitempty"`
}

type draftResponse struct {
	Draft string `json:"draft"`
}

type newChatRequest struct {
	Subject string `json:"subject"`
}

type selectChatRequest struct {
	ChatID string `json:"chat_id" binding:"required"`
}

type syllabusResponse struct {
	FileName   string    `json:"file_name"`
	Size       int       `json:"size"`
	UploadedAt time.Time `json:"uploaded_at"`
}

type updatePreferencesRequest struct {
	Theme         *string `json:"theme"`
	ToggleTheme   bool    `json:"toggle_theme"`
	SidebarOpen   *bool   `json:"sidebar_open"`
	SubjectFilter *string `json:"subject_filter"`
}

func toMessageResponse(msg model.Message) messageResponse {
	return messageResponse{
		ID:        msg.ID.String(),
		Role:      string(msg.Role),
		Content:   msg.Content,
		CreatedAt: msg.CreatedAt,
	}
}

func toSnapshotResponse(snap model.Snapshot) snapshotResponse {
	messages := make([]messageResponse, 0, len(snap.Messages))
	for _, msg := range snap.Messages {
		messages = append(messages, toMessageResponse(msg))
	}
	return snapshotResponse{
		Messages: messages,
		Pending:  snap.Pending,
		Draft:    snap.Draft,
		Version:  snap.Version,
	}
}

func toSyllabusResponse(syllabus model.Syllabus) syllabusResponse {
	return syllabusResponse{
		FileName:   syllabus.FileName,
		Size:       len(syllabus.Data),
		UploadedAt: syllabus.UploadedAt,
	}
}

func toPreferencesResponse(prefs model.Preferences) preferencesResponse {
	return preferencesResponse{
		Theme:         string(prefs.Theme),
		SidebarOpen:   prefs.SidebarOpen,
		SubjectFilter: prefs.SubjectFilter,
	}
}

func toViewResponse(state usecase.ViewState) viewResponse {
	resp := viewResponse{
		ViewID:      state.ViewID,
		Snapshot:    toSnapshotResponse(state.Snapshot),
		Preferences: toPreferencesResponse(state.Preferences),
	}
	if state.ActiveChatID != uuid.Nil {
		resp.ActiveChatID = state.ActiveChatID.String()
	}
	return resp
}

func toChatResponse(chat model.Chat, active uuid.UUID) chatResponse {
	return chatResponse{
		ID:           chat.ChatID.String(),
		Title:        chat.Title,
		Preview:      chat.Preview,
		Subject:      chat.Subject,
		MessageCount: len(chat.Messages),
		CreatedAt:    chat.CreatedAt,
		UpdatedAt:    chat.UpdatedAt,
		Active:       chat.ChatID == active,
	}
}
