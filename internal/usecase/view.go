package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/iamvkosarev/ca-study-chat/internal/model"
	"github.com/iamvkosarev/ca-study-chat/internal/session"
	"github.com/iamvkosarev/ca-study-chat/internal/telemetry"
	"github.com/sourcegraph/conc"
)

var ErrSyllabusDisabled = errors.New("syllabus uploads are not configured")

// ViewState is everything a render collaborator needs to draw a view.
type ViewState struct {
	ViewID       string
	ActiveChatID uuid.UUID
	Snapshot     model.Snapshot
	Preferences  model.Preferences
}

// View is one mounted client screen: a session, the exchange running its
// turns, the active chat and the UI preferences.
type View struct {
	id      string
	ownerID string

	chats       *ChatUsecase
	preferences *PreferencesUsecase
	syllabi     *SyllabusUsecase
	suggestions func(index int) (string, error)
	logger      *slog.Logger

	store    *session.Store
	exchange *ExchangeUsecase
	recorder *conc.WaitGroup

	mu          sync.Mutex
	activeChat  uuid.UUID
	prefs       model.Preferences
	lastActive  time.Time
	subscribers int
	closed      bool
}

func (v *View) ID() string {
	return v.id
}

func (v *View) OwnerID() string {
	return v.ownerID
}

func (v *View) State() ViewState {
	v.mu.Lock()
	defer v.mu.Unlock()

	return ViewState{
		ViewID:       v.id,
		ActiveChatID: v.activeChat,
		Snapshot:     v.store.Snapshot(),
		Preferences:  clonePrefs(v.prefs),
	}
}

func (v *View) Snapshot() model.Snapshot {
	return v.store.Snapshot()
}

func (v *View) ActiveChatID() uuid.UUID {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.activeChat
}

// Submit starts a turn. The first submission of a view without an active chat
// creates one under the current subject filter. The turn is recorded in the
// chat it was started in, even when another chat is selected before the
// reply arrives.
func (v *View) Submit(ctx context.Context, text string) (*Turn, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.touchLocked()

	if v.closed || strings.TrimSpace(text) == "" || v.store.Pending() {
		return nil, false
	}

	chatID, err := v.ensureChatLocked(ctx)
	if err != nil {
		v.logger.Error("failed to create chat for turn", "error", err)
	}
	if v.syllabi != nil {
		syllabus, err := v.syllabi.GetSyllabus(ctx, v.ownerID)
		switch {
		case err == nil:
			ctx = WithSyllabus(ctx, syllabus)
		case !errors.Is(err, model.ErrSyllabusDoesNotExist):
			v.logger.Error("failed to load syllabus", "error", err)
		}
	}
	turn, ok := v.exchange.Submit(ctx, text)
	if !ok {
		return nil, false
	}
	if chatID == uuid.Nil {
		return turn, true
	}
	if err = v.chats.RecordMessage(ctx, chatID, turn.UserMessage); err != nil {
		v.logger.Error("failed to record user message", "chat_id", chatID, "error", err)
	}

	recordCtx := context.WithoutCancel(ctx)
	v.recorder.Go(
		func() {
			result := turn.Wait()
			if result.Fallback {
				v.logger.Warn(
					"turn answered with fallback",
					"chat_id", chatID,
					"user_message_id", result.UserMessage.ID,
					"request_id", telemetry.RequestIDFromContext(recordCtx),
					"error", result.Err,
				)
			}
			if err := v.chats.RecordMessage(recordCtx, chatID, result.Reply); err != nil {
				v.logger.Error("failed to record reply", "chat_id", chatID, "error", err)
			}
		},
	)
	return turn, true
}

func (v *View) SetDraft(text string) {
	v.mu.Lock()
	v.touchLocked()
	v.mu.Unlock()

	v.store.SetDraft(text)
}

// UseSuggestion puts the suggested prompt at index into the draft.
func (v *View) UseSuggestion(index int) (string, error) {
	text, err := v.suggestions(index)
	if err != nil {
		return "", err
	}
	v.SetDraft(text)
	return text, nil
}

// NewChat creates a chat and makes it active. An empty subject takes the
// current subject filter.
func (v *View) NewChat(ctx context.Context, subject string) (model.Chat, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.touchLocked()

	if strings.TrimSpace(subject) == "" && v.prefs.SubjectFilter != nil {
		subject = *v.prefs.SubjectFilter
	}
	chat, err := v.chats.CreateChat(ctx, subject)
	if err != nil {
		return model.Chat{}, err
	}
	v.activateLocked(chat)
	return chat, nil
}

// SelectChat makes chatID the active chat and loads its messages into the
// session. Selecting the active chat again leaves the session untouched.
func (v *View) SelectChat(ctx context.Context, chatID uuid.UUID) (model.Chat, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.touchLocked()

	chat, err := v.chats.GetChat(ctx, chatID)
	if err != nil {
		return model.Chat{}, err
	}
	if chatID == v.activeChat {
		return chat, nil
	}
	v.activateLocked(chat)
	return chat, nil
}

// DeleteChat removes a chat. Deleting the active chat clears the session.
func (v *View) DeleteChat(ctx context.Context, chatID uuid.UUID) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.touchLocked()

	if err := v.chats.DeleteChat(ctx, chatID); err != nil {
		return err
	}
	if chatID == v.activeChat {
		v.activeChat = uuid.Nil
		v.store.ResetSession(nil)
	}
	return nil
}

// UploadSyllabus stores the syllabus PDF of the view owner. Later turns are
// answered with it.
func (v *View) UploadSyllabus(ctx context.Context, fileName, contentType string, data []byte) (model.Syllabus, error) {
	if v.syllabi == nil {
		return model.Syllabus{}, ErrSyllabusDisabled
	}
	v.touch()
	return v.syllabi.Upload(ctx, v.ownerID, fileName, contentType, data)
}

// SyllabusMaxSize is the largest accepted syllabus in bytes, zero when
// uploads are disabled.
func (v *View) SyllabusMaxSize() int64 {
	if v.syllabi == nil {
		return 0
	}
	return v.syllabi.MaxSize()
}

func (v *View) Syllabus(ctx context.Context) (model.Syllabus, error) {
	if v.syllabi == nil {
		return model.Syllabus{}, model.ErrSyllabusDoesNotExist
	}
	v.touch()
	return v.syllabi.GetSyllabus(ctx, v.ownerID)
}

func (v *View) DeleteSyllabus(ctx context.Context) error {
	if v.syllabi == nil {
		return model.ErrSyllabusDoesNotExist
	}
	v.touch()
	return v.syllabi.DeleteSyllabus(ctx, v.ownerID)
}

// ListChats returns the chats passing the view's subject filter.
func (v *View) ListChats(ctx context.Context) ([]model.Chat, error) {
	v.mu.Lock()
	v.touchLocked()
	subject := clonePrefs(v.prefs).SubjectFilter
	v.mu.Unlock()

	return v.chats.ListChats(ctx, subject)
}

func (v *View) Preferences() model.Preferences {
	v.mu.Lock()
	defer v.mu.Unlock()
	return clonePrefs(v.prefs)
}

func (v *View) SetTheme(ctx context.Context, theme model.Theme) (model.Preferences, error) {
	return v.updatePreferences(
		ctx, func(p model.Preferences) model.Preferences {
			p.Theme = theme
			return p
		},
	)
}

func (v *View) ToggleTheme(ctx context.Context) (model.Preferences, error) {
	return v.updatePreferences(ctx, model.Preferences.Toggled)
}

func (v *View) SetSidebarOpen(ctx context.Context, open bool) (model.Preferences, error) {
	return v.updatePreferences(
		ctx, func(p model.Preferences) model.Preferences {
			p.SidebarOpen = open
			return p
		},
	)
}

// SetSubjectFilter narrows ListChats to one subject. An empty subject or
// "All Subjects" removes the filter.
func (v *View) SetSubjectFilter(ctx context.Context, subject string) (model.Preferences, error) {
	return v.updatePreferences(
		ctx, func(p model.Preferences) model.Preferences {
			p.SubjectFilter = NormalizeSubject(subject)
			return p
		},
	)
}

// Subscribe streams session snapshots. The view is not evicted while it has
// subscribers.
func (v *View) Subscribe() (<-chan model.Snapshot, func()) {
	v.mu.Lock()
	v.touchLocked()
	v.subscribers++
	v.mu.Unlock()

	ch, cancel := v.store.Subscribe()
	var once sync.Once
	return ch, func() {
		once.Do(
			func() {
				cancel()
				v.mu.Lock()
				v.subscribers--
				v.touchLocked()
				v.mu.Unlock()
			},
		)
	}
}

// Close stops accepting turns, waits for the outstanding one to be resolved
// and recorded and closes every subscription.
func (v *View) Close() {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.closed = true
	v.mu.Unlock()

	v.exchange.Wait()
	v.recorder.Wait()
	v.store.Close()
}

// Wait blocks until every started turn has been resolved and recorded.
func (v *View) Wait() {
	v.exchange.Wait()
	v.recorder.Wait()
}

func (v *View) idleSince(now time.Time) (time.Duration, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.subscribers > 0 || v.store.Snapshot().Pending {
		return 0, false
	}
	return now.Sub(v.lastActive), true
}

func (v *View) updatePreferences(
	ctx context.Context, update func(model.Preferences) model.Preferences,
) (model.Preferences, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.touchLocked()

	next := update(clonePrefs(v.prefs))
	if err := v.preferences.SavePreferences(ctx, v.ownerID, next); err != nil {
		return model.Preferences{}, fmt.Errorf("failed to update preferences: %w", err)
	}
	v.prefs = next
	return clonePrefs(next), nil
}

func (v *View) ensureChatLocked(ctx context.Context) (uuid.UUID, error) {
	if v.activeChat != uuid.Nil {
		return v.activeChat, nil
	}
	subject := ""
	if v.prefs.SubjectFilter != nil {
		subject = *v.prefs.SubjectFilter
	}
	chat, err := v.chats.CreateChat(ctx, subject)
	if err != nil {
		return uuid.Nil, err
	}
	v.activeChat = chat.ChatID
	v.store.BindChat(chat.ChatID)
	return chat.ChatID, nil
}

func (v *View) activateLocked(chat model.Chat) {
	v.activeChat = chat.ChatID
	v.store.LoadChat(chat.ChatID, chat.Messages)
}

func (v *View) touch() {
	v.mu.Lock()
	v.touchLocked()
	v.mu.Unlock()
}

func (v *View) touchLocked() {
	v.lastActive = time.Now()
}

func clonePrefs(p model.Preferences) model.Preferences {
	if p.SubjectFilter != nil {
		subject := *p.SubjectFilter
		p.SubjectFilter = &subject
	}
	return p
}
