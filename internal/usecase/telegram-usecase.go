package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf16"

	api "github.com/OvyFlash/telegram-bot-api"
	"github.com/google/uuid"
	"github.com/iamvkosarev/ca-study-chat/config"
	"github.com/iamvkosarev/ca-study-chat/internal/catalog"
	"github.com/iamvkosarev/ca-study-chat/internal/model"
	"github.com/iamvkosarev/ca-study-chat/pkg/local"
	"github.com/sourcegraph/conc"
)

var (
	MessageServerError  = local.NewSet("Something went wrong. Try later")
	MessageUserNoAccess = local.NewSet("You are not allowed to use this bot")
	MessageCommandStart = local.NewSet(
		"Welcome to CAgpt, your CA study companion! Ask about taxation, accounting, audit, law or costing. " +
			"Pick a suggested question below or write your own.",
	)
	MessageCommandHelp = local.NewSet(
		"Write a question to ask it. /new [subject] starts a new chat, /chats switches between your chats " +
			"and /subject <name|all> filters them. Send your CA syllabus as a PDF to keep answers within it.",
	)
	MessageCommandUnknown = local.NewSet("I don't know that command")
	MessageNewChat        = local.NewSet("Started a new chat")
	MessageNewChatFormat  = local.NewSet("Started a new %s chat")
	MessageNoChats        = local.NewSet("You have no chats yet. Write a question to start one.")
	MessageChatsFormat    = local.NewSet("Your chats (%d). Pick one to continue it:")
	MessageChatSelected   = local.NewSet("Switched to \"%s\"")
	MessageChatNotFound   = local.NewSet("This chat does not exist anymore")
	MessageSubjectFormat  = local.NewSet("Showing %s chats")
	MessageSubjectAll     = local.NewSet("Showing chats of all subjects")
	MessageSubjectUsage   = local.NewSet("Use /subject <name> or /subject all. Subjects: %s")
	MessageDraftFormat    = local.NewSet("Question: %s\nPress Send to ask it.")
	MessageSuggestions    = local.NewSet("Suggested questions:")
	ButtonSend            = local.NewSet("Send")

	MessageSyllabusSavedFormat    = local.NewSet("Saved your syllabus %s. Answers will keep to it.")
	MessageSyllabusNotPDF         = local.NewSet("Please send the syllabus as a PDF file")
	MessageSyllabusTooLargeFormat = local.NewSet("The syllabus is too large, the limit is %d MB")
	MessageSyllabusDisabled       = local.NewSet("Syllabus uploads are turned off")
)

const (
	CommandStart   = "start"
	CommandHelp    = "help"
	CommandNew     = "new"
	CommandChats   = "chats"
	CommandSubject = "subject"

	callbackChatPrefix    = "chat:"
	callbackSuggestPrefix = "suggest:"
	callbackSend          = "send"

	telegramViewPrefix = "tg-"
	maxListedChats     = 10
	// Telegram limit, in UTF-16 code units
	maxMessageLength = 4096
	// typing lasts five seconds on the client
	typingInterval = 4 * time.Second
)

// TelegramBot is the part of the Bot API the adapter uses.
type TelegramBot interface {
	Send(c api.Chattable) (api.Message, error)
	Request(c api.Chattable) (*api.APIResponse, error)
	GetUpdatesChan(config api.UpdateConfig) api.UpdatesChannel
	StopReceivingUpdates()
	GetFileDirectURL(fileID string) (string, error)
}

type TelegramUsecaseDeps struct {
	Views   *ViewUsecase
	Catalog *catalog.Catalog
	Bot     TelegramBot
	Logger  *slog.Logger
	// HTTPClient downloads uploaded documents, http.DefaultClient when nil.
	HTTPClient *http.Client
}

// TelegramUsecase renders views into Telegram chats. Every Telegram chat is
// one view.
type TelegramUsecase struct {
	TelegramUsecaseDeps
	cfg            config.Telegram
	language       local.Language
	allowedUsers   map[int64]struct{}
	typingInterval time.Duration
	wg             *conc.WaitGroup
}

func NewTelegramUsecase(cfg config.Telegram, language local.Language, deps TelegramUsecaseDeps) *TelegramUsecase {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Catalog == nil {
		deps.Catalog = catalog.Default()
	}
	if deps.HTTPClient == nil {
		deps.HTTPClient = http.DefaultClient
	}
	allowedUsers := make(map[int64]struct{}, len(cfg.AllowedTelegramID))
	for _, id := range cfg.AllowedTelegramID {
		allowedUsers[id] = struct{}{}
	}
	return &TelegramUsecase{
		TelegramUsecaseDeps: deps,
		cfg:                 cfg,
		language:            language,
		allowedUsers:        allowedUsers,
		typingInterval:      typingInterval,
		wg:                  conc.NewWaitGroup(),
	}
}

// RegisterCommands publishes the command menu.
func (t *TelegramUsecase) RegisterCommands() error {
	_, err := t.Bot.Request(
		api.NewSetMyCommands(
			[]api.BotCommand{
				{
					Command:     CommandHelp,
					Description: "Get help",
				},
				{
					Command:     CommandNew,
					Description: "Start a new chat, optionally for a subject",
				},
				{
					Command:     CommandChats,
					Description: "Show chats",
				},
				{
					Command:     CommandSubject,
					Description: "Filter chats by subject",
				},
			}...,
		),
	)
	if err != nil {
		return fmt.Errorf("failed to set bot commands: %w", err)
	}
	return nil
}

// Run handles updates until ctx is done, then waits for the pending replies.
func (t *TelegramUsecase) Run(ctx context.Context) error {
	u := api.NewUpdate(0)
	u.Timeout = 60

	updates := t.Bot.GetUpdatesChan(u)
	defer t.Wait()

	for {
		select {
		case <-ctx.Done():
			t.Bot.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if err := t.HandleUpdate(ctx, update); err != nil {
				t.Logger.Error("failed to handle update", "update_id", update.UpdateID, "error", err)
			}
		}
	}
}

// Wait blocks until every reply in flight has been sent.
func (t *TelegramUsecase) Wait() {
	t.wg.Wait()
}

func (t *TelegramUsecase) HandleUpdate(ctx context.Context, update api.Update) error {
	if update.Message != nil {
		chatID := update.Message.Chat.ID
		if update.Message.Document != nil {
			return t.handleDocument(ctx, chatID, update.Message.Document)
		}
		if update.Message.IsCommand() {
			return t.handleCommand(ctx, chatID, update.Message.Command(), update.Message.CommandArguments())
		}
		return t.handleText(ctx, chatID, update.Message.Text)
	}
	if update.CallbackQuery != nil {
		callback := api.NewCallback(update.CallbackQuery.ID, "")
		if _, err := t.Bot.Request(callback); err != nil {
			return fmt.Errorf("failed to request callback: %w", err)
		}
		// inline-mode callbacks carry no chat to answer in
		if update.CallbackQuery.Message == nil {
			return nil
		}
		return t.handleCallback(ctx, update.CallbackQuery.Message.Chat.ID, update.CallbackQuery.Data)
	}
	return nil
}

func (t *TelegramUsecase) handleCommand(ctx context.Context, chatID int64, command, args string) error {
	if !t.allowed(chatID) {
		t.sendMessageAndHandleErr(chatID, MessageUserNoAccess.Text(t.language))
		return nil
	}
	view, err := t.openView(ctx, chatID)
	if err != nil {
		return err
	}

	switch command {
	case CommandStart:
		return t.sendSuggestions(chatID, MessageCommandStart.Text(t.language))
	case CommandHelp:
		t.sendMessageAndHandleErr(chatID, MessageCommandHelp.Text(t.language))
	case CommandNew:
		chat, err := view.NewChat(ctx, strings.TrimSpace(args))
		if err != nil {
			t.sendMessageAndHandleErr(chatID, MessageServerError.Text(t.language))
			return fmt.Errorf("failed to create chat: %w", err)
		}
		if chat.Subject == "" {
			t.sendMessageAndHandleErr(chatID, MessageNewChat.Text(t.language))
		} else {
			t.sendMessageAndHandleErr(chatID, MessageNewChatFormat.Format(t.language, chat.Subject))
		}
	case CommandChats:
		return t.sendChats(ctx, chatID, view)
	case CommandSubject:
		return t.setSubject(ctx, chatID, view, strings.TrimSpace(args))
	default:
		t.sendMessageAndHandleErr(chatID, MessageCommandUnknown.Text(t.language))
	}
	return nil
}

func (t *TelegramUsecase) handleText(ctx context.Context, chatID int64, text string) error {
	if !t.allowed(chatID) {
		t.sendMessageAndHandleErr(chatID, MessageUserNoAccess.Text(t.language))
		return nil
	}
	view, err := t.openView(ctx, chatID)
	if err != nil {
		return err
	}
	t.submit(ctx, chatID, view, text)
	return nil
}

// handleDocument stores a PDF document as the syllabus of the chat.
func (t *TelegramUsecase) handleDocument(ctx context.Context, chatID int64, doc *api.Document) error {
	if !t.allowed(chatID) {
		t.sendMessageAndHandleErr(chatID, MessageUserNoAccess.Text(t.language))
		return nil
	}
	view, err := t.openView(ctx, chatID)
	if err != nil {
		return err
	}
	maxSize := view.SyllabusMaxSize()
	switch {
	case maxSize == 0:
		t.sendMessageAndHandleErr(chatID, MessageSyllabusDisabled.Text(t.language))
		return nil
	case doc.MimeType != "" && doc.MimeType != model.SyllabusContentType:
		t.sendMessageAndHandleErr(chatID, MessageSyllabusNotPDF.Text(t.language))
		return nil
	case doc.FileSize > maxSize:
		t.sendMessageAndHandleErr(chatID, MessageSyllabusTooLargeFormat.Format(t.language, maxSize>>20))
		return nil
	}

	data, err := t.download(ctx, doc.FileID, maxSize+1)
	if err != nil {
		t.sendMessageAndHandleErr(chatID, MessageServerError.Text(t.language))
		return fmt.Errorf("failed to download document: %w", err)
	}
	syllabus, err := view.UploadSyllabus(ctx, doc.FileName, doc.MimeType, data)
	switch {
	case errors.Is(err, model.ErrNotPDF):
		t.sendMessageAndHandleErr(chatID, MessageSyllabusNotPDF.Text(t.language))
	case errors.Is(err, model.ErrSyllabusTooLarge):
		t.sendMessageAndHandleErr(chatID, MessageSyllabusTooLargeFormat.Format(t.language, maxSize>>20))
	case err != nil:
		t.sendMessageAndHandleErr(chatID, MessageServerError.Text(t.language))
		return fmt.Errorf("failed to upload syllabus: %w", err)
	default:
		t.sendMessageAndHandleErr(chatID, MessageSyllabusSavedFormat.Format(t.language, syllabus.FileName))
	}
	return nil
}

// download reads at most limit bytes of a file stored by Telegram.
func (t *TelegramUsecase) download(ctx context.Context, fileID string, limit int64) ([]byte, error) {
	url, err := t.Bot.GetFileDirectURL(fileID)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := t.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}
	return io.ReadAll(io.LimitReader(resp.Body, limit))
}

func (t *TelegramUsecase) handleCallback(ctx context.Context, chatID int64, data string) error {
	if !t.allowed(chatID) {
		t.sendMessageAndHandleErr(chatID, MessageUserNoAccess.Text(t.language))
		return nil
	}
	view, err := t.openView(ctx, chatID)
	if err != nil {
		return err
	}

	switch {
	case data == callbackSend:
		t.submit(ctx, chatID, view, view.Snapshot().Draft)
	case strings.HasPrefix(data, callbackSuggestPrefix):
		index, err := strconv.Atoi(strings.TrimPrefix(data, callbackSuggestPrefix))
		if err != nil {
			return fmt.Errorf("bad suggestion callback %q: %w", data, err)
		}
		text, err := view.UseSuggestion(index)
		if err != nil {
			return fmt.Errorf("failed to use suggestion: %w", err)
		}
		msg := api.NewMessage(chatID, MessageDraftFormat.Format(t.language, text))
		msg.ReplyMarkup = api.NewInlineKeyboardMarkup(
			[]api.InlineKeyboardButton{
				api.NewInlineKeyboardButtonData(ButtonSend.Text(t.language), callbackSend),
			},
		)
		if _, err = t.sendToBot(msg); err != nil {
			return fmt.Errorf("failed to send draft: %w", err)
		}
	case strings.HasPrefix(data, callbackChatPrefix):
		id, err := uuid.Parse(strings.TrimPrefix(data, callbackChatPrefix))
		if err != nil {
			return fmt.Errorf("bad chat callback %q: %w", data, err)
		}
		chat, err := view.SelectChat(ctx, id)
		if err != nil {
			if errors.Is(err, model.ErrChatDoesNotExist) {
				t.sendMessageAndHandleErr(chatID, MessageChatNotFound.Text(t.language))
				return nil
			}
			t.sendMessageAndHandleErr(chatID, MessageServerError.Text(t.language))
			return fmt.Errorf("failed to select chat: %w", err)
		}
		t.sendMessageAndHandleErr(chatID, MessageChatSelected.Format(t.language, chat.Title))
	default:
		return fmt.Errorf("unknown callback %q", data)
	}
	return nil
}

// submit starts a turn and posts its reply once it has been resolved. Rejected
// submissions are ignored.
func (t *TelegramUsecase) submit(ctx context.Context, chatID int64, view *View, text string) {
	turn, ok := view.Submit(ctx, text)
	if !ok {
		return
	}
	t.wg.Go(
		func() {
			t.sendTyping(chatID)
			ticker := time.NewTicker(t.typingInterval)
			defer ticker.Stop()
			for {
				select {
				case <-turn.Done():
					result := turn.Wait()
					if result.Discarded {
						return
					}
					t.sendMessageAndHandleErr(chatID, result.Reply.Content)
					return
				case <-ticker.C:
					t.sendTyping(chatID)
				}
			}
		},
	)
}

func (t *TelegramUsecase) sendChats(ctx context.Context, chatID int64, view *View) error {
	chats, err := view.ListChats(ctx)
	if err != nil {
		t.sendMessageAndHandleErr(chatID, MessageServerError.Text(t.language))
		return fmt.Errorf("failed to list chats: %w", err)
	}
	if len(chats) == 0 {
		t.sendMessageAndHandleErr(chatID, MessageNoChats.Text(t.language))
		return nil
	}
	if len(chats) > maxListedChats {
		chats = chats[:maxListedChats]
	}

	active := view.ActiveChatID()
	inlineRows := make([][]api.InlineKeyboardButton, 0, len(chats))
	for _, chat := range chats {
		title := chat.Title
		if chat.ChatID == active {
			title = "• " + title
		}
		inlineRows = append(
			inlineRows, []api.InlineKeyboardButton{
				api.NewInlineKeyboardButtonData(title, callbackChatPrefix+chat.ChatID.String()),
			},
		)
	}
	msg := api.NewMessage(chatID, MessageChatsFormat.Format(t.language, len(chats)))
	msg.ReplyMarkup = api.NewInlineKeyboardMarkup(inlineRows...)
	if _, err = t.sendToBot(msg); err != nil {
		return fmt.Errorf("failed to send chats: %w", err)
	}
	return nil
}

func (t *TelegramUsecase) setSubject(ctx context.Context, chatID int64, view *View, arg string) error {
	if arg == "" {
		t.sendMessageAndHandleErr(chatID, MessageSubjectUsage.Format(t.language, t.subjectList()))
		return nil
	}

	subject := ""
	if !strings.EqualFold(arg, "all") {
		for _, s := range t.Catalog.Subjects {
			if strings.EqualFold(s, arg) {
				subject = s
				break
			}
		}
		if subject == "" {
			t.sendMessageAndHandleErr(chatID, MessageSubjectUsage.Format(t.language, t.subjectList()))
			return nil
		}
	}

	prefs, err := view.SetSubjectFilter(ctx, subject)
	if err != nil {
		t.sendMessageAndHandleErr(chatID, MessageServerError.Text(t.language))
		return err
	}
	if prefs.SubjectFilter == nil {
		t.sendMessageAndHandleErr(chatID, MessageSubjectAll.Text(t.language))
	} else {
		t.sendMessageAndHandleErr(chatID, MessageSubjectFormat.Format(t.language, *prefs.SubjectFilter))
	}
	return nil
}

func (t *TelegramUsecase) sendSuggestions(chatID int64, text string) error {
	msg := api.NewMessage(chatID, text)
	if len(t.Catalog.Suggestions) > 0 {
		inlineRows := make([][]api.InlineKeyboardButton, 0, len(t.Catalog.Suggestions))
		for i, suggestion := range t.Catalog.Suggestions {
			inlineRows = append(
				inlineRows, []api.InlineKeyboardButton{
					api.NewInlineKeyboardButtonData(suggestion, callbackSuggestPrefix+strconv.Itoa(i)),
				},
			)
		}
		msg.ReplyMarkup = api.NewInlineKeyboardMarkup(inlineRows...)
	}
	if _, err := t.sendToBot(msg); err != nil {
		return fmt.Errorf("failed to send suggestions: %w", err)
	}
	return nil
}

func (t *TelegramUsecase) subjectList() string {
	subjects := make([]string, 0, len(t.Catalog.Subjects))
	for _, s := range t.Catalog.Subjects {
		if s != model.AllSubjects {
			subjects = append(subjects, s)
		}
	}
	return strings.Join(subjects, ", ")
}

func (t *TelegramUsecase) openView(ctx context.Context, chatID int64) (*View, error) {
	viewID := TelegramViewID(chatID)
	view, err := t.Views.Open(ctx, viewID, viewID)
	if err != nil {
		t.sendMessageAndHandleErr(chatID, MessageServerError.Text(t.language))
		return nil, fmt.Errorf("failed to open view: %w", err)
	}
	return view, nil
}

func (t *TelegramUsecase) allowed(chatID int64) bool {
	if len(t.allowedUsers) == 0 {
		return true
	}
	_, ok := t.allowedUsers[chatID]
	return ok
}

// TelegramViewID is the view id of a Telegram chat.
func TelegramViewID(chatID int64) string {
	return telegramViewPrefix + strconv.FormatInt(chatID, 10)
}

func (t *TelegramUsecase) sendTyping(chatID int64) {
	if _, err := t.Bot.Request(api.NewChatAction(chatID, api.ChatTyping)); err != nil {
		t.Logger.Warn("failed to send chat action", "chat_id", chatID, "error", err)
	}
}

// sendMessageAndHandleErr sends message, split into several Telegram messages
// when it is too long, and returns the last one sent.
func (t *TelegramUsecase) sendMessageAndHandleErr(chatID int64, message string) api.Message {
	var msg api.Message
	for _, part := range splitMessage(message, maxMessageLength) {
		sent, err := t.sendMessage(chatID, part)
		if err != nil {
			t.Logger.Error("failed to send message to bot", "chat_id", chatID, "error", err)
			return msg
		}
		msg = sent
	}
	return msg
}

// splitMessage cuts text into parts of at most limit UTF-16 code units,
// cutting at a line break or else a space when the part has one.
func splitMessage(text string, limit int) []string {
	var parts []string
	for {
		if len(parts) > 0 {
			text = strings.TrimLeft(text, " \n")
		}
		cut, fits := fitUTF16(text, limit)
		if fits {
			if strings.TrimSpace(text) != "" || len(parts) == 0 {
				parts = append(parts, text)
			}
			return parts
		}
		if next := text[cut]; next != ' ' && next != '\n' {
			head := text[:cut]
			if i := strings.LastIndex(head, "\n"); i > 0 {
				cut = i + 1
			} else if i = strings.LastIndex(head, " "); i > 0 {
				cut = i + 1
			}
		}
		if part := strings.TrimRight(text[:cut], " \n"); part != "" {
			parts = append(parts, part)
		}
		text = text[cut:]
	}
}

// fitUTF16 returns the byte length of the longest prefix of text within limit
// UTF-16 code units and whether that prefix is the whole text.
func fitUTF16(text string, limit int) (int, bool) {
	n := 0
	for i, r := range text {
		n += utf16.RuneLen(r)
		if n > limit {
			return i, false
		}
	}
	return len(text), true
}

func (t *TelegramUsecase) sendMessage(chatID int64, message string) (api.Message, error) {
	return t.sendToBot(api.NewMessage(chatID, message))
}

func (t *TelegramUsecase) sendToBot(c api.Chattable) (api.Message, error) {
	return t.Bot.Send(c)
}
