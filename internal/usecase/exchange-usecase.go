package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/iamvkosarev/ca-study-chat/internal/model"
	"github.com/iamvkosarev/ca-study-chat/internal/session"
	"github.com/iamvkosarev/ca-study-chat/internal/telemetry"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
)

// FallbackReply is appended instead of the reply of a failed turn. It is the
// same in every interface language.
const FallbackReply = "Sorry, I encountered an error. Please try again."

var ErrEmptyReply = errors.New("provider returned an empty reply")

// ResponseProvider produces the assistant reply to a user submission.
type ResponseProvider interface {
	Provide(ctx context.Context, userText string) (model.Message, error)
}

type ResponseProviderFunc func(ctx context.Context, userText string) (model.Message, error)

func (f ResponseProviderFunc) Provide(ctx context.Context, userText string) (model.Message, error) {
	return f(ctx, userText)
}

type ExchangeUsecaseDeps struct {
	Store    *session.Store
	Provider ResponseProvider
	Metrics  *telemetry.TurnMetrics
	Logger   *slog.Logger
}

type ExchangeConfig struct {
	ViewID string
	// Timeout bounds one provider call. Zero means no timeout.
	Timeout time.Duration
}

// ExchangeUsecase runs the turns of one session: a turn is accepted only when
// the session is idle, the provider is called in the background and its reply
// or the fallback is appended before the session becomes idle again.
type ExchangeUsecase struct {
	ExchangeUsecaseDeps
	cfg ExchangeConfig
	wg  *conc.WaitGroup
}

type TurnResult struct {
	UserMessage model.Message
	Reply       model.Message
	Fallback    bool
	// Discarded is set when the session was reset before the reply arrived,
	// so the reply was not appended.
	Discarded bool
	// Err is the provider error behind a fallback. It is never shown to the
	// user.
	Err error
}

// Turn is a handle to an accepted submission.
type Turn struct {
	UserMessage model.Message
	done        chan struct{}
	result      TurnResult
}

func (t *Turn) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the turn has been resolved and the session is idle.
func (t *Turn) Wait() TurnResult {
	<-t.done
	return t.result
}

func NewExchangeUsecase(deps ExchangeUsecaseDeps, cfg ExchangeConfig) *ExchangeUsecase {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &ExchangeUsecase{
		ExchangeUsecaseDeps: deps,
		cfg:                 cfg,
		wg:                  conc.NewWaitGroup(),
	}
}

// Submit starts a turn for text. It returns false without touching the
// session when the trimmed text is empty or a turn is already pending.
func (e *ExchangeUsecase) Submit(ctx context.Context, text string) (*Turn, bool) {
	started, ok := e.Store.BeginTurn(text)
	if !ok {
		return nil, false
	}

	turn := &Turn{
		UserMessage: started.UserMessage,
		done:        make(chan struct{}),
	}
	// the turn outlives the request that started it
	ctx = context.WithoutCancel(ctx)
	e.wg.Go(
		func() {
			e.runTurn(ctx, started, turn)
		},
	)
	return turn, true
}

// Wait blocks until every started turn has been resolved.
func (e *ExchangeUsecase) Wait() {
	e.wg.Wait()
}

func (e *ExchangeUsecase) runTurn(ctx context.Context, started session.Turn, turn *Turn) {
	defer close(turn.done)
	defer e.Store.SetPending(false)

	ctx, span := e.Metrics.StartTurn(ctx, e.cfg.ViewID)
	defer span.End()

	result := TurnResult{UserMessage: started.UserMessage}
	begin := time.Now()
	reply, err := e.provide(ctx, started.UserMessage.Content)
	if err == nil && strings.TrimSpace(reply.Content) == "" {
		err = ErrEmptyReply
	}
	if err != nil {
		result.Fallback = true
		result.Err = err
		reply = model.Message{Content: FallbackReply}
		span.RecordError(err)
	}
	e.Metrics.RecordProvider(ctx, time.Since(begin), result.Fallback)

	reply.Role = model.RoleAssistant
	if reply.ID == uuid.Nil {
		reply.ID = model.NewID()
	}
	if reply.CreatedAt.IsZero() {
		reply.CreatedAt = time.Now()
	}

	appended, ok := e.Store.AppendReply(started, reply)
	if ok {
		result.Reply = appended
	} else {
		result.Reply = reply
		result.Discarded = true
		e.Logger.Debug("session reset before the reply arrived", "user_message_id", started.UserMessage.ID)
	}
	turn.result = result
}

func (e *ExchangeUsecase) provide(ctx context.Context, text string) (reply model.Message, err error) {
	if e.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancel()
	}

	var pc panics.Catcher
	pc.Try(
		func() {
			reply, err = e.Provider.Provide(ctx, text)
		},
	)
	if recovered := pc.Recovered(); recovered != nil {
		return model.Message{}, fmt.Errorf("provider panicked: %w", recovered.AsError())
	}
	return reply, err
}
