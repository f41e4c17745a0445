package usecase

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/iamvkosarev/ca-study-chat/internal/model"
	"github.com/iamvkosarev/ca-study-chat/internal/session"
)

const fallbackText = "Sorry, I encountered an error. Please try again."

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestExchange(provider ResponseProvider, cfg ExchangeConfig) (*ExchangeUsecase, *session.Store) {
	store := session.NewStore(nil)
	exchange := NewExchangeUsecase(
		ExchangeUsecaseDeps{
			Store:    store,
			Provider: provider,
			Logger:   discardLogger(),
		}, cfg,
	)
	return exchange, store
}

func replyWith(content string) ResponseProvider {
	return ResponseProviderFunc(
		func(ctx context.Context, userText string) (model.Message, error) {
			return model.Message{Content: content}, nil
		},
	)
}

func TestExchange_SuccessfulTurn(t *testing.T) {
	var got string
	provider := ResponseProviderFunc(
		func(ctx context.Context, userText string) (model.Message, error) {
			got = userText
			return model.Message{Content: "..."}, nil
		},
	)
	exchange, store := newTestExchange(provider, ExchangeConfig{})

	turn, ok := exchange.Submit(context.Background(), "Explain Section 44AD")
	if !ok {
		t.Fatal("submission rejected")
	}
	result := turn.Wait()

	if got != "Explain Section 44AD" {
		t.Errorf("provider got %q", got)
	}
	if result.Fallback || result.Discarded || result.Err != nil {
		t.Errorf("result = %+v", result)
	}

	snap := store.Snapshot()
	if snap.Pending {
		t.Error("pending = true after the turn resolved")
	}
	if len(snap.Messages) != 2 {
		t.Fatalf("len = %d, want 2", len(snap.Messages))
	}
	if snap.Messages[0].Role != model.RoleUser || snap.Messages[0].Content != "Explain Section 44AD" {
		t.Errorf("first = %+v", snap.Messages[0])
	}
	if snap.Messages[1].Role != model.RoleAssistant || snap.Messages[1].Content != "..." {
		t.Errorf("second = %+v", snap.Messages[1])
	}
	if snap.Messages[1].ID != result.Reply.ID {
		t.Error("result reply is not the appended message")
	}
}

func TestExchange_WhitespaceIsNoop(t *testing.T) {
	called := false
	provider := ResponseProviderFunc(
		func(ctx context.Context, userText string) (model.Message, error) {
			called = true
			return model.Message{Content: "unexpected"}, nil
		},
	)
	exchange, store := newTestExchange(provider, ExchangeConfig{})
	before := store.Snapshot()

	if _, ok := exchange.Submit(context.Background(), "   "); ok {
		t.Fatal("whitespace submission accepted")
	}
	exchange.Wait()

	snap := store.Snapshot()
	if len(snap.Messages) != 0 || snap.Pending {
		t.Errorf("snapshot = %+v", snap)
	}
	if snap.Version != before.Version {
		t.Error("state changed")
	}
	if called {
		t.Error("provider called")
	}
}

func TestExchange_FailureAppendsFallback(t *testing.T) {
	providerErr := errors.New("upstream unavailable")
	provider := ResponseProviderFunc(
		func(ctx context.Context, userText string) (model.Message, error) {
			return model.Message{}, providerErr
		},
	)
	exchange, store := newTestExchange(provider, ExchangeConfig{})

	turn, ok := exchange.Submit(context.Background(), "GST due dates")
	if !ok {
		t.Fatal("submission rejected")
	}
	result := turn.Wait()

	if !result.Fallback || !errors.Is(result.Err, providerErr) {
		t.Errorf("result = %+v", result)
	}
	snap := store.Snapshot()
	if snap.Pending {
		t.Error("pending = true after failure")
	}
	if len(snap.Messages) != 2 {
		t.Fatalf("len = %d, want 2", len(snap.Messages))
	}
	if snap.Messages[1].Role != model.RoleAssistant {
		t.Errorf("role = %q", snap.Messages[1].Role)
	}
	if snap.Messages[1].Content != fallbackText {
		t.Errorf("content = %q, want %q", snap.Messages[1].Content, fallbackText)
	}
}

func TestExchange_FallbackCases(t *testing.T) {
	tests := []struct {
		name     string
		provider ResponseProvider
		cfg      ExchangeConfig
		want     string
		wantErr  error
	}{
		{
			name: "panic",
			provider: ResponseProviderFunc(
				func(ctx context.Context, userText string) (model.Message, error) {
					panic("boom")
				},
			),
			want: fallbackText,
		},
		{
			name:     "empty reply",
			provider: replyWith("  \n"),
			want:     fallbackText,
			wantErr:  ErrEmptyReply,
		},
		{
			name: "timeout",
			provider: ResponseProviderFunc(
				func(ctx context.Context, userText string) (model.Message, error) {
					<-ctx.Done()
					return model.Message{}, ctx.Err()
				},
			),
			cfg:     ExchangeConfig{Timeout: 10 * time.Millisecond},
			want:    fallbackText,
			wantErr: context.DeadlineExceeded,
		},
		{
			name: "provider error",
			provider: ResponseProviderFunc(
				func(ctx context.Context, userText string) (model.Message, error) {
					return model.Message{}, errors.New("fail")
				},
			),
			want: fallbackText,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exchange, store := newTestExchange(tt.provider, tt.cfg)
			turn, ok := exchange.Submit(context.Background(), "Audit standards under SA 700")
			if !ok {
				t.Fatal("submission rejected")
			}
			result := turn.Wait()

			if !result.Fallback || result.Err == nil {
				t.Fatalf("result = %+v", result)
			}
			if tt.wantErr != nil && !errors.Is(result.Err, tt.wantErr) {
				t.Errorf("err = %v, want %v", result.Err, tt.wantErr)
			}
			snap := store.Snapshot()
			if snap.Pending {
				t.Error("pending = true")
			}
			if len(snap.Messages) != 2 || snap.Messages[1].Content != tt.want {
				t.Errorf("messages = %+v", snap.Messages)
			}
		})
	}
}

func TestExchange_SecondSubmissionWhilePending(t *testing.T) {
	release := make(chan struct{})
	provider := ResponseProviderFunc(
		func(ctx context.Context, userText string) (model.Message, error) {
			<-release
			return model.Message{Content: "Monthly GSTR-3B is due on the 20th."}, nil
		},
	)
	exchange, store := newTestExchange(provider, ExchangeConfig{})

	turn, ok := exchange.Submit(context.Background(), "GST return filing due dates")
	if !ok {
		t.Fatal("first submission rejected")
	}
	if !store.Snapshot().Pending {
		t.Fatal("pending = false while awaiting")
	}

	if _, ok = exchange.Submit(context.Background(), "What is depreciation?"); ok {
		t.Fatal("second submission accepted while pending")
	}
	if got := len(store.Snapshot().Messages); got != 1 {
		t.Errorf("len = %d, want 1", got)
	}

	close(release)
	turn.Wait()

	snap := store.Snapshot()
	if len(snap.Messages) != 2 || snap.Pending {
		t.Errorf("snapshot = %+v", snap)
	}
	if _, ok = exchange.Submit(context.Background(), "What is depreciation?"); !ok {
		t.Error("submission rejected after the turn resolved")
	}
	exchange.Wait()
}

func TestExchange_ResetWhilePending(t *testing.T) {
	release := make(chan struct{})
	provider := ResponseProviderFunc(
		func(ctx context.Context, userText string) (model.Message, error) {
			<-release
			return model.Message{Content: "late"}, nil
		},
	)
	exchange, store := newTestExchange(provider, ExchangeConfig{})

	turn, ok := exchange.Submit(context.Background(), "Explain Section 44AD provisions")
	if !ok {
		t.Fatal("submission rejected")
	}
	store.ResetSession(nil)
	close(release)
	result := turn.Wait()

	if !result.Discarded {
		t.Error("reply not reported as discarded")
	}
	if result.Reply.Content != "late" || result.Reply.Role != model.RoleAssistant {
		t.Errorf("reply = %+v", result.Reply)
	}
	snap := store.Snapshot()
	if len(snap.Messages) != 0 {
		t.Errorf("messages = %+v, want none", snap.Messages)
	}
	if snap.Pending {
		t.Error("pending = true after the turn resolved")
	}
}

func TestExchange_DetachedFromCallerContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	provider := ResponseProviderFunc(
		func(ctx context.Context, userText string) (model.Message, error) {
			if err := ctx.Err(); err != nil {
				return model.Message{}, err
			}
			return model.Message{Content: "ok"}, nil
		},
	)
	exchange, _ := newTestExchange(provider, ExchangeConfig{})

	cancel()
	turn, ok := exchange.Submit(ctx, "Explain SA 700")
	if !ok {
		t.Fatal("submission rejected")
	}
	if result := turn.Wait(); result.Fallback {
		t.Errorf("turn failed with %v", result.Err)
	}
}
