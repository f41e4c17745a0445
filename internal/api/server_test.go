package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/iamvkosarev/ca-study-chat/config"
	"github.com/iamvkosarev/ca-study-chat/internal/catalog"
	"github.com/iamvkosarev/ca-study-chat/internal/model"
	in_memory "github.com/iamvkosarev/ca-study-chat/internal/storage/in-memory"
	"github.com/iamvkosarev/ca-study-chat/internal/usecase"
)

func newTestServer(t *testing.T, provider usecase.ResponseProvider) (*Server, *usecase.ViewUsecase) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cat := catalog.Default()
	chats := usecase.NewChatUsecase(usecase.ChatUsecaseDeps{ChatStorage: in_memory.NewChatStorage()})
	prefs := usecase.NewPreferencesUsecase(
		usecase.PreferencesUsecaseDeps{PreferencesStorage: in_memory.NewPreferencesStorage()},
		config.UI{Theme: "dark", SidebarOpen: true},
	)
	views := usecase.NewViewUsecase(
		usecase.ViewUsecaseDeps{
			Chats:       chats,
			Preferences: prefs,
			Syllabi: usecase.NewSyllabusUsecase(
				usecase.SyllabusUsecaseDeps{SyllabusStorage: in_memory.NewSyllabusStorage()},
				config.Syllabus{MaxSize: 1 << 10},
			),
			Providers: usecase.ProviderFactoryFunc(
				func(usecase.HistoryFunc) usecase.ResponseProvider {
					return provider
				},
			),
			Suggestions: cat.Suggestion,
			Logger:      logger,
		},
		usecase.ViewConfig{},
	)
	t.Cleanup(views.Stop)

	srv := NewServer(
		config.HTTP{Address: ":0", ShutdownTimeout: time.Second}, ServerDeps{
			Views:   views,
			Catalog: cat,
			Logger:  logger,
		},
	)
	return srv, views
}

func replyWith(content string) usecase.ResponseProvider {
	return usecase.ResponseProviderFunc(
		func(ctx context.Context, userText string) (model.Message, error) {
			return model.Message{Content: content}, nil
		},
	)
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %s: %v", w.Body.String(), err)
	}
	return v
}

func openView(t *testing.T, h http.Handler, id string) viewResponse {
	t.Helper()
	w := do(t, h, http.MethodPost, "/api/views", `{"view_id":"`+id+`"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("open view: %d %s", w.Code, w.Body.String())
	}
	return decode[viewResponse](t, w)
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t, replyWith("ok"))
	w := do(t, srv.Handler(), http.MethodGet, "/healthz", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w.Header().Get(headerRequestID) == "" {
		t.Error("missing request id header")
	}
}

func TestRequestIDIsKept(t *testing.T) {
	srv, _ := newTestServer(t, replyWith("ok"))
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(headerRequestID, "req-42")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	if got := w.Header().Get(headerRequestID); got != "req-42" {
		t.Errorf("request id = %q", got)
	}
}

func TestCORSPreflight(t *testing.T) {
	srv, _ := newTestServer(t, replyWith("ok"))
	w := do(t, srv.Handler(), http.MethodOptions, "/api/views/web-1/messages", "")
	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing CORS header")
	}
}

func TestCatalog(t *testing.T) {
	srv, _ := newTestServer(t, replyWith("ok"))
	w := do(t, srv.Handler(), http.MethodGet, "/api/catalog", "")
	resp := decode[catalogResponse](t, w)
	if len(resp.Suggestions) != 4 || resp.Subjects[0] != model.AllSubjects {
		t.Errorf("catalog = %+v", resp)
	}
}

func TestOpenGetCloseView(t *testing.T) {
	srv, _ := newTestServer(t, replyWith("ok"))
	h := srv.Handler()

	view := openView(t, h, "web-1")
	if view.ViewID != "web-1" || view.Preferences.Theme != "dark" || !view.Preferences.SidebarOpen {
		t.Errorf("view = %+v", view)
	}
	if len(view.Snapshot.Messages) != 0 || view.Snapshot.Pending {
		t.Errorf("snapshot = %+v", view.Snapshot)
	}

	w := do(t, h, http.MethodPost, "/api/views", "")
	if w.Code != http.StatusCreated || decode[viewResponse](t, w).ViewID == "" {
		t.Errorf("open without body: %d %s", w.Code, w.Body.String())
	}

	if w = do(t, h, http.MethodGet, "/api/views/web-1", ""); w.Code != http.StatusOK {
		t.Errorf("get: %d", w.Code)
	}
	if w = do(t, h, http.MethodDelete, "/api/views/web-1", ""); w.Code != http.StatusNoContent {
		t.Errorf("close: %d", w.Code)
	}
	w = do(t, h, http.MethodGet, "/api/views/web-1", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("get closed: %d", w.Code)
	}
	if decode[errorResponse](t, w).Error == "" {
		t.Error("missing error body")
	}
}

func TestSubmitAndWait(t *testing.T) {
	srv, _ := newTestServer(t, replyWith("Depreciation under Schedule II uses useful lives."))
	h := srv.Handler()
	openView(t, h, "web-1")

	w := do(t, h, http.MethodPost, "/api/views/web-1/messages?wait=true", `{"text":"  What is depreciation?  "}`)
	if w.Code != http.StatusOK {
		t.Fatalf("submit: %d %s", w.Code, w.Body.String())
	}
	resp := decode[submitResponse](t, w)
	if !resp.Accepted || resp.UserMessage == nil || resp.Reply == nil {
		t.Fatalf("resp = %+v", resp)
	}
	if resp.UserMessage.Content != "What is depreciation?" || resp.UserMessage.Role != "user" {
		t.Errorf("user message = %+v", resp.UserMessage)
	}
	if resp.Reply.Role != "assistant" || resp.Fallback {
		t.Errorf("reply = %+v", resp.Reply)
	}

	view := decode[viewResponse](t, do(t, h, http.MethodGet, "/api/views/web-1", ""))
	if len(view.Snapshot.Messages) != 2 || view.Snapshot.Pending || view.ActiveChatID == "" {
		t.Errorf("view = %+v", view)
	}
}

func TestSubmitRejected(t *testing.T) {
	srv, _ := newTestServer(t, replyWith("ok"))
	h := srv.Handler()
	openView(t, h, "web-1")

	w := do(t, h, http.MethodPost, "/api/views/web-1/messages", `{"text":"   "}`)
	if w.Code != http.StatusOK || decode[submitResponse](t, w).Accepted {
		t.Errorf("whitespace submit: %d %s", w.Code, w.Body.String())
	}
	if w = do(t, h, http.MethodPost, "/api/views/web-1/messages", `{"text":`); w.Code != http.StatusBadRequest {
		t.Errorf("bad json: %d", w.Code)
	}
	if w = do(t, h, http.MethodPost, "/api/views/nope/messages", `{"text":"hi"}`); w.Code != http.StatusNotFound {
		t.Errorf("unknown view: %d", w.Code)
	}
}

func TestDraftAndSuggestion(t *testing.T) {
	srv, _ := newTestServer(t, replyWith("ok"))
	h := srv.Handler()
	openView(t, h, "web-1")

	if w := do(t, h, http.MethodPut, "/api/views/web-1/draft", `{"text":"Audit"}`); w.Code != http.StatusOK {
		t.Errorf("draft: %d", w.Code)
	}
	w := do(t, h, http.MethodPost, "/api/views/web-1/suggestions/3", "")
	if got := decode[draftResponse](t, w).Draft; got != "Audit standards under SA 700" {
		t.Errorf("draft = %q", got)
	}
	view := decode[viewResponse](t, do(t, h, http.MethodGet, "/api/views/web-1", ""))
	if view.Snapshot.Draft != "Audit standards under SA 700" {
		t.Errorf("snapshot draft = %q", view.Snapshot.Draft)
	}

	if w = do(t, h, http.MethodPost, "/api/views/web-1/suggestions/9", ""); w.Code != http.StatusNotFound {
		t.Errorf("missing suggestion: %d", w.Code)
	}
	if w = do(t, h, http.MethodPost, "/api/views/web-1/suggestions/x", ""); w.Code != http.StatusBadRequest {
		t.Errorf("bad index: %d", w.Code)
	}
}

func TestChats(t *testing.T) {
	srv, _ := newTestServer(t, replyWith("ok"))
	h := srv.Handler()
	openView(t, h, "web-1")

	w := do(t, h, http.MethodPost, "/api/views/web-1/chats", `{"subject":"Taxation"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("new chat: %d %s", w.Code, w.Body.String())
	}
	tax := decode[chatResponse](t, w)
	if tax.Subject != "Taxation" || !tax.Active {
		t.Errorf("chat = %+v", tax)
	}
	w = do(t, h, http.MethodPost, "/api/views/web-1/chats", "")
	law := decode[chatResponse](t, w)

	chats := decode[[]chatResponse](t, do(t, h, http.MethodGet, "/api/views/web-1/chats", ""))
	if len(chats) != 2 {
		t.Fatalf("chats = %d", len(chats))
	}

	w = do(t, h, http.MethodPut, "/api/views/web-1/chats/active", `{"chat_id":"`+tax.ID+`"}`)
	if w.Code != http.StatusOK || decode[viewResponse](t, w).ActiveChatID != tax.ID {
		t.Errorf("select: %d %s", w.Code, w.Body.String())
	}
	if w = do(t, h, http.MethodPut, "/api/views/web-1/chats/active", `{"chat_id":"nope"}`); w.Code != http.StatusBadRequest {
		t.Errorf("bad chat id: %d", w.Code)
	}
	if w = do(t, h, http.MethodPut, "/api/views/web-1/chats/active", `{}`); w.Code != http.StatusBadRequest {
		t.Errorf("missing chat id: %d", w.Code)
	}

	if w = do(t, h, http.MethodDelete, "/api/views/web-1/chats/"+law.ID, ""); w.Code != http.StatusNoContent {
		t.Errorf("delete: %d", w.Code)
	}
	if w = do(t, h, http.MethodDelete, "/api/views/web-1/chats/"+law.ID, ""); w.Code != http.StatusNotFound {
		t.Errorf("delete again: %d", w.Code)
	}
	w = do(t, h, http.MethodPut, "/api/views/web-1/chats/active", `{"chat_id":"`+law.ID+`"}`)
	if w.Code != http.StatusNotFound {
		t.Errorf("select deleted: %d", w.Code)
	}
}

func TestPreferences(t *testing.T) {
	srv, _ := newTestServer(t, replyWith("ok"))
	h := srv.Handler()
	openView(t, h, "web-1")

	w := do(t, h, http.MethodPatch, "/api/views/web-1/preferences", `{"toggle_theme":true,"sidebar_open":false,"subject_filter":"Audit"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("patch: %d %s", w.Code, w.Body.String())
	}
	prefs := decode[preferencesResponse](t, w)
	if prefs.Theme != "light" || prefs.SidebarOpen || prefs.SubjectFilter == nil || *prefs.SubjectFilter != "Audit" {
		t.Errorf("prefs = %+v", prefs)
	}

	w = do(t, h, http.MethodPatch, "/api/views/web-1/preferences", `{"theme":"dark","subject_filter":"All Subjects"}`)
	prefs = decode[preferencesResponse](t, w)
	if prefs.Theme != "dark" || prefs.SubjectFilter != nil {
		t.Errorf("prefs = %+v", prefs)
	}
	if got := decode[preferencesResponse](t, do(t, h, http.MethodGet, "/api/views/web-1/preferences", "")); got.Theme != "dark" {
		t.Errorf("get prefs = %+v", got)
	}

	if w = do(t, h, http.MethodPatch, "/api/views/web-1/preferences", `{"theme":"sepia"}`); w.Code != http.StatusBadRequest {
		t.Errorf("bad theme: %d", w.Code)
	}
}

func TestEventsStream(t *testing.T) {
	release := make(chan struct{})
	provider := usecase.ResponseProviderFunc(
		func(ctx context.Context, userText string) (model.Message, error) {
			<-release
			return model.Message{Content: "SA 700 covers forming an opinion."}, nil
		},
	)
	srv, views := newTestServer(t, provider)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()
	openView(t, srv.Handler(), "web-1")

	resp, err := http.Get(ts.URL + "/api/views/web-1/events")
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Errorf("content type = %q", ct)
	}

	events := make(chan snapshotResponse, 16)
	go func() {
		defer close(events)
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			var snap snapshotResponse
			if json.Unmarshal([]byte(strings.TrimPrefix(line, "data:")), &snap) == nil {
				events <- snap
			}
		}
	}()

	next := func() snapshotResponse {
		t.Helper()
		select {
		case snap, ok := <-events:
			if !ok {
				t.Fatal("stream ended")
			}
			return snap
		case <-time.After(2 * time.Second):
			t.Fatal("no event")
		}
		return snapshotResponse{}
	}

	if first := next(); first.Pending || len(first.Messages) != 0 {
		t.Errorf("initial = %+v", first)
	}

	view, err := views.Get("web-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if _, ok := view.Submit(context.Background(), "Audit standards under SA 700"); !ok {
		t.Fatal("submit rejected")
	}
	for snap := next(); !snap.Pending; snap = next() {
	}
	close(release)
	for snap := next(); snap.Pending || len(snap.Messages) != 2; snap = next() {
	}

	if err = views.Close("web-1"); err != nil {
		t.Fatalf("Close: %v", err)
	}
	for range events {
	}
}

func TestServeEndsEventStreamsOnShutdown(t *testing.T) {
	srv, _ := newTestServer(t, replyWith("ok"))
	openView(t, srv.Handler(), "web-1")

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	served := make(chan error, 1)
	go func() {
		served <- srv.Serve(ctx, ln)
	}()

	resp, err := http.Get("http://" + ln.Addr().String() + "/api/views/web-1/events")
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	defer resp.Body.Close()
	line, err := bufio.NewReader(resp.Body).ReadString('\n')
	if err != nil || !strings.HasPrefix(line, "event:") {
		t.Fatalf("first line = %q, %v", line, err)
	}

	begin := time.Now()
	cancel()
	select {
	case err = <-served:
		if err != nil {
			t.Fatalf("Serve: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return")
	}
	if elapsed := time.Since(begin); elapsed >= time.Second {
		t.Errorf("shutdown took %s, want less than the shutdown timeout", elapsed)
	}
}

func uploadSyllabus(t *testing.T, h http.Handler, viewID, fileName, contentType string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="file"; filename="`+fileName+`"`)
	header.Set("Content-Type", contentType)
	part, err := mw.CreatePart(header)
	if err != nil {
		t.Fatalf("CreatePart: %v", err)
	}
	if _, err = part.Write(data); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err = mw.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/views/"+viewID+"/syllabus", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestSyllabus(t *testing.T) {
	seen := make(chan string, 1)
	srv, _ := newTestServer(
		t, usecase.ResponseProviderFunc(
			func(ctx context.Context, userText string) (model.Message, error) {
				syllabus, _ := usecase.SyllabusFromContext(ctx)
				seen <- syllabus.FileName
				return model.Message{Content: "ok"}, nil
			},
		),
	)
	h := srv.Handler()
	openView(t, h, "web-1")
	pdf := []byte("%PDF-1.7\n% CA Intermediate\n%%EOF")

	if w := do(t, h, http.MethodGet, "/api/views/web-1/syllabus", ""); w.Code != http.StatusNotFound {
		t.Errorf("get before upload = %d", w.Code)
	}
	if w := uploadSyllabus(t, h, "web-1", "notes.txt", "text/plain", pdf); w.Code != http.StatusUnsupportedMediaType {
		t.Errorf("text upload = %d %s", w.Code, w.Body.String())
	}
	if w := uploadSyllabus(t, h, "web-1", "fake.pdf", "application/pdf", []byte("plain text")); w.Code != http.StatusUnsupportedMediaType {
		t.Errorf("fake pdf upload = %d %s", w.Code, w.Body.String())
	}
	big := append(append([]byte{}, pdf...), make([]byte, 2<<10)...)
	if w := uploadSyllabus(t, h, "web-1", "big.pdf", "application/pdf", big); w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("large upload = %d %s", w.Code, w.Body.String())
	}
	if w := uploadSyllabus(t, h, "missing", "final.pdf", "application/pdf", pdf); w.Code != http.StatusNotFound {
		t.Errorf("upload to missing view = %d", w.Code)
	}

	w := uploadSyllabus(t, h, "web-1", "intermediate.pdf", "application/pdf", pdf)
	if w.Code != http.StatusCreated {
		t.Fatalf("upload = %d %s", w.Code, w.Body.String())
	}
	uploaded := decode[syllabusResponse](t, w)
	if uploaded.FileName != "intermediate.pdf" || uploaded.Size != len(pdf) {
		t.Errorf("uploaded = %+v", uploaded)
	}
	w = do(t, h, http.MethodGet, "/api/views/web-1/syllabus", "")
	if w.Code != http.StatusOK || decode[syllabusResponse](t, w).FileName != "intermediate.pdf" {
		t.Errorf("get = %d %s", w.Code, w.Body.String())
	}

	w = do(t, h, http.MethodPost, "/api/views/web-1/messages?wait=true", `{"text":"Which papers are in Group I?"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("submit = %d %s", w.Code, w.Body.String())
	}
	if got := <-seen; got != "intermediate.pdf" {
		t.Errorf("provider saw syllabus %q", got)
	}

	if w = do(t, h, http.MethodDelete, "/api/views/web-1/syllabus", ""); w.Code != http.StatusNoContent {
		t.Errorf("delete = %d", w.Code)
	}
	if w = do(t, h, http.MethodDelete, "/api/views/web-1/syllabus", ""); w.Code != http.StatusNotFound {
		t.Errorf("second delete = %d", w.Code)
	}
}
