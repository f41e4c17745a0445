package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/iamvkosarev/ca-study-chat/internal/model"
	"github.com/iamvkosarev/ca-study-chat/internal/telemetry"
	"github.com/iamvkosarev/ca-study-chat/internal/usecase"
)

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleCatalog(c *gin.Context) {
	c.JSON(
		http.StatusOK, catalogResponse{
			Suggestions: s.Catalog.Suggestions,
			Subjects:    s.Catalog.Subjects,
		},
	)
}

func (s *Server) handleOpenView(c *gin.Context) {
	var req openViewRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		s.badRequest(c, err)
		return
	}
	view, err := s.Views.Open(c.Request.Context(), req.ViewID, req.OwnerID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toViewResponse(view.State()))
}

func (s *Server) handleGetView(c *gin.Context) {
	view, ok := s.view(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, toViewResponse(view.State()))
}

func (s *Server) handleCloseView(c *gin.Context) {
	if err := s.Views.Close(c.Param("viewID")); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// handleSubmit starts a turn. With ?wait=true the response carries the reply.
// Rejected submissions are reported with accepted=false.
func (s *Server) handleSubmit(c *gin.Context) {
	view, ok := s.view(c)
	if !ok {
		return
	}
	var req textRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}

	turn, accepted := view.Submit(c.Request.Context(), req.Text)
	if !accepted {
		c.JSON(http.StatusOK, submitResponse{Accepted: false})
		return
	}
	userMessage := toMessageResponse(turn.UserMessage)
	resp := submitResponse{
		Accepted:    true,
		UserMessage: &userMessage,
	}
	if wait, _ := strconv.ParseBool(c.Query("wait")); wait {
		result := turn.Wait()
		reply := toMessageResponse(result.Reply)
		resp.Reply = &reply
		resp.Fallback = result.Fallback
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleSetDraft(c *gin.Context) {
	view, ok := s.view(c)
	if !ok {
		return
	}
	var req textRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	view.SetDraft(req.Text)
	c.JSON(http.StatusOK, draftResponse{Draft: req.Text})
}

func (s *Server) handleUseSuggestion(c *gin.Context) {
	view, ok := s.view(c)
	if !ok {
		return
	}
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		s.badRequest(c, err)
		return
	}
	text, err := view.UseSuggestion(index)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, draftResponse{Draft: text})
}

func (s *Server) handleListChats(c *gin.Context) {
	view, ok := s.view(c)
	if !ok {
		return
	}
	chats, err := view.ListChats(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	active := view.ActiveChatID()
	resp := make([]chatResponse, 0, len(chats))
	for _, chat := range chats {
		resp = append(resp, toChatResponse(chat, active))
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleNewChat(c *gin.Context) {
	view, ok := s.view(c)
	if !ok {
		return
	}
	var req newChatRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		s.badRequest(c, err)
		return
	}
	chat, err := view.NewChat(c.Request.Context(), req.Subject)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toChatResponse(chat, chat.ChatID))
}

func (s *Server) handleSelectChat(c *gin.Context) {
	view, ok := s.view(c)
	if !ok {
		return
	}
	var req selectChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	chatID, err := uuid.Parse(req.ChatID)
	if err != nil {
		s.badRequest(c, err)
		return
	}
	if _, err = view.SelectChat(c.Request.Context(), chatID); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toViewResponse(view.State()))
}

func (s *Server) handleDeleteChat(c *gin.Context) {
	view, ok := s.view(c)
	if !ok {
		return
	}
	chatID, err := uuid.Parse(c.Param("chatID"))
	if err != nil {
		s.badRequest(c, err)
		return
	}
	if err = view.DeleteChat(c.Request.Context(), chatID); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleGetPreferences(c *gin.Context) {
	view, ok := s.view(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, toPreferencesResponse(view.Preferences()))
}

func (s *Server) handleUpdatePreferences(c *gin.Context) {
	view, ok := s.view(c)
	if !ok {
		return
	}
	var req updatePreferencesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}

	ctx := c.Request.Context()
	prefs := view.Preferences()
	var err error
	if req.Theme != nil {
		theme, ok := model.ParseTheme(*req.Theme)
		if !ok {
			c.JSON(http.StatusBadRequest, errorResponse{Error: "unknown theme " + strconv.Quote(*req.Theme)})
			return
		}
		if prefs, err = view.SetTheme(ctx, theme); err != nil {
			s.writeError(c, err)
			return
		}
	} else if req.ToggleTheme {
		if prefs, err = view.ToggleTheme(ctx); err != nil {
			s.writeError(c, err)
			return
		}
	}
	if req.SidebarOpen != nil {
		if prefs, err = view.SetSidebarOpen(ctx, *req.SidebarOpen); err != nil {
			s.writeError(c, err)
			return
		}
	}
	if req.SubjectFilter != nil {
		if prefs, err = view.SetSubjectFilter(ctx, *req.SubjectFilter); err != nil {
			s.writeError(c, err)
			return
		}
	}
	c.JSON(http.StatusOK, toPreferencesResponse(prefs))
}

// multipartOverhead leaves room for the form framing around the file.
const multipartOverhead = 64 << 10

// handleUploadSyllabus stores the PDF sent as the multipart field "file".
func (s *Server) handleUploadSyllabus(c *gin.Context) {
	view, ok := s.view(c)
	if !ok {
		return
	}
	maxSize := view.SyllabusMaxSize()
	if maxSize == 0 {
		s.writeError(c, usecase.ErrSyllabusDisabled)
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize+multipartOverhead)

	fh, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(c, model.ErrSyllabusTooLarge)
			return
		}
		s.badRequest(c, err)
		return
	}
	f, err := fh.Open()
	if err != nil {
		s.writeError(c, err)
		return
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, maxSize+1))
	if err != nil {
		s.writeError(c, err)
		return
	}

	syllabus, err := view.UploadSyllabus(c.Request.Context(), fh.Filename, fh.Header.Get("Content-Type"), data)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toSyllabusResponse(syllabus))
}

func (s *Server) handleGetSyllabus(c *gin.Context) {
	view, ok := s.view(c)
	if !ok {
		return
	}
	syllabus, err := view.Syllabus(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toSyllabusResponse(syllabus))
}

func (s *Server) handleDeleteSyllabus(c *gin.Context) {
	view, ok := s.view(c)
	if !ok {
		return
	}
	if err := view.DeleteSyllabus(c.Request.Context()); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) view(c *gin.Context) (*usecase.View, bool) {
	view, err := s.Views.Get(c.Param("viewID"))
	if err != nil {
		s.writeError(c, err)
		return nil, false
	}
	return view, true
}

func (s *Server) badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
}

func (s *Server) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, model.ErrViewDoesNotExist),
		errors.Is(err, model.ErrChatDoesNotExist),
		errors.Is(err, model.ErrSuggestionDoesNotExist),
		errors.Is(err, model.ErrSyllabusDoesNotExist):
		c.JSON(http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.Is(err, model.ErrNotPDF):
		c.JSON(http.StatusUnsupportedMediaType, errorResponse{Error: err.Error()})
	case errors.Is(err, model.ErrSyllabusTooLarge):
		c.JSON(http.StatusRequestEntityTooLarge, errorResponse{Error: err.Error()})
	case errors.Is(err, usecase.ErrSyllabusDisabled):
		c.JSON(http.StatusNotImplemented, errorResponse{Error: err.Error()})
	case errors.Is(err, usecase.ErrEmptyChatID):
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	default:
		telemetry.LoggerFromContext(c.Request.Context()).Error("request failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}
