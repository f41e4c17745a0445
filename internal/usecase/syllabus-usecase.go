package usecase

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"path"
	"strings"
	"time"

	"github.com/iamvkosarev/ca-study-chat/config"
	"github.com/iamvkosarev/ca-study-chat/internal/model"
)

const (
	defaultSyllabusMaxSize  = 10 << 20
	defaultSyllabusFileName = "syllabus.pdf"
)

type SyllabusStorage interface {
	GetSyllabus(ctx context.Context, ownerID string) (model.Syllabus, error)
	SaveSyllabus(ctx context.Context, syllabus model.Syllabus) error
	DeleteSyllabus(ctx context.Context, ownerID string) error
}

type SyllabusUsecaseDeps struct {
	SyllabusStorage SyllabusStorage
}

// SyllabusUsecase keeps the syllabus PDF of each owner. Providers receive it
// with every turn through the context, see SyllabusFromContext.
type SyllabusUsecase struct {
	SyllabusUsecaseDeps
	maxSize int64
	now     func() time.Time
}

func NewSyllabusUsecase(deps SyllabusUsecaseDeps, cfg config.Syllabus) *SyllabusUsecase {
	maxSize := cfg.MaxSize
	if maxSize <= 0 {
		maxSize = defaultSyllabusMaxSize
	}
	return &SyllabusUsecase{
		SyllabusUsecaseDeps: deps,
		maxSize:             maxSize,
		now:                 time.Now,
	}
}

func (s *SyllabusUsecase) MaxSize() int64 {
	return s.maxSize
}

// Upload validates and stores the syllabus of ownerID, replacing the previous
// one. A declared contentType must be application/pdf; an empty one is judged
// by the data alone.
func (s *SyllabusUsecase) Upload(
	ctx context.Context, ownerID, fileName, contentType string, data []byte,
) (model.Syllabus, error) {
	if contentType != "" {
		mediaType, _, err := mime.ParseMediaType(contentType)
		if err != nil || mediaType != model.SyllabusContentType {
			return model.Syllabus{}, fmt.Errorf("content type %q: %w", contentType, model.ErrNotPDF)
		}
	}
	if int64(len(data)) > s.maxSize {
		return model.Syllabus{}, fmt.Errorf("%d bytes, limit %d: %w", len(data), s.maxSize, model.ErrSyllabusTooLarge)
	}
	if !model.IsPDF(data) {
		return model.Syllabus{}, model.ErrNotPDF
	}

	syllabus := model.Syllabus{
		OwnerID:    ownerID,
		FileName:   cleanFileName(fileName),
		Data:       data,
		UploadedAt: s.now().UTC(),
	}
	if err := s.SyllabusStorage.SaveSyllabus(ctx, syllabus); err != nil {
		return model.Syllabus{}, fmt.Errorf("failed to save syllabus of %s: %w", ownerID, err)
	}
	return syllabus, nil
}

func (s *SyllabusUsecase) GetSyllabus(ctx context.Context, ownerID string) (model.Syllabus, error) {
	syllabus, err := s.SyllabusStorage.GetSyllabus(ctx, ownerID)
	if err != nil {
		if errors.Is(err, model.ErrSyllabusDoesNotExist) {
			return model.Syllabus{}, err
		}
		return model.Syllabus{}, fmt.Errorf("failed to get syllabus of %s: %w", ownerID, err)
	}
	return syllabus, nil
}

func (s *SyllabusUsecase) DeleteSyllabus(ctx context.Context, ownerID string) error {
	if err := s.SyllabusStorage.DeleteSyllabus(ctx, ownerID); err != nil {
		if errors.Is(err, model.ErrSyllabusDoesNotExist) {
			return err
		}
		return fmt.Errorf("failed to delete syllabus of %s: %w", ownerID, err)
	}
	return nil
}

func cleanFileName(name string) string {
	name = strings.TrimSpace(strings.ReplaceAll(name, "\\", "/"))
	if name == "" {
		return defaultSyllabusFileName
	}
	name = path.Base(name)
	if name == "." || name == "/" {
		return defaultSyllabusFileName
	}
	return name
}

// syllabusInstruction names the syllabus a provider should keep to.
func syllabusInstruction(syllabus model.Syllabus) string {
	return fmt.Sprintf(
		"The student uploaded their CA syllabus as %q. Keep answers within the topics of that syllabus.",
		syllabus.FileName,
	)
}

type syllabusKey struct{}

// WithSyllabus returns a context carrying the syllabus a turn is answered with.
func WithSyllabus(ctx context.Context, syllabus model.Syllabus) context.Context {
	return context.WithValue(ctx, syllabusKey{}, syllabus)
}

func SyllabusFromContext(ctx context.Context) (model.Syllabus, bool) {
	syllabus, ok := ctx.Value(syllabusKey{}).(model.Syllabus)
	return syllabus, ok
}
