package in_memory

import (
	"context"
	"sync"

	"github.com/iamvkosarev/ca-study-chat/internal/model"
)

type SyllabusStorage struct {
	mu      sync.RWMutex
	syllabi map[string]model.Syllabus
}

func NewSyllabusStorage() *SyllabusStorage {
	return &SyllabusStorage{
		syllabi: make(map[string]model.Syllabus),
	}
}

func (s *SyllabusStorage) GetSyllabus(_ context.Context, ownerID string) (model.Syllabus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	syllabus, ok := s.syllabi[ownerID]
	if !ok {
		return model.Syllabus{}, model.ErrSyllabusDoesNotExist
	}
	return cloneSyllabus(syllabus), nil
}

func (s *SyllabusStorage) SaveSyllabus(_ context.Context, syllabus model.Syllabus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.syllabi[syllabus.OwnerID] = cloneSyllabus(syllabus)
	return nil
}

func (s *SyllabusStorage) DeleteSyllabus(_ context.Context, ownerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.syllabi[ownerID]; !ok {
		return model.ErrSyllabusDoesNotExist
	}
	delete(s.syllabi, ownerID)
	return nil
}

func cloneSyllabus(syllabus model.Syllabus) model.Syllabus {
	syllabus.Data = append([]byte(nil), syllabus.Data...)
	return syllabus
}
