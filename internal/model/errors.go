package model

import "errors"

var (
	ErrChatDoesNotExist       = errors.New("chat does not exist")
	ErrViewDoesNotExist       = errors.New("view does not exist")
	ErrPreferencesDoNotExist  = errors.New("preferences do not exist")
	ErrSuggestionDoesNotExist = errors.New("suggestion does not exist")
	ErrSyllabusDoesNotExist   = errors.New("syllabus does not exist")
	ErrNotPDF                 = errors.New("syllabus is not a PDF file")
	ErrSyllabusTooLarge       = errors.New("syllabus is too large")
)
