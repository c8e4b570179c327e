package store

import (
	"context"
	"slices"
	"sync"

	"github.com/haasonsaas/relay/pkg/models"
)

// Memory is the default in-process backend. Creation order is tracked per
// entity type so pagination is deterministic within a process.
type Memory struct {
	mu sync.RWMutex

	assistants     map[string]*models.Assistant
	assistantOrder []string

	threads     map[string]*models.Thread
	threadOrder []string

	messages         map[string]*models.Message
	messagesByThread map[string][]string

	runs         map[string]*models.Run
	runsByThread map[string][]string

	files       map[string]*models.File
	fileOrder   []string
	fileContent map[string][]byte
}

// NewMemory returns an empty in-process store.
func NewMemory() *Memory {
	return &Memory{
		assistants:       make(map[string]*models.Assistant),
		threads:          make(map[string]*models.Thread),
		messages:         make(map[string]*models.Message),
		messagesByThread: make(map[string][]string),
		runs:             make(map[string]*models.Run),
		runsByThread:     make(map[string][]string),
		files:            make(map[string]*models.File),
		fileContent:      make(map[string][]byte),
	}
}

func (s *Memory) CreateAssistant(_ context.Context, a *models.Assistant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.assistants[a.ID]; ok {
		return ErrAlreadyExists
	}
	s.assistants[a.ID] = cloneAssistant(a)
	s.assistantOrder = append(s.assistantOrder, a.ID)
	return nil
}

func (s *Memory) GetAssistant(_ context.Context, id string) (*models.Assistant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.assistants[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneAssistant(a), nil
}

func (s *Memory) UpdateAssistant(_ context.Context, a *models.Assistant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.assistants[a.ID]; !ok {
		return ErrNotFound
	}
	s.assistants[a.ID] = cloneAssistant(a)
	return nil
}

func (s *Memory) DeleteAssistant(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.assistants[id]; !ok {
		return ErrNotFound
	}
	delete(s.assistants, id)
	s.assistantOrder = removeID(s.assistantOrder, id)
	return nil
}

func (s *Memory) ListAssistants(_ context.Context, page Page) ([]*models.Assistant, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	window, hasMore := pageWindow(s.assistantOrder, page)
	out := make([]*models.Assistant, 0, len(window))
	for _, id := range window {
		out = append(out, cloneAssistant(s.assistants[id]))
	}
	return out, hasMore, nil
}

func (s *Memory) CreateThread(_ context.Context, t *models.Thread) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.threads[t.ID]; ok {
		return ErrAlreadyExists
	}
	s.threads[t.ID] = cloneThread(t)
	s.threadOrder = append(s.threadOrder, t.ID)
	return nil
}

func (s *Memory) GetThread(_ context.Context, id string) (*models.Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.threads[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneThread(t), nil
}

func (s *Memory) UpdateThread(_ context.Context, t *models.Thread) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.threads[t.ID]; !ok {
		return ErrNotFound
	}
	s.threads[t.ID] = cloneThread(t)
	return nil
}

func (s *Memory) DeleteThread(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.threads[id]; !ok {
		return ErrNotFound
	}
	delete(s.threads, id)
	s.threadOrder = removeID(s.threadOrder, id)
	for _, mid := range s.messagesByThread[id] {
		delete(s.messages, mid)
	}
	delete(s.messagesByThread, id)
	for _, rid := range s.runsByThread[id] {
		delete(s.runs, rid)
	}
	delete(s.runsByThread, id)
	return nil
}

func (s *Memory) CreateMessage(_ context.Context, m *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.threads[m.ThreadID]; !ok {
		return ErrNotFound
	}
	if _, ok := s.messages[m.ID]; ok {
		return ErrAlreadyExists
	}
	s.messages[m.ID] = cloneMessage(m)
	s.messagesByThread[m.ThreadID] = append(s.messagesByThread[m.ThreadID], m.ID)
	return nil
}

func (s *Memory) GetMessage(_ context.Context, threadID, id string) (*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[id]
	if !ok || m.ThreadID != threadID {
		return nil, ErrNotFound
	}
	return cloneMessage(m), nil
}

func (s *Memory) UpdateMessage(_ context.Context, m *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.messages[m.ID]
	if !ok || existing.ThreadID != m.ThreadID {
		return ErrNotFound
	}
	s.messages[m.ID] = cloneMessage(m)
	return nil
}

func (s *Memory) DeleteMessage(_ context.Context, threadID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok || m.ThreadID != threadID {
		return ErrNotFound
	}
	delete(s.messages, id)
	s.messagesByThread[threadID] = removeID(s.messagesByThread[threadID], id)
	return nil
}

func (s *Memory) ListMessages(_ context.Context, threadID string, page Page) ([]*models.Message, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.threads[threadID]; !ok {
		return nil, false, ErrNotFound
	}
	window, hasMore := pageWindow(s.messagesByThread[threadID], page)
	out := make([]*models.Message, 0, len(window))
	for _, id := range window {
		out = append(out, cloneMessage(s.messages[id]))
	}
	return out, hasMore, nil
}

func (s *Memory) CreateRun(_ context.Context, r *models.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.threads[r.ThreadID]; !ok {
		return ErrNotFound
	}
	if _, ok := s.runs[r.ID]; ok {
		return ErrAlreadyExists
	}
	s.runs[r.ID] = cloneRun(r)
	s.runsByThread[r.ThreadID] = append(s.runsByThread[r.ThreadID], r.ID)
	return nil
}

func (s *Memory) GetRun(_ context.Context, threadID, id string) (*models.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.runs[id]
	if !ok || r.ThreadID != threadID {
		return nil, ErrNotFound
	}
	return cloneRun(r), nil
}

func (s *Memory) UpdateRun(_ context.Context, r *models.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.runs[r.ID]
	if !ok || existing.ThreadID != r.ThreadID {
		return ErrNotFound
	}
	s.runs[r.ID] = cloneRun(r)
	return nil
}

func (s *Memory) ListRuns(_ context.Context, threadID string, page Page) ([]*models.Run, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.threads[threadID]; !ok {
		return nil, false, ErrNotFound
	}
	window, hasMore := pageWindow(s.runsByThread[threadID], page)
	out := make([]*models.Run, 0, len(window))
	for _, id := range window {
		out = append(out, cloneRun(s.runs[id]))
	}
	return out, hasMore, nil
}

func (s *Memory) CreateFile(_ context.Context, f *models.File, content []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.files[f.ID]; ok {
		return ErrAlreadyExists
	}
	cp := *f
	s.files[f.ID] = &cp
	s.fileOrder = append(s.fileOrder, f.ID)
	s.fileContent[f.ID] = slices.Clone(content)
	return nil
}

func (s *Memory) GetFile(_ context.Context, id string) (*models.File, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.files[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *f
	return &cp, nil
}

func (s *Memory) GetFileContent(_ context.Context, id string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.fileContent[id]
	if !ok {
		return nil, ErrNotFound
	}
	return slices.Clone(data), nil
}

func (s *Memory) DeleteFile(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.files[id]; !ok {
		return ErrNotFound
	}
	delete(s.files, id)
	delete(s.fileContent, id)
	s.fileOrder = removeID(s.fileOrder, id)
	return nil
}

func (s *Memory) ListFiles(_ context.Context, purpose string, page Page) ([]*models.File, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.fileOrder
	if purpose != "" {
		ids = make([]string, 0, len(s.fileOrder))
		for _, id := range s.fileOrder {
			if s.files[id].Purpose == purpose {
				ids = append(ids, id)
			}
		}
	}
	window, hasMore := pageWindow(ids, page)
	out := make([]*models.File, 0, len(window))
	for _, id := range window {
		cp := *s.files[id]
		out = append(out, &cp)
	}
	return out, hasMore, nil
}

func (s *Memory) Close() error { return nil }

func removeID(ids []string, id string) []string {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}
