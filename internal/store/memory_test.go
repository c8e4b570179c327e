package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/haasonsaas/relay/pkg/models"
)

func newTestThread(t *testing.T, s Store) *models.Thread {
	t.Helper()
	th := &models.Thread{
		ID:        models.NewID(models.PrefixThread),
		Object:    models.ObjectThread,
		CreatedAt: time.Now().Unix(),
		Metadata:  map[string]string{},
	}
	if err := s.CreateThread(context.Background(), th); err != nil {
		t.Fatalf("CreateThread() error = %v", err)
	}
	return th
}

func TestMemoryAssistantLifecycle(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	name := "helper"
	a := &models.Assistant{
		ID:        models.NewID(models.PrefixAssistant),
		Object:    models.ObjectAssistant,
		CreatedAt: time.Now().Unix(),
		Name:      &name,
		Model:     "openai/gpt-4o",
	}

	if err := s.CreateAssistant(ctx, a); err != nil {
		t.Fatalf("CreateAssistant() error = %v", err)
	}
	if err := s.CreateAssistant(ctx, a); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("duplicate CreateAssistant() error = %v, want ErrAlreadyExists", err)
	}

	got, err := s.GetAssistant(ctx, a.ID)
	if err != nil {
		t.Fatalf("GetAssistant() error = %v", err)
	}
	if got.Model != a.Model {
		t.Fatalf("GetAssistant() model = %q", got.Model)
	}

	a.Model = "anthropic/claude-sonnet-4-5"
	if err := s.UpdateAssistant(ctx, a); err != nil {
		t.Fatalf("UpdateAssistant() error = %v", err)
	}
	got, _ = s.GetAssistant(ctx, a.ID)
	if got.Model != "anthropic/claude-sonnet-4-5" {
		t.Fatalf("updated model = %q", got.Model)
	}

	if err := s.DeleteAssistant(ctx, a.ID); err != nil {
		t.Fatalf("DeleteAssistant() error = %v", err)
	}
	if _, err := s.GetAssistant(ctx, a.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetAssistant() after delete error = %v, want ErrNotFound", err)
	}
}

func TestMemoryThreadCascadeDelete(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	th := newTestThread(t, s)

	msg := &models.Message{
		ID:       models.NewID(models.PrefixMessage),
		Object:   models.ObjectMessage,
		ThreadID: th.ID,
		Role:     models.MessageRoleUser,
		Content:  models.NewTextContent("hi"),
	}
	if err := s.CreateMessage(ctx, msg); err != nil {
		t.Fatalf("CreateMessage() error = %v", err)
	}
	run := &models.Run{
		ID:       models.NewID(models.PrefixRun),
		Object:   models.ObjectRun,
		ThreadID: th.ID,
		Status:   models.RunStatusQueued,
	}
	if err := s.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}

	if err := s.DeleteThread(ctx, th.ID); err != nil {
		t.Fatalf("DeleteThread() error = %v", err)
	}
	if _, err := s.GetMessage(ctx, th.ID, msg.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetMessage() after cascade error = %v, want ErrNotFound", err)
	}
	if _, err := s.GetRun(ctx, th.ID, run.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetRun() after cascade error = %v, want ErrNotFound", err)
	}
}

func TestMemoryMessageThreadScoping(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	th1 := newTestThread(t, s)
	th2 := newTestThread(t, s)

	msg := &models.Message{
		ID:       models.NewID(models.PrefixMessage),
		Object:   models.ObjectMessage,
		ThreadID: th1.ID,
		Role:     models.MessageRoleUser,
		Content:  models.NewTextContent("hi"),
	}
	if err := s.CreateMessage(ctx, msg); err != nil {
		t.Fatalf("CreateMessage() error = %v", err)
	}

	if _, err := s.GetMessage(ctx, th2.ID, msg.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("cross-thread GetMessage() error = %v, want ErrNotFound", err)
	}
}

func TestMemoryCreateMessageMissingThread(t *testing.T) {
	s := NewMemory()
	msg := &models.Message{
		ID:       models.NewID(models.PrefixMessage),
		ThreadID: "thread_missing",
		Role:     models.MessageRoleUser,
	}
	if err := s.CreateMessage(context.Background(), msg); !errors.Is(err, ErrNotFound) {
		t.Fatalf("CreateMessage() error = %v, want ErrNotFound", err)
	}
}

func TestMemoryFileContent(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	f := &models.File{
		ID:       models.NewID(models.PrefixFile),
		Object:   models.ObjectFile,
		Filename: "notes.txt",
		Purpose:  models.FilePurposeAssistants,
		Bytes:    5,
	}
	if err := s.CreateFile(ctx, f, []byte("hello")); err != nil {
		t.Fatalf("CreateFile() error = %v", err)
	}

	data, err := s.GetFileContent(ctx, f.ID)
	if err != nil {
		t.Fatalf("GetFileContent() error = %v", err)
	}
	if string(data) != "hello" {
		t.Fatalf("GetFileContent() = %q", data)
	}

	if err := s.DeleteFile(ctx, f.ID); err != nil {
		t.Fatalf("DeleteFile() error = %v", err)
	}
	if _, err := s.GetFileContent(ctx, f.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetFileContent() after delete error = %v, want ErrNotFound", err)
	}
}

func TestMemoryListFilesPurposeFilter(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	for i, purpose := range []string{models.FilePurposeAssistants, models.FilePurposeVision, models.FilePurposeAssistants} {
		f := &models.File{
			ID:       fmt.Sprintf("file_%024d", i),
			Object:   models.ObjectFile,
			Filename: fmt.Sprintf("f%d", i),
			Purpose:  purpose,
		}
		if err := s.CreateFile(ctx, f, nil); err != nil {
			t.Fatalf("CreateFile() error = %v", err)
		}
	}

	files, hasMore, err := s.ListFiles(ctx, models.FilePurposeAssistants, Page{})
	if err != nil {
		t.Fatalf("ListFiles() error = %v", err)
	}
	if len(files) != 2 || hasMore {
		t.Fatalf("ListFiles() = %d items, hasMore=%v", len(files), hasMore)
	}
}

func TestMemoryListMessagesPagination(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	th := newTestThread(t, s)

	ids := make([]string, 0, 5)
	for i := 0; i < 5; i++ {
		m := &models.Message{
			ID:       fmt.Sprintf("msg_%024d", i),
			Object:   models.ObjectMessage,
			ThreadID: th.ID,
			Role:     models.MessageRoleUser,
			Content:  models.NewTextContent(fmt.Sprintf("m%d", i)),
		}
		if err := s.CreateMessage(ctx, m); err != nil {
			t.Fatalf("CreateMessage() error = %v", err)
		}
		ids = append(ids, m.ID)
	}

	// Default order is newest first.
	page, hasMore, err := s.ListMessages(ctx, th.ID, Page{Limit: 2})
	if err != nil {
		t.Fatalf("ListMessages() error = %v", err)
	}
	if len(page) != 2 || !hasMore {
		t.Fatalf("ListMessages() = %d items, hasMore=%v", len(page), hasMore)
	}
	if page[0].ID != ids[4] || page[1].ID != ids[3] {
		t.Fatalf("desc page = %q, %q", page[0].ID, page[1].ID)
	}

	// Cursor continues past the last item of the previous page.
	page, hasMore, err = s.ListMessages(ctx, th.ID, Page{Limit: 2, After: ids[3]})
	if err != nil {
		t.Fatalf("ListMessages(after) error = %v", err)
	}
	if len(page) != 2 || !hasMore {
		t.Fatalf("ListMessages(after) = %d items, hasMore=%v", len(page), hasMore)
	}
	if page[0].ID != ids[2] || page[1].ID != ids[1] {
		t.Fatalf("after page = %q, %q", page[0].ID, page[1].ID)
	}

	// Ascending with before cursor.
	page, hasMore, err = s.ListMessages(ctx, th.ID, Page{Limit: 10, Order: "asc", Before: ids[2]})
	if err != nil {
		t.Fatalf("ListMessages(asc before) error = %v", err)
	}
	if len(page) != 2 || hasMore {
		t.Fatalf("ListMessages(asc before) = %d items, hasMore=%v", len(page), hasMore)
	}
	if page[0].ID != ids[0] || page[1].ID != ids[1] {
		t.Fatalf("asc page = %q, %q", page[0].ID, page[1].ID)
	}
}

func TestMemoryReturnedSlicesAreIsolated(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	th := newTestThread(t, s)

	msg := &models.Message{
		ID:       models.NewID(models.PrefixMessage),
		Object:   models.ObjectMessage,
		ThreadID: th.ID,
		Role:     models.MessageRoleAssistant,
		Content:  models.NewTextContent("original"),
		ToolCalls: []models.ToolCall{{
			ID:       "call_1",
			Type:     "function",
			Function: models.ToolCallFunction{Name: "get_weather", Arguments: "{}"},
		}},
		Metadata: map[string]string{},
	}
	if err := s.CreateMessage(ctx, msg); err != nil {
		t.Fatalf("CreateMessage() error = %v", err)
	}

	got, err := s.GetMessage(ctx, th.ID, msg.ID)
	if err != nil {
		t.Fatalf("GetMessage() error = %v", err)
	}
	got.ToolCalls[0].Function.Name = "mutated"
	got.Content[0].Text.Value = "mutated"

	again, err := s.GetMessage(ctx, th.ID, msg.ID)
	if err != nil {
		t.Fatalf("GetMessage() error = %v", err)
	}
	if again.ToolCalls[0].Function.Name != "get_weather" {
		t.Fatalf("stored tool call mutated through returned slice: %q", again.ToolCalls[0].Function.Name)
	}
	if again.Content[0].Text.Value != "original" {
		t.Fatalf("stored content mutated through returned slice: %q", again.Content[0].Text.Value)
	}
}

func TestPageWindowUnknownCursor(t *testing.T) {
	ids := []string{"a", "b", "c"}
	window, hasMore := pageWindow(ids, Page{Limit: 10, Order: "asc", After: "nope"})
	if len(window) != 3 || hasMore {
		t.Fatalf("window = %v, hasMore = %v", window, hasMore)
	}
}

func TestPageWindowLimitClamp(t *testing.T) {
	ids := make([]string, 150)
	for i := range ids {
		ids[i] = fmt.Sprintf("id%03d", i)
	}
	window, hasMore := pageWindow(ids, Page{Limit: 500, Order: "asc"})
	if len(window) != 100 || !hasMore {
		t.Fatalf("window = %d, hasMore = %v, want 100/true", len(window), hasMore)
	}
}
