// Package store persists gateway entities behind a pluggable backend
// interface. Backends: in-process memory, Redis, Postgres. All backends
// share the same cursor pagination semantics.
package store

import (
	"context"
	"errors"
	"slices"

	"github.com/haasonsaas/relay/pkg/models"
)

var (
	// ErrNotFound is returned when the requested entity does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrAlreadyExists is returned when creating an entity whose ID is taken.
	ErrAlreadyExists = errors.New("store: already exists")
)

// Entity type names used as key/row discriminators.
const (
	TypeAssistant = "assistant"
	TypeThread    = "thread"
	TypeMessage   = "message"
	TypeRun       = "run"
	TypeFile      = "file"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

// Page is a cursor pagination window. Order is "asc" or "desc" by creation
// order; After/Before are exclusive entity-ID cursors.
type Page struct {
	Limit  int
	Order  string
	After  string
	Before string
}

func (p Page) normalized() Page {
	if p.Limit <= 0 {
		p.Limit = defaultPageLimit
	}
	if p.Limit > maxPageLimit {
		p.Limit = maxPageLimit
	}
	if p.Order != "asc" {
		p.Order = "desc"
	}
	return p
}

// Store is the persistence contract. List operations return the page plus
// a has_more flag computed against the full ordered set.
type Store interface {
	CreateAssistant(ctx context.Context, a *models.Assistant) error
	GetAssistant(ctx context.Context, id string) (*models.Assistant, error)
	UpdateAssistant(ctx context.Context, a *models.Assistant) error
	DeleteAssistant(ctx context.Context, id string) error
	ListAssistants(ctx context.Context, page Page) ([]*models.Assistant, bool, error)

	CreateThread(ctx context.Context, t *models.Thread) error
	GetThread(ctx context.Context, id string) (*models.Thread, error)
	UpdateThread(ctx context.Context, t *models.Thread) error
	// DeleteThread removes the thread and everything scoped to it.
	DeleteThread(ctx context.Context, id string) error

	CreateMessage(ctx context.Context, m *models.Message) error
	GetMessage(ctx context.Context, threadID, id string) (*models.Message, error)
	UpdateMessage(ctx context.Context, m *models.Message) error
	DeleteMessage(ctx context.Context, threadID, id string) error
	ListMessages(ctx context.Context, threadID string, page Page) ([]*models.Message, bool, error)

	CreateRun(ctx context.Context, r *models.Run) error
	GetRun(ctx context.Context, threadID, id string) (*models.Run, error)
	UpdateRun(ctx context.Context, r *models.Run) error
	ListRuns(ctx context.Context, threadID string, page Page) ([]*models.Run, bool, error)

	CreateFile(ctx context.Context, f *models.File, content []byte) error
	GetFile(ctx context.Context, id string) (*models.File, error)
	GetFileContent(ctx context.Context, id string) ([]byte, error)
	DeleteFile(ctx context.Context, id string) error
	ListFiles(ctx context.Context, purpose string, page Page) ([]*models.File, bool, error)

	Close() error
}

// pageWindow applies the cursor window to ids, which must be in ascending
// creation order. It returns the selected window (in the requested order)
// and whether entries remain past the end of the window.
func pageWindow(ids []string, page Page) ([]string, bool) {
	p := page.normalized()

	ordered := ids
	if p.Order == "desc" {
		ordered = make([]string, len(ids))
		for i, id := range ids {
			ordered[len(ids)-1-i] = id
		}
	}

	start := 0
	end := len(ordered)
	if p.After != "" {
		if i := slices.Index(ordered, p.After); i >= 0 {
			start = i + 1
		}
	}
	if p.Before != "" {
		if i := slices.Index(ordered, p.Before); i >= 0 && i < end {
			end = i
		}
	}
	if start > end {
		start = end
	}

	window := ordered[start:end]
	hasMore := false
	if len(window) > p.Limit {
		window = window[:p.Limit]
		hasMore = true
	}
	return window, hasMore
}
