package store

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/haasonsaas/relay/pkg/models"
)

// Redis backs the store with a Redis instance. Each entity is one JSON
// value; creation order is kept in list keys so pagination stays
// deterministic across processes.
type Redis struct {
	client *redis.Client
	prefix string
}

// RedisOptions configures the Redis backend.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// NewRedis connects and pings the instance before returning.
func NewRedis(ctx context.Context, opts RedisOptions) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Redis{client: client, prefix: "relay"}, nil
}

func (s *Redis) key(typ, id string) string {
	return s.prefix + ":" + typ + ":" + id
}

func (s *Redis) idxKey(typ string) string {
	return s.prefix + ":idx:" + typ
}

func (s *Redis) threadIdxKey(typ, threadID string) string {
	return s.prefix + ":idx:" + typ + ":" + threadID
}

func (s *Redis) contentKey(id string) string {
	return s.prefix + ":filedata:" + id
}

func (s *Redis) create(ctx context.Context, typ, idx, id string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", typ, err)
	}
	ok, err := s.client.SetNX(ctx, s.key(typ, id), data, 0).Result()
	if err != nil {
		return fmt.Errorf("redis setnx: %w", err)
	}
	if !ok {
		return ErrAlreadyExists
	}
	if err := s.client.RPush(ctx, idx, id).Err(); err != nil {
		return fmt.Errorf("redis rpush: %w", err)
	}
	return nil
}

func (s *Redis) get(ctx context.Context, typ, id string, v any) error {
	data, err := s.client.Get(ctx, s.key(typ, id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("redis get: %w", err)
	}
	return json.Unmarshal(data, v)
}

func (s *Redis) update(ctx context.Context, typ, id string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", typ, err)
	}
	ok, err := s.client.SetXX(ctx, s.key(typ, id), data, 0).Result()
	if err != nil {
		return fmt.Errorf("redis setxx: %w", err)
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

func (s *Redis) remove(ctx context.Context, typ, idx, id string) error {
	n, err := s.client.Del(ctx, s.key(typ, id)).Result()
	if err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	if err := s.client.LRem(ctx, idx, 1, id).Err(); err != nil {
		return fmt.Errorf("redis lrem: %w", err)
	}
	return nil
}

func (s *Redis) exists(ctx context.Context, typ, id string) (bool, error) {
	n, err := s.client.Exists(ctx, s.key(typ, id)).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists: %w", err)
	}
	return n > 0, nil
}

func (s *Redis) listIDs(ctx context.Context, idx string) ([]string, error) {
	ids, err := s.client.LRange(ctx, idx, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis lrange: %w", err)
	}
	return ids, nil
}

func (s *Redis) CreateAssistant(ctx context.Context, a *models.Assistant) error {
	return s.create(ctx, TypeAssistant, s.idxKey(TypeAssistant), a.ID, a)
}

func (s *Redis) GetAssistant(ctx context.Context, id string) (*models.Assistant, error) {
	var a models.Assistant
	if err := s.get(ctx, TypeAssistant, id, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Redis) UpdateAssistant(ctx context.Context, a *models.Assistant) error {
	return s.update(ctx, TypeAssistant, a.ID, a)
}

func (s *Redis) DeleteAssistant(ctx context.Context, id string) error {
	return s.remove(ctx, TypeAssistant, s.idxKey(TypeAssistant), id)
}

func (s *Redis) ListAssistants(ctx context.Context, page Page) ([]*models.Assistant, bool, error) {
	ids, err := s.listIDs(ctx, s.idxKey(TypeAssistant))
	if err != nil {
		return nil, false, err
	}
	window, hasMore := pageWindow(ids, page)
	out := make([]*models.Assistant, 0, len(window))
	for _, id := range window {
		a, err := s.GetAssistant(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, false, err
		}
		out = append(out, a)
	}
	return out, hasMore, nil
}

func (s *Redis) CreateThread(ctx context.Context, t *models.Thread) error {
	return s.create(ctx, TypeThread, s.idxKey(TypeThread), t.ID, t)
}

func (s *Redis) GetThread(ctx context.Context, id string) (*models.Thread, error) {
	var t models.Thread
	if err := s.get(ctx, TypeThread, id, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Redis) UpdateThread(ctx context.Context, t *models.Thread) error {
	return s.update(ctx, TypeThread, t.ID, t)
}

func (s *Redis) DeleteThread(ctx context.Context, id string) error {
	if err := s.remove(ctx, TypeThread, s.idxKey(TypeThread), id); err != nil {
		return err
	}
	for _, typ := range []string{TypeMessage, TypeRun} {
		idx := s.threadIdxKey(typ, id)
		ids, err := s.listIDs(ctx, idx)
		if err != nil {
			return err
		}
		for _, child := range ids {
			if err := s.client.Del(ctx, s.key(typ, child)).Err(); err != nil {
				return fmt.Errorf("redis del: %w", err)
			}
		}
		if err := s.client.Del(ctx, idx).Err(); err != nil {
			return fmt.Errorf("redis del: %w", err)
		}
	}
	return nil
}

func (s *Redis) CreateMessage(ctx context.Context, m *models.Message) error {
	ok, err := s.exists(ctx, TypeThread, m.ThreadID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return s.create(ctx, TypeMessage, s.threadIdxKey(TypeMessage, m.ThreadID), m.ID, m)
}

func (s *Redis) GetMessage(ctx context.Context, threadID, id string) (*models.Message, error) {
	var m models.Message
	if err := s.get(ctx, TypeMessage, id, &m); err != nil {
		return nil, err
	}
	if m.ThreadID != threadID {
		return nil, ErrNotFound
	}
	return &m, nil
}

func (s *Redis) UpdateMessage(ctx context.Context, m *models.Message) error {
	if _, err := s.GetMessage(ctx, m.ThreadID, m.ID); err != nil {
		return err
	}
	return s.update(ctx, TypeMessage, m.ID, m)
}

func (s *Redis) DeleteMessage(ctx context.Context, threadID, id string) error {
	if _, err := s.GetMessage(ctx, threadID, id); err != nil {
		return err
	}
	return s.remove(ctx, TypeMessage, s.threadIdxKey(TypeMessage, threadID), id)
}

func (s *Redis) ListMessages(ctx context.Context, threadID string, page Page) ([]*models.Message, bool, error) {
	ok, err := s.exists(ctx, TypeThread, threadID)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, ErrNotFound
	}
	ids, err := s.listIDs(ctx, s.threadIdxKey(TypeMessage, threadID))
	if err != nil {
		return nil, false, err
	}
	window, hasMore := pageWindow(ids, page)
	out := make([]*models.Message, 0, len(window))
	for _, id := range window {
		m, err := s.GetMessage(ctx, threadID, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, false, err
		}
		out = append(out, m)
	}
	return out, hasMore, nil
}

func (s *Redis) CreateRun(ctx context.Context, r *models.Run) error {
	ok, err := s.exists(ctx, TypeThread, r.ThreadID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return s.create(ctx, TypeRun, s.threadIdxKey(TypeRun, r.ThreadID), r.ID, r)
}

func (s *Redis) GetRun(ctx context.Context, threadID, id string) (*models.Run, error) {
	var r models.Run
	if err := s.get(ctx, TypeRun, id, &r); err != nil {
		return nil, err
	}
	if r.ThreadID != threadID {
		return nil, ErrNotFound
	}
	return &r, nil
}

func (s *Redis) UpdateRun(ctx context.Context, r *models.Run) error {
	if _, err := s.GetRun(ctx, r.ThreadID, r.ID); err != nil {
		return err
	}
	return s.update(ctx, TypeRun, r.ID, r)
}

func (s *Redis) ListRuns(ctx context.Context, threadID string, page Page) ([]*models.Run, bool, error) {
	ok, err := s.exists(ctx, TypeThread, threadID)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, ErrNotFound
	}
	ids, err := s.listIDs(ctx, s.threadIdxKey(TypeRun, threadID))
	if err != nil {
		return nil, false, err
	}
	window, hasMore := pageWindow(ids, page)
	out := make([]*models.Run, 0, len(window))
	for _, id := range window {
		r, err := s.GetRun(ctx, threadID, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, false, err
		}
		out = append(out, r)
	}
	return out, hasMore, nil
}

func (s *Redis) CreateFile(ctx context.Context, f *models.File, content []byte) error {
	if err := s.create(ctx, TypeFile, s.idxKey(TypeFile), f.ID, f); err != nil {
		return err
	}
	encoded := base64.StdEncoding.EncodeToString(content)
	if err := s.client.Set(ctx, s.contentKey(f.ID), encoded, 0).Err(); err != nil {
		return fmt.Errorf("redis set content: %w", err)
	}
	return nil
}

func (s *Redis) GetFile(ctx context.Context, id string) (*models.File, error) {
	var f models.File
	if err := s.get(ctx, TypeFile, id, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

func (s *Redis) GetFileContent(ctx context.Context, id string) ([]byte, error) {
	encoded, err := s.client.Get(ctx, s.contentKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get content: %w", err)
	}
	return base64.StdEncoding.DecodeString(encoded)
}

func (s *Redis) DeleteFile(ctx context.Context, id string) error {
	if err := s.remove(ctx, TypeFile, s.idxKey(TypeFile), id); err != nil {
		return err
	}
	if err := s.client.Del(ctx, s.contentKey(id)).Err(); err != nil {
		return fmt.Errorf("redis del content: %w", err)
	}
	return nil
}

func (s *Redis) ListFiles(ctx context.Context, purpose string, page Page) ([]*models.File, bool, error) {
	ids, err := s.listIDs(ctx, s.idxKey(TypeFile))
	if err != nil {
		return nil, false, err
	}
	byID := make(map[string]*models.File, len(ids))
	filtered := make([]string, 0, len(ids))
	for _, id := range ids {
		f, err := s.GetFile(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, false, err
		}
		if purpose != "" && f.Purpose != purpose {
			continue
		}
		byID[id] = f
		filtered = append(filtered, id)
	}
	window, hasMore := pageWindow(filtered, page)
	out := make([]*models.File, 0, len(window))
	for _, id := range window {
		out = append(out, byID[id])
	}
	return out, hasMore, nil
}

func (s *Redis) Close() error {
	return s.client.Close()
}
