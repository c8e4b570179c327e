package models

// List is the standard pagination envelope.
type List[T any] struct {
	Object  string `json:"object"`
	Data    []T    `json:"data"`
	FirstID string `json:"first_id,omitempty"`
	LastID  string `json:"last_id,omitempty"`
	HasMore bool   `json:"has_more"`
}

// NewList wraps a page of items, extracting first_id/last_id via id.
func NewList[T any](data []T, hasMore bool, id func(T) string) List[T] {
	l := List[T]{Object: ObjectList, Data: data, HasMore: hasMore}
	if l.Data == nil {
		l.Data = []T{}
	}
	if len(data) > 0 {
		l.FirstID = id(data[0])
		l.LastID = id(data[len(data)-1])
	}
	return l
}

// Deleted is the acknowledgement envelope for delete operations.
type Deleted struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Deleted bool   `json:"deleted"`
}
