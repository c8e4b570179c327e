package models

// Thread is an ordered conversation container. Messages are stored
// separately and scoped to the thread by ID.
type Thread struct {
	ID        string            `json:"id"`
	Object    string            `json:"object"`
	CreatedAt int64             `json:"created_at"`
	Metadata  map[string]string `json:"metadata"`
}
