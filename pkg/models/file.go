package models

// File purposes accepted on upload.
const (
	FilePurposeAssistants = "assistants"
	FilePurposeVision     = "vision"
	FilePurposeUserData   = "user_data"
)

// File is an uploaded file's metadata. Content is stored separately.
type File struct {
	ID        string `json:"id"`
	Object    string `json:"object"`
	Bytes     int64  `json:"bytes"`
	CreatedAt int64  `json:"created_at"`
	Filename  string `json:"filename"`
	Purpose   string `json:"purpose"`
}

// Model is one entry in the model catalog.
type Model struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}
