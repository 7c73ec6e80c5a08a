package models

// RetrievedChunk is a chunk returned from a similarity query, best match first.
type RetrievedChunk struct {
	ID         string
	FileID     int64
	Filename   string
	ChunkIndex int
	Content    string
	Similarity float32
}

// PromptResponse is the outcome of one chat turn. When Failed is set, Content holds the
// user-facing error text and nothing was stored as the assistant's answer.
type PromptResponse struct {
	ID           string
	SessionID    int64
	Query        string
	Mode         string
	Content      string
	Failed       bool
	PromptTokens int
}
