package models

const (
	// SentenceBoundaryRegex matches the whitespace that follows a sentence terminator.
	SentenceBoundaryRegex = `[.!?]\s+`
	ThinkTag              = `(?s)<think>.*?</think>`
	CollectionNameFormat  = "session_%d"
	ChunkIDFormat         = "file_%d_chunk_%d"
	TitleMaxLength        = 100
	CharsPerToken         = 4
)

// Prompt section markers. The assembler emits them in this order.
const (
	ProfileNameLabel      = "User's name:"
	ProfileNotesLabel     = "User's personal notes (use these to personalize your responses):"
	HistoryMarker         = "--- Previous Conversation ---"
	DocumentContextMarker = "--- Relevant Document Context ---"
	CurrentQueryMarker    = "--- Current Query ---"
	AssistantCue          = "Assistant:"
)

// Metadata keys stored with every chunk in the vector collection.
const (
	MetaFileID     = "file_id"
	MetaFilename   = "filename"
	MetaChunkIndex = "chunk_index"
	MetaSessionID  = "session_id"
)

var (
	SystemPrompt = `You are an offline AI desktop assistant named GemServe.
You help users with file management, tasks, reminders, and general queries.
Be concise, helpful, and friendly in your responses.
When answering questions about uploaded documents, reference the specific information provided in the context.`
)
