package consts

const (
	// DefaultDBName is the default database name.
	DefaultDBName = "ragchat"

	// Table/collection names.
	TableNameSessions   = "sessions"
	TableNameMessages   = "messages"
	TableNameEmbeddings = "message_embeddings"
	TableNameCounters   = "counters"

	// Column names
	ColID             = "id"
	ColName           = "name"
	ColSessionID      = "session_id"
	ColMessageID      = "message_id"
	ColRole           = "role"
	ColContent        = "content"
	ColTimestamp      = "timestamp"
	ColTokenCount     = "token_count"
	ColProcessingTime = "processing_time_ms"
	ColEmbedding      = "embedding"
	ColCreatedAt      = "created_at"

	// Neo4j specific
	LabelSession    = "Session"
	LabelMessage    = "Message"
	LabelEmbedding  = "MessageEmbedding"
	LabelCounter    = "Counter"
	RelHasMessage   = "HAS_MESSAGE"
	RelHasEmbedding = "HAS_EMBEDDING"
)
