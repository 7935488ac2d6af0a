package chat

// State is a step of the turn state machine.
type State string

const (
	StateReceived         State = "RECEIVED"
	StatePersistUser      State = "PERSIST_USER"
	StateEmbedUser        State = "EMBED_USER"
	StateRetrieveContext  State = "RETRIEVE_CONTEXT"
	StateAssemblePrompt   State = "ASSEMBLE_PROMPT"
	StateCallModel        State = "CALL_MODEL"
	StatePersistAssistant State = "PERSIST_ASSISTANT"
	StateEmbedAssistant   State = "EMBED_ASSISTANT"
	StateComplete         State = "COMPLETE"
)
