package store

type Conversation struct {
	ID        int32
	UID       string
	CreatorID int32
	Title     string
	CreatedTs int64
	UpdatedTs int64
}

type FindConversation struct {
	ID        *int32
	UID       *string
	CreatorID *int32
}

type UpdateConversation struct {
	ID        int32
	Title     *string
	UpdatedTs *int64
}

type DeleteConversation struct {
	ID int32
}

type MessageRole string

const (
	MessageRoleUser      MessageRole = "USER"
	MessageRoleAssistant MessageRole = "ASSISTANT"
	MessageRoleSystem    MessageRole = "SYSTEM"
)

// AssistantSenderID is the fixed sender identity for assistant messages,
// distinct from any real user ID (user IDs are positive).
const AssistantSenderID int32 = 0

type Message struct {
	ID             int32
	UID            string
	ConversationID int32
	Role           MessageRole
	SenderID       int32
	Content        string
	CreatedTs      int64
}

type FindMessage struct {
	ID             *int32
	UID            *string
	ConversationID *int32
}

type DeleteMessage struct {
	ID             *int32
	ConversationID *int32
}
