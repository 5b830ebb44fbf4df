package llm

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role   `json:"role"`
	Name    string `json:"name,omitempty"`
	Content string `json:"content"`
}

func NewSystemMessage(name, content string) Message {
	return Message{Role: RoleSystem, Name: name, Content: content}
}

func NewUserMessage(name, content string) Message {
	return Message{Role: RoleUser, Name: name, Content: content}
}

func NewAssistantMessage(name, content string) Message {
	return Message{Role: RoleAssistant, Name: name, Content: content}
}
