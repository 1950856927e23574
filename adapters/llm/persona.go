package llm

import "github.com/wenzhen/server/domain/entities"

// DefaultPersonaPrompt is the system persona prepended to every conversation
const DefaultPersonaPrompt = `你是许庚医生，从业30年的耳鼻喉科专家。像朋友聊天一样回答患者，语气亲切自然。要求：1)直接说重点，就像面对面交流 2)一次只说2-3句话 3)可以用"嗯"、"这样啊"等口语词 4)不要用列表、序号，就像说话一样自然表达 5)严重的建议来院看看`

// chatMessage is one entry of an OpenAI compatible chat-completions request.
// Content is either a string or a []entities.ContentPart.
type chatMessage struct {
	Role    entities.Role `json:"role"`
	Content any           `json:"content"`
}

// toChatMessages prepends the persona and converts the history. Turns with
// images use the multimodal parts array, plain turns a string.
func toChatMessages(persona string, history []entities.Turn) []chatMessage {
	messages := make([]chatMessage, 0, len(history)+1)
	messages = append(messages, chatMessage{Role: entities.RoleSystem, Content: persona})
	for _, turn := range history {
		if turn.HasImages() {
			messages = append(messages, chatMessage{Role: turn.Role, Content: turn.Parts()})
			continue
		}
		messages = append(messages, chatMessage{Role: turn.Role, Content: turn.Content})
	}
	return messages
}
