package openai

import (
	"strings"

	"github.com/koscakluka/ema-voice/core/transcript"
)

type openAIMessage struct {
	Type    messageType `json:"type"`
	Role    messageRole `json:"role,omitempty"`
	Content string      `json:"content,omitempty"`
}

type messageRole string

const (
	messageRoleDeveloper messageRole = "developer"
	messageRoleUser      messageRole = "user"
	messageRoleAssistant messageRole = "assistant"
)

type messageType string

const messageTypeMessage messageType = "message"

type requestBody struct {
	Model  string          `json:"model"`
	Input  []openAIMessage `json:"input"`
	Stream bool            `json:"stream"`
}

// toOpenAIMessages turns the transcript into model input. Backchannels and
// empty messages carry nothing the model needs.
func toOpenAIMessages(instructions string, history []transcript.Message) []openAIMessage {
	messages := []openAIMessage{}
	if instructions != "" {
		messages = append(messages, openAIMessage{
			Type:    messageTypeMessage,
			Role:    messageRoleDeveloper,
			Content: instructions,
		})
	}

	for _, message := range history {
		if message.IsBackchannel || strings.TrimSpace(message.Text) == "" {
			continue
		}
		role := messageRoleUser
		if message.Sender == transcript.SenderBot {
			role = messageRoleAssistant
		}
		messages = append(messages, openAIMessage{
			Type:    messageTypeMessage,
			Role:    role,
			Content: message.Text,
		})
	}
	return messages
}
