package chat

import (
	"encoding/base64"
	"fmt"
)

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// FallbackContent is the assistant reply appended when every attempt of a
// submission has failed.
const FallbackContent = "Sorry, I'm having trouble connecting to the server. Please try again in a moment."

const greetingContent = "👋 Hey there! \n\n You can chat with me about the following financial reports:\n" +
	"- **IKEA**: Annual reports for 2022-2023.\n" +
	"- **Volvo**: Annual report for 2023 and quarterly reports for 2023-2024.\n" +
	"- **H&M**: Annual report for 2023 and quarterly reports for 2023-2024.\n\n" +
	"You can also try the questions below. Let's start! 🚀 "

// Image is a rendered report page attached to an assistant reply.
type Image struct {
	Base64  string `json:"base64"`
	Caption string `json:"caption"`
}

// Decode returns the PNG bytes carried by the image.
func (i Image) Decode() ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(i.Base64)
	if err != nil {
		return nil, fmt.Errorf("decoding image %q: %w", i.Caption, err)
	}
	return data, nil
}

// Message is one entry of the conversation history.
type Message struct {
	Role    Role    `json:"role"`
	Content string  `json:"content"`
	Images  []Image `json:"images,omitempty"`
}

func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

func AssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// Greeting returns the assistant message every new conversation starts with.
func Greeting() Message {
	return AssistantMessage(greetingContent)
}

// clone copies the image slice so stored messages never alias caller memory.
func (m Message) clone() Message {
	if m.Images != nil {
		m.Images = append([]Image(nil), m.Images...)
	}
	return m
}
