package ai

import (
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/timemachine/backend/internal/model/chat"
	"github.com/zhouzirui/timemachine/backend/internal/model/persona"
)

const (
	humanTouch       = "\n\nRemember to always talk to the user like a real human who genuenly cares."
	defaultImageText = "What's in this image?"
)

// SystemPrompt returns the persona prompt with the shared closing instruction.
func SystemPrompt(p persona.Persona) string {
	return p.SystemPrompt + humanTouch
}

// buildMessages lays out the provider conversation. Vision models take no system
// turn, so an image request collapses into a single user turn that carries the
// prompt, the newest user text and the image.
func buildMessages(req Request) []*schema.Message {
	system := SystemPrompt(req.Persona)

	if req.ImageData != "" {
		text := ""
		if n := len(req.History); n > 0 {
			text = req.History[n-1].Content
		}
		if text == "" {
			text = defaultImageText
		}
		return []*schema.Message{{
			Role: schema.User,
			MultiContent: []schema.ChatMessagePart{
				{Type: schema.ChatMessagePartTypeText, Text: system + "\n\n" + text},
				{Type: schema.ChatMessagePartTypeImageURL, ImageURL: &schema.ChatMessageImageURL{URL: req.ImageData}},
			},
		}}
	}

	out := make([]*schema.Message, 0, len(req.History)+1)
	out = append(out, schema.SystemMessage(system))
	out = append(out, historyMessages(req.History)...)
	return out
}

func historyMessages(history []chat.Message) []*schema.Message {
	out := make([]*schema.Message, 0, len(history))
	for _, msg := range history {
		if msg.IsAI {
			out = append(out, schema.AssistantMessage(msg.Content, nil))
		} else {
			out = append(out, schema.UserMessage(msg.Content))
		}
	}
	return out
}
