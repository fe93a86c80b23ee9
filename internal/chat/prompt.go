// Package chat talks to OpenAI-compatible endpoints for in-character text chat and for
// audio understanding.
package chat

import (
	"fmt"
	"strings"

	"github.com/book-expert/voicechat-service/internal/character"
)

const (
	thinkCloseTag = "</think>"

	roleplayPreamble = "You are to roleplay as a fictional character. Follow the character's personality, " +
		"backstory, traits, and description strictly. Stay in character at all times. "

	roleplayProfileFmt = "Character Name: %s " +
		"Appearance / Description: %s " +
		"Personality: %s " +
		"Backstory: %s " +
		"Core Traits: %s " +
		"Dialogue Style: Speak with a %s tone. Use empathetic and supportive language. "

	roleplayRulesFmt = "Rules: " +
		"1. Always respond as %[1]s. " +
		"2. Never break character or mention that you are an AI. " +
		"3. Base your answers on %[1]s's perspective, knowledge, and worldview. " +
		"4. When uncertain, improvise in a way consistent with the backstory and traits. "

	captionProtocol = "Always output exactly ONE string with this format: <user>caption</user><response></response>. " +
		"Format Rules: (1) The caption is a faithful transcription of the user's audio, in their language. " +
		"(2) Immediately after the caption, output the literal token </user>. " +
		"(3) Immediately after </user><response>, output your response. " +
		"(4) There must be exactly one <user>, </user>, <response>, and </response>. " +
		"(5) Do not wrap in quotes, code blocks, or add newlines. " +
		"(6) If audio is unintelligible, caption as [inaudible]. " +
		"(7) If no speech, caption as [no speech]. " +
		"Examples: Input: Hi, how was your day? -> " +
		"Output: <user>Hi, how was your day?</user><response>Hello! I'm great, how about you?</response> " +
		"Input: [garbled audio] -> Output: <user>[inaudible]</user>" +
		"<response>Sorry, I couldn't catch that. Could you repeat more clearly?</response>"
)

// RoleplayPrompt renders the system prompt that keeps the model in character.
func RoleplayPrompt(profile character.Character) string {
	var builder strings.Builder

	builder.WriteString(roleplayPreamble)
	fmt.Fprintf(&builder, roleplayProfileFmt,
		profile.Name,
		profile.Description,
		profile.Personality,
		profile.Backstory,
		strings.Join(profile.Traits, ", "),
		profile.Voice,
	)
	fmt.Fprintf(&builder, roleplayRulesFmt, profile.Name)

	return builder.String()
}

// ListenPrompt is the roleplay prompt followed by the caption/response protocol.
func ListenPrompt(profile character.Character) string {
	return RoleplayPrompt(profile) + captionProtocol
}

// StripReasoning drops everything up to and including the last </think> tag.
func StripReasoning(content string) string {
	index := strings.LastIndex(content, thinkCloseTag)
	if index < 0 {
		return content
	}

	return strings.TrimSpace(content[index+len(thinkCloseTag):])
}
