package tts

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/book-expert/voicechat-service/internal/core"
)

// Energy thresholds for the scene descriptor.
const (
	energyHigh     = 1.5
	energyModerate = 1.0
	energyLow      = 0.7
)

const (
	scenePartSeparator  = "\n\n"
	personaPrefix       = "The speaker has the following characteristics: "
	descriptorPrefix    = "The speaker is "
	fmtEmotion          = "speaking with %s emotion"
	fmtRate             = "at approximately %d words per minute"
	fmtPitchUp          = "with a slightly higher pitch (%s semitones up)"
	fmtPitchDown        = "with a slightly lower pitch (%s semitones down)"
	descEnergyHigh      = "with high energy and enthusiasm"
	descEnergyModerate  = "with moderate energy"
	descEnergyLow       = "with calm, low energy"
	personaTraitsPrefix = "Core traits: "
	personaBackstory    = "Backstory: "
	personaVoice        = "Voice style: "
)

var loneNewlinePattern = regexp.MustCompile(`(^|[^\n])\n([^\n]|$)`)

// PauseSpec holds pause lengths in milliseconds. A nil field is unset.
type PauseSpec struct {
	Comma     *int `json:"comma,omitempty"`
	Period    *int `json:"period,omitempty"`
	Paragraph *int `json:"paragraph,omitempty"`
}

// StyleSpec is the optional delivery style of a turn. A nil field is unset, which is
// different from a zero value: a pitch of 0 is set but produces no descriptor.
type StyleSpec struct {
	Emotion        *string    `json:"emotion,omitempty"`
	RateWPM        *int       `json:"rate_wpm,omitempty"`
	PitchSemitones *float64   `json:"pitch_semitones,omitempty"`
	Energy         *float64   `json:"energy,omitempty"`
	PauseMS        *PauseSpec `json:"pause_ms,omitempty"`
}

// BuildScenePrompt combines the base scene, the persona and the style descriptors into
// the free-text scene description passed to the generator. The boolean is false when
// none of the inputs contributed anything.
func BuildScenePrompt(persona string, style *StyleSpec, baseScene string) (string, bool) {
	var parts []string

	if strings.TrimSpace(baseScene) != "" {
		parts = append(parts, baseScene)
	}

	if strings.TrimSpace(persona) != "" {
		parts = append(parts, personaPrefix+persona)
	}

	descriptors := styleDescriptors(style)
	if len(descriptors) > 0 {
		parts = append(parts, descriptorPrefix+strings.Join(descriptors, ", ")+".")
	}

	if len(parts) == 0 {
		return "", false
	}

	return strings.Join(parts, scenePartSeparator), true
}

func styleDescriptors(style *StyleSpec) []string {
	if style == nil {
		return nil
	}

	var descriptors []string

	if style.Emotion != nil && *style.Emotion != "" {
		descriptors = append(descriptors, fmt.Sprintf(fmtEmotion, *style.Emotion))
	}

	if style.RateWPM != nil {
		descriptors = append(descriptors, fmt.Sprintf(fmtRate, *style.RateWPM))
	}

	if style.PitchSemitones != nil {
		pitch := *style.PitchSemitones

		switch {
		case pitch > 0:
			descriptors = append(descriptors, fmt.Sprintf(fmtPitchUp, formatNumber(pitch)))
		case pitch < 0:
			descriptors = append(descriptors, fmt.Sprintf(fmtPitchDown, formatNumber(math.Abs(pitch))))
		}
	}

	if style.Energy != nil {
		energy := *style.Energy

		switch {
		case energy > energyHigh:
			descriptors = append(descriptors, descEnergyHigh)
		case energy > energyModerate:
			descriptors = append(descriptors, descEnergyModerate)
		case energy < energyLow:
			descriptors = append(descriptors, descEnergyLow)
		}
	}

	return descriptors
}

// formatNumber renders 2 as "2.0" and 0.5 as "0.5".
func formatNumber(value float64) string {
	formatted := strconv.FormatFloat(value, 'f', -1, 64)
	if !strings.ContainsAny(formatted, ".eE") {
		formatted += ".0"
	}

	return formatted
}

// ApplyStyleDirectives rewrites the transcript for directives that affect its layout.
// A paragraph pause turns each single line break into a paragraph break.
func ApplyStyleDirectives(transcript string, style *StyleSpec) string {
	if style == nil || style.PauseMS == nil || style.PauseMS.Paragraph == nil {
		return transcript
	}

	if *style.PauseMS.Paragraph <= 0 {
		return transcript
	}

	// Matches overlap on single-character lines, so run until stable.
	for {
		rewritten := loneNewlinePattern.ReplaceAllString(transcript, "$1\n\n$2")
		if rewritten == transcript {
			return rewritten
		}

		transcript = rewritten
	}
}

// PersonaFromCharacter folds a catalog record into a persona description.
func PersonaFromCharacter(persona core.Persona) string {
	var sentences []string

	head := strings.TrimSpace(persona.Name)
	if personality := strings.TrimSpace(persona.Personality); personality != "" {
		if head != "" {
			head += ", "
		}

		head += personality
	}

	if head != "" {
		sentences = append(sentences, terminate(head))
	}

	if len(persona.Traits) > 0 {
		sentences = append(sentences, terminate(personaTraitsPrefix+strings.Join(persona.Traits, ", ")))
	}

	if backstory := strings.TrimSpace(persona.Backstory); backstory != "" {
		sentences = append(sentences, terminate(personaBackstory+backstory))
	}

	if voice := strings.TrimSpace(persona.Voice); voice != "" {
		sentences = append(sentences, terminate(personaVoice+voice))
	}

	return strings.Join(sentences, " ")
}

func terminate(sentence string) string {
	if strings.HasSuffix(sentence, ".") || strings.HasSuffix(sentence, "!") || strings.HasSuffix(sentence, "?") {
		return sentence
	}

	return sentence + "."
}
