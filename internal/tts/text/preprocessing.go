// Package text normalizes transcript text before it reaches the speech generator.
package text

import (
	"strings"
)

// Units spelled out for the generator.
const (
	degreesFahrenheit = " degrees Fahrenheit"
	degreesCelsius    = " degrees Celsius"
)

const (
	lineFeed            = "\n"
	space               = " "
	defaultTerminalMark = "."
)

// terminalSuffixes end a transcript without needing an added period.
var terminalSuffixes = []string{".", "!", "?", ",", ";", `"`, "'", "</SE_e>", "</SE>"}

// Preprocessor normalizes transcripts for the generation model.
type Preprocessor struct {
	punctuationReplacer *strings.Replacer
	symbolReplacer      *strings.Replacer
	soundEventReplacer  *strings.Replacer
}

// NewPreprocessor creates a preprocessor with its replacers built up front.
func NewPreprocessor() *Preprocessor {
	punctuation := []string{
		"，", ", ",
		"。", ".",
		"：", ":",
		"；", ";",
		"？", "?",
		"！", "!",
		"（", "(",
		"）", ")",
		"【", "[",
		"】", "]",
		"《", "<",
		"》", ">",
		"“", `"`,
		"”", `"`,
		"‘", "'",
		"’", "'",
		"、", ",",
		"—", "-",
		"…", "...",
		"·", ".",
		"「", `"`,
		"」", `"`,
		"『", `"`,
		"』", `"`,
	}

	symbols := []string{
		"(", space,
		")", space,
		"°F", degreesFahrenheit,
		"°C", degreesCelsius,
	}

	// Longer tags first so "[music start]" wins over "[music]".
	soundEvents := []string{
		"[humming start]", "<SE_s>[Humming]</SE_s>",
		"[humming end]", "<SE_e>[Humming]</SE_e>",
		"[music start]", "<SE_s>[Music]</SE_s>",
		"[music end]", "<SE_e>[Music]</SE_e>",
		"[sing start]", "<SE_s>[Singing]</SE_s>",
		"[sing end]", "<SE_e>[Singing]</SE_e>",
		"[laugh]", "<SE>[Laughter]</SE>",
		"[music]", "<SE>[Music]</SE>",
		"[applause]", "<SE>[Applause]</SE>",
		"[cheering]", "<SE>[Cheering]</SE>",
		"[cough]", "<SE>[Cough]</SE>",
	}

	return &Preprocessor{
		punctuationReplacer: strings.NewReplacer(punctuation...),
		symbolReplacer:      strings.NewReplacer(symbols...),
		soundEventReplacer:  strings.NewReplacer(soundEvents...),
	}
}

// PreprocessText normalizes full-width punctuation, spells out units, rewrites
// sound-event tags into model markup, collapses whitespace inside each line, drops
// blank lines and makes sure the text ends with terminal punctuation.
func (p *Preprocessor) PreprocessText(text string) string {
	if strings.TrimSpace(text) == "" {
		return ""
	}

	normalized := p.punctuationReplacer.Replace(text)
	normalized = p.symbolReplacer.Replace(normalized)
	normalized = p.soundEventReplacer.Replace(normalized)
	normalized = p.normalizeLines(normalized)

	return p.ensureTerminalPunctuation(normalized)
}

// normalizeLines collapses runs of whitespace inside each line and drops empty lines.
func (p *Preprocessor) normalizeLines(text string) string {
	lines := strings.Split(text, lineFeed)
	kept := make([]string, 0, len(lines))

	for _, line := range lines {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		kept = append(kept, strings.Join(fields, space))
	}

	return strings.TrimSpace(strings.Join(kept, lineFeed))
}

func (p *Preprocessor) ensureTerminalPunctuation(text string) string {
	if text == "" {
		return text
	}

	for _, suffix := range terminalSuffixes {
		if strings.HasSuffix(text, suffix) {
			return text
		}
	}

	return text + defaultTerminalMark
}
