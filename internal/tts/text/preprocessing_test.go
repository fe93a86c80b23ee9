package text_test

import (
	"testing"

	"github.com/book-expert/voicechat-service/internal/tts/text"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// preprocessorTestCase defines a standard test case for the preprocessor.
type preprocessorTestCase struct {
	name     string
	input    string
	expected string
}

func runPreprocessorTests(t *testing.T, tests []preprocessorTestCase) {
	t.Helper()

	preprocessor := text.NewPreprocessor()

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, testCase.expected, preprocessor.PreprocessText(testCase.input))
		})
	}
}

func TestNewPreprocessor(t *testing.T) {
	t.Parallel()

	require.NotNil(t, text.NewPreprocessor())
}

func TestPreprocessor_EmptyInput(t *testing.T) {
	t.Parallel()

	preprocessor := text.NewPreprocessor()

	assert.Empty(t, preprocessor.PreprocessText(""))
	assert.Empty(t, preprocessor.PreprocessText(" \n\t\n "))
}

func TestPreprocessor_TerminalPunctuation(t *testing.T) {
	t.Parallel()

	runPreprocessorTests(t, []preprocessorTestCase{
		{name: "adds period", input: "Hello there", expected: "Hello there."},
		{name: "keeps question mark", input: "Ready?", expected: "Ready?"},
		{name: "keeps closing quote", input: `She said "hi"`, expected: `She said "hi"`},
		{name: "keeps sound event end", input: "[music end]", expected: "<SE_e>[Music]</SE_e>"},
		{name: "keeps sound event", input: "Ha [laugh]", expected: "Ha <SE>[Laughter]</SE>"},
	})
}

func TestPreprocessor_SoundEvents(t *testing.T) {
	t.Parallel()

	runPreprocessorTests(t, []preprocessorTestCase{
		{
			name:     "music start is not confused with music",
			input:    "[music start] la la [music end]",
			expected: "<SE_s>[Music]</SE_s> la la <SE_e>[Music]</SE_e>",
		},
		{
			name:     "standalone tags",
			input:    "Great job [applause] [cheering] [cough].",
			expected: "Great job <SE>[Applause]</SE> <SE>[Cheering]</SE> <SE>[Cough]</SE>.",
		},
		{
			name:     "humming and singing",
			input:    "[humming start][humming end][sing start][sing end]",
			expected: "<SE_s>[Humming]</SE_s><SE_e>[Humming]</SE_e><SE_s>[Singing]</SE_s><SE_e>[Singing]</SE_e>",
		},
	})
}

func TestPreprocessor_SymbolsAndWhitespace(t *testing.T) {
	t.Parallel()

	runPreprocessorTests(t, []preprocessorTestCase{
		{name: "fahrenheit", input: "It is 70°F today.", expected: "It is 70 degrees Fahrenheit today."},
		{name: "celsius", input: "Water boils at 100°C.", expected: "Water boils at 100 degrees Celsius."},
		{name: "parentheses removed", input: "Hello (quietly) there.", expected: "Hello quietly there."},
		{
			name:     "blank lines dropped and lines collapsed",
			input:    "  First   line \n\n\n   second\tline  ",
			expected: "First line\nsecond line.",
		},
		{name: "full-width punctuation", input: "你好，世界。", expected: "你好, 世界."},
	})
}
