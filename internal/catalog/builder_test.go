package catalog

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuilderHappyPath(t *testing.T) {
	b := NewBuilder(100)
	assert.Equal(t, StateAwaitingTitle, b.State())

	assert.NoError(t, b.SetTitle("  Capitals of Europe "))
	assert.Equal(t, StateAwaitingQuestion, b.State())

	assert.NoError(t, b.AddQuestion("Capital of France?|Berlin|London|Paris|Rome|2"))
	assert.NoError(t, b.AddQuestion("What is 2+2?|3|4|1"))
	assert.Equal(t, 2, b.QuestionCount())

	params, err := b.Finish()
	assert.NoError(t, err)
	assert.Equal(t, int64(100), params.ChatID)
	assert.Equal(t, "Capitals of Europe", params.Title)
	assert.Len(t, params.Questions, 2)
	assert.Equal(t, 2, params.Questions[0].CorrectIndex)
	assert.Equal(t, []string{"3", "4"}, params.Questions[1].Options)
}

func TestBuilderRejectsOutOfOrderInput(t *testing.T) {
	b := NewBuilder(1)

	assert.ErrorIs(t, b.AddQuestion("Q?|a|b|0"), ErrBuilderState)
	_, err := b.Finish()
	assert.ErrorIs(t, err, ErrBuilderState)

	assert.NoError(t, b.SetTitle("T"))
	assert.ErrorIs(t, b.SetTitle("again"), ErrBuilderState)
}

func TestBuilderQuestionParsing(t *testing.T) {
	b := NewBuilder(1)
	assert.NoError(t, b.SetTitle("T"))

	tests := []struct {
		name string
		line string
	}{
		{"too few parts", "Question?|only|1"},
		{"index not a number", "Q?|a|b|x"},
		{"index out of range", "Q?|a|b|2"},
		{"negative index", "Q?|a|b|-1"},
		{"empty option", "Q?|a||0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, b.AddQuestion(tt.line))
		})
	}
	assert.Equal(t, 0, b.QuestionCount())
}

func TestBuilderFinishRequiresQuestions(t *testing.T) {
	b := NewBuilder(1)
	assert.NoError(t, b.SetTitle("T"))

	_, err := b.Finish()
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestBuilderCancelResets(t *testing.T) {
	b := NewBuilder(1)
	assert.NoError(t, b.SetTitle("T"))
	assert.NoError(t, b.AddQuestion("Q?|a|b|0"))

	b.Cancel()
	assert.Equal(t, StateAwaitingTitle, b.State())
	assert.Equal(t, 0, b.QuestionCount())
}

func TestBuilderTitleLimits(t *testing.T) {
	b := NewBuilder(1)
	assert.Error(t, b.SetTitle("   "))
	assert.Error(t, b.SetTitle(strings.Repeat("x", MaxTitleLen+1)))
	assert.NoError(t, b.SetTitle(strings.Repeat("x", MaxTitleLen)))
}
