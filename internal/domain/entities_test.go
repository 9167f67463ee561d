package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func orderedTemplate() Template {
	return Template{
		ID: "tpl-1",
		Questions: []Question{
			{ID: "q2", Order: 2, Type: QuestionSingleSelect, Options: []Option{{ID: "o1", Label: "Rojo"}}},
			{ID: "q1", Order: 1, Type: QuestionNumeric},
			{ID: "q3", Order: 3, Type: QuestionFreeText},
		},
	}
}

func TestFirstQuestionPicksLowestOrder(t *testing.T) {
	t.Parallel()
	q, ok := orderedTemplate().FirstQuestion()
	require.True(t, ok)
	assert.Equal(t, "q1", q.ID)

	_, ok = Template{}.FirstQuestion()
	assert.False(t, ok)
}

func TestNextQuestionWalksOrder(t *testing.T) {
	t.Parallel()
	tpl := orderedTemplate()

	q, ok := tpl.NextQuestion(1)
	require.True(t, ok)
	assert.Equal(t, "q2", q.ID)

	q, ok = tpl.NextQuestion(2)
	require.True(t, ok)
	assert.Equal(t, "q3", q.ID)

	_, ok = tpl.NextQuestion(3)
	assert.False(t, ok)
}

func TestQuestionByID(t *testing.T) {
	t.Parallel()
	tpl := orderedTemplate()
	q, ok := tpl.QuestionByID("q2")
	require.True(t, ok)
	assert.Equal(t, 2, q.Order)

	_, ok = tpl.QuestionByID("missing")
	assert.False(t, ok)
}

func TestQuestionTypeHasOptions(t *testing.T) {
	t.Parallel()
	assert.True(t, QuestionSingleSelect.HasOptions())
	assert.True(t, QuestionMultiSelect.HasOptions())
	assert.False(t, QuestionNumeric.HasOptions())
	assert.False(t, QuestionFreeText.HasOptions())
}

func TestAppendTurn(t *testing.T) {
	t.Parallel()
	var c ConversationState
	c.AppendTurn(RoleAssistant, "¿Color?")
	c.AppendTurn(RoleUser, "rojo")

	require.Len(t, c.History, 2)
	assert.Equal(t, RoleAssistant, c.History[0].Role)
	assert.Equal(t, "rojo", c.History[1].Content)
	assert.False(t, c.History[0].Timestamp.IsZero())
}
