package intent

import (
	"context"
	"testing"

	"github.com/normex/ragbox-normex/internal/generation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	response string
	err      error
}

func (f *fakeClient) Generate(ctx context.Context, prompt string, opts generation.Options) (string, error) {
	return f.response, f.err
}

func TestClassify_RuleBasedHighConfidenceSkipsML(t *testing.T) {
	client := &fakeClient{response: `{"intent_type": "procedure", "confidence": 0.99, "reasoning": "ml", "keywords": []}`}
	c := NewClassifier(client)
	result := c.Classify(context.Background(), "что такое термин огнестойкость: определение, понятие, значение, смысл, расшифровка и сокращение")
	assert.Equal(t, Definition, result.Intent)
	assert.GreaterOrEqual(t, result.Confidence, highConfidenceThreshold)
}

func TestClassify_NoKeywordsReturnsGeneral(t *testing.T) {
	c := NewClassifier(nil)
	result := c.Classify(context.Background(), "xyzzy plugh")
	assert.Equal(t, General, result.Intent)
	assert.InDelta(t, 0.3, result.Confidence, 1e-9)
}

func TestClassify_LowConfidenceUsesMLWhenBetter(t *testing.T) {
	client := &fakeClient{response: `{"intent_type": "procedure", "confidence": 0.9, "reasoning": "ml", "keywords": ["шаг"]}`}
	c := NewClassifier(client)

	result := c.Classify(context.Background(), "скажи мне про это пожалуйста")
	assert.Equal(t, Procedure, result.Intent)
	assert.InDelta(t, 0.9, result.Confidence, 1e-9)
}

func TestClassify_MLFailureFallsBackToRuleBased(t *testing.T) {
	client := &fakeClient{response: "not json at all"}
	c := NewClassifier(client)

	result := c.Classify(context.Background(), "скажи мне про это пожалуйста")
	require.NotNil(t, result)
	assert.NotEmpty(t, result.Intent)
}

func TestRewrite_DefinitionGeneratesTemplatedQueries(t *testing.T) {
	c := Classification{Intent: Definition}
	r := Rewrite("огнестойкость", c)

	require.Len(t, r.RewrittenQueries, 5)
	assert.Equal(t, "огнестойкость", r.RewrittenQueries[0])
	assert.Contains(t, r.RewrittenQueries, "определение огнестойкость")
	assert.NotEmpty(t, r.SectionFilters)
	assert.Equal(t, []string{"definition", "term", "glossary"}, r.ChunkTypeFilters)
}

func TestRewrite_GeneralHasNoTemplates(t *testing.T) {
	r := Rewrite("вопрос", Classification{Intent: General})
	assert.Equal(t, []string{"вопрос"}, r.RewrittenQueries)
	assert.Empty(t, r.SectionFilters)
	assert.Empty(t, r.ChunkTypeFilters)
}

func TestDedupeLimit_RemovesDuplicatesAndCaps(t *testing.T) {
	out := dedupeLimit([]string{"a", "b", "a", "c", "d", "e", "f"}, 3)
	assert.Equal(t, []string{"a", "b", "c"}, out)
}
