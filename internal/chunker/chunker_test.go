package chunker

import (
	"strings"
	"testing"

	"github.com/normex/ragbox-normex/internal/config"
	"github.com/normex/ragbox-normex/internal/metadata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() config.ChunkingConfig {
	return config.ChunkingConfig{
		TargetTokens:        800,
		MinTokens:           512,
		MaxTokens:           1200,
		OverlapRatio:        0.2,
		MinOverlapSentences: 1,
		MergeEnabled:        true,
		MaxMergedTokens:     1200,
		MinSentenceLength:   10,
		TokensPerChar:       0.25,
	}
}

// repeatSentence builds a sentence of roughly the given token count
// under the 0.25 tokens/char heuristic (4 chars/token).
func repeatSentence(tokens int) string {
	words := strings.Repeat("Испытание нормативного документа ", tokens/4+1)
	return "Предложение номер один " + words + "."
}

func TestChunk_ProducesBoundedChunks(t *testing.T) {
	cfg := testConfig()
	svc := NewService(cfg)
	doc := metadata.ExtractDocument("СП 1.2020.pdf", 1, nil)

	var sb strings.Builder
	for i := 0; i < 20; i++ {
		sb.WriteString(repeatSentence(100))
		sb.WriteString(" ")
	}

	chunks, err := svc.Chunk(sb.String(), 1, "Test Document", doc)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)

	for _, c := range chunks {
		tokens := svc.estimateTokens(c.Content)
		assert.LessOrEqual(t, tokens, cfg.MaxMergedTokens, "chunk exceeds max merged tokens")
	}
}

func TestChunk_EmptyTextFails(t *testing.T) {
	svc := NewService(testConfig())
	doc := metadata.ExtractDocument("x.pdf", 1, nil)
	_, err := svc.Chunk("   ", 1, "X", doc)
	require.Error(t, err)
}

func TestSplitPages_NoMarkerIsSinglePage(t *testing.T) {
	pages := splitPages("Просто текст без маркеров страниц.")
	require.Len(t, pages, 1)
	assert.Equal(t, 1, pages[0].number)
}

func TestSplitPages_WithMarkers(t *testing.T) {
	text := "Первая страница. Страница 1 из 3 Вторая страница. Страница 2 из 3 Третья страница."
	pages := splitPages(text)
	require.Len(t, pages, 3)
	assert.Equal(t, 1, pages[0].number)
	assert.Equal(t, 1, pages[1].number)
	assert.Equal(t, 2, pages[2].number)
}

func TestSplitSentences_DropsShortFragments(t *testing.T) {
	sents := splitSentences("Да. Это достаточно длинное предложение для прохождения фильтра.", 10)
	for _, s := range sents {
		assert.GreaterOrEqual(t, len([]rune(s)), 1)
	}
	assert.NotContains(t, sents, "Да.")
}

func TestHeaderMergePass_MergesOnHeaderMarker(t *testing.T) {
	svc := NewService(testConfig())
	segs := []segment{
		{content: "Текст заканчивается на подпункт"},
		{content: "продолжение обязательные требования к конструкциям"},
	}
	merged := svc.headerMergePass(segs)
	require.Len(t, merged, 1)
}

func TestHeaderMergePass_NoMergeWhenUnrelated(t *testing.T) {
	svc := NewService(testConfig())
	segs := []segment{
		{content: "Первый независимый фрагмент текста, который заканчивается точкой."},
		{content: "Второй независимый фрагмент начинается с Заглавной буквы."},
	}
	merged := svc.headerMergePass(segs)
	assert.Len(t, merged, 2)
}

func TestHasUnbalancedQuotesOrBrackets(t *testing.T) {
	assert.True(t, hasUnbalancedQuotesOrBrackets("открыли «кавычку и не закрыли"))
	assert.False(t, hasUnbalancedQuotesOrBrackets("«сбалансированная кавычка»"))
	assert.True(t, hasUnbalancedQuotesOrBrackets("открыли (скобку и не закрыли"))
}

func TestDeeperSection_PrefersMoreComponents(t *testing.T) {
	assert.True(t, deeperSection("5.2.1", "5.2"))
	assert.True(t, deeperSection("5.2", ""))
	assert.False(t, deeperSection("5", "5.2.1"))
}
