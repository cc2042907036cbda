// Package intent implements C10: closed-taxonomy intent classification
// and query rewriting. Grounded on
// original_source/rag_service/services/intent_classifier_service.py
// (IntentClassifierService): the keyword tables, rule-based scoring
// formula, and rewrite templates are ported as-is; the ML fallback is
// re-expressed over the shared internal/generation.Client instead of a
// direct Ollama HTTP call.
package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/normex/ragbox-normex/internal/generation"
)

// Type is the closed intent taxonomy.
type Type string

const (
	Definition    Type = "definition"
	Applicability Type = "applicability"
	Requirements  Type = "requirements"
	Procedure     Type = "procedure"
	Exceptions    Type = "exceptions"
	General       Type = "general"
)

// highConfidenceThreshold is the rule-based confidence above which the
// ML fallback is skipped entirely.
const highConfidenceThreshold = 0.8

// Classification is the result of classifying one query.
type Classification struct {
	Intent             Type
	Confidence         float64
	Keywords           []string
	Reasoning          string
	SuggestedSections  []string
}

// Rewriting is the result of rewriting a query for its classified intent.
type Rewriting struct {
	OriginalQuery    string
	Intent           Type
	RewrittenQueries []string
	SectionFilters   []string
	ChunkTypeFilters []string
}

var intentKeywords = map[Type][]string{
	Definition: {
		"определение", "термин", "понятие", "что такое", "означает", "расшифровка",
		"аббревиатура", "сокращение", "значение", "смысл", "определить", "описать",
		"классификация", "тип", "вид", "категория", "группа", "разновидность",
	},
	Applicability: {
		"применение", "область", "сфера", "где", "когда", "для чего", "назначение",
		"использование", "применимо", "подходит", "соответствует", "относится",
		"распространяется", "действует", "действительно", "актуально", "релевантно",
	},
	Requirements: {
		"требование", "обязательно", "должен", "необходимо", "нужно", "следует",
		"обязан", "требуется", "предусмотрено", "установлено", "определено",
		"норма", "стандарт", "критерий", "условие", "параметр", "характеристика",
		"показатель", "величина", "размер", "расстояние", "высота", "ширина",
	},
	Procedure: {
		"процедура", "метод", "способ", "порядок", "алгоритм", "этап", "шаг",
		"выполнение", "осуществление", "проведение", "реализация", "применение",
		"действие", "операция", "процесс", "технология", "техника", "прием",
		"как", "каким образом", "последовательность", "стадия", "фаза",
	},
	Exceptions: {
		"исключение", "особый", "специальный", "отдельный", "частный", "конкретный",
		"не распространяется", "не применяется", "не относится", "не действует",
		"кроме", "за исключением", "помимо", "исключая", "не включая",
		"ограничение", "ограничено", "не допускается", "запрещено", "нельзя",
	},
}

// intentOrder fixes iteration order so ties resolve deterministically,
// matching a stable first-wins choice among equal scores.
var intentOrder = []Type{Definition, Applicability, Requirements, Procedure, Exceptions}

var intentToSections = map[Type][]string{
	Definition: {
		"термины и определения", "определения", "термины", "понятия",
		"сокращения", "аббревиатуры", "глоссарий", "словарь терминов",
	},
	Applicability: {
		"область применения", "сфера применения", "назначение", "применение",
		"распространение", "действие", "применимость", "использование",
	},
	Requirements: {
		"требования", "общие требования", "технические требования",
		"нормативные требования", "обязательные требования", "параметры",
		"характеристики", "показатели", "критерии", "условия",
	},
	Procedure: {
		"методы", "процедуры", "порядок", "алгоритм", "этапы", "стадии",
		"выполнение", "осуществление", "проведение", "реализация",
		"технология", "техника", "приемы", "операции",
	},
	Exceptions: {
		"исключения", "особые случаи", "ограничения", "запреты",
		"не распространяется", "не применяется", "не относится",
	},
}

var intentToChunkTypes = map[Type][]string{
	Definition:    {"definition", "term", "glossary"},
	Applicability: {"scope", "application", "coverage"},
	Requirements:  {"requirement", "mandatory", "obligatory"},
	Procedure:     {"procedure", "method", "process", "step"},
	Exceptions:    {"exception", "limitation", "restriction"},
}

// Classifier classifies intent and rewrites queries.
type Classifier struct {
	client generation.Client
}

// NewClassifier builds a Classifier backed by an LLM fallback client.
// client may be nil, in which case classification is rule-based only.
func NewClassifier(client generation.Client) *Classifier {
	return &Classifier{client: client}
}

// Classify returns the best-scoring intent. It tries rule-based keyword
// scoring first; if confidence is below highConfidenceThreshold and an
// LLM client is configured, it also tries ML classification and keeps
// whichever result has higher confidence.
func (c *Classifier) Classify(ctx context.Context, query string) Classification {
	ruleBased := ruleBasedClassification(query)
	if ruleBased.Confidence >= highConfidenceThreshold || c.client == nil {
		return ruleBased
	}

	mlResult, ok := c.mlClassification(ctx, query)
	if ok && mlResult.Confidence > ruleBased.Confidence {
		return mlResult
	}
	return ruleBased
}

func ruleBasedClassification(query string) Classification {
	lower := strings.ToLower(query)

	type scored struct {
		intent   Type
		score    float64
		keywords []string
	}
	var best *scored

	for _, intentType := range intentOrder {
		keywords := intentKeywords[intentType]
		var matched []string
		for _, kw := range keywords {
			if strings.Contains(lower, kw) {
				matched = append(matched, kw)
			}
		}
		score := float64(len(matched)) / float64(len(keywords))
		if best == nil || score > best.score {
			best = &scored{intent: intentType, score: score, keywords: matched}
		}
	}

	if best == nil || best.score == 0 {
		return Classification{
			Intent:     General,
			Confidence: 0.3,
			Reasoning:  "не найдено ключевых слов для классификации",
		}
	}

	confidence := best.score * 2
	if confidence > 0.95 {
		confidence = 0.95
	}

	return Classification{
		Intent:            best.intent,
		Confidence:        confidence,
		Keywords:          best.keywords,
		Reasoning:         fmt.Sprintf("правило-основанная классификация: найдено %d ключевых слов", len(best.keywords)),
		SuggestedSections: intentToSections[best.intent],
	}
}

type mlResponse struct {
	IntentType string   `json:"intent_type"`
	Confidence float64  `json:"confidence"`
	Reasoning  string   `json:"reasoning"`
	Keywords   []string `json:"keywords"`
}

var jsonObjectRe = regexp.MustCompile(`(?s)\{.*\}`)

func (c *Classifier) mlClassification(ctx context.Context, query string) (Classification, bool) {
	prompt := buildClassificationPrompt(query)
	text, err := c.client.Generate(ctx, prompt, generation.Options{Temperature: 0.1, MaxTokens: 200, TopP: 0.9})
	if err != nil {
		return Classification{}, false
	}

	match := jsonObjectRe.FindString(text)
	if match == "" {
		return Classification{}, false
	}

	var parsed mlResponse
	if err := json.Unmarshal([]byte(match), &parsed); err != nil {
		return Classification{}, false
	}

	intentType := Type(parsed.IntentType)
	if _, ok := intentToSections[intentType]; !ok && intentType != General {
		intentType = General
	}

	return Classification{
		Intent:            intentType,
		Confidence:         parsed.Confidence,
		Keywords:           parsed.Keywords,
		Reasoning:          parsed.Reasoning,
		SuggestedSections:  intentToSections[intentType],
	}, true
}

func buildClassificationPrompt(query string) string {
	return fmt.Sprintf(`Задача: Классифицировать намерение запроса к нормативным документам.

Запрос: "%s"

Типы намерений:
1. definition - запрос определений, терминов, понятий
2. applicability - запрос области применения, сферы действия
3. requirements - запрос требований, обязательств, норм
4. procedure - запрос процедур, методов, алгоритмов
5. exceptions - запрос исключений, ограничений, особых случаев
6. general - общие вопросы

Ответь в формате JSON:
{"intent_type": "тип_намерения", "confidence": 0.0-1.0, "reasoning": "объяснение выбора", "keywords": ["ключевые", "слова"]}`, query)
}

// Rewrite generates a small set of reformulated queries and the
// section/chunk-type filters implied by the classified intent.
func Rewrite(query string, c Classification) Rewriting {
	return Rewriting{
		OriginalQuery:    query,
		Intent:           c.Intent,
		RewrittenQueries: generateRewrittenQueries(query, c.Intent),
		SectionFilters:   intentToSections[c.Intent],
		ChunkTypeFilters: intentToChunkTypes[c.Intent],
	}
}

func generateRewrittenQueries(query string, intentType Type) []string {
	queries := []string{query}

	switch intentType {
	case Definition:
		queries = append(queries,
			"определение "+query, "что такое "+query, "термин "+query, "понятие "+query)
	case Applicability:
		queries = append(queries,
			"область применения "+query, "где применяется "+query, "сфера использования "+query, "назначение "+query)
	case Requirements:
		queries = append(queries,
			"требования к "+query, "нормы для "+query, "обязательные условия "+query, "параметры "+query)
	case Procedure:
		queries = append(queries,
			"метод "+query, "процедура "+query, "как выполнить "+query, "порядок "+query)
	case Exceptions:
		queries = append(queries,
			"исключения для "+query, "ограничения "+query, "не применяется к "+query, "особые случаи "+query)
	}

	return dedupeLimit(queries, 5)
}

func dedupeLimit(items []string, limit int) []string {
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, limit)
	for _, item := range items {
		if _, ok := seen[item]; ok {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
		if len(out) == limit {
			break
		}
	}
	return out
}
