package usecase

import (
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/pulsohq/pulso/internal/domain"
)

// MatchOutcome is the result of interpreting one respondent message
// against the current question. When OK is false, Reprompt carries the
// full message to send back; the conversation pointer must not advance.
type MatchOutcome struct {
	OK       bool
	Answer   domain.StagedAnswer
	Reprompt string
}

// Matcher converts free-form respondent text into the structured value
// the current question requires. Exact and fuzzy interpretation happen
// locally; only genuinely ambiguous select answers reach the classifier,
// with a single call and no automatic retry.
type Matcher struct {
	Classifier domain.Classifier
}

// Match dispatches on the question type. The switch is exhaustive over
// the closed QuestionType set; an unknown type is a programming error
// and fails closed with a re-prompt.
func (m Matcher) Match(ctx domain.Context, q domain.Question, raw string) MatchOutcome {
	switch q.Type {
	case domain.QuestionFreeText:
		return m.matchFreeText(q, raw)
	case domain.QuestionNumeric:
		return m.matchNumeric(q, raw)
	case domain.QuestionSingleSelect:
		return m.matchSelect(ctx, q, raw, false)
	case domain.QuestionMultiSelect:
		return m.matchSelect(ctx, q, raw, true)
	default:
		slog.Error("unknown question type", slog.String("question_id", q.ID), slog.String("type", string(q.Type)))
		return MatchOutcome{Reprompt: msgTransientError}
	}
}

func (m Matcher) matchFreeText(q domain.Question, raw string) MatchOutcome {
	text := strings.TrimSpace(raw)
	if text == "" && q.Required {
		return MatchOutcome{Reprompt: msgEmptyAnswer}
	}
	return MatchOutcome{OK: true, Answer: domain.StagedAnswer{
		QuestionID: q.ID,
		Kind:       domain.AnswerText,
		Text:       text,
	}}
}

// matchNumeric never falls through to the classifier: numbers have no
// fuzzy semantic space, so a failed parse re-prompts directly.
func (m Matcher) matchNumeric(q domain.Question, raw string) MatchOutcome {
	n, ok := parseNumber(raw)
	if !ok {
		return MatchOutcome{Reprompt: msgInvalidNumber}
	}
	return MatchOutcome{OK: true, Answer: domain.StagedAnswer{
		QuestionID: q.ID,
		Kind:       domain.AnswerNumber,
		Number:     n,
	}}
}

func (m Matcher) matchSelect(ctx domain.Context, q domain.Question, raw string, multi bool) MatchOutcome {
	labels := q.OptionLabels()

	if idxs, ok := exactMatch(labels, raw, multi); ok {
		return m.accept(q, idxs)
	}

	idxs, ok := m.classify(ctx, q, labels, raw, multi)
	if !ok {
		errText := msgUndetermined
		if multi {
			errText = msgUndeterminedMany
		}
		return MatchOutcome{Reprompt: optionsReprompt(errText, labels)}
	}
	return m.accept(q, idxs)
}

// accept maps validated option indices to option ids, deduplicated in
// canonical option-list order.
func (m Matcher) accept(q domain.Question, idxs []int) MatchOutcome {
	seen := make(map[int]bool, len(idxs))
	uniq := idxs[:0]
	for _, i := range idxs {
		if !seen[i] {
			seen[i] = true
			uniq = append(uniq, i)
		}
	}
	sort.Ints(uniq)
	ids := make([]string, len(uniq))
	for i, idx := range uniq {
		ids[i] = q.Options[idx].ID
	}
	return MatchOutcome{OK: true, Answer: domain.StagedAnswer{
		QuestionID: q.ID,
		Kind:       domain.AnswerOptions,
		OptionIDs:  ids,
	}}
}

// exactMatch resolves the raw text without any external call. Single
// select compares the whole trimmed text against each label in defined
// order, first match wins. Multi select splits on commas and requires
// every token to match exactly; one miss discards the partial result.
func exactMatch(labels []string, raw string, multi bool) ([]int, bool) {
	if !multi {
		text := strings.TrimSpace(raw)
		for i, l := range labels {
			if strings.EqualFold(text, l) {
				return []int{i}, true
			}
		}
		return nil, false
	}
	tokens := strings.Split(raw, ",")
	idxs := make([]int, 0, len(tokens))
	for _, tok := range tokens {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		matched := -1
		for i, l := range labels {
			if strings.EqualFold(tok, l) {
				matched = i
				break
			}
		}
		if matched < 0 {
			return nil, false
		}
		idxs = append(idxs, matched)
	}
	if len(idxs) == 0 {
		return nil, false
	}
	return idxs, true
}

// classify is the single AI-assisted fallback. Any transport error,
// malformed response, or out-of-range index is treated as undetermined;
// re-prompting the human is the retry mechanism.
func (m Matcher) classify(ctx domain.Context, q domain.Question, labels []string, raw string, multi bool) ([]int, bool) {
	if m.Classifier == nil {
		return nil, false
	}
	cls, err := m.Classifier.ClassifyOption(ctx, q.Text, labels, raw, multi)
	if err != nil {
		slog.Warn("classifier call failed, treating as undetermined",
			slog.String("question_id", q.ID), slog.Any("error", err))
		return nil, false
	}
	if cls.Rationale != "" {
		slog.Debug("classifier rationale",
			slog.String("question_id", q.ID), slog.String("rationale", cls.Rationale))
	}
	if cls.Undetermined {
		return nil, false
	}
	if !multi && len(cls.Indices) != 1 {
		return nil, false
	}
	if multi && len(cls.Indices) == 0 {
		return nil, false
	}
	for _, i := range cls.Indices {
		if i < 0 || i >= len(labels) {
			// One invalid index invalidates the whole set.
			return nil, false
		}
	}
	return cls.Indices, true
}

// parseNumber parses loosely formatted numeric input: surrounding
// whitespace, currency-like noise, and either comma or dot as the
// decimal separator are tolerated.
func parseNumber(raw string) (float64, bool) {
	s := strings.TrimSpace(raw)
	s = strings.Trim(s, "$€£¥%bBsS ")
	if s == "" {
		return 0, false
	}
	ci := strings.LastIndexByte(s, ',')
	di := strings.LastIndexByte(s, '.')
	switch {
	case ci >= 0 && di >= 0:
		// Both present: the later one is the decimal separator, the
		// earlier one is a thousands separator.
		if ci > di {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case ci >= 0:
		s = strings.Replace(s, ",", ".", 1)
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
