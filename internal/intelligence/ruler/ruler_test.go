package ruler

import (
	"context"
	"math/rand"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/turtacn/nerruler/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/nerruler/pkg/errors"
	"github.com/turtacn/nerruler/pkg/types/annotation"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// docOf joins words with single spaces and records their offsets.
func docOf(words ...string) *annotation.Document {
	var sb strings.Builder
	toks := make([]annotation.Token, 0, len(words))
	for i, w := range words {
		if i > 0 {
			sb.WriteByte(' ')
		}
		start := sb.Len()
		sb.WriteString(w)
		toks = append(toks, annotation.Token{Index: i, Text: w, StartChar: start, EndChar: sb.Len()})
	}
	return &annotation.Document{Text: sb.String(), Tokens: toks}
}

func mustStore(t *testing.T, opts ...StoreOption) *Store {
	t.Helper()
	return NewStore(opts...)
}

func addPhrase(t *testing.T, s *Store, label string, surface ...string) {
	t.Helper()
	require.NoError(t, s.AddPhrasePattern(label, surface))
}

func addRegex(t *testing.T, s *Store, label, expr string) {
	t.Helper()
	require.NoError(t, s.AddRegexPattern(label, expr))
}

func span(start, end int, label string, src annotation.Source) annotation.Span {
	return annotation.Span{Start: start, End: end, Label: label, Source: src}
}

// ---------------------------------------------------------------------------
// Store
// ---------------------------------------------------------------------------

func TestStore_DefaultIsCaseSensitive(t *testing.T) {
	s := NewStore()
	assert.False(t, s.CaseInsensitive())
	assert.Empty(t, s.Labels())
}

func TestStore_IndexesByFirstToken(t *testing.T) {
	s := mustStore(t)
	addPhrase(t, s, "TECHNOLOGY", "Machine", "Learning")
	addPhrase(t, s, "TECHNOLOGY", "Deep", "Learning")
	addPhrase(t, s, "X", "Machine")

	assert.Equal(t, []int{0, 2}, s.candidates("Machine"))
	assert.Equal(t, []int{1}, s.candidates("Deep"))
	assert.Empty(t, s.candidates("Learning"))

	phrase, regex := s.Len()
	assert.Equal(t, 3, phrase)
	assert.Equal(t, 0, regex)
}

func TestStore_CaseInsensitiveFoldsAtInsert(t *testing.T) {
	s := mustStore(t, WithCaseInsensitive(true))
	addPhrase(t, s, "TECHNOLOGY", "Deep", "Learning")

	assert.Equal(t, []int{0}, s.candidates("deep"))
	assert.Equal(t, []string{"Deep", "Learning"}, s.PhrasePatterns()[0].Surface)
}

func TestStore_LabelValidation(t *testing.T) {
	s := mustStore(t, WithLabels("TOOL", "DATE"))

	assert.NoError(t, s.AddPhrasePattern("TOOL", []string{"Keras"}))
	err := s.AddPhrasePattern("TOOLS", []string{"Keras"})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeUnknownLabel))

	err = s.AddRegexPattern("ACRONYM", `[A-Z]{2,}`)
	assert.True(t, errors.IsCode(err, errors.ErrCodeUnknownLabel))

	err = s.AddPhrasePattern("", []string{"x"})
	assert.True(t, errors.IsCode(err, errors.ErrCodeUnknownLabel))

	assert.Equal(t, []string{"DATE", "TOOL"}, s.Labels())
}

func TestStore_InvalidPatterns(t *testing.T) {
	s := mustStore(t)

	err := s.AddRegexPattern("DATE", `\d{2}(`)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidPattern))

	err = s.AddPhrasePattern("TOOL", nil)
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidPattern))

	err = s.AddPhrasePattern("TOOL", []string{"a", ""})
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidPattern))

	phrase, regex := s.Len()
	assert.Zero(t, phrase)
	assert.Zero(t, regex)
}

func TestStore_SealAndFingerprint(t *testing.T) {
	a := mustStore(t)
	addPhrase(t, a, "TOOL", "Keras")
	addRegex(t, a, "DATE", `\d{2}/\d{2}/\d{4}`)

	b := mustStore(t)
	addPhrase(t, b, "TOOL", "Keras")
	addRegex(t, b, "DATE", `\d{2}/\d{2}/\d{4}`)

	assert.Equal(t, a.Fingerprint(), b.Fingerprint())

	c := mustStore(t, WithCaseInsensitive(true))
	addPhrase(t, c, "TOOL", "Keras")
	addRegex(t, c, "DATE", `\d{2}/\d{2}/\d{4}`)
	assert.NotEqual(t, a.Fingerprint(), c.Fingerprint())

	a.Seal()
	assert.True(t, a.Sealed())
	assert.Equal(t, b.Fingerprint(), a.Fingerprint())
	assert.True(t, errors.IsCode(a.AddPhrasePattern("TOOL", []string{"x"}), errors.ErrCodeConflict))
	assert.True(t, errors.IsCode(a.AddRegexPattern("TOOL", "x"), errors.ErrCodeConflict))
}

func TestStore_AccessorsReturnCopies(t *testing.T) {
	s := mustStore(t)
	addPhrase(t, s, "TOOL", "Keras")
	addRegex(t, s, "DATE", `\d+`)

	ps := s.PhrasePatterns()
	ps[0].Label = "CHANGED"
	assert.Equal(t, "TOOL", s.PhrasePatterns()[0].Label)
	assert.Len(t, s.RegexPatterns(), 1)
}

// ---------------------------------------------------------------------------
// Phrase matcher
// ---------------------------------------------------------------------------

func TestPhraseMatcher_CaseSensitivity(t *testing.T) {
	cases := []struct {
		name            string
		caseInsensitive bool
		words           []string
		want            int
	}{
		{"sensitive exact", false, []string{"Deep", "Learning"}, 1},
		{"sensitive lower", false, []string{"Deep", "learning"}, 0},
		{"insensitive exact", true, []string{"Deep", "Learning"}, 1},
		{"insensitive lower", true, []string{"Deep", "learning"}, 1},
		{"insensitive upper", true, []string{"DEEP", "LEARNING"}, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := mustStore(t, WithCaseInsensitive(tc.caseInsensitive))
			addPhrase(t, s, "TECHNOLOGY", "Deep", "Learning")

			spans := NewPhraseMatcher(s).Match(docOf(tc.words...))
			require.Len(t, spans, tc.want)
			if tc.want == 1 {
				assert.Equal(t, span(0, 2, "TECHNOLOGY", annotation.SourcePhrase), spans[0])
			}
		})
	}
}

func TestPhraseMatcher_EmitsAllMatches(t *testing.T) {
	s := mustStore(t)
	addPhrase(t, s, "X", "Machine")
	addPhrase(t, s, "Y", "Machine", "Learning")
	addPhrase(t, s, "Z", "Learning")

	spans := NewPhraseMatcher(s).Match(docOf("Machine", "Learning", "Machine"))
	assert.Equal(t, []annotation.Span{
		span(0, 1, "X", annotation.SourcePhrase),
		span(0, 2, "Y", annotation.SourcePhrase),
		span(1, 2, "Z", annotation.SourcePhrase),
		span(2, 3, "X", annotation.SourcePhrase),
	}, spans)
}

func TestPhraseMatcher_PatternPastDocumentEnd(t *testing.T) {
	s := mustStore(t)
	addPhrase(t, s, "TECHNOLOGY", "Natural", "Language", "Processing")

	assert.Empty(t, NewPhraseMatcher(s).Match(docOf("Natural", "Language")))
}

func TestPhraseMatcher_DuplicatePatterns(t *testing.T) {
	s := mustStore(t)
	addPhrase(t, s, "TOOL", "Keras")
	addPhrase(t, s, "TOOL", "Keras")

	assert.Len(t, NewPhraseMatcher(s).Match(docOf("Keras")), 2)
}

func TestPhraseMatcher_EmptyInput(t *testing.T) {
	s := mustStore(t)
	addPhrase(t, s, "TOOL", "Keras")

	assert.Empty(t, NewPhraseMatcher(s).Match(&annotation.Document{}))
	assert.Empty(t, NewPhraseMatcher(s).Match(nil))
	assert.Empty(t, NewPhraseMatcher(nil).Match(docOf("Keras")))
}

// ---------------------------------------------------------------------------
// Regex matcher
// ---------------------------------------------------------------------------

func dateDoc() *annotation.Document {
	return &annotation.Document{
		Text: "Le 12/05/2023 était...",
		Tokens: []annotation.Token{
			{Index: 0, Text: "Le", StartChar: 0, EndChar: 2},
			{Index: 1, Text: "12/05/2023", StartChar: 3, EndChar: 13},
			{Index: 2, Text: "était", StartChar: 14, EndChar: 20},
			{Index: 3, Text: ".", StartChar: 20, EndChar: 21},
			{Index: 4, Text: ".", StartChar: 21, EndChar: 22},
			{Index: 5, Text: ".", StartChar: 22, EndChar: 23},
		},
	}
}

func TestRegexMatcher_DateRendersExactly(t *testing.T) {
	s := mustStore(t)
	addRegex(t, s, "DATE", `\d{2}/\d{2}/\d{4}`)
	doc := dateDoc()

	res := NewRegexMatcher(s).Match(doc)
	require.Len(t, res.Spans, 1)
	assert.Empty(t, res.Warnings)
	assert.Equal(t, span(1, 2, "DATE", annotation.SourceRegex), res.Spans[0])

	text, err := doc.SpanText(res.Spans[0])
	require.NoError(t, err)
	assert.Equal(t, "12/05/2023", text)
}

func TestRegexMatcher_WidensToTokenBoundaries(t *testing.T) {
	s := mustStore(t)
	addRegex(t, s, "X", `Cde`)
	addRegex(t, s, "Y", `def gh`)

	res := NewRegexMatcher(s).Match(docOf("ABCdef", "ghi"))
	assert.Equal(t, []annotation.Span{
		span(0, 1, "X", annotation.SourceRegex),
		span(0, 2, "Y", annotation.SourceRegex),
	}, res.Spans)
}

func TestRegexMatcher_AlignmentWarning(t *testing.T) {
	s := mustStore(t)
	addRegex(t, s, "GAP", ` gh`)
	addRegex(t, s, "OK", `ghi`)

	res := NewRegexMatcher(s).Match(docOf("ABCdef", "ghi"))
	assert.Equal(t, []annotation.Span{span(1, 2, "OK", annotation.SourceRegex)}, res.Spans)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, AlignmentWarning{Label: "GAP", StartChar: 6, EndChar: 9, Text: " gh"}, res.Warnings[0])
}

func TestRegexMatcher_NonOverlappingPerPattern(t *testing.T) {
	s := mustStore(t)
	addRegex(t, s, "ACRONYM", `[A-Z]{2,}`)
	addRegex(t, s, "PAIR", `[A-Z]{2}`)

	res := NewRegexMatcher(s).Match(docOf("NLP", "et", "CNN"))
	assert.Equal(t, []annotation.Span{
		span(0, 1, "ACRONYM", annotation.SourceRegex),
		span(2, 3, "ACRONYM", annotation.SourceRegex),
		span(0, 1, "PAIR", annotation.SourceRegex),
		span(2, 3, "PAIR", annotation.SourceRegex),
	}, res.Spans)
}

func TestRegexMatcher_ZeroWidthIgnored(t *testing.T) {
	s := mustStore(t)
	addRegex(t, s, "EMPTY", `x*`)

	res := NewRegexMatcher(s).Match(docOf("ab", "cd"))
	assert.Empty(t, res.Spans)
	assert.Empty(t, res.Warnings)
}

func TestRegexMatcher_FindAll(t *testing.T) {
	s := mustStore(t)
	addRegex(t, s, "DATE", `\d{2}/\d{2}/\d{4}`)
	addRegex(t, s, "ACRONYM", `[A-Z]{2,}`)

	m := NewRegexMatcher(s)
	assert.Equal(t, []string{"AI", "NLP"}, m.FindAll("ACRONYM", "AI et NLP le 01/02/2024"))
	assert.Equal(t, []string{"01/02/2024"}, m.FindAll("DATE", "AI et NLP le 01/02/2024"))
	assert.Empty(t, m.FindAll("TOOL", "AI"))
	assert.Empty(t, NewRegexMatcher(nil).FindAll("DATE", "01/02/2024"))
}

func TestAlignCharSpan(t *testing.T) {
	toks := docOf("aa", "bbb", "c").Tokens // [0,2) [3,6) [7,8)

	cases := []struct {
		name       string
		cs, ce     int
		start, end int
		ok         bool
	}{
		{"exact token", 3, 6, 1, 2, true},
		{"inside token", 4, 5, 1, 2, true},
		{"across tokens", 1, 8, 0, 3, true},
		{"starts in gap", 2, 5, 0, 0, false},
		{"ends in gap", 3, 7, 0, 0, false},
		{"past text", 7, 9, 0, 0, false},
		{"empty", 3, 3, 0, 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			start, end, ok := alignCharSpan(toks, tc.cs, tc.ce)
			assert.Equal(t, tc.ok, ok)
			if tc.ok {
				assert.Equal(t, tc.start, start)
				assert.Equal(t, tc.end, end)
			}
		})
	}

	_, _, ok := alignCharSpan(nil, 0, 1)
	assert.False(t, ok)
}

// ---------------------------------------------------------------------------
// Resolver
// ---------------------------------------------------------------------------

func TestResolve_Empty(t *testing.T) {
	out := Resolve(nil, nil)
	assert.NotNil(t, out)
	assert.Empty(t, out)
}

func TestResolve_LongestMatchWins(t *testing.T) {
	s := mustStore(t)
	addPhrase(t, s, "X", "Machine")
	addPhrase(t, s, "Y", "Machine", "Learning")

	phrase := NewPhraseMatcher(s).Match(docOf("Machine", "Learning"))
	assert.Equal(t, []annotation.Span{span(0, 2, "Y", annotation.SourcePhrase)}, Resolve(phrase, nil))
}

func TestResolve_PhraseBeatsRegexOnIdenticalSpan(t *testing.T) {
	phrase := []annotation.Span{span(0, 1, "ACRONYM_PHRASE", annotation.SourcePhrase)}
	regex := []annotation.Span{span(0, 1, "ACRONYM_REGEX", annotation.SourceRegex)}

	assert.Equal(t, phrase, Resolve(phrase, regex))
	// Argument order does not change source priority.
	assert.Equal(t, phrase, Resolve(nil, append(append([]annotation.Span{}, regex...), phrase...)))
}

func TestResolve_LongerRegexBeatsShorterPhrase(t *testing.T) {
	phrase := []annotation.Span{span(1, 2, "TOOL", annotation.SourcePhrase)}
	regex := []annotation.Span{span(0, 3, "DATE", annotation.SourceRegex)}

	assert.Equal(t, regex, Resolve(phrase, regex))
}

func TestResolve_DiscoveryOrderBreaksRemainingTies(t *testing.T) {
	phrase := []annotation.Span{
		span(0, 1, "FIRST", annotation.SourcePhrase),
		span(0, 1, "SECOND", annotation.SourcePhrase),
	}
	out := Resolve(phrase, nil)
	assert.Equal(t, []annotation.Span{span(0, 1, "FIRST", annotation.SourcePhrase)}, out)
}

func TestResolve_GreedySweep(t *testing.T) {
	phrase := []annotation.Span{
		span(0, 2, "A", annotation.SourcePhrase),
		span(1, 3, "B", annotation.SourcePhrase),
		span(2, 4, "C", annotation.SourcePhrase),
		span(2, 4, "C", annotation.SourcePhrase),
	}
	regex := []annotation.Span{span(4, 5, "D", annotation.SourceRegex)}

	assert.Equal(t, []annotation.Span{
		span(0, 2, "A", annotation.SourcePhrase),
		span(2, 4, "C", annotation.SourcePhrase),
		span(4, 5, "D", annotation.SourceRegex),
	}, Resolve(phrase, regex))
}

func TestResolve_DropsDegenerateCandidates(t *testing.T) {
	out := Resolve([]annotation.Span{span(1, 1, "BAD", annotation.SourcePhrase), span(0, 1, "OK", annotation.SourcePhrase)}, nil)
	assert.Equal(t, []annotation.Span{span(0, 1, "OK", annotation.SourcePhrase)}, out)
}

func TestResolve_RandomizedInvariant(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for iter := 0; iter < 500; iter++ {
		var phrase, regex []annotation.Span
		for i := 0; i < rng.Intn(20); i++ {
			start := rng.Intn(15)
			phrase = append(phrase, span(start, start+1+rng.Intn(4), "P", annotation.SourcePhrase))
		}
		for i := 0; i < rng.Intn(20); i++ {
			start := rng.Intn(15)
			regex = append(regex, span(start, start+1+rng.Intn(4), "R", annotation.SourceRegex))
		}

		out := Resolve(phrase, regex)
		require.True(t, annotation.IsResolved(out), "iteration %d: %v", iter, out)

		all := append(append([]annotation.Span{}, phrase...), regex...)
		for _, cand := range all {
			kept := false
			overlapped := false
			for _, o := range out {
				if o == cand {
					kept = true
				}
				if o.Overlaps(cand) {
					overlapped = true
				}
			}
			assert.True(t, kept || overlapped, "candidate %v discarded without overlap", cand)
		}
	}
}

// ---------------------------------------------------------------------------
// Annotator
// ---------------------------------------------------------------------------

func TestAnnotator_EndToEndScenario(t *testing.T) {
	s := mustStore(t)
	addPhrase(t, s, "TOOL", "TensorFlow")
	addPhrase(t, s, "TOOL", "Scikit-learn")
	addRegex(t, s, "ACRONYM", `[A-Z]{2,}`)

	doc := &annotation.Document{
		Text: "J'utilise TensorFlow et Scikit-learn",
		Tokens: []annotation.Token{
			{Index: 0, Text: "J'", StartChar: 0, EndChar: 2},
			{Index: 1, Text: "utilise", StartChar: 2, EndChar: 9},
			{Index: 2, Text: "TensorFlow", StartChar: 10, EndChar: 20},
			{Index: 3, Text: "et", StartChar: 21, EndChar: 23},
			{Index: 4, Text: "Scikit-learn", StartChar: 24, EndChar: 36},
		},
	}

	ann, err := NewAnnotator(StaticStore{S: s}).Annotate(context.Background(), doc)
	require.NoError(t, err)
	assert.Equal(t, []annotation.Span{
		span(2, 3, "TOOL", annotation.SourcePhrase),
		span(4, 5, "TOOL", annotation.SourcePhrase),
	}, ann.Spans)
	require.Len(t, ann.Entities, 2)
	assert.Equal(t, "TensorFlow", ann.Entities[0].Text)
	assert.Equal(t, "Scikit-learn", ann.Entities[1].Text)
	assert.Equal(t, 2, ann.PhraseCandidates)
	assert.Zero(t, ann.RegexCandidates)
}

func TestAnnotator_EmptyDocument(t *testing.T) {
	s := mustStore(t)
	addPhrase(t, s, "TOOL", "Keras")

	ann, err := NewAnnotator(StaticStore{S: s}).Annotate(context.Background(), &annotation.Document{})
	require.NoError(t, err)
	assert.Empty(t, ann.Spans)
	assert.NotNil(t, ann.Entities)
}

func TestAnnotator_NoStore(t *testing.T) {
	_, err := NewAnnotator(StaticStore{}).Annotate(context.Background(), docOf("x"))
	assert.True(t, errors.IsCode(err, errors.ErrCodeStoreNotReady))
}

func TestAnnotator_InvalidDocument(t *testing.T) {
	doc := docOf("a", "b")
	doc.Tokens[1].StartChar = 0
	_, err := NewAnnotator(StaticStore{S: NewStore()}).Annotate(context.Background(), doc)
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidDoc))
}

func TestAnnotator_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewAnnotator(StaticStore{S: NewStore()}).Annotate(ctx, docOf("x"))
	assert.True(t, errors.IsCode(err, errors.ErrCodeTimeout))
}

func TestAnnotator_LogsAlignmentWarnings(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	s := mustStore(t)
	addRegex(t, s, "GAP", ` b`)

	ann, err := NewAnnotator(StaticStore{S: s}, WithLogger(logging.NewLoggerFromCore(core))).
		Annotate(context.Background(), docOf("a", "b"))
	require.NoError(t, err)
	assert.Empty(t, ann.Spans)
	require.Len(t, ann.Warnings, 1)

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "GAP", logs.All()[0].ContextMap()["label"])
	assert.Equal(t, errors.ErrCodeAlignment.String(), logs.All()[0].ContextMap()["code"])
}

func TestAnnotator_RandomizedOutputIsResolved(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	vocab := []string{"AI", "ML", "Deep", "Learning", "et", "NLP"}

	s := mustStore(t, WithCaseInsensitive(true))
	for i := 0; i < 12; i++ {
		n := 1 + rng.Intn(3)
		surface := make([]string, n)
		for j := range surface {
			surface[j] = vocab[rng.Intn(len(vocab))]
		}
		addPhrase(t, s, "P", surface...)
	}
	addRegex(t, s, "ACRONYM", `[A-Z]{2,}`)
	addRegex(t, s, "SPANNING", `Deep \w+`)

	a := NewAnnotator(StaticStore{S: s})
	for iter := 0; iter < 200; iter++ {
		words := make([]string, rng.Intn(12))
		for i := range words {
			words[i] = vocab[rng.Intn(len(vocab))]
		}
		ann, err := a.Annotate(context.Background(), docOf(words...))
		require.NoError(t, err)
		require.True(t, annotation.IsResolved(ann.Spans), "words=%v spans=%v", words, ann.Spans)
		for _, sp := range ann.Spans {
			require.NoError(t, sp.Check(len(words)))
		}
	}
}

// ---------------------------------------------------------------------------
// Registry
// ---------------------------------------------------------------------------

func TestRegistry_ReloadAndSwap(t *testing.T) {
	version := 0
	reg := NewRegistry(func(ctx context.Context) (*Store, error) {
		version++
		s := NewStore()
		if err := s.AddPhrasePattern("TOOL", []string{"Keras"}); err != nil {
			return nil, err
		}
		if version > 1 {
			if err := s.AddPhrasePattern("TOOL", []string{"PyTorch"}); err != nil {
				return nil, err
			}
		}
		return s, nil
	})
	assert.Nil(t, reg.Current())

	require.NoError(t, reg.Reload(context.Background()))
	first := reg.Current()
	require.NotNil(t, first)
	assert.True(t, first.Sealed())

	require.NoError(t, reg.Reload(context.Background()))
	assert.NotSame(t, first, reg.Current())
	phrase, _ := reg.Current().Len()
	assert.Equal(t, 2, phrase)
}

func TestRegistry_FailedReloadKeepsStore(t *testing.T) {
	fail := false
	reg := NewRegistry(func(ctx context.Context) (*Store, error) {
		if fail {
			s := NewStore()
			return nil, s.AddRegexPattern("DATE", `(`)
		}
		return NewStore(), nil
	})
	require.NoError(t, reg.Reload(context.Background()))
	before := reg.Current()

	fail = true
	err := reg.Reload(context.Background())
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidPattern))
	assert.Same(t, before, reg.Current())
}

func TestRegistry_NoLoader(t *testing.T) {
	err := NewRegistry(nil).Reload(context.Background())
	assert.True(t, errors.IsCode(err, errors.ErrCodeStoreNotReady))
}

func TestRegistry_ConcurrentReadersDuringSwap(t *testing.T) {
	reg := NewRegistry(nil)
	build := func(label string) *Store {
		s := NewStore()
		_ = s.AddPhrasePattern(label, []string{"Keras"})
		return s
	}
	reg.Swap(build("A"))

	a := NewAnnotator(reg)
	doc := docOf("Keras")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				ann, err := a.Annotate(context.Background(), doc)
				if assert.NoError(t, err) && assert.Len(t, ann.Spans, 1) {
					label := ann.Spans[0].Label
					assert.True(t, label == "A" || label == "B")
				}
			}
		}()
	}
	for j := 0; j < 50; j++ {
		if j%2 == 0 {
			reg.Swap(build("B"))
		} else {
			reg.Swap(build("A"))
		}
	}
	wg.Wait()
}
