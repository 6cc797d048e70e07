package pipeline

import (
	"context"
	"log/slog"
	"strings"
	"unicode"

	"github.com/akoreshkov/modaflow/internal/types"
)

// Keyword weights. Priority keywords are matched as whole tokens; general
// keywords as substrings, weighted by length. Fuzzy hits get a fraction of
// the normal weight.
const (
	weightPriorityExact  = 2.0
	weightPriorityStrong = 1.8
	weightGeneralLong    = 1.5
	weightGeneralMid     = 1.3
	weightGeneralShort   = 1.0
	fuzzyWeightFactor    = 0.8
	fuzzyMinRatio        = 0.8
	fuzzyMinKeywordRunes = 5
	fuzzyMinTokenRunes   = 4

	maxClassifierDescRunes  = 300
	defaultMinCategoryScore = 0.3
)

type weightedKeyword struct {
	word   string
	weight float64
}

type keywordSet struct {
	// priority keywords decide a category almost on their own.
	priority []weightedKeyword
	// general keywords accumulate supporting evidence.
	general []string
}

// categoryKeywords maps each taxonomy category to its evidence vocabulary.
// Tables are slices so scoring order is stable.
var categoryKeywords = map[types.Category]keywordSet{
	types.CategoryTop: {
		priority: []weightedKeyword{
			{"top", weightPriorityExact},
			{"платье", weightPriorityExact},
			{"футболка", weightPriorityExact},
			{"рубашка", weightPriorityStrong},
			{"куртка", weightPriorityStrong},
			{"свитер", weightPriorityStrong},
			{"толстовка", weightPriorityStrong},
			{"пальто", weightPriorityStrong},
			{"dress", weightPriorityStrong},
			{"hoodie", weightPriorityStrong},
		},
		general: []string{
			"футболки", "майка", "майки", "t-shirt", "tshirt",
			"рубашки", "блузка", "блузки", "блуза", "сорочка", "shirt",
			"худи", "толстовки", "свитшот", "свитшоты",
			"свитеры", "джемпер", "джемперы", "пуловер", "пуловеры",
			"кардиган", "кардиганы", "куртки", "жакет", "жакеты",
			"пиджак", "пиджаки", "бомбер", "ветровка",
			"шуба", "шубы", "плащ", "плащи", "тренч", "парка", "парки",
			"платья", "сарафан", "сарафаны", "кофта", "кофты",
			"лонгслив", "лонгсливы", "longsleeve", "поло", "polo",
			"sweater", "jacket", "coat", "blouse", "cardigan",
		},
	},
	types.CategoryBottom: {
		priority: []weightedKeyword{
			{"bottom", weightPriorityExact},
			{"джинсы", weightPriorityExact},
			{"брюки", weightPriorityExact},
			{"юбка", weightPriorityStrong},
			{"шорты", weightPriorityStrong},
			{"jeans", weightPriorityStrong},
		},
		general: []string{
			"штаны", "леггинсы", "легинсы", "лосины", "капри",
			"юбки", "pants", "trousers", "denim", "shorts", "skirt",
			"leggings",
		},
	},
	types.CategoryFootwear: {
		priority: []weightedKeyword{
			{"footwear", weightPriorityExact},
			{"кроссовки", weightPriorityExact},
			{"ботинки", weightPriorityExact},
			{"туфли", weightPriorityStrong},
			{"сапоги", weightPriorityStrong},
			{"sneakers", weightPriorityStrong},
		},
		general: []string{
			"обувь", "босоножки", "сандалии", "кеды", "мокасины",
			"лоферы", "балетки", "слипоны", "угги", "кроссовок",
			"shoes", "boots", "sandals", "flats",
		},
	},
	types.CategoryAccessory: {
		priority: []weightedKeyword{
			{"accessory", weightPriorityExact},
			{"сумка", weightPriorityExact},
			{"рюкзак", weightPriorityStrong},
			{"часы", weightPriorityStrong},
			{"очки", weightPriorityStrong},
		},
		general: []string{
			"аксессуары", "accessories", "сумки", "рюкзаки",
			"ремень", "ремни", "шарф", "шарфы", "платок", "платки",
			"украшения", "кольцо", "серьги", "браслет", "цепочка",
			"кулон", "перчатки", "варежки", "шапка", "шапки",
			"кепка", "кепки", "бейсболка", "панама", "берет",
			"bag", "backpack", "belt", "watch", "glasses", "scarf",
		},
	},
	types.CategoryFragrance: {
		priority: []weightedKeyword{
			{"fragrance", weightPriorityExact},
			{"духи", weightPriorityExact},
			{"парфюм", weightPriorityExact},
			{"аромат", weightPriorityStrong},
		},
		general: []string{
			"туалетная вода", "парфюмерная вода", "одеколон",
			"парфюмерия", "дезодорант", "эфирное масло",
			"спрей ароматический", "perfume", "cologne",
			"eau de toilette", "eau de parfum",
		},
	},
}

// Classifier assigns one of the five taxonomy categories from the
// candidate's text. Same input always yields the same category and score.
type Classifier struct {
	minScore float64
	logger   *slog.Logger
}

func NewClassifier(minScore float64, logger *slog.Logger) *Classifier {
	if minScore <= 0 {
		minScore = defaultMinCategoryScore
	}
	return &Classifier{
		minScore: minScore,
		logger:   logger.With("component", "classifier"),
	}
}

func (c *Classifier) Name() string { return "categorize" }

func (c *Classifier) Process(_ context.Context, l *types.EnrichedListing) (*types.EnrichedListing, error) {
	input := classifierInput(&l.RawListing)
	category, score, hint := c.classify(input)

	l.Category = category
	l.CategoryScore = score

	if l.ClothingType == "" && hint != "" {
		l.ClothingType = hint
	}

	if !category.Determined() {
		c.logger.Debug("category undetermined",
			"source_id", l.SourceID,
			"name", l.RawListing.Name,
			"score", score,
		)
	}
	return l, nil
}

// Classify scores the input text against each category and returns the
// argmax. A best score below the minimum yields CategoryUndetermined.
func (c *Classifier) Classify(input string) (types.Category, float64) {
	cat, score, _ := c.classify(strings.ToLower(input))
	return cat, score
}

func (c *Classifier) classify(input string) (types.Category, float64, string) {
	tokens := tokenizeWords(input)
	tokenSet := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		tokenSet[t] = true
	}

	best := types.CategoryUndetermined
	bestScore := 0.0
	bestHint := ""

	for _, cat := range types.Categories {
		kw := categoryKeywords[cat]
		score, hint := scoreKeywords(kw, input, tokens, tokenSet)
		if score > bestScore {
			best = cat
			bestScore = score
			bestHint = hint
		}
	}

	if bestScore < c.minScore {
		return types.CategoryUndetermined, bestScore, ""
	}
	return best, bestScore, bestHint
}

// scoreKeywords accumulates keyword evidence for one category and reports
// the first garment noun that matched, used as a clothing-type hint.
func scoreKeywords(kw keywordSet, input string, tokens []string, tokenSet map[string]bool) (float64, string) {
	var score float64
	var hint string

	for _, p := range kw.priority {
		if tokenSet[p.word] {
			score += p.weight
			if hint == "" && !types.Category(p.word).Valid() {
				hint = p.word
			}
		}
	}

	for _, word := range kw.general {
		if strings.Contains(input, word) {
			score += generalWeight(word)
			if hint == "" && !strings.Contains(word, " ") {
				hint = word
			}
			continue
		}
		if ratio := bestFuzzyRatio(word, tokens); ratio > fuzzyMinRatio {
			score += fuzzyWeightFactor * ratio
		}
	}

	return score, hint
}

func generalWeight(word string) float64 {
	switch n := len([]rune(word)); {
	case n >= 9:
		return weightGeneralLong
	case n >= 6:
		return weightGeneralMid
	default:
		return weightGeneralShort
	}
}

// bestFuzzyRatio returns the highest Levenshtein similarity between the
// keyword and any input token. Short keywords and tokens are skipped to
// avoid false positives.
func bestFuzzyRatio(word string, tokens []string) float64 {
	if strings.Contains(word, " ") || len([]rune(word)) < fuzzyMinKeywordRunes {
		return 0
	}

	var best float64
	for _, tok := range tokens {
		if len([]rune(tok)) < fuzzyMinTokenRunes {
			continue
		}
		if r := levenshteinRatio(word, tok); r > best {
			best = r
		}
	}
	return best
}

// classifierInput concatenates the text fields the classifier considers,
// truncating the description, lowercased.
func classifierInput(r *types.RawListing) string {
	desc := r.Description
	if runes := []rune(desc); len(runes) > maxClassifierDescRunes {
		desc = string(runes[:maxClassifierDescRunes])
	}

	parts := make([]string, 0, 4)
	for _, p := range []string{r.Name, r.RawCategory, r.ClothingType, desc} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.ToLower(strings.Join(parts, " "))
}

func tokenizeWords(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

func levenshteinRatio(a, b string) float64 {
	if a == b {
		return 1
	}
	ra, rb := []rune(a), []rune(b)
	longest := len(ra)
	if len(rb) > longest {
		longest = len(rb)
	}
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshteinDistance(ra, rb))/float64(longest)
}

// levenshteinDistance computes edit distance over runes using two rows.
func levenshteinDistance(r1, r2 []rune) int {
	m, n := len(r1), len(r2)
	if m == 0 {
		return n
	}
	if n == 0 {
		return m
	}

	prev := make([]int, n+1)
	curr := make([]int, n+1)
	for j := 0; j <= n; j++ {
		prev[j] = j
	}

	for i := 1; i <= m; i++ {
		curr[0] = i
		for j := 1; j <= n; j++ {
			cost := 0
			if r1[i-1] != r2[j-1] {
				cost = 1
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[n]
}
