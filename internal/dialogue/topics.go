package dialogue

import (
	"regexp"
	"slices"
	"strings"
	"sync"
	"unicode"

	"golang.org/x/text/cases"

	"github.com/MrWong99/npcmind/internal/fuzzy"
)

// Intents reported by [DetectIntent].
const (
	IntentLocationQuery = "location_query"
	IntentPersonQuery   = "person_query"
	IntentInfoQuery     = "info_query"
	IntentMethodQuery   = "method_query"
	IntentReasonQuery   = "reason_query"
	IntentQuestion      = "question"
	IntentGreeting      = "greeting"
	IntentFarewell      = "farewell"
	IntentPurchase      = "purchase"
	IntentSale          = "sale"
	IntentHelpRequest   = "help_request"
	IntentQuestInquiry  = "quest_inquiry"
	IntentStatement     = "statement"
)

// Sentiments reported by [DetectSentiment].
const (
	SentimentPositive = "positive"
	SentimentNegative = "negative"
	SentimentNeutral  = "neutral"
)

var stopwords = setOf(
	"the", "a", "an", "is", "are", "was", "were", "be", "been",
	"have", "has", "had", "do", "does", "did", "will", "would",
	"could", "should", "may", "might", "must", "shall", "can",
	"i", "you", "he", "she", "it", "we", "they", "me", "him",
	"her", "us", "them", "my", "your", "his", "its", "our", "their",
	"this", "that", "these", "those", "what", "which", "who",
	"and", "or", "but", "if", "then", "so", "because", "as",
	"to", "of", "in", "for", "on", "with", "at", "by", "from",
)

var topicWords = setOf(
	"quest", "mission", "task", "job", "adventure",
	"buy", "sell", "trade", "gold", "shop",
	"fight", "battle", "monster", "danger",
	"magic", "spell", "potion",
	"tavern", "inn", "castle", "dungeon",
)

var (
	positiveWords = []string{
		"good", "great", "wonderful", "excellent", "amazing",
		"happy", "glad", "pleased", "thank", "thanks",
		"love", "like", "enjoy", "appreciate", "help",
	}
	negativeWords = []string{
		"bad", "terrible", "awful", "horrible", "hate",
		"angry", "sad", "upset", "annoyed", "frustrated",
		"stupid", "idiot", "fool", "damn", "hell",
	}
)

var (
	entityRE = regexp.MustCompile(`\b[A-Z][a-z]+\b`)
	hiRE     = regexp.MustCompile(`\bhi\b`)
)

func setOf(words ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}

// Topics is what [TopicExtractor.Extract] found in a line of text.
type Topics struct {
	Topics    []string
	Entities  []string
	Keywords  []string
	Intent    string
	Sentiment string
}

// TopicExtractor pulls topics, entities, intent and sentiment out of player
// input. Capitalised words that sound like a known entity are reported
// under the entity's canonical spelling.
//
// It is safe for concurrent use.
type TopicExtractor struct {
	fuzzy *fuzzy.Matcher

	mu    sync.RWMutex
	known []string
}

// NewTopicExtractor returns an extractor that canonicalises entities with m.
// A nil m uses the default [fuzzy.Matcher].
func NewTopicExtractor(m *fuzzy.Matcher) *TopicExtractor {
	if m == nil {
		m = fuzzy.New()
	}
	return &TopicExtractor{fuzzy: m}
}

// AddKnownEntity registers a canonical entity name.
func (t *TopicExtractor) AddKnownEntity(name string) {
	if name == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !slices.Contains(t.known, name) {
		t.known = append(t.known, name)
	}
}

// KnownEntities returns the registered entity names.
func (t *TopicExtractor) KnownEntities() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return slices.Clone(t.known)
}

// Extract analyses text.
func (t *TopicExtractor) Extract(text string) Topics {
	out := Topics{
		Keywords:  Keywords(text),
		Intent:    DetectIntent(text),
		Sentiment: DetectSentiment(text),
	}
	fold := cases.Fold()
	for _, kw := range out.Keywords {
		lower := fold.String(kw)
		if _, ok := topicWords[lower]; ok && !slices.Contains(out.Topics, lower) {
			out.Topics = append(out.Topics, lower)
		}
	}

	known := t.KnownEntities()
	for _, word := range entityRE.FindAllString(text, -1) {
		if _, stop := stopwords[fold.String(word)]; stop {
			continue
		}
		if name, _, ok := t.fuzzy.Match(word, known); ok {
			word = name
		}
		if !slices.Contains(out.Entities, word) {
			out.Entities = append(out.Entities, word)
		}
	}
	return out
}

// Keywords returns the words of text longer than two letters that are not
// stop words, with punctuation removed and original case kept.
func Keywords(text string) []string {
	fold := cases.Fold()
	var out []string
	for _, word := range strings.Fields(text) {
		word = strings.Map(func(r rune) rune {
			if unicode.IsPunct(r) {
				return -1
			}
			return r
		}, word)
		if len(word) <= 2 {
			continue
		}
		if _, stop := stopwords[fold.String(word)]; stop {
			continue
		}
		out = append(out, word)
	}
	return out
}

// DetectIntent classifies text. Questions are classified by their
// interrogative; statements by the first matching keyword.
func DetectIntent(text string) string {
	lower := cases.Fold().String(text)
	if strings.Contains(lower, "?") {
		switch {
		case strings.Contains(lower, "where"):
			return IntentLocationQuery
		case strings.Contains(lower, "who"):
			return IntentPersonQuery
		case strings.Contains(lower, "what"):
			return IntentInfoQuery
		case strings.Contains(lower, "how"):
			return IntentMethodQuery
		case strings.Contains(lower, "why"):
			return IntentReasonQuery
		}
		return IntentQuestion
	}
	switch {
	case strings.Contains(lower, "hello"), hiRE.MatchString(lower):
		return IntentGreeting
	case strings.Contains(lower, "bye"), strings.Contains(lower, "farewell"):
		return IntentFarewell
	case strings.Contains(lower, "buy"):
		return IntentPurchase
	case strings.Contains(lower, "sell"):
		return IntentSale
	case strings.Contains(lower, "help"):
		return IntentHelpRequest
	case strings.Contains(lower, "quest"), strings.Contains(lower, "job"):
		return IntentQuestInquiry
	}
	return IntentStatement
}

// DetectSentiment counts which positive and negative words occur in text.
// One side must lead by at least two words to count.
func DetectSentiment(text string) string {
	lower := cases.Fold().String(text)
	count := func(words []string) int {
		n := 0
		for _, w := range words {
			if strings.Contains(lower, w) {
				n++
			}
		}
		return n
	}
	pos, neg := count(positiveWords), count(negativeWords)
	switch {
	case pos > neg+1:
		return SentimentPositive
	case neg > pos+1:
		return SentimentNegative
	}
	return SentimentNeutral
}
