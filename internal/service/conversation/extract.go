package conversation

import (
	"context"
	"math"
	"regexp"
	"strings"

	"github.com/cespare/xxhash/v2"

	"engram-backend/internal/domain"
)

// Embedder turns text into the fixed-dimension vectors the memory index
// works with. Production deployments plug in a model-backed implementation;
// HashingEmbedder is the deterministic local default.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dim() int
}

// MemoryCandidate is a span of conversation the extractor wants remembered.
type MemoryCandidate struct {
	Text       string
	Type       domain.MemoryType
	Attributes domain.Attributes
}

// FactCandidate is a structured statement the extractor pulled out of a
// turn.
type FactCandidate struct {
	Category   string
	Key        string
	Value      domain.Attributes
	Confidence int
}

// Extraction is what one user/assistant exchange yielded.
type Extraction struct {
	Memories []MemoryCandidate
	Facts    []FactCandidate
}

// TurnExtractor decides what a recorded exchange contributes to the persona
// store. Implementations range from pattern heuristics to LLM calls.
type TurnExtractor interface {
	Extract(ctx context.Context, userText, assistantText string) (Extraction, error)
}

// ---------------------------------------------------------------------------
// HashingEmbedder

// HashingEmbedder embeds text by feature-hashing its tokens into a fixed
// number of buckets and L2-normalizing the result. Texts sharing vocabulary
// come out cosine-similar, which is enough for tests and local runs.
type HashingEmbedder struct {
	dim int
}

// NewHashingEmbedder creates an embedder producing dim-sized vectors.
func NewHashingEmbedder(dim int) *HashingEmbedder {
	return &HashingEmbedder{dim: dim}
}

func (e *HashingEmbedder) Dim() int { return e.dim }

func (e *HashingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec := make([]float32, e.dim)
	for _, token := range tokenize(text) {
		h := xxhash.Sum64String(token)
		bucket := int(h % uint64(e.dim))
		// Second hash bit picks the sign, which keeps bucket collisions from
		// always reinforcing each other.
		if h&(1<<63) == 0 {
			vec[bucket]++
		} else {
			vec[bucket]--
		}
	}

	var norm float64
	for _, x := range vec {
		norm += float64(x) * float64(x)
	}
	if norm > 0 {
		inv := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= inv
		}
	}
	return vec, nil
}

// ---------------------------------------------------------------------------
// HeuristicExtractor

var factPatterns = []struct {
	re         *regexp.Regexp
	category   string
	key        string
	confidence int
}{
	// "my favorite food is sushi"; the key comes from the first group
	{regexp.MustCompile(`(?i)\bmy favou?rite (\w+) is ([\w '-]+)`), "preference", "", 70},
	// "i work as a developer"
	{regexp.MustCompile(`(?i)\bi work as an? ([\w '-]+)`), "work", "title", 75},
	// "i live in lisbon"
	{regexp.MustCompile(`(?i)\bi live in ([\w '-]+)`), "location", "home", 75},
	// "i'm allergic to peanuts"
	{regexp.MustCompile(`(?i)\b(?:i'?m|i am) allergic to ([\w '-]+)`), "health", "allergy", 90},
}

// HeuristicExtractor is the default pattern-based extractor. Every exchange
// yields one conversation memory; a handful of first-person patterns yield
// structured facts. It deliberately errs toward missing facts rather than
// inventing them.
type HeuristicExtractor struct{}

// NewHeuristicExtractor creates the default extractor.
func NewHeuristicExtractor() *HeuristicExtractor {
	return &HeuristicExtractor{}
}

func (x *HeuristicExtractor) Extract(ctx context.Context, userText, assistantText string) (Extraction, error) {
	out := Extraction{}
	if strings.TrimSpace(userText) == "" {
		return out, nil
	}

	out.Memories = append(out.Memories, MemoryCandidate{
		Text: userText,
		Type: domain.MemoryTypeConversation,
	})

	for _, p := range factPatterns {
		for _, m := range p.re.FindAllStringSubmatch(userText, -1) {
			var key, value string
			if p.key == "" && len(m) == 3 {
				key, value = strings.ToLower(strings.TrimSpace(m[1])), clampValue(m[2])
			} else {
				key, value = p.key, clampValue(m[len(m)-1])
			}
			out.Facts = append(out.Facts, FactCandidate{
				Category:   p.category,
				Key:        key,
				Value:      domain.Attributes{"value": value},
				Confidence: p.confidence,
			})
		}
	}
	return out, nil
}

// clampValue cuts a greedy capture at the first conjunction, so "sushi and
// I live in Lisbon" yields just "sushi".
func clampValue(v string) string {
	lower := strings.ToLower(v)
	for _, conj := range []string{" and ", " but ", " so ", " because "} {
		if i := strings.Index(lower, conj); i >= 0 {
			v, lower = v[:i], lower[:i]
		}
	}
	return strings.TrimSpace(v)
}

var tokenPattern = regexp.MustCompile(`[a-z0-9]+`)

func tokenize(text string) []string {
	return tokenPattern.FindAllString(strings.ToLower(text), -1)
}
