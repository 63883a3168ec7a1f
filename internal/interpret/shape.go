package interpret

import (
	"hash/fnv"
	"regexp"
	"strings"
)

// Shape is the closed set of answer layouts.
type Shape string

const (
	ShapeDirectValue    Shape = "direct_value"
	ShapeList           Shape = "list"
	ShapeComparison     Shape = "comparison"
	ShapeRecommendation Shape = "recommendation"
)

var (
	recommendPattern = regexp.MustCompile(`(?i)^(should|would|could) (i|we)\b|\b(recommend|advise|worth it|is it worth|what should i|which should i|how should i|best (price|time) (for|to)|what price should)\b`)
	comparePattern   = regexp.MustCompile(`(?i)\b(vs\.?|versus|compare[sd]?|comparison|difference between|differ|compared (to|with)|which is (better|bigger|more)|against)\b`)
	listPattern      = regexp.MustCompile(`(?i)\b(top \d+|top (five|ten|three)|list|show me|which (games|developers|publishers|tags|genres|studios)|examples|rank(ing|ed)?|most|best|worst|highest|lowest|biggest)\b`)
)

// ClassifyShape picks the answer layout from the question wording.
// Recommendation wins over comparison, which wins over list.
func ClassifyShape(question string) Shape {
	q := strings.TrimSpace(question)
	switch {
	case recommendPattern.MatchString(q):
		return ShapeRecommendation
	case comparePattern.MatchString(q):
		return ShapeComparison
	case listPattern.MatchString(q):
		return ShapeList
	default:
		return ShapeDirectValue
	}
}

type shapeSpec struct {
	instructions string
	words        string
	maxTokens    int
}

var shapeSpecs = map[Shape]shapeSpec{
	ShapeDirectValue: {
		instructions: "Lead with the value itself, then at most one sentence of context. Example: \"6.7 hours on average, typical for this price tier.\"",
		words:        "10 to 40 words",
		maxTokens:    200,
	},
	ShapeList: {
		instructions: "Lead with a numbered list, one item per line with its key figures. No introduction. One closing line of insight at most.",
		words:        "40 to 120 words",
		maxTokens:    600,
	},
	ShapeComparison: {
		instructions: "State the key difference first, then put the two sides next to each other figure by figure.",
		words:        "50 to 130 words",
		maxTokens:    600,
	},
	ShapeRecommendation: {
		instructions: "Give the recommendation in the first sentence, then the two or three figures that support it.",
		words:        "60 to 150 words",
		maxTokens:    700,
	},
}

// connectiveSets rotate the language used to introduce an insight so no
// single phrase becomes the texture of every answer.
var connectiveSets = [][]string{
	{"That puts it", "Put simply", "For context"},
	{"In practice", "The upshot", "Compare that with"},
	{"Worth knowing", "What stands out", "By contrast"},
	{"The pattern here", "Read another way", "For reference"},
	{"On balance", "The catch", "Against that"},
}

// overusedHedges must not appear in answers.
var overusedHedges = []string{
	"notably", "interestingly", "it's worth noting", "importantly",
	"significantly", "overall", "in conclusion", "in summary", "delve",
}

// connectivesFor picks a connective set deterministically from the question.
func connectivesFor(question string) []string {
	h := fnv.New32a()
	h.Write([]byte(strings.ToLower(strings.TrimSpace(question))))
	return connectiveSets[int(h.Sum32()%uint32(len(connectiveSets)))]
}
