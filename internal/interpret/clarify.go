package interpret

import (
	"regexp"
	"strings"
)

var clarificationPatterns = []*regexp.Regexp{
	regexp.MustCompile(`could you (please )?(clarify|specify|tell me|provide|share|give me)`),
	regexp.MustCompile(`what (specific|particular|kind of|type of)`),
	regexp.MustCompile(`which (specific|particular|one|games?|genre)`),
	regexp.MustCompile(`can you (be more specific|clarify|tell me more|provide more)`),
	regexp.MustCompile(`i('d| would) need (more|additional) (information|context|details)`),
	regexp.MustCompile(`to (better )?help you,? i('d| would) need`),
	regexp.MustCompile(`(could|would) you (mind )?(sharing|providing|telling)`),
	regexp.MustCompile(`what (do you mean|are you looking for|would you like)`),
	regexp.MustCompile(`(please )?let me know (which|what|more about)`),
	regexp.MustCompile(`are you (asking about|looking for|interested in)`),
	regexp.MustCompile(`do you (mean|want|have a specific)`),
}

// IsClarification reports whether answer asks the user for more detail
// instead of answering. Such answers do not count against quota.
func IsClarification(answer string) bool {
	if !strings.Contains(answer, "?") {
		return false
	}
	lower := strings.ToLower(answer)
	for _, p := range clarificationPatterns {
		if p.MatchString(lower) {
			return true
		}
	}
	return false
}
