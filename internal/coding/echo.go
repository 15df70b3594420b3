package coding

import (
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/corvidlabs/attune/pkg/types"
)

const (
	// defaultEchoThreshold is the minimum Jaro-Winkler similarity between a
	// parent utterance and the child speech it supposedly repeats.
	defaultEchoThreshold = 0.70

	// defaultEchoWindow is how many turns back the verifier looks for the
	// child utterance being echoed.
	defaultEchoWindow = 3
)

// EchoVerifier cross-checks model-assigned echo tags against the transcript.
// An echo repeats the child's own words back; a tag with no nearby child
// speech, or none it resembles, is downgraded to neutral.
//
// Child speech is frequently mis-transcribed ("twuck" for "truck"), so the
// comparison combines Double Metaphone code overlap with Jaro-Winkler
// similarity rather than exact token matching. Safe for concurrent use.
type EchoVerifier struct {
	threshold float64
	window    int
}

// EchoOption is a functional option for [NewEchoVerifier].
type EchoOption func(*EchoVerifier)

// WithEchoThreshold sets the minimum similarity score for an echo tag to
// stand. Default: 0.70.
func WithEchoThreshold(threshold float64) EchoOption {
	return func(v *EchoVerifier) { v.threshold = threshold }
}

// WithEchoWindow sets how many preceding turns are searched for the echoed
// child utterance. Default: 3.
func WithEchoWindow(n int) EchoOption {
	return func(v *EchoVerifier) {
		if n > 0 {
			v.window = n
		}
	}
}

// NewEchoVerifier returns an EchoVerifier configured with the supplied
// options.
func NewEchoVerifier(opts ...EchoOption) *EchoVerifier {
	v := &EchoVerifier{
		threshold: defaultEchoThreshold,
		window:    defaultEchoWindow,
	}
	for _, o := range opts {
		o(v)
	}
	return v
}

// Verify downgrades unsupported echo tags in tags to [TagNeutral] and
// returns how many were downgraded. utts is the full utterance list in
// transcript order, roles already assigned; tags is mutated in place.
func (v *EchoVerifier) Verify(utts []types.Utterance, tags map[int]types.Tag) int {
	byIndex := make(map[int]int, len(utts))
	for pos, u := range utts {
		byIndex[u.OrderIndex] = pos
	}

	downgraded := 0
	for idx, tag := range tags {
		if tag != TagEcho {
			continue
		}
		pos, ok := byIndex[idx]
		if !ok || !v.echoSupported(utts, pos) {
			tags[idx] = TagNeutral
			downgraded++
		}
	}
	return downgraded
}

// echoSupported reports whether the utterance at pos resembles any child
// utterance within the lookback window.
func (v *EchoVerifier) echoSupported(utts []types.Utterance, pos int) bool {
	parentTokens := strings.Fields(strings.ToLower(utts[pos].Text))
	if len(parentTokens) == 0 {
		return false
	}
	parentCodes := phoneticCodes(parentTokens)

	for back := 1; back <= v.window && pos-back >= 0; back++ {
		prev := utts[pos-back]
		if prev.Role != types.RoleChild {
			continue
		}
		childTokens := strings.Fields(strings.ToLower(prev.Text))
		if len(childTokens) == 0 {
			continue
		}
		if codesOverlap(parentCodes, phoneticCodes(childTokens)) {
			return true
		}
		if bestSimilarity(parentTokens, childTokens) >= v.threshold {
			return true
		}
	}
	return false
}

// phoneticCodes returns the union of Double Metaphone codes for the given
// tokens. Tokens too short to produce a code are skipped.
func phoneticCodes(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

// codesOverlap reports whether the two code sets share at least one code.
func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// bestSimilarity is the highest Jaro-Winkler score across full-string and
// pairwise token comparisons. The pairwise pass catches the common case of
// one shared word inside otherwise different turns.
func bestSimilarity(aTokens, bTokens []string) float64 {
	score := matchr.JaroWinkler(strings.Join(aTokens, " "), strings.Join(bTokens, " "), false)
	for _, at := range aTokens {
		for _, bt := range bTokens {
			if s := matchr.JaroWinkler(at, bt, false); s > score {
				score = s
			}
		}
	}
	return score
}
