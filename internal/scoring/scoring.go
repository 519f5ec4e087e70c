package scoring

import (
	"math"
	"strings"
)

// Result is what the engine persists alongside a new session. Compound is a
// normalized valence in [-1, 1]; Keywords are at most five salient tokens.
type Result struct {
	Compound float64
	Label    string
	Keywords []string
}

const (
	LabelPositive = "Positive"
	LabelNeutral  = "Neutral"
	LabelNegative = "Negative"
)

// Analyzer scores free text. Implementations must be deterministic.
type Analyzer interface {
	Analyze(text string) Result
}

// InitialScore maps a compound sentiment onto the 0..100 emotional intensity
// scale. Negative sentiment raises intensity, positive lowers it.
func InitialScore(compound float64) int {
	score := int(math.Round((1 - compound) * 50))
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// Lexicon is a small valence-lexicon analyzer in the VADER family: token
// valences are summed with negation and booster handling, then normalized
// with sum/sqrt(sum^2+15).
type Lexicon struct{}

func (Lexicon) Analyze(text string) Result {
	tokens := tokenize(text)
	var sum float64
	for i, tok := range tokens {
		valence, ok := lexicon[tok]
		if !ok {
			continue
		}
		// Boosters and negations look back up to three tokens.
		for j := i - 1; j >= 0 && j >= i-3; j-- {
			if boost, ok := boosters[tokens[j]]; ok {
				if valence > 0 {
					valence += boost
				} else {
					valence -= boost
				}
			}
			if negations[tokens[j]] {
				valence = -0.74 * valence
			}
		}
		sum += valence
	}
	compound := sum / math.Sqrt(sum*sum+15)
	return Result{
		Compound: round4(compound),
		Label:    labelFor(compound),
		Keywords: keywords(tokens),
	}
}

func labelFor(compound float64) string {
	switch {
	case compound >= 0.05:
		return LabelPositive
	case compound <= -0.05:
		return LabelNegative
	default:
		return LabelNeutral
	}
}

// keywords keeps tokens longer than three characters that are not stopwords,
// deduplicated in first-seen order, capped at five.
func keywords(tokens []string) []string {
	var out []string
	seen := map[string]bool{}
	for _, tok := range tokens {
		if len(tok) <= 3 || stopwords[tok] || seen[tok] {
			continue
		}
		seen[tok] = true
		out = append(out, tok)
		if len(out) == 5 {
			break
		}
	}
	return out
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !((r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '\'')
	})
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}

var negations = map[string]bool{
	"not": true, "no": true, "never": true, "neither": true, "nobody": true,
	"none": true, "nothing": true, "cannot": true, "can't": true, "won't": true,
	"don't": true, "doesn't": true, "didn't": true, "isn't": true, "wasn't": true,
	"aren't": true, "couldn't": true, "shouldn't": true, "wouldn't": true,
	"hardly": true, "barely": true, "without": true,
}

var boosters = map[string]float64{
	"very": 0.293, "really": 0.293, "extremely": 0.293, "absolutely": 0.293,
	"completely": 0.293, "totally": 0.293, "so": 0.293, "incredibly": 0.293,
	"deeply": 0.293, "utterly": 0.293,
	"slightly": -0.293, "somewhat": -0.293, "kinda": -0.293, "barely": -0.293,
	"little": -0.293, "marginally": -0.293,
}

var lexicon = map[string]float64{
	// positive
	"good": 1.9, "great": 3.1, "excellent": 2.7, "amazing": 2.8, "wonderful": 2.7,
	"fantastic": 2.6, "awesome": 3.1, "love": 3.2, "loved": 2.9, "like": 1.5,
	"happy": 2.7, "happiness": 2.6, "joy": 2.8, "joyful": 2.9, "glad": 2.0,
	"grateful": 2.3, "gratitude": 2.1, "thankful": 2.3, "calm": 1.3, "peaceful": 2.2,
	"relaxed": 1.8, "relieved": 1.7, "relief": 1.6, "proud": 2.1, "hopeful": 1.9,
	"hope": 1.9, "excited": 2.2, "energized": 1.8, "motivated": 1.7, "confident": 2.2,
	"better": 1.9, "best": 3.2, "win": 2.8, "won": 2.7, "success": 2.7,
	"successful": 2.6, "accomplished": 2.0, "progress": 1.6, "fun": 2.3,
	"enjoy": 2.2, "enjoyed": 2.3, "nice": 1.8, "perfect": 2.7, "beautiful": 2.9,
	"support": 1.7, "supported": 1.7, "comfort": 1.5, "comfortable": 1.5,
	"smile": 2.0, "laugh": 2.6, "laughed": 2.3, "pleasant": 1.9, "refreshed": 1.7,
	// negative
	"bad": -2.5, "terrible": -2.1, "horrible": -2.5, "awful": -2.0, "worst": -3.1,
	"hate": -2.7, "hated": -2.6, "angry": -2.3, "anger": -2.2, "furious": -2.8,
	"mad": -2.0, "annoyed": -1.6, "annoying": -1.8, "frustrated": -2.1,
	"frustrating": -2.0, "frustration": -1.9, "stress": -2.0, "stressed": -2.1,
	"stressful": -2.1, "anxious": -1.9, "anxiety": -1.9, "worried": -1.8,
	"worry": -1.7, "afraid": -2.2, "fear": -1.9, "scared": -2.2, "panic": -2.4,
	"sad": -2.1, "sadness": -2.1, "unhappy": -1.8, "depressed": -2.8,
	"depressing": -2.2, "miserable": -2.7, "cry": -2.1, "cried": -2.1,
	"tired": -1.2, "exhausted": -1.9, "exhausting": -1.8, "drained": -1.7,
	"overwhelmed": -2.0, "overwhelming": -1.8, "pain": -2.3, "painful": -2.3,
	"hurt": -2.1, "hurts": -2.1, "fail": -2.3, "failed": -2.3, "failure": -2.6,
	"lost": -1.4, "lose": -1.7, "losing": -1.8, "alone": -1.2, "lonely": -2.0,
	"hopeless": -2.6, "helpless": -2.1, "useless": -1.9, "guilty": -2.0,
	"guilt": -1.9, "ashamed": -2.1, "shame": -2.0, "upset": -1.8, "crisis": -2.2,
	"problem": -1.3, "problems": -1.4, "difficult": -1.5, "hard": -0.4,
	"struggle": -1.8, "struggling": -1.8, "broke": -1.6, "broken": -1.8,
	"sick": -1.8, "headache": -1.6, "nightmare": -2.4, "disaster": -2.6,
	"argue": -1.7, "argument": -1.5, "fight": -1.6, "fought": -1.6,
}

var stopwords = map[string]bool{
	"this": true, "that": true, "with": true, "from": true, "have": true,
	"has": true, "had": true, "was": true, "were": true, "been": true,
	"being": true, "what": true, "when": true, "where": true, "which": true,
	"while": true, "would": true, "could": true, "should": true, "about": true,
	"after": true, "before": true, "because": true, "there": true, "their": true,
	"they": true, "them": true, "then": true, "than": true, "some": true,
	"just": true, "very": true, "really": true, "today": true, "into": true,
	"over": true, "only": true, "also": true, "even": true, "much": true,
	"more": true, "most": true, "such": true, "your": true, "mine": true,
	"myself": true, "feel": true, "feeling": true, "felt": true, "like": true,
	"will": true, "can't": true, "don't": true, "doesn't": true, "didn't": true,
	"things": true, "thing": true, "going": true, "got": true, "get": true,
}
