// Package expression maps reply emotions to the robot's face display and
// shapes the physical actions it performs.
package expression

import "strings"

// Neutral is the fallback emotion for unknown tags.
const Neutral = "neutral"

// Payload defaults sent with every response_meta.
const (
	DefaultDurationPerEmoji = 2000
	DefaultTransition       = "bounce"
)

// backfillCount is how many default emojis fill an empty emoji set.
const backfillCount = 2

// emotionEmojis maps each emotion tag to its OpenMoji codepoints.
var emotionEmojis = map[string][]string{
	"happy":     {"1F600", "1F603", "1F604", "1F60A"},
	"excited":   {"1F929", "1F389", "1F38A", "2728"},
	"sad":       {"1F622", "1F625", "1F62D"},
	"empathy":   {"1F97A", "1F615", "2764"},
	"confused":  {"1F615", "1F914", "2753"},
	"surprised": {"1F632", "1F62E", "1F92F"},
	"love":      {"2764", "1F60D", "1F970", "1F498"},
	"cool":      {"1F60E", "1F44D", "1F525"},
	"greeting":  {"1F44B", "1F917"},
	"neutral":   {"1F642", "1F916"},
	"curious":   {"1F9D0", "1F50D"},
	"worried":   {"1F61F", "1F628"},
	"playful":   {"1F61C", "1F609", "1F638"},
}

// Tags lists the valid emotion tags in prompt order.
var Tags = []string{
	"happy", "excited", "sad", "empathy", "confused", "surprised", "love",
	"cool", "greeting", "neutral", "curious", "worried", "playful",
}

// Payload is the expression block of a response_meta event.
type Payload struct {
	Emojis           []string `json:"emojis"`
	DurationPerEmoji int      `json:"duration_per_emoji"`
	Transition       string   `json:"transition"`
}

// NormalizeEmotion lowercases tag and maps anything unknown to Neutral.
func NormalizeEmotion(tag string) string {
	tag = strings.ToLower(strings.TrimSpace(tag))
	if _, ok := emotionEmojis[tag]; ok {
		return tag
	}
	return Neutral
}

// EmojisFor returns a copy of the default emojis for an emotion.
func EmojisFor(tag string) []string {
	codes := emotionEmojis[NormalizeEmotion(tag)]
	out := make([]string, len(codes))
	copy(out, codes)
	return out
}

// Backfill returns emojis when non-empty, otherwise the first two defaults
// for the emotion. Codes are uppercased and blanks dropped.
func Backfill(emojis []string, emotion string) []string {
	out := make([]string, 0, len(emojis))
	for _, e := range emojis {
		e = strings.ToUpper(strings.TrimSpace(e))
		if e != "" {
			out = append(out, e)
		}
	}
	if len(out) > 0 {
		return out
	}
	defaults := EmojisFor(emotion)
	if len(defaults) > backfillCount {
		defaults = defaults[:backfillCount]
	}
	return defaults
}

// NewPayload builds the expression payload for a reply.
func NewPayload(emojis []string, emotion string) Payload {
	return Payload{
		Emojis:           Backfill(emojis, emotion),
		DurationPerEmoji: DefaultDurationPerEmoji,
		Transition:       DefaultTransition,
	}
}
