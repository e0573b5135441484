package expression

// Action is one physical instruction for the robot body. The capability
// emits these as free-form JSON objects keyed by "type".
type Action map[string]interface{}

// Action kinds forwarded to the client.
const (
	KindMove         = "move"
	KindMoveSequence = "move_sequence"
	KindLight        = "light"
)

// Kind returns the action's type field.
func (a Action) Kind() string {
	k, _ := a["type"].(string)
	return k
}

// ExpandActions prepares capability actions for the client. move_sequence
// actions gain total_duration_ms, step_count and emotion_during; move and
// light pass through; anything else is dropped.
func ExpandActions(actions []Action, emotion string) []Action {
	out := make([]Action, 0, len(actions))
	for _, a := range actions {
		switch a.Kind() {
		case KindMove, KindLight:
			out = append(out, a)
		case KindMoveSequence:
			out = append(out, expandSequence(a, emotion))
		}
	}
	return out
}

func expandSequence(a Action, emotion string) Action {
	steps := stepsOf(a["steps"])

	total := 0
	for _, s := range steps {
		total += durationMs(s["duration_ms"])
	}

	out := Action{
		"type":              KindMoveSequence,
		"steps":             steps,
		"total_duration_ms": total,
		"step_count":        len(steps),
		"emotion_during":    NormalizeEmotion(emotion),
	}
	if d, ok := a["description"].(string); ok {
		out["description"] = d
	}
	return out
}

// stepsOf accepts steps decoded from JSON or built in Go.
func stepsOf(v interface{}) []map[string]interface{} {
	switch s := v.(type) {
	case []map[string]interface{}:
		return s
	case []interface{}:
		out := make([]map[string]interface{}, 0, len(s))
		for _, item := range s {
			if m, ok := item.(map[string]interface{}); ok {
				out = append(out, m)
			}
		}
		return out
	default:
		return []map[string]interface{}{}
	}
}

// durationMs reads a numeric duration. Missing or non-numeric values count
// as zero.
func durationMs(v interface{}) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	case int64:
		return int(n)
	default:
		return 0
	}
}

// FaceScanActions is the rotation the robot performs while looking for
// faces: a slow sweep left and right with pauses for the camera.
func FaceScanActions() []Action {
	steps := []map[string]interface{}{
		{"action": "rotate", "direction": "left", "speed": 30, "duration_ms": 1500},
		{"action": "pause", "duration_ms": 800},
		{"action": "rotate", "direction": "right", "speed": 30, "duration_ms": 3000},
		{"action": "pause", "duration_ms": 800},
		{"action": "rotate", "direction": "left", "speed": 30, "duration_ms": 1500},
	}
	seq := Action{
		"type":        KindMoveSequence,
		"description": "face scan",
		"steps":       steps,
	}
	return ExpandActions([]Action{seq}, "curious")
}
