package search

import "strings"

// Intent selects a preset weighting of the two rankings.
type Intent string

// Known intents. Anything else behaves like IntentGeneral.
const (
	// IntentCitation favours exact terms: author names, years, identifiers.
	IntentCitation Intent = "citation"

	// IntentDecision favours meaning over wording.
	IntentDecision Intent = "decision"

	IntentMethodology Intent = "methodology"
	IntentGeneral     Intent = "general"
)

var intentWeights = map[Intent]Weights{
	IntentCitation:    {Lexical: 0.7, Vector: 0.3},
	IntentDecision:    {Lexical: 0.3, Vector: 0.7},
	IntentMethodology: {Lexical: 0.5, Vector: 0.5},
	IntentGeneral:     {Lexical: 0.5, Vector: 0.5},
}

// ParseIntent normalizes a caller-supplied intent name.
func ParseIntent(s string) Intent {
	return Intent(strings.ToLower(strings.TrimSpace(s)))
}

// WeightsFor returns the preset weights of intent; unknown intents get the
// general split.
func WeightsFor(intent Intent) Weights {
	if w, ok := intentWeights[ParseIntent(string(intent))]; ok {
		return w
	}
	return intentWeights[IntentGeneral]
}
