package router

import (
	"github.com/netfryer/maestro/internal/pricing"
)

const (
	maxInputTokens  = 6000
	maxOutputTokens = 2500

	minInputTokensFloor  = 500
	minOutputTokensFloor = 300

	directiveSignalThreshold = 800
)

// taskTypeFactor scales a directive's char-count heuristic per task
// type; unlisted task types use 1.0.
var taskTypeFactor = map[string]float64{
	"coding":   1.3,
	"writing":  1.1,
	"analysis": 1.2,
	"general":  1.0,
}

// difficultyDefaults are the token budgets used when a directive carries
// no usable signal, keyed by difficulty; "easy" sits at the token floors.
var difficultyDefaults = map[string]pricing.EstimatedTokens{
	"easy":   {Input: minInputTokensFloor, Output: minOutputTokensFloor},
	"medium": {Input: 1200, Output: 600},
	"hard":   {Input: 2500, Output: 1200},
}

// EstimateTokensForTask implements spec.md §4.2's estimateTokensForTask:
// a directive-derived heuristic (chars/4 × task-type factor) is used
// when it signals at least 800 combined tokens, clamped to the input/
// output ceilings; otherwise falls back to difficulty-tier defaults with
// input/output floors.
func EstimateTokensForTask(taskType, difficulty, directive string) pricing.EstimatedTokens {
	factor := taskTypeFactor[taskType]
	if factor == 0 {
		factor = 1.0
	}

	charsTotal := len(directive)
	heuristicTotal := float64(charsTotal) / 4.0 * factor

	if heuristicTotal >= directiveSignalThreshold {
		input := int(heuristicTotal * 0.7)
		output := int(heuristicTotal * 0.3)
		if input > maxInputTokens {
			input = maxInputTokens
		}
		if output > maxOutputTokens {
			output = maxOutputTokens
		}
		if input < minInputTokensFloor {
			input = minInputTokensFloor
		}
		if output < minOutputTokensFloor {
			output = minOutputTokensFloor
		}
		return pricing.EstimatedTokens{Input: input, Output: output}
	}

	if d, ok := difficultyDefaults[difficulty]; ok {
		return d
	}
	return pricing.EstimatedTokens{Input: minInputTokensFloor, Output: minOutputTokensFloor}
}
