package deepresearch

import (
	"fmt"
	"strings"
)

// reasoningModelHints is a fixed allowlist-by-substring of model ids known
// to support structured/JSON-mode output reliably enough for the Planner's
// schema contract. This is a heuristic, not an API capability query — none
// of the LLM SDKs in the pack expose a "supports structured output" flag, so
// the policy mirrors what spec.md §4.4 describes: callers declare intent,
// and a configured default is substituted when the declared model doesn't
// qualify.
var reasoningModelHints = []string{"o1", "o3", "gemini", "claude", "reasoning", "deepseek-r1"}

// IsReasoningModel reports whether modelID looks like a model capable of
// reasoning-grade structured output.
func IsReasoningModel(modelID string) bool {
	lower := strings.ToLower(modelID)
	for _, hint := range reasoningModelHints {
		if strings.Contains(lower, hint) {
			return true
		}
	}
	return false
}

// ResolveReasoningModel implements the model selection policy of spec.md
// §4.4: the caller's requested model is used if it qualifies as a reasoning
// model; otherwise the configured default is substituted. If bypass is set,
// a non-qualifying model is allowed through anyway (at the cost of schema
// guarantees — see LLMPlanner.Plan), and a non-empty requested model always
// wins.
func ResolveReasoningModel(requested, configuredDefault string, bypass bool) (string, error) {
	if requested == "" {
		requested = configuredDefault
	}
	if bypass || IsReasoningModel(requested) {
		return requested, nil
	}
	if configuredDefault == "" {
		return "", fmt.Errorf("model %q is not a reasoning model and no REASONING_MODEL default is configured", requested)
	}
	return configuredDefault, nil
}
