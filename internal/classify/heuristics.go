package classify

import "strings"

// agentFailureHeuristics maps case-insensitive substrings of raw agent
// failure text to friendly user-facing messages. Only matching failures
// are surfaced as banner errors; everything else is an expected,
// recoverable agent-level condition handled elsewhere. Extend the
// vocabulary here, not the classifier control flow.
var agentFailureHeuristics = []struct {
	substring string
	message   string
}{
	{"budget", "The agent stopped because its task budget was used up. Increase the budget or start a new task to continue."},
	{"credit", "You have run out of credits. Add credits to your account to keep the conversation going."},
}

// MatchAgentFailure checks raw agent failure text against the known
// vocabulary. It returns the friendly replacement message and whether
// anything matched.
func MatchAgentFailure(raw string) (string, bool) {
	lowered := strings.ToLower(raw)
	for _, h := range agentFailureHeuristics {
		if strings.Contains(lowered, h.substring) {
			return h.message, true
		}
	}
	return "", false
}
