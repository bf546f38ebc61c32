package memory

// EstimateTokens approximates the token count of s using the rough
// 4-characters-per-token rule. It overestimates slightly rather than
// underestimating, so budget enforcement stays conservative. True
// per-adapter tokenization is deliberately not integrated; the budget is a
// soft bound on prompt growth, not an exact accounting.
func EstimateTokens(s string) int {
	if s == "" {
		return 0
	}
	return (len(s) + 3) / 4
}

func estimateMessageTokens(m LabeledMessage) int {
	// A few tokens of per-message framing overhead on top of the content.
	return EstimateTokens(m.Content) + 4
}
