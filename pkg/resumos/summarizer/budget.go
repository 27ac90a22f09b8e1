package summarizer

// DefaultMaxPromptTokens bounds the prompt sent to the completion service.
const DefaultMaxPromptTokens = 6000

// FitBudget drops the oldest messages of w until the formatted prompt fits in
// maxTokens. A non-positive maxTokens or nil counter disables the check.
func FitBudget(w EligibleWindow, tmpl Template, counter TokenCounter, maxTokens int) EligibleWindow {
	if maxTokens <= 0 || counter == nil || w.Empty() {
		return w
	}

	total := counter.CountTokens(preamble(w, tmpl))
	sizes := make([]int, len(w.Messages))
	for i, m := range w.Messages {
		// +1 for the joining space.
		sizes[i] = counter.CountTokens(FormatLine(m)) + 1
		total += sizes[i]
	}

	drop := 0
	for total > maxTokens && drop < len(sizes) {
		total -= sizes[drop]
		drop++
	}
	if drop == 0 {
		return w
	}

	out := w
	out.Messages = w.Messages[drop:]
	out.Dropped = w.Dropped + drop
	return out
}
