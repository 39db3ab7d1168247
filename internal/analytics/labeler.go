package analytics

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/anzu-ai/anzu/internal/service/completion"
)

// labelPrompt asks the LLM for a short topic label and one-sentence summary
// for a group of similar user queries. The structured LABEL/SUMMARY format
// keeps parsing trivial and model-agnostic.
const labelPrompt = `You summarize groups of similar user questions for a product analytics dashboard.

Here are %d similar questions users asked:

%s

Respond in exactly this format:

LABEL: a topic label of at most 6 words
SUMMARY: one sentence describing what these users are trying to find out`

const maxLabelLen = 80

// ClusterLabel is the parsed output of a labeling call.
type ClusterLabel struct {
	Label   string
	Summary string
}

// formatLabelPrompt builds the labeling prompt from example queries.
func formatLabelPrompt(examples []string, total int) string {
	var b strings.Builder
	for _, q := range examples {
		fmt.Fprintf(&b, "- %s\n", q)
	}
	return fmt.Sprintf(labelPrompt, total, strings.TrimRight(b.String(), "\n"))
}

// ParseLabelResponse extracts the LABEL and SUMMARY lines from an LLM
// response. If no LABEL line is found, returns an error so the caller can
// fall back to a deterministic label.
func ParseLabelResponse(response string) (ClusterLabel, error) {
	var label, summary string
	for _, line := range strings.Split(strings.TrimSpace(response), "\n") {
		trimmed := strings.TrimSpace(line)
		lower := strings.ToLower(trimmed)
		switch {
		case strings.HasPrefix(lower, "label:"):
			label = strings.TrimSpace(trimmed[len("label:"):])
		case strings.HasPrefix(lower, "summary:"):
			summary = strings.TrimSpace(trimmed[len("summary:"):])
		}
	}

	label = strings.Trim(label, `"[] `)
	if label == "" {
		return ClusterLabel{}, fmt.Errorf("labeler: no LABEL line found in response")
	}
	return ClusterLabel{Label: truncateLabel(label), Summary: summary}, nil
}

// labelCluster asks the completion model for a label, falling back to the
// cluster's first example query when the model is unavailable or returns
// something unparseable.
func labelCluster(ctx context.Context, completer completion.Client, examples []string, total int) ClusterLabel {
	fallback := ClusterLabel{Label: truncateLabel(examples[0])}

	resp, err := completer.Complete(ctx, []completion.Message{
		{Role: "user", Content: formatLabelPrompt(examples, total)},
	})
	if err != nil {
		return fallback
	}
	parsed, err := ParseLabelResponse(resp)
	if err != nil {
		return fallback
	}
	return parsed
}

func truncateLabel(s string) string {
	if utf8.RuneCountInString(s) <= maxLabelLen {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxLabelLen-1]) + "…"
}
