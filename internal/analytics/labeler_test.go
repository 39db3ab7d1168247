package analytics

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anzu-ai/anzu/internal/service/completion"
)

func TestParseLabelResponse(t *testing.T) {
	tests := []struct {
		name        string
		response    string
		wantLabel   string
		wantSummary string
		wantErr     bool
	}{
		{
			name:        "well formed",
			response:    "LABEL: Refund policy\nSUMMARY: Users want to know how refunds work.",
			wantLabel:   "Refund policy",
			wantSummary: "Users want to know how refunds work.",
		},
		{
			name:      "lowercase prefixes",
			response:  "label: Password resets\nsummary: ",
			wantLabel: "Password resets",
		},
		{
			name:        "quoted label",
			response:    `LABEL: "Billing questions"` + "\nSUMMARY: Questions about invoices.",
			wantLabel:   "Billing questions",
			wantSummary: "Questions about invoices.",
		},
		{
			name:      "surrounding chatter",
			response:  "Sure, here you go:\n\nLABEL: API usage\nSUMMARY: How to call the API.\n\nHope that helps!",
			wantLabel: "API usage",
		},
		{
			name:     "no label line",
			response: "These users are asking about refunds.",
			wantErr:  true,
		},
		{
			name:     "empty response",
			response: "",
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseLabelResponse(tt.response)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantLabel, got.Label)
			if tt.wantSummary != "" {
				assert.Equal(t, tt.wantSummary, got.Summary)
			}
		})
	}
}

func TestParseLabelResponseTruncatesLongLabel(t *testing.T) {
	long := strings.Repeat("x", 200)
	got, err := ParseLabelResponse("LABEL: " + long)
	require.NoError(t, err)
	assert.LessOrEqual(t, len([]rune(got.Label)), maxLabelLen)
}

func TestLabelClusterFallsBackOnUnparseable(t *testing.T) {
	// NoopClient returns prose with no LABEL line, so the first example
	// query becomes the label.
	got := labelCluster(context.Background(), completion.NoopClient{}, []string{"how do refunds work", "refund policy"}, 5)
	assert.Equal(t, "how do refunds work", got.Label)
	assert.Empty(t, got.Summary)
}

func TestFormatLabelPrompt(t *testing.T) {
	prompt := formatLabelPrompt([]string{"q one", "q two"}, 7)
	assert.Contains(t, prompt, "7 similar questions")
	assert.Contains(t, prompt, "- q one")
	assert.Contains(t, prompt, "- q two")
}
