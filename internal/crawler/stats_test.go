package crawler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestComputeStats(t *testing.T) {
	t.Parallel()

	recaptcha := ChallengeFinding{Type: ChallengeRecaptchaV2, Confidence: 0.8}
	pages := []PageResult{
		{Outcome: OutcomeSuccess, Classification: PageBlog, Duration: 100 * time.Millisecond},
		// A g-recaptcha page carries a weaker generic finding next to the one
		// that halted the job.
		{Outcome: OutcomeSuccess, Duration: 300 * time.Millisecond,
			Findings:  []ChallengeFinding{recaptcha, {Type: ChallengeGeneric, Confidence: 0.315}},
			Challenge: &recaptcha},
		{Outcome: OutcomeTimeout, Duration: 200 * time.Millisecond},
		// Findings below the halt threshold are not challenges.
		{Outcome: OutcomeSuccess, Classification: PageForm, Duration: 400 * time.Millisecond,
			Findings: []ChallengeFinding{{Type: ChallengeGeneric, Confidence: 0.35}}},
	}

	stats := ComputeStats(pages)
	require.Equal(t, 4, stats.PagesVisited)
	require.Equal(t, 3, stats.Succeeded)
	require.Equal(t, 1, stats.Failed)
	require.Equal(t, 1, stats.Challenges)
	require.InDelta(t, 250.0, stats.AvgDurationMs, 1e-9)
	require.InDelta(t, 0.75, stats.SuccessRate, 1e-9)
	require.Equal(t, map[PageType]int{PageBlog: 1, PageForm: 1}, stats.Classification)
}

func TestComputeStatsEmpty(t *testing.T) {
	t.Parallel()

	stats := ComputeStats(nil)
	require.Zero(t, stats.PagesVisited)
	require.Zero(t, stats.SuccessRate)
	require.Nil(t, stats.Classification)
}
