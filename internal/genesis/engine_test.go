package genesis

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carechain/internal/completion"
	"carechain/pkg/domain"
)

func reply(body string) completion.Reply {
	return completion.Reply{Body: json.RawMessage(body)}
}

func perspectivesReply(n int) completion.Reply {
	type p struct {
		Label       string `json:"label"`
		Instruction string `json:"instruction"`
	}
	out := struct {
		Perspectives []p `json:"perspectives"`
	}{}
	for i := 0; i < n; i++ {
		out.Perspectives = append(out.Perspectives, p{
			Label:       fmt.Sprintf("angle-%d", i),
			Instruction: fmt.Sprintf("analyze from angle %d", i),
		})
	}
	body, _ := json.Marshal(out)
	return completion.Reply{Body: body}
}

func analysisReplies(n int) []completion.Reply {
	replies := make([]completion.Reply, 0, n)
	for i := 0; i < n; i++ {
		replies = append(replies, reply(fmt.Sprintf(`{"analysis":"finding %d"}`, i)))
	}
	return replies
}

const summaryReply = `{
	"patient_overview": {"age": 64, "gender": "female", "chronic_conditions": ["hypertension"]},
	"care_approach": "coordinated chronic care",
	"recommendations": {"patient_engagement": ["weekly check-in"]},
	"risk_factors": ["elevated blood pressure"],
	"confidence": 0.9,
	"priority": "urgent"
}`

func testSnapshot() domain.ClinicalSnapshot {
	return domain.ClinicalSnapshot{
		SubjectID:    "p1",
		Demographics: domain.Demographics{Age: 64, Gender: "female"},
		Conditions:   []domain.Condition{{Code: "I10", Display: "Essential hypertension"}},
	}
}

func newTestEngine(replies ...completion.Reply) (*Engine, *completion.Script) {
	script := completion.NewScript(replies...)
	return New(script, slog.New(slog.NewTextHandler(io.Discard, nil))), script
}

func TestSynthesizeHappyPath(t *testing.T) {
	replies := []completion.Reply{perspectivesReply(4)}
	replies = append(replies, analysisReplies(4)...)
	replies = append(replies, reply(summaryReply))
	engine, script := newTestEngine(replies...)

	summary, err := engine.Synthesize(context.Background(), nil, testSnapshot())
	require.NoError(t, err)
	assert.Equal(t, "coordinated chronic care", summary.CareApproach)
	assert.Equal(t, 0.9, summary.Confidence)
	assert.Equal(t, "urgent", summary.Priority)
	// Normalize fills the omitted recommendation groups.
	assert.NotNil(t, summary.Recommendations.SpecialistReferrals)

	// 1 generation + 4 analyses + 1 synthesis.
	assert.Len(t, script.Calls(), 6)
}

func TestSynthesizeDefaultsOmittedFields(t *testing.T) {
	replies := []completion.Reply{perspectivesReply(4)}
	replies = append(replies, analysisReplies(4)...)
	replies = append(replies, reply(`{"care_approach":"watchful waiting"}`))
	engine, _ := newTestEngine(replies...)

	summary, err := engine.Synthesize(context.Background(), nil, testSnapshot())
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultConfidence, summary.Confidence)
	assert.Equal(t, domain.DefaultPriority, summary.Priority)
}

func TestSynthesizeRejectsSummaryWithoutCareApproach(t *testing.T) {
	replies := []completion.Reply{perspectivesReply(4)}
	replies = append(replies, analysisReplies(4)...)
	replies = append(replies, reply(`{"confidence":0.9}`))
	engine, _ := newTestEngine(replies...)

	_, err := engine.Synthesize(context.Background(), nil, testSnapshot())
	require.Error(t, err)
	assert.Equal(t, domain.KindStructural, domain.Kind(err))
}

func TestGeneratePerspectivesRetriesMalformedOnce(t *testing.T) {
	// First generation returns three perspectives; the retry returns four.
	replies := []completion.Reply{perspectivesReply(3), perspectivesReply(4)}
	replies = append(replies, analysisReplies(4)...)
	replies = append(replies, reply(summaryReply))
	engine, script := newTestEngine(replies...)

	_, err := engine.Synthesize(context.Background(), nil, testSnapshot())
	require.NoError(t, err)
	assert.Len(t, script.Calls(), 7)
}

func TestGeneratePerspectivesEscalatesAfterSecondMalformed(t *testing.T) {
	engine, script := newTestEngine(perspectivesReply(3), perspectivesReply(5))

	_, err := engine.Synthesize(context.Background(), nil, testSnapshot())
	require.Error(t, err)
	assert.Equal(t, domain.KindStructural, domain.Kind(err))
	assert.True(t, domain.Retryable(err))
	assert.Len(t, script.Calls(), 2)
}

func TestGeneratePerspectivesDoesNotRetryTransient(t *testing.T) {
	engine, script := newTestEngine(completion.Reply{Err: domain.Transientf("provider timeout")})

	_, err := engine.Synthesize(context.Background(), nil, testSnapshot())
	require.Error(t, err)
	assert.Equal(t, domain.KindTransient, domain.Kind(err))
	assert.Len(t, script.Calls(), 1)
}

func TestAnalyzeAllFailsFastOnEmptyAnalysis(t *testing.T) {
	replies := []completion.Reply{perspectivesReply(4)}
	replies = append(replies,
		reply(`{"analysis":"ok"}`),
		reply(`{"analysis":""}`),
		reply(`{"analysis":"ok"}`),
		reply(`{"analysis":"ok"}`),
	)
	engine, _ := newTestEngine(replies...)

	_, err := engine.Synthesize(context.Background(), nil, testSnapshot())
	require.Error(t, err)
	assert.Equal(t, domain.KindStructural, domain.Kind(err))
}

func TestTemporalContextWindow(t *testing.T) {
	base := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	history := []domain.ProvenanceRecord{
		{AnalysisID: "a1", Timestamp: base},
		{AnalysisID: "a3", Timestamp: base.Add(2 * time.Hour)},
		{AnalysisID: "a2", Timestamp: base.Add(time.Hour)},
	}

	recent := temporalContext(history)
	require.Len(t, recent, 2)
	assert.Equal(t, "a3", recent[0].AnalysisID)
	assert.Equal(t, "a2", recent[1].AnalysisID)

	assert.Empty(t, temporalContext(nil))
}
