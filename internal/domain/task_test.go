package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskOverallProgress(t *testing.T) {
	t.Parallel()

	task := NewTask("t1", Submission{DOI: "10.1/x"}, time.Now())
	assert.Equal(t, 0, task.OverallProgress)

	task.SetComponent(ComponentMetadata, ComponentState{Status: ComponentSuccess, Progress: 100})
	// metadata weighs 40%.
	assert.Equal(t, 40, task.OverallProgress)

	task.SetComponent(ComponentContent, ComponentState{Status: ComponentProcessing, Progress: 50, Stage: "downloading PDF"})
	assert.Equal(t, 55, task.OverallProgress)
	assert.Equal(t, "downloading PDF", task.CurrentStage)

	task.SetComponent(ComponentContent, ComponentState{Status: ComponentSuccess, Progress: 100})
	task.SetComponent(ComponentReferences, ComponentState{Status: ComponentSuccess, Progress: 100})
	assert.Equal(t, 100, task.OverallProgress)
}

func TestTaskProgressMonotonic(t *testing.T) {
	t.Parallel()

	task := NewTask("t1", Submission{DOI: "10.1/x"}, time.Now())
	task.SetComponent(ComponentMetadata, ComponentState{Status: ComponentProcessing, Progress: 80})
	before := task.OverallProgress

	// A component reporting lower progress must not lower the overall value.
	task.SetComponent(ComponentMetadata, ComponentState{Status: ComponentProcessing, Progress: 10})
	assert.GreaterOrEqual(t, task.OverallProgress, before)
}

func TestComponentStateAdvance(t *testing.T) {
	t.Parallel()

	var c ComponentState
	c.Advance(ComponentProcessing, "querying CrossRef", 30)
	assert.Equal(t, 30, c.Progress)

	c.Advance(ComponentProcessing, "", 10)
	assert.Equal(t, 30, c.Progress, "progress must be non-decreasing")
	assert.Equal(t, "querying CrossRef", c.Stage)

	c.Advance(ComponentSuccess, "done", 90)
	assert.Equal(t, 100, c.Progress)
}

func TestTaskFinishTerminal(t *testing.T) {
	t.Parallel()

	task := NewTask("t1", Submission{DOI: "10.1/x"}, time.Now())

	require.True(t, task.Finish(StatusCancelled, time.Now()))
	assert.Equal(t, StatusCancelled, task.ExecutionStatus)

	// A terminal task never transitions again.
	require.False(t, task.Finish(StatusCompleted, time.Now()))
	assert.Equal(t, StatusCancelled, task.ExecutionStatus)
}

func TestExecutionStatusIsTerminal(t *testing.T) {
	t.Parallel()

	assert.False(t, StatusPending.IsTerminal())
	assert.False(t, StatusProcessing.IsTerminal())
	assert.True(t, StatusCompleted.IsTerminal())
	assert.True(t, StatusFailed.IsTerminal())
	assert.True(t, StatusCancelled.IsTerminal())
}

func TestDeduplicateReferences(t *testing.T) {
	t.Parallel()

	refs := []Reference{
		{RawText: "Vaswani et al. 2017", Parsed: &ParsedReference{DOI: "10.48550/arxiv.1706.03762"}},
		{RawText: "Vaswani et al., Attention", Parsed: &ParsedReference{DOI: "10.48550/arxiv.1706.03762"}},
		{RawText: "LeCun 2015", Parsed: &ParsedReference{Title: "Deep Learning", Year: 2015}},
		{RawText: "LeCun et al 2015", Parsed: &ParsedReference{Title: "Deep learning", Year: 2015}},
		{RawText: "some unparsed reference"},
	}

	out := DeduplicateReferences(refs)
	require.Len(t, out, 3)
	assert.Equal(t, "Vaswani et al. 2017", out[0].RawText)
	assert.Equal(t, "LeCun 2015", out[1].RawText)
	assert.Equal(t, "some unparsed reference", out[2].RawText)
}
