package batch

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/specflow-dev/dashboard-core/internal/state"
)

func TestPlanHeadingSections(t *testing.T) {
	doc := []byte(`# Tasks

## A
- T001 do the first thing
- T002 do the second thing

## B
- T003 do the third thing

## C
- T004 do the fourth thing
- T005 do the fifth thing
`)
	plan := Plan(doc, 15)
	require.False(t, plan.UsedFallback)
	require.Len(t, plan.Batches, 3)
	require.Equal(t, "A", plan.Batches[0].Section)
	require.Equal(t, []string{"T001", "T002"}, plan.Batches[0].TaskIDs)
	require.Equal(t, "B", plan.Batches[1].Section)
	require.Equal(t, []string{"T003"}, plan.Batches[1].TaskIDs)
	require.Equal(t, "C", plan.Batches[2].Section)
	require.Equal(t, []string{"T004", "T005"}, plan.Batches[2].TaskIDs)
	for _, b := range plan.Batches {
		require.Equal(t, state.BatchPending, b.Status)
	}
}

func TestPlanDedupesWithinSectionOnFirstOccurrence(t *testing.T) {
	doc := []byte(`## A
- T001
- T001
- T002
`)
	plan := Plan(doc, 15)
	require.Equal(t, []string{"T001", "T002"}, plan.Batches[0].TaskIDs)
}

func TestPlanDropsEmptySections(t *testing.T) {
	doc := []byte(`## Empty

## A
- T001
`)
	plan := Plan(doc, 15)
	require.Len(t, plan.Batches, 1)
	require.Equal(t, "A", plan.Batches[0].Section)
}

func TestPlanCollectsUncategorizedTrailingBatch(t *testing.T) {
	doc := []byte(`Some preamble mentioning T000 before any heading.

## A
- T001
`)
	plan := Plan(doc, 15)
	require.Len(t, plan.Batches, 2)
	require.Equal(t, "A", plan.Batches[0].Section)
	require.Equal(t, uncategorizedSection, plan.Batches[1].Section)
	require.Equal(t, []string{"T000"}, plan.Batches[1].TaskIDs)
}

func TestPlanFallsBackToFixedSizeChunksWhenNoHeadings(t *testing.T) {
	ids := ""
	for i := 1; i <= 32; i++ {
		ids += taskLine(i)
	}
	plan := Plan([]byte(ids), 15)
	require.True(t, plan.UsedFallback)
	require.Len(t, plan.Batches, 3)
	require.Len(t, plan.Batches[0].TaskIDs, 15)
	require.Len(t, plan.Batches[1].TaskIDs, 15)
	require.Len(t, plan.Batches[2].TaskIDs, 2)
}

func TestPlanFallsBackToSingleBatchWhenTotalFitsOneChunk(t *testing.T) {
	ids := taskLine(1) + taskLine(2) + taskLine(3)
	plan := Plan([]byte(ids), 15)
	require.True(t, plan.UsedFallback)
	require.Len(t, plan.Batches, 1)
	require.Len(t, plan.Batches[0].TaskIDs, 3)
}

func TestPlanEmptyDocumentProducesNoBatches(t *testing.T) {
	plan := Plan([]byte(""), 15)
	require.True(t, plan.UsedFallback)
	require.Empty(t, plan.Batches)
}

func taskLine(n int) string {
	return "- T" + fmtPadded3(n) + " a task\n"
}

func fmtPadded3(n int) string {
	s := strconv.Itoa(n)
	for len(s) < 3 {
		s = "0" + s
	}
	return s
}
