package batch

import (
	"reflect"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/specflow-dev/dashboard-core/internal/state"
)

// TestPlanIsDeterministicProperty verifies §8's round-trip/idempotence law
// "BatchPlanner(tasks) is deterministic: same input -> identical output".
func TestPlanIsDeterministicProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("Plan called twice on the same document and fallback size agrees", prop.ForAll(
		func(tc planTestCase) bool {
			first := Plan([]byte(tc.doc), tc.fallback)
			second := Plan([]byte(tc.doc), tc.fallback)

			if first.UsedFallback != second.UsedFallback {
				return false
			}
			if len(first.Batches) != len(second.Batches) {
				return false
			}
			for i := range first.Batches {
				if !batchItemsEqual(first.Batches[i], second.Batches[i]) {
					return false
				}
			}
			return true
		},
		genPlanTestCase(),
	))

	properties.TestingRun(t)
}

// TestPlanEveryBatchStartsPendingProperty verifies every BatchItem Plan
// produces starts life as BatchPending (§4.5: a fresh plan has not run yet).
func TestPlanEveryBatchStartsPendingProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("every produced batch item is pending with a non-empty task list", prop.ForAll(
		func(tc planTestCase) bool {
			plan := Plan([]byte(tc.doc), tc.fallback)
			for _, b := range plan.Batches {
				if b.Status != state.BatchPending {
					return false
				}
				if len(b.TaskIDs) == 0 {
					return false
				}
			}
			return true
		},
		genPlanTestCase(),
	))

	properties.TestingRun(t)
}

// TestPlanFallbackChunkSizeProperty verifies the boundary behavior of §8's
// fallback chunking: a flat, heading-free document of N distinct task ids
// and a fallback size of `size` always yields ceil(N/size) batches, each no
// larger than size, and usedFallback = true.
func TestPlanFallbackChunkSizeProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("flat task lists chunk to ceil(n/size) batches of at most size", prop.ForAll(
		func(n, size int) bool {
			var sb strings.Builder
			for i := 1; i <= n; i++ {
				sb.WriteString(taskLine(i))
			}
			plan := Plan([]byte(sb.String()), size)

			if !plan.UsedFallback {
				return false
			}
			wantBatches := (n + size - 1) / size
			if len(plan.Batches) != wantBatches {
				return false
			}
			total := 0
			for _, b := range plan.Batches {
				if len(b.TaskIDs) > size {
					return false
				}
				total += len(b.TaskIDs)
			}
			return total == n
		},
		gen.IntRange(1, 64),
		gen.IntRange(1, 20),
	))

	properties.TestingRun(t)
}

func batchItemsEqual(a, b state.BatchItem) bool {
	if a.Section != b.Section || a.Status != b.Status {
		return false
	}
	if len(a.TaskIDs) != len(b.TaskIDs) {
		return false
	}
	for i := range a.TaskIDs {
		if a.TaskIDs[i] != b.TaskIDs[i] {
			return false
		}
	}
	return true
}

type planTestCase struct {
	doc      string
	fallback int
}

// genPlanTestCase generates a markdown-ish task document: a handful of
// second-level sections each with a few task ids, grounded on the shape
// scanSections expects.
func genPlanTestCase() gopter.Gen {
	return gopter.CombineGens(
		gen.SliceOfN(4, genSection()),
		gen.IntRange(1, 15),
	).Map(func(vals []any) planTestCase {
		sections := vals[0].([]genSectionResult)
		fallback := vals[1].(int)

		var sb strings.Builder
		for _, s := range sections {
			if s.name == "" {
				continue // an empty heading name can't round-trip through headingPattern
			}
			sb.WriteString("## ")
			sb.WriteString(s.name)
			sb.WriteString("\n")
			for _, id := range s.taskIDs {
				sb.WriteString("- ")
				sb.WriteString(id)
				sb.WriteString("\n")
			}
		}
		return planTestCase{doc: sb.String(), fallback: fallback}
	})
}

type genSectionResult struct {
	name    string
	taskIDs []string
}

func genSection() gopter.Gen {
	return gopter.CombineGens(
		gen.Identifier(),
		gen.IntRange(0, 6),
	).FlatMap(func(vals any) gopter.Gen {
		v := vals.([]any)
		name := v[0].(string)
		count := v[1].(int)
		return gen.SliceOfN(count, gen.IntRange(1, 999)).Map(func(ns []int) genSectionResult {
			ids := make([]string, len(ns))
			for i, n := range ns {
				ids[i] = "T" + strconsDigits(n)
			}
			return genSectionResult{name: name, taskIDs: ids}
		})
	}, reflect.TypeOf(genSectionResult{}))
}

func strconsDigits(n int) string {
	s := ""
	for n > 0 {
		s = string(rune('0'+n%10)) + s
		n /= 10
	}
	if s == "" {
		s = "0"
	}
	return s
}
