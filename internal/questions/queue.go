// Package questions is QuestionQueue (§4.3): captures questions emitted by
// the agent's structured output, associates them with the originating
// WorkflowExecution, and exposes them for answering. Grounded on the
// teacher's server.WebInterviewer (parking/answering questions by ID) but
// persisted to a per-project JSON file instead of held only in memory,
// since §4.3 requires the queue to "survive a process restart".
package questions

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/specflow-dev/dashboard-core/internal/atomicfile"
	"github.com/specflow-dev/dashboard-core/internal/config"
)

// Option is one selectable answer to a Question (§3).
type Option struct {
	Label       string `json:"label"`
	Description string `json:"description,omitempty"`
}

// Question belongs to exactly one WorkflowExecution (§3); pending while
// Answer is nil.
type Question struct {
	ID                  string    `json:"id"`
	WorkflowExecutionID string    `json:"workflow_execution_id"`
	Content             string    `json:"content"`
	Options             []Option  `json:"options,omitempty"`
	Answer              *string   `json:"answer,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
	AnsweredAt          *time.Time `json:"answered_at,omitempty"`
}

// Pending reports whether the question has not yet been answered.
func (q Question) Pending() bool { return q.Answer == nil }

const relQueuePath = ".specflow/questions.json"

// ErrUnknownQuestion and ErrAlreadyAnswered are the two named failure modes
// of Answer (§4.3).
var (
	ErrUnknownQuestion = fmt.Errorf("unknown question")
	ErrAlreadyAnswered = fmt.Errorf("already answered")
)

// ErrQueueFull is returned by Enqueue when the queue already holds the
// configured cap of questions for a workflow (§5 Backpressure). The executor
// separately fails an invocation whose structured payload carries more
// questions than the same cap.
var ErrQueueFull = fmt.Errorf("question queue full for this workflow")

type docV1 struct {
	Questions []Question `json:"questions"`
}

// Queue is a per-project question queue backed by a JSON file, guarded by
// an in-process mutex (§5: "the subprocess table and question queue are
// in-memory, protected by an internal mutex" — here the source of truth is
// the file, and the mutex serializes this process's access to it).
type Queue struct {
	mu       sync.Mutex
	maxPerWF int
}

// NewQueue constructs a Queue. maxPerWorkflow <= 0 disables the cap.
func NewQueue(maxPerWorkflow int) *Queue {
	return &Queue{maxPerWF: maxPerWorkflow}
}

func queuePath(projectDir string) string {
	return filepath.Join(projectDir, relQueuePath)
}

func (q *Queue) load(projectDir string) (docV1, error) {
	b, err := os.ReadFile(queuePath(projectDir))
	if err != nil {
		if os.IsNotExist(err) {
			return docV1{}, nil
		}
		return docV1{}, fmt.Errorf("reading question queue: %w", err)
	}
	var d docV1
	if err := config.DecodeJSONStrict(b, &d); err != nil {
		return docV1{}, fmt.Errorf("decoding question queue: %w", err)
	}
	return d, nil
}

func (q *Queue) save(projectDir string, d docV1) error {
	b, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling question queue: %w", err)
	}
	return atomicfile.Write(queuePath(projectDir), b, 0o644)
}

// Enqueue appends a question, assigning CreatedAt. Idempotent on
// question.ID: re-enqueueing an existing id is a no-op (§4.3).
func (q *Queue) Enqueue(projectDir, workflowID string, question Question) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	d, err := q.load(projectDir)
	if err != nil {
		return err
	}
	for _, existing := range d.Questions {
		if existing.ID == question.ID {
			return nil // idempotent no-op
		}
	}
	if q.maxPerWF > 0 {
		count := 0
		for _, existing := range d.Questions {
			if existing.WorkflowExecutionID == workflowID {
				count++
			}
		}
		if count >= q.maxPerWF {
			return ErrQueueFull
		}
	}
	question.WorkflowExecutionID = workflowID
	question.CreatedAt = time.Now().UTC()
	d.Questions = append(d.Questions, question)
	return q.save(projectDir, d)
}

// Pending returns unanswered questions in FIFO order (§4.3).
func (q *Queue) Pending(projectDir string) ([]Question, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	d, err := q.load(projectDir)
	if err != nil {
		return nil, err
	}
	out := make([]Question, 0, len(d.Questions))
	for _, question := range d.Questions {
		if question.Pending() {
			out = append(out, question)
		}
	}
	return out, nil
}

// Answer records the answer for questionID (§4.3).
func (q *Queue) Answer(projectDir, questionID, answer string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	d, err := q.load(projectDir)
	if err != nil {
		return err
	}
	for i := range d.Questions {
		if d.Questions[i].ID != questionID {
			continue
		}
		if !d.Questions[i].Pending() {
			return ErrAlreadyAnswered
		}
		ans := answer
		now := time.Now().UTC()
		d.Questions[i].Answer = &ans
		d.Questions[i].AnsweredAt = &now
		return q.save(projectDir, d)
	}
	return ErrUnknownQuestion
}

// Drain atomically returns and removes all answers for a workflow, used at
// resume time (§4.3). Unanswered questions for the workflow are left in
// place; only answered ones are drained.
func (q *Queue) Drain(projectDir, workflowID string) (map[string]string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	d, err := q.load(projectDir)
	if err != nil {
		return nil, err
	}
	answers := map[string]string{}
	remaining := d.Questions[:0]
	for _, question := range d.Questions {
		if question.WorkflowExecutionID == workflowID && !question.Pending() {
			answers[question.ID] = *question.Answer
			continue
		}
		remaining = append(remaining, question)
	}
	d.Questions = remaining
	if err := q.save(projectDir, d); err != nil {
		return nil, err
	}
	return answers, nil
}
