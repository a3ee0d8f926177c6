package executor

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/specflow-dev/dashboard-core/internal/config"
)

// writeSchemaFile materializes the resolved output schema to a per-workflow
// file the agent CLI can be pointed at via --json-schema; the teacher's
// CodergenRouter does the equivalent for its structured-output contract
// (writing output_schema.json into the stage directory before invocation).
func writeSchemaFile(workflowID string, schema []byte) (string, error) {
	dir := filepath.Join(os.TempDir(), "specflow-schemas")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, workflowID+".json")
	if err := os.WriteFile(path, schema, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// defaultInteractiveQuestionTool is the agent's built-in interactive
// question-asking tool, disallowed by default so that questions are forced
// into the structured output instead (§6).
const defaultInteractiveQuestionTool = "ask_followup_question"

// defaultOutputSchemaBytes constrains the agent's final payload to the
// Output shape (§4.4). Callers may supply their own schema per invocation
// via StartOptions.OutputSchema.
var defaultOutputSchemaBytes = []byte(`{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["status"],
	"properties": {
		"status": {"type": "string", "enum": ["completed", "needs_input", "error"]},
		"phase": {"type": "string"},
		"message": {"type": "string"},
		"artifacts": {"type": "array", "items": {"type": "string"}},
		"questions": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["id", "content"],
				"properties": {
					"id": {"type": "string"},
					"content": {"type": "string"},
					"options": {
						"type": "array",
						"items": {
							"type": "object",
							"properties": {
								"label": {"type": "string"},
								"description": {"type": "string"}
							}
						}
					}
				}
			}
		}
	}
}`)

type schemaValidator struct {
	schema *jsonschema.Schema
}

// compileSchema parses and compiles a JSON Schema document for validating
// the agent's structured output.
func compileSchema(raw []byte) (*schemaValidator, error) {
	compiler := jsonschema.NewCompiler()
	const resourceName = "output-schema.json"
	if err := compiler.AddResource(resourceName, bytes.NewReader(raw)); err != nil {
		return nil, err
	}
	schema, err := compiler.Compile(resourceName)
	if err != nil {
		return nil, err
	}
	return &schemaValidator{schema: schema}, nil
}

func (v *schemaValidator) validate(doc any) error {
	if v == nil || v.schema == nil {
		return nil
	}
	return v.schema.Validate(doc)
}

// markerPrefix is the prompt preamble embedding the workflow id (§4.4:
// "the workflowID itself is used as that marker"). The first transcript
// line whose content has this prefix is the one the executor is waiting
// for during session-id discovery.
const markerPrefix = "specflow-workflow:"

// buildInvocation assembles the agent CLI argv and the marker-prefixed
// prompt for one Start call (§6: non-interactive flag, --output-format
// json with --json-schema, disallow-tools flag, --resume on continuation).
// schemaPath is the on-disk path Start already wrote the resolved schema
// to.
func buildInvocation(skill, workflowID, prompt, schemaPath string, opts StartOptions) (args []string, markedPrompt string) {
	args = []string{
		"--non-interactive",
		"--output-format", "json",
		"--json-schema", schemaPath,
		"--skill", skill,
	}

	disallow := opts.DisallowedTools
	if len(disallow) == 0 {
		disallow = []string{defaultInteractiveQuestionTool}
	}
	for _, tool := range disallow {
		args = append(args, "--disallow-tool", tool)
	}

	if opts.ResumeSessionID != "" {
		args = append(args, "--resume", opts.ResumeSessionID)
	}

	markedPrompt = fmt.Sprintf("%s%s\n%s", markerPrefix, workflowID, prompt)
	return args, markedPrompt
}

// parseOutput decodes and schema-validates the agent's stdout into an
// Output (§4.4 "on process exit with success, stdout is parsed against the
// expected schema").
func parseOutput(stdout []byte, v *schemaValidator) (Output, error) {
	trimmed := bytes.TrimSpace(stdout)
	if len(trimmed) == 0 {
		return Output{}, fmt.Errorf("empty stdout")
	}

	var doc any
	if err := json.Unmarshal(trimmed, &doc); err != nil {
		return Output{}, fmt.Errorf("decoding json: %w", err)
	}
	if err := v.validate(doc); err != nil {
		return Output{}, fmt.Errorf("schema validation: %w", err)
	}

	var out Output
	if err := config.DecodeJSONStrict(trimmed, &out); err != nil {
		return Output{}, fmt.Errorf("decoding output: %w", err)
	}
	return out, nil
}
