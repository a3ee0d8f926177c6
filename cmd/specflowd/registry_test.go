package main

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/specflow-dev/dashboard-core/internal/contracts"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestLoadRegistryAbsentIsNotAnError(t *testing.T) {
	r, err := loadRegistry(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok, _ := r.Get(context.Background(), "proj-1"); ok {
		t.Fatal("expected no project in an empty registry")
	}
}

func TestLoadRegistryResolvesKnownProject(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "projects.json")
	body, err := json.Marshal(registryFile{Projects: []contracts.Project{
		{ID: "proj-1", Name: "widget", Path: "/work/widget"},
	}})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	writeFile(t, path, string(body))

	r, err := loadRegistry(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p, ok, err := r.Get(context.Background(), "proj-1")
	if err != nil || !ok {
		t.Fatalf("Get(proj-1) = %+v, %v, %v", p, ok, err)
	}
	if p.Path != "/work/widget" {
		t.Errorf("path = %q, want /work/widget", p.Path)
	}

	list, err := r.List(context.Background())
	if err != nil || len(list) != 1 {
		t.Fatalf("List() = %v, %v", list, err)
	}
}

func TestFileTasksDocLiteralPath(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ".specflow", "tasks.md"), "## A\n- T001\n")

	doc := fileTasksDoc{relPath: filepath.Join(".specflow", "tasks.md")}
	b, ok, err := doc.ReadTasksDocument(context.Background(), dir)
	if err != nil || !ok {
		t.Fatalf("ReadTasksDocument = %v, %v, %v", b, ok, err)
	}
	if string(b) != "## A\n- T001\n" {
		t.Errorf("content = %q", b)
	}
}

func TestFileTasksDocAbsentIsNotAnError(t *testing.T) {
	dir := t.TempDir()
	doc := fileTasksDoc{relPath: filepath.Join(".specflow", "tasks.md")}
	_, ok, err := doc.ReadTasksDocument(context.Background(), dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected absent, not ok")
	}
}

func TestFileTasksDocPatternResolution(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "specs", "001", "tasks.md"), "## A\n- T001\n")

	doc := fileTasksDoc{pattern: "specs/*/tasks.md"}
	b, ok, err := doc.ReadTasksDocument(context.Background(), dir)
	if err != nil || !ok {
		t.Fatalf("ReadTasksDocument = %v, %v, %v", b, ok, err)
	}
	if string(b) != "## A\n- T001\n" {
		t.Errorf("content = %q", b)
	}
}
