package queue

import (
	"testing"
)

func TestNewIndexProjectTask(t *testing.T) {
	task, err := NewIndexProjectTask(42)
	if err != nil {
		t.Fatalf("NewIndexProjectTask: %v", err)
	}
	if task.Type() != TypeIndexProject {
		t.Errorf("expected type %q, got %q", TypeIndexProject, task.Type())
	}

	p, err := decodePayload(task.Payload())
	if err != nil {
		t.Fatalf("decodePayload: %v", err)
	}
	if p.ProjectID != 42 {
		t.Errorf("expected project 42, got %d", p.ProjectID)
	}
}

func TestNewSyncProjectTask(t *testing.T) {
	task, err := NewSyncProjectTask(7)
	if err != nil {
		t.Fatalf("NewSyncProjectTask: %v", err)
	}
	if task.Type() != TypeSyncProject {
		t.Errorf("expected type %q, got %q", TypeSyncProject, task.Type())
	}
}

func TestSweepTasksHaveNoPayload(t *testing.T) {
	if payload := NewSyncAllTask().Payload(); len(payload) != 0 {
		t.Errorf("sync-all task should carry no payload, got %q", payload)
	}
	if task := NewRefreshProjectsTask(); task.Type() != TypeRefreshProjects {
		t.Errorf("unexpected refresh task type %q", task.Type())
	}
}

func TestDecodePayload_Invalid(t *testing.T) {
	if _, err := decodePayload([]byte("not json")); err == nil {
		t.Error("expected error for malformed payload")
	}
}

func TestPayloadMatchesProject(t *testing.T) {
	task, err := NewIndexProjectTask(42)
	if err != nil {
		t.Fatal(err)
	}

	if !payloadMatchesProject(task.Payload(), 42) {
		t.Error("expected payload to match its own project")
	}
	if payloadMatchesProject(task.Payload(), 43) {
		t.Error("expected mismatch for a different project")
	}
	if payloadMatchesProject([]byte("garbage"), 42) {
		t.Error("garbage payload must never match")
	}
}
