package plan

import (
	"errors"
	"testing"
)

func chain(ids ...string) []*Task {
	tasks := make([]*Task, len(ids))
	for i, id := range ids {
		t := &Task{ID: id, Title: id, Status: StatusPending, Priority: PriorityDefault}
		if i > 0 {
			t.Dependencies = []string{ids[i-1]}
		}
		tasks[i] = t
	}
	return tasks
}

func TestValidateGraph_OK(t *testing.T) {
	tasks := []*Task{
		{ID: "a"},
		{ID: "b"},
		{ID: "c", Dependencies: []string{"a", "b"}},
	}
	if err := ValidateGraph(tasks); err != nil {
		t.Fatalf("ValidateGraph: %v", err)
	}
}

func TestValidateGraph_Empty(t *testing.T) {
	var verr *ValidationError
	err := ValidateGraph(nil)
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestValidateGraph_DuplicateID(t *testing.T) {
	err := ValidateGraph([]*Task{{ID: "a"}, {ID: "a"}})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if verr.TaskID != "a" {
		t.Errorf("TaskID = %q, want a", verr.TaskID)
	}
}

func TestValidateGraph_UnresolvedDependency(t *testing.T) {
	err := ValidateGraph([]*Task{{ID: "a", Dependencies: []string{"ghost"}}})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if verr.TaskID != "a" {
		t.Errorf("TaskID = %q, want a", verr.TaskID)
	}
}

func TestValidateGraph_SelfDependency(t *testing.T) {
	if err := ValidateGraph([]*Task{{ID: "a", Dependencies: []string{"a"}}}); err == nil {
		t.Fatal("expected error for self-dependency")
	}
}

func TestValidateGraph_Cycle(t *testing.T) {
	tasks := []*Task{
		{ID: "a", Dependencies: []string{"b"}},
		{ID: "b", Dependencies: []string{"a"}},
	}
	err := ValidateGraph(tasks)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError for cycle, got %v", err)
	}
}

func TestDependents(t *testing.T) {
	tasks := []*Task{
		{ID: "a"},
		{ID: "c", Dependencies: []string{"a"}},
		{ID: "b", Dependencies: []string{"a"}},
	}
	rev := Dependents(tasks)
	got := rev["a"]
	if len(got) != 2 || got[0] != "b" || got[1] != "c" {
		t.Errorf("Dependents[a] = %v, want [b c]", got)
	}
	if len(rev["b"]) != 0 {
		t.Errorf("Dependents[b] = %v, want empty", rev["b"])
	}
}

func TestLayers(t *testing.T) {
	tasks := []*Task{
		{ID: "root", Priority: 5},
		{ID: "low", Priority: 1, Dependencies: []string{"root"}},
		{ID: "high", Priority: 5, Dependencies: []string{"root"}},
		{ID: "leaf", Priority: 3, Dependencies: []string{"low", "high"}},
	}
	layers := Layers(tasks)
	if len(layers) != 3 {
		t.Fatalf("got %d layers, want 3", len(layers))
	}
	if layers[0][0].ID != "root" {
		t.Errorf("layer 0 = %q, want root", layers[0][0].ID)
	}
	// Priority descending within a layer
	if layers[1][0].ID != "high" || layers[1][1].ID != "low" {
		t.Errorf("layer 1 = [%s %s], want [high low]", layers[1][0].ID, layers[1][1].ID)
	}
	if layers[2][0].ID != "leaf" {
		t.Errorf("layer 2 = %q, want leaf", layers[2][0].ID)
	}
}

func TestLayers_Chain(t *testing.T) {
	layers := Layers(chain("a", "b", "c", "d"))
	if len(layers) != 4 {
		t.Fatalf("got %d layers, want 4", len(layers))
	}
	for i, want := range []string{"a", "b", "c", "d"} {
		if len(layers[i]) != 1 || layers[i][0].ID != want {
			t.Errorf("layer %d = %v, want [%s]", i, layers[i], want)
		}
	}
}
