package listlane

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
)

func projectOrder(t *testing.T, s *Store) []string {
	t.Helper()
	projects := s.ListProjects()
	ids := make([]string, 0, len(projects))
	for position, project := range projects {
		if project.Sequence != position {
			t.Fatalf("project %s has sequence %d at position %d", project.ID, project.Sequence, position)
		}
		ids = append(ids, project.ID)
	}
	return ids
}

func taskOrder(t *testing.T, s *Store, groupID string) []string {
	t.Helper()
	tasks := s.ListTasks(groupID)
	ids := make([]string, 0, len(tasks))
	for position, task := range tasks {
		if task.Sequence != position {
			t.Fatalf("task %s has sequence %d at position %d", task.ID, task.Sequence, position)
		}
		ids = append(ids, task.ID)
	}
	return ids
}

func equalOrder(got, want []string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func TestUpsertProjectAppendsAfterAnchor(t *testing.T) {
	s := NewStore()
	if err := s.UpsertProject(ProjectUpsert{ID: "p1", Name: "inbox"}); err != nil {
		t.Fatalf("upsert p1 failed: %v", err)
	}
	if err := s.UpsertProject(ProjectUpsert{ID: "p2", Name: "work", After: "p1"}); err != nil {
		t.Fatalf("upsert p2 failed: %v", err)
	}
	if err := s.UpsertProject(ProjectUpsert{ID: "p3", Name: "home", After: "p2"}); err != nil {
		t.Fatalf("upsert p3 failed: %v", err)
	}
	if got := projectOrder(t, s); !equalOrder(got, []string{"p1", "p2", "p3"}) {
		t.Fatalf("unexpected project order: %v", got)
	}
}

func TestUpsertWithEmptyAnchorInsertsAtFront(t *testing.T) {
	s := NewStore()
	for _, id := range []string{"p1", "p2"} {
		if err := s.UpsertProject(ProjectUpsert{ID: id, Name: id, After: ""}); err != nil {
			t.Fatalf("upsert %s failed: %v", id, err)
		}
	}
	// each empty-anchor insert lands at sequence 0 and shifts the rest
	if got := projectOrder(t, s); !equalOrder(got, []string{"p2", "p1"}) {
		t.Fatalf("unexpected project order: %v", got)
	}
}

func TestUpsertMiddleInsertShiftsTail(t *testing.T) {
	s := NewStore()
	for _, id := range []string{"t1", "t2", "t3"} {
		if err := s.UpsertTask(TaskUpsert{ID: id, Text: id, GroupID: "g1", After: lastOf(s, "g1")}); err != nil {
			t.Fatalf("upsert %s failed: %v", id, err)
		}
	}
	if got := taskOrder(t, s, "g1"); !equalOrder(got, []string{"t1", "t2", "t3"}) {
		t.Fatalf("unexpected seeded order: %v", got)
	}
	if err := s.UpsertTask(TaskUpsert{ID: "t4", Text: "t4", GroupID: "g1", After: "t1"}); err != nil {
		t.Fatalf("upsert t4 failed: %v", err)
	}
	if got := taskOrder(t, s, "g1"); !equalOrder(got, []string{"t1", "t4", "t2", "t3"}) {
		t.Fatalf("unexpected task order: %v", got)
	}
}

func TestUpsertIsIdempotent(t *testing.T) {
	s := NewStore()
	commands := []TaskUpsert{
		{ID: "t1", Text: "first", GroupID: "g1"},
		{ID: "t2", Text: "second", GroupID: "g1", After: "t1"},
		{ID: "t3", Text: "third", GroupID: "g1", After: "t1"},
	}
	for _, cmd := range commands {
		if err := s.UpsertTask(cmd); err != nil {
			t.Fatalf("upsert %s failed: %v", cmd.ID, err)
		}
	}
	want := taskOrder(t, s, "g1")
	// replaying the last command must not move anything
	if err := s.UpsertTask(commands[2]); err != nil {
		t.Fatalf("replayed upsert failed: %v", err)
	}
	if got := taskOrder(t, s, "g1"); !equalOrder(got, want) {
		t.Fatalf("replay moved tasks: got %v want %v", got, want)
	}
}

func TestMoveExistingTask(t *testing.T) {
	s := NewStore()
	for _, id := range []string{"t1", "t2", "t3"} {
		if err := s.UpsertTask(TaskUpsert{ID: id, Text: id, GroupID: "g1", After: lastOf(s, "g1")}); err != nil {
			t.Fatalf("upsert %s failed: %v", id, err)
		}
	}
	if err := s.UpsertTask(TaskUpsert{ID: "t3", Text: "t3", GroupID: "g1", After: ""}); err != nil {
		t.Fatalf("move t3 failed: %v", err)
	}
	if got := taskOrder(t, s, "g1"); !equalOrder(got, []string{"t3", "t1", "t2"}) {
		t.Fatalf("unexpected task order after move: %v", got)
	}
}

func lastOf(s *Store, groupID string) string {
	tasks := s.ListTasks(groupID)
	if len(tasks) == 0 {
		return ""
	}
	return tasks[len(tasks)-1].ID
}

func TestDeleteLeavesGapUntilNextUpsert(t *testing.T) {
	s := NewStore()
	for _, id := range []string{"p1", "p2", "p3"} {
		if err := s.UpsertProject(ProjectUpsert{ID: id, Name: id, After: lastProject(s)}); err != nil {
			t.Fatalf("upsert %s failed: %v", id, err)
		}
	}
	if err := s.DeleteProject("p2"); err != nil {
		t.Fatalf("delete p2 failed: %v", err)
	}
	projects := s.ListProjects()
	if len(projects) != 2 || projects[0].Sequence != 0 || projects[1].Sequence != 2 {
		t.Fatalf("expected sequences [0 2] after delete, got %+v", projects)
	}
	// the next write to the scope repairs the gap
	if err := s.UpsertProject(ProjectUpsert{ID: "p4", Name: "p4", After: "p3"}); err != nil {
		t.Fatalf("upsert p4 failed: %v", err)
	}
	if got := projectOrder(t, s); !equalOrder(got, []string{"p1", "p3", "p4"}) {
		t.Fatalf("unexpected project order after repair: %v", got)
	}
}

func lastProject(s *Store) string {
	projects := s.ListProjects()
	if len(projects) == 0 {
		return ""
	}
	return projects[len(projects)-1].ID
}

func TestDeleteAbsentIDIsNoOp(t *testing.T) {
	s := NewStore()
	if err := s.DeleteTask("missing"); err != nil {
		t.Fatalf("delete of absent task failed: %v", err)
	}
	if err := s.DeleteGroup("missing"); err != nil {
		t.Fatalf("delete of absent group failed: %v", err)
	}
	if err := s.DeleteProject("missing"); err != nil {
		t.Fatalf("delete of absent project failed: %v", err)
	}
}

func TestUpsertTaskReparentsAcrossGroups(t *testing.T) {
	s := NewStore()
	for _, id := range []string{"a1", "a2"} {
		if err := s.UpsertTask(TaskUpsert{ID: id, Text: id, GroupID: "g1", After: lastOf(s, "g1")}); err != nil {
			t.Fatalf("upsert %s failed: %v", id, err)
		}
	}
	if err := s.UpsertTask(TaskUpsert{ID: "b1", Text: "b1", GroupID: "g2"}); err != nil {
		t.Fatalf("upsert b1 failed: %v", err)
	}
	if err := s.UpsertTask(TaskUpsert{ID: "a2", Text: "a2", GroupID: "g2", After: "b1"}); err != nil {
		t.Fatalf("reparent a2 failed: %v", err)
	}
	if got := taskOrder(t, s, "g1"); !equalOrder(got, []string{"a1"}) {
		t.Fatalf("unexpected source group order: %v", got)
	}
	if got := taskOrder(t, s, "g2"); !equalOrder(got, []string{"b1", "a2"}) {
		t.Fatalf("unexpected target group order: %v", got)
	}
}

func TestUpsertTaskRejectsInvalidStatus(t *testing.T) {
	s := NewStore()
	err := s.UpsertTask(TaskUpsert{ID: "t1", GroupID: "g1", Status: TaskStatus(9)})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	// zero status defaults to todo
	if err := s.UpsertTask(TaskUpsert{ID: "t1", GroupID: "g1"}); err != nil {
		t.Fatalf("upsert with default status failed: %v", err)
	}
	task, err := s.GetTask("t1")
	if err != nil {
		t.Fatalf("get t1 failed: %v", err)
	}
	if task.Status != StatusTodo {
		t.Fatalf("expected default status todo, got %v", task.Status)
	}
}

func TestGetReturnsNotFound(t *testing.T) {
	s := NewStore()
	if _, err := s.GetProject("nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestReplaceAllTrustsSuppliedSequences(t *testing.T) {
	s := NewStore()
	if err := s.UpsertProject(ProjectUpsert{ID: "old", Name: "old"}); err != nil {
		t.Fatalf("seed upsert failed: %v", err)
	}
	snapshot := &Snapshot{
		Projects: []Project{
			{ID: "p2", Name: "second", Sequence: 1},
			{ID: "p1", Name: "first", Sequence: 0},
		},
		Groups: []Group{{ID: "g1", Name: "backlog", ProjectID: "p1", Sequence: 0}},
		Tasks: []Task{
			{ID: "t2", Text: "later", GroupID: "g1", Status: StatusTodo, Sequence: 1},
			{ID: "t1", Text: "now", GroupID: "g1", Status: StatusInProgress, Sequence: 0},
		},
	}
	if err := s.ReplaceAll(snapshot); err != nil {
		t.Fatalf("replace all failed: %v", err)
	}
	if got := projectOrder(t, s); !equalOrder(got, []string{"p1", "p2"}) {
		t.Fatalf("unexpected project order: %v", got)
	}
	if got := taskOrder(t, s, "g1"); !equalOrder(got, []string{"t1", "t2"}) {
		t.Fatalf("unexpected task order: %v", got)
	}
	if _, err := s.GetProject("old"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected old project to be gone, got %v", err)
	}
}

func TestStorePersistsThroughJSONFileBackend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	s, err := NewStoreWithOptions(StoreOptions{StateFile: path})
	if err != nil {
		t.Fatalf("new store failed: %v", err)
	}
	if err := s.UpsertProject(ProjectUpsert{ID: "p1", Name: "inbox"}); err != nil {
		t.Fatalf("upsert project failed: %v", err)
	}
	if err := s.UpsertGroup(GroupUpsert{ID: "g1", Name: "backlog", ProjectID: "p1"}); err != nil {
		t.Fatalf("upsert group failed: %v", err)
	}
	if err := s.UpsertTask(TaskUpsert{ID: "t1", Text: "write it down", GroupID: "g1"}); err != nil {
		t.Fatalf("upsert task failed: %v", err)
	}

	reopened, err := NewStoreWithOptions(StoreOptions{StateFile: path})
	if err != nil {
		t.Fatalf("reopen store failed: %v", err)
	}
	task, err := reopened.GetTask("t1")
	if err != nil {
		t.Fatalf("get t1 after reopen failed: %v", err)
	}
	if task.Text != "write it down" || task.GroupID != "g1" {
		t.Fatalf("unexpected task after reopen: %+v", task)
	}
	if got := projectOrder(t, reopened); !equalOrder(got, []string{"p1"}) {
		t.Fatalf("unexpected project order after reopen: %v", got)
	}
}

func TestConcurrentInsertsKeepSequencesDense(t *testing.T) {
	s := NewStore()
	const workers = 16
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func(n int) {
			defer wg.Done()
			_ = s.UpsertTask(TaskUpsert{ID: fmt.Sprintf("t%02d", n), Text: "x", GroupID: "g1"})
		}(i)
	}
	wg.Wait()
	tasks := s.ListTasks("g1")
	if len(tasks) != workers {
		t.Fatalf("expected %d tasks, got %d", workers, len(tasks))
	}
	for position, task := range tasks {
		if task.Sequence != position {
			t.Fatalf("task %s has sequence %d at position %d", task.ID, task.Sequence, position)
		}
	}
}

func TestGroupsAreScopedToProjects(t *testing.T) {
	s := NewStore()
	if err := s.UpsertGroup(GroupUpsert{ID: "g1", Name: "one", ProjectID: "p1"}); err != nil {
		t.Fatalf("upsert g1 failed: %v", err)
	}
	if err := s.UpsertGroup(GroupUpsert{ID: "g2", Name: "two", ProjectID: "p2"}); err != nil {
		t.Fatalf("upsert g2 failed: %v", err)
	}
	// sibling scopes number independently
	if got := s.ListGroups("p1"); len(got) != 1 || got[0].Sequence != 0 {
		t.Fatalf("unexpected p1 groups: %+v", got)
	}
	if got := s.ListGroups("p2"); len(got) != 1 || got[0].Sequence != 0 {
		t.Fatalf("unexpected p2 groups: %+v", got)
	}
}
