package listlane

import (
	"fmt"
	"sort"
	"sync"
)

type entityKind string

const (
	kindProject entityKind = "project"
	kindGroup   entityKind = "task_group"
	kindTask    entityKind = "task"
)

// scopeRef identifies one ordered sibling set: all projects, the groups of
// one project, or the tasks of one group.
type scopeRef struct {
	kind   entityKind
	parent string
}

type StoreOptions struct {
	// Backend persists a snapshot after every mutation. Nil keeps the
	// store purely in-memory.
	Backend StateBackend
	// StateFile is a convenience for a JSON file backend when Backend is
	// not set.
	StateFile string
	Logger    Logger
}

// Store is the ordered collection cache. All state lives in memory under a
// single mutex, so ordered mutations against one scope are serialized by
// construction; durability is a snapshot written through the StateBackend
// after each mutation.
type Store struct {
	mu       sync.Mutex
	projects map[string]Project
	groups   map[string]Group
	tasks    map[string]Task
	// index holds, per scope, the entity ids ascending by sequence. It is
	// the in-memory equivalent of the (scope, sequence) secondary index
	// the range queries run against.
	index   map[scopeRef][]string
	backend StateBackend
	logger  Logger
}

func NewStore() *Store {
	s, _ := NewStoreWithOptions(StoreOptions{})
	return s
}

// NewStoreWithOptions builds a store and loads the backend's snapshot.
// A backend that cannot be loaded is a fail-fast condition.
func NewStoreWithOptions(opts StoreOptions) (*Store, error) {
	backend := opts.Backend
	if backend == nil && opts.StateFile != "" {
		backend = NewJSONFileStateBackend(opts.StateFile)
	}
	s := &Store{
		projects: map[string]Project{},
		groups:   map[string]Group{},
		tasks:    map[string]Task{},
		index:    map[scopeRef][]string{},
		backend:  backend,
		logger:   opts.Logger,
	}
	if backend != nil {
		snapshot, err := backend.Load()
		if err != nil {
			return nil, fmt.Errorf("load state backend: %w", err)
		}
		if snapshot != nil {
			s.applySnapshotLocked(snapshot)
		}
	}
	return s, nil
}

func (s *Store) Close() error {
	if s == nil || s.backend == nil {
		return nil
	}
	if closer, ok := s.backend.(stateBackendCloser); ok {
		return closer.Close()
	}
	return nil
}

// ListProjects returns all projects ascending by sequence.
func (s *Store) ListProjects() []Project {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := s.index[scopeRef{kind: kindProject}]
	out := make([]Project, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.projects[id])
	}
	return out
}

// ListGroups returns the groups of one project ascending by sequence.
func (s *Store) ListGroups(projectID string) []Group {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := s.index[scopeRef{kind: kindGroup, parent: projectID}]
	out := make([]Group, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.groups[id])
	}
	return out
}

// ListTasks returns the tasks of one group ascending by sequence.
func (s *Store) ListTasks(groupID string) []Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := s.index[scopeRef{kind: kindTask, parent: groupID}]
	out := make([]Task, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.tasks[id])
	}
	return out
}

func (s *Store) GetProject(id string) (Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	project, ok := s.projects[id]
	if !ok {
		return Project{}, ErrNotFound
	}
	return project, nil
}

func (s *Store) GetGroup(id string) (Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	group, ok := s.groups[id]
	if !ok {
		return Group{}, ErrNotFound
	}
	return group, nil
}

func (s *Store) GetTask(id string) (Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[id]
	if !ok {
		return Task{}, ErrNotFound
	}
	return task, nil
}

// UpsertProject creates or moves a project according to the insert-after
// command and re-densifies the project scope.
func (s *Store) UpsertProject(cmd ProjectUpsert) error {
	if cmd.ID == "" {
		return fmt.Errorf("%w: project id is required", ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	project := Project{ID: cmd.ID, Name: cmd.Name}
	if existing, ok := s.projects[cmd.ID]; ok {
		project.Sequence = existing.Sequence
	} else {
		project.Sequence = len(s.index[scopeRef{kind: kindProject}])
	}
	s.projects[cmd.ID] = project
	s.placeLocked(scopeRef{kind: kindProject}, cmd.ID, cmd.After)
	return s.saveLocked()
}

// UpsertGroup creates or moves a group within its project scope. A changed
// projectid reparents the group into the new scope.
func (s *Store) UpsertGroup(cmd GroupUpsert) error {
	if cmd.ID == "" || cmd.ProjectID == "" {
		return fmt.Errorf("%w: group id and projectid are required", ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	group := Group{ID: cmd.ID, Name: cmd.Name, ProjectID: cmd.ProjectID}
	if existing, ok := s.groups[cmd.ID]; ok {
		if existing.ProjectID != cmd.ProjectID {
			delete(s.groups, cmd.ID)
			s.rebuildScopeLocked(scopeRef{kind: kindGroup, parent: existing.ProjectID})
		} else {
			group.Sequence = existing.Sequence
		}
	}
	if _, ok := s.groups[cmd.ID]; !ok {
		group.Sequence = len(s.index[scopeRef{kind: kindGroup, parent: cmd.ProjectID}])
	}
	s.groups[cmd.ID] = group
	s.placeLocked(scopeRef{kind: kindGroup, parent: cmd.ProjectID}, cmd.ID, cmd.After)
	return s.saveLocked()
}

// UpsertTask creates or moves a task within its group scope; a changed
// group id moves the task between groups.
func (s *Store) UpsertTask(cmd TaskUpsert) error {
	if cmd.ID == "" || cmd.GroupID == "" {
		return fmt.Errorf("%w: task id and group are required", ErrInvalidInput)
	}
	status := cmd.Status
	if status == 0 {
		status = StatusTodo
	}
	if !status.Valid() {
		return fmt.Errorf("%w: task status %d", ErrInvalidInput, int(cmd.Status))
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	task := Task{ID: cmd.ID, Text: cmd.Text, GroupID: cmd.GroupID, Status: status}
	if existing, ok := s.tasks[cmd.ID]; ok {
		if existing.GroupID != cmd.GroupID {
			delete(s.tasks, cmd.ID)
			s.rebuildScopeLocked(scopeRef{kind: kindTask, parent: existing.GroupID})
		} else {
			task.Sequence = existing.Sequence
		}
	}
	if _, ok := s.tasks[cmd.ID]; !ok {
		task.Sequence = len(s.index[scopeRef{kind: kindTask, parent: cmd.GroupID}])
	}
	s.tasks[cmd.ID] = task
	s.placeLocked(scopeRef{kind: kindTask, parent: cmd.GroupID}, cmd.ID, cmd.After)
	return s.saveLocked()
}

// DeleteProject removes a project record. Remaining siblings are not
// renumbered; the gap persists until the next upsert touches the scope.
// Deleting an absent id is a no-op so replayed delete events stay
// idempotent.
func (s *Store) DeleteProject(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[id]; !ok {
		return nil
	}
	delete(s.projects, id)
	s.rebuildScopeLocked(scopeRef{kind: kindProject})
	return s.saveLocked()
}

func (s *Store) DeleteGroup(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	group, ok := s.groups[id]
	if !ok {
		return nil
	}
	delete(s.groups, id)
	s.rebuildScopeLocked(scopeRef{kind: kindGroup, parent: group.ProjectID})
	return s.saveLocked()
}

func (s *Store) DeleteTask(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[id]
	if !ok {
		return nil
	}
	delete(s.tasks, id)
	s.rebuildScopeLocked(scopeRef{kind: kindTask, parent: task.GroupID})
	return s.saveLocked()
}

// ReplaceProjects clears the project kind and bulk-inserts the given batch,
// trusting the supplied sequence values.
func (s *Store) ReplaceProjects(projects []Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projects = map[string]Project{}
	for _, project := range projects {
		if project.ID == "" {
			continue
		}
		s.projects[project.ID] = project
	}
	s.rebuildIndexLocked()
	return s.saveLocked()
}

func (s *Store) ReplaceGroups(groups []Group) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groups = map[string]Group{}
	for _, group := range groups {
		if group.ID == "" {
			continue
		}
		s.groups[group.ID] = group
	}
	s.rebuildIndexLocked()
	return s.saveLocked()
}

func (s *Store) ReplaceTasks(tasks []Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = map[string]Task{}
	for _, task := range tasks {
		if task.ID == "" {
			continue
		}
		s.tasks[task.ID] = task
	}
	s.rebuildIndexLocked()
	return s.saveLocked()
}

// ReplaceAll swaps the whole cache for a fetched snapshot. Used after a
// successful full-state fetch, e.g. on reconnect.
func (s *Store) ReplaceAll(snapshot *Snapshot) error {
	if snapshot == nil {
		return fmt.Errorf("%w: nil snapshot", ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applySnapshotLocked(snapshot)
	return s.saveLocked()
}

// Snapshot returns the current dataset, each kind ordered by scope then
// sequence.
func (s *Store) Snapshot() *Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Store) applySnapshotLocked(snapshot *Snapshot) {
	s.projects = map[string]Project{}
	s.groups = map[string]Group{}
	s.tasks = map[string]Task{}
	for _, project := range snapshot.Projects {
		if project.ID != "" {
			s.projects[project.ID] = project
		}
	}
	for _, group := range snapshot.Groups {
		if group.ID != "" {
			s.groups[group.ID] = group
		}
	}
	for _, task := range snapshot.Tasks {
		if task.ID != "" {
			s.tasks[task.ID] = task
		}
	}
	s.rebuildIndexLocked()
}

func (s *Store) snapshotLocked() *Snapshot {
	snapshot := &Snapshot{
		Projects: make([]Project, 0, len(s.projects)),
		Groups:   make([]Group, 0, len(s.groups)),
		Tasks:    make([]Task, 0, len(s.tasks)),
	}
	for _, id := range s.index[scopeRef{kind: kindProject}] {
		snapshot.Projects = append(snapshot.Projects, s.projects[id])
	}
	groupScopes := s.scopesOfKindLocked(kindGroup)
	for _, scope := range groupScopes {
		for _, id := range s.index[scope] {
			snapshot.Groups = append(snapshot.Groups, s.groups[id])
		}
	}
	taskScopes := s.scopesOfKindLocked(kindTask)
	for _, scope := range taskScopes {
		for _, id := range s.index[scope] {
			snapshot.Tasks = append(snapshot.Tasks, s.tasks[id])
		}
	}
	return snapshot
}

func (s *Store) scopesOfKindLocked(kind entityKind) []scopeRef {
	scopes := make([]scopeRef, 0)
	for scope := range s.index {
		if scope.kind == kind {
			scopes = append(scopes, scope)
		}
	}
	sort.Slice(scopes, func(i, j int) bool { return scopes[i].parent < scopes[j].parent })
	return scopes
}

// placeLocked implements the insert-after protocol for one entity: resolve
// the anchor, compute the target sequence, shift the tail of the scope, and
// re-densify. The shift walks siblings one at a time in ascending order so
// no two entities ever hold the same final sequence.
func (s *Store) placeLocked(scope scopeRef, id, after string) {
	if after == id {
		// degenerate self-anchor, keep the current position
		s.rebuildScopeLocked(scope)
		s.normalizeScopeLocked(scope)
		return
	}
	target := 0
	if after != "" {
		if anchorSeq, ok := s.sequenceLocked(scope, after); ok {
			target = anchorSeq + 1
		}
	}
	current, exists := s.sequenceLocked(scope, id)
	if !exists || current != target {
		for _, siblingID := range s.index[scope] {
			if siblingID == id {
				continue
			}
			seq, _ := s.sequenceLocked(scope, siblingID)
			if seq >= target {
				s.setSequenceLocked(scope, siblingID, seq+1)
			}
		}
		s.setSequenceLocked(scope, id, target)
	}
	s.rebuildScopeLocked(scope)
	s.normalizeScopeLocked(scope)
}

// normalizeScopeLocked rewrites the scope's sequences to the dense set
// {0..n-1}, preserving relative order. This is where gaps left behind by
// deletes get repaired.
func (s *Store) normalizeScopeLocked(scope scopeRef) {
	for position, id := range s.index[scope] {
		if seq, _ := s.sequenceLocked(scope, id); seq != position {
			s.setSequenceLocked(scope, id, position)
		}
	}
}

func (s *Store) sequenceLocked(scope scopeRef, id string) (int, bool) {
	switch scope.kind {
	case kindProject:
		if project, ok := s.projects[id]; ok {
			return project.Sequence, true
		}
	case kindGroup:
		if group, ok := s.groups[id]; ok && group.ProjectID == scope.parent {
			return group.Sequence, true
		}
	case kindTask:
		if task, ok := s.tasks[id]; ok && task.GroupID == scope.parent {
			return task.Sequence, true
		}
	}
	return 0, false
}

func (s *Store) setSequenceLocked(scope scopeRef, id string, seq int) {
	switch scope.kind {
	case kindProject:
		if project, ok := s.projects[id]; ok {
			project.Sequence = seq
			s.projects[id] = project
		}
	case kindGroup:
		if group, ok := s.groups[id]; ok {
			group.Sequence = seq
			s.groups[id] = group
		}
	case kindTask:
		if task, ok := s.tasks[id]; ok {
			task.Sequence = seq
			s.tasks[id] = task
		}
	}
}

// rebuildScopeLocked recomputes one scope's ordered id list from the
// records. Ties are broken by id so the order is deterministic even for
// snapshots with damaged sequences.
func (s *Store) rebuildScopeLocked(scope scopeRef) {
	ids := make([]string, 0)
	switch scope.kind {
	case kindProject:
		for id := range s.projects {
			ids = append(ids, id)
		}
	case kindGroup:
		for id, group := range s.groups {
			if group.ProjectID == scope.parent {
				ids = append(ids, id)
			}
		}
	case kindTask:
		for id, task := range s.tasks {
			if task.GroupID == scope.parent {
				ids = append(ids, id)
			}
		}
	}
	if len(ids) == 0 {
		delete(s.index, scope)
		return
	}
	sort.Slice(ids, func(i, j int) bool {
		left, _ := s.sequenceLocked(scope, ids[i])
		right, _ := s.sequenceLocked(scope, ids[j])
		if left == right {
			return ids[i] < ids[j]
		}
		return left < right
	})
	s.index[scope] = ids
}

func (s *Store) rebuildIndexLocked() {
	s.index = map[scopeRef][]string{}
	s.rebuildScopeLocked(scopeRef{kind: kindProject})
	parents := map[scopeRef]struct{}{}
	for _, group := range s.groups {
		parents[scopeRef{kind: kindGroup, parent: group.ProjectID}] = struct{}{}
	}
	for _, task := range s.tasks {
		parents[scopeRef{kind: kindTask, parent: task.GroupID}] = struct{}{}
	}
	for scope := range parents {
		s.rebuildScopeLocked(scope)
	}
}

func (s *Store) saveLocked() error {
	if s.backend == nil {
		return nil
	}
	if err := s.backend.Save(s.snapshotLocked()); err != nil {
		s.logf("state backend save failed: %v", err)
		return fmt.Errorf("save state backend: %w", err)
	}
	return nil
}

func (s *Store) logf(format string, args ...any) {
	if s.logger == nil {
		return
	}
	s.logger.Printf(format, args...)
}
