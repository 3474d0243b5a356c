// Package mock provides in-memory repositories for tests and dry runs.
// Rows are copied on the way in and out so callers cannot mutate stored state.
package mock

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/YoshitsuguKoike/deeflow/internal/domain/model"
	"github.com/YoshitsuguKoike/deeflow/internal/domain/model/decision"
	"github.com/YoshitsuguKoike/deeflow/internal/domain/model/plan"
	"github.com/YoshitsuguKoike/deeflow/internal/domain/model/result"
	"github.com/YoshitsuguKoike/deeflow/internal/domain/model/task"
	"github.com/YoshitsuguKoike/deeflow/internal/domain/repository"
)

func notFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, repository.ErrNotFound)
}

// MockTaskRepository is a mock implementation of TaskRepository
type MockTaskRepository struct {
	mu    sync.RWMutex
	tasks map[string]task.Task

	// UpdateStatusErr, when set, is returned by UpdateStatus for the given status
	UpdateStatusErr func(status model.TaskStatus) error
}

// NewMockTaskRepository creates a new mock task repository
func NewMockTaskRepository() *MockTaskRepository {
	return &MockTaskRepository{
		tasks: make(map[string]task.Task),
	}
}

func (m *MockTaskRepository) Find(ctx context.Context, id string) (*task.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, exists := m.tasks[id]
	if !exists {
		return nil, notFound("task", id)
	}
	return &t, nil
}

func (m *MockTaskRepository) Save(ctx context.Context, t *task.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.tasks[t.ID] = *t
	return nil
}

func (m *MockTaskRepository) UpdateStatus(ctx context.Context, id string, status model.TaskStatus) error {
	if m.UpdateStatusErr != nil {
		if err := m.UpdateStatusErr(status); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	t, exists := m.tasks[id]
	if !exists {
		return notFound("task", id)
	}
	t.Status = status
	m.tasks[id] = t
	return nil
}

func (m *MockTaskRepository) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.tasks, id)
	return nil
}

func (m *MockTaskRepository) List(ctx context.Context, filter repository.TaskFilter) ([]*task.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*task.Task
	for _, t := range m.tasks {
		if matchesFilter(t, filter) {
			t := t
			out = append(out, &t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Metadata.CreatedAt.Before(out[j].Metadata.CreatedAt) })
	return paginate(out, filter.Offset, filter.Limit), nil
}

// Snapshot implements transaction.Snapshotter
func (m *MockTaskRepository) Snapshot() func() {
	m.mu.RLock()
	saved := make(map[string]task.Task, len(m.tasks))
	for k, v := range m.tasks {
		saved[k] = v
	}
	m.mu.RUnlock()
	return func() {
		m.mu.Lock()
		m.tasks = saved
		m.mu.Unlock()
	}
}

func matchesFilter(t task.Task, filter repository.TaskFilter) bool {
	if len(filter.Types) > 0 {
		found := false
		for _, ft := range filter.Types {
			if t.Type == ft {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if len(filter.Statuses) > 0 {
		found := false
		for _, fs := range filter.Statuses {
			if t.Status == fs {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	return filter.RepositoryID == "" || t.Context.RepositoryID == filter.RepositoryID
}

func paginate[T any](items []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

// MockPlanRepository is a mock implementation of PlanRepository
type MockPlanRepository struct {
	mu    sync.RWMutex
	plans map[string]plan.Plan
	order []string

	// SaveErr, when set, is consulted before every Save
	SaveErr func(p *plan.Plan) error
}

// NewMockPlanRepository creates a new mock plan repository
func NewMockPlanRepository() *MockPlanRepository {
	return &MockPlanRepository{
		plans: make(map[string]plan.Plan),
	}
}

func (m *MockPlanRepository) Find(ctx context.Context, id string) (*plan.Plan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, exists := m.plans[id]
	if !exists {
		return nil, notFound("plan", id)
	}
	return &p, nil
}

func (m *MockPlanRepository) Save(ctx context.Context, p *plan.Plan) error {
	if m.SaveErr != nil {
		if err := m.SaveErr(p); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.plans[p.ID]; !exists {
		m.order = append(m.order, p.ID)
	}
	m.plans[p.ID] = *p
	return nil
}

func (m *MockPlanRepository) UpdateStatus(ctx context.Context, id string, status plan.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, exists := m.plans[id]
	if !exists {
		return notFound("plan", id)
	}
	p.Status = status
	m.plans[id] = p
	return nil
}

func (m *MockPlanRepository) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.plans, id)
	return nil
}

func (m *MockPlanRepository) ListByTask(ctx context.Context, taskID string) ([]*plan.Plan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*plan.Plan
	for _, id := range m.order {
		p, exists := m.plans[id]
		if exists && p.TaskID == taskID {
			out = append(out, &p)
		}
	}
	return out, nil
}

// Snapshot implements transaction.Snapshotter
func (m *MockPlanRepository) Snapshot() func() {
	m.mu.RLock()
	saved := make(map[string]plan.Plan, len(m.plans))
	for k, v := range m.plans {
		saved[k] = v
	}
	order := append([]string(nil), m.order...)
	m.mu.RUnlock()
	return func() {
		m.mu.Lock()
		m.plans = saved
		m.order = order
		m.mu.Unlock()
	}
}

// MockDecisionRepository is a mock implementation of DecisionRepository
type MockDecisionRepository struct {
	mu        sync.RWMutex
	decisions []decision.Decision
}

// NewMockDecisionRepository creates a new mock decision repository
func NewMockDecisionRepository() *MockDecisionRepository {
	return &MockDecisionRepository{}
}

func (m *MockDecisionRepository) Create(ctx context.Context, d *decision.Decision) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.decisions {
		if existing.ID == d.ID {
			return fmt.Errorf("decision %s already exists", d.ID)
		}
	}
	m.decisions = append(m.decisions, *d)
	return nil
}

func (m *MockDecisionRepository) Find(ctx context.Context, id string) (*decision.Decision, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, d := range m.decisions {
		if d.ID == id {
			return &d, nil
		}
	}
	return nil, notFound("decision", id)
}

func (m *MockDecisionRepository) ListByTask(ctx context.Context, taskID string) ([]*decision.Decision, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*decision.Decision
	for _, d := range m.decisions {
		if d.TaskID == taskID {
			d := d
			out = append(out, &d)
		}
	}
	return out, nil
}

func (m *MockDecisionRepository) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, d := range m.decisions {
		if d.ID == id {
			m.decisions = append(m.decisions[:i], m.decisions[i+1:]...)
			return nil
		}
	}
	return nil
}

// MockResultRepository is a mock implementation of ResultRepository
type MockResultRepository struct {
	mu      sync.RWMutex
	results []result.Result
}

// NewMockResultRepository creates a new mock result repository
func NewMockResultRepository() *MockResultRepository {
	return &MockResultRepository{}
}

func (m *MockResultRepository) Save(ctx context.Context, r *result.Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, existing := range m.results {
		if existing.ID == r.ID {
			m.results[i] = *r
			return nil
		}
	}
	m.results = append(m.results, *r)
	return nil
}

func (m *MockResultRepository) Find(ctx context.Context, id string) (*result.Result, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, r := range m.results {
		if r.ID == id {
			return &r, nil
		}
	}
	return nil, notFound("result", id)
}

func (m *MockResultRepository) ListByTask(ctx context.Context, taskID string) ([]*result.Result, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*result.Result
	for _, r := range m.results {
		if r.TaskID == taskID {
			r := r
			out = append(out, &r)
		}
	}
	return out, nil
}

func (m *MockResultRepository) FindLatestByTask(ctx context.Context, taskID string) (*result.Result, error) {
	results, _ := m.ListByTask(ctx, taskID)
	if len(results) == 0 {
		return nil, notFound("result for task", taskID)
	}
	return results[len(results)-1], nil
}

func (m *MockResultRepository) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, r := range m.results {
		if r.ID == id {
			m.results = append(m.results[:i], m.results[i+1:]...)
			return nil
		}
	}
	return nil
}

// MockApprovalPatternRepository is a mock implementation of ApprovalPatternRepository
type MockApprovalPatternRepository struct {
	mu       sync.RWMutex
	patterns []repository.ApprovalPattern
}

// NewMockApprovalPatternRepository creates a new mock pattern repository
func NewMockApprovalPatternRepository() *MockApprovalPatternRepository {
	return &MockApprovalPatternRepository{}
}

func (m *MockApprovalPatternRepository) Save(ctx context.Context, p *repository.ApprovalPattern) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.patterns = append(m.patterns, *p)
	return nil
}

func (m *MockApprovalPatternRepository) List(ctx context.Context, filter repository.ApprovalPatternFilter) ([]*repository.ApprovalPattern, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*repository.ApprovalPattern
	for _, p := range m.patterns {
		if filter.Category != "" && p.Category != filter.Category {
			continue
		}
		if filter.Approach != "" && p.Approach != filter.Approach {
			continue
		}
		if filter.ProjectID != "" && p.ProjectID != filter.ProjectID {
			continue
		}
		p := p
		out = append(out, &p)
	}
	return paginate(out, 0, filter.Limit), nil
}
