// Package staticroster serves a fixed roster, taken from the configuration or built by tests.
package staticroster

import (
	"context"
	"sync"

	"github.com/trezcool/masomo-billing/core/roster"
)

type Provider struct {
	mu       sync.RWMutex
	order    []string
	students map[string]roster.Student
}

var _ roster.Provider = (*Provider)(nil)

func New(students ...roster.Student) *Provider {
	p := &Provider{students: make(map[string]roster.Student, len(students))}
	for _, s := range students {
		p.Add(s)
	}
	return p
}

// FromIDs builds a roster of students known only by id.
func FromIDs(ids ...string) *Provider {
	students := make([]roster.Student, 0, len(ids))
	for _, id := range ids {
		students = append(students, roster.Student{ID: id})
	}
	return New(students...)
}

// Add enrolls s, replacing any student with the same id.
func (p *Provider) Add(s roster.Student) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.students[s.ID]; !ok {
		p.order = append(p.order, s.ID)
	}
	p.students[s.ID] = s
}

func (p *Provider) ActiveStudents(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, roster.Unavailable(err)
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	ids := make([]string, len(p.order))
	copy(ids, p.order)
	return ids, nil
}

func (p *Provider) Student(ctx context.Context, id string) (roster.Student, error) {
	if err := ctx.Err(); err != nil {
		return roster.Student{}, roster.Unavailable(err)
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if s, ok := p.students[id]; ok {
		return s, nil
	}
	return roster.Student{}, roster.ErrStudentNotFound
}
