package taskqueue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func mkTasks(tasks ...*Task) map[string]*Task {
	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	byID := make(map[string]*Task, len(tasks))
	for i, t := range tasks {
		if t.Status == "" {
			t.Status = TaskPending
		}
		if t.CreatedAt.IsZero() {
			t.CreatedAt = base.Add(time.Duration(i) * time.Second)
		}
		byID[t.ID] = t
	}
	return byID
}

func TestIsReady(t *testing.T) {
	byID := mkTasks(
		&Task{ID: "a", Status: TaskCompleted},
		&Task{ID: "b"},
		&Task{ID: "c", DependsOn: []string{"a"}},
		&Task{ID: "d", DependsOn: []string{"a", "b"}},
		&Task{ID: "e", DependsOn: []string{"missing"}},
	)

	assert.False(t, isReady(byID["a"], byID), "completed task is not ready")
	assert.True(t, isReady(byID["b"], byID))
	assert.True(t, isReady(byID["c"], byID))
	assert.False(t, isReady(byID["d"], byID), "b is still pending")
	assert.False(t, isReady(byID["e"], byID), "unknown dependency blocks")
}

func TestBuildPriorityOrder(t *testing.T) {
	tests := []struct {
		name  string
		tasks map[string]*Task
		want  []string
	}{
		{
			name:  "empty",
			tasks: nil,
			want:  nil,
		},
		{
			name: "priority within a level",
			tasks: mkTasks(
				&Task{ID: "low", Priority: 5},
				&Task{ID: "high", Priority: 0},
				&Task{ID: "mid", Priority: 2},
			),
			want: []string{"high", "mid", "low"},
		},
		{
			name: "dependencies before priority",
			tasks: mkTasks(
				&Task{ID: "setup", Priority: 9},
				&Task{ID: "build", Priority: 0, DependsOn: []string{"setup"}},
				&Task{ID: "docs", Priority: 1},
			),
			want: []string{"docs", "setup", "build"},
		},
		{
			name: "creation order breaks ties",
			tasks: mkTasks(
				&Task{ID: "z"},
				&Task{ID: "y"},
			),
			want: []string{"z", "y"},
		},
		{
			name: "cycle appended last",
			tasks: mkTasks(
				&Task{ID: "p", DependsOn: []string{"q"}},
				&Task{ID: "q", DependsOn: []string{"p"}},
				&Task{ID: "free"},
			),
			want: []string{"free", "p", "q"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, buildPriorityOrder(tt.tasks))
		})
	}
}
