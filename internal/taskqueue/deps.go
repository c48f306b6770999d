package taskqueue

import "sort"

// isReady returns true if the task is pending and every dependency is a
// completed backlog task. Unknown dependencies block the task.
func isReady(task *Task, byID map[string]*Task) bool {
	if task.Status != TaskPending {
		return false
	}
	for _, depID := range task.DependsOn {
		dep, ok := byID[depID]
		if !ok || dep.Status != TaskCompleted {
			return false
		}
	}
	return true
}

// buildPriorityOrder orders tasks by dependency level (topological), then
// by priority, creation time and id within a level. Tasks caught in a
// dependency cycle are appended last so they still show up in listings.
func buildPriorityOrder(tasks map[string]*Task) []string {
	if len(tasks) == 0 {
		return nil
	}

	inDegree := make(map[string]int, len(tasks))
	dependents := make(map[string][]string, len(tasks))
	for id := range tasks {
		inDegree[id] = 0
	}
	for id, task := range tasks {
		for _, depID := range task.DependsOn {
			if _, ok := tasks[depID]; ok {
				inDegree[id]++
				dependents[depID] = append(dependents[depID], id)
			}
		}
	}

	var level []string
	for id, deg := range inDegree {
		if deg == 0 {
			level = append(level, id)
		}
	}

	order := make([]string, 0, len(tasks))
	placed := make(map[string]bool, len(tasks))
	for len(level) > 0 {
		sortByPriority(level, tasks)
		order = append(order, level...)
		for _, id := range level {
			placed[id] = true
		}

		var next []string
		for _, id := range level {
			for _, depID := range dependents[id] {
				inDegree[depID]--
				if inDegree[depID] == 0 {
					next = append(next, depID)
				}
			}
		}
		level = next
	}

	if len(order) < len(tasks) {
		var cyclic []string
		for id := range tasks {
			if !placed[id] {
				cyclic = append(cyclic, id)
			}
		}
		sortByPriority(cyclic, tasks)
		order = append(order, cyclic...)
	}
	return order
}

func sortByPriority(ids []string, tasks map[string]*Task) {
	sort.Slice(ids, func(i, j int) bool {
		a, b := tasks[ids[i]], tasks[ids[j]]
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}
