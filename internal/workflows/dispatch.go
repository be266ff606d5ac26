package workflows

import (
	"strings"

	"github.com/Kocoro-lab/converge/internal/state"
)

// TaskKind names the worker a dispatched task goes to
type TaskKind string

const (
	TaskWeb       TaskKind = "web"
	TaskAcademic  TaskKind = "academic"
	TaskDocuments TaskKind = "documents"
)

// Task is one unit of work in a round. ID scopes the short codes minted by a
// web task and is only meaningful for TaskWeb. Order is the merge position
// at the join.
type Task struct {
	Kind  TaskKind `json:"kind"`
	Query string   `json:"query,omitempty"`
	ID    int      `json:"id"`
	Order int      `json:"order"`
}

// BuildInitialTasks turns the planned queries into web tasks with ids
// offset, offset+1, ... Blank queries are dropped before ids are assigned.
func BuildInitialTasks(queries []string, offset int) []Task {
	tasks := make([]Task, 0, len(queries))
	next := offset
	for _, q := range queries {
		q = strings.TrimSpace(q)
		if q == "" {
			continue
		}
		tasks = append(tasks, Task{Kind: TaskWeb, Query: q, ID: next, Order: len(tasks)})
		next++
	}
	return tasks
}

// BuildFollowUpTasks turns reflection follow-ups into tasks. Academic
// follow-ups go to the academic worker and carry no id; web follow-ups get
// ids offset, offset+1, ... in list order. Blank queries are dropped.
func BuildFollowUpTasks(followUps []state.FollowUp, offset int) []Task {
	tasks := make([]Task, 0, len(followUps))
	next := offset
	for _, f := range followUps {
		q := strings.TrimSpace(f.Query)
		if q == "" {
			continue
		}
		if f.Kind == state.FollowUpAcademic {
			tasks = append(tasks, Task{Kind: TaskAcademic, Query: q, Order: len(tasks)})
			continue
		}
		tasks = append(tasks, Task{Kind: TaskWeb, Query: q, ID: next, Order: len(tasks)})
		next++
	}
	return tasks
}

// WebTaskCount returns the number of web tasks in tasks
func WebTaskCount(tasks []Task) int {
	n := 0
	for _, t := range tasks {
		if t.Kind == TaskWeb {
			n++
		}
	}
	return n
}
