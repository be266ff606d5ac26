package workflows

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Kocoro-lab/converge/internal/state"
)

func TestBuildInitialTasks(t *testing.T) {
	tests := []struct {
		name    string
		queries []string
		offset  int
		want    []Task
	}{
		{
			name:    "ids follow list order",
			queries: []string{"a", "b", "c"},
			want: []Task{
				{Kind: TaskWeb, Query: "a", ID: 0, Order: 0},
				{Kind: TaskWeb, Query: "b", ID: 1, Order: 1},
				{Kind: TaskWeb, Query: "c", ID: 2, Order: 2},
			},
		},
		{
			name:    "blanks dropped before ids",
			queries: []string{"", "a", "  ", "b"},
			offset:  5,
			want: []Task{
				{Kind: TaskWeb, Query: "a", ID: 5, Order: 0},
				{Kind: TaskWeb, Query: "b", ID: 6, Order: 1},
			},
		},
		{
			name: "empty plan",
			want: []Task{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, BuildInitialTasks(tt.queries, tt.offset))
		})
	}
}

func TestBuildFollowUpTasks(t *testing.T) {
	followUps := []state.FollowUp{
		{Kind: state.FollowUpWeb, Query: "solar 2025"},
		{Kind: state.FollowUpAcademic, Query: "perovskite"},
		{Kind: state.FollowUpWeb, Query: ""},
		{Kind: state.FollowUpWeb, Query: "wind 2025"},
	}

	tasks := BuildFollowUpTasks(followUps, 3)
	assert.Equal(t, []Task{
		{Kind: TaskWeb, Query: "solar 2025", ID: 3, Order: 0},
		{Kind: TaskAcademic, Query: "perovskite", Order: 1},
		{Kind: TaskWeb, Query: "wind 2025", ID: 4, Order: 2},
	}, tasks)
	assert.Equal(t, 2, WebTaskCount(tasks))
}

func TestIDsNeverCollideAcrossRounds(t *testing.T) {
	s := &state.Session{}
	seen := map[int]bool{}

	initial := BuildInitialTasks([]string{"a", "b"}, 0)
	for _, task := range initial {
		seen[task.ID] = true
		s.MergeWebContribution(task.Query, "text", nil)
	}
	s.ApplyReflection(state.Reflection{FollowUps: []state.FollowUp{
		{Kind: state.FollowUpWeb, Query: "c"},
		{Kind: state.FollowUpAcademic, Query: "d"},
		{Kind: state.FollowUpWeb, Query: "e"},
	}})

	for _, task := range BuildFollowUpTasks(s.UsableFollowUps(), s.RanQueryCount) {
		if task.Kind != TaskWeb {
			continue
		}
		assert.False(t, seen[task.ID], "id %d reused", task.ID)
		seen[task.ID] = true
	}
	assert.Len(t, seen, 4)
}
