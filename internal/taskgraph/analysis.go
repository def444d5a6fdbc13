// Copyright (c) 2025 Swarmline Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package taskgraph

import "sort"

// Conflict is a pair of tasks whose modifies sets overlap.
type Conflict struct {
	TaskA     string
	TaskB     string
	Overlap   []string
	SameGroup bool // Both tasks assert the same non-empty parallel group
}

// Phase summarizes one parallel group of the graph.
type Phase struct {
	Name          string
	Tasks         int
	Parallel      bool // No overlapping modifies within the group
	ContractCount int
}

// Analysis holds static parallelization metrics for a task graph.
type Analysis struct {
	TotalTasks           int
	ContractTasks        int
	ImplementationTasks  int
	MaxParallelWidth     int
	CriticalPathLength   int
	ParallelizationRatio float64
	Phases               []Phase
	Conflicts            []Conflict
}

// Analyze computes parallelization metrics and resource conflicts for a
// task graph prior to execution.
func Analyze(tasks []*Task) Analysis {
	if len(tasks) == 0 {
		return Analysis{ParallelizationRatio: 1.0}
	}

	contracts := 0
	for _, t := range tasks {
		if t.IsContract {
			contracts++
		}
	}

	taskMap := make(map[string]*Task, len(tasks))
	for _, t := range tasks {
		taskMap[t.ID] = t
	}

	depths := dependencyDepths(tasks, taskMap)
	critical := 0
	widths := make(map[int]int)
	for _, d := range depths {
		if d > critical {
			critical = d
		}
		widths[d]++
	}
	maxWidth := 0
	for _, w := range widths {
		if w > maxWidth {
			maxWidth = w
		}
	}

	ratio := 1.0
	if critical > 0 {
		ratio = float64(len(tasks)) / float64(critical)
	}

	return Analysis{
		TotalTasks:           len(tasks),
		ContractTasks:        contracts,
		ImplementationTasks:  len(tasks) - contracts,
		MaxParallelWidth:     maxWidth,
		CriticalPathLength:   critical,
		ParallelizationRatio: ratio,
		Phases:               computePhases(tasks),
		Conflicts:            FindConflicts(tasks),
	}
}

// dependencyDepths returns the 1-based depth of each task in the
// dependency graph (tasks with no dependencies are depth 1).
func dependencyDepths(tasks []*Task, taskMap map[string]*Task) map[string]int {
	depths := make(map[string]int, len(tasks))

	var depth func(id string) int
	depth = func(id string) int {
		if d, ok := depths[id]; ok {
			return d
		}
		t := taskMap[id]
		if t == nil {
			return 0
		}
		max := 0
		for _, dep := range t.DependsOn {
			if d := depth(dep); d > max {
				max = d
			}
		}
		depths[id] = max + 1
		return depths[id]
	}

	for _, t := range tasks {
		depth(t.ID)
	}
	return depths
}

// computePhases groups tasks by parallel group and checks whether each
// group is actually safe to run concurrently.
func computePhases(tasks []*Task) []Phase {
	groups := make(map[string][]*Task)
	var order []string
	for _, t := range tasks {
		name := t.ParallelGroup
		if name == "" {
			name = "ungrouped"
		}
		if _, ok := groups[name]; !ok {
			order = append(order, name)
		}
		groups[name] = append(groups[name], t)
	}
	sort.Strings(order)

	phases := make([]Phase, 0, len(order))
	for _, name := range order {
		members := groups[name]
		seen := make(map[string]bool)
		parallel := true
		contracts := 0
		for _, t := range members {
			if t.IsContract {
				contracts++
			}
			for _, path := range t.Modifies {
				if seen[path] {
					parallel = false
				}
				seen[path] = true
			}
		}
		phases = append(phases, Phase{
			Name:          name,
			Tasks:         len(members),
			Parallel:      parallel,
			ContractCount: contracts,
		})
	}
	return phases
}

// FindConflicts returns every pair of tasks with overlapping modifies
// sets. Pairs asserting the same parallel group are the dangerous ones:
// the group label claims concurrency the modifies sets contradict.
func FindConflicts(tasks []*Task) []Conflict {
	var conflicts []Conflict
	for i, a := range tasks {
		for _, b := range tasks[i+1:] {
			overlap := a.ModifiesOverlap(b)
			if len(overlap) == 0 {
				continue
			}
			conflicts = append(conflicts, Conflict{
				TaskA:     a.ID,
				TaskB:     b.ID,
				Overlap:   overlap,
				SameGroup: a.ParallelGroup != "" && a.ParallelGroup == b.ParallelGroup,
			})
		}
	}
	return conflicts
}
