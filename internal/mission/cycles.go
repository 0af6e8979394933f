package mission

import (
	"fmt"
	"sort"
	"strings"

	"github.com/msageha/railscript/internal/model"
)

// ActivationEdges maps each condition id to the ids its outcome arms
// (activate, restore and increment lists). Unknown ids are dropped.
func ActivationEdges(conds []model.Condition) map[int][]int {
	known := make(map[int]bool, len(conds))
	for _, c := range conds {
		known[c.ID] = true
	}
	edges := make(map[int][]int)
	for _, c := range conds {
		seen := make(map[int]bool)
		for _, list := range [][]int{c.Outcome.ActivateIDs, c.Outcome.RestoreIDs, c.Outcome.IncrementIDs} {
			for _, id := range list {
				if known[id] && !seen[id] {
					seen[id] = true
					edges[c.ID] = append(edges[c.ID], id)
				}
			}
		}
	}
	return edges
}

// FindActivationCycle uses Kahn's algorithm over the activation edges and,
// if some conditions can re-arm each other, returns one such cycle.
func FindActivationCycle(ids []int, edges map[int][]int) []int {
	if len(ids) == 0 {
		return nil
	}

	inDegree := make(map[int]int, len(ids))
	for _, id := range ids {
		inDegree[id] = 0
	}
	for _, targets := range edges {
		for _, t := range targets {
			inDegree[t]++
		}
	}

	var queue []int
	for _, id := range ids {
		if inDegree[id] == 0 {
			queue = append(queue, id)
		}
	}

	visited := 0
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		visited++
		for _, t := range edges[node] {
			inDegree[t]--
			if inDegree[t] == 0 {
				queue = append(queue, t)
			}
		}
	}

	if visited == len(ids) {
		return nil
	}
	return findCyclePath(ids, edges, inDegree)
}

func findCyclePath(ids []int, edges map[int][]int, inDegree map[int]int) []int {
	const (
		white = 0
		gray  = 1
		black = 2
	)

	color := make(map[int]int)
	parent := make(map[int]int)
	var cycle []int

	var dfs func(node int) bool
	dfs = func(node int) bool {
		color[node] = gray
		for _, next := range edges[node] {
			if color[next] == gray {
				cycle = []int{next}
				for cur := node; cur != next; cur = parent[cur] {
					cycle = append(cycle, cur)
				}
				cycle = append(cycle, next)
				for i, j := 0, len(cycle)-1; i < j; i, j = i+1, j-1 {
					cycle[i], cycle[j] = cycle[j], cycle[i]
				}
				return true
			}
			if color[next] == white {
				parent[next] = node
				if dfs(next) {
					return true
				}
			}
		}
		color[node] = black
		return false
	}

	sorted := append([]int(nil), ids...)
	sort.Ints(sorted)
	for _, id := range sorted {
		if inDegree[id] > 0 && color[id] == white {
			if dfs(id) {
				return cycle
			}
		}
	}
	return nil
}

func formatCycle(cycle []int) string {
	parts := make([]string, len(cycle))
	for i, id := range cycle {
		parts[i] = fmt.Sprintf("%d", id)
	}
	return strings.Join(parts, " -> ")
}
