package services

import (
	"sort"
	"strings"

	"github.com/prudhvinik1/tablesync/internal/models"
	"github.com/prudhvinik1/tablesync/internal/syncerr"
)

// Planner orders tables so every parent is applied before every child, and
// groups tables that must share a transaction. Edges are static manifest
// configuration.
type Planner struct {
	edges []models.DependencyEdge
}

func NewPlanner(edges []models.DependencyEdge) *Planner {
	return &Planner{edges: edges}
}

// Order returns a total order over tables with parents first. Fails with
// CyclicDependency if the edges restricted to tables contain a cycle; a
// cycle is never broken silently. Ties break on table name, so the order is
// deterministic.
func (p *Planner) Order(tables []string) ([]string, error) {
	inSet := make(map[string]bool, len(tables))
	for _, t := range tables {
		inSet[t] = true
	}

	indegree := make(map[string]int, len(tables))
	children := make(map[string][]string, len(tables))
	for _, t := range tables {
		indegree[t] = 0
	}
	for _, e := range p.edges {
		if !inSet[e.Parent] || !inSet[e.Child] {
			continue
		}
		children[e.Parent] = append(children[e.Parent], e.Child)
		indegree[e.Child]++
	}

	var ready []string
	for _, t := range tables {
		if indegree[t] == 0 {
			ready = append(ready, t)
		}
	}
	sort.Strings(ready)

	order := make([]string, 0, len(tables))
	for len(ready) > 0 {
		next := ready[0]
		ready = ready[1:]
		order = append(order, next)

		for _, child := range children[next] {
			indegree[child]--
			if indegree[child] == 0 {
				ready = append(ready, child)
			}
		}
		sort.Strings(ready)
	}

	if len(order) != len(tables) {
		var stuck []string
		for t, deg := range indegree {
			if deg > 0 {
				stuck = append(stuck, t)
			}
		}
		sort.Strings(stuck)
		return nil, syncerr.CyclicDependency.New("tables %s form a dependency cycle", strings.Join(stuck, ", "))
	}
	return order, nil
}

// Groups partitions tables into dependency groups: connected components of
// the edge graph, each returned in apply order. Components are sorted by
// their first member. Order must have been checked before calling.
func (p *Planner) Groups(tables []string) ([][]string, error) {
	order, err := p.Order(tables)
	if err != nil {
		return nil, err
	}
	rank := make(map[string]int, len(order))
	for i, t := range order {
		rank[t] = i
	}

	adjacent := make(map[string][]string, len(tables))
	for _, e := range p.edges {
		if _, ok := rank[e.Parent]; !ok {
			continue
		}
		if _, ok := rank[e.Child]; !ok {
			continue
		}
		adjacent[e.Parent] = append(adjacent[e.Parent], e.Child)
		adjacent[e.Child] = append(adjacent[e.Child], e.Parent)
	}

	seen := make(map[string]bool, len(tables))
	var groups [][]string
	for _, start := range order {
		if seen[start] {
			continue
		}
		var member []string
		queue := []string{start}
		seen[start] = true
		for len(queue) > 0 {
			t := queue[0]
			queue = queue[1:]
			member = append(member, t)
			for _, other := range adjacent[t] {
				if !seen[other] {
					seen[other] = true
					queue = append(queue, other)
				}
			}
		}
		sort.Slice(member, func(i, j int) bool { return rank[member[i]] < rank[member[j]] })
		groups = append(groups, member)
	}
	return groups, nil
}

// GroupOf returns the dependency group containing table.
func (p *Planner) GroupOf(tables []string, table string) ([]string, error) {
	groups, err := p.Groups(tables)
	if err != nil {
		return nil, err
	}
	for _, g := range groups {
		for _, t := range g {
			if t == table {
				return g, nil
			}
		}
	}
	return []string{table}, nil
}
