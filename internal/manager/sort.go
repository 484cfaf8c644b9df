// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Plugify Contributors

package manager

// markCyclicPlugins detects cycles in the plugin dependency graph and marks
// every participating plugin as failed. Optional and unknown dependencies do
// not form edges.
func (m *Manager) markCyclicPlugins() {
	const (
		white = iota // unvisited
		gray         // on the current DFS stack
		black        // finished
	)
	color := make(map[*Plugin]int, len(m.plugins))
	stack := make([]*Plugin, 0, len(m.plugins))
	cyclic := map[*Plugin]struct{}{}

	var visit func(p *Plugin)
	visit = func(p *Plugin) {
		color[p] = gray
		stack = append(stack, p)
		for _, dep := range m.dependenciesOf(p) {
			switch color[dep] {
			case white:
				visit(dep)
			case gray:
				// Back edge: everything from dep up the stack is cyclic.
				for i := len(stack) - 1; i >= 0; i-- {
					cyclic[stack[i]] = struct{}{}
					if stack[i] == dep {
						break
					}
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[p] = black
	}

	for _, plugin := range m.plugins {
		if color[plugin] == white {
			visit(plugin)
		}
	}

	for plugin := range cyclic {
		plugin.setError("cyclic dependency")
		m.log.Error("plugin participates in a dependency cycle", "plugin", plugin.name)
		observeLifecycle("plugin_cyclic")
	}
}

// sortPluginsByDependencies returns the plugins in topological order:
// dependencies before dependents. The sort is stable; independent plugins
// keep their discovery order.
func (m *Manager) sortPluginsByDependencies() []*Plugin {
	visited := make(map[*Plugin]bool, len(m.plugins))
	ordered := make([]*Plugin, 0, len(m.plugins))

	var visit func(p *Plugin)
	visit = func(p *Plugin) {
		if visited[p] {
			return
		}
		visited[p] = true
		for _, dep := range m.dependenciesOf(p) {
			visit(dep)
		}
		ordered = append(ordered, p)
	}

	for _, plugin := range m.plugins {
		visit(plugin)
	}
	return ordered
}

// dependenciesOf resolves a plugin's required dependency edges to runtime
// plugins. Cyclic-marked plugins keep their edges so the order stays
// deterministic; missing names simply produce no edge.
func (m *Manager) dependenciesOf(p *Plugin) []*Plugin {
	var deps []*Plugin
	for _, dep := range p.desc.Dependencies {
		if dep.Optional {
			continue
		}
		if other := m.FindPlugin(dep.Name); other != nil && other != p {
			deps = append(deps, other)
		}
	}
	return deps
}
