package suppression

import (
	"context"
	"sort"
	"strings"
)

// pathSearch holds the state of one shortest path search. It is local to a
// single ShortestPaths call.
type pathSearch struct {
	e       *Engine
	targets map[string]struct{}
	best    map[string]int
	found   map[string][][]string
	keys    map[string]map[string]struct{}
	dist    map[string]int
	onPath  map[string]struct{}
	path    []string
}

// ShortestPaths returns every shortest path found from device to each of the
// gateways, each as the ordered entity ids from device to the gateway.
// Gateways that cannot be reached contribute nothing.
func (e *Engine) ShortestPaths(ctx context.Context, device string, gateways []string) ([][]string, error) {
	result := make(map[string][][]string)
	targets := make(map[string]struct{})
	for _, g := range sortedUnique(gateways) {
		if g == device {
			result[g] = [][]string{{device}}
			continue
		}
		if cached, ok := e.pathCache.Get(pathKey{node: device, gateway: g}); ok {
			result[g] = cached
			continue
		}
		targets[g] = struct{}{}
	}

	if len(targets) > 0 {
		s := &pathSearch{
			e:       e,
			targets: targets,
			best:    make(map[string]int),
			found:   make(map[string][][]string),
			keys:    make(map[string]map[string]struct{}),
			dist:    map[string]int{device: 0},
			onPath:  make(map[string]struct{}),
		}
		if err := s.run(ctx, device); err != nil {
			return nil, err
		}
		s.remember(device)
		for g := range targets {
			result[g] = s.found[g]
		}
	}

	gws := make([]string, 0, len(result))
	for g := range result {
		gws = append(gws, g)
	}
	sort.Strings(gws)
	var out [][]string
	for _, g := range gws {
		for _, p := range result[g] {
			out = append(out, append([]string(nil), p...))
			e.metrics.RecordPathLength(len(p) - 1)
		}
	}
	return out, nil
}

func (s *pathSearch) run(ctx context.Context, device string) error {
	if !s.enter(device) {
		return nil
	}
	first, err := s.e.Neighbors(ctx, device)
	if err != nil {
		return err
	}
	stack := []*neighborIter{{node: device, neighbors: first}}

	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		top := stack[len(stack)-1]
		n, ok := top.advance()
		if !ok {
			stack = stack[:len(stack)-1]
			s.leave()
			continue
		}
		if _, cycle := s.onPath[n]; cycle {
			continue
		}
		depth := len(s.path)
		if d, seen := s.dist[n]; seen && depth > d {
			continue
		}
		s.dist[n] = depth
		if !s.enter(n) {
			s.leave()
			continue
		}
		next, err := s.e.Neighbors(ctx, n)
		if err != nil {
			return err
		}
		stack = append(stack, &neighborIter{node: n, neighbors: next})
	}
	return nil
}

// enter pushes n onto the current path, records any path it completes
// directly or through a cached suffix, and reports whether n is worth
// expanding. A target reached through a cached suffix at n is settled for
// the subtree below n: no path through n can be shorter than the spliced one.
func (s *pathSearch) enter(n string) bool {
	s.path = append(s.path, n)
	s.onPath[n] = struct{}{}
	depth := len(s.path) - 1

	settled := make(map[string]struct{})
	if _, ok := s.targets[n]; ok {
		s.record(n, append([]string(nil), s.path...))
		settled[n] = struct{}{}
	}
	for g := range s.targets {
		if g == n || depth == 0 {
			continue
		}
		suffixes, ok := s.e.pathCache.Get(pathKey{node: n, gateway: g})
		if !ok {
			continue
		}
		if len(suffixes) == 0 {
			// g is unreachable from n, so from anywhere below it too.
			settled[g] = struct{}{}
			continue
		}
		for _, suffix := range suffixes {
			if s.conflicts(suffix) {
				continue
			}
			p := make([]string, 0, len(s.path)+len(suffix)-1)
			p = append(p, s.path...)
			p = append(p, suffix[1:]...)
			s.record(g, p)
			settled[g] = struct{}{}
		}
	}

	for g := range s.targets {
		if _, done := settled[g]; done {
			continue
		}
		b, ok := s.best[g]
		if !ok || depth < b {
			return true
		}
	}
	return false
}

func (s *pathSearch) leave() {
	last := s.path[len(s.path)-1]
	s.path = s.path[:len(s.path)-1]
	delete(s.onPath, last)
}

// conflicts reports whether a cached suffix revisits a node of the current path.
func (s *pathSearch) conflicts(suffix []string) bool {
	if len(suffix) == 0 || suffix[0] != s.path[len(s.path)-1] {
		return true
	}
	for _, n := range suffix[1:] {
		if _, ok := s.onPath[n]; ok {
			return true
		}
	}
	return false
}

func (s *pathSearch) record(g string, p []string) {
	hops := len(p) - 1
	if b, ok := s.best[g]; ok && hops > b {
		return
	}
	if b, ok := s.best[g]; !ok || hops < b {
		s.best[g] = hops
		s.found[g] = nil
		s.keys[g] = make(map[string]struct{})
	}
	key := strings.Join(p, "\x00")
	if _, dup := s.keys[g][key]; dup {
		return
	}
	s.keys[g][key] = struct{}{}
	s.found[g] = append(s.found[g], p)
}

// remember caches every suffix of every path found, keyed by where the suffix
// starts, and an explicit empty result for unreachable gateways.
func (s *pathSearch) remember(device string) {
	for g := range s.targets {
		paths := s.found[g]
		sort.Slice(paths, func(i, j int) bool {
			return strings.Join(paths[i], "\x00") < strings.Join(paths[j], "\x00")
		})
		if len(paths) == 0 {
			s.e.pathCache.Set(pathKey{node: device, gateway: g}, [][]string{})
			continue
		}
		suffixes := make(map[pathKey][][]string)
		seen := make(map[string]struct{})
		for _, p := range paths {
			for i := range p {
				key := strings.Join(p[i:], "\x00")
				if _, dup := seen[key]; dup {
					continue
				}
				seen[key] = struct{}{}
				k := pathKey{node: p[i], gateway: g}
				suffixes[k] = append(suffixes[k], p[i:])
			}
		}
		for k, v := range suffixes {
			s.e.pathCache.Set(k, v)
		}
	}
}
