package suppression

import (
	"context"
	"sort"

	"topograph/internal/settings"
)

// Gateways returns the configured gateways of device, or the discovered ones
// when none are configured.
func (e *Engine) Gateways(ctx context.Context, device string, s settings.Settings) ([]string, error) {
	if len(s.Gateways) > 0 {
		return sortedUnique(s.Gateways), nil
	}
	return e.gatewayCache.GetOrLoad(ctx, device, func(ctx context.Context) ([]string, error) {
		return e.DiscoverGateways(ctx, device)
	})
}

// neighborIter walks one node's neighbor list.
type neighborIter struct {
	node      string
	neighbors []string
	next      int
}

func (it *neighborIter) advance() (string, bool) {
	if it.next >= len(it.neighbors) {
		return "", false
	}
	n := it.neighbors[it.next]
	it.next++
	return n, true
}

// DiscoverGateways walks outward from device and returns the first objects met
// on every branch. The walk does not continue past an object.
func (e *Engine) DiscoverGateways(ctx context.Context, device string) ([]string, error) {
	first, err := e.Neighbors(ctx, device)
	if err != nil {
		return nil, err
	}
	visited := map[string]struct{}{device: {}}
	stack := []*neighborIter{{node: device, neighbors: first}}
	var gateways []string

	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		top := stack[len(stack)-1]
		n, ok := top.advance()
		if !ok {
			stack = stack[:len(stack)-1]
			continue
		}
		if _, seen := visited[n]; seen {
			continue
		}
		visited[n] = struct{}{}
		if e.resolver.IsObject(n) {
			gateways = append(gateways, n)
			continue
		}
		next, err := e.Neighbors(ctx, n)
		if err != nil {
			return nil, err
		}
		stack = append(stack, &neighborIter{node: n, neighbors: next})
	}
	sort.Strings(gateways)
	return gateways, nil
}

func sortedUnique(in []string) []string {
	out := append([]string(nil), in...)
	sort.Strings(out)
	n := 0
	for i, v := range out {
		if i > 0 && v == out[n-1] {
			continue
		}
		out[n] = v
		n++
	}
	return out[:n]
}
