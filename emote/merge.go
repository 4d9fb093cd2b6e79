package emote

import "sort"

type span struct{ start, end int }

// Merge combines per-provider match lists given in priority order. The first
// list to claim a (start, end) range keeps it; later matches at the same range
// are dropped. Ranges that only overlap are both kept. The result is sorted by
// start.
func Merge(lists ...[]Match) []Match {
	seen := make(map[span]struct{})
	var out []Match
	for _, list := range lists {
		for _, m := range list {
			k := span{m.Start, m.End}
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}

// Ordered arranges native matches and the per-provider lists returned by
// Cache.ParseMessage into the priority order Merge expects.
func Ordered(order []Tag, native []Match, byTag map[Tag][]Match) [][]Match {
	lists := make([][]Match, 0, len(order)+1)
	lists = append(lists, native)
	for _, tag := range order {
		lists = append(lists, byTag[tag])
	}
	return lists
}
