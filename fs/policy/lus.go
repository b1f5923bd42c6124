package policy

import "sort"

func init() {
	registerPolicy("lus", &Lus{})
}

// Lus stands for least used space
//
// Each chunk goes on the account with the fewest bytes used,
// counting the chunks already assigned in this call.
type Lus struct{}

// Assign implements Policy
func (p *Lus) Assign(sizes []int64, candidates []Candidate) ([]int, error) {
	return assignOrdered(sizes, candidates, func(w working, part int) []int {
		used := make([]int64, len(w))
		order := make([]int, len(w))
		for i, c := range candidates {
			used[i] = c.Used + c.Available - w[i]
			order[i] = i
		}
		sort.SliceStable(order, func(a, b int) bool {
			return used[order[a]] < used[order[b]]
		})
		return order
	})
}
