package policy

import "sort"

func init() {
	registerPolicy("mfs", &Mfs{})
}

// Mfs stands for most free space
//
// Each chunk goes on the account with the most room left, ties going
// to the earlier account.
type Mfs struct{}

// Assign implements Policy
func (p *Mfs) Assign(sizes []int64, candidates []Candidate) ([]int, error) {
	return assignOrdered(sizes, candidates, func(w working, part int) []int {
		order := make([]int, len(w))
		for i := range order {
			order[i] = i
		}
		sort.SliceStable(order, func(a, b int) bool {
			return w[order[a]] > w[order[b]]
		})
		return order
	})
}
