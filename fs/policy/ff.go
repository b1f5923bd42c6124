package policy

func init() {
	registerPolicy("ff", &FF{})
}

// FF stands for first fit
//
// Each chunk goes on the first account, in the stable account order,
// which still has room for it once the earlier chunks of the same
// file have been taken off.
type FF struct{}

// Assign implements Policy
func (p *FF) Assign(sizes []int64, candidates []Candidate) ([]int, error) {
	order := make([]int, len(candidates))
	for i := range order {
		order[i] = i
	}
	return assignOrdered(sizes, candidates, func(w working, part int) []int {
		return order
	})
}
