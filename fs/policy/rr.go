package policy

func init() {
	registerPolicy("rr", &RR{})
}

// RR stands for round robin
//
// Chunk n starts looking at account n modulo the number of accounts
// and moves along until it finds room.
type RR struct{}

// Assign implements Policy
func (p *RR) Assign(sizes []int64, candidates []Candidate) ([]int, error) {
	return assignOrdered(sizes, candidates, func(w working, part int) []int {
		order := make([]int, len(w))
		for i := range order {
			order[i] = (part + i) % len(w)
		}
		return order
	})
}
