package policy

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/ddrive/ddrive/fs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func candidates(available ...int64) []Candidate {
	cs := make([]Candidate, len(available))
	for i, a := range available {
		cs[i] = Candidate{ID: string(rune('A' + i)), Total: a, Available: a}
	}
	return cs
}

func TestGet(t *testing.T) {
	assert.Equal(t, []string{"ff", "lus", "mfs", "rr"}, Names())
	p, err := Get("FF")
	require.NoError(t, err)
	assert.IsType(t, &FF{}, p)
	_, err = Get("potato")
	assert.Error(t, err)
}

func TestFirstFitScenario(t *testing.T) {
	got, err := (&FF{}).Assign([]int64{40, 40, 40}, candidates(100, 50, 0))
	require.NoError(t, err)
	assert.Equal(t, []int{0, 0, 1}, got)
}

func TestFirstFitExactFit(t *testing.T) {
	got, err := (&FF{}).Assign([]int64{50, 50}, candidates(100))
	require.NoError(t, err)
	assert.Equal(t, []int{0, 0}, got)
}

func TestInsufficientCapacity(t *testing.T) {
	for _, name := range Names() {
		p, err := Get(name)
		require.NoError(t, err)

		_, err = p.Assign([]int64{40, 40, 40}, candidates(50, 40))
		require.Error(t, err, name)
		assert.True(t, errors.Is(err, fs.ErrorInsufficientCapacity), name)
		var ice *fs.InsufficientCapacityError
		require.True(t, errors.As(err, &ice), name)
		assert.Equal(t, 3, ice.Part, name)
		assert.Equal(t, int64(40), ice.Size, name)

		_, err = p.Assign([]int64{1}, nil)
		assert.True(t, errors.Is(err, fs.ErrorInsufficientCapacity), name)
	}
}

func TestMfs(t *testing.T) {
	got, err := (&Mfs{}).Assign([]int64{10, 10, 10}, candidates(20, 25, 5))
	require.NoError(t, err)
	// 25 -> B, then A(20) vs B(15) -> A, then A(10) vs B(15) -> B
	assert.Equal(t, []int{1, 0, 1}, got)
}

func TestLus(t *testing.T) {
	cs := []Candidate{
		{ID: "A", Total: 100, Used: 50, Available: 50},
		{ID: "B", Total: 100, Used: 70, Available: 30},
	}
	got, err := (&Lus{}).Assign([]int64{10, 10, 10}, cs)
	require.NoError(t, err)
	// A used 50 -> A(60), A(70) ties with B(70) -> A
	assert.Equal(t, []int{0, 0, 0}, got)
}

func TestRoundRobin(t *testing.T) {
	got, err := (&RR{}).Assign([]int64{10, 10, 10, 10}, candidates(100, 100, 100))
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2, 0}, got)

	// full accounts are skipped
	got, err = (&RR{}).Assign([]int64{10, 10, 10}, candidates(100, 0, 100))
	require.NoError(t, err)
	assert.Equal(t, []int{0, 2, 2}, got)
}

// Whatever the sizes and capacities no policy may over-subscribe an
// account.
func TestNeverOverSubscribes(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for iteration := 0; iteration < 500; iteration++ {
		nAccounts := rng.Intn(5)
		available := make([]int64, nAccounts)
		for i := range available {
			available[i] = rng.Int63n(200)
		}
		sizes := make([]int64, 1+rng.Intn(8))
		for i := range sizes {
			sizes[i] = 1 + rng.Int63n(60)
		}
		cs := candidates(available...)
		for _, name := range Names() {
			p, _ := Get(name)
			got, err := p.Assign(sizes, cs)
			if err != nil {
				assert.True(t, errors.Is(err, fs.ErrorInsufficientCapacity), name)
				continue
			}
			require.Len(t, got, len(sizes), name)
			assigned := make([]int64, nAccounts)
			for part, j := range got {
				assigned[j] += sizes[part]
			}
			for j := range assigned {
				assert.LessOrEqual(t, assigned[j], available[j], "%s: account %d over-subscribed", name, j)
			}
		}
	}
}
