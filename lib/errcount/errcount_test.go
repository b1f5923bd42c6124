package errcount

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrCount(t *testing.T) {
	ec := New()
	assert.Equal(t, nil, ec.Err("upload"))
	ec.Add(nil)
	assert.Equal(t, 0, ec.Count())

	e1 := errors.New("part 1 failed")
	ec.Add(e1)

	err := ec.Err("upload")
	assert.True(t, errors.Is(err, e1), err)
	assert.Equal(t, "upload: part 1 failed", err.Error())

	e2 := errors.New("part 3 failed")
	ec.Add(e2)

	err = ec.Err("upload")
	assert.True(t, errors.Is(err, e2), err)
	assert.Equal(t, "upload: 2 errors: last error: part 3 failed", err.Error())
}

func TestErrCountConcurrent(t *testing.T) {
	ec := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ec.Add(errors.New("chunk failed"))
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, ec.Count())
}
