package pacer

import (
	"sync"
	"testing"
	"time"

	"github.com/ddrive/ddrive/fs/fserrors"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	p := New()
	assert.Equal(t, 10*time.Millisecond, p.minSleep)
	assert.Equal(t, 2*time.Second, p.maxSleep)
	assert.Equal(t, p.minSleep, p.sleepTime)
	assert.Equal(t, uint(2), p.decayConstant)
	assert.Equal(t, uint(1), p.attackConstant)
	assert.Equal(t, 10, p.retries)
	assert.Equal(t, 8, p.maxConnections)
	assert.Equal(t, 8, p.connTokens.Available())
	assert.Equal(t, 1, len(p.pacer))
	assert.Equal(t, 0, p.consecutiveRetries)
}

func TestSetters(t *testing.T) {
	p := New()
	p.SetMinSleep(time.Millisecond)
	assert.Equal(t, time.Millisecond, p.GetSleep())
	p.SetMaxSleep(time.Minute)
	assert.Equal(t, time.Minute, p.maxSleep)
	p.SetDecayConstant(5)
	assert.Equal(t, uint(5), p.decayConstant)
	p.SetAttackConstant(3)
	assert.Equal(t, uint(3), p.attackConstant)
	p.SetRetries(7)
	assert.Equal(t, 7, p.retries)
	p.SetSleep(time.Second)
	assert.Equal(t, time.Second, p.GetSleep())
}

func TestSetMaxConnections(t *testing.T) {
	p := New()
	p.SetMaxConnections(20)
	assert.Equal(t, 20, p.maxConnections)
	assert.Equal(t, 20, p.connTokens.Available())
	p.SetMaxConnections(0)
	assert.Equal(t, 0, p.maxConnections)
	assert.Nil(t, p.connTokens)
}

func TestBeginCall(t *testing.T) {
	p := New().SetMaxConnections(10).SetMinSleep(1 * time.Millisecond)
	emptyTokens := p.connTokens.Available() - 1
	p.beginCall()
	assert.Equal(t, emptyTokens, p.connTokens.Available())
	// the pacer token is put back after the sleep
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, len(p.pacer))
}

func TestBeginCallZeroConnections(t *testing.T) {
	p := New().SetMaxConnections(0).SetMinSleep(1 * time.Millisecond)
	p.beginCall()
	assert.Nil(t, p.connTokens)
}

func TestDefaultPacer(t *testing.T) {
	p := New().SetMinSleep(time.Millisecond).SetPacer(DefaultPacer).SetMaxSleep(time.Second).SetDecayConstant(2)
	for _, test := range []struct {
		in    time.Duration
		retry bool
		want  time.Duration
	}{
		{time.Millisecond, true, 2 * time.Millisecond},
		{time.Second, true, time.Second},
		{(3 * time.Second) / 4, true, time.Second},
		{time.Second, false, 750 * time.Millisecond},
		{1000 * time.Microsecond, false, time.Millisecond},
		{1200 * time.Microsecond, false, time.Millisecond},
	} {
		p.sleepTime = test.in
		p.defaultPacer(test.retry)
		assert.Equal(t, test.want, p.sleepTime, "test: %+v", test)
	}
}

func TestDefaultPacerAttackConstant(t *testing.T) {
	p := New().SetMinSleep(time.Millisecond).SetMaxSleep(time.Second).SetAttackConstant(0)
	p.sleepTime = time.Millisecond
	p.defaultPacer(true)
	assert.Equal(t, time.Second, p.sleepTime)
}

func TestGoogleDrivePacer(t *testing.T) {
	p := New().SetMinSleep(time.Millisecond).SetPacer(GoogleDrivePacer).SetMaxSleep(time.Second).SetDecayConstant(2)
	// Do lots of times because of the random number!
	for _, test := range []struct {
		in                 time.Duration
		consecutiveRetries int
		retry              bool
		want               time.Duration
	}{
		{time.Millisecond, 0, true, time.Millisecond},
		{10 * time.Millisecond, 0, true, time.Millisecond},
		{1 * time.Second, 1, true, 1*time.Second + 500*time.Millisecond},
		{1 * time.Second, 2, true, 2*time.Second + 500*time.Millisecond},
		{1 * time.Second, 3, true, 4*time.Second + 500*time.Millisecond},
		{1 * time.Second, 4, true, 8*time.Second + 500*time.Millisecond},
		{1 * time.Second, 5, true, 16*time.Second + 500*time.Millisecond},
		{1 * time.Second, 6, true, 16*time.Second + 500*time.Millisecond},
		{1 * time.Second, 7, true, 16*time.Second + 500*time.Millisecond},
	} {
		const n = 1000
		var sum time.Duration
		// measure average time over n cycles
		for i := 0; i < n; i++ {
			p.sleepTime = test.in
			p.consecutiveRetries = test.consecutiveRetries
			p.drivePacer(test.retry)
			sum += p.sleepTime
		}
		got := sum / n
		assert.InDelta(t, float64(test.want), float64(got), float64(test.want)/20, "test: %+v", test)
	}
}

func TestEndCall(t *testing.T) {
	p := New().SetMaxConnections(5)
	emptyTokens := p.connTokens.Available() - 1
	p.connTokens.Get()
	p.consecutiveRetries = 1
	p.endCall(true)
	assert.Equal(t, emptyTokens+1, p.connTokens.Available())
	assert.Equal(t, 2, p.consecutiveRetries)
	p.connTokens.Get()
	p.endCall(false)
	assert.Equal(t, 0, p.consecutiveRetries)
}

func newTestPacer() *Pacer {
	return New().
		SetMinSleep(time.Microsecond).
		SetMaxSleep(time.Microsecond).
		SetRetries(3)
}

type dummyPaced struct {
	retry  bool
	called int
}

func (dp *dummyPaced) fn() (bool, error) {
	dp.called++
	return dp.retry, errors.New("dummy")
}

func TestCallFixed(t *testing.T) {
	p := newTestPacer()
	dp := &dummyPaced{retry: false}
	err := p.Call(dp.fn)
	require.Error(t, err)
	assert.Equal(t, 1, dp.called)
	assert.False(t, fserrors.IsRetryError(err))
}

func TestCallRetries(t *testing.T) {
	p := newTestPacer()
	dp := &dummyPaced{retry: true}
	err := p.Call(dp.fn)
	require.Error(t, err)
	assert.Equal(t, 3, dp.called)
	assert.True(t, fserrors.IsRetryError(err))
	assert.Equal(t, "dummy", errors.Cause(err).Error())
}

func TestCallNoRetry(t *testing.T) {
	p := newTestPacer()
	dp := &dummyPaced{retry: true}
	err := p.CallNoRetry(dp.fn)
	require.Error(t, err)
	assert.Equal(t, 1, dp.called)
	assert.True(t, fserrors.IsRetryError(err))
}

func TestCallSuccess(t *testing.T) {
	p := newTestPacer()
	calls := 0
	err := p.Call(func() (bool, error) {
		calls++
		if calls < 2 {
			return true, errors.New("try again")
		}
		return false, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestCallParallel(t *testing.T) {
	p := newTestPacer().SetMaxConnections(3).SetRetries(1)
	wait := sync.NewCond(&sync.Mutex{})
	funcs := make([]*dummyPaced, 5)
	for i := range funcs {
		funcs[i] = &dummyPaced{}
	}
	var wg sync.WaitGroup
	for _, dp := range funcs {
		wg.Add(1)
		go func(dp *dummyPaced) {
			defer wg.Done()
			_ = p.Call(func() (bool, error) {
				wait.L.Lock()
				dp.called++
				wait.Wait()
				wait.L.Unlock()
				return false, nil
			})
		}(dp)
	}
	// wait for the connection tokens to run out
	for p.connTokens.Available() > 0 {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(10 * time.Millisecond)
	called := 0
	wait.L.Lock()
	for _, dp := range funcs {
		called += dp.called
	}
	wait.L.Unlock()
	assert.Equal(t, 3, called)
	// release everyone, a waiter at a time
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	for {
		select {
		case <-done:
			return
		default:
			wait.Broadcast()
			time.Sleep(time.Millisecond)
		}
	}
}
