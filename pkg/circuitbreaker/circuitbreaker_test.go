package circuitbreaker

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var errRemote = errors.New("remote unavailable")

func testConfig() Config {
	return Config{
		FailureThreshold:    3,
		SuccessThreshold:    2,
		Timeout:             50 * time.Millisecond,
		HalfOpenMaxRequests: 2,
	}
}

// tripOpen 连续失败直到熔断器打开
func tripOpen(t *testing.T, cb *CircuitBreaker) {
	t.Helper()
	for i := 0; i < testConfig().FailureThreshold; i++ {
		err := cb.Execute(func() error { return errRemote })
		require.ErrorIs(t, err, errRemote)
	}
}

func TestCircuitBreaker_ClosedPassesThrough(t *testing.T) {
	cb := NewCircuitBreaker("email", testConfig(), zap.NewNop())

	calls := 0
	err := cb.Execute(func() error {
		calls++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestCircuitBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	cb := NewCircuitBreaker("email", testConfig(), zap.NewNop())
	tripOpen(t, cb)

	calls := 0
	err := cb.Execute(func() error {
		calls++
		return nil
	})

	assert.ErrorIs(t, err, ErrCircuitBreakerOpen)
	assert.Equal(t, 0, calls, "open breaker must not run the call")
	assert.Equal(t, StateOpen, cb.GetState())
}

func TestCircuitBreaker_SuccessResetsFailureStreak(t *testing.T) {
	cb := NewCircuitBreaker("email", testConfig(), zap.NewNop())

	// 两次失败后一次成功，失败计数清零
	for i := 0; i < 2; i++ {
		_ = cb.Execute(func() error { return errRemote })
	}
	require.NoError(t, cb.Execute(func() error { return nil }))

	// 再失败两次仍未达到阈值
	for i := 0; i < 2; i++ {
		_ = cb.Execute(func() error { return errRemote })
	}

	calls := 0
	err := cb.Execute(func() error {
		calls++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestCircuitBreaker_HalfOpenAfterTimeout(t *testing.T) {
	cb := NewCircuitBreaker("email", testConfig(), zap.NewNop())
	tripOpen(t, cb)

	_ = cb.Execute(func() error { return nil })
	require.Equal(t, StateOpen, cb.GetState())

	time.Sleep(testConfig().Timeout + 10*time.Millisecond)

	// 半开后放行探测请求
	calls := 0
	err := cb.Execute(func() error {
		calls++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, StateHalfOpen, cb.GetState())
}

func TestCircuitBreaker_ClosesAfterHalfOpenSuccesses(t *testing.T) {
	cb := NewCircuitBreaker("email", testConfig(), zap.NewNop())
	tripOpen(t, cb)
	_ = cb.Execute(func() error { return nil })

	time.Sleep(testConfig().Timeout + 10*time.Millisecond)

	// SuccessThreshold 次成功后，下一次调用时恢复为关闭
	for i := 0; i < testConfig().SuccessThreshold; i++ {
		require.NoError(t, cb.Execute(func() error { return nil }))
	}
	require.NoError(t, cb.Execute(func() error { return nil }))

	assert.Equal(t, StateClosed, cb.GetState())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker("email", testConfig(), zap.NewNop())
	tripOpen(t, cb)
	_ = cb.Execute(func() error { return nil })

	time.Sleep(testConfig().Timeout + 10*time.Millisecond)

	err := cb.Execute(func() error { return errRemote })
	require.ErrorIs(t, err, errRemote)
	assert.Equal(t, StateOpen, cb.GetState())

	err = cb.Execute(func() error { return nil })
	assert.ErrorIs(t, err, ErrCircuitBreakerOpen)
}

func TestCircuitBreaker_HalfOpenLimitsInFlightProbes(t *testing.T) {
	cfg := testConfig()
	cfg.HalfOpenMaxRequests = 1
	cb := NewCircuitBreaker("email", cfg, zap.NewNop())

	for i := 0; i < cfg.FailureThreshold; i++ {
		_ = cb.Execute(func() error { return errRemote })
	}
	_ = cb.Execute(func() error { return nil })
	require.Equal(t, StateOpen, cb.GetState())

	time.Sleep(cfg.Timeout + 10*time.Millisecond)

	probeStarted := make(chan struct{})
	release := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = cb.Execute(func() error {
			close(probeStarted)
			<-release
			return nil
		})
	}()

	<-probeStarted
	// 探测额度已被占满，并发请求直接被拒
	err := cb.Execute(func() error { return nil })
	assert.ErrorIs(t, err, ErrCircuitBreakerOpen)

	close(release)
	wg.Wait()
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb := NewCircuitBreaker("email", testConfig(), zap.NewNop())
	tripOpen(t, cb)
	_ = cb.Execute(func() error { return nil })
	require.Equal(t, StateOpen, cb.GetState())

	cb.Reset()

	assert.Equal(t, StateClosed, cb.GetState())
	calls := 0
	require.NoError(t, cb.Execute(func() error {
		calls++
		return nil
	}))
	assert.Equal(t, 1, calls)
}

func TestCircuitBreaker_NilLogger(t *testing.T) {
	cb := NewCircuitBreaker("email", testConfig(), nil)

	// 状态切换时不应因缺少 logger 而崩溃
	assert.NotPanics(t, func() {
		tripOpen(t, cb)
		_ = cb.Execute(func() error { return nil })
	})
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half_open", StateHalfOpen.String())
}
