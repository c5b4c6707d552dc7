package backoff

import (
	"fmt"
	"math/rand"
	"time"
)

// Strategy 计算一次失败后的重试延迟
// attempt 是已经消耗的派发次数，从 1 开始
type Strategy interface {
	NextDelay(attempt int) time.Duration
}

// None 不延迟，任务在下一个轮询周期立即可见
type None struct{}

func NewNone() None { return None{} }

func (None) NextDelay(int) time.Duration { return 0 }

// Constant 固定延迟
type Constant struct {
	delay time.Duration
}

func NewConstant(delay time.Duration) Constant {
	return Constant{delay: delay}
}

func (c Constant) NextDelay(int) time.Duration { return c.delay }

// Linear 线性退避：base, 2*base, 3*base... 封顶 max
type Linear struct {
	base time.Duration
	max  time.Duration
}

func NewLinear(base, max time.Duration) Linear {
	return Linear{base: base, max: max}
}

func (l Linear) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := time.Duration(attempt) * l.base
	if l.max > 0 && delay > l.max {
		return l.max
	}
	return delay
}

// Exponential 指数退避加随机抖动，避免批量任务同时重试
type Exponential struct {
	base time.Duration
	max  time.Duration
}

func NewExponential(base, max time.Duration) Exponential {
	return Exponential{base: base, max: max}
}

func (e Exponential) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := e.base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if e.max > 0 && delay >= e.max {
			delay = e.max
			break
		}
	}
	if e.max > 0 && delay > e.max {
		delay = e.max
	}
	if delay <= 0 {
		return 0
	}
	// 一半固定一半抖动
	half := delay / 2
	return half + time.Duration(rand.Int63n(int64(half)+1))
}

// FromConfig 根据配置名称构造策略
// 支持 none / constant / linear / exponential，空名称视为 none
func FromConfig(name string, base, max time.Duration) (Strategy, error) {
	switch name {
	case "", "none":
		return NewNone(), nil
	case "constant":
		return NewConstant(base), nil
	case "linear":
		return NewLinear(base, max), nil
	case "exponential":
		return NewExponential(base, max), nil
	default:
		return nil, fmt.Errorf("unknown backoff strategy: %q", name)
	}
}
