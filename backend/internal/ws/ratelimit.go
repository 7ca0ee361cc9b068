package ws

import "time"

// MessageClass 限流的消息类别，每个连接每类独立计数
type MessageClass int

const (
	ClassReliable MessageClass = iota
	ClassVolatile
	numClasses
)

type Limit struct {
	Max    int
	Window time.Duration
}

// DefaultLimits 必达消息 200 条/秒，易失消息 400 条/秒
var DefaultLimits = [numClasses]Limit{
	ClassReliable: {Max: 200, Window: time.Second},
	ClassVolatile: {Max: 400, Window: time.Second},
}

type window struct {
	start time.Time
	count int
}

// RateLimiter 固定窗口计数：窗口到期后计数清零并重新开始计时（不是滑动窗口）
// 只由连接自己的读循环使用，不加锁
type RateLimiter struct {
	now     func() time.Time
	limits  [numClasses]Limit
	windows [numClasses]window
}

func NewRateLimiter(now func() time.Time, limits [numClasses]Limit) *RateLimiter {
	return &RateLimiter{now: now, limits: limits}
}

// Allow 计入一条消息，超限返回 false
func (l *RateLimiter) Allow(class MessageClass) bool {
	if class < 0 || class >= numClasses {
		return false
	}
	t := l.now()
	w := &l.windows[class]
	if w.start.IsZero() || t.Sub(w.start) >= l.limits[class].Window {
		w.start = t
		w.count = 0
	}
	if w.count >= l.limits[class].Max {
		return false
	}
	w.count++
	return true
}
