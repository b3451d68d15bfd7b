package ratelimit

import (
	"math"
	"sync"
	"time"
)

// LocalStore 进程内滑动窗口近似实现
// 共享存储不可用时的回退路径：多实例部署下每个实例各算各的，
// 总放行量可能超过预算，但单实例内语义与共享存储一致
type LocalStore struct {
	mu      sync.Mutex
	buckets map[string][]time.Time
}

func NewLocalStore() *LocalStore {
	return &LocalStore{
		buckets: make(map[string][]time.Time),
	}
}

func (s *LocalStore) Check(bucket string, max int, window time.Duration) (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-window)

	// 清掉窗口外的条目
	entries := s.buckets[bucket]
	kept := entries[:0]
	for _, t := range entries {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}

	if len(kept) >= max {
		s.buckets[bucket] = kept
		// 最早条目滑出窗口后才有配额
		retryAfter := int(math.Ceil(kept[0].Add(window).Sub(now).Seconds()))
		if retryAfter < 1 {
			retryAfter = 1
		}
		return &Result{Allowed: false, Remaining: 0, RetryAfterSeconds: retryAfter}, nil
	}

	s.buckets[bucket] = append(kept, now)
	return &Result{Allowed: true, Remaining: max - len(kept) - 1}, nil
}
