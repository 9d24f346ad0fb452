// Package gctable 按key分桶保存会话等对象, 在访问时顺带回收空闲对象.
package gctable

import (
	"hash/crc32"
	"sync"
	"time"
)

const (
	DefaultBuckets      = 64
	DefaultMinThreshold = 100
	DefaultGCInterval   = 10 * time.Minute
)

type Object interface {
	Key() string
	CanGC() bool
	ExecuteGC()
}

// Table 对象表. 零值可用.
//
// 桶内对象数超过阈值或距上次回收超过GCInterval时, 下一次访问该桶会回收
// CanGC为true的对象并调用其ExecuteGC.
type Table[T Object] struct {
	Buckets      int
	MinThreshold int
	GCInterval   time.Duration

	once    sync.Once
	now     func() time.Time
	buckets []bucket[T]
}

func (t *Table[T]) Add(key string, alloc func() T) T {
	return t.bucket(key).add(key, alloc)
}

func (t *Table[T]) Get(key string) (T, bool) {
	return t.bucket(key).get(key)
}

// Remove 删除并回收key对应的对象.
func (t *Table[T]) Remove(key string) {
	t.bucket(key).remove(key)
}

// Range 遍历表中所有对象, f返回false时停止遍历.
//
// 遍历期间持有桶锁, f中不能再访问该表.
func (t *Table[T]) Range(f func(T) bool) {
	t.init()
	for i := range t.buckets {
		if !t.buckets[i].each(f) {
			return
		}
	}
}

func (t *Table[T]) Len() int {
	n := 0
	t.Range(func(T) bool { n++; return true })
	return n
}

func (t *Table[T]) init() {
	t.once.Do(func() {
		n := t.Buckets
		if n <= 0 {
			n = DefaultBuckets
		}
		min := t.MinThreshold
		if min <= 0 {
			min = DefaultMinThreshold
		}
		interval := t.GCInterval
		if interval <= 0 {
			interval = DefaultGCInterval
		}
		if t.now == nil {
			t.now = time.Now
		}
		t.buckets = make([]bucket[T], n)
		for i := range t.buckets {
			t.buckets[i] = bucket[T]{min: min, interval: interval, now: t.now}
		}
	})
}

func (t *Table[T]) bucket(key string) *bucket[T] {
	t.init()
	i := crc32.ChecksumIEEE([]byte(key)) % uint32(len(t.buckets))
	return &t.buckets[i]
}

type bucket[T Object] struct {
	min      int
	interval time.Duration
	now      func() time.Time

	mu        sync.Mutex
	m         map[string]T
	threshold int
	lastGC    time.Time
}

func (b *bucket[T]) add(key string, alloc func() T) T {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.m == nil {
		b.m = make(map[string]T)
		b.threshold = b.min
		b.lastGC = b.now()
	}
	b.gc()
	object, ok := b.m[key]
	if !ok {
		object = alloc()
		b.m[key] = object
	}
	return object
}

func (b *bucket[T]) get(key string) (T, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.gc()
	object, ok := b.m[key]
	return object, ok
}

func (b *bucket[T]) remove(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.gc()
	if object, ok := b.m[key]; ok {
		delete(b.m, key)
		object.ExecuteGC()
	}
}

func (b *bucket[T]) each(f func(T) bool) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, object := range b.m {
		if !f(object) {
			return false
		}
	}
	return true
}

func (b *bucket[T]) gc() {
	if b.m == nil {
		return
	}
	now := b.now()
	if len(b.m) <= b.threshold && now.Sub(b.lastGC) < b.interval {
		return
	}
	for key, object := range b.m {
		if object.CanGC() {
			delete(b.m, key)
			object.ExecuteGC()
		}
	}
	b.threshold = 2 * len(b.m)
	if b.threshold < b.min {
		b.threshold = b.min
	}
	b.lastGC = now
}
