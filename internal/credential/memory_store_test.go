package credential

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

// TestMemoryStore_SetAndGet 测试基本的设置和获取功能
func TestMemoryStore_SetAndGet(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore(clock.Now)
	ctx := context.Background()

	slot := Slot{Name: AccessToken, Value: "token-1", ExpiresAt: clock.Now().Add(time.Hour)}
	if err := store.Set(ctx, slot); err != nil {
		t.Fatalf("Set 返回错误: %v", err)
	}

	got, found, err := store.Get(ctx, AccessToken)
	if err != nil {
		t.Fatalf("Get 返回错误: %v", err)
	}
	if !found {
		t.Fatal("未能找到刚刚设置的凭据")
	}
	if got.Value != "token-1" {
		t.Errorf("获取到的凭据与原始凭据不匹配。 got %q, want %q", got.Value, "token-1")
	}
	if n := store.Len(ctx); n != 1 {
		t.Errorf("Len 应为 1, got %d", n)
	}
}

// TestMemoryStore_GetExpired 测试在过期时刻获取凭据
func TestMemoryStore_GetExpired(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore(clock.Now)
	ctx := context.Background()

	_ = store.Set(ctx, Slot{Name: ApprovalKey, Value: "key", ExpiresAt: clock.Now().Add(time.Minute)})

	clock.Advance(time.Minute)

	if _, found, _ := store.Get(ctx, ApprovalKey); found {
		t.Fatal("不应找到已过期的凭据")
	}
	if n := store.Len(ctx); n != 0 {
		t.Errorf("过期凭据不应计入 Len, got %d", n)
	}
}

// TestMemoryStore_GetNonExistent 测试获取一个不存在的槽
func TestMemoryStore_GetNonExistent(t *testing.T) {
	store := NewMemoryStore(nil)

	if _, found, _ := store.Get(context.Background(), AccessToken); found {
		t.Fatal("不应找到不存在的凭据")
	}
}

// TestMemoryStore_Clear 测试清空后所有槽失效
func TestMemoryStore_Clear(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore(clock.Now)
	ctx := context.Background()

	for _, name := range AllSlots {
		_ = store.Set(ctx, Slot{Name: name, Value: string(name), ExpiresAt: clock.Now().Add(time.Hour)})
	}
	if err := store.Clear(ctx); err != nil {
		t.Fatalf("Clear 返回错误: %v", err)
	}
	for _, name := range AllSlots {
		if _, found, _ := store.Get(ctx, name); found {
			t.Errorf("清空后不应找到 %s", name)
		}
	}
}

// TestMemoryStore_Concurrency 测试并发读写
func TestMemoryStore_Concurrency(t *testing.T) {
	store := NewMemoryStore(nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			name := AllSlots[i%len(AllSlots)]
			_ = store.Set(ctx, Slot{Name: name, Value: fmt.Sprintf("%s_%d", name, i), ExpiresAt: time.Now().Add(time.Minute)})
		}(i)
		go func(i int) {
			defer wg.Done()
			name := AllSlots[i%len(AllSlots)]
			// 主要测试会不会 panic 或出现数据竞争
			if slot, found, _ := store.Get(ctx, name); found && slot.Name != name {
				t.Errorf("并发读取时数据不一致 for slot %s", name)
			}
		}(i)
	}
	wg.Wait()
}
