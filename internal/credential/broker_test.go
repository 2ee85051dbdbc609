package credential

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 1, 2, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// fakeAcquirer 记录每个槽的获取次数，gate 非空时阻塞直到被关闭
type fakeAcquirer struct {
	mu        sync.Mutex
	calls     map[SlotName]int
	lifetimes map[SlotName]time.Duration
	err       error
	gate      chan struct{}
	entered   chan SlotName
}

func newFakeAcquirer() *fakeAcquirer {
	return &fakeAcquirer{
		calls: make(map[SlotName]int),
		lifetimes: map[SlotName]time.Duration{
			AccessToken: time.Hour,
		},
	}
}

func (f *fakeAcquirer) Acquire(ctx context.Context, name SlotName) (Grant, error) {
	f.mu.Lock()
	f.calls[name]++
	n := f.calls[name]
	err := f.err
	gate := f.gate
	entered := f.entered
	lifetime := f.lifetimes[name]
	f.mu.Unlock()

	if entered != nil {
		entered <- name
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return Grant{}, ctx.Err()
		}
	}
	if err != nil {
		return Grant{}, err
	}
	return Grant{Value: fmt.Sprintf("%s-%d", name, n), Lifetime: lifetime}, nil
}

func (f *fakeAcquirer) Calls(name SlotName) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeAcquirer) SetErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func newTestBroker(t *testing.T, acq Acquirer, clock *fakeClock, opts Options) *Broker {
	t.Helper()
	opts.Now = clock.Now
	b := NewBroker(NewMemoryStore(clock.Now), acq, opts)
	t.Cleanup(b.Stop)
	return b
}

func TestBroker_ConcurrentCallersShareOneAcquisition(t *testing.T) {
	clock := newFakeClock()
	acq := newFakeAcquirer()
	acq.gate = make(chan struct{})
	b := newTestBroker(t, acq, clock, Options{})

	const callers = 50
	var (
		ready   sync.WaitGroup
		done    sync.WaitGroup
		results = make([]string, callers)
		errs    = make([]error, callers)
	)
	for i := 0; i < callers; i++ {
		ready.Add(1)
		done.Add(1)
		go func(i int) {
			defer done.Done()
			ready.Done()
			results[i], errs[i] = b.Credential(context.Background(), AccessToken)
		}(i)
	}
	ready.Wait()
	time.Sleep(20 * time.Millisecond)
	close(acq.gate)
	done.Wait()

	assert.Equal(t, 1, acq.Calls(AccessToken), "并发调用只应产生一次获取")
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "access_token-1", results[i])
	}
}

func TestBroker_ConcurrentCallersShareOneFailure(t *testing.T) {
	clock := newFakeClock()
	acq := newFakeAcquirer()
	acq.gate = make(chan struct{})
	acq.err = errors.New("connection refused")
	b := newTestBroker(t, acq, clock, Options{})

	const callers = 20
	var (
		ready sync.WaitGroup
		done  sync.WaitGroup
		errs  = make([]error, callers)
	)
	for i := 0; i < callers; i++ {
		ready.Add(1)
		done.Add(1)
		go func(i int) {
			defer done.Done()
			ready.Done()
			_, errs[i] = b.Credential(context.Background(), AccessToken)
		}(i)
	}
	ready.Wait()
	time.Sleep(20 * time.Millisecond)
	close(acq.gate)
	done.Wait()

	assert.Equal(t, 1, acq.Calls(AccessToken))
	for _, err := range errs {
		var acqErr *AcquisitionError
		require.True(t, errors.As(err, &acqErr))
		assert.Equal(t, AccessToken, acqErr.Slot)
		assert.Same(t, errs[0], err, "所有调用者应收到同一个错误")
	}
}

func TestBroker_ServesFromCacheUntilSafetyMargin(t *testing.T) {
	clock := newFakeClock()
	acq := newFakeAcquirer()
	acq.lifetimes[AccessToken] = 3600 * time.Second
	b := newTestBroker(t, acq, clock, Options{})
	ctx := context.Background()

	v, err := b.Credential(ctx, AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "access_token-1", v)

	// [0, L-300) 内始终命中缓存
	for _, offset := range []time.Duration{0, time.Minute, 3299 * time.Second} {
		clockAt(clock, offset, func() {
			v, err := b.Credential(ctx, AccessToken)
			require.NoError(t, err)
			assert.Equal(t, "access_token-1", v)
		})
	}
	assert.Equal(t, 1, acq.Calls(AccessToken))

	// L-300 时重新获取
	clock.Advance(3300 * time.Second)
	v, err = b.Credential(ctx, AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "access_token-2", v)
	assert.Equal(t, 2, acq.Calls(AccessToken))
}

// clockAt 把时钟临时前移 offset 执行 fn，之后恢复
func clockAt(clock *fakeClock, offset time.Duration, fn func()) {
	clock.Advance(offset)
	defer clock.Advance(-offset)
	fn()
}

func TestBroker_ApprovalKeyUsesNominalLifetime(t *testing.T) {
	clock := newFakeClock()
	acq := newFakeAcquirer()
	b := newTestBroker(t, acq, clock, Options{})
	ctx := context.Background()

	_, err := b.Credential(ctx, ApprovalKey)
	require.NoError(t, err)

	status := b.CacheStatus(ctx)
	require.NotNil(t, status.Slots[ApprovalKey].ExpiresAt)
	assert.Equal(t, clock.Now().Add(24*time.Hour-300*time.Second), *status.Slots[ApprovalKey].ExpiresAt)
}

func TestBroker_ClearCacheForcesNewAcquisition(t *testing.T) {
	clock := newFakeClock()
	acq := newFakeAcquirer()
	b := newTestBroker(t, acq, clock, Options{})
	ctx := context.Background()

	_, err := b.Credential(ctx, AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "valid", b.CacheStatus(ctx).State(AccessToken))

	require.NoError(t, b.ClearCache(ctx))
	assert.Equal(t, "expired", b.CacheStatus(ctx).State(AccessToken))
	assert.Equal(t, "expired", b.CacheStatus(ctx).State(ApprovalKey))

	v, err := b.Credential(ctx, AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "access_token-2", v)
	assert.Equal(t, "valid", b.CacheStatus(ctx).State(AccessToken))
	assert.Equal(t, 2, acq.Calls(AccessToken))
}

func TestBroker_CacheStatusIsPureRead(t *testing.T) {
	clock := newFakeClock()
	acq := newFakeAcquirer()
	b := newTestBroker(t, acq, clock, Options{})

	status := b.CacheStatus(context.Background())

	assert.Equal(t, "expired", status.State(AccessToken))
	assert.Equal(t, "expired", status.State(ApprovalKey))
	assert.Nil(t, status.Slots[AccessToken].ExpiresAt)
	assert.Zero(t, status.CacheSize)
	assert.False(t, status.AutoRefreshEnabled)
	assert.Zero(t, acq.Calls(AccessToken))
	assert.Zero(t, acq.Calls(ApprovalKey))
}

func TestBroker_FailureLeavesSlotEmptyWithoutRetry(t *testing.T) {
	clock := newFakeClock()
	acq := newFakeAcquirer()
	acq.err = errors.New("timeout")
	b := newTestBroker(t, acq, clock, Options{})
	ctx := context.Background()

	_, err := b.Credential(ctx, AccessToken)
	var acqErr *AcquisitionError
	require.True(t, errors.As(err, &acqErr))
	assert.Equal(t, 1, acq.Calls(AccessToken), "失败不应同步重试")
	assert.Equal(t, "expired", b.CacheStatus(ctx).State(AccessToken))

	acq.SetErr(nil)
	v, err := b.Credential(ctx, AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "access_token-2", v)
}

func TestBroker_EmptyGrantIsAcquisitionError(t *testing.T) {
	clock := newFakeClock()
	b := newTestBroker(t, acquirerFunc(func(context.Context, SlotName) (Grant, error) {
		return Grant{}, nil
	}), clock, Options{})

	_, err := b.Credential(context.Background(), ApprovalKey)
	assert.ErrorIs(t, err, errMissingValue)
}

func TestBroker_UnknownSlot(t *testing.T) {
	b := newTestBroker(t, newFakeAcquirer(), newFakeClock(), Options{})

	_, err := b.Credential(context.Background(), SlotName("nope"))
	assert.ErrorIs(t, err, ErrUnknownSlot)
}

func TestBroker_CallerCancelDoesNotAbortSharedAcquisition(t *testing.T) {
	clock := newFakeClock()
	acq := newFakeAcquirer()
	acq.gate = make(chan struct{})
	acq.entered = make(chan SlotName, 1)
	b := newTestBroker(t, acq, clock, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := b.Credential(ctx, AccessToken)
		errCh <- err
	}()

	<-acq.entered
	cancel()
	err := <-errCh
	assert.ErrorIs(t, err, context.Canceled)

	close(acq.gate)
	assert.Eventually(t, func() bool {
		return b.CacheStatus(context.Background()).State(AccessToken) == "valid"
	}, time.Second, 5*time.Millisecond, "调用者离开后获取仍应完成并写入缓存")
	assert.Equal(t, 1, acq.Calls(AccessToken))
}

// waitEntered 等待 name 的获取进入 Acquire
func waitEntered(t *testing.T, acq *fakeAcquirer, name SlotName) {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case got := <-acq.entered:
			if got == name {
				return
			}
		case <-deadline:
			t.Fatalf("acquisition of %s never started", name)
		}
	}
}

type credentialResult struct {
	value string
	err   error
}

func credentialAsync(b *Broker, name SlotName) <-chan credentialResult {
	ch := make(chan credentialResult, 1)
	go func() {
		v, err := b.Credential(context.Background(), name)
		ch <- credentialResult{value: v, err: err}
	}()
	return ch
}

func TestBroker_ForegroundJoinsBackgroundStartupAcquisition(t *testing.T) {
	clock := newFakeClock()
	acq := newFakeAcquirer()
	acq.gate = make(chan struct{})
	acq.entered = make(chan SlotName, 8)
	b := newTestBroker(t, acq, clock, Options{})

	b.StartBackgroundRefresh()
	waitEntered(t, acq, AccessToken)

	// 后台获取仍阻塞在远端时，前台调用到达
	res := credentialAsync(b, AccessToken)
	time.Sleep(20 * time.Millisecond)
	close(acq.gate)

	got := <-res
	require.NoError(t, got.err)
	assert.Equal(t, "access_token-1", got.value)
	assert.Equal(t, 1, acq.Calls(AccessToken), "前台与后台应合并为一次获取")
}

func TestBroker_ForegroundJoinsForcedRefresh(t *testing.T) {
	clock := newFakeClock()
	acq := newFakeAcquirer()
	b := newTestBroker(t, acq, clock, Options{})
	ctx := context.Background()

	_, err := b.Credential(ctx, AccessToken)
	require.NoError(t, err)
	// 缓存的令牌已过期，周期任务正在强制重新获取
	clock.Advance(time.Hour)

	acq.mu.Lock()
	acq.gate = make(chan struct{})
	acq.entered = make(chan SlotName, 8)
	acq.mu.Unlock()

	forced := make(chan credentialResult, 1)
	go func() {
		v, err := b.acquire(ctx, AccessToken, true)
		forced <- credentialResult{value: v, err: err}
	}()
	waitEntered(t, acq, AccessToken)

	res := credentialAsync(b, AccessToken)
	time.Sleep(20 * time.Millisecond)
	close(acq.gate)

	got := <-res
	require.NoError(t, got.err)
	assert.Equal(t, "access_token-2", got.value)
	bg := <-forced
	require.NoError(t, bg.err)
	assert.Equal(t, "access_token-2", bg.value)
	assert.Equal(t, 2, acq.Calls(AccessToken), "强制刷新与前台调用只产生一次新的获取")
}

func TestBroker_ClearCacheDuringAcquisitionJoinsFlight(t *testing.T) {
	clock := newFakeClock()
	acq := newFakeAcquirer()
	acq.gate = make(chan struct{})
	acq.entered = make(chan SlotName, 8)
	b := newTestBroker(t, acq, clock, Options{})
	ctx := context.Background()

	first := credentialAsync(b, AccessToken)
	waitEntered(t, acq, AccessToken)

	// 进行中的获取不会被 ClearCache 取消，随后的调用加入该获取
	require.NoError(t, b.ClearCache(ctx))
	second := credentialAsync(b, AccessToken)
	time.Sleep(20 * time.Millisecond)
	close(acq.gate)

	r1, r2 := <-first, <-second
	require.NoError(t, r1.err)
	require.NoError(t, r2.err)
	assert.Equal(t, "access_token-1", r1.value)
	assert.Equal(t, "access_token-1", r2.value)
	assert.Equal(t, 1, acq.Calls(AccessToken))
	assert.Equal(t, "valid", b.CacheStatus(ctx).State(AccessToken), "获取结果仍写入缓存")

	// 没有进行中的获取时，ClearCache 之后总是重新获取
	require.NoError(t, b.ClearCache(ctx))
	v, err := b.Credential(ctx, AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "access_token-2", v)
	assert.Equal(t, 2, acq.Calls(AccessToken))
}

func TestBroker_Refresh(t *testing.T) {
	clock := newFakeClock()
	acq := newFakeAcquirer()
	b := newTestBroker(t, acq, clock, Options{})
	ctx := context.Background()

	_, err := b.Credential(ctx, AccessToken)
	require.NoError(t, err)

	errs, err := b.Refresh(ctx)
	require.NoError(t, err)
	assert.NoError(t, errs[AccessToken])
	assert.NoError(t, errs[ApprovalKey])
	assert.Equal(t, 2, acq.Calls(AccessToken))
	assert.Equal(t, 1, acq.Calls(ApprovalKey))
	assert.Equal(t, 2, b.CacheStatus(ctx).CacheSize)
}

func TestBroker_BackgroundRefreshIsIdempotent(t *testing.T) {
	clock := newFakeClock()
	acq := newFakeAcquirer()
	b := newTestBroker(t, acq, clock, Options{})

	b.StartBackgroundRefresh()
	assert.Eventually(t, func() bool {
		return acq.Calls(AccessToken) == 1 && acq.Calls(ApprovalKey) == 1
	}, time.Second, 5*time.Millisecond)

	b.StartBackgroundRefresh()
	time.Sleep(30 * time.Millisecond)

	assert.Equal(t, 1, acq.Calls(AccessToken), "第二次启动不应触发新的获取")
	assert.Equal(t, 1, acq.Calls(ApprovalKey))
	assert.True(t, b.CacheStatus(context.Background()).AutoRefreshEnabled)
}

func TestBroker_BackgroundRefreshRenewsBeforeExpiry(t *testing.T) {
	clock := newFakeClock()
	acq := newFakeAcquirer()
	b := newTestBroker(t, acq, clock, Options{
		RefreshIntervals: map[SlotName]time.Duration{
			AccessToken: 10 * time.Millisecond,
			ApprovalKey: time.Hour,
		},
	})

	b.StartBackgroundRefresh()
	assert.Eventually(t, func() bool {
		return acq.Calls(AccessToken) >= 3
	}, time.Second, 5*time.Millisecond, "周期任务应强制重新获取")

	b.Stop()
	time.Sleep(20 * time.Millisecond)
	stopped := acq.Calls(AccessToken)
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, stopped, acq.Calls(AccessToken), "Stop 之后不应再有刷新")
	assert.Equal(t, 1, acq.Calls(ApprovalKey))
	assert.False(t, b.CacheStatus(context.Background()).AutoRefreshEnabled)
}

func TestBroker_BackgroundFailuresAreSwallowed(t *testing.T) {
	clock := newFakeClock()
	acq := newFakeAcquirer()
	acq.err = errors.New("remote down")
	b := newTestBroker(t, acq, clock, Options{})

	b.StartBackgroundRefresh()
	assert.Eventually(t, func() bool {
		return acq.Calls(AccessToken) == 1 && acq.Calls(ApprovalKey) == 1
	}, time.Second, 5*time.Millisecond)

	// 后台失败只意味着前台调用会自行获取
	acq.SetErr(nil)
	v, err := b.Credential(context.Background(), AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "access_token-2", v)
}

func TestBroker_BackgroundFailureKeepsValidCredential(t *testing.T) {
	clock := newFakeClock()
	acq := newFakeAcquirer()
	b := newTestBroker(t, acq, clock, Options{
		RefreshIntervals: map[SlotName]time.Duration{
			AccessToken: 10 * time.Millisecond,
			ApprovalKey: time.Hour,
		},
	})
	ctx := context.Background()

	_, err := b.Credential(ctx, AccessToken)
	require.NoError(t, err)
	acq.SetErr(errors.New("remote down"))

	b.StartBackgroundRefresh()
	assert.Eventually(t, func() bool {
		return acq.Calls(AccessToken) >= 2
	}, time.Second, 5*time.Millisecond)

	v, err := b.Credential(ctx, AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "access_token-1", v, "后台失败时继续使用仍然有效的旧凭据")
}

func TestBroker_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	require.NoError(t, err)

	clock := newFakeClock()
	b := newTestBroker(t, newFakeAcquirer(), clock, Options{Metrics: m})
	ctx := context.Background()

	_, _ = b.Credential(ctx, AccessToken)
	_, _ = b.Credential(ctx, AccessToken)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.acquisitions.WithLabelValues("access_token", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.lookups.WithLabelValues("access_token", "hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.lookups.WithLabelValues("access_token", "miss")))
}

type acquirerFunc func(ctx context.Context, name SlotName) (Grant, error)

func (f acquirerFunc) Acquire(ctx context.Context, name SlotName) (Grant, error) {
	return f(ctx, name)
}
