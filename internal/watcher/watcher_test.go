package watcher

import (
	"context"
	stderrors "errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"balwatch/internal/notify"
	"balwatch/internal/progress"
	"balwatch/internal/state"
)

const (
	addrA = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	addrB = "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
)

// fakeChain 可控的链上读取器
type fakeChain struct {
	mu           sync.Mutex
	height       uint64
	heightErr    error
	balances     map[string]*big.Int
	balanceErrs  map[string]error
	balanceCalls int
	onBalance    func(address string)
}

func newFakeChain(height uint64) *fakeChain {
	return &fakeChain{
		height:      height,
		balances:    make(map[string]*big.Int),
		balanceErrs: make(map[string]error),
	}
}

func (f *fakeChain) BlockNumber(ctx context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.heightErr != nil {
		return 0, f.heightErr
	}
	return f.height, nil
}

func (f *fakeChain) BalanceAt(ctx context.Context, address string) (*big.Int, error) {
	f.mu.Lock()
	f.balanceCalls++
	err := f.balanceErrs[address]
	balance, ok := f.balances[address]
	hook := f.onBalance
	f.mu.Unlock()

	if hook != nil {
		hook(address)
	}
	if err != nil {
		return nil, err
	}
	if ok {
		return new(big.Int).Set(balance), nil
	}
	return big.NewInt(0), nil
}

func (f *fakeChain) setHeight(height uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.height = height
}

func (f *fakeChain) setBalance(address string, balance *big.Int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balances[address] = balance
}

func (f *fakeChain) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balanceCalls
}

// captureNotifier 记录投递的通知文本
type captureNotifier struct {
	mu    sync.Mutex
	sent  map[int64][]string
	calls int
}

func newCaptureNotifier() *captureNotifier {
	return &captureNotifier{sent: make(map[int64][]string)}
}

func (c *captureNotifier) Send(ctx context.Context, chatID int64, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent[chatID] = append(c.sent[chatID], text)
	c.calls++
	return nil
}

func (c *captureNotifier) total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func (c *captureNotifier) messagesFor(chatID int64) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.sent[chatID]...)
}

type fixture struct {
	watcher  *Watcher
	chain    *fakeChain
	store    *state.Store
	notifier *captureNotifier
	progress *progress.Manager
}

func newFixture(t *testing.T, overrideChatID int64) *fixture {
	t.Helper()

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	dir := t.TempDir()
	store, err := state.NewStore(dir+"/state.json", logger)
	require.NoError(t, err)

	progressMgr, err := progress.NewManager(dir+"/progress.db", logger)
	require.NoError(t, err)
	t.Cleanup(func() { progressMgr.Close() })

	chainReader := newFakeChain(100)
	notifier := newCaptureNotifier()
	dispatcher := notify.NewDispatcher(notifier, "ETH", overrideChatID, logger, nil)

	w := NewWatcher(chainReader, store, progressMgr, dispatcher,
		50*time.Millisecond, logger, nil)

	return &fixture{
		watcher:  w,
		chain:    chainReader,
		store:    store,
		notifier: notifier,
		progress: progressMgr,
	}
}

func TestSweep_FirstObservationSeedsBaselineSilently(t *testing.T) {
	f := newFixture(t, 999)
	_, err := f.store.AddAddress(addrA, 0)
	require.NoError(t, err)
	f.chain.setBalance(addrA, big.NewInt(1000))

	f.watcher.sweep(context.Background(), 100)

	// 基线建立，不发送任何通知
	assert.Equal(t, 0, f.notifier.total())

	tracked, ok := f.store.Get(addrA)
	require.True(t, ok)
	require.True(t, tracked.HasBaseline())
	assert.Equal(t, int64(1000), tracked.LastBalance.Int64())
}

func TestSweep_BalanceChangeTriggersNotification(t *testing.T) {
	f := newFixture(t, 999)
	_, err := f.store.AddAddress(addrA, 0)
	require.NoError(t, err)

	f.chain.setBalance(addrA, big.NewInt(1000))
	f.watcher.sweep(context.Background(), 100)

	f.chain.setBalance(addrA, big.NewInt(1500))
	f.watcher.sweep(context.Background(), 101)

	messages := f.notifier.messagesFor(999)
	require.Len(t, messages, 1)
	assert.Contains(t, messages[0], addrA)

	tracked, _ := f.store.Get(addrA)
	assert.Equal(t, int64(1500), tracked.LastBalance.Int64())
}

func TestSweep_UnchangedBalanceStaysSilent(t *testing.T) {
	f := newFixture(t, 999)
	_, err := f.store.AddAddress(addrA, 0)
	require.NoError(t, err)
	f.chain.setBalance(addrA, big.NewInt(1000))

	f.watcher.sweep(context.Background(), 100)
	f.watcher.sweep(context.Background(), 101)
	f.watcher.sweep(context.Background(), 102)

	assert.Equal(t, 0, f.notifier.total())
}

func TestSweep_PerAddressFailureIsolated(t *testing.T) {
	f := newFixture(t, 999)
	_, err := f.store.AddAddress(addrA, 0)
	require.NoError(t, err)
	_, err = f.store.AddAddress(addrB, 0)
	require.NoError(t, err)

	f.chain.setBalance(addrA, big.NewInt(1000))
	f.chain.setBalance(addrB, big.NewInt(2000))
	f.watcher.sweep(context.Background(), 100)

	// 地址A查询失败，地址B的变动仍被检测并通知
	f.chain.balanceErrs[addrA] = stderrors.New("node not ready")
	f.chain.setBalance(addrB, big.NewInt(2500))
	f.watcher.sweep(context.Background(), 101)

	messages := f.notifier.messagesFor(999)
	require.Len(t, messages, 1)
	assert.Contains(t, messages[0], addrB)

	// 失败地址的基线不变
	tracked, _ := f.store.Get(addrA)
	assert.Equal(t, int64(1000), tracked.LastBalance.Int64())
}

func TestSweep_RemovedAddressNeverNotified(t *testing.T) {
	f := newFixture(t, 999)
	_, err := f.store.AddAddress(addrA, 0)
	require.NoError(t, err)

	f.chain.setBalance(addrA, big.NewInt(1000))
	f.watcher.sweep(context.Background(), 100)

	// 移除发生在扫描快照之后、余额比较之前
	f.chain.setBalance(addrA, big.NewInt(5000))
	f.chain.onBalance = func(address string) {
		require.NoError(t, f.store.RemoveAddress(address))
	}
	f.watcher.sweep(context.Background(), 101)

	assert.Equal(t, 0, f.notifier.total())
	assert.Equal(t, 0, f.store.Count())
}

func TestSweep_BoundChatPreferredOverOverride(t *testing.T) {
	f := newFixture(t, 999)
	_, err := f.store.AddAddress(addrA, 42)
	require.NoError(t, err)

	f.chain.setBalance(addrA, big.NewInt(1000))
	f.watcher.sweep(context.Background(), 100)

	f.chain.setBalance(addrA, big.NewInt(2000))
	f.watcher.sweep(context.Background(), 101)

	assert.Len(t, f.notifier.messagesFor(42), 1)
	assert.Empty(t, f.notifier.messagesFor(999))
}

func TestPoll_UnchangedHeightSkipsSweep(t *testing.T) {
	f := newFixture(t, 999)
	_, err := f.store.AddAddress(addrA, 0)
	require.NoError(t, err)

	f.watcher.poll(context.Background())
	callsAfterFirst := f.chain.calls()
	assert.Equal(t, 1, callsAfterFirst)

	// 高度不变，不再扫描
	f.watcher.poll(context.Background())
	f.watcher.poll(context.Background())
	assert.Equal(t, callsAfterFirst, f.chain.calls())

	// 高度变化后恢复扫描
	f.chain.setHeight(101)
	f.watcher.poll(context.Background())
	assert.Equal(t, callsAfterFirst+1, f.chain.calls())
}

func TestPoll_HeightFailureBacksOffWithoutSweep(t *testing.T) {
	f := newFixture(t, 999)
	_, err := f.store.AddAddress(addrA, 0)
	require.NoError(t, err)

	f.chain.heightErr = stderrors.New("connection refused")
	f.watcher.poll(context.Background())

	assert.Equal(t, 0, f.chain.calls())
	assert.Equal(t, uint64(0), f.watcher.LastObservedHeight())
}

func TestWatcher_RestartResumesObservedHeight(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	dir := t.TempDir()

	store, err := state.NewStore(dir+"/state.json", logger)
	require.NoError(t, err)
	_, err = store.AddAddress(addrA, 0)
	require.NoError(t, err)

	progressMgr, err := progress.NewManager(dir+"/progress.db", logger)
	require.NoError(t, err)
	require.NoError(t, progressMgr.RecordSweep(100, 0))
	require.NoError(t, progressMgr.Close())

	// 重启：进度数据库中的高度被沿用，相同高度不触发扫描
	progressMgr, err = progress.NewManager(dir+"/progress.db", logger)
	require.NoError(t, err)
	defer progressMgr.Close()

	chainReader := newFakeChain(100)
	dispatcher := notify.NewDispatcher(newCaptureNotifier(), "ETH", 999, logger, nil)
	w := NewWatcher(chainReader, store, progressMgr, dispatcher,
		50*time.Millisecond, logger, nil)

	assert.Equal(t, uint64(100), w.LastObservedHeight())

	w.poll(context.Background())
	assert.Equal(t, 0, chainReader.calls())
}

func TestWatcher_PauseAndResume(t *testing.T) {
	f := newFixture(t, 999)

	assert.Equal(t, StateIdle, f.watcher.State())

	f.watcher.Pause()
	assert.True(t, f.watcher.IsPaused())
	assert.Equal(t, StatePaused, f.watcher.State())

	f.watcher.Resume()
	assert.False(t, f.watcher.IsPaused())
	assert.Equal(t, StateIdle, f.watcher.State())
}

func TestWatcher_RunStopsOnContextCancel(t *testing.T) {
	f := newFixture(t, 999)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.watcher.Run(ctx) }()

	time.Sleep(120 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("轮询循环未在上下文取消后退出")
	}
}

func TestSweep_RecordsProgress(t *testing.T) {
	f := newFixture(t, 999)
	_, err := f.store.AddAddress(addrA, 0)
	require.NoError(t, err)
	f.chain.setBalance(addrA, big.NewInt(1000))

	f.watcher.sweep(context.Background(), 100)
	f.chain.setBalance(addrA, big.NewInt(2000))
	f.watcher.sweep(context.Background(), 101)

	info := f.progress.GetProgress()
	assert.Equal(t, uint64(101), info.LastObservedHeight)
	assert.Equal(t, uint64(2), info.TotalSweeps)
	assert.Equal(t, uint64(1), info.TotalNotifications)
}
