package plan

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/planpay/planpay-go/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "plans.json"))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return s
}

func TestGrantStatusRoundTrip(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.Grant("42", 5, 7, 2.5); err != nil {
		t.Fatalf("grant: %v", err)
	}

	status, err := s.Status("42")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.Remaining != 5 {
		t.Errorf("remaining = %d, want 5", status.Remaining)
	}
	if status.DaysLeft < 6 || status.DaysLeft > 7 {
		t.Errorf("daysLeft = %d, want 7 (±1)", status.DaysLeft)
	}
	if status.MaxPerTx != 2.5 {
		t.Errorf("maxPerTx = %v, want 2.5", status.MaxPerTx)
	}
	if status.Used != 0 {
		t.Errorf("used = %d, want 0", status.Used)
	}
	if status.Expired {
		t.Error("fresh plan must not be expired")
	}
	if !status.EndDate.Equal(status.StartDate.AddDate(0, 0, 7)) {
		t.Errorf("endDate %v must equal startDate %v + 7d", status.EndDate, status.StartDate)
	}
}

func TestGrantRejectsNonPositiveArgs(t *testing.T) {
	s := newTestStore(t)

	tests := []struct {
		name       string
		principal  string
		quota      int
		windowDays int
		maxPerTx   float64
	}{
		{name: "zero quota", principal: "42", quota: 0, windowDays: 1, maxPerTx: 1},
		{name: "negative quota", principal: "42", quota: -1, windowDays: 1, maxPerTx: 1},
		{name: "zero days", principal: "42", quota: 1, windowDays: 0, maxPerTx: 1},
		{name: "zero cap", principal: "42", quota: 1, windowDays: 1, maxPerTx: 0},
		{name: "empty principal", principal: "", quota: 1, windowDays: 1, maxPerTx: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Grant(tt.principal, tt.quota, tt.windowDays, tt.maxPerTx)
			if !types.IsCode(err, types.CodeValidation) {
				t.Errorf("error code mismatch: %v", err)
			}
		})
	}
}

func TestGrantOverwritesAndResetsUsed(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.Grant("42", 3, 7, 1); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if _, err := s.AuthorizeAndConsume("42", 0.5); err != nil {
		t.Fatalf("consume: %v", err)
	}

	if _, err := s.Grant("42", 10, 30, 5); err != nil {
		t.Fatalf("re-grant: %v", err)
	}
	status, err := s.Status("42")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.Used != 0 || status.Quota != 10 || status.MaxPerTx != 5 {
		t.Errorf("re-grant must reset used and replace fields, got used=%d quota=%d cap=%v",
			status.Used, status.Quota, status.MaxPerTx)
	}
}

func TestUpdatePreservesUsed(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.Grant("42", 3, 7, 1); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if _, err := s.AuthorizeAndConsume("42", 0.5); err != nil {
		t.Fatalf("consume: %v", err)
	}

	rec, err := s.Update("42", 10, 30, 5)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if rec.Used != 1 {
		t.Errorf("used = %d, want preserved 1", rec.Used)
	}
	if rec.Quota != 10 || rec.WindowDays != 30 || rec.MaxPerTx != 5 {
		t.Errorf("quota/window/cap not replaced exactly: %+v", rec)
	}
	if !rec.EndDate.Equal(rec.StartDate.AddDate(0, 0, 30)) {
		t.Errorf("endDate %v must equal startDate %v + 30d", rec.EndDate, rec.StartDate)
	}
}

func TestUpdateWithoutPlan(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Update("ghost", 1, 1, 1)
	if !types.IsCode(err, types.CodeNotFound) {
		t.Errorf("error code mismatch: %v", err)
	}
}

func TestRevoke(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.Grant("42", 1, 1, 1); err != nil {
		t.Fatalf("grant: %v", err)
	}
	existed, err := s.Revoke("42")
	if err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if !existed {
		t.Error("revoke must report the plan existed")
	}
	if _, err := s.Status("42"); !types.IsCode(err, types.CodeNotFound) {
		t.Errorf("status after revoke: %v", err)
	}

	existed, err = s.Revoke("42")
	if err != nil {
		t.Fatalf("second revoke: %v", err)
	}
	if existed {
		t.Error("second revoke must report no plan")
	}
}

// TestSpendScenario 覆盖完整配额生命周期：
// 批准 → 超限拒绝 → 用尽并回收 → 无计划
func TestSpendScenario(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.Grant("42", 3, 1, 1.0); err != nil {
		t.Fatalf("grant: %v", err)
	}

	// 第一次 0.5：批准，剩余 2
	d, err := s.AuthorizeAndConsume("42", 0.5)
	if err != nil {
		t.Fatalf("spend 1: %v", err)
	}
	if !d.Approved || d.Remaining != 2 {
		t.Fatalf("spend 1: approved=%v remaining=%d, want approved remaining=2", d.Approved, d.Remaining)
	}

	// 1.5 超出单笔上限：拒绝，不扣减
	d, err = s.AuthorizeAndConsume("42", 1.5)
	if err != nil {
		t.Fatalf("over-cap spend: %v", err)
	}
	if d.Approved || d.Reason != DenyAmountExceedsCap {
		t.Fatalf("over-cap spend: %+v, want denied amount_exceeds_cap", d)
	}
	status, err := s.Status("42")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.Used != 1 {
		t.Errorf("over-cap denial must not consume quota, used=%d", status.Used)
	}

	// 第二次 0.5：批准
	if d, err = s.AuthorizeAndConsume("42", 0.5); err != nil || !d.Approved {
		t.Fatalf("spend 2: d=%+v err=%v", d, err)
	}

	// 第三次 0.5：批准并用尽，计划随本次调用回收
	d, err = s.AuthorizeAndConsume("42", 0.5)
	if err != nil {
		t.Fatalf("spend 3: %v", err)
	}
	if !d.Approved || !d.Evicted || d.Remaining != 0 {
		t.Fatalf("spend 3: %+v, want approved+evicted remaining=0", d)
	}
	if _, err := s.Status("42"); !types.IsCode(err, types.CodeNotFound) {
		t.Errorf("exhausted plan must be gone from Status: %v", err)
	}

	// 第四次：无计划
	d, err = s.AuthorizeAndConsume("42", 0.5)
	if err != nil {
		t.Fatalf("spend 4: %v", err)
	}
	if d.Approved || d.Reason != DenyNoPlan {
		t.Fatalf("spend 4: %+v, want denied no_plan", d)
	}
}

func TestExpiredPlanLazilyEvicted(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.Grant("42", 3, 1, 1); err != nil {
		t.Fatalf("grant: %v", err)
	}

	// 时钟前进 2 天
	s.now = func() time.Time { return time.Now().AddDate(0, 0, 2) }

	// Status 只读：报告过期但不回收
	status, err := s.Status("42")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !status.Expired {
		t.Error("status must report expired")
	}
	if status.DaysLeft != 0 {
		t.Errorf("daysLeft = %d, want 0", status.DaysLeft)
	}
	if _, err := s.Status("42"); err != nil {
		t.Fatalf("status must not evict: %v", err)
	}

	// 下一次消费访问：拒绝并回收
	d, err := s.AuthorizeAndConsume("42", 0.5)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if d.Approved || d.Reason != DenyExpired {
		t.Fatalf("decision = %+v, want denied expired", d)
	}
	if _, err := s.Status("42"); !types.IsCode(err, types.CodeNotFound) {
		t.Errorf("expired plan must be gone after access: %v", err)
	}
}

func TestReleaseReturnsReservedUnit(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.Grant("42", 3, 1, 1); err != nil {
		t.Fatalf("grant: %v", err)
	}

	before, err := s.Status("42")
	if err != nil {
		t.Fatalf("status: %v", err)
	}

	d, err := s.AuthorizeAndConsume("42", 0.5)
	if err != nil || !d.Approved {
		t.Fatalf("consume: d=%+v err=%v", d, err)
	}
	if err := s.Release("42", d); err != nil {
		t.Fatalf("release: %v", err)
	}

	after, err := s.Status("42")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if after.Remaining != before.Remaining {
		t.Errorf("remaining = %d, want unchanged %d", after.Remaining, before.Remaining)
	}
}

func TestReleaseReinstatesEvictedPlan(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.Grant("42", 1, 1, 1); err != nil {
		t.Fatalf("grant: %v", err)
	}

	// 最后一次批准用尽配额并回收计划
	d, err := s.AuthorizeAndConsume("42", 0.5)
	if err != nil || !d.Approved || !d.Evicted {
		t.Fatalf("consume: d=%+v err=%v", d, err)
	}
	if _, err := s.Status("42"); !types.IsCode(err, types.CodeNotFound) {
		t.Fatalf("plan should be evicted: %v", err)
	}

	// 广播失败后归还：计划按扣减前状态恢复
	if err := s.Release("42", d); err != nil {
		t.Fatalf("release: %v", err)
	}
	status, err := s.Status("42")
	if err != nil {
		t.Fatalf("status after release: %v", err)
	}
	if status.Used != 0 || status.Remaining != 1 {
		t.Errorf("reinstated plan used=%d remaining=%d, want 0/1", status.Used, status.Remaining)
	}
}

func TestReleaseDoesNotTouchFreshGrant(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.Grant("42", 1, 1, 1); err != nil {
		t.Fatalf("grant: %v", err)
	}
	d, err := s.AuthorizeAndConsume("42", 0.5)
	if err != nil || !d.Approved {
		t.Fatalf("consume: d=%+v err=%v", d, err)
	}

	// 预扣与归还之间管理员重新授予了计划
	if _, err := s.Grant("42", 5, 7, 2); err != nil {
		t.Fatalf("re-grant: %v", err)
	}
	if err := s.Release("42", d); err != nil {
		t.Fatalf("release: %v", err)
	}

	status, err := s.Status("42")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.Used != 0 || status.Quota != 5 {
		t.Errorf("fresh grant must be untouched, used=%d quota=%d", status.Used, status.Quota)
	}
}

func TestReleaseIgnoresDeniedDecision(t *testing.T) {
	s := newTestStore(t)
	if err := s.Release("42", &Decision{Approved: false, Reason: DenyNoPlan}); err != nil {
		t.Fatalf("release of denied decision: %v", err)
	}
	if err := s.Release("42", nil); err != nil {
		t.Fatalf("release of nil decision: %v", err)
	}
}

// TestConcurrentSpendsNeverOverAdmit N 个并发消费对剩余 k 的计划恰好批准 k 次
func TestConcurrentSpendsNeverOverAdmit(t *testing.T) {
	s := newTestStore(t)

	const quota = 5
	const workers = 20

	if _, err := s.Grant("42", quota, 1, 1); err != nil {
		t.Fatalf("grant: %v", err)
	}

	var wg sync.WaitGroup
	decisions := make(chan *Decision, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := s.AuthorizeAndConsume("42", 0.5)
			if err != nil {
				t.Errorf("consume: %v", err)
				return
			}
			decisions <- d
		}()
	}
	wg.Wait()
	close(decisions)

	approved, denied := 0, 0
	for d := range decisions {
		if d.Approved {
			approved++
			if d.Used > quota {
				t.Errorf("used %d exceeded quota %d", d.Used, quota)
			}
		} else {
			denied++
			if d.Reason != DenyQuotaExhausted && d.Reason != DenyNoPlan {
				t.Errorf("unexpected denial reason: %s", d.Reason)
			}
		}
	}
	if approved != quota {
		t.Errorf("approved = %d, want exactly %d", approved, quota)
	}
	if denied != workers-quota {
		t.Errorf("denied = %d, want %d", denied, workers-quota)
	}
}

// TestConcurrentPrincipalsIndependent 不同用户的并发操作互不干扰
func TestConcurrentPrincipalsIndependent(t *testing.T) {
	s := newTestStore(t)

	principals := []string{"a", "b", "c", "d"}
	for _, p := range principals {
		if _, err := s.Grant(p, 10, 1, 1); err != nil {
			t.Fatalf("grant %s: %v", p, err)
		}
	}

	var wg sync.WaitGroup
	for _, p := range principals {
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func(p string) {
				defer wg.Done()
				if _, err := s.AuthorizeAndConsume(p, 0.5); err != nil {
					t.Errorf("consume %s: %v", p, err)
				}
			}(p)
		}
	}
	wg.Wait()

	for _, p := range principals {
		// 每个用户恰好用尽自己的 10 次并被回收
		if _, err := s.Status(p); !types.IsCode(err, types.CodeNotFound) {
			t.Errorf("principal %s: expected evicted plan, got %v", p, err)
		}
	}
}

func TestPersistenceAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plans.json")

	s, err := NewStore(path)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if _, err := s.Grant("42", 3, 7, 1.5); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if _, err := s.AuthorizeAndConsume("42", 1); err != nil {
		t.Fatalf("consume: %v", err)
	}

	// 重启：预扣未确认的一次按已消费处理
	reopened, err := NewStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	status, err := reopened.Status("42")
	if err != nil {
		t.Fatalf("status after reopen: %v", err)
	}
	if status.Used != 1 || status.Remaining != 2 {
		t.Errorf("reloaded used=%d remaining=%d, want 1/2", status.Used, status.Remaining)
	}
}

func TestPersistedLayout(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plans.json")

	s, err := NewStore(path)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if _, err := s.Grant("42", 3, 7, 1.5); err != nil {
		t.Fatalf("grant: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read plans file: %v", err)
	}
	var payload map[string]map[string]interface{}
	if err := json.Unmarshal(raw, &payload); err != nil {
		t.Fatalf("decode plans file: %v", err)
	}
	rec, ok := payload["42"]
	if !ok {
		t.Fatal("record for principal 42 missing")
	}
	for _, key := range []string{"quota", "used", "windowDays", "startDate", "endDate", "maxPerTx", "createdAt"} {
		if _, ok := rec[key]; !ok {
			t.Errorf("persisted record missing key %q", key)
		}
	}
}

func TestNewStoreRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plans.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	if _, err := NewStore(path); !types.IsCode(err, types.CodeStorage) {
		t.Errorf("error code mismatch: %v", err)
	}
}
