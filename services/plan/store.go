package plan

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/planpay/planpay-go/types"
)

// DenyReason 授权拒绝原因
type DenyReason string

const (
	// DenyNoPlan 用户没有计划
	DenyNoPlan DenyReason = "no_plan"
	// DenyExpired 计划已过期（访问时惰性回收）
	DenyExpired DenyReason = "expired"
	// DenyQuotaExhausted 次数已用尽（访问时惰性回收）
	DenyQuotaExhausted DenyReason = "quota_exhausted"
	// DenyAmountExceedsCap 金额超出单笔上限
	DenyAmountExceedsCap DenyReason = "amount_exceeds_cap"
)

// Record 单个用户的计划记录
//
// JSON 布局对外固定：{quota, used, windowDays, startDate, endDate, maxPerTx, createdAt}
type Record struct {
	Quota      int       `json:"quota"`
	Used       int       `json:"used"`
	WindowDays int       `json:"windowDays"`
	StartDate  time.Time `json:"startDate"`
	EndDate    time.Time `json:"endDate"`
	MaxPerTx   float64   `json:"maxPerTx"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Decision 一次授权扣减的结果
//
// Approved 为 true 时本次扣减已落盘（预扣即生效）；
// 广播失败时调用 Release 归还预扣的一个配额
type Decision struct {
	Approved bool
	Reason   DenyReason

	// Used 批准后累计已用次数（含本次）
	Used int
	// Remaining 批准后剩余次数
	Remaining int
	// Evicted 本次扣减是否用尽配额并回收了计划
	Evicted bool

	// prior 扣减前的记录快照，供 Release 恢复被回收的计划
	prior *Record
}

// StatusView 计划状态快照（只读，不触发回收）
type StatusView struct {
	Record

	// DaysLeft 剩余天数（向上取整，最小为 0）
	DaysLeft int
	// Remaining 剩余可用次数（最小为 0）
	Remaining int
	// Expired 是否已过有效期
	Expired bool
}

// Store 计划存储
//
// **并发模型**：
// - 每个用户一把互斥锁：同一用户的变更操作线性化，不同用户互不阻塞
// - 任何锁都不会跨网络调用持有
// - 每次变更先落盘再返回；重启后"已预扣未确认"按已消费处理（宁少不多）
type Store struct {
	path string
	now  func() time.Time

	mu    sync.Mutex // 保护 plans / locks 两张表
	plans map[string]*Record
	locks map[string]*sync.Mutex

	fileMu sync.Mutex // 串行化文件写入
}

// NewStore 打开（或初始化）计划存储
func NewStore(path string) (*Store, error) {
	s := &Store{
		path:  path,
		now:   time.Now,
		plans: make(map[string]*Record),
		locks: make(map[string]*sync.Mutex),
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return s, nil
		}
		return nil, storageError("read plans file failed", err)
	}
	if err := json.Unmarshal(raw, &s.plans); err != nil {
		return nil, storageError("decode plans file failed", err)
	}
	return s, nil
}

// Grant 创建或整体覆盖用户计划（used 归零）
func (s *Store) Grant(principal string, quota, windowDays int, maxPerTx float64) (*Record, error) {
	if err := validateArgs(principal, quota, windowDays, maxPerTx); err != nil {
		return nil, err
	}

	lock := s.lockFor(principal)
	lock.Lock()
	defer lock.Unlock()

	now := s.now()
	rec := &Record{
		Quota:      quota,
		Used:       0,
		WindowDays: windowDays,
		StartDate:  now,
		EndDate:    now.AddDate(0, 0, windowDays),
		MaxPerTx:   maxPerTx,
		CreatedAt:  now,
	}

	prev := s.getRecord(principal)
	s.setRecord(principal, rec)
	if err := s.persist(); err != nil {
		s.setRecord(principal, prev)
		return nil, err
	}

	out := *rec
	return &out, nil
}

// Update 更新用户计划：替换配额/有效期/单笔上限，保留 used 与 createdAt
func (s *Store) Update(principal string, quota, windowDays int, maxPerTx float64) (*Record, error) {
	if err := validateArgs(principal, quota, windowDays, maxPerTx); err != nil {
		return nil, err
	}

	lock := s.lockFor(principal)
	lock.Lock()
	defer lock.Unlock()

	prev := s.getRecord(principal)
	if prev == nil {
		return nil, types.NewError(types.CodeNotFound, "User plan not found", "", nil)
	}

	now := s.now()
	rec := &Record{
		Quota:      quota,
		Used:       prev.Used,
		WindowDays: windowDays,
		StartDate:  now,
		EndDate:    now.AddDate(0, 0, windowDays),
		MaxPerTx:   maxPerTx,
		CreatedAt:  prev.CreatedAt,
	}

	s.setRecord(principal, rec)
	if err := s.persist(); err != nil {
		s.setRecord(principal, prev)
		return nil, err
	}

	out := *rec
	return &out, nil
}

// Revoke 删除用户计划，返回是否存在过
func (s *Store) Revoke(principal string) (bool, error) {
	lock := s.lockFor(principal)
	lock.Lock()
	defer lock.Unlock()

	prev := s.getRecord(principal)
	if prev == nil {
		return false, nil
	}

	s.setRecord(principal, nil)
	if err := s.persist(); err != nil {
		s.setRecord(principal, prev)
		return false, err
	}
	return true, nil
}

// AuthorizeAndConsume 原子地判定并预扣一次配额
//
// **语义**：
// - 同一用户下与其它变更操作互斥，判定与扣减不可分割
// - 过期/用尽在此处被惰性回收（先回收再返回拒绝）
// - 批准时 used 恰好 +1 并落盘；若本次恰好用尽配额，计划随本次调用一并回收
// - 拒绝不返回 error；只有存储故障才以 error 返回
func (s *Store) AuthorizeAndConsume(principal string, amount float64) (*Decision, error) {
	lock := s.lockFor(principal)
	lock.Lock()
	defer lock.Unlock()

	rec := s.getRecord(principal)
	if rec == nil {
		return &Decision{Approved: false, Reason: DenyNoPlan}, nil
	}

	now := s.now()

	// 过期：回收后拒绝
	if now.After(rec.EndDate) {
		s.setRecord(principal, nil)
		if err := s.persist(); err != nil {
			s.setRecord(principal, rec)
			return nil, err
		}
		return &Decision{Approved: false, Reason: DenyExpired}, nil
	}

	// 用尽：回收后拒绝（正常路径下已在最后一次批准时回收，此处兜底）
	if rec.Used >= rec.Quota {
		s.setRecord(principal, nil)
		if err := s.persist(); err != nil {
			s.setRecord(principal, rec)
			return nil, err
		}
		return &Decision{Approved: false, Reason: DenyQuotaExhausted}, nil
	}

	// 超出单笔上限：不回收，不扣减
	if amount > rec.MaxPerTx {
		return &Decision{Approved: false, Reason: DenyAmountExceedsCap}, nil
	}

	// 批准：预扣一次并落盘
	prior := *rec
	next := *rec
	next.Used++
	evicted := next.Used >= next.Quota
	if evicted {
		s.setRecord(principal, nil)
	} else {
		s.setRecord(principal, &next)
	}
	if err := s.persist(); err != nil {
		s.setRecord(principal, rec)
		return nil, err
	}

	return &Decision{
		Approved:  true,
		Used:      next.Used,
		Remaining: next.Quota - next.Used,
		Evicted:   evicted,
		prior:     &prior,
	}, nil
}

// Release 归还一次预扣的配额（广播失败时调用）
//
// **说明**：
// - 只对批准过的 Decision 有效，幂等性由调用方保证（每次预扣至多归还一次）
// - 预扣导致计划被回收时，按扣减前快照恢复记录
// - 预扣之后管理员重新 Grant 过的，不恢复旧窗口（used 为 0 时不动）
func (s *Store) Release(principal string, d *Decision) error {
	if d == nil || !d.Approved {
		return nil
	}

	lock := s.lockFor(principal)
	lock.Lock()
	defer lock.Unlock()

	rec := s.getRecord(principal)
	if rec != nil {
		if rec.Used == 0 {
			return nil
		}
		next := *rec
		next.Used--
		s.setRecord(principal, &next)
		if err := s.persist(); err != nil {
			s.setRecord(principal, rec)
			return err
		}
		return nil
	}

	if d.prior == nil {
		return nil
	}
	restore := *d.prior
	s.setRecord(principal, &restore)
	if err := s.persist(); err != nil {
		s.setRecord(principal, nil)
		return err
	}
	return nil
}

// Status 只读快照，不变更也不回收任何记录
func (s *Store) Status(principal string) (*StatusView, error) {
	s.mu.Lock()
	rec, ok := s.plans[principal]
	var snapshot Record
	if ok {
		snapshot = *rec
	}
	s.mu.Unlock()

	if !ok {
		return nil, types.NewError(types.CodeNotFound, "User plan not found", "", nil)
	}

	now := s.now()
	daysLeft := int(math.Ceil(snapshot.EndDate.Sub(now).Hours() / 24))
	if daysLeft < 0 {
		daysLeft = 0
	}
	remaining := snapshot.Quota - snapshot.Used
	if remaining < 0 {
		remaining = 0
	}

	return &StatusView{
		Record:    snapshot,
		DaysLeft:  daysLeft,
		Remaining: remaining,
		Expired:   now.After(snapshot.EndDate),
	}, nil
}

// lockFor 获取（或创建）用户级互斥锁
func (s *Store) lockFor(principal string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[principal]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[principal] = lock
	}
	return lock
}

// getRecord 读取记录（内部加表锁）
func (s *Store) getRecord(principal string) *Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.plans[principal]
}

// setRecord 写入记录，rec 为 nil 表示删除（内部加表锁）
func (s *Store) setRecord(principal string, rec *Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec == nil {
		delete(s.plans, principal)
		return
	}
	s.plans[principal] = rec
}

// persist 将全量计划落盘（临时文件 + 原子重命名）
func (s *Store) persist() error {
	// 先取文件锁再做快照，保证落盘顺序与快照顺序一致
	s.fileMu.Lock()
	defer s.fileMu.Unlock()

	s.mu.Lock()
	snapshot := make(map[string]*Record, len(s.plans))
	for k, v := range s.plans {
		copied := *v
		snapshot[k] = &copied
	}
	s.mu.Unlock()

	payload, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return storageError("encode plans failed", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return storageError("create data dir failed", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o600); err != nil {
		return storageError("write plans file failed", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return storageError("replace plans file failed", err)
	}
	return nil
}

func validateArgs(principal string, quota, windowDays int, maxPerTx float64) error {
	if principal == "" {
		return types.NewError(types.CodeValidation, "Principal is required", "", nil)
	}
	if quota <= 0 || windowDays <= 0 || maxPerTx <= 0 {
		return types.NewError(
			types.CodeValidation,
			"Plan arguments must be positive",
			fmt.Sprintf("quota=%d windowDays=%d maxPerTx=%v", quota, windowDays, maxPerTx),
			nil,
		)
	}
	return nil
}

func storageError(detail string, err error) error {
	return types.NewError(types.CodeStorage, "Plan storage failure", fmt.Sprintf("%s: %v", detail, err), err)
}
