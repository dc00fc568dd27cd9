package monitor

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"netmonitor/internal/ctxkeys"
	"netmonitor/internal/logger"
	"netmonitor/internal/rules"
	"netmonitor/pkg/model"
	"netmonitor/pkg/rulespec"
	"netmonitor/pkg/traffic"

	"github.com/samber/lo"
)

var (
	ErrClosed         = errors.New("monitor: store closed")
	ErrRecordNotFound = errors.New("monitor: record not found")
)

// DefaultResponseTimeout 响应超时看门狗
const DefaultResponseTimeout = 30 * time.Second

// Bodies 抓包存储依赖的请求体/响应体存取
type Bodies interface {
	rules.BodyStore
	RequestBody(key string) ([]byte, error)
	ResponseBody(key string, t model.ShortType) ([]byte, error)
	Purge() error
}

// RuleSink 规则变更后的持久化回调，在串行队列上执行
type RuleSink interface {
	SaveRule(ctx context.Context, r *rules.Rule) error
	DeleteRule(ctx context.Context, id rules.Identity) error
}

// Options 抓包存储配置
type Options struct {
	Bodies          Bodies
	Sink            RuleSink
	ResponseTimeout time.Duration
	Logger          logger.Logger
}

// Store 记录与重写规则的唯一持有者；所有修改经由单个串行队列执行，读操作返回一致的快照
type Store struct {
	mu          sync.RWMutex
	records     []*traffic.Record
	index       map[model.RecordID]*traffic.Record
	hosts       map[string]int
	methods     map[model.Method]int
	engine      *rules.Engine
	ignored     []string
	cachePolicy model.CachePolicy
	filters     map[model.ShortType]bool
	enabled     atomic.Bool

	bodies  Bodies
	sink    RuleSink
	timeout time.Duration
	log     logger.Logger

	queue     chan func()
	done      chan struct{}
	closeOnce sync.Once

	subMu   sync.Mutex
	subs    map[int]chan model.Event
	nextSub int
}

// New 创建抓包存储并启动串行队列
func New(opts Options) *Store {
	if opts.Logger == nil {
		opts.Logger = logger.NewNop()
	}
	if opts.ResponseTimeout <= 0 {
		opts.ResponseTimeout = DefaultResponseTimeout
	}
	s := &Store{
		index:       make(map[model.RecordID]*traffic.Record),
		hosts:       make(map[string]int),
		methods:     make(map[model.Method]int),
		engine:      rules.New(opts.Bodies, opts.Logger),
		cachePolicy: model.CacheAllowed,
		filters:     defaultFilters(),
		bodies:      opts.Bodies,
		sink:        opts.Sink,
		timeout:     opts.ResponseTimeout,
		log:         opts.Logger,
		queue:       make(chan func()),
		done:        make(chan struct{}),
		subs:        make(map[int]chan model.Event),
	}
	go s.run()
	return s
}

func defaultFilters() map[model.ShortType]bool {
	m := make(map[model.ShortType]bool, len(model.AllShortTypes))
	for _, t := range model.AllShortTypes {
		m[t] = true
	}
	return m
}

func (s *Store) run() {
	for {
		select {
		case fn := <-s.queue:
			s.mu.Lock()
			fn()
			s.mu.Unlock()
		case <-s.done:
			return
		}
	}
}

// exec 在串行队列上执行 fn 并等待完成
func (s *Store) exec(fn func()) error {
	finished := make(chan struct{})
	task := func() {
		defer close(finished)
		fn()
	}
	select {
	case s.queue <- task:
	case <-s.done:
		return ErrClosed
	}
	select {
	case <-finished:
		return nil
	case <-s.done:
		return ErrClosed
	}
}

// Close 停止队列并关闭所有订阅
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.subMu.Lock()
		for id, ch := range s.subs {
			close(ch)
			delete(s.subs, id)
		}
		s.subMu.Unlock()
	})
	return nil
}

// Enabled 是否正在抓包
func (s *Store) Enabled() bool { return s.enabled.Load() }

// Start 开启抓包并清除之前的记录与文件
func (s *Store) Start() error {
	return s.toggle(true)
}

// Stop 关闭抓包并清除所有记录、请求体文件与会话日志
func (s *Store) Stop() error {
	return s.toggle(false)
}

func (s *Store) toggle(on bool) error {
	return s.exec(func() {
		s.enabled.Store(on)
		s.clearLocked()
		if s.bodies != nil {
			if err := s.bodies.Purge(); err != nil {
				s.log.Err(err, "清理持久化文件失败")
			}
			// 规则的请求体/响应体文件不随记录一起失效
			s.engine.Persist()
		}
		s.log.Info("切换抓包状态", "enabled", on)
	})
}

// Ignore 忽略以 prefix 开头的 URL
func (s *Store) Ignore(prefix string) error {
	if prefix == "" {
		return nil
	}
	return s.exec(func() {
		if !lo.Contains(s.ignored, prefix) {
			s.ignored = append(s.ignored, prefix)
		}
	})
}

// Ignored 忽略列表
func (s *Store) Ignored() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.ignored...)
}

// IsIgnored URL 是否命中忽略列表
func (s *Store) IsIgnored(rawURL string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lo.ContainsBy(s.ignored, func(p string) bool { return strings.HasPrefix(rawURL, p) })
}

// SetCachePolicy 设置缓存存储策略
func (s *Store) SetCachePolicy(p model.CachePolicy) error {
	return s.exec(func() { s.cachePolicy = p })
}

func (s *Store) CachePolicy() model.CachePolicy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cachePolicy
}

// SetFilters 缓存按内容类型的过滤选择，未给出的类型保持原值
func (s *Store) SetFilters(filters map[model.ShortType]bool) error {
	return s.exec(func() {
		for t, on := range filters {
			s.filters[t] = on
		}
	})
}

// Filters 按内容类型的过滤选择，默认全部选中
func (s *Store) Filters() map[model.ShortType]bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[model.ShortType]bool, len(s.filters))
	for t, on := range s.filters {
		out[t] = on
	}
	return out
}

// Add 插入到最前，相同ID的记录已存在时不做任何事
func (s *Store) Add(rec *traffic.Record) error {
	return s.exec(func() { s.addLocked(rec) })
}

func (s *Store) addLocked(rec *traffic.Record) bool {
	if _, ok := s.index[rec.ID]; ok {
		return false
	}
	s.records = append([]*traffic.Record{rec}, s.records...)
	s.index[rec.ID] = rec
	s.hosts[rec.Request.Host]++
	s.methods[rec.Request.Method]++
	s.emit(model.Event{Type: model.EventRecordAdded, Record: rec.ID, Timestamp: time.Now()})
	return true
}

// Clear 删除所有记录
func (s *Store) Clear() error {
	return s.exec(s.clearLocked)
}

func (s *Store) clearLocked() {
	s.records = nil
	s.index = make(map[model.RecordID]*traffic.Record)
	s.hosts = make(map[string]int)
	s.methods = make(map[model.Method]int)
	s.emit(model.Event{Type: model.EventRecordsCleared, Timestamp: time.Now()})
}

// Register 保存请求并登记记录，存在已启用的规则时先用实时流量刷新规则，
// 返回请求侧的重写计划（无规则时为 nil）；同时启动响应超时看门狗
func (s *Store) Register(rec *traffic.Record, req traffic.RequestSnapshot, body []byte) (*Plan, error) {
	var plan *Plan
	err := s.exec(func() {
		rec.SaveRequest(req)
		rec.Request.BodyLength = len(body)
		s.addLocked(rec)
		if r := s.engine.Match(rules.IdentityOf(rec.Request)); r != nil {
			s.engine.UpdateToLatestRequest(r, req, body)
			plan = planFor(r)
			s.saveRule(rec.ID, r)
		}
	})
	if err != nil {
		return nil, err
	}
	id := rec.ID
	time.AfterFunc(s.timeout, func() {
		if _, err := s.MarkTimeout(id); err != nil && !errors.Is(err, ErrClosed) {
			s.log.Err(err, "超时检查失败", "record", string(id))
		}
	})
	return plan, nil
}

// Complete 保存响应，存在已启用的规则时同步刷新规则
func (s *Store) Complete(id model.RecordID, resp traffic.ResponseSnapshot, body []byte) error {
	var found bool
	err := s.exec(func() {
		rec, ok := s.index[id]
		if !ok {
			return
		}
		found = true
		rec.SaveResponse(resp)
		if r := s.engine.Match(rules.IdentityOf(rec.Request)); r != nil {
			s.engine.UpdateToLatestResponse(r, resp, body)
			s.saveRule(id, r)
		}
		s.emit(model.Event{Type: model.EventRecordUpdated, Record: id, Timestamp: time.Now()})
	})
	if err == nil && !found {
		err = ErrRecordNotFound
	}
	return err
}

// Fail 标记传输失败
func (s *Store) Fail(id model.RecordID, at time.Time) error {
	return s.update(id, func(rec *traffic.Record) bool {
		rec.Fail(at)
		return true
	})
}

// MarkTimeout 记录仍在加载中时转为超时
func (s *Store) MarkTimeout(id model.RecordID) (bool, error) {
	var changed bool
	err := s.update(id, func(rec *traffic.Record) bool {
		changed = rec.MarkTimeout()
		return changed
	})
	return changed, err
}

func (s *Store) update(id model.RecordID, fn func(*traffic.Record) bool) error {
	var found bool
	err := s.exec(func() {
		rec, ok := s.index[id]
		if !ok {
			return
		}
		found = true
		if fn(rec) {
			s.emit(model.Event{Type: model.EventRecordUpdated, Record: id, Timestamp: time.Now()})
		}
	})
	if err == nil && !found {
		err = ErrRecordNotFound
	}
	return err
}

// Record 按ID取记录快照
func (s *Store) Record(id model.RecordID) (*traffic.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.index[id]
	if !ok {
		return nil, false
	}
	return rec.Clone(), true
}

// Hosts 所有记录中出现过的 host
func (s *Store) Hosts() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := lo.Keys(s.hosts)
	sort.Strings(out)
	return out
}

// Methods 所有记录中出现过的请求方法
func (s *Store) Methods() []model.Method {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := lo.Keys(s.methods)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// FindRule 按请求标识查找已启用的规则
func (s *Store) FindRule(req traffic.RequestSnapshot) *rules.Rule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if r := s.engine.Match(rules.IdentityOf(req)); r != nil {
		return r.Clone()
	}
	return nil
}

// FindRuleFor 查找作用于该记录且包含指定类别命令的已启用规则
func (s *Store) FindRuleFor(rec *traffic.Record, cat model.Category) *rules.Rule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if r := s.engine.MatchFor(rules.IdentityOf(rec.Request), cat); r != nil {
		return r.Clone()
	}
	return nil
}

// Rules 所有规则的快照
func (s *Store) Rules() []*rules.Rule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*rules.Rule, 0, len(s.engine.Rules()))
	for _, r := range s.engine.Rules() {
		out = append(out, r.Clone())
	}
	return out
}

// ResponseOverride 已启用规则要求替换响应体时返回替换内容
func (s *Store) ResponseOverride(req traffic.RequestSnapshot) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r := s.engine.MatchFor(rules.IdentityOf(req), model.CategoryResponseBody)
	if r == nil {
		return nil, false
	}
	return append([]byte(nil), r.LatestBody.Response...), true
}

// AddRewriteCommand 对 origin 所属规则追加命令，引用失效字段的命令被忽略并返回 false
func (s *Store) AddRewriteCommand(origin *traffic.Record, cmd rulespec.AddCommand) (bool, error) {
	if origin == nil || cmd == nil {
		return false, nil
	}
	var applied bool
	err := s.exec(func() {
		var r *rules.Rule
		r, applied = s.engine.Add(origin, s.readBodies(origin), cmd)
		if applied {
			s.saveRule(origin.ID, r)
			s.emit(model.Event{Type: model.EventRulesChanged, Record: origin.ID, Timestamp: time.Now()})
		}
	})
	return applied, err
}

// RemoveRewriteCommand 撤销命令，规则命令清空时删除规则并返回 true
func (s *Store) RemoveRewriteCommand(origin *traffic.Record, cmd rulespec.RemoveCommand) (bool, error) {
	if origin == nil || cmd == nil {
		return false, nil
	}
	var deleted bool
	err := s.exec(func() {
		r, changed, del := s.engine.Remove(origin, cmd)
		if !changed {
			return
		}
		deleted = del
		if del {
			s.deleteRule(origin.ID, r.Identity())
		} else {
			s.saveRule(origin.ID, r)
		}
		s.emit(model.Event{Type: model.EventRulesChanged, Record: origin.ID, Timestamp: time.Now()})
	})
	return deleted, err
}

// SubmitRewriteCommand 立即返回，完成后通过通道通知
func (s *Store) SubmitRewriteCommand(origin *traffic.Record, cmd rulespec.AddCommand) <-chan error {
	ch := make(chan error, 1)
	go func() {
		_, err := s.AddRewriteCommand(origin, cmd)
		ch <- err
	}()
	return ch
}

// SubmitRemoveCommand 立即返回，完成后通过通道通知
func (s *Store) SubmitRemoveCommand(origin *traffic.Record, cmd rulespec.RemoveCommand) <-chan error {
	ch := make(chan error, 1)
	go func() {
		_, err := s.RemoveRewriteCommand(origin, cmd)
		ch <- err
	}()
	return ch
}

// SetRuleEnabled 切换规则启用状态
func (s *Store) SetRuleEnabled(id rules.Identity, enabled bool) (bool, error) {
	var ok bool
	err := s.exec(func() {
		var r *rules.Rule
		if r, ok = s.engine.SetEnabled(id, enabled); ok {
			s.saveRule("", r)
			s.emit(model.Event{Type: model.EventRulesChanged, Timestamp: time.Now()})
		}
	})
	return ok, err
}

// RestoreRules 载入持久化的规则
func (s *Store) RestoreRules(rs []*rules.Rule) error {
	return s.exec(func() {
		for _, r := range rs {
			s.engine.Restore(r)
		}
		if len(rs) > 0 {
			s.log.Info("载入重写规则", "count", len(rs))
			s.emit(model.Event{Type: model.EventRulesChanged, Timestamp: time.Now()})
		}
	})
}

// readBodies 读取 origin 的请求体/响应体，失败时记录日志并使用已读到的内容
func (s *Store) readBodies(origin *traffic.Record) rules.Body {
	var b rules.Body
	if s.bodies == nil {
		return b
	}
	var err error
	if b.Request, err = s.bodies.RequestBody(origin.BodyKey); err != nil {
		s.log.Err(err, "读取请求体失败", "record", string(origin.ID))
	}
	if b.Response, err = s.bodies.ResponseBody(origin.BodyKey, origin.Response.ShortType); err != nil {
		s.log.Err(err, "读取响应体失败", "record", string(origin.ID))
	}
	return b
}

func (s *Store) saveRule(trace model.RecordID, r *rules.Rule) {
	if s.sink == nil {
		return
	}
	ctx := ctxkeys.WithTraceID(context.Background(), string(trace))
	if err := s.sink.SaveRule(ctx, r.Clone()); err != nil {
		s.log.Err(err, "保存规则失败", "rule", r.Identity().String())
	}
}

func (s *Store) deleteRule(trace model.RecordID, id rules.Identity) {
	if s.sink == nil {
		return
	}
	ctx := ctxkeys.WithTraceID(context.Background(), string(trace))
	if err := s.sink.DeleteRule(ctx, id); err != nil {
		s.log.Err(err, "删除规则失败", "rule", id.String())
	}
}

// Subscribe 订阅事件，发送不阻塞，缓冲区满时丢弃
func (s *Store) Subscribe(buffer int) (<-chan model.Event, func()) {
	ch := make(chan model.Event, buffer)
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subMu.Lock()
			defer s.subMu.Unlock()
			if c, ok := s.subs[id]; ok {
				close(c)
				delete(s.subs, id)
			}
		})
	}
}

func (s *Store) emit(evt model.Event) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- evt:
		default:
		}
	}
}
