package rules

import (
	"bytes"
	"fmt"

	"netmonitor/internal/logger"
	"netmonitor/pkg/model"
	"netmonitor/pkg/rulespec"
	"netmonitor/pkg/traffic"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Identity 规则匹配键
type Identity struct {
	Host   string       `json:"host"`
	Path   string       `json:"path"`
	Method model.Method `json:"method"`
}

// IdentityOf 取请求的 (host, path, method)
func IdentityOf(req traffic.RequestSnapshot) Identity {
	return Identity{Host: req.Host, Path: req.Path, Method: req.Method}
}

func (id Identity) String() string {
	return fmt.Sprintf("%s %s%s", id.Method, id.Host, id.Path)
}

// BodyStore 规则记录的请求体/响应体落盘
type BodyStore interface {
	SaveRequestBody(key string, data []byte) error
	SaveResponseBody(key string, t model.ShortType, data []byte) error
}

// Body 一条记录的请求体与响应体
type Body struct {
	Request  []byte `json:"request,omitempty"`
	Response []byte `json:"response,omitempty"`
}

func (b Body) clone() Body {
	return Body{Request: bytes.Clone(b.Request), Response: bytes.Clone(b.Response)}
}

// Rule 一个请求标识下的重写规则，Latest 始终是所有命令作用后的结果
type Rule struct {
	Origin     *traffic.Record       `json:"origin"`
	OriginBody Body                  `json:"originBody"`
	Latest     *traffic.Record       `json:"latest"`
	LatestBody Body                  `json:"latestBody"`
	Commands   []rulespec.AddCommand `json:"-"`
	Enabled    bool                  `json:"enabled"`
}

// Identity 规则标识
func (r *Rule) Identity() Identity {
	return IdentityOf(r.Origin.Request)
}

// Has 是否包含指定类别的命令
func (r *Rule) Has(cat model.Category) bool {
	return rulespec.HasCategory(r.Commands, cat)
}

// Clone 深拷贝
func (r *Rule) Clone() *Rule {
	return &Rule{
		Origin:     r.Origin.Clone(),
		OriginBody: r.OriginBody.clone(),
		Latest:     r.Latest.Clone(),
		LatestBody: r.LatestBody.clone(),
		Commands:   append([]rulespec.AddCommand(nil), r.Commands...),
		Enabled:    r.Enabled,
	}
}

// Engine 重写规则引擎，自身不加锁，由调用方串行化
type Engine struct {
	rules  []*Rule
	bodies BodyStore
	log    logger.Logger
}

// New 创建规则引擎
func New(bodies BodyStore, l logger.Logger) *Engine {
	if l == nil {
		l = logger.NewNop()
	}
	return &Engine{bodies: bodies, log: l}
}

// Rules 当前所有规则
func (e *Engine) Rules() []*Rule { return e.rules }

// Find 按标识查找规则，不考虑是否启用
func (e *Engine) Find(id Identity) *Rule {
	for _, r := range e.rules {
		if r.Identity() == id {
			return r
		}
	}
	return nil
}

// Match 查找已启用的规则
func (e *Engine) Match(id Identity) *Rule {
	if r := e.Find(id); r != nil && r.Enabled {
		return r
	}
	return nil
}

// MatchFor 查找已启用且包含该类别命令的规则
func (e *Engine) MatchFor(id Identity, cat model.Category) *Rule {
	if r := e.Match(id); r != nil && r.Has(cat) {
		return r
	}
	return nil
}

// Add 对 origin 所属规则追加命令，规则不存在时创建；
// 命令引用的字段不存在时忽略，返回 false
func (e *Engine) Add(origin *traffic.Record, body Body, cmd rulespec.AddCommand) (*Rule, bool) {
	r := e.Find(IdentityOf(origin.Request))
	created := r == nil
	if created {
		r = newRule(origin, body)
	}

	canonical, ok := canonicalAdd(r, origin, cmd)
	if !ok || !e.apply(r, canonical) {
		e.log.Debug("忽略重写命令", "rule", r.Identity().String(), "kind", cmd.Kind())
		if created {
			return nil, false
		}
		return r, false
	}
	r.Commands = append(r.Commands, canonical)
	if created {
		e.rules = append(e.rules, r)
		e.log.Info("创建重写规则", "rule", r.Identity().String())
	}
	e.persist(r)
	return r, true
}

// Remove 恢复命令指向的字段为源记录当前值，并移除对应命令；
// 命令清空时删除规则。没有命令被移除时 changed 为 false，规则保持原样
func (e *Engine) Remove(origin *traffic.Record, cmd rulespec.RemoveCommand) (r *Rule, changed, deleted bool) {
	r = e.Find(IdentityOf(origin.Request))
	if r == nil {
		return nil, false, false
	}
	canonical, ok := canonicalRemove(r, origin, cmd)
	if !ok {
		return r, false, false
	}

	n := len(r.Commands)
	kept := make([]rulespec.AddCommand, 0, n)
	for _, c := range r.Commands {
		if !rulespec.Matches(canonical, c) && !sameFieldGroup(r, canonical, c) {
			kept = append(kept, c)
		}
	}
	if len(kept) == n {
		return r, false, false
	}
	e.reset(r, canonical)
	r.Commands = kept

	if len(r.Commands) == 0 {
		e.delete(r)
		e.log.Info("删除重写规则", "rule", r.Identity().String())
		return r, true, true
	}
	e.persist(r)
	return r, true, false
}

// SetEnabled 切换启用状态，命令保留
func (e *Engine) SetEnabled(id Identity, enabled bool) (*Rule, bool) {
	r := e.Find(id)
	if r == nil {
		return nil, false
	}
	r.Enabled = enabled
	return r, true
}

// Restore 载入持久化的规则，同标识的旧规则被替换
func (e *Engine) Restore(r *Rule) {
	if old := e.Find(r.Identity()); old != nil {
		e.delete(old)
	}
	e.rules = append(e.rules, r)
	e.persist(r)
}

// Persist 重新写入所有规则的请求体/响应体文件
func (e *Engine) Persist() {
	for _, r := range e.rules {
		e.persist(r)
	}
}

// Clear 删除所有规则
func (e *Engine) Clear() {
	e.rules = nil
}

// UpdateToLatestRequest 用实时请求刷新源记录与结果记录，并重放字段命令
func (e *Engine) UpdateToLatestRequest(r *Rule, req traffic.RequestSnapshot, body []byte) {
	r.Origin.SaveRequest(req.Clone())
	r.Origin.Request.Date, r.Origin.Request.Time = req.Date, req.Time
	r.OriginBody.Request = bytes.Clone(body)

	r.Latest.SaveRequest(req.Clone())
	r.Latest.Request.Date, r.Latest.Request.Time = req.Date, req.Time
	if r.Has(model.CategoryRequestBody) {
		r.Latest.Request.BodyLength = len(r.LatestBody.Request)
	} else {
		r.LatestBody.Request = bytes.Clone(body)
	}
	for _, c := range r.Commands {
		if _, ok := c.(rulespec.FieldCommand); ok {
			e.apply(r, c)
		}
	}
	e.persist(r)
}

// UpdateToLatestResponse 用实时响应刷新源记录与结果记录，被重写的响应体保持不变
func (e *Engine) UpdateToLatestResponse(r *Rule, resp traffic.ResponseSnapshot, body []byte) {
	r.Origin.SaveResponse(resp.Clone())
	r.OriginBody.Response = bytes.Clone(body)

	r.Latest.SaveResponse(resp.Clone())
	if r.Has(model.CategoryResponseBody) {
		r.Latest.Response.BodyLength = len(r.LatestBody.Response)
	} else {
		r.LatestBody.Response = bytes.Clone(body)
	}
	e.persist(r)
}

func newRule(origin *traffic.Record, body Body) *Rule {
	o := origin.Clone()
	o.ID = traffic.NewRecordID()
	o.BodyKey = traffic.NewBodyKey()
	l := o.Clone()
	l.ID = traffic.NewRecordID()
	l.BodyKey = traffic.NewBodyKey()
	return &Rule{
		Origin:     o,
		OriginBody: body.clone(),
		Latest:     l,
		LatestBody: body.clone(),
		Enabled:    true,
	}
}

func (e *Engine) delete(r *Rule) {
	for i, x := range e.rules {
		if x == r {
			e.rules = append(e.rules[:i], e.rules[i+1:]...)
			return
		}
	}
}

// persist 落盘失败只记录日志，内存中的规则仍然有效
func (e *Engine) persist(r *Rule) {
	if e.bodies == nil {
		return
	}
	for _, rec := range []struct {
		r *traffic.Record
		b Body
	}{{r.Origin, r.OriginBody}, {r.Latest, r.LatestBody}} {
		if err := e.bodies.SaveRequestBody(rec.r.BodyKey, rec.b.Request); err != nil {
			e.log.Err(err, "保存规则请求体失败", "rule", r.Identity().String())
		}
		if err := e.bodies.SaveResponseBody(rec.r.BodyKey, rec.r.Response.ShortType, rec.b.Response); err != nil {
			e.log.Err(err, "保存规则响应体失败", "rule", r.Identity().String())
		}
	}
}

// apply 直接修改 Latest，字段不存在时返回 false
func (e *Engine) apply(r *Rule, cmd rulespec.AddCommand) bool {
	req := &r.Latest.Request
	switch c := cmd.(type) {
	case rulespec.SetResponseBody:
		r.LatestBody.Response = bytes.Clone(c.Data)
		r.Latest.Response.BodyLength = len(c.Data)
	case rulespec.SetRequestBody:
		r.LatestBody.Request = bytes.Clone(c.Data)
		req.BodyLength = len(c.Data)
	case rulespec.PatchResponseJSON:
		if !gjson.Valid(c.Value) {
			return false
		}
		out, err := sjson.SetRawBytes(r.LatestBody.Response, c.Path, []byte(c.Value))
		if err != nil {
			e.log.Err(err, "修改响应 JSON 失败", "path", c.Path)
			return false
		}
		r.LatestBody.Response = out
		r.Latest.Response.BodyLength = len(out)
	case rulespec.ReplaceQueryKey:
		if !updateFields(req.Query, c.FieldID, func(f *traffic.Field) { f.Name = c.Key }) {
			return false
		}
		req.RebuildQuery()
	case rulespec.ReplaceQueryValue:
		if !updateFields(req.Query, c.FieldID, func(f *traffic.Field) { f.Value = c.Value }) {
			return false
		}
		req.RebuildQuery()
	case rulespec.ReplaceHeaderKey:
		if !updateFields(req.Headers, c.FieldID, func(f *traffic.Field) { f.Name = c.Key }) {
			return false
		}
		req.ContentType = model.BaseContentType(req.Headers.Get("Content-Type"))
	case rulespec.ReplaceHeaderValue:
		if !updateFields(req.Headers, c.FieldID, func(f *traffic.Field) { f.Value = c.Value }) {
			return false
		}
		req.ContentType = model.BaseContentType(req.Headers.Get("Content-Type"))
	default:
		return false
	}
	return true
}

// reset 从源记录恢复
func (e *Engine) reset(r *Rule, cmd rulespec.RemoveCommand) {
	req := &r.Latest.Request
	src := r.Origin.Request
	switch c := cmd.(type) {
	case rulespec.ResetResponseBody:
		r.LatestBody.Response = bytes.Clone(r.OriginBody.Response)
		r.Latest.Response.BodyLength = len(r.LatestBody.Response)
	case rulespec.ResetRequestBody:
		r.LatestBody.Request = bytes.Clone(r.OriginBody.Request)
		req.BodyLength = len(r.LatestBody.Request)
	case rulespec.ResetQueryKey:
		resetFields(req.Query, src.Query, c.FieldID, true)
		req.RebuildQuery()
	case rulespec.ResetQueryValue:
		resetFields(req.Query, src.Query, c.FieldID, false)
		req.RebuildQuery()
	case rulespec.ResetHeaderKey:
		resetFields(req.Headers, src.Headers, c.FieldID, true)
		req.ContentType = model.BaseContentType(req.Headers.Get("Content-Type"))
	case rulespec.ResetHeaderValue:
		resetFields(req.Headers, src.Headers, c.FieldID, false)
		req.ContentType = model.BaseContentType(req.Headers.Get("Content-Type"))
	}
}

// updateFields 修改与目标字段原始名称相同的所有字段
func updateFields(fs traffic.Fields, id string, fn func(*traffic.Field)) bool {
	i := fs.Index(id)
	if i < 0 {
		return false
	}
	name := fs[i].OriginName
	for j := range fs {
		if fs[j].OriginName == name {
			fn(&fs[j])
		}
	}
	return true
}

// resetFields 按原始名称与出现次序取源记录的当前值，源记录缺失该字段时退回字段自身的原始值
func resetFields(fs, origin traffic.Fields, id string, key bool) {
	i := fs.Index(id)
	if i < 0 {
		return
	}
	name := fs[i].OriginName
	for j := range fs {
		if fs[j].OriginName != name {
			continue
		}
		srcName, srcValue := fs[j].OriginName, fs[j].OriginValue
		if o := origin.Nth(name, fs.Occurrence(j)); o >= 0 {
			srcName, srcValue = origin[o].Name, origin[o].Value
		}
		if key {
			fs[j].Name = srcName
		} else {
			fs[j].Value = srcValue
			fs[j].OriginValue = srcValue
		}
	}
}

// sameFieldGroup 字段命令与撤销命令类型对应，且指向同一原始名称的字段
func sameFieldGroup(r *Rule, remove rulespec.RemoveCommand, add rulespec.AddCommand) bool {
	rf, ok1 := remove.(rulespec.FieldCommand)
	af, ok2 := add.(rulespec.FieldCommand)
	if !ok1 || !ok2 || remove.Kind() != add.Kind() {
		return false
	}
	fs := r.Latest.Request.Headers
	if remove.Category() == model.CategoryQuery {
		fs = r.Latest.Request.Query
	}
	i, j := fs.Index(rf.Field()), fs.Index(af.Field())
	return i >= 0 && j >= 0 && fs[i].OriginName == fs[j].OriginName
}

// resolve 将调用方记录中的字段ID映射到规则结果记录中的字段ID
func resolve(latest, given traffic.Fields, id string) (string, bool) {
	if latest.Index(id) >= 0 {
		return id, true
	}
	i := given.Index(id)
	if i < 0 {
		return "", false
	}
	j := latest.Nth(given[i].OriginName, given.Occurrence(i))
	if j < 0 {
		return "", false
	}
	return latest[j].ID, true
}

func canonicalAdd(r *Rule, given *traffic.Record, cmd rulespec.AddCommand) (rulespec.AddCommand, bool) {
	q, h := r.Latest.Request.Query, r.Latest.Request.Headers
	gq, gh := given.Request.Query, given.Request.Headers
	switch c := cmd.(type) {
	case rulespec.ReplaceQueryKey:
		id, ok := resolve(q, gq, c.FieldID)
		c.FieldID = id
		return c, ok
	case rulespec.ReplaceQueryValue:
		id, ok := resolve(q, gq, c.FieldID)
		c.FieldID = id
		return c, ok
	case rulespec.ReplaceHeaderKey:
		id, ok := resolve(h, gh, c.FieldID)
		c.FieldID = id
		return c, ok
	case rulespec.ReplaceHeaderValue:
		id, ok := resolve(h, gh, c.FieldID)
		c.FieldID = id
		return c, ok
	}
	return cmd, cmd != nil
}

func canonicalRemove(r *Rule, given *traffic.Record, cmd rulespec.RemoveCommand) (rulespec.RemoveCommand, bool) {
	q, h := r.Latest.Request.Query, r.Latest.Request.Headers
	gq, gh := given.Request.Query, given.Request.Headers
	switch c := cmd.(type) {
	case rulespec.ResetQueryKey:
		id, ok := resolve(q, gq, c.FieldID)
		c.FieldID = id
		return c, ok
	case rulespec.ResetQueryValue:
		id, ok := resolve(q, gq, c.FieldID)
		c.FieldID = id
		return c, ok
	case rulespec.ResetHeaderKey:
		id, ok := resolve(h, gh, c.FieldID)
		c.FieldID = id
		return c, ok
	case rulespec.ResetHeaderValue:
		id, ok := resolve(h, gh, c.FieldID)
		c.FieldID = id
		return c, ok
	}
	return cmd, cmd != nil
}
