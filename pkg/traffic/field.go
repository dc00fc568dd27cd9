package traffic

import (
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// Field 可编辑的键值对（查询参数或请求头），同时记录原始值与当前生效值
type Field struct {
	ID          string `json:"id"`
	OriginName  string `json:"originName"`
	OriginValue string `json:"originValue"`
	Name        string `json:"name"`
	Value       string `json:"value"`
}

// NewField 创建未被覆盖的字段
func NewField(name, value string) Field {
	return Field{
		ID:          uuid.NewString(),
		OriginName:  name,
		OriginValue: value,
		Name:        name,
		Value:       value,
	}
}

// IsOverridden 名称或值被修改过
func (f Field) IsOverridden() bool {
	return f.Name != f.OriginName || f.Value != f.OriginValue
}

// Fields 有序字段集合
type Fields []Field

// Clone 深拷贝
func (fs Fields) Clone() Fields {
	if fs == nil {
		return nil
	}
	out := make(Fields, len(fs))
	copy(out, fs)
	return out
}

// Index 按ID查找，未找到返回 -1
func (fs Fields) Index(id string) int {
	for i := range fs {
		if fs[i].ID == id {
			return i
		}
	}
	return -1
}

// Get 按当前名称取第一个值（大小写不敏感）
func (fs Fields) Get(name string) string {
	for _, f := range fs {
		if strings.EqualFold(f.Name, name) {
			return f.Value
		}
	}
	return ""
}

// Overridden 是否存在被覆盖的字段
func (fs Fields) Overridden() bool {
	for _, f := range fs {
		if f.IsOverridden() {
			return true
		}
	}
	return false
}

// Occurrence 返回 fs[i] 在同一原始名称字段中的序号
func (fs Fields) Occurrence(i int) int {
	n := 0
	for j := 0; j < i; j++ {
		if fs[j].OriginName == fs[i].OriginName {
			n++
		}
	}
	return n
}

// Nth 返回原始名称为 name 的第 n 个字段下标
func (fs Fields) Nth(name string, n int) int {
	for i := range fs {
		if fs[i].OriginName != name {
			continue
		}
		if n == 0 {
			return i
		}
		n--
	}
	return -1
}

// Encode 按顺序编码为查询字符串
func (fs Fields) Encode() string {
	parts := make([]string, 0, len(fs))
	for _, f := range fs {
		parts = append(parts, url.QueryEscape(f.Name)+"="+url.QueryEscape(f.Value))
	}
	return strings.Join(parts, "&")
}

// Header 转换为 http.Header
func (fs Fields) Header() http.Header {
	h := make(http.Header, len(fs))
	for _, f := range fs {
		h.Add(f.Name, f.Value)
	}
	return h
}

// MergeFields 用新观测的字段替换旧字段，按原始名称及出现次序匹配：
// 匹配到的字段保留ID和被覆盖的名称/值，原始值跟随最新流量
func MergeFields(old, next Fields) Fields {
	if len(old) == 0 {
		return next.Clone()
	}
	seen := make(map[string]int, len(next))
	out := make(Fields, 0, len(next))
	for _, n := range next {
		k := seen[n.OriginName]
		seen[n.OriginName] = k + 1

		i := old.Nth(n.OriginName, k)
		if i < 0 {
			out = append(out, n)
			continue
		}
		o := old[i]
		merged := Field{ID: o.ID, OriginName: n.OriginName, OriginValue: n.OriginValue, Name: n.Name, Value: n.Value}
		if o.Name != o.OriginName {
			merged.Name = o.Name
		}
		if o.Value != o.OriginValue {
			merged.Value = o.Value
		}
		out = append(out, merged)
	}
	return out
}

// FieldsFromHeader 按键名排序后展开多值请求头
func FieldsFromHeader(h http.Header) Fields {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make(Fields, 0, len(keys))
	for _, k := range keys {
		for _, v := range h[k] {
			out = append(out, NewField(k, v))
		}
	}
	return out
}

// FieldsFromQuery 保持原始顺序解析查询字符串
func FieldsFromQuery(raw string) Fields {
	if raw == "" {
		return nil
	}
	var out Fields
	for _, pair := range strings.Split(raw, "&") {
		if pair == "" {
			continue
		}
		k, v, _ := strings.Cut(pair, "=")
		out = append(out, NewField(unescape(k), unescape(v)))
	}
	return out
}

func unescape(s string) string {
	if u, err := url.QueryUnescape(s); err == nil {
		return u
	}
	return s
}
