package rulespec

import "netmonitor/pkg/model"

// Kind 命令的固定标签
type Kind string

const (
	KindResponseData       Kind = "responseData"
	KindRequestParamData   Kind = "requestParamData"
	KindResponseJSONPatch  Kind = "responseJSONPatch"
	KindReplaceQueryKey    Kind = "replaceQueryParamKey"
	KindReplaceQueryValue  Kind = "replaceQueryParamValue"
	KindReplaceHeaderKey   Kind = "replaceHeaderKey"
	KindReplaceHeaderValue Kind = "replaceHeaderValue"
)

// AddCommand 新增重写命令
type AddCommand interface {
	Kind() Kind
	Category() model.Category
	isAdd()
}

// RemoveCommand 撤销重写命令，将字段恢复为源记录的当前值
type RemoveCommand interface {
	Kind() Kind
	Category() model.Category
	isRemove()
}

// FieldCommand 以字段ID定位的命令
type FieldCommand interface {
	Field() string
}

type SetResponseBody struct{ Data []byte }

type SetRequestBody struct{ Data []byte }

// PatchResponseJSON 修改响应体 JSON 中的单个路径，Value 为原始 JSON
type PatchResponseJSON struct {
	Path  string
	Value string
}

type ReplaceQueryKey struct{ FieldID, Key string }

type ReplaceQueryValue struct{ FieldID, Value string }

type ReplaceHeaderKey struct{ FieldID, Key string }

type ReplaceHeaderValue struct{ FieldID, Value string }

func (SetResponseBody) Kind() Kind { return KindResponseData }
func (SetRequestBody) Kind() Kind { return KindRequestParamData }
func (PatchResponseJSON) Kind() Kind { return KindResponseJSONPatch }
func (ReplaceQueryKey) Kind() Kind { return KindReplaceQueryKey }
func (ReplaceQueryValue) Kind() Kind { return KindReplaceQueryValue }
func (ReplaceHeaderKey) Kind() Kind { return KindReplaceHeaderKey }
func (ReplaceHeaderValue) Kind() Kind { return KindReplaceHeaderValue }
func (SetResponseBody) isAdd() {}
func (SetRequestBody) isAdd() {}
func (PatchResponseJSON) isAdd() {}
func (ReplaceQueryKey) isAdd() {}
func (ReplaceQueryValue) isAdd() {}
func (ReplaceHeaderKey) isAdd() {}
func (ReplaceHeaderValue) isAdd() {}

func (c ReplaceQueryKey) Field() string { return c.FieldID }
func (c ReplaceQueryValue) Field() string { return c.FieldID }
func (c ReplaceHeaderKey) Field() string { return c.FieldID }
func (c ReplaceHeaderValue) Field() string { return c.FieldID }

func (SetResponseBody) Category() model.Category { return model.CategoryResponseBody }
func (SetRequestBody) Category() model.Category { return model.CategoryRequestBody }
func (PatchResponseJSON) Category() model.Category { return model.CategoryResponseBody }
func (ReplaceQueryKey) Category() model.Category { return model.CategoryQuery }
func (ReplaceQueryValue) Category() model.Category { return model.CategoryQuery }
func (ReplaceHeaderKey) Category() model.Category { return model.CategoryHeader }
func (ReplaceHeaderValue) Category() model.Category { return model.CategoryHeader }

type ResetResponseBody struct{}

type ResetRequestBody struct{}

type ResetQueryKey struct{ FieldID string }

type ResetQueryValue struct{ FieldID string }

type ResetHeaderKey struct{ FieldID string }

type ResetHeaderValue struct{ FieldID string }

func (ResetResponseBody) Kind() Kind { return KindResponseData }
func (ResetRequestBody) Kind() Kind { return KindRequestParamData }
func (ResetQueryKey) Kind() Kind { return KindReplaceQueryKey }
func (ResetQueryValue) Kind() Kind { return KindReplaceQueryValue }
func (ResetHeaderKey) Kind() Kind { return KindReplaceHeaderKey }
func (ResetHeaderValue) Kind() Kind { return KindReplaceHeaderValue }
func (ResetResponseBody) isRemove() {}
func (ResetRequestBody) isRemove() {}
func (ResetQueryKey) isRemove() {}
func (ResetQueryValue) isRemove() {}
func (ResetHeaderKey) isRemove() {}
func (ResetHeaderValue) isRemove() {}

func (c ResetQueryKey) Field() string { return c.FieldID }
func (c ResetQueryValue) Field() string { return c.FieldID }
func (c ResetHeaderKey) Field() string { return c.FieldID }
func (c ResetHeaderValue) Field() string { return c.FieldID }

func (ResetResponseBody) Category() model.Category { return model.CategoryResponseBody }
func (ResetRequestBody) Category() model.Category { return model.CategoryRequestBody }
func (ResetQueryKey) Category() model.Category { return model.CategoryQuery }
func (ResetQueryValue) Category() model.Category { return model.CategoryQuery }
func (ResetHeaderKey) Category() model.Category { return model.CategoryHeader }
func (ResetHeaderValue) Category() model.Category { return model.CategoryHeader }

// RemoveCommandFor 返回撤销 add 的命令
func RemoveCommandFor(add AddCommand) RemoveCommand {
	switch c := add.(type) {
	case SetResponseBody, PatchResponseJSON:
		return ResetResponseBody{}
	case SetRequestBody:
		return ResetRequestBody{}
	case ReplaceQueryKey:
		return ResetQueryKey{FieldID: c.FieldID}
	case ReplaceQueryValue:
		return ResetQueryValue{FieldID: c.FieldID}
	case ReplaceHeaderKey:
		return ResetHeaderKey{FieldID: c.FieldID}
	case ReplaceHeaderValue:
		return ResetHeaderValue{FieldID: c.FieldID}
	}
	return nil
}

// Matches remove 是否撤销 add
func Matches(remove RemoveCommand, add AddCommand) bool {
	r := RemoveCommandFor(add)
	return r != nil && r == remove
}

// HasCategory 命令列表中是否包含指定类别
func HasCategory(cmds []AddCommand, cat model.Category) bool {
	for _, c := range cmds {
		if c.Category() == cat {
			return true
		}
	}
	return false
}
