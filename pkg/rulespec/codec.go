package rulespec

import (
	"encoding/json"
	"fmt"
)

// wireCommand 命令的持久化格式
type wireCommand struct {
	Kind    Kind   `json:"kind"`
	FieldID string `json:"fieldId,omitempty"`
	Value   string `json:"value,omitempty"`
	Path    string `json:"path,omitempty"`
	Data    []byte `json:"data,omitempty"`
}

// Encode 按追加顺序编码命令列表
func Encode(cmds []AddCommand) ([]byte, error) {
	out := make([]wireCommand, 0, len(cmds))
	for _, c := range cmds {
		w := wireCommand{Kind: c.Kind()}
		switch v := c.(type) {
		case SetResponseBody:
			w.Data = v.Data
		case SetRequestBody:
			w.Data = v.Data
		case PatchResponseJSON:
			w.Path, w.Value = v.Path, v.Value
		case ReplaceQueryKey:
			w.FieldID, w.Value = v.FieldID, v.Key
		case ReplaceQueryValue:
			w.FieldID, w.Value = v.FieldID, v.Value
		case ReplaceHeaderKey:
			w.FieldID, w.Value = v.FieldID, v.Key
		case ReplaceHeaderValue:
			w.FieldID, w.Value = v.FieldID, v.Value
		}
		out = append(out, w)
	}
	return json.Marshal(out)
}

// Decode 解析 Encode 的输出
func Decode(data []byte) ([]AddCommand, error) {
	var in []wireCommand
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("decode commands: %w", err)
	}
	cmds := make([]AddCommand, 0, len(in))
	for _, w := range in {
		switch w.Kind {
		case KindResponseData:
			cmds = append(cmds, SetResponseBody{Data: w.Data})
		case KindRequestParamData:
			cmds = append(cmds, SetRequestBody{Data: w.Data})
		case KindResponseJSONPatch:
			cmds = append(cmds, PatchResponseJSON{Path: w.Path, Value: w.Value})
		case KindReplaceQueryKey:
			cmds = append(cmds, ReplaceQueryKey{FieldID: w.FieldID, Key: w.Value})
		case KindReplaceQueryValue:
			cmds = append(cmds, ReplaceQueryValue{FieldID: w.FieldID, Value: w.Value})
		case KindReplaceHeaderKey:
			cmds = append(cmds, ReplaceHeaderKey{FieldID: w.FieldID, Key: w.Value})
		case KindReplaceHeaderValue:
			cmds = append(cmds, ReplaceHeaderValue{FieldID: w.FieldID, Value: w.Value})
		default:
			return nil, fmt.Errorf("unknown command kind %q", w.Kind)
		}
	}
	return cmds, nil
}
