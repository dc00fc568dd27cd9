package bodystore

import (
	"net/url"
	"strconv"
	"strings"

	"netmonitor/pkg/model"

	"github.com/tidwall/gjson"
)

const indentUnit = "  "

// Pretty 按内容类型格式化请求体/响应体，解析失败时返回原文
func Pretty(data []byte, contentType string) string {
	switch model.ClassifyContentType(contentType) {
	case model.ShortJSON:
		if s, ok := PrettyJSON(data); ok {
			return s
		}
	case model.ShortURLEncoded:
		if s, err := url.PathUnescape(string(data)); err == nil {
			return s
		}
	}
	return string(data)
}

// PrettyJSON 两空格缩进，键值分隔符为 " : "
func PrettyJSON(data []byte) (string, bool) {
	if !gjson.ValidBytes(data) {
		return "", false
	}
	var b strings.Builder
	writeValue(&b, gjson.ParseBytes(data), 0)
	return b.String(), true
}

func writeValue(b *strings.Builder, v gjson.Result, depth int) {
	switch {
	case v.IsObject():
		writeContainer(b, v, depth, "{", "}", true)
	case v.IsArray():
		writeContainer(b, v, depth, "[", "]", false)
	default:
		b.WriteString(strings.TrimSpace(v.Raw))
	}
}

func writeContainer(b *strings.Builder, v gjson.Result, depth int, open, close string, object bool) {
	b.WriteString(open)
	empty := true
	v.ForEach(func(key, val gjson.Result) bool {
		if !empty {
			b.WriteString(",")
		}
		empty = false
		b.WriteString("\n")
		b.WriteString(strings.Repeat(indentUnit, depth+1))
		if object {
			b.WriteString(rawKey(key))
			b.WriteString(" : ")
		}
		writeValue(b, val, depth+1)
		return true
	})
	if !empty {
		b.WriteString("\n")
		b.WriteString(strings.Repeat(indentUnit, depth))
	}
	b.WriteString(close)
}

func rawKey(key gjson.Result) string {
	if strings.HasPrefix(key.Raw, `"`) {
		return key.Raw
	}
	return strconv.Quote(key.Str)
}
