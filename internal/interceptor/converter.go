package interceptor

import (
	"context"
	"net/http"
	"strings"
	"time"

	"netmonitor/pkg/model"
	"netmonitor/pkg/traffic"
)

// DefaultRequestTimeout 请求上下文没有截止时间时记录的超时
const DefaultRequestTimeout = 60 * time.Second

// ProtocolCachePolicy 请求未携带 Cache-Control 时记录的缓存策略
const ProtocolCachePolicy = "UseProtocolCachePolicy"

// ToRequestSnapshot 将 http.Request 转换为请求快照
func ToRequestSnapshot(req *http.Request, at time.Time) traffic.RequestSnapshot {
	u := req.URL
	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}
	return traffic.RequestSnapshot{
		URL:         u.String(),
		Host:        u.Hostname(),
		Path:        u.Path,
		Method:      model.Method(method),
		CachePolicy: cachePolicyOf(req.Header),
		Timeout:     timeoutOf(req.Context(), at),
		ContentType: model.BaseContentType(req.Header.Get("Content-Type")),
		Query:       traffic.FieldsFromQuery(u.RawQuery),
		Headers:     traffic.FieldsFromHeader(req.Header),
		Date:        at,
		Time:        at.Format(traffic.TimeLayout),
	}
}

// ToResponseSnapshot 将 http.Response 转换为响应快照，响应体长度在读取完成后补充
func ToResponseSnapshot(resp *http.Response, at time.Time) traffic.ResponseSnapshot {
	code := resp.StatusCode
	ct := resp.Header.Get("Content-Type")
	return traffic.ResponseSnapshot{
		StatusCode:  &code,
		Headers:     traffic.FieldsFromHeader(resp.Header),
		ContentType: model.BaseContentType(ct),
		ShortType:   model.ClassifyContentType(ct),
		Date:        at,
		Time:        at.Format(traffic.TimeLayout),
	}
}

func cachePolicyOf(h http.Header) string {
	if v := h.Get("Cache-Control"); v != "" {
		return v
	}
	return ProtocolCachePolicy
}

func timeoutOf(ctx context.Context, at time.Time) time.Duration {
	if deadline, ok := ctx.Deadline(); ok {
		if d := deadline.Sub(at); d > 0 {
			return d
		}
		return 0
	}
	return DefaultRequestTimeout
}
