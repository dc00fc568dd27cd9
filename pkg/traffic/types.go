package traffic

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"netmonitor/pkg/model"

	"github.com/google/uuid"
)

// TimeLayout 请求/响应时间的展示格式
const TimeLayout = "15:04:05"

// NonHTTPStatus 非 HTTP 响应使用的状态码
const NonHTTPStatus = 999

// RequestSnapshot 一次请求的快照
type RequestSnapshot struct {
	URL         string        `json:"url"`
	Host        string        `json:"host"`
	Path        string        `json:"path"`
	Method      model.Method  `json:"method"`
	CachePolicy string        `json:"cachePolicy"`
	Timeout     time.Duration `json:"timeout"`
	ContentType string        `json:"contentType"`
	Query       Fields        `json:"query"`
	Headers     Fields        `json:"headers"`
	Date        time.Time     `json:"date"`
	Time        string        `json:"time"`
	BodyLength  int           `json:"bodyLength"`
}

// Save 用新观测的请求更新快照，首次请求时间保持不变
func (s *RequestSnapshot) Save(next RequestSnapshot) {
	date, tm := s.Date, s.Time
	query := MergeFields(s.Query, next.Query)
	headers := MergeFields(s.Headers, next.Headers)

	*s = next
	s.Query = query
	s.Headers = headers
	if !date.IsZero() {
		s.Date, s.Time = date, tm
	}
	if s.Query.Overridden() {
		s.RebuildQuery()
	}
	s.ContentType = model.BaseContentType(s.Headers.Get("Content-Type"))
}

// RebuildQuery 根据查询字段重写 URL
func (s *RequestSnapshot) RebuildQuery() {
	u, err := url.Parse(s.URL)
	if err != nil {
		return
	}
	u.RawQuery = s.Query.Encode()
	s.URL = u.String()
}

// Clone 深拷贝
func (s RequestSnapshot) Clone() RequestSnapshot {
	s.Query = s.Query.Clone()
	s.Headers = s.Headers.Clone()
	return s
}

// Curl 导出为 curl 命令
func (s RequestSnapshot) Curl(body []byte) string {
	var b strings.Builder
	b.WriteString("curl ")
	b.WriteString(s.URL)
	b.WriteString(" -X ")
	b.WriteString(string(s.Method))
	for _, h := range s.Headers {
		fmt.Fprintf(&b, ` -H "%s: %s"`, quote(h.Name), quote(h.Value))
	}
	if len(body) > 0 {
		fmt.Fprintf(&b, ` -d "%s"`, quote(string(body)))
	}
	return b.String()
}

func quote(s string) string {
	return strings.ReplaceAll(s, `"`, `\"`)
}

// ResponseSnapshot 一次响应的快照
type ResponseSnapshot struct {
	StatusCode  *int            `json:"statusCode,omitempty"`
	Headers     Fields          `json:"headers"`
	ContentType string          `json:"contentType"`
	ShortType   model.ShortType `json:"shortType"`
	Date        time.Time       `json:"date"`
	Time        string          `json:"time"`
	BodyLength  int             `json:"bodyLength"`
	Status      model.Status    `json:"status"`
}

// Succeeded 状态码小于400
func (r ResponseSnapshot) Succeeded() bool {
	return r.StatusCode != nil && *r.StatusCode < 400
}

// Clone 深拷贝
func (r ResponseSnapshot) Clone() ResponseSnapshot {
	if r.StatusCode != nil {
		code := *r.StatusCode
		r.StatusCode = &code
	}
	r.Headers = r.Headers.Clone()
	return r
}

// Record 一次完整的请求/响应交换
type Record struct {
	ID         model.RecordID   `json:"id"`
	BodyKey    string           `json:"bodyKey"`
	Request    RequestSnapshot  `json:"request"`
	Response   ResponseSnapshot `json:"response"`
	NoResponse bool             `json:"noResponse"`
	Elapsed    *time.Duration   `json:"elapsed,omitempty"`
}

// NewRecord 创建处于加载中状态的记录
func NewRecord() *Record {
	return &Record{
		ID:         NewRecordID(),
		BodyKey:    NewBodyKey(),
		NoResponse: true,
		Response: ResponseSnapshot{
			ShortType: model.ShortOther,
			Status:    model.StatusLoading,
		},
	}
}

// NewBodyKey 生成请求体/响应体文件使用的随机标识
func NewBodyKey() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Status 当前状态
func (r *Record) Status() model.Status {
	return r.Response.Status
}

// SaveRequest 保存请求快照
func (r *Record) SaveRequest(req RequestSnapshot) {
	r.Request.Save(req)
}

// SaveResponse 保存响应快照并计算耗时
func (r *Record) SaveResponse(resp ResponseSnapshot) {
	if resp.StatusCode == nil {
		code := NonHTTPStatus
		resp.StatusCode = &code
	}
	if resp.Succeeded() {
		resp.Status = model.StatusSucceeded
	} else {
		resp.Status = model.StatusFailed
	}
	r.Response = resp
	r.NoResponse = false
	if !r.Request.Date.IsZero() && !resp.Date.IsZero() {
		d := resp.Date.Sub(r.Request.Date)
		r.Elapsed = &d
	}
}

// Fail 标记为传输失败
func (r *Record) Fail(at time.Time) {
	r.NoResponse = false
	r.Elapsed = nil
	r.Response.Status = model.StatusFailed
	r.Response.Date = at
	r.Response.Time = at.Format(TimeLayout)
}

// MarkTimeout 仅当记录仍在加载中时转为超时
func (r *Record) MarkTimeout() bool {
	if r.Response.Status != model.StatusLoading {
		return false
	}
	r.Response.Status = model.StatusTimeout
	return true
}

// Clone 深拷贝，保留ID与BodyKey
func (r *Record) Clone() *Record {
	c := *r
	c.Request = r.Request.Clone()
	c.Response = r.Response.Clone()
	if r.Elapsed != nil {
		d := *r.Elapsed
		c.Elapsed = &d
	}
	return &c
}

// ElapsedText 耗时展示文本
func (r *Record) ElapsedText() string {
	switch r.Response.Status {
	case model.StatusTimeout:
		return "Timeout"
	case model.StatusLoading:
		return "Loading"
	}
	if r.Elapsed == nil {
		return "-"
	}
	return fmt.Sprintf("%.0f ms", float64(*r.Elapsed)/float64(time.Millisecond))
}

// StatusText 状态码展示文本
func (r *Record) StatusText() string {
	switch r.Response.Status {
	case model.StatusTimeout:
		return "Timeout"
	case model.StatusLoading:
		return "..."
	}
	if r.Response.StatusCode == nil {
		return "Failed"
	}
	return fmt.Sprintf("%d", *r.Response.StatusCode)
}

// NewRecordID 生成记录ID
func NewRecordID() model.RecordID {
	return model.RecordID(uuid.NewString())
}
