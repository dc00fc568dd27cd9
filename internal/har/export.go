package har

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"netmonitor/pkg/model"
	"netmonitor/pkg/traffic"

	"github.com/pb33f/harhar"
)

const (
	Version     = "1.2"
	CreatorName = "netmonitor"
)

// Document HAR 文档根节点
type Document struct {
	Log Log `json:"log"`
}

type Log struct {
	Version string         `json:"version"`
	Creator harhar.Creator `json:"creator"`
	Entries []harhar.Entry `json:"entries"`
}

// Bodies 读取记录的请求体/响应体
type Bodies interface {
	RequestBody(key string) ([]byte, error)
	ResponseBody(key string, t model.ShortType) ([]byte, error)
}

// Build 把记录转换为 HAR 文档，仍在加载中的记录不导出
func Build(recs []*traffic.Record, bodies Bodies, creatorVersion string) (*Document, error) {
	doc := &Document{Log: Log{
		Version: Version,
		Creator: harhar.Creator{Name: CreatorName, Version: creatorVersion},
		Entries: make([]harhar.Entry, 0, len(recs)),
	}}
	for _, rec := range recs {
		if rec.Status() == model.StatusLoading {
			continue
		}
		var reqBody, respBody []byte
		if bodies != nil {
			var err error
			if reqBody, err = bodies.RequestBody(rec.BodyKey); err != nil {
				return nil, fmt.Errorf("read request body of %s: %w", rec.ID, err)
			}
			if respBody, err = bodies.ResponseBody(rec.BodyKey, rec.Response.ShortType); err != nil {
				return nil, fmt.Errorf("read response body of %s: %w", rec.ID, err)
			}
		}
		doc.Log.Entries = append(doc.Log.Entries, Entry(rec, reqBody, respBody))
	}
	return doc, nil
}

// Entry 转换单条记录
func Entry(rec *traffic.Record, reqBody, respBody []byte) harhar.Entry {
	var elapsed float64
	if rec.Elapsed != nil {
		elapsed = float64(*rec.Elapsed) / float64(time.Millisecond)
	}
	status := 0
	if rec.Response.StatusCode != nil {
		status = *rec.Response.StatusCode
	}
	return harhar.Entry{
		Start: rec.Request.Date.Format(time.RFC3339Nano),
		Time:  elapsed,
		Request: harhar.Request{
			Method:      string(rec.Request.Method),
			URL:         rec.Request.URL,
			HTTPVersion: "HTTP/1.1",
			Headers:     pairs(rec.Request.Headers),
			QueryParams: pairs(rec.Request.Query),
			Cookies:     []harhar.Cookie{},
			Body: harhar.BodyType{
				MIMEType: rec.Request.ContentType,
				Content:  string(reqBody),
			},
			HeadersSize: -1,
			BodySize:    len(reqBody),
		},
		Response: harhar.Response{
			StatusCode:  status,
			StatusText:  http.StatusText(status),
			HTTPVersion: "HTTP/1.1",
			Headers:     pairs(rec.Response.Headers),
			Cookies:     []harhar.Cookie{},
			Body: harhar.BodyResponseType{
				Size:     len(respBody),
				MIMEType: rec.Response.ContentType,
				Content:  string(respBody),
			},
			HeadersSize: -1,
			BodySize:    len(respBody),
		},
		Timings: harhar.Timings{
			DNS:     -1,
			Connect: -1,
			Send:    0,
			Wait:    elapsed,
			Receive: 0,
		},
	}
}

func pairs(fs traffic.Fields) []harhar.NameValuePair {
	out := make([]harhar.NameValuePair, 0, len(fs))
	for _, f := range fs {
		out = append(out, harhar.NameValuePair{Name: f.Name, Value: f.Value})
	}
	return out
}

// Write 以缩进格式写出文档
func Write(w io.Writer, doc *Document) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("write har: %w", err)
	}
	return nil
}
