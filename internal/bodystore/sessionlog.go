package bodystore

import (
	"fmt"
	"strings"
	"time"

	"netmonitor/pkg/traffic"
)

const dateLayout = "2006-01-02 15:04:05.000"

// RequestEntry 会话日志中的请求块
func RequestEntry(rec *traffic.Record, body string) string {
	req := rec.Request
	var b strings.Builder
	fmt.Fprintf(&b, "[Request URL - Start] - %s\n", req.URL)
	fmt.Fprintf(&b, "[Request Method] %s\n", req.Method)
	fmt.Fprintf(&b, "[Request Date] %s\n", formatDate(req.Date))
	fmt.Fprintf(&b, "[Request Time] %s\n", req.Time)
	fmt.Fprintf(&b, "[Request Type] %s\n", req.ContentType)
	fmt.Fprintf(&b, "[Request Timeout] %s\n", formatTimeout(req.Timeout))
	b.WriteString("[Request Headers]\n")
	writeHeaders(&b, req.Headers)
	b.WriteString("[Request Body]\n")
	writeBody(&b, body)
	fmt.Fprintf(&b, "[End Request] - %s\n\n", req.URL)
	return b.String()
}

// ResponseEntry 会话日志中的响应块
func ResponseEntry(rec *traffic.Record, body string) string {
	resp := rec.Response
	var b strings.Builder
	fmt.Fprintf(&b, "[Start Response] - %s\n", rec.Request.URL)
	fmt.Fprintf(&b, "[Response Status] %s\n", rec.StatusText())
	fmt.Fprintf(&b, "[Response Type] %s\n", resp.ContentType)
	fmt.Fprintf(&b, "[Response Date] %s\n", formatDate(resp.Date))
	fmt.Fprintf(&b, "[Response Time] %s\n", resp.Time)
	fmt.Fprintf(&b, "[Response Duration] %s\n", rec.ElapsedText())
	b.WriteString("[Response Headers]\n")
	writeHeaders(&b, resp.Headers)
	b.WriteString("[Response Body]\n")
	writeBody(&b, body)
	fmt.Fprintf(&b, "[End Response] - %s\n\n", rec.Request.URL)
	return b.String()
}

func writeHeaders(b *strings.Builder, fs traffic.Fields) {
	for _, f := range fs {
		fmt.Fprintf(b, "%s: %s\n", f.Name, f.Value)
	}
}

func writeBody(b *strings.Builder, body string) {
	if body == "" {
		return
	}
	b.WriteString(body)
	if !strings.HasSuffix(body, "\n") {
		b.WriteString("\n")
	}
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format(dateLayout)
}

func formatTimeout(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	return fmt.Sprintf("%.1f", d.Seconds())
}
