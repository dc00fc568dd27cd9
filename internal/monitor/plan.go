package monitor

import (
	"bytes"
	"net/http"

	"netmonitor/internal/rules"
	"netmonitor/pkg/model"
)

// Plan 请求发出前需要应用的重写，字段为空表示该部分不变
type Plan struct {
	URL         string
	Header      http.Header
	Body        []byte
	RewriteBody bool
}

// Empty 没有任何需要应用的重写
func (p *Plan) Empty() bool {
	return p == nil || (p.URL == "" && p.Header == nil && !p.RewriteBody)
}

func planFor(r *rules.Rule) *Plan {
	p := &Plan{}
	req := r.Latest.Request
	if r.Has(model.CategoryQuery) {
		p.URL = req.URL
	}
	if r.Has(model.CategoryHeader) {
		p.Header = req.Headers.Header()
	}
	if r.Has(model.CategoryRequestBody) {
		p.Body = bytes.Clone(r.LatestBody.Request)
		p.RewriteBody = true
	}
	if p.Empty() {
		return nil
	}
	return p
}
