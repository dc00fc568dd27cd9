package interceptor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"netmonitor/internal/bodystore"
	"netmonitor/internal/ctxkeys"
	"netmonitor/internal/logger"
	"netmonitor/internal/monitor"
	"netmonitor/pkg/model"
	"netmonitor/pkg/traffic"
)

type forwardedKey struct{}

// Forwarded 请求是否已由拦截器转发，转发出去的请求不再被拦截
func Forwarded(ctx context.Context) bool {
	v, _ := ctx.Value(forwardedKey{}).(bool)
	return v
}

func markForwarded(ctx context.Context) context.Context {
	return context.WithValue(ctx, forwardedKey{}, true)
}

// Config 拦截器配置
type Config struct {
	Store  *monitor.Store
	Bodies *bodystore.Store
	// Next 实际发送请求的 RoundTripper，默认 http.DefaultTransport
	Next   http.RoundTripper
	Logger logger.Logger
}

// Transport 拦截经过的 HTTP 请求：登记记录、应用重写规则并保存请求体/响应体
type Transport struct {
	store  *monitor.Store
	bodies *bodystore.Store
	next   http.RoundTripper
	log    logger.Logger
}

// New 创建拦截器
func New(opts Config) *Transport {
	if opts.Logger == nil {
		opts.Logger = logger.NewNop()
	}
	if opts.Next == nil {
		opts.Next = http.DefaultTransport
	}
	return &Transport{
		store:  opts.Store,
		bodies: opts.Bodies,
		next:   opts.Next,
		log:    opts.Logger,
	}
}

// Client 返回使用该拦截器的 http.Client，重定向由 Client 发起新的请求，因此每一跳都会单独记录
func (t *Transport) Client() *http.Client {
	return &http.Client{Transport: t}
}

// CanIntercept 抓包开启、请求未被转发过、协议为 http(s) 且不在忽略列表中
func (t *Transport) CanIntercept(req *http.Request) bool {
	if t.store == nil || !t.store.Enabled() || Forwarded(req.Context()) {
		return false
	}
	if req.URL == nil || (req.URL.Scheme != "http" && req.URL.Scheme != "https") {
		return false
	}
	return !t.store.IsIgnored(req.URL.String())
}

// RoundTrip 实现 http.RoundTripper
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if !t.CanIntercept(req) {
		return t.next.RoundTrip(req)
	}
	start := time.Now()

	body, err := readRequestBody(req)
	if err != nil {
		return nil, err
	}

	rec := traffic.NewRecord()
	snap := ToRequestSnapshot(req, start)
	plan, err := t.store.Register(rec, snap, body)
	if err != nil {
		t.log.Err(err, "登记请求失败，直接转发", "url", snap.URL)
		// 请求体已被读出，需要重新装回
		out, _ := buildOutgoing(req.Clone(req.Context()), body, nil)
		return t.next.RoundTrip(out)
	}
	log := t.log.With("record", string(rec.ID))
	log.Debug("拦截到请求", "method", string(snap.Method), "url", snap.URL)

	t.saveRequest(log, rec.ID, rec.BodyKey, body)

	ctx := ctxkeys.WithTraceID(markForwarded(req.Context()), string(rec.ID))
	out, err := buildOutgoing(req.Clone(ctx), body, plan)
	if err != nil {
		log.Err(err, "应用重写规则失败，发送原始请求")
		out, _ = buildOutgoing(req.Clone(ctx), body, nil)
	} else if !plan.Empty() {
		log.Info("请求已按规则重写", "url", out.URL.String())
	}

	resp, err := t.next.RoundTrip(out)
	if err != nil {
		if ferr := t.store.Fail(rec.ID, time.Now()); ferr != nil {
			log.Err(ferr, "标记失败状态出错")
		}
		log.Warn("请求失败", "error", err.Error())
		return nil, err
	}

	respSnap := ToResponseSnapshot(resp, time.Now())
	replacement, replace := t.store.ResponseOverride(snap)
	if t.store.CachePolicy() == model.CacheNotAllowed {
		resp.Header.Set("Cache-Control", "no-store")
	}
	if replace {
		resp.ContentLength = int64(len(replacement))
		resp.Header.Set("Content-Length", strconv.Itoa(len(replacement)))
		resp.Header.Del("Content-Encoding")
		resp.Uncompressed = true
		log.Info("响应体已按规则替换", "size", len(replacement))
	}
	resp.Body = newCaptureBody(resp.Body, replacement, replace, func(data []byte, rerr error) {
		t.complete(log, rec, respSnap, data, rerr)
	})
	return resp, nil
}

func (t *Transport) complete(log logger.Logger, rec *traffic.Record, resp traffic.ResponseSnapshot, body []byte, readErr error) {
	if readErr != nil {
		log.Warn("读取响应体失败", "error", readErr.Error())
		if err := t.store.Fail(rec.ID, time.Now()); err != nil {
			log.Err(err, "标记失败状态出错")
		}
		return
	}
	resp.BodyLength = len(body)
	if t.bodies != nil {
		if err := t.bodies.SaveResponseBody(rec.BodyKey, resp.ShortType, body); err != nil {
			log.Err(err, "保存响应体失败")
		}
	}
	if err := t.store.Complete(rec.ID, resp, body); err != nil {
		log.Err(err, "保存响应失败")
		return
	}
	if t.bodies == nil {
		return
	}
	if cur, ok := t.store.Record(rec.ID); ok {
		entry := bodystore.ResponseEntry(cur, bodystore.Pretty(body, cur.Response.ContentType))
		if err := t.bodies.AppendSession(entry); err != nil {
			log.Err(err, "写入会话日志失败")
		}
	}
	log.Debug("响应完成", "size", resp.BodyLength)
}

func (t *Transport) saveRequest(log logger.Logger, id model.RecordID, key string, body []byte) {
	if t.bodies == nil {
		return
	}
	if err := t.bodies.SaveRequestBody(key, body); err != nil {
		log.Err(err, "保存请求体失败")
	}
	if cur, ok := t.store.Record(id); ok {
		entry := bodystore.RequestEntry(cur, bodystore.Pretty(body, cur.Request.ContentType))
		if err := t.bodies.AppendSession(entry); err != nil {
			log.Err(err, "写入会话日志失败")
		}
	}
}

func readRequestBody(req *http.Request) ([]byte, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	defer req.Body.Close()
	data, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, fmt.Errorf("read request body: %w", err)
	}
	return data, nil
}

// buildOutgoing 把重写计划应用到即将发出的请求上
func buildOutgoing(out *http.Request, body []byte, plan *monitor.Plan) (*http.Request, error) {
	if plan != nil {
		if plan.URL != "" {
			u, err := url.Parse(plan.URL)
			if err != nil {
				return nil, fmt.Errorf("parse rewritten url: %w", err)
			}
			out.URL = u
			out.Host = u.Host
		}
		if plan.Header != nil {
			out.Header = plan.Header
		}
		if plan.RewriteBody {
			body = plan.Body
		}
	}
	setBody(out, body)
	return out, nil
}

func setBody(req *http.Request, body []byte) {
	if len(body) == 0 {
		req.Body = http.NoBody
		req.GetBody = nil
		req.ContentLength = 0
		req.Header.Del("Content-Length")
		return
	}
	req.Body = io.NopCloser(bytes.NewReader(body))
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}
	req.ContentLength = int64(len(body))
}
