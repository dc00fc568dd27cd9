package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"netmonitor/internal/monitor"
	"netmonitor/pkg/api"
	"netmonitor/pkg/model"
	"netmonitor/pkg/rulespec"
	"netmonitor/pkg/traffic"

	"github.com/spf13/cobra"
)

type fetchOptions struct {
	method      string
	headers     []string
	data        string
	ignore      []string
	cachePolicy string
	setResponse string
	setHeaders  []string
	setQuery    []string
	patches     []string
	types       []string
	sortBy      string
	order       string
	harPath     string
}

func newFetchCmd(a *app) *cobra.Command {
	o := &fetchOptions{}
	cmd := &cobra.Command{
		Use:   "fetch <url>...",
		Short: "Issue requests through the interceptor and print the captured records",
		Example: `  netmonitor fetch https://httpbin.org/get
  netmonitor fetch https://httpbin.org/json --set-response mock.json --har out.har
  netmonitor fetch https://httpbin.org/get --set-header "Accept=text/plain" --set-query "a=2"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFetch(cmd.Context(), a, o, args, cmd.OutOrStdout())
		},
	}
	f := cmd.Flags()
	f.StringVarP(&o.method, "method", "X", http.MethodGet, "request method")
	f.StringArrayVarP(&o.headers, "header", "H", nil, `request header "Name: Value"`)
	f.StringVarP(&o.data, "data", "d", "", "request body")
	f.StringArrayVar(&o.ignore, "ignore", nil, "ignore URLs with this prefix")
	f.StringVar(&o.cachePolicy, "cache-policy", "", "allowed, allowedInMemoryOnly or notAllowed")
	f.StringVar(&o.setResponse, "set-response", "", "replace the response body with this file")
	f.StringArrayVar(&o.setHeaders, "set-header", nil, `replace a request header value "Name=Value"`)
	f.StringArrayVar(&o.setQuery, "set-query", nil, `replace a query parameter value "key=value"`)
	f.StringArrayVar(&o.patches, "patch", nil, `patch the JSON response "path=json"`)
	f.StringArrayVar(&o.types, "type", nil, "only list records of these content types")
	f.StringVar(&o.sortBy, "sort", "", "startTime or responseTime")
	f.StringVar(&o.order, "order", string(model.OrderAsc), "asc or desc")
	f.StringVar(&o.harPath, "har", "", "export captured records to this HAR file")
	return cmd
}

func runFetch(ctx context.Context, a *app, o *fetchOptions, urls []string, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	svc, err := api.NewService(ctx, a.cfg, a.log)
	if err != nil {
		return err
	}
	defer svc.Close()

	if err := svc.Start(); err != nil {
		return err
	}
	for _, p := range o.ignore {
		if err := svc.Ignore(ctx, p); err != nil {
			return err
		}
	}
	if o.cachePolicy != "" {
		switch p := model.CachePolicy(o.cachePolicy); p {
		case model.CacheAllowed, model.CacheAllowedInMemoryOnly, model.CacheNotAllowed:
		default:
			return fmt.Errorf("unknown cache policy %q", p)
		}
		if err := svc.SetCachePolicy(ctx, model.CachePolicy(o.cachePolicy)); err != nil {
			return err
		}
	}

	if err := fetchAll(ctx, svc, o, urls); err != nil {
		return err
	}

	cmds, err := o.commands()
	if err != nil {
		return err
	}
	if len(cmds) > 0 || len(o.setHeaders) > 0 || len(o.setQuery) > 0 {
		applied := 0
		for _, u := range urls {
			rec := latestFor(svc, u)
			if rec == nil {
				a.log.Warn("未找到可重写的记录", "url", u)
				continue
			}
			all := append(append([]rulespec.AddCommand(nil), cmds...), fieldCommands(rec, o)...)
			for _, c := range all {
				ok, err := svc.AddRewriteCommand(rec.ID, c)
				if err != nil {
					return err
				}
				if ok {
					applied++
				}
			}
		}
		a.log.Info("重写规则已更新", "applied", applied, "rules", len(svc.Rules()))
		if err := fetchAll(ctx, svc, o, urls); err != nil {
			return err
		}
	}

	opts, err := o.listOptions()
	if err != nil {
		return err
	}
	printRecords(out, svc.List(opts))

	if o.harPath != "" {
		f, err := os.Create(o.harPath)
		if err != nil {
			return err
		}
		defer f.Close()
		if err := svc.ExportHAR(f, opts); err != nil {
			return fmt.Errorf("export har: %w", err)
		}
	}
	return nil
}

func fetchAll(ctx context.Context, svc api.Service, o *fetchOptions, urls []string) error {
	client := svc.Client()
	for _, u := range urls {
		var body io.Reader
		if o.data != "" {
			body = strings.NewReader(o.data)
		}
		req, err := http.NewRequestWithContext(ctx, strings.ToUpper(o.method), u, body)
		if err != nil {
			return err
		}
		for _, h := range o.headers {
			name, value, ok := strings.Cut(h, ":")
			if !ok {
				return fmt.Errorf("invalid header %q", h)
			}
			req.Header.Add(strings.TrimSpace(name), strings.TrimSpace(value))
		}
		resp, err := client.Do(req)
		if err != nil {
			// 失败的请求同样被记录，继续处理其余 URL
			continue
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}
	return nil
}

// commands 与记录字段无关的命令
func (o *fetchOptions) commands() ([]rulespec.AddCommand, error) {
	var cmds []rulespec.AddCommand
	if o.setResponse != "" {
		data, err := os.ReadFile(o.setResponse)
		if err != nil {
			return nil, err
		}
		cmds = append(cmds, rulespec.SetResponseBody{Data: data})
	}
	for _, p := range o.patches {
		path, value, ok := strings.Cut(p, "=")
		if !ok {
			return nil, fmt.Errorf("invalid patch %q", p)
		}
		cmds = append(cmds, rulespec.PatchResponseJSON{Path: path, Value: value})
	}
	return cmds, nil
}

// fieldCommands 按名称在记录中定位字段
func fieldCommands(rec *traffic.Record, o *fetchOptions) []rulespec.AddCommand {
	var cmds []rulespec.AddCommand
	for _, kv := range o.setHeaders {
		name, value, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if f, ok := findField(rec.Request.Headers, name, true); ok {
			cmds = append(cmds, rulespec.ReplaceHeaderValue{FieldID: f.ID, Value: value})
		}
	}
	for _, kv := range o.setQuery {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if f, ok := findField(rec.Request.Query, key, false); ok {
			cmds = append(cmds, rulespec.ReplaceQueryValue{FieldID: f.ID, Value: value})
		}
	}
	return cmds
}

func findField(fs traffic.Fields, name string, fold bool) (traffic.Field, bool) {
	for _, f := range fs {
		if f.Name == name || (fold && strings.EqualFold(f.Name, name)) {
			return f, true
		}
	}
	return traffic.Field{}, false
}

func latestFor(svc api.Service, url string) *traffic.Record {
	for _, rec := range svc.List(monitor.ListOptions{}) {
		if rec.Request.URL == url {
			return rec
		}
	}
	return nil
}

func (o *fetchOptions) listOptions() (monitor.ListOptions, error) {
	opts := monitor.ListOptions{Order: model.Order(o.order)}
	switch model.SortKey(o.sortBy) {
	case "", model.SortByStartTime, model.SortByResponseTime:
		opts.SortBy = model.SortKey(o.sortBy)
	default:
		return opts, fmt.Errorf("unknown sort key %q", o.sortBy)
	}
	for _, t := range o.types {
		opts.Types = append(opts.Types, model.ShortType(t))
	}
	return opts, nil
}
