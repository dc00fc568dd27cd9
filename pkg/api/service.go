package api

import (
	"context"
	"io"
	"net/http"

	"netmonitor/internal/config"
	"netmonitor/internal/logger"
	"netmonitor/internal/monitor"
	"netmonitor/internal/rules"
	"netmonitor/internal/service"
	"netmonitor/pkg/model"
	"netmonitor/pkg/rulespec"
	"netmonitor/pkg/traffic"
)

// Service 服务接口
type Service interface {
	// Start 开启抓包并清除之前的记录
	Start() error

	// Stop 关闭抓包并清除记录、请求体文件与会话日志
	Stop() error

	// Enabled 是否正在抓包
	Enabled() bool

	// Ignore 忽略以 prefix 开头的 URL
	Ignore(ctx context.Context, prefix string) error

	// Transport 拦截用的 RoundTripper
	Transport() http.RoundTripper

	// Client 使用拦截器的 http.Client
	Client() *http.Client

	// List 按条件列出记录
	List(opts monitor.ListOptions) []*traffic.Record

	// Record 获取单条记录
	Record(id model.RecordID) (*traffic.Record, bool)

	// Hosts 出现过的 host
	Hosts() []string

	// Methods 出现过的请求方法
	Methods() []model.Method

	// RequestBody 格式化后的请求体
	RequestBody(id model.RecordID) (string, error)

	// ResponseBody 格式化后的响应体
	ResponseBody(id model.RecordID) (string, error)

	// Curl 导出 curl 命令
	Curl(id model.RecordID) (string, error)

	// AddRewriteCommand 追加重写命令
	AddRewriteCommand(id model.RecordID, cmd rulespec.AddCommand) (bool, error)

	// RemoveRewriteCommand 撤销重写命令
	RemoveRewriteCommand(id model.RecordID, cmd rulespec.RemoveCommand) (bool, error)

	// SubmitRewriteCommand 异步追加重写命令，完成后通道收到结果
	SubmitRewriteCommand(id model.RecordID, cmd rulespec.AddCommand) <-chan error

	// SubmitRemoveCommand 异步撤销重写命令
	SubmitRemoveCommand(id model.RecordID, cmd rulespec.RemoveCommand) <-chan error

	// SetRuleEnabled 启用或停用规则
	SetRuleEnabled(id rules.Identity, enabled bool) (bool, error)

	// Rules 所有规则
	Rules() []*rules.Rule

	// SetCachePolicy 设置缓存策略
	SetCachePolicy(ctx context.Context, p model.CachePolicy) error

	// CachePolicy 当前缓存策略
	CachePolicy() model.CachePolicy

	// SetFilters 设置内容类型过滤
	SetFilters(ctx context.Context, filters map[model.ShortType]bool) error

	// Filters 当前内容类型过滤
	Filters() map[model.ShortType]bool

	// Subscribe 订阅事件
	Subscribe(buffer int) (<-chan model.Event, func())

	// ExportHAR 导出 HAR
	ExportHAR(w io.Writer, opts monitor.ListOptions) error

	// Close 释放资源
	Close() error
}

// NewService 创建并返回服务接口实现
func NewService(ctx context.Context, cfg *config.Config, l logger.Logger) (Service, error) {
	s, err := service.New(ctx, cfg, l)
	if err != nil {
		return nil, err
	}
	return s, nil
}
