package service

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"netmonitor/internal/bodystore"
	"netmonitor/internal/config"
	"netmonitor/internal/har"
	"netmonitor/internal/interceptor"
	"netmonitor/internal/logger"
	"netmonitor/internal/monitor"
	"netmonitor/internal/rules"
	"netmonitor/internal/storage"
	"netmonitor/pkg/model"
	"netmonitor/pkg/rulespec"
	"netmonitor/pkg/traffic"

	"gorm.io/gorm"
)

// Service 组装抓包存储、拦截器与持久化
type Service struct {
	cfg    *config.Config
	log    logger.Logger
	bodies *bodystore.Store
	db     *gorm.DB
	repo   *storage.Repo
	store  *monitor.Store
	tr     *interceptor.Transport
}

// New 打开存储并恢复持久化的规则与设置
func New(ctx context.Context, cfg *config.Config, l logger.Logger) (*Service, error) {
	if l == nil {
		l = logger.NewNop()
	}
	if cfg == nil {
		cfg = config.NewConfig()
	}
	bodies, err := bodystore.New(bodystore.Options{
		Dir:               cfg.Storage.Dir,
		SessionMaxSizeMB:  cfg.Storage.SessionMaxSizeMB,
		SessionMaxBackups: cfg.Storage.SessionMaxBackups,
		Logger:            l,
	})
	if err != nil {
		return nil, err
	}
	db, err := storage.Open(storage.Options{DSN: cfg.Sqlite.Dsn, Prefix: cfg.Sqlite.Prefix, Logger: l})
	if err != nil {
		_ = bodies.Close()
		return nil, err
	}
	repo := storage.NewRepo(db)
	store := monitor.New(monitor.Options{
		Bodies:          bodies,
		Sink:            repo,
		ResponseTimeout: cfg.ResponseTimeout(),
		Logger:          l,
	})
	s := &Service{
		cfg:    cfg,
		log:    l,
		bodies: bodies,
		db:     db,
		repo:   repo,
		store:  store,
		tr:     interceptor.New(interceptor.Config{Store: store, Bodies: bodies, Logger: l}),
	}
	if err := s.restore(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Service) restore(ctx context.Context) error {
	rs, err := s.repo.ListRules(ctx)
	if err != nil {
		return err
	}
	if err := s.store.RestoreRules(rs); err != nil {
		return err
	}

	ignored, err := s.repo.LoadIgnored(ctx)
	if err != nil {
		return err
	}
	for _, p := range append(append([]string(nil), s.cfg.Capture.IgnoredURLs...), ignored...) {
		if err := s.store.Ignore(p); err != nil {
			return err
		}
	}

	policy, ok, err := s.repo.LoadCachePolicy(ctx)
	if err != nil {
		return err
	}
	if !ok {
		policy = model.CachePolicy(s.cfg.Capture.CachePolicy)
	}
	if err := s.store.SetCachePolicy(policy); err != nil {
		return err
	}

	filters, err := s.repo.LoadFilters(ctx)
	if err != nil {
		return err
	}
	if err := s.store.SetFilters(filters); err != nil {
		return err
	}
	s.log.Info("服务已就绪", "rules", len(rs), "ignored", len(s.store.Ignored()), "cachePolicy", string(policy))
	return nil
}

// Start 开启抓包
func (s *Service) Start() error { return s.store.Start() }

// Stop 关闭抓包
func (s *Service) Stop() error { return s.store.Stop() }

func (s *Service) Enabled() bool { return s.store.Enabled() }

// Ignore 忽略 URL 前缀并持久化
func (s *Service) Ignore(ctx context.Context, prefix string) error {
	if err := s.store.Ignore(prefix); err != nil {
		return err
	}
	return s.repo.SaveIgnored(ctx, s.store.Ignored())
}

func (s *Service) Ignored() []string { return s.store.Ignored() }

// Transport 拦截用的 RoundTripper
func (s *Service) Transport() http.RoundTripper { return s.tr }

// Client 使用拦截器的 http.Client
func (s *Service) Client() *http.Client { return s.tr.Client() }

func (s *Service) List(opts monitor.ListOptions) []*traffic.Record { return s.store.List(opts) }

func (s *Service) Record(id model.RecordID) (*traffic.Record, bool) { return s.lookup(id) }

func (s *Service) Hosts() []string { return s.store.Hosts() }

func (s *Service) Methods() []model.Method { return s.store.Methods() }

// RequestBody 格式化后的请求体
func (s *Service) RequestBody(id model.RecordID) (string, error) {
	rec, ok := s.lookup(id)
	if !ok {
		return "", fmt.Errorf("%w: %s", monitor.ErrRecordNotFound, id)
	}
	return s.bodies.RequestText(rec.BodyKey, rec.Request.ContentType), nil
}

// ResponseBody 格式化后的响应体
func (s *Service) ResponseBody(id model.RecordID) (string, error) {
	rec, ok := s.lookup(id)
	if !ok {
		return "", fmt.Errorf("%w: %s", monitor.ErrRecordNotFound, id)
	}
	return s.bodies.ResponseText(rec.BodyKey, rec.Response.ContentType), nil
}

// Curl 导出 curl 命令
func (s *Service) Curl(id model.RecordID) (string, error) {
	rec, ok := s.lookup(id)
	if !ok {
		return "", fmt.Errorf("%w: %s", monitor.ErrRecordNotFound, id)
	}
	body, err := s.bodies.RequestBody(rec.BodyKey)
	if err != nil {
		return "", err
	}
	return rec.Request.Curl(body), nil
}

// AddRewriteCommand 对记录所属规则追加命令；记录可以是抓到的记录，也可以是规则的源记录或结果记录
func (s *Service) AddRewriteCommand(id model.RecordID, cmd rulespec.AddCommand) (bool, error) {
	rec, ok := s.lookup(id)
	if !ok {
		return false, fmt.Errorf("%w: %s", monitor.ErrRecordNotFound, id)
	}
	return s.store.AddRewriteCommand(rec, cmd)
}

// RemoveRewriteCommand 撤销命令，规则被删除时返回 true
func (s *Service) RemoveRewriteCommand(id model.RecordID, cmd rulespec.RemoveCommand) (bool, error) {
	rec, ok := s.lookup(id)
	if !ok {
		return false, fmt.Errorf("%w: %s", monitor.ErrRecordNotFound, id)
	}
	return s.store.RemoveRewriteCommand(rec, cmd)
}

// SubmitRewriteCommand 立即返回，命令应用完成后通过通道通知
func (s *Service) SubmitRewriteCommand(id model.RecordID, cmd rulespec.AddCommand) <-chan error {
	rec, ok := s.lookup(id)
	if !ok {
		return failed(fmt.Errorf("%w: %s", monitor.ErrRecordNotFound, id))
	}
	return s.store.SubmitRewriteCommand(rec, cmd)
}

// SubmitRemoveCommand 立即返回，撤销完成后通过通道通知
func (s *Service) SubmitRemoveCommand(id model.RecordID, cmd rulespec.RemoveCommand) <-chan error {
	rec, ok := s.lookup(id)
	if !ok {
		return failed(fmt.Errorf("%w: %s", monitor.ErrRecordNotFound, id))
	}
	return s.store.SubmitRemoveCommand(rec, cmd)
}

func failed(err error) <-chan error {
	ch := make(chan error, 1)
	ch <- err
	return ch
}

func (s *Service) SetRuleEnabled(id rules.Identity, enabled bool) (bool, error) {
	return s.store.SetRuleEnabled(id, enabled)
}

func (s *Service) Rules() []*rules.Rule { return s.store.Rules() }

// SetCachePolicy 设置并持久化缓存策略
func (s *Service) SetCachePolicy(ctx context.Context, p model.CachePolicy) error {
	if err := s.store.SetCachePolicy(p); err != nil {
		return err
	}
	return s.repo.SaveCachePolicy(ctx, p)
}

func (s *Service) CachePolicy() model.CachePolicy { return s.store.CachePolicy() }

// SetFilters 设置并持久化内容类型过滤
func (s *Service) SetFilters(ctx context.Context, filters map[model.ShortType]bool) error {
	if err := s.store.SetFilters(filters); err != nil {
		return err
	}
	return s.repo.SaveFilters(ctx, s.store.Filters())
}

func (s *Service) Filters() map[model.ShortType]bool { return s.store.Filters() }

func (s *Service) Subscribe(buffer int) (<-chan model.Event, func()) {
	return s.store.Subscribe(buffer)
}

// ExportHAR 以 HAR 格式导出符合条件的记录
func (s *Service) ExportHAR(w io.Writer, opts monitor.ListOptions) error {
	doc, err := har.Build(s.store.List(opts), s.bodies, s.cfg.Version)
	if err != nil {
		return err
	}
	return har.Write(w, doc)
}

// Close 关闭存储与数据库
func (s *Service) Close() error {
	_ = s.store.Close()
	if err := s.bodies.Close(); err != nil {
		s.log.Err(err, "关闭会话日志失败")
	}
	return storage.Close(s.db)
}

func (s *Service) lookup(id model.RecordID) (*traffic.Record, bool) {
	if rec, ok := s.store.Record(id); ok {
		return rec, true
	}
	for _, r := range s.store.Rules() {
		switch id {
		case r.Origin.ID:
			return r.Origin, true
		case r.Latest.ID:
			return r.Latest, true
		}
	}
	return nil, false
}
