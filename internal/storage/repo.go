package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"netmonitor/internal/rules"
	"netmonitor/pkg/model"
	"netmonitor/pkg/rulespec"
	"netmonitor/pkg/traffic"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	SettingIgnoredURLs = "ignoredURLs"
	SettingCachePolicy = "cachePolicy"
	SettingFilters     = "filters"
)

// Repo 规则与设置的持久化，实现 monitor.RuleSink
type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

// SaveRule 按 (host, path, method) 插入或覆盖
func (r *Repo) SaveRule(ctx context.Context, rule *rules.Rule) error {
	rec, err := toRecord(rule)
	if err != nil {
		return err
	}
	err = r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "host"}, {Name: "path"}, {Name: "method"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"enabled", "commands", "origin", "latest",
			"origin_request_body", "origin_response_body",
			"latest_request_body", "latest_response_body", "updated_at",
		}),
	}).Create(&rec).Error
	if err != nil {
		return fmt.Errorf("save rule %s: %w", rule.Identity(), err)
	}
	return nil
}

// DeleteRule 删除规则，不存在时不报错
func (r *Repo) DeleteRule(ctx context.Context, id rules.Identity) error {
	err := r.db.WithContext(ctx).
		Where("host = ? AND path = ? AND method = ?", id.Host, id.Path, string(id.Method)).
		Delete(&RuleRecord{}).Error
	if err != nil {
		return fmt.Errorf("delete rule %s: %w", id, err)
	}
	return nil
}

// ListRules 按创建顺序返回所有规则
func (r *Repo) ListRules(ctx context.Context) ([]*rules.Rule, error) {
	var recs []RuleRecord
	if err := r.db.WithContext(ctx).Order("id").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	out := make([]*rules.Rule, 0, len(recs))
	for i := range recs {
		rule, err := fromRecord(&recs[i])
		if err != nil {
			return nil, err
		}
		out = append(out, rule)
	}
	return out, nil
}

// GetSetting 读取设置，不存在时返回 "", false
func (r *Repo) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var s Setting
	err := r.db.WithContext(ctx).Where(&Setting{Key: key}).Take(&s).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return "", false, nil
	case err != nil:
		return "", false, fmt.Errorf("get setting %s: %w", key, err)
	}
	return s.Value, true, nil
}

// SetSetting 写入设置
func (r *Repo) SetSetting(ctx context.Context, key, value string) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&Setting{Key: key, Value: value}).Error
	if err != nil {
		return fmt.Errorf("set setting %s: %w", key, err)
	}
	return nil
}

// SaveIgnored 保存忽略的 URL 前缀
func (r *Repo) SaveIgnored(ctx context.Context, prefixes []string) error {
	return r.setJSON(ctx, SettingIgnoredURLs, prefixes)
}

func (r *Repo) LoadIgnored(ctx context.Context) ([]string, error) {
	var out []string
	_, err := r.getJSON(ctx, SettingIgnoredURLs, &out)
	return out, err
}

func (r *Repo) SaveCachePolicy(ctx context.Context, p model.CachePolicy) error {
	return r.SetSetting(ctx, SettingCachePolicy, string(p))
}

// LoadCachePolicy 未保存过时返回 ok=false
func (r *Repo) LoadCachePolicy(ctx context.Context) (model.CachePolicy, bool, error) {
	v, ok, err := r.GetSetting(ctx, SettingCachePolicy)
	return model.CachePolicy(v), ok, err
}

// SaveFilters 保存按内容类型的过滤选择
func (r *Repo) SaveFilters(ctx context.Context, filters map[model.ShortType]bool) error {
	return r.setJSON(ctx, SettingFilters, filters)
}

func (r *Repo) LoadFilters(ctx context.Context) (map[model.ShortType]bool, error) {
	var out map[model.ShortType]bool
	_, err := r.getJSON(ctx, SettingFilters, &out)
	return out, err
}

func (r *Repo) setJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode setting %s: %w", key, err)
	}
	return r.SetSetting(ctx, key, string(data))
}

func (r *Repo) getJSON(ctx context.Context, key string, v any) (bool, error) {
	raw, ok, err := r.GetSetting(ctx, key)
	if err != nil || !ok {
		return ok, err
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return true, fmt.Errorf("decode setting %s: %w", key, err)
	}
	return true, nil
}

func toRecord(r *rules.Rule) (RuleRecord, error) {
	id := r.Identity()
	cmds, err := rulespec.Encode(r.Commands)
	if err != nil {
		return RuleRecord{}, fmt.Errorf("encode commands: %w", err)
	}
	origin, err := json.Marshal(r.Origin)
	if err != nil {
		return RuleRecord{}, fmt.Errorf("encode origin: %w", err)
	}
	latest, err := json.Marshal(r.Latest)
	if err != nil {
		return RuleRecord{}, fmt.Errorf("encode latest: %w", err)
	}
	return RuleRecord{
		Host:               id.Host,
		Path:               id.Path,
		Method:             string(id.Method),
		Enabled:            r.Enabled,
		Commands:           string(cmds),
		Origin:             string(origin),
		Latest:             string(latest),
		OriginRequestBody:  r.OriginBody.Request,
		OriginResponseBody: r.OriginBody.Response,
		LatestRequestBody:  r.LatestBody.Request,
		LatestResponseBody: r.LatestBody.Response,
	}, nil
}

func fromRecord(rec *RuleRecord) (*rules.Rule, error) {
	cmds, err := rulespec.Decode([]byte(rec.Commands))
	if err != nil {
		return nil, fmt.Errorf("decode commands of rule %d: %w", rec.ID, err)
	}
	var origin, latest traffic.Record
	if err := json.Unmarshal([]byte(rec.Origin), &origin); err != nil {
		return nil, fmt.Errorf("decode origin of rule %d: %w", rec.ID, err)
	}
	if err := json.Unmarshal([]byte(rec.Latest), &latest); err != nil {
		return nil, fmt.Errorf("decode latest of rule %d: %w", rec.ID, err)
	}
	return &rules.Rule{
		Origin:     &origin,
		OriginBody: rules.Body{Request: rec.OriginRequestBody, Response: rec.OriginResponseBody},
		Latest:     &latest,
		LatestBody: rules.Body{Request: rec.LatestRequestBody, Response: rec.LatestResponseBody},
		Commands:   cmds,
		Enabled:    rec.Enabled,
	}, nil
}
