package monitor

import (
	"sort"
	"time"

	"netmonitor/pkg/model"
	"netmonitor/pkg/traffic"

	"github.com/samber/lo"
)

// ListOptions 列表的排序与过滤条件，空集合表示不过滤
type ListOptions struct {
	SortBy  model.SortKey
	Order   model.Order
	Hosts   []string
	Methods []model.Method
	Types   []model.ShortType
}

// List 按条件返回记录快照，未指定排序时最新的记录在前
func (s *Store) List(opts ListOptions) []*traffic.Record {
	s.mu.RLock()
	out := make([]*traffic.Record, 0, len(s.records))
	for _, rec := range s.records {
		if !allows(opts.Hosts, rec.Request.Host) ||
			!allows(opts.Methods, rec.Request.Method) ||
			!allows(opts.Types, rec.Response.ShortType) {
			continue
		}
		out = append(out, rec.Clone())
	}
	s.mu.RUnlock()

	if opts.SortBy == "" {
		return out
	}
	key := sortValue(opts.SortBy)
	desc := opts.Order == model.OrderDesc
	sort.SliceStable(out, func(i, j int) bool {
		a, b := key(out[i]), key(out[j])
		if desc {
			return a > b
		}
		return a < b
	})
	return out
}

func sortValue(k model.SortKey) func(*traffic.Record) int64 {
	if k == model.SortByResponseTime {
		return func(r *traffic.Record) int64 {
			if r.Elapsed == nil {
				return -1
			}
			return int64(*r.Elapsed / time.Microsecond)
		}
	}
	return func(r *traffic.Record) int64 { return r.Request.Date.UnixNano() }
}

// allows 空集合不过滤
func allows[T comparable](set []T, v T) bool {
	return len(set) == 0 || lo.Contains(set, v)
}
