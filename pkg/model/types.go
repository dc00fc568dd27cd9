package model

import (
	"regexp"
	"strings"
	"time"
)

type RecordID string

// Method 请求方法
type Method string

const (
	MethodGet    Method = "GET"
	MethodPost   Method = "POST"
	MethodPut    Method = "PUT"
	MethodDelete Method = "DELETE"
)

// Known 是否为已知的四种方法
func (m Method) Known() bool {
	switch m {
	case MethodGet, MethodPost, MethodPut, MethodDelete:
		return true
	}
	return false
}

// Status 响应状态
type Status string

const (
	StatusLoading   Status = "loading"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusTimeout   Status = "timeout"
)

// ShortType 内容类型的简短分类
type ShortType string

const (
	ShortJSON       ShortType = "JSON"
	ShortXML        ShortType = "XML"
	ShortHTML       ShortType = "HTML"
	ShortImage      ShortType = "Image"
	ShortURLEncoded ShortType = "URL-Encoded"
	ShortOther      ShortType = "Other"
)

// AllShortTypes 过滤器使用的全部分类
var AllShortTypes = []ShortType{ShortJSON, ShortXML, ShortHTML, ShortImage, ShortURLEncoded, ShortOther}

var jsonContentType = regexp.MustCompile(`^application/(vnd\.(.*)\+)?json$`)

// BaseContentType 去掉 ";" 之后的参数部分
func BaseContentType(ct string) string {
	if i := strings.Index(ct, ";"); i >= 0 {
		ct = ct[:i]
	}
	return strings.ToLower(strings.TrimSpace(ct))
}

// ClassifyContentType 将 Content-Type 归类
func ClassifyContentType(ct string) ShortType {
	base := BaseContentType(ct)
	switch {
	case base == "":
		return ShortOther
	case jsonContentType.MatchString(base):
		return ShortJSON
	case base == "application/xml", base == "text/xml":
		return ShortXML
	case base == "text/html":
		return ShortHTML
	case base == "application/x-www-form-urlencoded":
		return ShortURLEncoded
	case strings.HasPrefix(base, "image/"):
		return ShortImage
	default:
		return ShortOther
	}
}

// SortKey 列表排序字段
type SortKey string

const (
	SortByStartTime    SortKey = "startTime"
	SortByResponseTime SortKey = "responseTime"
)

type Order string

const (
	OrderAsc  Order = "asc"
	OrderDesc Order = "desc"
)

// CachePolicy 缓存存储策略
type CachePolicy string

const (
	CacheAllowed             CachePolicy = "allowed"
	CacheAllowedInMemoryOnly CachePolicy = "allowedInMemoryOnly"
	CacheNotAllowed          CachePolicy = "notAllowed"
)

// Category 重写命令作用的数据类别
type Category string

const (
	CategoryQuery        Category = "query"
	CategoryHeader       Category = "header"
	CategoryRequestBody  Category = "requestBody"
	CategoryResponseBody Category = "responseBody"
)

// EventType 事件类型
type EventType string

const (
	EventRecordAdded    EventType = "record_added"
	EventRecordUpdated  EventType = "record_updated"
	EventRecordsCleared EventType = "records_cleared"
	EventRulesChanged   EventType = "rules_changed"
)

type Event struct {
	Type      EventType `json:"type"`
	Record    RecordID  `json:"record,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
