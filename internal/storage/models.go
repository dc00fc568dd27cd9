package storage

import "time"

// RuleRecord 一条持久化的重写规则，(host, path, method) 唯一
type RuleRecord struct {
	ID      uint   `gorm:"primaryKey"`
	Host    string `gorm:"size:255;uniqueIndex:idx_rule_identity"`
	Path    string `gorm:"size:2048;uniqueIndex:idx_rule_identity"`
	Method  string `gorm:"size:16;uniqueIndex:idx_rule_identity"`
	Enabled bool
	// Commands 按追加顺序编码的命令列表
	Commands string `gorm:"type:text"`
	// Origin/Latest 记录的 JSON
	Origin             string `gorm:"type:text"`
	Latest             string `gorm:"type:text"`
	OriginRequestBody  []byte
	OriginResponseBody []byte
	LatestRequestBody  []byte
	LatestResponseBody []byte
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Setting 键值形式的设置项
type Setting struct {
	Key       string `gorm:"primaryKey;size:64"`
	Value     string `gorm:"type:text"`
	UpdatedAt time.Time
}
