package bodystore

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"netmonitor/internal/logger"
	"netmonitor/pkg/model"

	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	// Prefix 保留的文件前缀，Purge 会删除该前缀下所有文件
	Prefix = "network_"
	// SessionLogName 会话日志文件名
	SessionLogName = "session.log"
)

// Options 存储配置
type Options struct {
	Dir               string
	SessionMaxSizeMB  int
	SessionMaxBackups int
	Logger            logger.Logger
}

// Store 以文件保存请求体/响应体，并追加会话日志
type Store struct {
	dir string
	log logger.Logger

	mu      sync.Mutex
	session *lumberjack.Logger
}

// New 创建目录并返回存储
func New(opts Options) (*Store, error) {
	if opts.Logger == nil {
		opts.Logger = logger.NewNop()
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create body dir: %w", err)
	}
	return &Store{
		dir: opts.Dir,
		log: opts.Logger,
		session: &lumberjack.Logger{
			Filename:   filepath.Join(opts.Dir, SessionLogName),
			MaxSize:    opts.SessionMaxSizeMB,
			MaxBackups: opts.SessionMaxBackups,
		},
	}, nil
}

func (s *Store) Dir() string { return s.dir }

// RequestPath 请求体文件路径
func (s *Store) RequestPath(key string) string {
	return filepath.Join(s.dir, Prefix+"request_body_"+key+"_request_body.txt")
}

// ResponsePath 响应体文件路径
func (s *Store) ResponsePath(key string) string {
	return filepath.Join(s.dir, Prefix+"response_body_"+key+"_response_body.txt")
}

// SessionPath 会话日志路径
func (s *Store) SessionPath() string {
	return filepath.Join(s.dir, SessionLogName)
}

// SaveRequestBody 覆盖写入请求体
func (s *Store) SaveRequestBody(key string, data []byte) error {
	return writeFile(s.RequestPath(key), data)
}

// SaveResponseBody 覆盖写入响应体，图片以 base64 文本保存
func (s *Store) SaveResponseBody(key string, t model.ShortType, data []byte) error {
	if t == model.ShortImage {
		data = []byte(base64.StdEncoding.EncodeToString(data))
	}
	return writeFile(s.ResponsePath(key), data)
}

// RequestBody 读取原始请求体，文件不存在时返回空
func (s *Store) RequestBody(key string) ([]byte, error) {
	return readFile(s.RequestPath(key))
}

// ResponseBody 读取原始响应体，图片会解码 base64
func (s *Store) ResponseBody(key string, t model.ShortType) ([]byte, error) {
	data, err := readFile(s.ResponsePath(key))
	if err != nil || t != model.ShortImage || len(data) == 0 {
		return data, err
	}
	decoded, err := base64.StdEncoding.DecodeString(string(data))
	if err != nil {
		return nil, fmt.Errorf("decode image body: %w", err)
	}
	return decoded, nil
}

// RequestText 格式化后的请求体文本，读取失败时记录日志并返回空串
func (s *Store) RequestText(key, contentType string) string {
	data, err := s.RequestBody(key)
	if err != nil {
		s.log.Err(err, "读取请求体失败", "key", key)
		return ""
	}
	return Pretty(data, contentType)
}

// ResponseText 格式化后的响应体文本，图片返回 base64 文本
func (s *Store) ResponseText(key, contentType string) string {
	data, err := readFile(s.ResponsePath(key))
	if err != nil {
		s.log.Err(err, "读取响应体失败", "key", key)
		return ""
	}
	return Pretty(data, contentType)
}

// AppendSession 追加一段会话日志
func (s *Store) AppendSession(entry string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := io.WriteString(s.session, entry); err != nil {
		return fmt.Errorf("append session log: %w", err)
	}
	return nil
}

// Purge 删除保留前缀下的所有文件以及会话日志（含滚动备份）
func (s *Store) Purge() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	if err := s.session.Close(); err != nil {
		errs = append(errs, err)
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("list body dir: %w", err)
	}
	count := 0
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !(strings.HasPrefix(name, Prefix) || isSessionLog(name)) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		count++
	}
	s.log.Debug("清理持久化文件", "dir", s.dir, "count", count)
	return errors.Join(errs...)
}

// Close 关闭会话日志
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session.Close()
}

// isSessionLog 匹配 session.log 及 lumberjack 备份 session-<time>.log
func isSessionLog(name string) bool {
	base := strings.TrimSuffix(SessionLogName, ".log")
	return strings.HasPrefix(name, base) && strings.HasSuffix(name, ".log")
}

func writeFile(path string, data []byte) error {
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write body %s: %w", filepath.Base(path), err)
	}
	return nil
}

func readFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read body %s: %w", filepath.Base(path), err)
	}
	return data, nil
}
