package service

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/spf13/afero"
)

const (
	// AvatarURLPrefix 头像对外地址前缀
	AvatarURLPrefix = "/static/avatars/"
	avatarDir       = "avatars"
	// orphanGrace 新上传但尚未写入资料的文件不清理
	orphanGrace = time.Hour
)

var (
	ErrNotImage      = errors.New("File must be an image")
	ErrAvatarTooBig  = errors.New("File size must be less than 5MB")
	ErrAvatarMissing = errors.New("avatar file not found")
)

// avatarTypes 允许的头像格式，不含 svg
var avatarTypes = []string{"image/jpeg", "image/png", "image/gif", "image/webp", "image/bmp"}

// AvatarService 头像存储，fs 以静态目录为根
type AvatarService struct {
	fs       afero.Fs
	maxBytes int64
	now      func() time.Time
}

// NewAvatarService 创建头像存储
func NewAvatarService(fs afero.Fs, maxBytes int64) *AvatarService {
	if maxBytes <= 0 {
		maxBytes = 5 << 20
	}
	return &AvatarService{fs: fs, maxBytes: maxBytes, now: time.Now}
}

// Save 校验并保存头像，后缀取自嗅探出的类型，返回 /static/avatars/<uuid>.<ext>
func (s *AvatarService) Save(r io.Reader) (string, error) {
	data, err := io.ReadAll(io.LimitReader(r, s.maxBytes+1))
	if err != nil {
		return "", fmt.Errorf("读取上传文件失败: %w", err)
	}
	if int64(len(data)) > s.maxBytes {
		return "", ErrAvatarTooBig
	}
	mtype := mimetype.Detect(data)
	if !mimetype.EqualsAny(mtype.String(), avatarTypes...) {
		return "", ErrNotImage
	}

	if err := s.fs.MkdirAll(avatarDir, 0o755); err != nil {
		return "", err
	}
	name := uuid.NewString() + mtype.Extension()
	if err := afero.WriteFile(s.fs, path.Join(avatarDir, name), data, 0o644); err != nil {
		return "", fmt.Errorf("保存头像失败: %w", err)
	}
	return AvatarURLPrefix + name, nil
}

// Remove 按对外地址删除头像
func (s *AvatarService) Remove(url string) error {
	name, ok := strings.CutPrefix(url, AvatarURLPrefix)
	if !ok || name == "" || strings.Contains(name, "/") {
		return ErrAvatarMissing
	}
	if err := s.fs.Remove(path.Join(avatarDir, name)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrAvatarMissing
		}
		return err
	}
	return nil
}

// RemoveOrphans 删除未被任何用户引用的头像，返回删除数量
func (s *AvatarService) RemoveOrphans(referenced []string) (int, error) {
	keep := make(map[string]struct{}, len(referenced))
	for _, u := range referenced {
		if name, ok := strings.CutPrefix(u, AvatarURLPrefix); ok {
			keep[name] = struct{}{}
		}
	}

	entries, err := afero.ReadDir(s.fs, avatarDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}

	removed := 0
	cutoff := s.now().Add(-orphanGrace)
	for _, e := range entries {
		if e.IsDir() || e.ModTime().After(cutoff) {
			continue
		}
		if _, ok := keep[e.Name()]; ok {
			continue
		}
		if err := s.fs.Remove(path.Join(avatarDir, e.Name())); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}
