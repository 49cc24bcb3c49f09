package service

import (
	"context"
	"time"

	"github.com/user/streamtrack/internal/logging"
	"github.com/user/streamtrack/internal/metrics"
)

// AvatarReferences 提供仍被用户资料引用的头像地址
type AvatarReferences interface {
	AvatarURLs() ([]string, error)
}

// CleanupService 定时清理孤立头像
type CleanupService struct {
	users    AvatarReferences
	avatars  *AvatarService
	interval time.Duration
}

// NewCleanupService 创建清理服务
func NewCleanupService(users AvatarReferences, avatars *AvatarService, interval time.Duration) *CleanupService {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &CleanupService{users: users, avatars: avatars, interval: interval}
}

// Start 启动定时清理任务，ctx 结束后退出
func (s *CleanupService) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)

	go func() {
		defer ticker.Stop()
		// 启动时先运行一次
		s.RunOnce()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.RunOnce()
			}
		}
	}()
}

// RunOnce 执行一次清理
func (s *CleanupService) RunOnce() int {
	logging.Info().Msg("[CleanupService] 开始清理孤立头像...")

	urls, err := s.users.AvatarURLs()
	if err != nil {
		logging.Error().Err(err).Msg("[CleanupService] 读取头像引用失败")
		return 0
	}
	removed, err := s.avatars.RemoveOrphans(urls)
	if err != nil {
		logging.Error().Err(err).Msg("[CleanupService] 清理头像失败")
	}
	if removed > 0 {
		metrics.AvatarsCleaned.Add(float64(removed))
		logging.Info().Int("removed", removed).Msg("[CleanupService] 已清理孤立头像")
	}
	return removed
}
