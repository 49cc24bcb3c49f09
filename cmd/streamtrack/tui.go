package main

import (
	"context"
	"fmt"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/urfave/cli/v3"
	"github.com/user/streamtrack/internal/config"
	"github.com/user/streamtrack/internal/discovery"
	"github.com/user/streamtrack/internal/ui"
)

func tuiCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "swipe",
		Aliases: []string{"tui"},
		Usage:   "Pick platforms and genres, then swipe through suggestions",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "region",
				Usage: "Watch region",
			},
		},
		Action: r.TUI,
	}
}

// TUI 启动推荐向导，日志写入文件以免破坏界面
func (r *Runner) TUI(ctx context.Context, cmd *cli.Command) error {
	dir, err := config.ClientDir()
	if err != nil {
		return err
	}
	fileLogger, err := newFileLogger(filepath.Join(dir, "tui.log"))
	if err != nil {
		return fmt.Errorf("failed to create file logger: %w", err)
	}
	r.logger = fileLogger

	username := ""
	if claims, ok := r.session.Claims(); ok {
		username = claims.Username
	}
	flow := discovery.New(r.catalog, r.backend, r.session, r.region(cmd))
	model := ui.NewModel(ctx, flow, username)

	if _, err := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx)).Run(); err != nil {
		return fmt.Errorf("error running TUI: %w", err)
	}
	return nil
}
