package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v3"
	"github.com/user/streamtrack/internal/client"
	"github.com/user/streamtrack/internal/model"
)

func profileCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "profile",
		Usage: "View and edit your profile",
		Commands: []*cli.Command{
			{
				Name:   "show",
				Usage:  "Show your profile",
				Flags:  jsonFlags(),
				Action: r.ProfileShow,
			},
			{
				Name:  "update",
				Usage: "Change email or name",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "email", Usage: "New email address"},
					&cli.StringFlag{Name: "first-name", Usage: "New first name"},
					&cli.StringFlag{Name: "last-name", Usage: "New last name"},
				},
				Action: r.ProfileUpdate,
			},
			{
				Name:  "avatar",
				Usage: "Upload a new avatar image",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "path"},
				},
				Action: r.ProfileAvatar,
			},
			{
				Name:   "status",
				Usage:  "Check whether your account is active",
				Action: r.ProfileStatus,
			},
		},
	}
}

func (r *Runner) writeUser(u *model.User) error {
	name := strings.TrimSpace(deref(u.FirstName) + " " + deref(u.LastName))
	display := name
	if display == "" {
		display = u.Username
	}
	r.writePlainHeader(fmt.Sprintf("[%s] %s", client.AvatarInitial(display), display))
	r.writePlain("ID:       %s\n", u.ID)
	r.writePlain("Username: %s\n", u.Username)
	if email := deref(u.Email); email != "" {
		r.writePlain("Email:    %s\n", email)
	}
	r.writePlain("Roles:    %s\n", strings.Join(u.Roles, ", "))
	status := "active"
	if !u.IsActive {
		status = "deactivated"
	}
	r.writePlain("Status:   %s\n", status)
	if avatar := client.FullAvatarURL(r.config.API.URL, deref(u.AvatarURL)); avatar != "" {
		r.writePlain("Avatar:   %s\n", avatar)
	}
	return r.writePlain("Joined:   %s\n", u.CreatedAt.Local().Format("2006-01-02"))
}

func (r *Runner) ProfileShow(ctx context.Context, cmd *cli.Command) error {
	user, err := r.backend.Profile(ctx)
	if err != nil {
		return err
	}
	return r.render(cmd, user, func() error { return r.writeUser(user) })
}

func (r *Runner) ProfileUpdate(ctx context.Context, cmd *cli.Command) error {
	var in model.UserUpdate
	for name, dst := range map[string]**string{
		"email":      &in.Email,
		"first-name": &in.FirstName,
		"last-name":  &in.LastName,
	} {
		if cmd.IsSet(name) {
			v := strings.TrimSpace(cmd.String(name))
			*dst = &v
		}
	}
	user, err := r.backend.UpdateProfile(ctx, in)
	if err != nil {
		return err
	}
	r.writePlain("✓ Profile updated\n")
	return r.writeUser(user)
}

func (r *Runner) ProfileAvatar(ctx context.Context, cmd *cli.Command) error {
	path := cmd.StringArg("path")
	if path == "" {
		return fmt.Errorf("%w: usage: profile avatar <path>", client.ErrValidation)
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open avatar: %w", err)
	}
	defer f.Close()

	out, err := r.backend.UploadAvatar(ctx, filepath.Base(path), f)
	if err != nil {
		return err
	}
	return r.writePlain("✓ %s\n%s\n", out.Message, client.FullAvatarURL(r.config.API.URL, out.AvatarURL))
}

func (r *Runner) ProfileStatus(ctx context.Context, cmd *cli.Command) error {
	active, err := r.backend.CheckUserActive(ctx)
	if err != nil {
		return err
	}
	if !active {
		return errAccountDeactivated
	}
	return r.writePlain("✓ Account is active\n")
}
