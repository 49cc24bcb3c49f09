package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/urfave/cli/v3"
	"github.com/user/streamtrack/internal/client"
	"github.com/user/streamtrack/internal/model"
)

var errAccountDeactivated = errors.New("your account has been deactivated, contact an administrator")

func authCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "Log in, log out and manage the account",
		Commands: []*cli.Command{
			{
				Name:  "login",
				Usage: "Log in with username and password or through the browser",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "browser",
						Usage: "Log in through the identity provider page",
					},
					&cli.StringFlag{
						Name:    "username",
						Aliases: []string{"u"},
						Usage:   "Username",
					},
					&cli.StringFlag{
						Name:    "password",
						Aliases: []string{"p"},
						Usage:   "Password (prompted when omitted)",
					},
				},
				Action: r.AuthLogin,
			},
			{
				Name:   "logout",
				Usage:  "End the session",
				Action: r.AuthLogout,
			},
			{
				Name:   "whoami",
				Usage:  "Show the logged in user",
				Flags:  jsonFlags(),
				Action: r.AuthWhoami,
			},
			{
				Name:  "register",
				Usage: "Create a new account",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "username", Aliases: []string{"u"}, Usage: "Username (3-50 characters)", Required: true},
					&cli.StringFlag{Name: "email", Aliases: []string{"e"}, Usage: "Email address", Required: true},
					&cli.StringFlag{Name: "password", Aliases: []string{"p"}, Usage: "Password (at least 6 characters)"},
					&cli.StringFlag{Name: "first-name", Usage: "First name"},
					&cli.StringFlag{Name: "last-name", Usage: "Last name"},
				},
				Action: r.AuthRegister,
			},
		},
	}
}

func (r *Runner) promptPassword(cmd *cli.Command) (string, error) {
	if p := cmd.String("password"); p != "" {
		return p, nil
	}
	if err := r.writePlain("Password: "); err != nil {
		return "", err
	}
	return r.readLine()
}

// AuthLogin 登录后检查账号是否被停用
func (r *Runner) AuthLogin(ctx context.Context, cmd *cli.Command) error {
	if cmd.Bool("browser") {
		r.writePlain("Opening the login page in your browser...\n")
		if err := r.session.LoginBrowser(ctx, r.openBrowser); err != nil {
			return fmt.Errorf("login failed: %w", err)
		}
	} else {
		username := strings.TrimSpace(cmd.String("username"))
		if username == "" {
			return fmt.Errorf("%w: --username is required (or use --browser)", client.ErrValidation)
		}
		password, err := r.promptPassword(cmd)
		if err != nil {
			return err
		}
		if err := r.session.LoginPassword(ctx, username, password); err != nil {
			return fmt.Errorf("login failed: %w", err)
		}
	}

	active, err := r.backend.CheckUserActive(ctx)
	if err != nil {
		r.logger.Warn("could not verify account status", "err", err)
	}
	if !active {
		if err := r.session.Logout(ctx); err != nil {
			r.logger.Warn("logout failed", "err", err)
		}
		return errAccountDeactivated
	}

	claims, _ := r.session.Claims()
	return r.writePlain("✓ Logged in as %s\n", claims.Username)
}

func (r *Runner) AuthLogout(ctx context.Context, cmd *cli.Command) error {
	if !r.session.Authenticated() {
		return r.writePlain("Not logged in\n")
	}
	if err := r.session.Logout(ctx); err != nil {
		r.logger.Warn("identity provider logout failed, local session cleared", "err", err)
	}
	return r.writePlain("✓ Logged out\n")
}

func (r *Runner) AuthWhoami(ctx context.Context, cmd *cli.Command) error {
	claims, ok := r.session.Claims()
	if !ok {
		return client.ErrNotAuthenticated
	}
	return r.render(cmd, claims, func() error {
		r.writePlain("Username: %s\n", claims.Username)
		if claims.Name != "" {
			r.writePlain("Name:     %s\n", claims.Name)
		}
		if claims.Email != "" {
			r.writePlain("Email:    %s\n", claims.Email)
		}
		r.writePlain("Roles:    %s\n", strings.Join(claims.Roles, ", "))
		return r.writePlain("Expires:  %s\n", claims.ExpiresAt.Local().Format("2006-01-02 15:04"))
	})
}

func (r *Runner) AuthRegister(ctx context.Context, cmd *cli.Command) error {
	password, err := r.promptPassword(cmd)
	if err != nil {
		return err
	}
	in := model.UserCreate{
		Username: strings.TrimSpace(cmd.String("username")),
		Email:    strings.TrimSpace(cmd.String("email")),
		Password: password,
	}
	if v := cmd.String("first-name"); v != "" {
		in.FirstName = &v
	}
	if v := cmd.String("last-name"); v != "" {
		in.LastName = &v
	}

	user, err := r.backend.Register(ctx, in)
	if err != nil {
		return err
	}
	return r.writePlain("✓ Account %s created, you can now log in\n", user.Username)
}
