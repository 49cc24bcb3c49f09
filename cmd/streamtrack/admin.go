package main

import (
	"context"
	"strings"

	"github.com/urfave/cli/v3"
	"github.com/user/streamtrack/internal/model"
)

func adminCommand(r *Runner) *cli.Command {
	userArg := []cli.Argument{&cli.StringArg{Name: "id"}}
	return &cli.Command{
		Name:  "admin",
		Usage: "User management (admin role required)",
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			return ctx, r.requireAdmin()
		},
		Commands: []*cli.Command{
			{
				Name:   "users",
				Usage:  "List all users",
				Flags:  jsonFlags(),
				Action: r.AdminUsers,
			},
			{
				Name:      "show",
				Usage:     "Show one user",
				Arguments: userArg,
				Flags:     jsonFlags(),
				Action:    r.AdminShow,
			},
			{
				Name:      "deactivate",
				Usage:     "Deactivate a user account",
				Arguments: userArg,
				Flags:     []cli.Flag{yesFlag()},
				Action:    r.AdminDeactivate,
			},
			{
				Name:      "activate",
				Usage:     "Activate a user account",
				Arguments: userArg,
				Action:    r.AdminActivate,
			},
			{
				Name:      "promote",
				Usage:     "Grant the admin role",
				Arguments: userArg,
				Action:    r.AdminSetRole(model.RoleAdmin),
			},
			{
				Name:      "demote",
				Usage:     "Revoke the admin role",
				Arguments: userArg,
				Action:    r.AdminSetRole(model.RoleUser),
			},
			{
				Name:   "notes",
				Usage:  "List notes of all users",
				Flags:  jsonFlags(),
				Action: r.AdminNotes,
			},
			{
				Name:   "activity",
				Usage:  "List users who have written notes",
				Flags:  jsonFlags(),
				Action: r.AdminActivity,
			},
		},
	}
}

func (r *Runner) AdminUsers(ctx context.Context, cmd *cli.Command) error {
	users, err := r.backend.Users(ctx)
	if err != nil {
		return err
	}
	return r.render(cmd, users, func() error {
		for _, u := range users {
			status := "active"
			if !u.IsActive {
				status = "inactive"
			}
			r.writePlain("%s  %-20s %-30s %-12s %s\n", u.ID, u.Username, deref(u.Email), strings.Join(u.Roles, ","), status)
		}
		return r.writePlain("\n%d users\n", len(users))
	})
}

func (r *Runner) AdminShow(ctx context.Context, cmd *cli.Command) error {
	user, err := r.backend.User(ctx, cmd.StringArg("id"))
	if err != nil {
		return err
	}
	return r.render(cmd, user, func() error { return r.writeUser(user) })
}

func (r *Runner) AdminDeactivate(ctx context.Context, cmd *cli.Command) error {
	id := cmd.StringArg("id")
	ok, err := r.confirm(cmd, "Deactivate user "+id+"?")
	if err != nil || !ok {
		return err
	}
	msg, err := r.backend.DeactivateUser(ctx, id)
	if err != nil {
		return err
	}
	return r.writePlain("✓ %s\n", msg)
}

func (r *Runner) AdminActivate(ctx context.Context, cmd *cli.Command) error {
	msg, err := r.backend.ActivateUser(ctx, cmd.StringArg("id"))
	if err != nil {
		return err
	}
	return r.writePlain("✓ %s\n", msg)
}

// AdminSetRole promote/demote 共用
func (r *Runner) AdminSetRole(role string) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		msg, err := r.backend.SetRole(ctx, cmd.StringArg("id"), role)
		if err != nil {
			return err
		}
		return r.writePlain("✓ %s\n", msg)
	}
}

func (r *Runner) AdminNotes(ctx context.Context, cmd *cli.Command) error {
	notes, err := r.backend.AllNotes(ctx)
	if err != nil {
		return err
	}
	return r.render(cmd, notes, func() error {
		if len(notes) == 0 {
			return r.writePlain("No notes yet\n")
		}
		for _, n := range notes {
			r.writePlain("%s  %-36s %-5s %-8s %s\n", n.ID, n.UserID, n.MediaType, n.MovieID, truncate(n.Content, 40))
		}
		return nil
	})
}

func (r *Runner) AdminActivity(ctx context.Context, cmd *cli.Command) error {
	ids, err := r.backend.NotesActivity(ctx)
	if err != nil {
		return err
	}
	return r.render(cmd, ids, func() error {
		if len(ids) == 0 {
			return r.writePlain("No users have created notes yet.\n")
		}
		for _, id := range ids {
			r.writePlain("%s\n", id)
		}
		return nil
	})
}
