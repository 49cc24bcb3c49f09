package main

import (
	"context"
	"net/http"

	"github.com/urfave/cli/v3"
	"github.com/user/streamtrack/internal/client"
	"github.com/user/streamtrack/internal/model"
)

func watchlistCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "watchlist",
		Aliases: []string{"wl"},
		Usage:   "Titles you want to watch",
		Commands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "Show your watchlist",
				Flags:  jsonFlags(),
				Action: r.WatchlistList,
			},
			{
				Name:  "add",
				Usage: "Add a title to the watchlist",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "media-id"},
					&cli.StringArg{Name: "title"},
				},
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "type",
						Usage: "movie or tv",
						Value: model.MediaTypeMovie,
					},
				},
				Action: r.WatchlistAdd,
			},
			{
				Name:  "rm",
				Usage: "Remove a title from the watchlist",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "media-id"},
				},
				Flags:  []cli.Flag{yesFlag()},
				Action: r.WatchlistRemove,
			},
			{
				Name:  "check",
				Usage: "Check whether a title is on the watchlist",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "media-id"},
				},
				Action: r.WatchlistCheck,
			},
		},
	}
}

func (r *Runner) WatchlistList(ctx context.Context, cmd *cli.Command) error {
	items, err := r.backend.Watchlist(ctx)
	if err != nil {
		return err
	}
	return r.render(cmd, items, func() error {
		if len(items) == 0 {
			return r.writePlain("Your watchlist is empty\n")
		}
		for _, item := range items {
			r.writePlain("%-8s %-5s %-50s %s\n", item.MovieID, item.MediaType, item.Title, item.AddedAt.Local().Format("2006-01-02"))
		}
		return nil
	})
}

func (r *Runner) WatchlistAdd(ctx context.Context, cmd *cli.Command) error {
	item, err := r.backend.AddToWatchlist(ctx, model.WatchlistItemCreate{
		MovieID:   cmd.StringArg("media-id"),
		Title:     cmd.StringArg("title"),
		MediaType: cmd.String("type"),
	})
	if client.IsStatus(err, http.StatusConflict) {
		return r.writePlain("Already on your watchlist\n")
	}
	if err != nil {
		return err
	}
	return r.writePlain("✓ %s added to your watchlist\n", item.Title)
}

func (r *Runner) WatchlistRemove(ctx context.Context, cmd *cli.Command) error {
	id := cmd.StringArg("media-id")
	ok, err := r.confirm(cmd, "Remove "+id+" from your watchlist?")
	if err != nil || !ok {
		return err
	}
	if err := r.backend.RemoveFromWatchlist(ctx, id); err != nil {
		return err
	}
	return r.writePlain("✓ Removed from your watchlist\n")
}

func (r *Runner) WatchlistCheck(ctx context.Context, cmd *cli.Command) error {
	saved, err := r.backend.InWatchlist(ctx, cmd.StringArg("media-id"))
	if err != nil {
		return err
	}
	return r.writePlain("%t\n", saved)
}
