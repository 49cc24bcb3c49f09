package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/urfave/cli/v3"
	"github.com/user/streamtrack/internal/client"
	"github.com/user/streamtrack/internal/model"
	"golang.org/x/sync/errgroup"
)

func searchCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "search",
		Usage: "Search movies and series",
		Arguments: []cli.Argument{
			&cli.StringArg{Name: "query"},
		},
		Flags:  jsonFlags(),
		Action: r.Search,
	}
}

func detailsCommand(r *Runner) *cli.Command {
	flags := append(jsonFlags(),
		&cli.StringFlag{
			Name:  "region",
			Usage: "Region for streaming availability",
		},
		&cli.BoolFlag{
			Name:  "reviews",
			Usage: "Include reviews",
		},
	)
	return &cli.Command{
		Name:  "details",
		Usage: "Show a movie or series with cast, availability and your notes",
		Arguments: []cli.Argument{
			&cli.StringArg{Name: "type"},
			&cli.StringArg{Name: "id"},
		},
		Flags:  flags,
		Action: r.Details,
	}
}

func discoverCommand(r *Runner) *cli.Command {
	flags := append(jsonFlags(),
		&cli.StringFlag{
			Name:  "type",
			Usage: "movie or tv",
			Value: model.MediaTypeMovie,
		},
		&cli.StringSliceFlag{
			Name:    "genre",
			Aliases: []string{"g"},
			Usage:   "Genre id, repeatable",
		},
		&cli.StringSliceFlag{
			Name:    "provider",
			Aliases: []string{"p"},
			Usage:   "Streaming provider id, repeatable",
		},
		&cli.StringFlag{
			Name:  "region",
			Usage: "Watch region",
		},
		&cli.IntFlag{
			Name:  "page",
			Usage: "Result page",
			Value: 1,
		},
		&cli.BoolFlag{
			Name:  "list-genres",
			Usage: "List genres for the type instead of discovering",
		},
		&cli.BoolFlag{
			Name:  "list-providers",
			Usage: "List providers for the type instead of discovering",
		},
	)
	return &cli.Command{
		Name:   "discover",
		Usage:  "Browse titles by genre and streaming platform",
		Flags:  flags,
		Action: r.Discover,
	}
}

func (r *Runner) region(cmd *cli.Command) string {
	if v := cmd.String("region"); v != "" {
		return v
	}
	return r.config.Catalog.Region
}

// parseIDs 支持重复参数和逗号分隔
func parseIDs(values []string) ([]int, error) {
	ids := []int{}
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			id, err := strconv.Atoi(part)
			if err != nil {
				return nil, fmt.Errorf("%w: invalid id %q", client.ErrValidation, part)
			}
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func mediaArgs(cmd *cli.Command) (string, int, error) {
	mediaType := cmd.StringArg("type")
	id, err := strconv.Atoi(cmd.StringArg("id"))
	if err != nil {
		return "", 0, fmt.Errorf("%w: usage: details <movie|tv> <id>", client.ErrValidation)
	}
	return mediaType, id, nil
}

func (r *Runner) writeItems(items []model.MediaItem) {
	for _, item := range items {
		mediaType := item.MediaType
		if mediaType == "" {
			mediaType = "-"
		}
		title := item.DisplayTitle()
		if year := item.Year(); year != "" {
			title = fmt.Sprintf("%s (%s)", title, year)
		}
		r.writePlain("%-8d %-6s %-50s ★ %.1f\n", item.ID, mediaType, title, item.VoteAverage)
	}
}

func (r *Runner) Search(ctx context.Context, cmd *cli.Command) error {
	res, err := r.catalog.Search(ctx, cmd.StringArg("query"))
	if err != nil {
		return err
	}
	return r.render(cmd, res, func() error {
		if len(res.Results) == 0 {
			return r.writePlain("No results\n")
		}
		r.writeItems(res.Results)
		return r.writePlain("\n%d results\n", res.TotalResults)
	})
}

// mediaView details 命令的汇总输出
type mediaView struct {
	Details     *model.MediaDetails    `json:"details"`
	Credits     *model.Credits         `json:"credits,omitempty"`
	Providers   *model.RegionProviders `json:"watch_providers,omitempty"`
	ExternalIDs *model.ExternalIDs     `json:"external_ids,omitempty"`
	Reviews     *model.ReviewList      `json:"reviews,omitempty"`
	Notes       []model.Note           `json:"notes,omitempty"`
	InWatchlist *bool                  `json:"in_watchlist,omitempty"`
}

func (r *Runner) Details(ctx context.Context, cmd *cli.Command) error {
	mediaType, id, err := mediaArgs(cmd)
	if err != nil {
		return err
	}
	details, err := r.catalog.Details(ctx, mediaType, id)
	if err != nil {
		return err
	}

	view := mediaView{Details: details}
	mediaID := strconv.Itoa(id)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		view.Credits, err = r.catalog.Credits(gctx, mediaType, id)
		return err
	})
	g.Go(func() (err error) {
		view.Providers, err = r.catalog.WatchProviders(gctx, mediaType, id, r.region(cmd))
		return err
	})
	g.Go(func() (err error) {
		view.ExternalIDs, err = r.catalog.ExternalIDs(gctx, mediaType, id)
		return err
	})
	if cmd.Bool("reviews") {
		g.Go(func() (err error) {
			view.Reviews, err = r.catalog.Reviews(gctx, mediaType, id, "")
			return err
		})
	}
	if r.session.Authenticated() {
		g.Go(func() (err error) {
			view.Notes, err = r.backend.MediaNotes(gctx, mediaID)
			return err
		})
		g.Go(func() error {
			saved, err := r.backend.InWatchlist(gctx, mediaID)
			view.InWatchlist = &saved
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	return r.render(cmd, view, func() error {
		return r.writeDetails(mediaType, view)
	})
}

func (r *Runner) writeDetails(mediaType string, v mediaView) error {
	d := v.Details
	title := d.DisplayTitle()
	year := d.ReleaseDate
	if year == "" {
		year = d.FirstAirDate
	}
	if len(year) >= 4 {
		title = fmt.Sprintf("%s (%s)", title, year[:4])
	}
	r.writePlainHeader(title)
	if d.Tagline != "" {
		r.writePlain("%s\n\n", d.Tagline)
	}

	genres := make([]string, len(d.Genres))
	for i, g := range d.Genres {
		genres[i] = g.Name
	}
	r.writePlain("Type:     %s\n", mediaType)
	r.writePlain("Rating:   ★ %.1f\n", d.VoteAverage)
	if len(genres) > 0 {
		r.writePlain("Genres:   %s\n", strings.Join(genres, ", "))
	}
	if d.Runtime > 0 {
		r.writePlain("Runtime:  %d min\n", d.Runtime)
	}
	if d.NumberOfSeasons > 0 {
		r.writePlain("Seasons:  %d (%d episodes)\n", d.NumberOfSeasons, d.NumberOfEpisodes)
	}
	if v.ExternalIDs != nil && v.ExternalIDs.IMDbID != "" {
		r.writePlain("IMDb:     https://www.imdb.com/title/%s\n", v.ExternalIDs.IMDbID)
	}
	if v.InWatchlist != nil && *v.InWatchlist {
		r.writePlain("          ✓ on your watchlist\n")
	}
	if d.Overview != "" {
		r.writePlain("\n%s\n", d.Overview)
	}

	if v.Providers != nil && len(v.Providers.Flatrate) > 0 {
		names := make([]string, len(v.Providers.Flatrate))
		for i, p := range v.Providers.Flatrate {
			names[i] = p.ProviderName
		}
		r.writePlain("\nStreaming: %s\n", strings.Join(names, ", "))
	}

	if v.Credits != nil && len(v.Credits.Cast) > 0 {
		r.writePlain("\nCast:\n")
		for _, c := range v.Credits.Cast[:min(5, len(v.Credits.Cast))] {
			r.writePlain("  %s as %s\n", c.Name, c.Character)
		}
	}

	if v.Reviews != nil && len(v.Reviews.Results) > 0 {
		r.writePlain("\nReviews:\n")
		for _, rv := range v.Reviews.Results {
			r.writePlain("  %s: %s\n", rv.Author, truncate(rv.Content, 200))
		}
	}

	if len(v.Notes) > 0 {
		r.writePlain("\nYour notes:\n")
		for _, n := range v.Notes {
			r.writePlain("  [%s] %s\n", n.ID, n.Content)
		}
	}
	return nil
}

func truncate(s string, n int) string {
	runes := []rune(strings.Join(strings.Fields(s), " "))
	if len(runes) <= n {
		return string(runes)
	}
	return string(runes[:n]) + "…"
}

func (r *Runner) Discover(ctx context.Context, cmd *cli.Command) error {
	mediaType := cmd.String("type")

	if cmd.Bool("list-genres") {
		genres, err := r.catalog.Genres(ctx, mediaType)
		if err != nil {
			return err
		}
		return r.render(cmd, genres, func() error {
			for _, g := range genres.Genres {
				r.writePlain("%-6d %s\n", g.ID, g.Name)
			}
			return nil
		})
	}

	if cmd.Bool("list-providers") {
		providers, err := r.catalog.Providers(ctx, mediaType, r.region(cmd))
		if err != nil {
			return err
		}
		return r.render(cmd, providers, func() error {
			for _, p := range providers.Results {
				r.writePlain("%-6d %s\n", p.ProviderID, p.ProviderName)
			}
			return nil
		})
	}

	genres, err := parseIDs(cmd.StringSlice("genre"))
	if err != nil {
		return err
	}
	providers, err := parseIDs(cmd.StringSlice("provider"))
	if err != nil {
		return err
	}
	res, err := r.catalog.Discover(ctx, mediaType, client.DiscoverParams{
		GenreIDs:    genres,
		ProviderIDs: providers,
		Region:      r.region(cmd),
		Page:        cmd.Int("page"),
	})
	if err != nil {
		return err
	}
	return r.render(cmd, res, func() error {
		if len(res.Results) == 0 {
			return r.writePlain("Nothing matches these filters\n")
		}
		r.writeItems(res.Results)
		return r.writePlain("\npage %d/%d\n", res.Page, res.TotalPages)
	})
}
