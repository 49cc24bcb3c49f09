package main

import (
	"context"
	"strings"

	"github.com/urfave/cli/v3"
	"github.com/user/streamtrack/internal/model"
)

func notesCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "notes",
		Usage: "Personal notes about movies and series",
		Commands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List your notes",
				Flags:  jsonFlags(),
				Action: r.NotesList,
			},
			{
				Name:  "show",
				Usage: "Show a single note",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "id"},
				},
				Flags:  jsonFlags(),
				Action: r.NotesShow,
			},
			{
				Name:  "add",
				Usage: "Write a note for a movie or series",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "media-id"},
					&cli.StringArg{Name: "content"},
				},
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "type",
						Usage: "movie or tv",
						Value: model.MediaTypeMovie,
					},
				},
				Action: r.NotesAdd,
			},
			{
				Name:  "edit",
				Usage: "Replace the content of a note",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "id"},
					&cli.StringArg{Name: "content"},
				},
				Action: r.NotesEdit,
			},
			{
				Name:  "rm",
				Usage: "Delete a note",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "id"},
				},
				Flags:  []cli.Flag{yesFlag()},
				Action: r.NotesRemove,
			},
			{
				Name:  "media",
				Usage: "List your notes for one movie or series",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "media-id"},
				},
				Flags:  jsonFlags(),
				Action: r.NotesForMedia,
			},
		},
	}
}

func (r *Runner) writeNotes(notes []model.Note) error {
	if len(notes) == 0 {
		return r.writePlain("No notes yet\n")
	}
	for _, n := range notes {
		r.writePlain("%s  %-5s %-8s %s  %s\n",
			n.ID, n.MediaType, n.MovieID, n.UpdatedAt.Local().Format("2006-01-02"), truncate(n.Content, 60))
	}
	return nil
}

func (r *Runner) NotesList(ctx context.Context, cmd *cli.Command) error {
	notes, err := r.backend.ListNotes(ctx)
	if err != nil {
		return err
	}
	return r.render(cmd, notes, func() error { return r.writeNotes(notes) })
}

func (r *Runner) NotesShow(ctx context.Context, cmd *cli.Command) error {
	note, err := r.backend.GetNote(ctx, cmd.StringArg("id"))
	if err != nil {
		return err
	}
	return r.render(cmd, note, func() error {
		r.writePlain("%s %s · %s\n\n", note.MediaType, note.MovieID, note.UpdatedAt.Local().Format("2006-01-02 15:04"))
		return r.writePlain("%s\n", note.Content)
	})
}

func (r *Runner) NotesAdd(ctx context.Context, cmd *cli.Command) error {
	note, err := r.backend.CreateNote(ctx, model.NoteCreate{
		MovieID:   cmd.StringArg("media-id"),
		MediaType: cmd.String("type"),
		Content:   strings.TrimSpace(cmd.StringArg("content")),
	})
	if err != nil {
		return err
	}
	return r.writePlain("✓ Note %s saved\n", note.ID)
}

func (r *Runner) NotesEdit(ctx context.Context, cmd *cli.Command) error {
	note, err := r.backend.UpdateNote(ctx, cmd.StringArg("id"), cmd.StringArg("content"))
	if err != nil {
		return err
	}
	return r.writePlain("✓ Note %s updated\n", note.ID)
}

func (r *Runner) NotesRemove(ctx context.Context, cmd *cli.Command) error {
	id := cmd.StringArg("id")
	ok, err := r.confirm(cmd, "Delete note "+id+"?")
	if err != nil || !ok {
		return err
	}
	if err := r.backend.DeleteNote(ctx, id); err != nil {
		return err
	}
	return r.writePlain("✓ Note deleted\n")
}

func (r *Runner) NotesForMedia(ctx context.Context, cmd *cli.Command) error {
	notes, err := r.backend.MediaNotes(ctx, cmd.StringArg("media-id"))
	if err != nil {
		return err
	}
	return r.render(cmd, notes, func() error { return r.writeNotes(notes) })
}
