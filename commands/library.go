package commands

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/maruel/natural"
	cli "github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"epr/state"
)

// Library prints the catalog: books by default, authors or tags on request.
// Everything is naturally sorted so "Book 2" comes before "Book 10".
func Library(ctx context.Context, cmd *cli.Command) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	env := state.EnvFromContext(ctx)
	log := env.Log.Named("library")
	client := newClient(env)

	if cmd.Bool("health") {
		if err := client.Health(ctx); err != nil {
			return fmt.Errorf("catalog is not healthy: %w", err)
		}
		fmt.Println("catalog is up")
		return nil
	}

	switch {
	case cmd.Bool("authors"):
		authors, err := client.ListAuthors(ctx)
		if err != nil {
			return err
		}
		names := make([]string, 0, len(authors))
		for _, a := range authors {
			names = append(names, a.Name)
		}
		sort.Sort(natural.StringSlice(names))
		for _, name := range names {
			fmt.Println(name)
		}
		log.Debug("Listed authors", zap.Int("count", len(names)))

	case cmd.Bool("tags"):
		tags, err := client.ListTags(ctx)
		if err != nil {
			return err
		}
		sort.Sort(natural.StringSlice(tags))
		for _, tag := range tags {
			fmt.Println(tag)
		}
		log.Debug("Listed tags", zap.Int("count", len(tags)))

	default:
		books, err := client.ListBooks(ctx)
		if err != nil {
			return err
		}
		sort.Slice(books, func(i, j int) bool {
			if books[i].Title != books[j].Title {
				return natural.Less(books[i].Title, books[j].Title)
			}
			return natural.Less(books[i].ID, books[j].ID)
		})

		w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTITLE\tAUTHOR\tTAGS")
		for _, b := range books {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", b.ID, b.Title, b.Author, strings.Join(b.Tags, ", "))
		}
		if err := w.Flush(); err != nil {
			return err
		}
		log.Debug("Listed books", zap.Int("count", len(books)))
	}
	return nil
}
