package commands

import (
	"context"
	"errors"
	"fmt"
	"os"

	cli "github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"epr/cache"
	"epr/epub"
	"epr/reader"
	"epr/state"
)

// Position reads or writes the saved reading position of a book. Without
// --set it prints the backend record and the local cached copy, with --set it
// stores the given location on the backend and in the cache.
func Position(ctx context.Context, cmd *cli.Command) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	env := state.EnvFromContext(ctx)
	log := env.Log.Named("position")

	ref := cmd.Args().Get(0)
	if ref == "" {
		return errors.New("no book reference has been specified")
	}
	bookID, err := reader.ResolveBookID(ref)
	if err != nil {
		return err
	}

	client := newClient(env)
	id := identity(env.Cfg)

	store, err := cache.OpenPositions(env.Cfg.Reader.Sync.CachePath, env.Log)
	if err != nil {
		log.Warn("Position cache unavailable", zap.Error(err))
		store = nil
	}
	defer store.Close()

	if loc := cmd.String("set"); loc != "" {
		if !epub.IsValidLocation(loc) {
			return fmt.Errorf("%q is not a usable location", loc)
		}
		if err := client.PutPosition(ctx, bookID, loc, id); err != nil {
			log.Debug("Position update failed, retrying as create", zap.Error(err))
			if err := client.PostPosition(ctx, bookID, loc, id); err != nil {
				return fmt.Errorf("unable to save position for book %q: %w", bookID, err)
			}
		}
		if err := store.Save(bookID, loc, id); err != nil {
			log.Warn("Unable to cache position", zap.Error(err))
		}
		log.Info("Position saved", zap.String("book", bookID), zap.String("location", loc))
		return nil
	}

	pos, err := client.GetPosition(ctx, bookID, id)
	if err != nil {
		log.Warn("Unable to query backend position", zap.Error(err))
	}
	if pos != nil {
		fmt.Fprintf(os.Stdout, "book:     %s\n", bookID)
		fmt.Fprintf(os.Stdout, "location: %s\n", pos.CFI)
		if pos.PosFrac > 0 {
			fmt.Fprintf(os.Stdout, "progress: %.1f%%\n", pos.PosFrac*100)
		}
		if pos.Device != "" {
			fmt.Fprintf(os.Stdout, "device:   %s\n", pos.Device)
		}
	} else {
		fmt.Fprintf(os.Stdout, "book:     %s\nlocation: none\n", bookID)
	}
	if cached, err := store.Load(bookID, id); err == nil && cached != "" {
		fmt.Fprintf(os.Stdout, "cached:   %s\n", cached)
	}
	return nil
}
