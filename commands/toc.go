package commands

import (
	"context"
	"errors"
	"fmt"
	"os"

	cli "github.com/urfave/cli/v3"

	"epr/state"
)

// TOC prints the navigation tree of a book.
func TOC(ctx context.Context, cmd *cli.Command) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	env := state.EnvFromContext(ctx)

	ref := cmd.Args().Get(0)
	if ref == "" {
		return errors.New("no book reference has been specified")
	}

	book, _, err := openForInspection(ctx, env, ref)
	if err != nil {
		return err
	}
	defer book.Close()

	fmt.Fprint(os.Stdout, book.DumpTOC())
	return nil
}
