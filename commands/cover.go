package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	sprig "github.com/go-task/slim-sprig/v3"
	"github.com/gosimple/slug"
	cli "github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"epr/config"
	"epr/epub"
	"epr/reader"
	"epr/state"
	"epr/utils/images"
)

// defaultCoverName is used when configuration does not set a naming
// template. Fields come from coverNameContext.
const defaultCoverName = `{{ .ID }}-{{ .Title | slugify }}.jpg`

type coverNameContext struct {
	ID     string
	Title  string
	Author string
}

// Cover extracts the cover image of a book, resizes it per configuration and
// writes it out as JPEG.
func Cover(ctx context.Context, cmd *cli.Command) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	env := state.EnvFromContext(ctx)
	log := env.Log.Named("cover")

	ref := cmd.Args().Get(0)
	if ref == "" {
		return errors.New("no book reference has been specified")
	}
	dst := cmd.Args().Get(1)
	if dst == "" {
		var err error
		if dst, err = os.Getwd(); err != nil {
			return fmt.Errorf("unable to get working directory: %w", err)
		}
	}

	book, bookID, err := openForInspection(ctx, env, ref)
	if err != nil {
		return err
	}
	defer book.Close()

	data, mediaType, ok := book.Cover()
	if !ok {
		return fmt.Errorf("book %q declares no cover image", ref)
	}

	img, err := images.DecodeCover(data, mediaType)
	if err != nil {
		return err
	}
	cfg := env.Cfg.Reader.Cover
	img = images.MakeThumbnail(img, cfg.Resize, cfg.Width, cfg.Height)
	out, err := images.EncodeCover(img)
	if err != nil {
		return fmt.Errorf("unable to encode cover: %w", err)
	}

	name, err := coverFileName(cfg.NamingTemplate, coverNameContext{
		ID:     bookID,
		Title:  book.Meta.Title,
		Author: strings.Join(book.Meta.Creators, ", "),
	})
	if err != nil {
		return err
	}
	path := filepath.Join(dst, name)
	if err := os.WriteFile(path, out, 0644); err != nil {
		return fmt.Errorf("unable to write cover to %q: %w", path, err)
	}
	log.Info("Cover written",
		zap.String("book", ref),
		zap.String("file", path),
		zap.Int("bytes", len(out)))
	return nil
}

// openForInspection opens a book without a render session: local files
// directly, catalog references through the loader chain.
func openForInspection(ctx context.Context, env *state.LocalEnv, ref string) (*epub.Book, string, error) {
	if fi, err := os.Stat(ref); err == nil && !fi.IsDir() {
		book, err := epub.OpenFile(ref, epub.WithLogger(env.Log), epub.WithFilenameEncoding(env.CodePage))
		if err != nil {
			return nil, "", err
		}
		id := strings.TrimSuffix(filepath.Base(ref), filepath.Ext(ref))
		return book, id, nil
	}

	bookID, err := reader.ResolveBookID(ref)
	if err != nil {
		return nil, "", err
	}
	data, err := newClient(env).FetchArchive(ctx, bookID)
	if err != nil {
		return nil, "", err
	}
	book, err := epub.OpenBytes(data, epub.WithLogger(env.Log))
	if err != nil {
		return nil, "", err
	}
	return book, bookID, nil
}

// coverFileName renders the naming template. Sprig functions plus "slugify"
// are available, the result is flattened to a safe file name.
func coverFileName(tmpl string, nctx coverNameContext) (string, error) {
	if tmpl == "" {
		tmpl = defaultCoverName
	}
	funcs := sprig.TxtFuncMap()
	funcs["slugify"] = slug.Make

	t, err := template.New("cover").Funcs(funcs).Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("bad cover naming template: %w", err)
	}
	var sb strings.Builder
	if err := t.Execute(&sb, nctx); err != nil {
		return "", fmt.Errorf("unable to render cover name: %w", err)
	}
	name := strings.TrimSpace(sb.String())
	if name == "" {
		return "", fmt.Errorf("cover naming template produced empty name")
	}
	name = config.CleanFileName(name)
	if filepath.Ext(name) == "" {
		name += ".jpg"
	}
	return name, nil
}
