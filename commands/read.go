package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	cli "github.com/urfave/cli/v3"
	"go.uber.org/zap"
	"golang.org/x/term"
	"golang.org/x/text/encoding/ianaindex"

	"epr/cache"
	"epr/common"
	"epr/reader"
	"epr/state"
)

// Read opens a reading session for a book reference and drives it from the
// keyboard until the user quits. A non-interactive stdin pages through the
// book mechanically instead, which is mostly useful for piping and testing.
func Read(ctx context.Context, cmd *cli.Command) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	env := state.EnvFromContext(ctx)
	log := env.Log.Named("read")

	ref := cmd.Args().Get(0)
	if ref == "" {
		return errors.New("no book reference has been specified")
	}
	if cmd.Args().Len() > 1 {
		log.Warn("Malformed command line, too many references", zap.Strings("ignoring", cmd.Args().Slice()[1:]))
	}

	display, err := displayOptions(env.Cfg)
	if err != nil {
		return err
	}

	// Since zip "standard" does not define file name encoding we may need to
	// force archaic code page for old archives
	if cp := cmd.String("force-zip-cp"); len(cp) > 0 {
		env.CodePage, err = ianaindex.IANA.Encoding(cp)
		if err != nil {
			log.Warn("Unknown character set specification. Ignoring...", zap.String("charset", cp), zap.Error(err))
			env.CodePage = nil
		} else {
			n, _ := ianaindex.IANA.Name(env.CodePage)
			log.Debug("Forcefully converting all non UTF-8 file names in archives", zap.String("charset", n))
		}
	}

	store, err := cache.OpenPositions(env.Cfg.Reader.Sync.CachePath, env.Log)
	if err != nil {
		log.Warn("Position cache unavailable, continuing without it", zap.Error(err))
		store = nil
	}
	defer store.Close()

	client := newClient(env)
	possync := reader.NewPositionSync(client, store, identity(env.Cfg),
		time.Duration(env.Cfg.Reader.Sync.DebounceMs)*time.Millisecond, env.Log)
	defer possync.Close()

	loader := reader.NewLoader(client, reader.NewEngine(env.Log, env.CodePage), loaderOptions(env.Cfg), env.Log)
	ctrl := reader.NewSessionController(loader, possync, reader.NewTerminalProvider(env.Log),
		reader.ControllerOptions{
			Display:         display,
			FallbackSurface: reader.NewBufferSurface(os.Stdout),
		}, env.Log)
	defer ctrl.Close()

	if env.Rpt != nil {
		var trace strings.Builder
		ctrl.OnStateChange(func(s reader.SessionState) {
			fmt.Fprintf(&trace, "%s %s\n", time.Now().Format(time.RFC3339Nano), s)
		})
		defer func() { env.Rpt.StoreData("session/states.log", []byte(trace.String())) }()
	}

	if err := ctrl.Open(ctx, ref, cmd.String("location")); err != nil {
		if reader.IsFatal(err) {
			return fmt.Errorf("this book cannot be read: %w", err)
		}
		return err
	}

	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return pageThrough(ctx, ctrl, int(cmd.Int("pages")))
	}
	return interact(ctx, ctrl, display.Theme, log)
}

// pageThrough turns a fixed number of pages and leaves.
func pageThrough(ctx context.Context, ctrl *reader.SessionController, pages int) error {
	for i := 0; i < pages && ctrl.CanGoForward(); i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		ctrl.NextPage()
	}
	return nil
}

// interact is the keyboard loop. Single key commands, no line editing:
// space/n forward, p/b back, t cycles themes, +/- font scale, q quits.
func interact(ctx context.Context, ctrl *reader.SessionController, theme common.ThemeMode, log *zap.Logger) error {
	fd := int(os.Stdin.Fd())
	prev, err := term.MakeRaw(fd)
	if err != nil {
		return fmt.Errorf("unable to switch terminal to raw mode: %w", err)
	}
	defer term.Restore(fd, prev)

	scale := 1.0
	buf := make([]byte, 1)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		status(ctrl)
		if _, err := os.Stdin.Read(buf); err != nil {
			return err
		}
		switch buf[0] {
		case 'q', 3: // q or Ctrl-C
			return nil
		case ' ', 'n', 'l':
			ctrl.NextPage()
		case 'p', 'b', 'h':
			ctrl.PrevPage()
		case 't':
			theme = common.ThemeMode((int(theme) + 1) % len(common.ThemeModeNames()))
			ctrl.SetTheme(theme)
		case '+', '=':
			scale = min(scale+0.25, 4)
			ctrl.SetFontScale(scale)
		case '-':
			scale = max(scale-0.25, 0.5)
			ctrl.SetFontScale(scale)
		default:
			log.Debug("Ignoring key", zap.Uint8("key", buf[0]))
		}
	}
}

func status(ctrl *reader.SessionController) {
	fmt.Fprintf(os.Stdout, "\r\n--- %3.0f%%  %s  [space/n-next p-prev t-theme +/- q-quit]",
		ctrl.Progress()*100, ctrl.Location())
}
