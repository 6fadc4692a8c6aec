// Package commands implements the CLI subcommand actions.
package commands

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"epr/catalog"
	"epr/common"
	"epr/config"
	"epr/epub"
	"epr/reader"
	"epr/state"
)

// newClient builds the catalog client from active configuration.
func newClient(env *state.LocalEnv) *catalog.Client {
	cfg := env.Cfg.Catalog
	return catalog.NewClient(cfg.BaseURL, string(cfg.Token), time.Duration(cfg.TimeoutSec)*time.Second, env.Log)
}

// identity resolves the position record identity. An unset device falls back
// to a stable host derived id so positions from different machines do not
// clobber each other.
func identity(cfg *config.Config) catalog.Identity {
	id := catalog.Identity{
		User:   cfg.Reader.Sync.Identity.User,
		Device: cfg.Reader.Sync.Identity.Device,
		Format: cfg.Reader.Sync.Identity.Format,
	}
	if id.Device == "" {
		host, err := os.Hostname()
		if err != nil || host == "" {
			host = "unknown"
		}
		id.Device = fmt.Sprintf("cli-%.8s", uuid.NewSHA1(uuid.NameSpaceDNS, []byte(host)).String())
	}
	return id
}

func loaderOptions(cfg *config.Config) reader.LoaderOptions {
	l := cfg.Reader.Loader
	return reader.LoaderOptions{
		FetchTimeout: time.Duration(l.FetchTimeoutSec) * time.Second,
		Retries:      l.Retries,
		RetryDelay:   time.Duration(l.RetryDelayMs) * time.Millisecond,
	}
}

func displayOptions(cfg *config.Config) (epub.DisplayOptions, error) {
	v := cfg.Reader.View
	theme, err := common.ParseThemeMode(v.Theme)
	if err != nil {
		return epub.DisplayOptions{}, err
	}
	return epub.DisplayOptions{
		Width:      v.Width,
		Height:     v.Height,
		FontScale:  v.FontScale,
		FontFamily: v.FontFamily,
		Theme:      theme,
	}, nil
}
