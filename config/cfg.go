package config

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"

	yaml "gopkg.in/yaml.v3"

	"github.com/rupor-github/gencfg"
)

//go:embed config.yaml.tmpl
var ConfigTmpl []byte

type (
	TemplateFieldName string

	// CatalogConfig describes the backend content/catalog endpoint.
	CatalogConfig struct {
		BaseURL    string       `yaml:"base_url" validate:"required"`
		Token      SecretString `yaml:"token,omitempty"`
		TimeoutSec int          `yaml:"timeout_sec" validate:"min=1"`
	}

	// IdentityConfig is attached to every persisted reading position.
	IdentityConfig struct {
		User   string `yaml:"user" validate:"required"`
		Device string `yaml:"device,omitempty"`
		Format string `yaml:"format" validate:"required"`
	}

	SyncConfig struct {
		DebounceMs int            `yaml:"debounce_ms" validate:"min=0"`
		Identity   IdentityConfig `yaml:"identity"`
		CachePath  string         `yaml:"cache_path,omitempty" sanitize:"path_clean,assure_dir_exists_for_file" validate:"omitempty,filepath"`
	}

	// ViewConfig is the initial geometry and theming of the reading surface.
	ViewConfig struct {
		Width      int     `yaml:"width" validate:"min=20"`
		Height     int     `yaml:"height" validate:"min=4"`
		Theme      string  `yaml:"theme" validate:"oneof=light dark sepia"`
		FontScale  float64 `yaml:"font_scale" validate:"gt=0.25,lte=4.0"`
		FontFamily string  `yaml:"font_family,omitempty"`
	}

	LoaderConfig struct {
		FetchTimeoutSec int `yaml:"fetch_timeout_sec" validate:"min=1"`
		Retries         int `yaml:"retries" validate:"min=0"`
		RetryDelayMs    int `yaml:"retry_delay_ms" validate:"min=0"`
	}

	CoverConfig struct {
		Resize         ImageResizeMode `yaml:"resize" validate:"gte=0"`
		Width          int             `yaml:"width" validate:"min=0"`
		Height         int             `yaml:"height" validate:"min=0"`
		NamingTemplate string          `yaml:"naming_template"`
	}

	ReaderConfig struct {
		View   ViewConfig   `yaml:"view"`
		Loader LoaderConfig `yaml:"loader"`
		Sync   SyncConfig   `yaml:"sync"`
		Cover  CoverConfig  `yaml:"cover"`
	}

	Config struct {
		Version   int            `yaml:"version" validate:"eq=1"`
		Catalog   CatalogConfig  `yaml:"catalog"`
		Reader    ReaderConfig   `yaml:"reader"`
		Logging   LoggingConfig  `yaml:"logging"`
		Reporting ReporterConfig `yaml:"reporting"`
	}
)

const (
	// NOTE: must match yaml field name above, alternative is to use struct
	// field name and reflection which I want to avoid for now
	CoverNamingTemplateFieldName TemplateFieldName = "naming_template"
)

var requiredOptions = append([]func(*gencfg.ProcessingOptions){},
	gencfg.WithDoNotExpandField(string(CoverNamingTemplateFieldName)),
)

func unmarshalConfig(data []byte, cfg *Config, process bool) (*Config, error) {
	// We want to use only fields we defined so we cannot use yaml.Unmarshal
	// directly here
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration data: %w", err)
	}
	if process {
		// sanitize and validate what has been loaded
		if err := gencfg.Sanitize(cfg); err != nil {
			return nil, err
		}
		if err := gencfg.Validate(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// LoadConfiguration reads the configuration from the file at the given path,
// superimposes its values on top of expanded configuration template to provide
// sane defaults and performs validation.
func LoadConfiguration(path string, options ...func(*gencfg.ProcessingOptions)) (*Config, error) {
	haveFile := len(path) > 0

	data, err := gencfg.Process(ConfigTmpl, append(requiredOptions, options...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to process configuration template: %w", err)
	}
	cfg, err := unmarshalConfig(data, &Config{}, !haveFile)
	if err != nil {
		return nil, fmt.Errorf("failed to process configuration template: %w", err)
	}
	if !haveFile {
		return cfg, nil
	}

	// overwrite cfg values with values from the file
	data, err = os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err = unmarshalConfig(data, cfg, haveFile)
	if err != nil {
		return nil, fmt.Errorf("failed to process configuration file: %w", err)
	}
	return cfg, nil
}

// Prepare generates configuration file from template and returns it as a byte
// slice.
func Prepare() ([]byte, error) {
	return gencfg.Process(ConfigTmpl, requiredOptions...)
}

func Dump(cfg *Config) ([]byte, error) {
	data, err := yaml.Marshal(*cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config to yaml: %v", err)
	}
	return data, nil
}
