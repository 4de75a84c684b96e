package config

import (
	"os"
	"path/filepath"
	"reflect"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigtoml"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

// FileName is the name of the optional config file in the project root
const FileName = "sitepipe.toml"

// Tools holds the command line for each external tool. The commands are executed by the embedded shell.
type Tools struct {
	Pug            string `toml:"pug" default:"pug --pretty --basedir \"$SITEPIPE_ROOT\" --path \"$SITEPIPE_FILE\"" usage:"Template compiler"`
	Sass           string `toml:"sass" default:"sass --stdin --load-path=\"$SITEPIPE_DIR\" ${SITEPIPE_SOURCEMAP:+--embed-source-map --embed-sources}" usage:"Style preprocessor"`
	Autoprefixer   string `toml:"autoprefixer" default:"BROWSERSLIST='> 2%, last 5 versions' postcss --use autoprefixer" usage:"Vendor prefixer"`
	MediaQueries   string `toml:"mediaqueries" default:"group-css-media-queries \"$SITEPIPE_IN\" \"$SITEPIPE_OUT\"" usage:"Media query merger"`
	Gifsicle       string `toml:"gifsicle" default:"gifsicle --interlace"`
	JpegRecompress string `toml:"jpegrecompress" default:"jpeg-recompress --quiet --progressive --min 80 --max 90 \"$SITEPIPE_IN\" \"$SITEPIPE_OUT\""`
	Jpegtran       string `toml:"jpegtran" default:"jpegtran -progressive -copy none"`
	Pngquant       string `toml:"pngquant" default:"pngquant --force --output \"$SITEPIPE_OUT\" -- \"$SITEPIPE_IN\""`
	Optipng        string `toml:"optipng" default:"cp \"$SITEPIPE_IN\" \"$SITEPIPE_OUT\" && optipng -quiet -o5 \"$SITEPIPE_OUT\""`
}

// Config describes all configuration options
type Config struct {
	Log struct {
		Level string `toml:"level" default:"info"`
		JSON  bool   `toml:"json" default:"false" usage:"Output JSONND instead of pretty console messages"`
	} `toml:"log"`
	HTTP struct {
		Address string `toml:"address" default:"127.0.0.1:3000" usage:"Adress the dev server listens on"`
	} `toml:"http"`
	Cache struct {
		Path string `toml:"path" default:".sitepipe-cache.db" usage:"Image cache location (relative to the project root)"`
	} `toml:"cache"`
	Notify struct {
		Desktop bool `toml:"desktop" default:"true" usage:"Show desktop notifications for template and style errors"`
	} `toml:"notify"`
	Styles struct {
		Sourcemaps bool `toml:"sourcemaps" default:"true"`
	} `toml:"styles"`
	Images struct {
		Progress bool `toml:"progress" default:"true" usage:"Display a progress bar while optimizing images"`
	} `toml:"images"`
	Watch struct {
		Lull time.Duration `toml:"lull" default:"100ms" usage:"Quiet period before a batch of file events triggers a rebuild"`
	} `toml:"watch"`
	Tools Tools `toml:"tools"`
}

var logLevels = map[string]zerolog.Level{
	"debug":   zerolog.DebugLevel,
	"info":    zerolog.InfoLevel,
	"warn":    zerolog.WarnLevel,
	"warning": zerolog.WarnLevel,
	"error":   zerolog.ErrorLevel,
	"fatal":   zerolog.FatalLevel,
}

// Loader initializes an empty config object and returns a new Loader for this object.
// projectRoot/sitepipe.toml is only read if it exists.
func Loader(projectRoot string) (*Config, *aconfig.Loader) {
	files := []string{}
	configFile := filepath.Join(projectRoot, FileName)
	if info, err := os.Stat(configFile); err == nil && info.Mode().IsRegular() {
		files = append(files, configFile)
	}

	cfg := Config{}
	return &cfg, aconfig.LoaderFor(&cfg, aconfig.Config{
		SkipFlags:        true,
		AllowUnknownEnvs: true,
		EnvPrefix:        "SITEPIPE",
		Files:            files,
		FileDecoders: map[string]aconfig.FileDecoder{
			".toml": aconfigtoml.New(),
		},
	})
}

// Load reads the configuration for the given project and validates it
func Load(projectRoot string) (*Config, error) {
	cfg, loader := Loader(projectRoot)
	err := loader.Load()
	if err != nil {
		return nil, eris.Wrap(err, "failed to load the configuration")
	}

	err = cfg.Validate()
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate verifies that all config fields have valid values
func (cfg *Config) Validate() error {
	_, ok := logLevels[cfg.Log.Level]
	if !ok {
		return eris.Errorf(`Invalid value for log.level: %s`, cfg.Log.Level)
	}

	if cfg.HTTP.Address == "" {
		return eris.New(`http.address can't be empty`)
	}

	if cfg.Cache.Path == "" {
		return eris.New(`cache.path can't be empty`)
	}

	if cfg.Watch.Lull < 0 {
		return eris.Errorf(`Invalid value for watch.lull: %s`, cfg.Watch.Lull)
	}

	tools := reflect.ValueOf(cfg.Tools)
	for idx := 0; idx < tools.NumField(); idx++ {
		if tools.Field(idx).String() == "" {
			field := tools.Type().Field(idx)
			return eris.Errorf(`tools.%s can't be empty`, field.Tag.Get("toml"))
		}
	}

	return nil
}

// LogLevel converts the .Log.Level field to a zerolog.Level
func (cfg *Config) LogLevel() zerolog.Level {
	return logLevels[cfg.Log.Level]
}

// CachePath returns the absolute location of the image cache
func (cfg *Config) CachePath(projectRoot string) string {
	if filepath.IsAbs(cfg.Cache.Path) {
		return cfg.Cache.Path
	}
	return filepath.Join(projectRoot, cfg.Cache.Path)
}
