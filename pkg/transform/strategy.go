package transform

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/ngld/sitepipe/pkg/buildsys"
)

// Strategy selects how an image is optimized
type Strategy int

const (
	// StrategyCopy passes the file through unchanged
	StrategyCopy Strategy = iota
	StrategyGIF
	StrategyJPEG
	StrategyPNG
	StrategySVG
)

func (s Strategy) String() string {
	switch s {
	case StrategyGIF:
		return "gif"
	case StrategyJPEG:
		return "jpeg"
	case StrategyPNG:
		return "png"
	case StrategySVG:
		return "svg"
	default:
		return "copy"
	}
}

// Cached reports whether results of this strategy are stored in the image cache
func (s Strategy) Cached() bool {
	return s != StrategyCopy
}

// StrategyFor picks the strategy based on the file extension
func StrategyFor(filename string) Strategy {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".gif":
		return StrategyGIF
	case ".jpg", ".jpeg":
		return StrategyJPEG
	case ".png":
		return StrategyPNG
	case ".svg":
		return StrategySVG
	default:
		return StrategyCopy
	}
}

type toolStep struct {
	name    string
	command string
}

func (e *Env) strategySteps(s Strategy) []toolStep {
	switch s {
	case StrategyGIF:
		return []toolStep{{"gifsicle", e.Tools.Gifsicle}}
	case StrategyJPEG:
		return []toolStep{{"jpegrecompress", e.Tools.JpegRecompress}, {"jpegtran", e.Tools.Jpegtran}}
	case StrategyPNG:
		return []toolStep{{"pngquant", e.Tools.Pngquant}, {"optipng", e.Tools.Optipng}}
	}
	return nil
}

// optimize applies the strategy to data
func (e *Env) optimize(ctx context.Context, s Strategy, filename string, data []byte) ([]byte, error) {
	switch s {
	case StrategyCopy:
		return data, nil
	case StrategySVG:
		out, err := minifier.Bytes("image/svg+xml", data)
		if err != nil {
			return nil, eris.Wrapf(err, "failed to minify %s", filename)
		}
		return out, nil
	}

	out := data
	for _, step := range e.strategySteps(s) {
		var err error
		out, err = buildsys.RunTool(ctx, e.tool(step.name, step.command, filename), out)
		if err != nil {
			return nil, eris.Wrapf(err, "failed to optimize %s", filename)
		}

		if len(out) == 0 {
			return nil, eris.Errorf("%s produced no output for %s", step.name, filename)
		}
	}

	return out, nil
}
