// Package config loads experiment descriptions from YAML and turns them
// into a ready-to-run fit context.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/cwbudde/axialfit/internal/fit"
	"github.com/cwbudde/axialfit/internal/opt"
)

// Truth names where the measured through-focus MTF comes from. Exactly one
// of Params and CSV must be set.
type Truth struct {
	// Params simulates the truth from a coefficient vector over the codex.
	Params []float64 `yaml:"params,omitempty" json:"params,omitempty"`
	// CSV reads long-format axial MTF data; relative paths resolve against
	// the experiment file.
	CSV string `yaml:"csv,omitempty" json:"csv,omitempty"`
}

// Global configures multi-start search.
type Global struct {
	Starts      int                   `yaml:"starts" json:"starts" validate:"gte=1"`
	Seed        uint64                `yaml:"seed" json:"seed"`
	Spread      float64               `yaml:"spread" json:"spread" validate:"gt=0"`
	Convergence fit.ConvergenceConfig `yaml:"convergence" json:"convergence"`
}

// Experiment is one fit, as written in an experiment file.
type Experiment struct {
	Sim          fit.SimulationConfig `yaml:"sim" json:"sim"`
	Codex        fit.DecoderRing      `yaml:"codex" json:"codex" validate:"min=1,dive,required"`
	Truth        Truth                `yaml:"truth" json:"truth"`
	Guess        []float64            `yaml:"guess,omitempty" json:"guess,omitempty"`
	Normed       bool                 `yaml:"normed" json:"normed"`
	RoundFocusTo float64              `yaml:"round_focus_to" json:"round_focus_to" validate:"gte=0"`
	Parallel     bool                 `yaml:"parallel" json:"parallel"`
	Workers      int                  `yaml:"workers" json:"workers" validate:"gte=0"`
	Solver       opt.Settings         `yaml:"solver" json:"solver"`
	Global       Global               `yaml:"global" json:"global"`

	// baseDir resolves a relative Truth.CSV.
	baseDir string
}

// Default returns an experiment with every optional field set. Decoding a
// file on top of it keeps the defaults for absent keys.
func Default() Experiment {
	g := fit.DefaultGlobalOptions()
	return Experiment{
		Sim:      fit.DefaultSimulationConfig(),
		Codex:    fit.DefaultDecoderRing(),
		Parallel: true,
		Solver:   opt.DefaultSettings(),
		Global: Global{
			Starts:      g.Starts,
			Seed:        g.Seed,
			Spread:      g.Spread,
			Convergence: g.Convergence,
		},
	}
}

var validate *validator.Validate

func init() {
	validate = validator.New()
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
}

// Parse decodes YAML onto the defaults and validates the result.
func Parse(data []byte) (*Experiment, error) {
	e := Default()
	if err := yaml.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("failed to parse experiment yaml: %w", err)
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return &e, nil
}

// Load reads and parses an experiment file.
func Load(path string) (*Experiment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read experiment file %s: %w", path, err)
	}
	e, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("experiment file %s: %w", path, err)
	}
	e.baseDir = filepath.Dir(path)
	return e, nil
}

// Validate checks struct tags and the relations between fields. Every
// failure is a *fit.ConfigError.
func (e *Experiment) Validate() error {
	if err := validate.Struct(e); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			field := strings.TrimPrefix(fe.Namespace(), "Experiment.")
			return &fit.ConfigError{Field: field, Reason: fmt.Sprintf("failed %q check (value %v)", fe.Tag(), fe.Value())}
		}
		return &fit.ConfigError{Field: "experiment", Reason: err.Error()}
	}

	n := len(e.Codex)
	if _, err := e.Codex.Indices(); err != nil {
		return err
	}
	switch {
	case e.Truth.Params != nil && e.Truth.CSV != "":
		return &fit.ConfigError{Field: "truth", Reason: "set either params or csv, not both"}
	case e.Truth.Params == nil && e.Truth.CSV == "":
		return &fit.ConfigError{Field: "truth", Reason: "need params or csv"}
	case e.Truth.Params != nil && len(e.Truth.Params) != n:
		return &fit.ConfigError{Field: "truth.params", Reason: fmt.Sprintf("has %d values for %d codex terms", len(e.Truth.Params), n)}
	}
	if e.Guess != nil && len(e.Guess) != n {
		return &fit.ConfigError{Field: "guess", Reason: fmt.Sprintf("has %d values for %d codex terms", len(e.Guess), n)}
	}
	if err := e.Solver.Validate(n); err != nil {
		return &fit.ConfigError{Field: "solver", Reason: err.Error()}
	}
	return nil
}

// Plan is an experiment resolved into engine inputs.
type Plan struct {
	Context     *fit.Context
	Guess       []float64
	TruthParams []float64 // nil when the truth was read from a file
	Options     fit.Options
	Global      fit.GlobalOptions
}

// Prepare builds the simulation context, simulating or loading the truth.
func (e *Experiment) Prepare() (*Plan, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}

	cfg := e.Sim
	var truth fit.TruthData
	var truthParams []float64

	if e.Truth.CSV != "" {
		path := e.Truth.CSV
		if !filepath.IsAbs(path) && e.baseDir != "" {
			path = filepath.Join(e.baseDir, path)
		}
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open truth file: %w", err)
		}
		defer f.Close()
		axial, err := fit.LoadTruthCSV(f)
		if err != nil {
			return nil, fmt.Errorf("truth file %s: %w", path, err)
		}
		cfg = axial.Apply(cfg)
		truth = axial.Data
	} else {
		if e.RoundFocusTo > 0 {
			var err error
			if cfg, err = fit.RealisticFocusRange(cfg, e.RoundFocusTo); err != nil {
				return nil, err
			}
		}
		sim, err := fit.SimulateTruth(cfg, e.Codex, e.Truth.Params, e.Normed)
		if err != nil {
			return nil, err
		}
		cfg = sim.Config
		truth = sim.Data
		truthParams = slices.Clone(e.Truth.Params)
	}

	c, err := fit.NewContext(cfg, e.Codex, truth, e.Normed)
	if err != nil {
		return nil, err
	}

	guess := slices.Clone(e.Guess)
	if guess == nil {
		guess = make([]float64, len(e.Codex))
	}

	return &Plan{
		Context:     c,
		Guess:       guess,
		TruthParams: truthParams,
		Options: fit.Options{
			Parallel: e.Parallel,
			Workers:  e.Workers,
			Solver:   e.Solver,
		},
		Global: fit.GlobalOptions{
			Starts:      e.Global.Starts,
			Seed:        e.Global.Seed,
			Spread:      e.Global.Spread,
			Convergence: e.Global.Convergence,
		},
	}, nil
}
