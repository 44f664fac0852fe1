package config

import (
	"errors"
	"runtime"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/tdreloc/internal/fault"
)

// Config holds the full application configuration.
type Config struct {
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Input      InputConfig      `yaml:"input" mapstructure:"input"`
	Output     OutputConfig     `yaml:"output" mapstructure:"output"`
	Cluster    ClusterConfig    `yaml:"cluster" mapstructure:"cluster"`
	Relocation RelocationConfig `yaml:"relocation" mapstructure:"relocation"`
	Model      ModelConfig      `yaml:"model" mapstructure:"model"`
	Cache      CacheConfig      `yaml:"cache" mapstructure:"cache"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// StoreConfig configures the run ledger backend.
type StoreConfig struct {
	Driver string `yaml:"driver" mapstructure:"driver"`
	DSN    string `yaml:"dsn" mapstructure:"dsn"`
}

// ServerConfig configures the read-only API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// InputConfig locates the catalog, the station file and the per-event
// differential-time files.
type InputConfig struct {
	Catalog  string `yaml:"catalog" mapstructure:"catalog"`
	Stations string `yaml:"stations" mapstructure:"stations"`
	DatDir   string `yaml:"dat_dir" mapstructure:"dat_dir"`
	Encoding string `yaml:"encoding" mapstructure:"encoding"`
	// Threshold drops lag rows whose weight is below it. Zero keeps all.
	Threshold float64 `yaml:"threshold" mapstructure:"threshold"`
}

// OutputConfig controls where results are written.
type OutputConfig struct {
	Dir         string `yaml:"dir" mapstructure:"dir"`
	TDiffFormat string `yaml:"tdiff_format" mapstructure:"tdiff_format"`
}

// ClusterConfig configures DBSCAN and its catalog pre-filters.
type ClusterConfig struct {
	MinPts          int     `yaml:"min_pts" mapstructure:"min_pts"`
	Eps             float64 `yaml:"eps" mapstructure:"eps"`
	Estimator       string  `yaml:"estimator" mapstructure:"estimator"`
	Percentile      float64 `yaml:"percentile" mapstructure:"percentile"`
	RMSThreshold    float64 `yaml:"rms_threshold" mapstructure:"rms_threshold"`
	LocErrThreshold float64 `yaml:"loc_err_threshold" mapstructure:"loc_err_threshold"`
}

// RelocationConfig configures the stage schedule and the solver. The three
// stage lists are zipped by position.
type RelocationConfig struct {
	DistKm          []float64 `yaml:"dist_km" mapstructure:"dist_km"`
	Damping         []float64 `yaml:"damping" mapstructure:"damping"`
	Iterations      []int     `yaml:"iterations" mapstructure:"iterations"`
	Atol            float64   `yaml:"atol" mapstructure:"atol"`
	Btol            float64   `yaml:"btol" mapstructure:"btol"`
	Conlim          float64   `yaml:"conlim" mapstructure:"conlim"`
	IterLim         int       `yaml:"iter_lim" mapstructure:"iter_lim"`
	Jobs            int       `yaml:"jobs" mapstructure:"jobs"`
	HypBottom       float64   `yaml:"hyp_bottom" mapstructure:"hyp_bottom"`
	GaugeWeight     float64   `yaml:"gauge_weight" mapstructure:"gauge_weight"`
	MedianCenter    bool      `yaml:"median_center" mapstructure:"median_center"`
	SparseThreshold int64     `yaml:"sparse_threshold" mapstructure:"sparse_threshold"`
}

// ModelConfig selects the velocity model.
type ModelConfig struct {
	Phase string  `yaml:"phase" mapstructure:"phase"`
	Vp    float64 `yaml:"vp" mapstructure:"vp"`
	Vs    float64 `yaml:"vs" mapstructure:"vs"`
}

// CacheConfig sizes the derivative cache.
type CacheConfig struct {
	Enabled     bool  `yaml:"enabled" mapstructure:"enabled"`
	MaxCost     int64 `yaml:"max_cost" mapstructure:"max_cost"`
	NumCounters int64 `yaml:"num_counters" mapstructure:"num_counters"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile is Load with an explicit config file. An empty path searches
// the working directory for config.yaml.
func LoadFile(path string) (*Config, error) {
	v := viper.New()

	// Config file
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	// Environment
	v.SetEnvPrefix("TDRELOC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Read config file (optional unless named explicitly)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.dsn", "tdreloc.db")
	v.SetDefault("server.port", 8080)
	v.SetDefault("input.encoding", "utf-8")
	v.SetDefault("input.threshold", 0.0)
	v.SetDefault("output.dir", ".")
	v.SetDefault("output.tdiff_format", "bin")
	v.SetDefault("cluster.min_pts", 4)
	v.SetDefault("cluster.eps", -1.0)
	v.SetDefault("cluster.estimator", "elbow")
	v.SetDefault("cluster.percentile", 0.9)
	v.SetDefault("cluster.rms_threshold", 0.0)
	v.SetDefault("cluster.loc_err_threshold", 0.0)
	v.SetDefault("relocation.dist_km", []float64{50, 20})
	v.SetDefault("relocation.damping", []float64{0, 1})
	v.SetDefault("relocation.iterations", []int{10, 10})
	v.SetDefault("relocation.atol", 1e-6)
	v.SetDefault("relocation.btol", 1e-6)
	v.SetDefault("relocation.conlim", 1e8)
	v.SetDefault("relocation.iter_lim", 1000)
	v.SetDefault("relocation.jobs", max(1, runtime.NumCPU()-1))
	v.SetDefault("relocation.hyp_bottom", 100.0)
	v.SetDefault("relocation.gauge_weight", 0.0)
	v.SetDefault("relocation.median_center", false)
	v.SetDefault("relocation.sparse_threshold", int64(10_000_000))
	v.SetDefault("model.phase", "S")
	v.SetDefault("model.vp", 6.0)
	v.SetDefault("model.vs", 3.5)
	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.max_cost", int64(1<<24))
	v.SetDefault("cache.num_counters", int64(100_000))
}

// Validation modes accepted by Validate.
const (
	ModeCluster  = "cluster"
	ModeRelocate = "relocate"
	ModeRun      = "run"
	ModeServe    = "serve"
	ModeLedger   = "ledger"
)

// Validate checks the settings a command needs. All problems are reported
// together; each one is a fault.ConfigError.
func (c *Config) Validate(mode string) error {
	var errs []error
	add := func(key, format string, args ...any) {
		errs = append(errs, fault.NewConfigError(key, format, args...))
	}

	switch mode {
	case ModeCluster, ModeRelocate, ModeRun:
	case ModeServe:
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			add("server.port", "must be between 1 and 65535, got %d", c.Server.Port)
		}
	case ModeLedger:
	default:
		add("mode", "unknown mode %q", mode)
		return errors.Join(errs...)
	}

	switch c.Store.Driver {
	case "sqlite", "postgres":
		if c.Store.DSN == "" {
			add("store.dsn", "is required for driver %s", c.Store.Driver)
		}
	case "none":
		if mode == ModeServe || mode == ModeLedger {
			add("store.driver", "a store is required for %s", mode)
		}
	default:
		add("store.driver", "must be sqlite, postgres or none, got %q", c.Store.Driver)
	}

	if mode == ModeServe || mode == ModeLedger {
		return errors.Join(errs...)
	}

	if c.Input.Catalog == "" {
		add("input.catalog", "is required")
	}
	switch c.Output.TDiffFormat {
	case "bin", "csv":
	default:
		add("output.tdiff_format", "must be bin or csv, got %q", c.Output.TDiffFormat)
	}

	if mode == ModeCluster || mode == ModeRun {
		cl := c.Cluster
		if cl.MinPts < 1 {
			add("cluster.min_pts", "must be >= 1, got %d", cl.MinPts)
		}
		switch cl.Estimator {
		case "elbow":
		case "percentile":
			if cl.Percentile <= 0 || cl.Percentile > 100 {
				add("cluster.percentile", "must be in (0, 1] or (1, 100], got %g", cl.Percentile)
			}
		default:
			add("cluster.estimator", "must be elbow or percentile, got %q", cl.Estimator)
		}
	}

	if mode == ModeRelocate || mode == ModeRun {
		if c.Input.Stations == "" {
			add("input.stations", "is required")
		}
		r := c.Relocation
		if len(r.DistKm) == 0 {
			add("relocation.dist_km", "at least one stage is required")
		}
		if len(r.DistKm) != len(r.Damping) || len(r.DistKm) != len(r.Iterations) {
			add("relocation", "dist_km, damping and iterations need the same length (%d, %d, %d)",
				len(r.DistKm), len(r.Damping), len(r.Iterations))
		}
		if r.Atol <= 0 || r.Btol <= 0 {
			add("relocation.atol", "atol and btol must be positive")
		}
		if r.Conlim <= 0 {
			add("relocation.conlim", "must be positive, got %g", r.Conlim)
		}
		if r.IterLim <= 0 {
			add("relocation.iter_lim", "must be positive, got %d", r.IterLim)
		}
		if r.Jobs < 0 {
			add("relocation.jobs", "must be >= 0, got %d", r.Jobs)
		}
		if r.HypBottom <= 0 {
			add("relocation.hyp_bottom", "must be positive, got %g", r.HypBottom)
		}
		m := c.Model
		if m.Phase != "P" && m.Phase != "S" {
			add("model.phase", "must be P or S, got %q", m.Phase)
		}
		if m.Vp <= 0 || m.Vs <= 0 {
			add("model.vp", "velocities must be positive (vp=%g vs=%g)", m.Vp, m.Vs)
		}
	}

	return errors.Join(errs...)
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
