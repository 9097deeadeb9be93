// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/ygrebnov/errorc"

	"distributed-fractal/internal/domain"
	"distributed-fractal/internal/stream"
)

// ErrInvalidConfig is returned when flags, file or environment describe an unusable setup.
var ErrInvalidConfig = errors.New("invalid configuration")

// EnvPrefix prefixes every environment variable, e.g. FRACTAL_PORT or FRACTAL_FRACTALS_WIDTH.
const EnvPrefix = "FRACTAL"

// FractalConfig describes the frame sequence rendered by a dispatcher.
type FractalConfig struct {
	Width      uint32  `mapstructure:"width" validate:"gte=1"`
	Height     uint32  `mapstructure:"height" validate:"gte=1"`
	Iterations uint32  `mapstructure:"iterations" validate:"gte=1"`
	TilesX     uint32  `mapstructure:"tiles_x" validate:"gte=1"`
	TilesY     uint32  `mapstructure:"tiles_y" validate:"gte=1"`
	Frames     uint32  `mapstructure:"frames" validate:"gte=1"`
	Zoom       float64 `mapstructure:"zoom" validate:"gt=0,lte=1"`
}

// Config holds the configuration of every process mode.
// The mapstructure tags are used by Viper to unmarshal the data.
type Config struct {
	Host        string   `mapstructure:"host" validate:"required"`
	Port        int      `mapstructure:"port" validate:"gte=1,lte=65535"`
	Workers     int      `mapstructure:"workers" validate:"gte=0"`
	Accelerated bool     `mapstructure:"accelerated"`
	Device      uint32   `mapstructure:"device"`
	Publish     bool     `mapstructure:"publish"`
	Nodes       []string `mapstructure:"nodes" validate:"dive,hostname_port"`
	Headless    bool     `mapstructure:"headless"`
	OutputDir   string   `mapstructure:"output_dir" validate:"required_if=Headless true"`
	AwaitInit   bool     `mapstructure:"await_init"`
	Limits      []string `mapstructure:"limits"`
	InitSink    string   `mapstructure:"init_sink" validate:"omitempty,oneof=frames headless"`

	Fractals FractalConfig `mapstructure:"fractals"`

	Interval       time.Duration `mapstructure:"interval" validate:"gt=0"`
	DrainTimeout   time.Duration `mapstructure:"drain_timeout" validate:"gt=0"`
	MaxNormal      int           `mapstructure:"max_normal" validate:"gte=0"`
	MaxAccelerated int           `mapstructure:"max_accelerated" validate:"gte=0"`
	QueueSize      int           `mapstructure:"queue_size" validate:"gte=1"`

	HttpListenAddr string `mapstructure:"http_listen_addr"`
	ControllerAddr string `mapstructure:"controller_addr"`
	StatusSchedule string `mapstructure:"status_schedule"`

	EtcdEndpoints []string      `mapstructure:"etcd_endpoints"`
	EtcdTimeout   time.Duration `mapstructure:"etcd_timeout"`
	NodeTTL       int64         `mapstructure:"node_ttl" validate:"gte=1"`

	Trace bool `mapstructure:"trace"`
}

// NewFlagSet declares the command line flags shared by all process modes.
func NewFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.StringP("host", "H", "localhost", "host of the dispatcher (worker and controller)")
	fs.IntP("port", "p", 20283, "port to listen on (dispatcher, publishing worker) or connect to (worker)")
	fs.IntP("workers", "w", 0, "number of local workers, the accelerated one included (default 1 on worker nodes)")
	fs.BoolP("accelerated", "o", false, "run one accelerated worker")
	fs.Uint32P("device", "d", 0, "accelerated device id")
	fs.BoolP("publish", "u", false, "do not connect to a dispatcher; publish the workers at the given port")
	fs.StringSliceP("nodes", "n", nil, "comma separated host:port list of publishing worker nodes")
	fs.BoolP("headless", "g", false, "write images to the output directory instead of keeping them in memory")
	fs.String("output-dir", "", "output directory of headless mode")
	fs.Bool("await-init", false, "wait for an init request before assigning work")
	fs.StringArray("limit", nil, "class=n limit update, repeatable (controller)")
	fs.String("init", "", "sink to start the run with, frames or headless (controller)")
	fs.String("config", "", "path of the configuration file")
	fs.Bool("trace", false, "print trace spans to stdout")
	return fs
}

var flagKeys = map[string]string{
	"output-dir": "output_dir",
	"await-init": "await_init",
	"limit":      "limits",
	"init":       "init_sink",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("host", "localhost")
	v.SetDefault("port", 20283)
	v.SetDefault("output_dir", "frames")

	v.SetDefault("fractals.width", 1024)
	v.SetDefault("fractals.height", 768)
	v.SetDefault("fractals.iterations", 500)
	v.SetDefault("fractals.tiles_x", 1)
	v.SetDefault("fractals.tiles_y", 1)
	v.SetDefault("fractals.frames", 100)
	v.SetDefault("fractals.zoom", 0.9)

	v.SetDefault("interval", "50ms")
	v.SetDefault("drain_timeout", "5s")
	v.SetDefault("max_normal", 64)
	v.SetDefault("max_accelerated", 4)
	v.SetDefault("queue_size", 1024)

	v.SetDefault("http_listen_addr", ":8080")
	v.SetDefault("controller_addr", ":20284")
	v.SetDefault("status_schedule", "@every 10s")

	v.SetDefault("etcd_timeout", "5s")
	v.SetDefault("node_ttl", 10)
}

// Load reads the configuration from defaults, the optional fractal_server.yaml
// (./configs or the working directory), FRACTAL_* environment variables and
// the command line, in increasing priority.
func Load(name string, args []string) (*Config, error) {
	fs := NewFlagSet(name)
	if err := fs.Parse(args); err != nil {
		return nil, errorc.With(ErrInvalidConfig, errorc.String("", err.Error()))
	}

	v := viper.New()
	setDefaults(v)

	v.SetConfigName("fractal_server")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath(".")
	if path, _ := fs.GetString("config"); path != "" {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var bindErr error
	fs.VisitAll(func(f *pflag.Flag) {
		if f.Name == "config" {
			return
		}
		key := f.Name
		if k, ok := flagKeys[key]; ok {
			key = k
		}
		if err := v.BindPFlag(key, f); err != nil && bindErr == nil {
			bindErr = err
		}
	})
	if bindErr != nil {
		return nil, fmt.Errorf("failed to bind flags: %w", bindErr)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field constraints and the limit updates.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return errorc.With(ErrInvalidConfig, errorc.String("", err.Error()))
	}
	if _, err := c.LimitUpdates(); err != nil {
		return errorc.With(ErrInvalidConfig, errorc.String("", err.Error()))
	}
	return nil
}

// LimitUpdates parses the class=n entries of Limits.
func (c *Config) LimitUpdates() ([]domain.LimitUpdate, error) {
	out := make([]domain.LimitUpdate, 0, len(c.Limits))
	for _, l := range c.Limits {
		name, value, ok := strings.Cut(l, "=")
		if !ok {
			return nil, fmt.Errorf("limit %q is not class=n", l)
		}
		class, err := domain.ParseWorkerClass(strings.TrimSpace(name))
		if err != nil {
			return nil, err
		}
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || n < 0 {
			return nil, fmt.Errorf("limit %q needs a non-negative count", l)
		}
		out = append(out, domain.LimitUpdate{Class: class.String(), Limit: n})
	}
	return out, nil
}

// Addr is host:port.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ListenAddr is the address the dispatcher or a publishing node listens on.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// ControllerTarget is the controller address a client dials; a missing host
// in ControllerAddr is taken from Host.
func (c *Config) ControllerTarget() string {
	host, port, err := net.SplitHostPort(c.ControllerAddr)
	if err != nil || host != "" {
		return c.ControllerAddr
	}
	return net.JoinHostPort(c.Host, port)
}

// WorkerCount is the number of local workers, at least one on worker nodes.
func (c *Config) WorkerCount(node bool) int {
	if node && c.Workers == 0 {
		return 1
	}
	return c.Workers
}

// Stream converts the fractal section into a request stream configuration.
func (c *Config) Stream() stream.Config {
	sc := stream.DefaultConfig(c.Fractals.Width, c.Fractals.Height, c.Fractals.Iterations, c.Fractals.Frames)
	sc.TilesX = c.Fractals.TilesX
	sc.TilesY = c.Fractals.TilesY
	sc.Zoom = c.Fractals.Zoom
	return sc
}
