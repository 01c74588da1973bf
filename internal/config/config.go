package config

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/ownetctl/internal/protocol/frame"
	gotoml "github.com/pelletier/go-toml/v2"
)

// Config is the on-disk owctl configuration.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Flags    FlagsConfig    `toml:"flags"`
	Timeouts TimeoutsConfig `toml:"timeouts"`
	Status   StatusConfig   `toml:"status"`
}

type ServerConfig struct {
	Host       string `toml:"host"`
	Port       string `toml:"port"`
	Persistent bool   `toml:"persistent"`
	Verbose    bool   `toml:"verbose"`
}

type FlagsConfig struct {
	Temperature string `toml:"temperature"`
	Pressure    string `toml:"pressure"`
	Format      string `toml:"format"`
	Uncached    bool   `toml:"uncached"`
	SafeMode    bool   `toml:"safemode"`
	Alias       bool   `toml:"alias"`
	BusRet      bool   `toml:"bus_ret"`
}

type TimeoutsConfig struct {
	Connect Duration `toml:"connect"`
	IO      Duration `toml:"io"`
	Request Duration `toml:"request"`
}

type StatusConfig struct {
	Listen      string   `toml:"listen"`
	Sensors     []string `toml:"sensors"`
	Limit       float64  `toml:"limit"`
	Step        float64  `toml:"step"`
	Interval    Duration `toml:"interval"`
	CorsOrigins []string `toml:"cors_origins"`
	Token       string   `toml:"token"`
}

// Duration reads and writes Go duration strings ("2s", "1m30s").
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

var temperatureScales = map[string]frame.Flags{
	"C": frame.TempC,
	"F": frame.TempF,
	"K": frame.TempK,
	"R": frame.TempR,
}

var pressureScales = map[string]frame.Flags{
	"mbar": frame.PressureMbar,
	"atm":  frame.PressureAtm,
	"mmhg": frame.PressureMmHg,
	"inhg": frame.PressureInHg,
	"psi":  frame.PressurePsi,
	"pa":   frame.PressurePa,
}

var deviceFormats = map[string]frame.Flags{
	"f.i":   frame.FormatFDI,
	"fi":    frame.FormatFI,
	"f.i.c": frame.FormatFDIDC,
	"f.ic":  frame.FormatFDIC,
	"fi.c":  frame.FormatFIDC,
	"fic":   frame.FormatFIC,
}

func Default() Config {
	return Config{
		Server: ServerConfig{
			Host: "localhost",
			Port: "4304",
		},
		Flags: FlagsConfig{
			Temperature: "C",
			Pressure:    "mbar",
			Format:      "f.i",
		},
		Timeouts: TimeoutsConfig{
			Connect: Duration{2 * time.Second},
			IO:      Duration{2 * time.Second},
		},
		Status: StatusConfig{
			Listen:   "127.0.0.1:8304",
			Limit:    25.0,
			Step:     5.0,
			Interval: Duration{30 * time.Second},
		},
	}
}

// Load decodes path over Default and validates the result. Unknown keys
// are rejected so typos do not silently fall back to defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		sort.Strings(keys)
		return Config{}, fmt.Errorf("config parse failed (%s): unknown keys %s", path, strings.Join(keys, ", "))
	}
	if meta.IsDefined("status", "sensors") {
		cfg.Status.Sensors = normalizePaths(cfg.Status.Sensors)
	}
	if err := Validate(cfg); err != nil {
		return Config{}, fmt.Errorf("config invalid (%s): %w", path, err)
	}
	return cfg, nil
}

// Encode renders cfg as TOML.
func Encode(cfg Config) ([]byte, error) {
	return gotoml.Marshal(cfg)
}

func Validate(cfg Config) error {
	if strings.TrimSpace(cfg.Server.Host) == "" {
		return fmt.Errorf("server.host is required")
	}
	if strings.TrimSpace(cfg.Server.Port) == "" {
		return fmt.Errorf("server.port is required")
	}
	if _, ok := temperatureScales[strings.ToUpper(cfg.Flags.Temperature)]; !ok {
		return fmt.Errorf("flags.temperature %q not one of C, F, K, R", cfg.Flags.Temperature)
	}
	if _, ok := pressureScales[strings.ToLower(cfg.Flags.Pressure)]; !ok {
		return fmt.Errorf("flags.pressure %q not one of %s", cfg.Flags.Pressure, keysOf(pressureScales))
	}
	if _, ok := deviceFormats[strings.ToLower(cfg.Flags.Format)]; !ok {
		return fmt.Errorf("flags.format %q not one of %s", cfg.Flags.Format, keysOf(deviceFormats))
	}
	if cfg.Timeouts.Connect.Duration < 0 || cfg.Timeouts.IO.Duration < 0 || cfg.Timeouts.Request.Duration < 0 {
		return fmt.Errorf("timeouts must be non-negative")
	}
	if len(cfg.Status.Sensors) > 0 {
		if cfg.Status.Step <= 0 {
			return fmt.Errorf("status.step must be positive")
		}
		if cfg.Status.Interval.Duration <= 0 {
			return fmt.Errorf("status.interval must be positive")
		}
	}
	return nil
}

// ProtocolFlags returns the header flag word the configuration selects.
func (c Config) ProtocolFlags() frame.Flags {
	f := frame.FlagOwnet
	if c.Flags.Uncached {
		f |= frame.FlagUncached
	}
	if c.Flags.SafeMode {
		f |= frame.FlagSafeMode
	}
	if c.Flags.Alias {
		f |= frame.FlagAlias
	}
	if c.Flags.BusRet {
		f |= frame.FlagBusRet
	}
	f = f.WithTempScale(temperatureScales[strings.ToUpper(c.Flags.Temperature)])
	f = f.WithPressureScale(pressureScales[strings.ToLower(c.Flags.Pressure)])
	f = f.WithDevFormat(deviceFormats[strings.ToLower(c.Flags.Format)])
	return f
}

// TemperatureFlag maps a scale letter to its flag sub-field.
func TemperatureFlag(scale string) (frame.Flags, bool) {
	f, ok := temperatureScales[strings.ToUpper(strings.TrimSpace(scale))]
	return f, ok
}

// FormatFlag maps a device address format name to its flag sub-field.
func FormatFlag(name string) (frame.Flags, bool) {
	f, ok := deviceFormats[strings.ToLower(strings.TrimSpace(name))]
	return f, ok
}

func normalizePaths(in []string) []string {
	out := make([]string, 0, len(in))
	for _, p := range in {
		v := strings.TrimSpace(p)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}

func keysOf(m map[string]frame.Flags) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return strings.Join(keys, ", ")
}
