// Package config assembles the server settings from defaults, an optional
// JSON file, environment variables and command-line flags, in that order.
package config

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"
)

// Config holds runtime settings for the FileVault server.
type Config struct {
	HTTPAddr          string
	AdminGRPCAddr     string
	MaxUploadBytes    int64
	UploadConcurrency int64
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	ShutdownTimeout   time.Duration
	StaticDir         string
	Dev               bool
	Tracing           bool
	ThumbnailQueue    int
	ThumbnailWorkers  int
}

// LoadDefaults populates Config with the values the service ships with.
func (c *Config) LoadDefaults() {
	c.HTTPAddr = ":3000"
	c.AdminGRPCAddr = ":50051"
	c.MaxUploadBytes = 10 << 20
	c.UploadConcurrency = 8
	c.ReadTimeout = 30 * time.Second
	c.WriteTimeout = 60 * time.Second
	c.ShutdownTimeout = 10 * time.Second
	c.ThumbnailQueue = 64
	c.ThumbnailWorkers = 2
}

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.HTTPAddr == "" {
		errs = append(errs, errors.New("http address must not be empty"))
	}
	if c.MaxUploadBytes <= 0 {
		errs = append(errs, fmt.Errorf("max upload bytes must be positive, got %d", c.MaxUploadBytes))
	}
	if c.UploadConcurrency <= 0 {
		errs = append(errs, fmt.Errorf("upload concurrency must be positive, got %d", c.UploadConcurrency))
	}
	if c.ThumbnailQueue < 0 || c.ThumbnailWorkers < 0 {
		errs = append(errs, errors.New("thumbnail queue and workers must not be negative"))
	}
	return errors.Join(errs...)
}

// JsonConfig is the on-disk shape; durations are Go duration strings ("30s").
type JsonConfig struct {
	HTTPAddr          *string `json:"http_addr"`
	AdminGRPCAddr     *string `json:"admin_grpc_addr"`
	MaxUploadBytes    *int64  `json:"max_upload_bytes"`
	UploadConcurrency *int64  `json:"upload_concurrency"`
	ReadTimeout       *string `json:"read_timeout"`
	WriteTimeout      *string `json:"write_timeout"`
	ShutdownTimeout   *string `json:"shutdown_timeout"`
	StaticDir         *string `json:"static_dir"`
	Dev               *bool   `json:"dev"`
	Tracing           *bool   `json:"tracing"`
	ThumbnailQueue    *int    `json:"thumbnail_queue"`
	ThumbnailWorkers  *int    `json:"thumbnail_workers"`
}

// LoadConfig builds a Config from the process environment and arguments.
func LoadConfig() (*Config, error) {
	return Load(os.Args[1:], os.Getenv)
}

// Load applies defaults, then the JSON file named by -c/-config, then
// environment variables, then flags.
func Load(args []string, getenv func(string) string) (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()

	fs := flag.NewFlagSet("filevault", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var configFile string
	fs.StringVar(&configFile, "config", "", "path to JSON config file")
	fs.StringVar(&configFile, "c", "", "path to JSON config file (short)")

	httpAddr := fs.String("a", "", "HTTP listen address")
	adminAddr := fs.String("admin", "", "admin gRPC listen address (empty string disables it)")
	maxUpload := fs.Int64("max-upload", 0, "maximum upload size in bytes")
	concurrency := fs.Int64("concurrency", 0, "maximum concurrent uploads")
	staticDir := fs.String("static", "", "directory with the web frontend")
	dev := fs.Bool("dev", false, "development logging")
	tracing := fs.Bool("tracing", false, "export traces to stdout")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parse flags: %w", err)
	}

	if configFile != "" {
		if err := applyJSON(cfg, configFile); err != nil {
			return nil, err
		}
	}

	if err := applyEnv(cfg, getenv); err != nil {
		return nil, err
	}

	// Only flags that were actually given override earlier layers.
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "a":
			cfg.HTTPAddr = *httpAddr
		case "admin":
			cfg.AdminGRPCAddr = *adminAddr
		case "max-upload":
			cfg.MaxUploadBytes = *maxUpload
		case "concurrency":
			cfg.UploadConcurrency = *concurrency
		case "static":
			cfg.StaticDir = *staticDir
		case "dev":
			cfg.Dev = *dev
		case "tracing":
			cfg.Tracing = *tracing
		}
	})

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func applyJSON(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	var jc JsonConfig
	if err := json.Unmarshal(data, &jc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	setString(&cfg.HTTPAddr, jc.HTTPAddr)
	setString(&cfg.AdminGRPCAddr, jc.AdminGRPCAddr)
	setString(&cfg.StaticDir, jc.StaticDir)
	if jc.MaxUploadBytes != nil {
		cfg.MaxUploadBytes = *jc.MaxUploadBytes
	}
	if jc.UploadConcurrency != nil {
		cfg.UploadConcurrency = *jc.UploadConcurrency
	}
	if jc.Dev != nil {
		cfg.Dev = *jc.Dev
	}
	if jc.Tracing != nil {
		cfg.Tracing = *jc.Tracing
	}
	if jc.ThumbnailQueue != nil {
		cfg.ThumbnailQueue = *jc.ThumbnailQueue
	}
	if jc.ThumbnailWorkers != nil {
		cfg.ThumbnailWorkers = *jc.ThumbnailWorkers
	}

	for _, d := range []struct {
		dst *time.Duration
		src *string
	}{
		{&cfg.ReadTimeout, jc.ReadTimeout},
		{&cfg.WriteTimeout, jc.WriteTimeout},
		{&cfg.ShutdownTimeout, jc.ShutdownTimeout},
	} {
		if d.src == nil {
			continue
		}
		v, err := time.ParseDuration(*d.src)
		if err != nil {
			return fmt.Errorf("parse config file %s: %w", path, err)
		}
		*d.dst = v
	}
	return nil
}

// applyEnv reads PORT and FILEVAULT_* variables. PORT alone means ":<port>".
func applyEnv(cfg *Config, getenv func(string) string) error {
	if port := getenv("PORT"); port != "" {
		cfg.HTTPAddr = ":" + port
	}
	if v := getenv("FILEVAULT_HTTP_ADDR"); v != "" {
		cfg.HTTPAddr = v
	}
	if v, ok := lookup(getenv, "FILEVAULT_ADMIN_ADDR"); ok {
		cfg.AdminGRPCAddr = v
	}
	if v := getenv("FILEVAULT_STATIC_DIR"); v != "" {
		cfg.StaticDir = v
	}

	ints := []struct {
		key string
		dst *int64
	}{
		{"FILEVAULT_MAX_UPLOAD_BYTES", &cfg.MaxUploadBytes},
		{"FILEVAULT_UPLOAD_CONCURRENCY", &cfg.UploadConcurrency},
	}
	for _, i := range ints {
		v := getenv(i.key)
		if v == "" {
			continue
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", i.key, err)
		}
		*i.dst = n
	}

	bools := []struct {
		key string
		dst *bool
	}{
		{"FILEVAULT_DEV", &cfg.Dev},
		{"FILEVAULT_TRACING", &cfg.Tracing},
	}
	for _, b := range bools {
		v := getenv(b.key)
		if v == "" {
			continue
		}
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", b.key, err)
		}
		*b.dst = parsed
	}
	return nil
}

// lookup treats the sentinel "off" as an explicit empty value.
func lookup(getenv func(string) string, key string) (string, bool) {
	v := getenv(key)
	switch v {
	case "":
		return "", false
	case "off":
		return "", true
	}
	return v, true
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}
