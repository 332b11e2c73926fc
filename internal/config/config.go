package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/torfstack/twin/internal/logging"
	"github.com/torfstack/twin/internal/util"
)

const (
	DefaultHost              = "0.0.0.0"
	DefaultOrchestratorPort  = 9001
	DefaultStorePort         = 9002
	DefaultFilesDir          = "/var/lib/server_files"
	DefaultTimeout           = 5 * time.Second
	DefaultClientTimeout     = 8 * time.Second
	DefaultClientOutDir      = "client_out"
	OrchestratorTimeoutGrace = 2 * time.Second
)

var (
	configFilePath = filepath.Join(util.TwinConfigDir, "config.toml")
)

type Config struct {
	Store        StoreConfig        `toml:"store"`
	Orchestrator OrchestratorConfig `toml:"orchestrator"`
	Client       ClientConfig       `toml:"client"`
	Audit        AuditConfig        `toml:"audit"`
	Metrics      MetricsConfig      `toml:"metrics"`
}

// StoreConfig configures a Store Node.
type StoreConfig struct {
	Host     string        `toml:"host"`
	Port     int           `toml:"port"`
	FilesDir string        `toml:"files_dir"`
	Timeout  time.Duration `toml:"timeout"`
	Watch    bool          `toml:"watch"`
}

func (c StoreConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// OrchestratorConfig configures an Orchestrator Node and its peer.
type OrchestratorConfig struct {
	Host     string        `toml:"host"`
	Port     int           `toml:"port"`
	FilesDir string        `toml:"files_dir"`
	PeerHost string        `toml:"peer_host"`
	PeerPort int           `toml:"peer_port"`
	Timeout  time.Duration `toml:"timeout"`
	// MaxProbes bounds concurrent Store Node probes, 0 means unbounded.
	MaxProbes int  `toml:"max_probes"`
	Watch     bool `toml:"watch"`
}

func (c OrchestratorConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func (c OrchestratorConfig) PeerAddr() string {
	return net.JoinHostPort(c.PeerHost, strconv.Itoa(c.PeerPort))
}

// ConnTimeout is the deadline for an inbound connection. It leaves room
// for the nested Store Node probe to time out first.
func (c OrchestratorConfig) ConnTimeout() time.Duration {
	return c.Timeout + OrchestratorTimeoutGrace
}

type ClientConfig struct {
	Port    int           `toml:"port"`
	Timeout time.Duration `toml:"timeout"`
	OutDir  string        `toml:"out_dir"`
}

// AuditConfig enables the request journal when Path is set.
type AuditConfig struct {
	Path string `toml:"path"`
}

// MetricsConfig enables the prometheus endpoint when Addr is set.
type MetricsConfig struct {
	Addr string `toml:"addr"`
}

func Default() Config {
	return Config{
		Store: StoreConfig{
			Host:     DefaultHost,
			Port:     DefaultStorePort,
			FilesDir: DefaultFilesDir,
			Timeout:  DefaultTimeout,
		},
		Orchestrator: OrchestratorConfig{
			Host:     DefaultHost,
			Port:     DefaultOrchestratorPort,
			FilesDir: DefaultFilesDir,
			PeerPort: DefaultStorePort,
			Timeout:  DefaultTimeout,
		},
		Client: ClientConfig{
			Port:    DefaultOrchestratorPort,
			Timeout: DefaultClientTimeout,
			OutDir:  DefaultClientOutDir,
		},
	}
}

// Load reads the config file at path, or the default location when path
// is empty. A missing file yields the defaults; keys absent from the file
// keep their default values.
func Load(path string) (Config, error) {
	if path == "" {
		path = configFilePath
	}
	c := Default()
	_, err := toml.DecodeFile(path, &c)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		logging.Debugf("No config file at '%s', using defaults", path)
		return c, nil
	case err != nil:
		return c, fmt.Errorf("could not decode config file '%s': %w", path, err)
	}
	return c, nil
}

// Init writes a fresh config file to path, asking for values on stdin
// when interactive is set.
func Init(path string, interactive bool) (Config, error) {
	if path == "" {
		path = configFilePath
	}
	c := Default()
	if interactive {
		err := guidedInitialization(&c)
		if err != nil {
			return c, fmt.Errorf("could not initialize config interactively: %w", err)
		}
	}
	return c, c.persist(path)
}

func (c *Config) persist(path string) error {
	f, err := util.OpenWithParents(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("could not open config file for writing '%s': %w", path, err)
	}
	defer func(f *os.File) {
		if err := f.Close(); err != nil {
			logging.Errorf("Could not close config file: %s", err)
		}
	}(f)

	logging.Debugf("Persisting config file to '%s'", path)
	err = toml.NewEncoder(f).Encode(c)
	if err != nil {
		return fmt.Errorf("could not persist config to file '%s': %w", path, err)
	}

	return nil
}

func (c StoreConfig) Validate() error {
	var errs []error
	if c.FilesDir == "" {
		errs = append(errs, errors.New("store: files_dir must be set"))
	}
	errs = append(errs, validPort("store: port", c.Port), positive("store: timeout", c.Timeout))
	return errors.Join(errs...)
}

func (c OrchestratorConfig) Validate() error {
	var errs []error
	if c.FilesDir == "" {
		errs = append(errs, errors.New("orchestrator: files_dir must be set"))
	}
	if c.PeerHost == "" {
		errs = append(errs, errors.New("orchestrator: peer_host is required"))
	}
	if c.MaxProbes < 0 {
		errs = append(errs, fmt.Errorf("orchestrator: max_probes must not be negative, got %d", c.MaxProbes))
	}
	errs = append(errs,
		validPort("orchestrator: port", c.Port),
		validPort("orchestrator: peer_port", c.PeerPort),
		positive("orchestrator: timeout", c.Timeout),
	)
	return errors.Join(errs...)
}

func (c ClientConfig) Validate() error {
	return errors.Join(validPort("client: port", c.Port), positive("client: timeout", c.Timeout))
}

func validPort(name string, port int) error {
	if port < 0 || port > 65535 {
		return fmt.Errorf("%s out of range: %d", name, port)
	}
	return nil
}

func positive(name string, d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("%s must be positive, got %s", name, d)
	}
	return nil
}
