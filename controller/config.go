package controller

import (
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"sigs.k8s.io/yaml"
)

// Config holds the controller-side configuration named in §6.
type Config struct {
	ServerURL         string        `json:"server_url"`
	CommandPort       int           `json:"command_port"`
	RequestPort       int           `json:"request_port"`
	NumEnvironments   int           `json:"number_of_environments"`
	EnvironmentName   string        `json:"environment_name"`
	ServerVersion     uint32        `json:"server_version"`
	Seed              int64         `json:"seed"`
	StepTimeout       time.Duration `json:"step_timeout_seconds"`
	SocketLinger      time.Duration `json:"socket_linger_seconds"`
	ResetCompensation bool          `json:"reset_compensation"`
	Verbosity         int           `json:"verbosity"`
}

// DefaultConfig returns the configuration used when no flags or file
// override it.
func DefaultConfig() Config {
	return Config{
		ServerURL:       "0.0.0.0",
		CommandPort:     5562,
		RequestPort:     5563,
		NumEnvironments: 1,
		EnvironmentName: "default",
		ServerVersion:   1,
		StepTimeout:     30 * time.Second,
		SocketLinger:    time.Second,
	}
}

func (c Config) CommandAddr() string {
	return net.JoinHostPort(c.ServerURL, strconv.Itoa(c.CommandPort))
}

func (c Config) RequestAddr() string {
	return net.JoinHostPort(c.ServerURL, strconv.Itoa(c.RequestPort))
}

// ParseFlags builds a Config by layering, lowest precedence first: the
// compiled-in defaults, an optional YAML config file (-config), then
// any flags the caller actually passed on the command line. Grounded
// on the teacher's run_daemon.go flag+YAML loading idiom.
func ParseFlags(fs *flag.FlagSet, args []string) (Config, error) {
	def := DefaultConfig()

	var configPath string
	fs.StringVar(&configPath, "config", "", "path to a YAML controller config file")
	host := fs.String("host", def.ServerURL, "bind address")
	commandPort := fs.Int("command-port", def.CommandPort, "command endpoint port")
	requestPort := fs.Int("request-port", def.RequestPort, "request endpoint port")
	numEnv := fs.Int("n", def.NumEnvironments, "number of environment slots")
	envName := fs.String("env", def.EnvironmentName, "environment name reported to workers")
	seed := fs.Int64("seed", def.Seed, "seed reported to workers")
	stepTimeout := fs.Duration("step-timeout", def.StepTimeout, "per-step gather timeout")
	linger := fs.Duration("socket-linger", def.SocketLinger, "socket linger on shutdown")
	resetComp := fs.Bool("reset-compensation", def.ResetCompensation, "enable reset-compensation mode")
	verbosity := fs.Int("v", def.Verbosity, "log verbosity")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg := def
	if configPath != "" {
		raw, err := os.ReadFile(configPath)
		if err != nil {
			return Config{}, fmt.Errorf("controller: reading config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("controller: parsing config file: %w", err)
		}
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "host":
			cfg.ServerURL = *host
		case "command-port":
			cfg.CommandPort = *commandPort
		case "request-port":
			cfg.RequestPort = *requestPort
		case "n":
			cfg.NumEnvironments = *numEnv
		case "env":
			cfg.EnvironmentName = *envName
		case "seed":
			cfg.Seed = *seed
		case "step-timeout":
			cfg.StepTimeout = *stepTimeout
		case "socket-linger":
			cfg.SocketLinger = *linger
		case "reset-compensation":
			cfg.ResetCompensation = *resetComp
		case "v":
			cfg.Verbosity = *verbosity
		}
	})
	return cfg, nil
}
