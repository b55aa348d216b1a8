package worker

import (
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"sigs.k8s.io/yaml"
)

// Config holds the worker-side configuration named in §6.
type Config struct {
	ServerURL     string        `json:"server_url"`
	CommandPort   int           `json:"command_port"`
	RequestPort   int           `json:"request_port"`
	ServerVersion uint32        `json:"server_version"`
	Timeout       time.Duration `json:"timeout_seconds"`
	WaitPeriod    time.Duration `json:"wait_period_seconds"`
	SocketLinger  time.Duration `json:"socket_linger_seconds"`
	PollingLimit  int           `json:"polling_limit"`
	Verbosity     int           `json:"verbosity"`
}

// DefaultConfig returns the configuration used when no flags or file
// override it.
func DefaultConfig() Config {
	return Config{
		ServerURL:     "127.0.0.1",
		CommandPort:   5562,
		RequestPort:   5563,
		ServerVersion: 1,
		Timeout:       10 * time.Second,
		WaitPeriod:    2 * time.Second,
		SocketLinger:  time.Second,
		PollingLimit:  5,
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
// any flags the caller actually passed on the command line. Mirrors
// controller.ParseFlags.
func ParseFlags(fs *flag.FlagSet, args []string) (Config, error) {
	def := DefaultConfig()

	var configPath string
	fs.StringVar(&configPath, "config", "", "path to a YAML worker config file")
	host := fs.String("host", def.ServerURL, "controller address")
	commandPort := fs.Int("command-port", def.CommandPort, "controller command endpoint port")
	requestPort := fs.Int("request-port", def.RequestPort, "controller request endpoint port")
	version := fs.Int("server-version", int(def.ServerVersion), "expected controller server_version")
	timeout := fs.Duration("timeout", def.Timeout, "request-reply and command poll timeout")
	waitPeriod := fs.Duration("wait-period", def.WaitPeriod, "idle retry period while waiting for a free slot")
	linger := fs.Duration("socket-linger", def.SocketLinger, "socket linger on shutdown")
	pollingLimit := fs.Int("polling-limit", def.PollingLimit, "consecutive poll misses before a socket refresh")
	verbosity := fs.Int("v", def.Verbosity, "log verbosity")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg := def
	if configPath != "" {
		raw, err := os.ReadFile(configPath)
		if err != nil {
			return Config{}, fmt.Errorf("worker: reading config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("worker: parsing config file: %w", err)
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
		case "server-version":
			cfg.ServerVersion = uint32(*version)
		case "timeout":
			cfg.Timeout = *timeout
		case "wait-period":
			cfg.WaitPeriod = *waitPeriod
		case "socket-linger":
			cfg.SocketLinger = *linger
		case "polling-limit":
			cfg.PollingLimit = *pollingLimit
		case "v":
			cfg.Verbosity = *verbosity
		}
	})
	return cfg, nil
}
