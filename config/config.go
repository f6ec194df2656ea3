package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is populated from flags with environment-variable fallback, the
// teacher's exact pattern (envStr/envInt/envDuration).
type Config struct {
	Port       int
	DataDir    string
	DevMode    bool
	PublicIP   string
	ICEServers []string

	// ReconnectGrace is how long a dropped voice connection is held open
	// (SPEC_FULL §12) before the session is torn down as ungraceful.
	ReconnectGrace time.Duration

	// ControllerSlots bounds how many guests may hold an active
	// controller-passthrough link to one host at once.
	ControllerSlots int
}

func Parse() *Config {
	cfg := &Config{}

	var iceServers string

	flag.IntVar(&cfg.Port, "port", envInt("PORT", 8080), "HTTP server port")
	flag.StringVar(&cfg.DataDir, "data-dir", envStr("DATA_DIR", "./data"), "Data directory path")
	flag.BoolVar(&cfg.DevMode, "dev", false, "Enable dev mode (relaxed websocket origin checks)")
	flag.StringVar(&cfg.PublicIP, "public-ip", envStr("PUBLIC_IP", ""), "Public IP for SFU NAT traversal")
	flag.StringVar(&iceServers, "ice-servers", envStr("ICE_SERVERS", "stun:stun.l.google.com:19302,stun:stun1.l.google.com:19302"), "Comma-separated STUN/TURN server URLs")
	flag.DurationVar(&cfg.ReconnectGrace, "reconnect-grace", envDuration("RECONNECT_GRACE", 15*time.Second), "Grace window to resume a dropped voice connection")
	flag.IntVar(&cfg.ControllerSlots, "controller-slots", envInt("CONTROLLER_SLOTS", 4), "Max simultaneous controller-passthrough guests per host")
	flag.Parse()

	cfg.ICEServers = splitAndTrim(iceServers)

	return cfg
}

func splitAndTrim(csv string) []string {
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *Config) EnsureDataDir() error {
	if err := os.MkdirAll(c.DataDir, 0755); err != nil {
		return fmt.Errorf("create data directory %s: %w", c.DataDir, err)
	}
	return nil
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
