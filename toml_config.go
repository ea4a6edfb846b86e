package main

import (
	"fmt"
	"net"
	"time"

	"github.com/BurntSushi/toml"
)

// tomlPeer is the on-disk shape of a peer entry; Remote is optional
// (omitted => floating peer, spec §6 Configuration inputs).
type tomlPeer struct {
	Name      string `toml:"name"`
	Remote    string `toml:"remote"`
	PublicKey string `toml:"public_key"`
}

// tomlConfig is the on-disk configuration file shape, parsed with
// BurntSushi/toml and resolved into a Config for NewDevice. Parsing itself
// is confined to this file; the core only ever consumes a resolved Config
// (spec §6).
type tomlConfig struct {
	Interface        string     `toml:"interface"`
	Mode             string     `toml:"mode"`
	MTU              uint16     `toml:"mtu"`
	Bind             []string   `toml:"bind"`
	SecureHandshakes bool       `toml:"secure_handshakes"`
	PrivateKey       string     `toml:"private_key"`
	Methods          []string   `toml:"methods"`
	LogLevel         string     `toml:"log_level"`
	PeerStaleTime    string     `toml:"peer_stale_time"`
	PeerStaleTimeTemp string    `toml:"peer_stale_time_temp"`
	EthAddrStaleTime string     `toml:"eth_addr_stale_time"`
	KeyValid         string     `toml:"key_valid"`
	KeyValidOld      string     `toml:"key_valid_old"`
	Peers            []tomlPeer `toml:"peer"`
}

func parseDuration(s, fallback string) (time.Duration, error) {
	if s == "" {
		s = fallback
	}
	return time.ParseDuration(s)
}

// LoadConfig reads and resolves a TOML configuration file into a Config
// ready for NewDevice.
func LoadConfig(path string) (*Config, error) {
	var raw tomlConfig
	if _, err := toml.DecodeFile(path, &raw); err != nil {
		return nil, fmt.Errorf("fastd-go: failed to parse config: %w", err)
	}

	cfg := &Config{
		InterfaceName:    raw.Interface,
		MTU:              raw.MTU,
		SecureHandshakes: raw.SecureHandshakes,
		methodNames:      raw.Methods,
	}

	switch raw.Mode {
	case "", "tap":
		cfg.Mode = ModeTAP
	case "tun":
		cfg.Mode = ModeTUN
	default:
		return nil, fmt.Errorf("fastd-go: unknown mode %q", raw.Mode)
	}

	cfg.LogLevel = logLevelFromString(raw.LogLevel)

	if raw.PrivateKey == "" {
		return nil, fmt.Errorf("fastd-go: private_key is required")
	}
	priv, err := DecodeKey(raw.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("fastd-go: invalid private_key: %w", err)
	}
	cfg.PrivateKey = priv

	for _, b := range raw.Bind {
		addr, err := net.ResolveUDPAddr("udp", b)
		if err != nil {
			return nil, fmt.Errorf("fastd-go: invalid bind address %q: %w", b, err)
		}
		if addr.IP == nil || addr.IP.To4() != nil {
			cfg.BindV4 = addr
		} else {
			cfg.BindV6 = addr
		}
	}

	for _, p := range raw.Peers {
		pc := &PeerConfig{Name: p.Name}
		if p.Remote != "" {
			udpAddr, err := net.ResolveUDPAddr("udp", p.Remote)
			if err != nil {
				return nil, fmt.Errorf("fastd-go: invalid remote for peer %q: %w", p.Name, err)
			}
			remote := PeerAddrFromUDP(udpAddr)
			pc.Remote = &remote
		}
		key, err := DecodeKey(p.PublicKey)
		if err != nil {
			return nil, fmt.Errorf("fastd-go: invalid public_key for peer %q: %w", p.Name, err)
		}
		pc.PublicKey = key
		cfg.Peers = append(cfg.Peers, pc)
	}

	if cfg.PeerStaleTime, err = parseDuration(raw.PeerStaleTime, "300s"); err != nil {
		return nil, err
	}
	if cfg.PeerStaleTimeTemp, err = parseDuration(raw.PeerStaleTimeTemp, "30s"); err != nil {
		return nil, err
	}
	if cfg.EthAddrStaleTime, err = parseDuration(raw.EthAddrStaleTime, "600s"); err != nil {
		return nil, err
	}
	if cfg.KeyValid, err = parseDuration(raw.KeyValid, "3600s"); err != nil {
		return nil, err
	}
	if cfg.KeyValidOld, err = parseDuration(raw.KeyValidOld, "60s"); err != nil {
		return nil, err
	}

	return cfg, nil
}

func logLevelFromString(s string) LogLevel {
	switch s {
	case "debug":
		return LogLevelDebug
	case "warn":
		return LogLevelWarn
	case "error":
		return LogLevelError
	case "silent":
		return LogLevelSilent
	default:
		return LogLevelInfo
	}
}
