// Package config описывает настройки конечной точки H.323 и их загрузку
// из YAML или из файла в формате ooh323.conf.
package config

import (
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/arzzra/h323ep/pkg/h323/alias"
	"github.com/arzzra/h323ep/pkg/logging"
)

// Режимы использования гейткипера
const (
	GatekeeperNone     = "none"
	GatekeeperDiscover = "discover"
	GatekeeperSpecific = "specific"
)

// Config полная конфигурация конечной точки
type Config struct {
	Endpoint   Endpoint   `yaml:"endpoint"`
	Gatekeeper Gatekeeper `yaml:"gatekeeper"`
	Timeouts   Timeouts   `yaml:"timeouts"`
	Ports      Ports      `yaml:"ports"`
	Media      Media      `yaml:"media"`
	Logging    Logging    `yaml:"logging"`
	Metrics    Metrics    `yaml:"metrics"`
	CDR        CDR        `yaml:"cdr"`
}

// Endpoint идентификация и флаги вызовов
type Endpoint struct {
	Name       string  `yaml:"name"`
	BindAddr   string  `yaml:"bind_addr"`
	SignalPort int     `yaml:"signal_port"`
	Aliases    Aliases `yaml:"aliases"`

	FastStart      bool `yaml:"fast_start"`
	Tunneling      bool `yaml:"tunneling"`
	GkRouted       bool `yaml:"gk_routed"`
	AutoAnswer     bool `yaml:"auto_answer"`
	ManualRingback bool `yaml:"manual_ringback"`
}

// Aliases псевдонимы конечной точки по типам
type Aliases struct {
	H323ID []string `yaml:"h323_id"`
	E164   []string `yaml:"e164"`
	URL    []string `yaml:"url"`
	Email  []string `yaml:"email"`
}

// List псевдонимы в порядке h323-id, e164, url, email
func (a Aliases) List() alias.List {
	var l alias.List
	add := func(t alias.Type, values []string) {
		for _, v := range values {
			if v = strings.TrimSpace(v); v != "" {
				l = append(l, alias.Alias{Type: t, Value: v})
			}
		}
	}
	add(alias.H323ID, a.H323ID)
	add(alias.DialedDigits, a.E164)
	add(alias.URLID, a.URL)
	add(alias.EmailID, a.Email)
	return l
}

// Gatekeeper параметры клиента RAS
type Gatekeeper struct {
	Mode         string        `yaml:"mode"`
	Address      string        `yaml:"address"` // host[:port] для specific
	GatekeeperID string        `yaml:"id"`
	RASPort      int           `yaml:"ras_port"` // 0 - порт из диапазона UDP
	TTL          time.Duration `yaml:"ttl"`
	TTLOffset    time.Duration `yaml:"ttl_offset"`
	MaxRetries   int           `yaml:"max_retries"`
	GRQTimeout   time.Duration `yaml:"grq_timeout"`
	RRQTimeout   time.Duration `yaml:"rrq_timeout"`
	ARQTimeout   time.Duration `yaml:"arq_timeout"`
	DRQTimeout   time.Duration `yaml:"drq_timeout"`
}

// Timeouts таймауты процедур вызова
type Timeouts struct {
	CallEstablishment   time.Duration `yaml:"call_establishment"`
	MSD                 time.Duration `yaml:"msd"`
	TCS                 time.Duration `yaml:"tcs"`
	LogicalChannel      time.Duration `yaml:"logical_channel"`
	EndSession          time.Duration `yaml:"end_session"`
	H245ConnectDelay    time.Duration `yaml:"h245_connect_delay"`
	H245ConnectAttempts int           `yaml:"h245_connect_attempts"`
	PartialWait         time.Duration `yaml:"partial_wait"`
	PollInterval        time.Duration `yaml:"poll_interval"`
	EmptyLoopLimit      time.Duration `yaml:"empty_loop_limit"`
}

// Range диапазон портов
type Range struct {
	Start int `yaml:"start"`
	Max   int `yaml:"max"`
}

func (r Range) String() string { return fmt.Sprintf("%d-%d", r.Start, r.Max) }

// Ports диапазоны портов TCP, UDP и RTP
type Ports struct {
	TCP Range `yaml:"tcp"`
	UDP Range `yaml:"udp"`
	RTP Range `yaml:"rtp"`
}

// Media медиа возможности
type Media struct {
	Codecs    []string      `yaml:"codecs"`
	Bandwidth uint32        `yaml:"bandwidth"`
	Ptime     time.Duration `yaml:"ptime"`
	TOS       int           `yaml:"tos"`
}

// Logging параметры логгера
type Logging struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// Options параметры для logging.New
func (l Logging) Options() logging.Options {
	return logging.Options{
		Level:      l.Level,
		Format:     l.Format,
		File:       l.File,
		MaxSizeMB:  l.MaxSizeMB,
		MaxBackups: l.MaxBackups,
		MaxAgeDays: l.MaxAgeDays,
	}
}

// Metrics HTTP экспорт метрик
type Metrics struct {
	Enabled   bool   `yaml:"enabled"`
	Listen    string `yaml:"listen"`
	Namespace string `yaml:"namespace"`
}

// CDR хранилище записей о вызовах; пустой путь отключает запись
type CDR struct {
	Path string `yaml:"path"`
}

// Default конфигурация по умолчанию
func Default() *Config {
	return &Config{
		Endpoint: Endpoint{
			Name:       "h323ep",
			BindAddr:   "0.0.0.0",
			SignalPort: 1720,
			Aliases:    Aliases{H323ID: []string{"h323ep"}},
			FastStart:  true,
			Tunneling:  true,
		},
		Gatekeeper: Gatekeeper{
			Mode:       GatekeeperNone,
			TTL:        300 * time.Second,
			TTLOffset:  20 * time.Second,
			MaxRetries: 3,
			GRQTimeout: 15 * time.Second,
			RRQTimeout: 10 * time.Second,
			ARQTimeout: 5 * time.Second,
			DRQTimeout: 5 * time.Second,
		},
		Timeouts: Timeouts{
			CallEstablishment:   60 * time.Second,
			MSD:                 30 * time.Second,
			TCS:                 30 * time.Second,
			LogicalChannel:      30 * time.Second,
			EndSession:          15 * time.Second,
			H245ConnectDelay:    2 * time.Second,
			H245ConnectAttempts: 3,
			PartialWait:         3 * time.Second,
			PollInterval:        2100 * time.Millisecond,
			EmptyLoopLimit:      10 * time.Second,
		},
		Ports: Ports{
			TCP: Range{Start: 12000, Max: 62230},
			UDP: Range{Start: 13030, Max: 13230},
			RTP: Range{Start: 14030, Max: 14230},
		},
		Media: Media{
			Codecs:    []string{"g711ulaw", "g711alaw"},
			Bandwidth: 1280,
			Ptime:     20 * time.Millisecond,
		},
		Logging: Logging{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  100,
			MaxBackups: 1,
		},
		Metrics: Metrics{
			Listen:    ":9464",
			Namespace: "h323",
		},
	}
}

var knownCodecs = map[string]bool{"g711ulaw": true, "g711alaw": true}

// Validate проверяет значения конфигурации
func (c *Config) Validate() error {
	if _, err := netip.ParseAddr(c.Endpoint.BindAddr); err != nil {
		return fmt.Errorf("invalid bind address %q: %w", c.Endpoint.BindAddr, err)
	}
	if c.Endpoint.SignalPort < 0 || c.Endpoint.SignalPort > 65535 {
		return fmt.Errorf("invalid signalling port: %d (must be 0-65535)", c.Endpoint.SignalPort)
	}
	if len(c.Endpoint.Aliases.List()) == 0 {
		return fmt.Errorf("at least one alias is required")
	}

	switch c.Gatekeeper.Mode {
	case GatekeeperNone, GatekeeperDiscover:
	case GatekeeperSpecific:
		if strings.TrimSpace(c.Gatekeeper.Address) == "" {
			return fmt.Errorf("gatekeeper address is required in specific mode")
		}
	default:
		return fmt.Errorf("invalid gatekeeper mode %q (must be none, discover or specific)", c.Gatekeeper.Mode)
	}
	if c.Gatekeeper.MaxRetries < 0 {
		return fmt.Errorf("invalid gatekeeper max retries: %d", c.Gatekeeper.MaxRetries)
	}
	if c.Gatekeeper.RASPort < 0 || c.Gatekeeper.RASPort > 65535 {
		return fmt.Errorf("invalid RAS port: %d (must be 0-65535)", c.Gatekeeper.RASPort)
	}

	timeouts := map[string]time.Duration{
		"call establishment": c.Timeouts.CallEstablishment,
		"msd":                c.Timeouts.MSD,
		"tcs":                c.Timeouts.TCS,
		"logical channel":    c.Timeouts.LogicalChannel,
		"end session":        c.Timeouts.EndSession,
		"poll interval":      c.Timeouts.PollInterval,
	}
	for name, d := range timeouts {
		if d <= 0 {
			return fmt.Errorf("%s timeout must be positive, got %s", name, d)
		}
	}

	for name, r := range map[string]Range{"tcp": c.Ports.TCP, "udp": c.Ports.UDP, "rtp": c.Ports.RTP} {
		if r.Start <= 0 || r.Max > 65535 || r.Start > r.Max {
			return fmt.Errorf("invalid %s port range %s", name, r)
		}
	}
	if c.Ports.RTP.Max-c.Ports.RTP.Start < 1 {
		return fmt.Errorf("rtp port range %s must hold at least one even/odd pair", c.Ports.RTP)
	}

	if len(c.Media.Codecs) == 0 {
		return fmt.Errorf("at least one codec is required")
	}
	for _, name := range c.Media.Codecs {
		if !knownCodecs[name] {
			return fmt.Errorf("unsupported codec %q", name)
		}
	}

	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return err
	}
	if c.Metrics.Enabled && strings.TrimSpace(c.Metrics.Listen) == "" {
		return fmt.Errorf("metrics listen address is required when metrics are enabled")
	}
	return nil
}
