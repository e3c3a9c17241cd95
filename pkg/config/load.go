package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	ini "gopkg.in/ini.v1"
	"gopkg.in/yaml.v3"
)

// Load читает файл конфигурации. Формат выбирается по расширению:
// .yaml/.yml или .conf/.ini (формат ooh323.conf).
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg *Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		cfg, err = ParseYAML(data)
	case ".conf", ".ini":
		cfg, err = ParseINI(data)
	default:
		return nil, fmt.Errorf("unknown config format %q", filepath.Ext(path))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// ParseYAML разбирает YAML поверх значений по умолчанию
func ParseYAML(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return cfg, nil
}

// ParseINI разбирает файл в формате ooh323.conf. Используются ключи
// секции [general]; таймауты можно задать в секции [timeouts].
func ParseINI(data []byte) (*Config, error) {
	f, err := ini.LoadSources(ini.LoadOptions{AllowShadows: true, Insensitive: true}, data)
	if err != nil {
		return nil, err
	}
	cfg := Default()

	sec := f.Section("general")
	ep := &cfg.Endpoint
	ep.BindAddr = sec.Key("bindaddr").MustString(ep.BindAddr)
	ep.SignalPort = sec.Key("port").MustInt(ep.SignalPort)
	ep.Name = sec.Key("callerid").MustString(ep.Name)
	ep.FastStart = sec.Key("faststart").MustBool(ep.FastStart)
	ep.Tunneling = sec.Key("h245tunneling").MustBool(ep.Tunneling)
	ep.GkRouted = sec.Key("gkrouted").MustBool(ep.GkRouted)
	ep.AutoAnswer = sec.Key("autoanswer").MustBool(ep.AutoAnswer)
	ep.ManualRingback = sec.Key("manualringback").MustBool(ep.ManualRingback)

	aliases := Aliases{
		H323ID: shadows(sec, "h323id"),
		E164:   shadows(sec, "e164"),
		URL:    shadows(sec, "url"),
		Email:  shadows(sec, "email"),
	}
	if len(aliases.List()) > 0 {
		ep.Aliases = aliases
	}

	if sec.HasKey("gatekeeper") {
		gk := strings.TrimSpace(sec.Key("gatekeeper").String())
		switch strings.ToUpper(gk) {
		case "", "DISABLE":
			cfg.Gatekeeper.Mode = GatekeeperNone
		case "DISCOVER":
			cfg.Gatekeeper.Mode = GatekeeperDiscover
		default:
			cfg.Gatekeeper.Mode = GatekeeperSpecific
			cfg.Gatekeeper.Address = gk
		}
	}
	cfg.Gatekeeper.GatekeeperID = sec.Key("gatekeeperid").MustString(cfg.Gatekeeper.GatekeeperID)
	cfg.Gatekeeper.TTL = sec.Key("ttl").MustDuration(cfg.Gatekeeper.TTL)

	for key, r := range map[string]*Range{"h225portrange": &cfg.Ports.TCP, "udpportrange": &cfg.Ports.UDP, "rtpportrange": &cfg.Ports.RTP} {
		if !sec.HasKey(key) {
			continue
		}
		parsed, err := parseRange(sec.Key(key).String())
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		*r = parsed
	}

	if codecs := allowedCodecs(sec); len(codecs) > 0 {
		cfg.Media.Codecs = codecs
	}
	cfg.Media.Bandwidth = uint32(sec.Key("bandwidth").MustUint(uint(cfg.Media.Bandwidth)))

	cfg.Logging.File = sec.Key("logfile").MustString(cfg.Logging.File)
	if sec.HasKey("tracelevel") {
		cfg.Logging.Level = traceLevel(sec.Key("tracelevel").MustInt(3))
	}

	t := f.Section("timeouts")
	to := &cfg.Timeouts
	to.CallEstablishment = t.Key("callestablishment").MustDuration(to.CallEstablishment)
	to.MSD = t.Key("msd").MustDuration(to.MSD)
	to.TCS = t.Key("tcs").MustDuration(to.TCS)
	to.LogicalChannel = t.Key("logicalchannel").MustDuration(to.LogicalChannel)
	to.EndSession = t.Key("endsession").MustDuration(to.EndSession)
	to.H245ConnectDelay = t.Key("h245connectdelay").MustDuration(to.H245ConnectDelay)
	to.H245ConnectAttempts = t.Key("h245connectattempts").MustInt(to.H245ConnectAttempts)

	m := f.Section("metrics")
	cfg.Metrics.Enabled = m.Key("enabled").MustBool(cfg.Metrics.Enabled)
	cfg.Metrics.Listen = m.Key("listen").MustString(cfg.Metrics.Listen)

	cfg.CDR.Path = f.Section("cdr").Key("path").MustString(cfg.CDR.Path)
	return cfg, nil
}

func shadows(sec *ini.Section, name string) []string {
	if !sec.HasKey(name) {
		return nil
	}
	var out []string
	for _, v := range sec.Key(name).ValueWithShadows() {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// parseRange разбирает "start,max" или "start-max"
func parseRange(s string) (Range, error) {
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == '-' || r == ' ' })
	if len(parts) != 2 {
		return Range{}, fmt.Errorf("invalid port range %q", s)
	}
	start, err := strconv.Atoi(parts[0])
	if err != nil {
		return Range{}, fmt.Errorf("invalid port range %q: %w", s, err)
	}
	end, err := strconv.Atoi(parts[1])
	if err != nil {
		return Range{}, fmt.Errorf("invalid port range %q: %w", s, err)
	}
	return Range{Start: start, Max: end}, nil
}

// allowedCodecs кодеки из ключей allow; disallow=all подразумевается
func allowedCodecs(sec *ini.Section) []string {
	if !sec.HasKey("allow") {
		return nil
	}
	names := map[string]string{"ulaw": "g711ulaw", "alaw": "g711alaw", "g711ulaw": "g711ulaw", "g711alaw": "g711alaw"}
	var codecs []string
	for _, v := range sec.Key("allow").ValueWithShadows() {
		for _, c := range strings.Split(v, ",") {
			if name, ok := names[strings.ToLower(strings.TrimSpace(c))]; ok {
				codecs = append(codecs, name)
			}
		}
	}
	return codecs
}

// traceLevel переводит tracelevel ooh323 в уровень логгера
func traceLevel(n int) string {
	switch {
	case n <= 1:
		return "error"
	case n == 2:
		return "warn"
	case n == 3:
		return "info"
	case n == 4:
		return "debug"
	}
	return "trace"
}
