package main

import (
	"flag"
	"strings"
)

// cliConfig mirrors the teacher's cmd/go-mitmproxy Config: one field per
// flag, loaded once at startup.
type cliConfig struct {
	version bool

	Addr               string
	InterceptHttps     bool
	InsecureSkipVerify bool
	IgnoreHosts        stringListFlag
	AllowHosts         stringListFlag
	CertPath           string
	CaPassword         string
	Debug              bool
	Upstream           string
	MaxFlows           int
	FlowStorePath      string
	ProxyAuth          string
}

// stringListFlag accumulates repeated -ignore_hosts/-allow_hosts flags,
// or a single comma-separated value, into a []string.
type stringListFlag []string

func (f *stringListFlag) String() string { return strings.Join(*f, ",") }

func (f *stringListFlag) Set(value string) error {
	*f = append(*f, strings.Split(value, ",")...)
	return nil
}

func loadConfig() *cliConfig {
	config := new(cliConfig)
	flag.BoolVar(&config.version, "version", false, "show snitcherproxy version")
	flag.StringVar(&config.Addr, "addr", "127.0.0.1:7865", "proxy listen address")
	flag.BoolVar(&config.InterceptHttps, "intercept_https", true, "intercept and decrypt HTTPS traffic")
	flag.BoolVar(&config.InsecureSkipVerify, "ssl_insecure", false, "don't verify upstream server TLS certificates")
	flag.Var(&config.IgnoreHosts, "ignore_hosts", "comma-separated glob patterns of hosts to exclude from interception")
	flag.Var(&config.AllowHosts, "allow_hosts", "comma-separated glob patterns of hosts to exclusively intercept")
	flag.StringVar(&config.CertPath, "cert_path", "", "path to the CA container; generated there if missing")
	flag.StringVar(&config.CaPassword, "ca_password", "", "passphrase for the CA container")
	flag.BoolVar(&config.Debug, "debug", false, "enable debug logging")
	flag.StringVar(&config.Upstream, "upstream", "", "upstream proxy URL (socks5://, http://, https://)")
	flag.IntVar(&config.MaxFlows, "max_flows", 0, "soft cap on the in-memory flow store (0 uses the default)")
	flag.StringVar(&config.FlowStorePath, "flow_store", "", "directory to persist one JSON file per flow; empty disables file persistence")
	flag.StringVar(&config.ProxyAuth, "proxy_auth", "", `require Basic proxy authentication, "user:pass|user2:pass2"; empty disables the check`)
	flag.Parse() //revive:disable-line:deep-exit -- ok for cmd/*
	return config
}
