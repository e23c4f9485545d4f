// Package proxyconfig holds the proxy's externally-supplied
// configuration (spec.md §6 "Configuration (enumerated)"), kept as its
// own package so the CLI host, the top-level proxy wiring, and tests
// can all depend on the config shape without pulling in the rest of the
// engine.
package proxyconfig

import "time"

// DefaultListenAddress and DefaultListenPort match spec.md §6's default
// listening endpoint (127.0.0.1:7865).
const (
	DefaultListenAddress = "127.0.0.1"
	DefaultListenPort    = 7865
)

// DefaultUpstreamConnectTimeout is the per-attempt origin-connect budget
// spec.md §6 names as the default.
const DefaultUpstreamConnectTimeout = 10 * time.Second

// Config is the proxy's configuration surface, one field per spec.md §6
// row.
type Config struct {
	// ListenAddress is the IPv4/IPv6 bind address.
	ListenAddress string
	// ListenPort is the TCP port; 0 picks an ephemeral port.
	ListenPort int
	// InterceptHttps toggles TLS interception. When false, CONNECT is
	// handled as an opaque tunnel instead.
	InterceptHttps bool
	// CaCertificatePath is the location of the persisted CA container.
	CaCertificatePath string
	// CaPassword is the passphrase for the CA container.
	CaPassword string
	// MaxFlows is the soft cap for the in-memory flow store.
	MaxFlows int
	// UpstreamConnectTimeout is the per-attempt budget for origin TCP
	// connects.
	UpstreamConnectTimeout time.Duration
	// EnableLogging toggles debug logging sink wiring: when true and
	// the caller hasn't supplied its own Log, proxy.New builds a
	// default text logger on os.Stderr instead of a no-op sink.
	EnableLogging bool
	// InsecureSkipVerify skips certificate verification on the
	// origin-facing TLS handshake performed during interception. Not part
	// of the enumerated table in spec.md §6, but threaded through from
	// the teacher's own SslInsecure config field — useful for origins
	// presenting certificates the host's trust store doesn't carry.
	InsecureSkipVerify bool
	// UpstreamProxy, if set, is a proxy URL (socks5://, http://, https://)
	// the origin connector dials through instead of connecting directly.
	UpstreamProxy string
	// MaxHeaderBytes caps header size during HTTP/1.1 parsing; 0 uses
	// httpmsg.DefaultMaxHeaderBytes.
	MaxHeaderBytes int
	// FlowStorePath, if set, also persists every published flow as one
	// JSON file under this directory; the in-memory flow store is kept.
	FlowStorePath string
	// IgnoreHosts, if non-empty, excludes matching CONNECT targets from
	// TLS interception regardless of InterceptHttps. Ignored when
	// AllowHosts is also set. Glob patterns, ported from the teacher's
	// -ignore_hosts flag.
	IgnoreHosts []string
	// AllowHosts, if non-empty, is the only set of CONNECT targets
	// TLS-intercepted; everything else is tunneled opaquely. Takes
	// precedence over IgnoreHosts. Glob patterns, ported from the
	// teacher's -allow_hosts flag.
	AllowHosts []string
	// ProxyAuth, if non-empty, is a "user:pass|user2:pass2" credential
	// list gating every request behind Basic proxy authentication,
	// ported from the teacher's -proxy-auth flag. Empty disables the
	// check.
	ProxyAuth string
}

// WithDefaults returns a copy of c with zero-valued fields replaced by
// spec.md §6's defaults. A zero ListenPort is kept as is, so binding
// picks an ephemeral port; DefaultListenPort is not substituted for it.
func (c Config) WithDefaults() Config {
	if c.ListenAddress == "" {
		c.ListenAddress = DefaultListenAddress
	}
	if c.UpstreamConnectTimeout <= 0 {
		c.UpstreamConnectTimeout = DefaultUpstreamConnectTimeout
	}
	if c.MaxFlows <= 0 {
		c.MaxFlows = 10_000
	}
	return c
}
