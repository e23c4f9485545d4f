// Package proxy wires every component spec.md §2 lists into a single
// runnable engine: acceptor, connection handler, TLS interceptor,
// certificate authority, interceptor pipeline, origin connector, flow
// store, and the flow-event bus, all constructed from a Config.
package proxy

import (
	"context"
	"crypto/x509"
	"log/slog"
	"net"
	"strconv"

	"github.com/snitcher/mitmproxy/acceptor"
	"github.com/snitcher/mitmproxy/cert"
	"github.com/snitcher/mitmproxy/connhandler"
	"github.com/snitcher/mitmproxy/events"
	"github.com/snitcher/mitmproxy/flow"
	"github.com/snitcher/mitmproxy/hostmatch"
	"github.com/snitcher/mitmproxy/interceptor"
	"github.com/snitcher/mitmproxy/internal/logging"
	"github.com/snitcher/mitmproxy/proxyauth"
	"github.com/snitcher/mitmproxy/proxyconfig"
	"github.com/snitcher/mitmproxy/tlsintercept"
	"github.com/snitcher/mitmproxy/upstream"
	"github.com/snitcher/mitmproxy/version"
)

// Options constructs a Proxy. Config is required; every other field has
// a sensible default built from it.
type Options struct {
	Config proxyconfig.Config

	// CA overrides the certificate authority the proxy mints leaf
	// certificates from. If nil, one is loaded/created from
	// Config.CaCertificatePath/CaPassword.
	CA cert.CA

	// Log is the structured logger threaded through every component. If
	// nil, Config.EnableLogging decides the default: a text logger on
	// os.Stderr at info level when true, logging.Nop() otherwise.
	Log logging.Logger

	// RequestInterceptors and ResponseInterceptors are the pipeline's
	// stages; Proxy has no method for adding stages after New.
	RequestInterceptors  []interceptor.RequestInterceptor
	ResponseInterceptors []interceptor.ResponseInterceptor
}

// Proxy is the assembled MITM proxy engine: an Acceptor (bound only
// when Start is called) plus the shared components every accepted
// connection's Handler depends on.
type Proxy struct {
	Version string

	config   proxyconfig.Config
	log      logging.Logger
	ca       cert.CA
	store    *flow.Store
	bus      *events.Bus
	pipeline *interceptor.Pipeline
	handler  *connhandler.Handler
	accept   *acceptor.Acceptor

	busStop chan struct{}
}

// New assembles a Proxy from opts without starting it.
func New(opts Options) (*Proxy, error) {
	cfg := opts.Config.WithDefaults()

	log := opts.Log
	if log == nil {
		if cfg.EnableLogging {
			log = logging.New(nil, slog.LevelInfo)
		} else {
			log = logging.Nop()
		}
	}

	ca := opts.CA
	if ca == nil {
		var err error
		ca, err = cert.GetOrCreateCA(cfg.CaCertificatePath, cfg.CaPassword, log)
		if err != nil {
			return nil, err
		}
	}

	chain, err := upstream.NewChain(cfg.UpstreamProxy)
	if err != nil {
		return nil, err
	}
	connector := upstream.NewConnector(cfg.UpstreamConnectTimeout, chain)

	store := flow.NewStore(cfg.MaxFlows)
	bus := events.New(events.DefaultQueueSize, log)
	pipeline := interceptor.New(log, opts.RequestInterceptors, opts.ResponseInterceptors)

	var auth *proxyauth.BasicAuth
	if cfg.ProxyAuth != "" {
		auth, err = proxyauth.New(cfg.ProxyAuth)
		if err != nil {
			return nil, err
		}
	}

	handler := &connhandler.Handler{
		Connector:          connector,
		Intercept:          tlsintercept.New(ca),
		Pipeline:           pipeline,
		Store:              store,
		Bus:                bus,
		Log:                log,
		InterceptHttps:     cfg.InterceptHttps,
		ShouldIntercept:    hostmatch.Rule(cfg.IgnoreHosts, cfg.AllowHosts),
		InsecureSkipVerify: cfg.InsecureSkipVerify,
		MaxHeaderBytes:     cfg.MaxHeaderBytes,
		ProxyAuth:          auth,
	}

	addr := net.JoinHostPort(cfg.ListenAddress, strconv.Itoa(cfg.ListenPort))

	p := &Proxy{
		Version:  version.Version,
		config:   cfg,
		log:      log,
		ca:       ca,
		store:    store,
		bus:      bus,
		pipeline: pipeline,
		handler:  handler,
		accept:   &acceptor.Acceptor{Addr: addr, Handler: handler, Log: log},
	}

	if cfg.FlowStorePath != "" {
		fileStore, err := flow.NewFileStore(cfg.FlowStorePath, log)
		if err != nil {
			return nil, err
		}
		bus.Subscribe(events.SubscriberFunc(func(f *flow.Flow) {
			if err := fileStore.Store(f); err != nil {
				log.Error("persist flow to file store failed", "id", f.ID, "error", err)
			}
		}))
	}

	return p, nil
}

// Start binds the listener and begins accepting connections and
// publishing flow events. It returns once the listener is bound.
func (p *Proxy) Start() error {
	p.busStop = make(chan struct{})
	go p.bus.Run(p.busStop)

	if err := p.accept.Start(context.Background()); err != nil {
		close(p.busStop)
		return err
	}
	p.log.Info("proxy started", "addr", p.accept.ListenAddr().String(), "version", p.Version)
	return nil
}

// Stop drains outstanding connections and stops the event bus.
func (p *Proxy) Stop() error {
	err := p.accept.Stop()
	if p.busStop != nil {
		close(p.busStop)
	}
	return err
}

// ListenAddr returns the bound listener's address; meaningful only
// after a successful Start.
func (p *Proxy) ListenAddr() net.Addr {
	return p.accept.ListenAddr()
}

// Subscribe registers sub to receive every future FlowCaptured event.
func (p *Proxy) Subscribe(sub events.Subscriber) {
	p.bus.Subscribe(sub)
}

// FlowStore exposes the bounded in-memory flow recorder, e.g. for a UI
// to query captured flows.
func (p *Proxy) FlowStore() *flow.Store {
	return p.store
}

// GetRootCertificate returns the proxy's CA certificate, e.g. for
// exposing a download link so clients can install it as trusted.
func (p *Proxy) GetRootCertificate() *x509.Certificate {
	return p.ca.GetRootCA()
}
