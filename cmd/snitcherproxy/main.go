// Command snitcherproxy runs the intercepting HTTP/HTTPS proxy as a
// standalone process.
package main

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"

	"github.com/snitcher/mitmproxy/internal/logging"
	"github.com/snitcher/mitmproxy/proxy"
	"github.com/snitcher/mitmproxy/proxyconfig"
)

func main() {
	config := loadConfig()

	level := slog.LevelInfo
	addSource := false
	if config.Debug {
		level = slog.LevelDebug
		addSource = true
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level:     level,
		AddSource: addSource,
	}))
	slog.SetDefault(logger)
	log := logging.FromSlog(logger)

	host, portStr, err := net.SplitHostPort(config.Addr)
	if err != nil {
		slog.Error("invalid -addr", "addr", config.Addr, "error", err)
		os.Exit(1)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		slog.Error("invalid -addr port", "addr", config.Addr, "error", err)
		os.Exit(1)
	}

	p, err := proxy.New(proxy.Options{
		Config: proxyconfig.Config{
			ListenAddress:      host,
			ListenPort:         port,
			InterceptHttps:     config.InterceptHttps,
			CaCertificatePath:  config.CertPath,
			CaPassword:         config.CaPassword,
			MaxFlows:           config.MaxFlows,
			InsecureSkipVerify: config.InsecureSkipVerify,
			UpstreamProxy:      config.Upstream,
			FlowStorePath:      config.FlowStorePath,
			IgnoreHosts:        config.IgnoreHosts,
			AllowHosts:         config.AllowHosts,
			ProxyAuth:          config.ProxyAuth,
		},
		Log: log,
	})
	if err != nil {
		slog.Error("failed to create proxy", "error", err)
		os.Exit(1)
	}

	if config.version {
		fmt.Println("snitcherproxy: " + p.Version)
		os.Exit(0)
	}

	if err := p.Start(); err != nil {
		slog.Error("proxy failed to start", "error", err)
		os.Exit(1)
	}

	slog.Info("snitcherproxy started", "addr", p.ListenAddr().String(), "version", p.Version)
	select {}
}
