// Command wsgiproxd runs the wsgiprox middleware as a standalone intercepting
// proxy in front of a trivial echo handler, mainly useful for manual testing
// and for provisioning the CA root into a client trust store.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/webrecorder/wsgiprox/internal/echo"
	"github.com/webrecorder/wsgiprox/proxy"
	"github.com/webrecorder/wsgiprox/resolvers"
)

func main() {
	addr := flag.String("addr", ":8080", "proxy listen address")
	caRootDir := flag.String("ca-root-dir", "", "directory holding the CA root and minted leaves")
	prefix := flag.String("prefix", "prefix", "path prefix injected ahead of rewritten absolute URLs")
	debug := flag.Bool("debug", false, "enable debug logging")
	dumpCA := flag.Bool("dump-ca", false, "print the CA root certificate in PEM form and exit")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	mw, err := proxy.New(proxy.Config{
		CARootDir: *caRootDir,
		Resolver:  resolvers.Prefix{Prefix: *prefix},
	}, echo.Handler{}, logger)
	if err != nil {
		slog.Error("failed to build wsgiprox middleware", "error", err)
		os.Exit(1)
	}

	if *dumpCA {
		fmt.Print(string(mw.RootCA().RootPEM()))
		return
	}

	slog.Info("wsgiproxd listening", "addr", *addr)
	if err := http.ListenAndServe(*addr, mw); err != nil {
		slog.Error("wsgiproxd exited", "error", err)
		os.Exit(1)
	}
}
