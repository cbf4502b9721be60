package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/germanamz/proposer/pkg/control"
	"github.com/germanamz/proposer/pkg/tools/mcpserver"
	"github.com/germanamz/proposer/pkg/tools/toolbox"
)

const shutdownTimeout = 10 * time.Second

func runServe(args []string) error {
	var g globalFlags
	fs := newFlagSet("serve", "serve [flags]", &g)
	addr := fs.String("addr", "127.0.0.1:8787", "listen address for the control API")
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := openApp(g, os.Stderr)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rt, err := a.newRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()
	defer stopOnSignal(ctx, cancel, rt.ctrl, a.log)()

	hub := control.NewHub(rt.ctrl, a.log)
	srv := &http.Server{
		Addr:              *addr,
		Handler:           control.Router(rt.ctrl, hub),
		ReadHeaderTimeout: 10 * time.Second,
	}

	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		hub.Run(egCtx)
		return nil
	})

	eg.Go(func() error {
		a.log.Info("control API listening", "addr", *addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	eg.Go(func() error {
		<-egCtx.Done()
		shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
		defer done()
		return srv.Shutdown(shutdownCtx)
	})

	return eg.Wait()
}

func runMCP(args []string) error {
	var g globalFlags
	fs := newFlagSet("mcp", "mcp [flags]", &g)
	readOnly := fs.Bool("read-only", false, "expose only status, template listing, and incident tools")
	only := fs.String("tools", "", "comma-separated tool names to expose (default all)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	// stdout carries the protocol; logs must stay on stderr.
	a, err := openApp(g, os.Stderr)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rt, err := a.newRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()
	defer stopOnSignal(ctx, cancel, rt.ctrl, a.log)()

	tools, err := selectTools(rt.ctrl.Tools(), *readOnly, *only)
	if err != nil {
		return err
	}

	srv := mcpserver.New("proposer", version, a.log)
	srv.RegisterBox(tools)

	a.log.Info("serving MCP on stdio", "tools", len(tools.Tools()), "read_only", *readOnly)

	if err := srv.ServeStdio(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// selectTools narrows tb to the read-only set and then to the comma-separated
// names in only, when given.
func selectTools(tb *toolbox.ToolBox, readOnly bool, only string) (*toolbox.ToolBox, error) {
	if readOnly {
		tb = tb.ReadOnly()
	}
	if strings.TrimSpace(only) == "" {
		return tb, nil
	}

	var names []string
	for n := range strings.SplitSeq(only, ",") {
		if n = strings.TrimSpace(n); n != "" {
			names = append(names, n)
		}
	}
	return tb.Filter(names...)
}
