// Teleport
// Copyright (C) 2025 Gravitational, Inc.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Command scimd runs a standalone SCIM provisioning endpoint over the
// reference storage backends. It is primarily a development and
// conformance harness; production deployments embed the library behind
// their own transport.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"

	"github.com/alecthomas/kingpin/v2"
	"github.com/gravitational/trace"

	"github.com/gravitational/scim"
	"github.com/gravitational/scim/lib/backend"
	"github.com/gravitational/scim/lib/backend/lite"
	"github.com/gravitational/scim/lib/backend/memory"
	"github.com/gravitational/scim/lib/handler"
	"github.com/gravitational/scim/lib/server"
	"github.com/gravitational/scim/lib/tenant"
)

func main() {
	app := kingpin.New("scimd", "Standalone SCIM 2.0 provisioning endpoint.")
	listen := app.Flag("listen", "Address to listen on.").Default("127.0.0.1:8181").String()
	baseURL := app.Flag("base-url", "Externally visible base URL.").Default("http://127.0.0.1:8181").String()
	strategy := app.Flag("strategy", "Tenant resolution strategy: single, subdomain or path.").Default(string(tenant.StrategySingle)).String()
	sqlitePath := app.Flag("sqlite", "SQLite database path; keeps resources in memory when unset.").Default("").String()
	debug := app.Flag("debug", "Enable verbose logging.").Bool()
	kingpin.MustParse(app.Parse(os.Args[1:]))

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	logger := slog.With(scim.ComponentKey, scim.Component("scimd"))

	if err := run(context.Background(), runConfig{
		listen:     *listen,
		baseURL:    *baseURL,
		strategy:   tenant.Strategy(*strategy),
		sqlitePath: *sqlitePath,
		logger:     logger,
	}); err != nil {
		logger.Error("scimd terminated", "error", err)
		os.Exit(1)
	}
}

type runConfig struct {
	listen     string
	baseURL    string
	strategy   tenant.Strategy
	sqlitePath string
	logger     *slog.Logger
}

func run(ctx context.Context, cfg runConfig) error {
	var store backend.Backend
	if cfg.sqlitePath != "" {
		lt, err := lite.New(ctx, lite.Config{Path: cfg.sqlitePath})
		if err != nil {
			return trace.Wrap(err)
		}
		store = lt
	} else {
		store = memory.New()
	}
	defer store.Close()

	srv, err := server.NewWithCoreTypes(server.Config{
		Backend:  store,
		BaseURL:  cfg.baseURL,
		Strategy: cfg.strategy,
		Capabilities: server.Capabilities{
			Patch: true,
		},
	})
	if err != nil {
		return trace.Wrap(err)
	}

	h, err := handler.New(handler.Config{Server: srv})
	if err != nil {
		return trace.Wrap(err)
	}

	cfg.logger.InfoContext(ctx, "listening",
		"addr", cfg.listen,
		"base_url", cfg.baseURL,
		"strategy", cfg.strategy,
	)
	return trace.Wrap(http.ListenAndServe(cfg.listen, &httpShim{
		handler:  h,
		strategy: cfg.strategy,
		logger:   cfg.logger,
	}))
}
