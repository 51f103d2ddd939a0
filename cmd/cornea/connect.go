package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/cornea-tools/cornea/internal/catalog"
	"github.com/cornea-tools/cornea/internal/events"
	"github.com/cornea-tools/cornea/internal/iriserr"
	"github.com/cornea-tools/cornea/internal/logging"
	"github.com/cornea-tools/cornea/internal/rpc"
	"github.com/cornea-tools/cornea/internal/transport"
)

// fallbackPorts are tried in order when no port is pinned down by a flag
// or environment variable.
var fallbackPorts = []int{7100, 7101, 7102, 7103, 7104}

// portFlag is set by --port on the root command; zero means unset.
var portFlag int

// session bundles the objects every subcommand needs: the RPC client, the
// event router wired as its callback sink, and the catalog built on top
// of it. Exactly one session exists per process invocation; there is no
// connection pooling or reconnect, since a dropped Iris socket means the
// simulator itself went away.
type session struct {
	tr     *transport.Transport
	client *rpc.Client
	router *events.Router
	cat    *catalog.Catalog
	selfID uint32
}

func (s *session) Close() error {
	s.router.CloseAll()
	return s.client.Close()
}

// connect dials the Iris server and performs the one-time client
// registration every subcommand needs before touching the instance tree.
func connect(ctx context.Context) (*session, error) {
	host := os.Getenv("CORNEA_IRIS_HOST")
	if host == "" {
		host = "127.0.0.1"
	}

	ports := fallbackPorts
	if portFlag != 0 {
		ports = []int{portFlag}
	} else if p := os.Getenv("CORNEA_IRIS_PORT"); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid CORNEA_IRIS_PORT %q: %w", p, err)
		}
		ports = []int{port}
	}

	var tr *transport.Transport
	var lastErr error
	for _, port := range ports {
		addr := net.JoinHostPort(host, strconv.Itoa(port))
		t, err := transport.Dial(ctx, addr)
		if err == nil {
			tr = t
			break
		}
		lastErr = err
	}
	if tr == nil {
		return nil, iriserr.Wrap(iriserr.KindDisconnected, fmt.Sprintf("no Iris server found on %s", host), lastErr)
	}
	logging.LogConnection(tr.Addr(), "connected")

	router := events.New()
	client := rpc.New(tr, 0, router)

	selfID, err := client.RegisterInstance(ctx, "cornea")
	if err != nil {
		_ = client.Close()
		return nil, err
	}

	return &session{
		tr:     tr,
		client: client,
		router: router,
		cat:    catalog.New(client),
		selfID: selfID,
	}, nil
}
