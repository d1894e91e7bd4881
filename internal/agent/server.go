package agent

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/wesleyorama2/swarm/internal/rpc"
)

// StatusInterval is how often a running agent sends a status snapshot.
var StatusInterval = 5 * time.Second

// Router serves the agent's rpc methods.
func (a *Agent) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	rpc.Mount(r, rpc.MethodSetup, func(ctx context.Context, req rpc.SetupRequest) (rpc.Ack, error) {
		if err := a.Setup(ctx, req); err != nil {
			return rpc.Ack{}, err
		}
		return rpc.Ack{OK: true}, nil
	})
	rpc.Mount(r, rpc.MethodExecute, func(ctx context.Context, req rpc.ExecuteRequest) (rpc.Ack, error) {
		if err := a.Execute(ctx, req); err != nil {
			return rpc.Ack{}, err
		}
		return rpc.Ack{OK: true}, nil
	})
	rpc.Mount(r, rpc.MethodCancel, func(ctx context.Context, req rpc.CancelRequest) (rpc.Ack, error) {
		return rpc.Ack{OK: true}, a.Cancel(ctx, req)
	})
	rpc.Mount(r, rpc.MethodTeardown, func(ctx context.Context, req rpc.TeardownRequest) (rpc.Ack, error) {
		if err := a.Teardown(ctx, req); err != nil {
			return rpc.Ack{}, err
		}
		return rpc.Ack{OK: true}, nil
	})
	rpc.Mount(r, rpc.MethodPing, func(ctx context.Context, req rpc.PingRequest) (rpc.Ack, error) {
		return rpc.Ack{OK: true}, a.Ping(ctx, req)
	})
	return r
}

// Registrar announces the agent to the monitor.
type Registrar interface {
	Register(ctx context.Context, info rpc.AgentInfo) (bool, error)
}

// StatusSender delivers operations snapshots.
type StatusSender interface {
	Status(ctx context.Context, snapshot any) error
}

// Serve listens on host:port (port 0 picks a free port), registers with the
// monitor and serves until ctx is done. Instances are torn down on return.
func (a *Agent) Serve(ctx context.Context, host string, port int, registrar Registrar) error {
	ln, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	port = ln.Addr().(*net.TCPAddr).Port

	srv := &http.Server{Handler: a.Router(), ReadHeaderTimeout: 10 * time.Second}
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Serve(ln)
	}()

	hostname, _ := os.Hostname()
	// a wildcard listener advertises loopback; the monitor swaps in the
	// address the registration came from when that is not loopback
	advertise := host
	if advertise == "" || advertise == "0.0.0.0" || advertise == "::" {
		advertise = "127.0.0.1"
	}
	info := rpc.AgentInfo{
		ID:       a.id,
		Hostname: hostname,
		Port:     port,
		PID:      os.Getpid(),
		URL:      "http://" + net.JoinHostPort(advertise, strconv.Itoa(port)),
	}

	accepted, err := registrar.Register(ctx, info)
	switch {
	case err != nil:
		_ = srv.Close()
		return fmt.Errorf("failed to register with monitor: %w", err)
	case !accepted:
		a.logger.Warn("monitor fleet is full, shutting down")
		_ = srv.Close()
		return nil
	}
	a.logger.Info("registered with monitor", zap.String("url", info.URL))

	if sender, ok := registrar.(StatusSender); ok {
		go a.reportStatus(ctx, sender)
	}

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	return a.Close(shutdownCtx)
}

func (a *Agent) reportStatus(ctx context.Context, sender StatusSender) {
	ticker := time.NewTicker(StatusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := a.Snapshot()
			if !snap.Running {
				continue
			}
			if err := sender.Status(ctx, snap); err != nil {
				a.logger.Debug("failed to send status", zap.Error(err))
			}
		}
	}
}
