// Package server assembles the chat service from its parts: the data-backed
// runtime, the TCP chat adapter, the UDP discovery responder, and the HTTP
// API server. It owns startup order and graceful shutdown.
package server

import (
	"context"
	"fmt"

	"github.com/lanchat/lanchat/internal/logger"
	"github.com/lanchat/lanchat/pkg/adapter"
	"github.com/lanchat/lanchat/pkg/adapter/chat"
	"github.com/lanchat/lanchat/pkg/adapter/discovery"
	"github.com/lanchat/lanchat/pkg/api"
	"github.com/lanchat/lanchat/pkg/config"
	"github.com/lanchat/lanchat/pkg/metrics"
	"github.com/lanchat/lanchat/pkg/multicast"
	"github.com/lanchat/lanchat/pkg/runtime"
)

// Server is the assembled chat service.
type Server struct {
	cfg *config.Config
	rt  *runtime.Runtime

	chat      *chat.ChatAdapter
	discovery *discovery.Responder
	apiServer *api.Server
}

// New builds a server from configuration.
//
// Metrics are initialized here (when enabled) so every collector constructed
// afterwards registers against the live registry.
func New(cfg *config.Config) (*Server, error) {
	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
	}

	rt, err := runtime.New(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("server: %w", err)
	}

	chatMetrics := metrics.NewChatMetrics()

	chatAdapter := chat.New(chat.Config{
		BaseConfig: adapter.BaseConfig{
			BindAddress:     cfg.Server.BindAddress,
			Port:            cfg.Server.Port,
			MaxConnections:  cfg.Server.MaxConnections,
			ShutdownTimeout: cfg.Server.ShutdownTimeout,
		},
	}, multicast.NewUDPSender(), chatMetrics, chatMetrics)
	chatAdapter.SetRuntime(rt)

	s := &Server{
		cfg:  cfg,
		rt:   rt,
		chat: chatAdapter,
	}

	if cfg.Discovery.Enabled {
		s.discovery = discovery.New(discovery.Config{
			GroupAddress: cfg.Discovery.Address,
			Port:         cfg.Discovery.Port,
			ChatPort:     cfg.Server.Port,
		}, chatMetrics)
	}

	if cfg.API.Enabled {
		s.apiServer = api.NewServer(api.Config{
			Port:         cfg.API.Port,
			ReadTimeout:  cfg.API.ReadTimeout,
			WriteTimeout: cfg.API.WriteTimeout,
			IdleTimeout:  cfg.API.IdleTimeout,
		}, rt)
	}

	return s, nil
}

// Runtime returns the server's shared runtime.
func (s *Server) Runtime() *runtime.Runtime {
	return s.rt
}

// ChatAdapter returns the TCP chat adapter.
func (s *Server) ChatAdapter() *chat.ChatAdapter {
	return s.chat
}

// Serve runs all components until the context is cancelled or one of them
// fails. A component failure shuts the rest down; cancellation is a clean
// stop and returns nil.
func (s *Server) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	logger.Info("Starting chat server",
		"chat_port", s.cfg.Server.Port,
		"data_dir", s.cfg.Storage.DataDir,
	)

	errChan := make(chan error, 3)

	go func() {
		if err := s.chat.Serve(ctx); err != nil {
			errChan <- fmt.Errorf("chat adapter: %w", err)
			return
		}
		errChan <- nil
	}()

	// The chat listener must be up before discovery advertises its port.
	select {
	case <-s.chat.ListenerReady:
	case <-ctx.Done():
		return nil
	}

	if s.discovery != nil {
		logger.Info("Discovery responder enabled",
			"group", s.cfg.Discovery.Address,
			"port", s.cfg.Discovery.Port,
		)
		go func() {
			if err := s.discovery.Serve(ctx); err != nil {
				errChan <- fmt.Errorf("discovery responder: %w", err)
			}
		}()
	}

	if s.apiServer != nil {
		go func() {
			if err := s.apiServer.Start(ctx); err != nil {
				errChan <- fmt.Errorf("api server: %w", err)
			}
		}()
	}

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-errChan:
		if err != nil {
			logger.Error("Component failed, shutting down", "error", err)
			serveErr = err
		}
	}

	cancel()
	s.shutdown()
	logger.Info("Chat server stopped")
	return serveErr
}

// shutdown stops all components, draining chat connections within the
// configured timeout.
func (s *Server) shutdown() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()

	if s.discovery != nil {
		if err := s.discovery.Stop(shutdownCtx); err != nil {
			logger.Warn("Discovery responder stop error", "error", err)
		}
	}
	if s.apiServer != nil {
		if err := s.apiServer.Stop(shutdownCtx); err != nil {
			logger.Warn("API server stop error", "error", err)
		}
	}
	if err := s.chat.Stop(shutdownCtx); err != nil {
		logger.Warn("Chat adapter stop error", "error", err)
	}
}
