package commands

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/openrpcrt/rpcrt/internal/endpointmap"
	"github.com/openrpcrt/rpcrt/internal/rpcconfig"
	"github.com/openrpcrt/rpcrt/internal/rpclog"
	"github.com/openrpcrt/rpcrt/internal/telemetry"
	"github.com/openrpcrt/rpcrt/pkg/auth/kerberos"
	"github.com/openrpcrt/rpcrt/pkg/rpcrt"
	"github.com/openrpcrt/rpcrt/pkg/rpcrt/rpcecho"
	"github.com/openrpcrt/rpcrt/pkg/rpcrt/rpcmetrics"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the rpcrtd demo server",
	Long: `Start the rpcrtd demo server, registering the demo ping interface and
listening until interrupted.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := rpcconfig.Load(GetConfigFile(), nil)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := rpclog.New(rpclog.Config{
		MinPriority: parsePriority(cfg.Logging.Level),
		Format:      cfg.Logging.Format,
		Output:      cfg.Logging.Output,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = logger.Close() }()

	profilingShutdown, err := telemetry.InitProfiling(telemetry.ProfilingConfig{
		Enabled:        cfg.Metrics.Enabled,
		ServiceName:    "rpcrtd",
		ServiceVersion: Version,
		Endpoint:       cfg.Metrics.Address,
		ProfileTypes:   []string{"cpu"},
	})
	if err != nil {
		return fmt.Errorf("failed to initialize profiling: %w", err)
	}
	defer func() { _ = profilingShutdown() }()

	store, err := endpointmap.Open(cfg.Server.EndpointMapPath)
	if err != nil {
		return fmt.Errorf("failed to open endpoint-map database: %w", err)
	}
	defer func() { _ = store.Close() }()

	metricsReg := prometheus.NewRegistry()
	metrics := rpcmetrics.New(metricsReg)

	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(metricsReg, promhttp.HandlerOpts{}))
		metricsSrv = &http.Server{Addr: cfg.Metrics.Address, Handler: mux}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Write("metrics listener stopped", rpcrt.PriorityError, "error", err)
			}
		}()
		defer func() { _ = metricsSrv.Close() }()
		logger.Write("metrics endpoint listening", rpcrt.PriorityNotice, "address", cfg.Metrics.Address)
	}

	protoSeq := rpcrt.ProtocolSequenceTCP
	if cfg.Server.ProtocolSequence == "local" {
		protoSeq = rpcrt.ProtocolSequenceLocal
	}

	serverOpts := rpcrt.ServerOptions{
		ListenAddress:      cfg.Server.ListenAddress,
		EndpointStore:      store,
		DirectoryAvailable: false,
		Logger:             logger,
		Metrics:            metrics,
	}

	var srv *rpcrt.RpcServer
	var certStore *rpcrt.CertificateStore
	var channelCreds *rpcrt.ChannelCredentials

	if cfg.Security.RequireMutual {
		// RequireMutual asks for genuine mutual authentication; the only
		// security package this server can actually verify per call without
		// a server-side password store is SecureChannel, so RequireMutual
		// routes here rather than to the plain NTLM package NewRpcServer
		// would otherwise negotiate.
		certStore, err = rpcrt.OpenCertificateStore(cfg.Security.CertStorePath, rpcrt.StoreLocationLocalMachine, "rpcrtd")
		if err != nil {
			return fmt.Errorf("failed to open certificate store: %w", err)
		}
		certCtx, err := certStore.FindBySubject(cfg.Security.CertSubject)
		if err != nil {
			return fmt.Errorf("failed to look up server certificate: %w", err)
		}
		if certCtx == nil {
			return fmt.Errorf("no certificate found for subject %q in store %q", cfg.Security.CertSubject, cfg.Security.CertStorePath)
		}
		channelCreds, err = rpcrt.NewServerChannelCredentials(certStore, certCtx, rpcrt.CertInfo{
			StoreLocation:    rpcrt.StoreLocationLocalMachine,
			Subject:          cfg.Security.CertSubject,
			StrongerSecurity: cfg.Security.MinTLSVersion == "1.3",
		})
		if err != nil {
			return fmt.Errorf("failed to build server channel credentials: %w", err)
		}
		srv, err = rpcrt.NewRpcServerSecureChannel(rpcrt.ProtocolSequenceTCP, "rpcrtd", channelCreds, serverOpts)
		if err != nil {
			return fmt.Errorf("failed to initialize RPC server: %w", err)
		}
		protoSeq = rpcrt.ProtocolSequenceTCP
	} else {
		srv, err = rpcrt.NewRpcServer(protoSeq, "rpcrtd", rpcrt.AuthenticationLevelNone, serverOpts)
		if err != nil {
			return fmt.Errorf("failed to initialize RPC server: %w", err)
		}
	}
	defer func() {
		channelCreds.Release()
		if certStore != nil {
			_ = certStore.Close()
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Kerberos.KeytabPath != "" {
		krbProvider, err := kerberos.NewProvider(&cfg.Kerberos)
		if err != nil {
			return fmt.Errorf("failed to initialize Kerberos provider: %w", err)
		}

		watcher, err := rpcconfig.NewWatcher(GetConfigFile(), cfg.Kerberos.KeytabPath, nil, func() {
			if err := krbProvider.ReloadKeytab(); err != nil {
				logger.Write("keytab reload failed", rpcrt.PriorityError, "error", err)
				return
			}
			logger.Write("keytab reloaded", rpcrt.PriorityNotice, "path", cfg.Kerberos.KeytabPath)
		})
		if err != nil {
			return fmt.Errorf("failed to start configuration watcher: %w", err)
		}
		defer func() { _ = watcher.Close() }()
		go func() {
			if err := watcher.Run(ctx); err != nil {
				logger.Write("configuration watcher stopped", rpcrt.PriorityWarning, "error", err)
			}
		}()
	}

	touchDir := cfg.Server.TouchDir
	if touchDir == "" {
		touchDir = os.TempDir()
	}

	startedAt := time.Now()
	objects := []rpcrt.RpcSrvObject{
		{
			ObjectUUID:    rpcecho.ObjectUUID,
			InterfaceUUID: rpcecho.InterfaceUUID,
			Handler:       rpcecho.NewHandler("rpcrtd", startedAt, touchDir, logger),
		},
	}

	if err := srv.Start(objects); err != nil {
		return fmt.Errorf("failed to start RPC server: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	fmt.Printf("rpcrtd listening on %s (%s)\n", cfg.Server.ListenAddress, protoSeq)
	logger.Write("rpcrtd is listening", rpcrt.PriorityNotice, "address", cfg.Server.ListenAddress, "protocol", protoSeq.String())

	waitDone := make(chan error, 1)
	go func() { waitDone <- srv.Wait() }()

	select {
	case <-sigCh:
		signal.Stop(sigCh)
		logger.Write("shutdown signal received", rpcrt.PriorityNotice)
		cancel()
		if err := srv.Stop(); err != nil {
			logger.Write("error stopping RPC server", rpcrt.PriorityError, "error", err)
		}
	case err := <-waitDone:
		if err != nil {
			logger.Write("RPC server wait returned an error", rpcrt.PriorityError, "error", err)
		}
	}

	srv.Finalize()
	fmt.Println("rpcrtd stopped")
	return nil
}

func parsePriority(level string) rpcrt.Priority {
	switch level {
	case "TRACE":
		return rpcrt.PriorityTrace
	case "DEBUG":
		return rpcrt.PriorityDebug
	case "INFO":
		return rpcrt.PriorityInformation
	case "NOTICE":
		return rpcrt.PriorityNotice
	case "WARNING":
		return rpcrt.PriorityWarning
	case "ERROR":
		return rpcrt.PriorityError
	case "CRITICAL":
		return rpcrt.PriorityCritical
	case "FATAL":
		return rpcrt.PriorityFatal
	default:
		return rpcrt.PriorityInformation
	}
}
