package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/spf13/cobra"
	"github.com/stephnangue/gristproxy/config"
	"github.com/stephnangue/gristproxy/core"
	proxyhttp "github.com/stephnangue/gristproxy/http"
	"github.com/stephnangue/gristproxy/listener"
	"github.com/stephnangue/gristproxy/listener/api"
	log "github.com/stephnangue/gristproxy/logger"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const (
	// Subsystem names for logging
	subsystemCore     = "core"
	subsystemListener = "listener"
	subsystemHTTP     = "http"
)

var (
	configPath string

	ServerCmd = &cobra.Command{
		Use:   "server",
		Short: "This command starts the proxy server",
		Long: `
Usage: gristproxy server [options]

  This command starts the proxy. Configuration is read from the optional
  configuration file and then from the environment (GRIST_URL, AUTH0_DOMAIN,
  GRISTPROXY_*, USER_<n>_EMAIL and USER_<n>_KEY).

  Start a server with a configuration file:

      $ gristproxy server --config=/etc/gristproxy/config.hcl
  `,
		RunE: run,
	}
)

func init() {
	ServerCmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file (e.g., path/to/gristproxy.hcl)")
}

func run(cmd *cobra.Command, args []string) error {
	config, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// construct the logger with gate closed during initialization
	logger := buildGatedLogger(config, cmd.OutOrStdout())
	defer logger.Close()

	for _, w := range config.Warnings {
		logger.Warn(w)
	}

	newCore, err := core.NewCore(&core.CoreConfig{
		RawConfig:       config,
		Logger:          logger.WithSubsystem(subsystemCore),
		ResponseHeaders: proxyhttp.CORSHeaders(),
	})
	if err != nil {
		return fmt.Errorf("error initializing core: %w", err)
	}

	httpHandler := proxyhttp.Handler(&proxyhttp.HandlerProperties{
		Core:   newCore,
		Logger: logger.WithSubsystem(subsystemHTTP),
	})

	lns, err := initListeners(httpHandler, config, logger)
	if err != nil {
		_ = newCore.Shutdown()
		return err
	}

	infoKeys := make([]string, 0, 12)
	info := make(map[string]string)
	addInfo := func(k, v string) {
		info[k] = v
		infoKeys = append(infoKeys, k)
	}
	addInfo("log level", config.LogLevel)
	addInfo("log format", config.LogFormat)
	if config.LogFile != "" {
		addInfo("log file", config.LogFile)
	}
	addInfo("grist url", newCore.BackendURL())
	addInfo("auth0 domain", config.Auth0Domain)
	addInfo("rate limit", fmt.Sprintf("%d requests per %s", newCore.Limiter().Limit(), newCore.Limiter().Window()))
	addInfo("token default ttl", config.TokenDefaultTTL().String())
	addInfo("userinfo timeout", config.UserInfoTimeout().String())
	addInfo("jwks precheck", fmt.Sprintf("%t", config.UserInfo.JWKSPrecheck))
	addInfo("users", fmt.Sprintf("%d", newCore.Credentials().Len()))
	for _, ln := range lns {
		addInfo(fmt.Sprintf("listener %s", ln.Type()), ln.Addr())
	}

	out := cmd.OutOrStdout()
	sort.Strings(infoKeys)
	fmt.Fprintf(out, "\n==> gristproxy server configuration:\n\n")

	titleCaser := cases.Title(language.English, cases.NoLower)
	for _, k := range infoKeys {
		fmt.Fprintf(out, "%24s: %s\n", titleCaser.String(k), info[k])
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	var wg sync.WaitGroup
	errChan := make(chan error, len(lns))
	for _, ln := range lns {
		wg.Go(func() {
			if err := ln.Start(ctx); err != nil {
				errChan <- fmt.Errorf("%s listener at %s: %w", ln.Type(), ln.Addr(), err)
			}
		})
	}

	fmt.Fprintf(out, "\n==> gristproxy server started! Log data will stream in below:\n")
	logger.OpenGate()

	var listenerErrs []error
	select {
	case err := <-errChan:
		listenerErrs = append(listenerErrs, err)
		fmt.Fprintf(out, "Listener error occurred, triggering shutdown\n")
	case <-ctx.Done():
		fmt.Fprintf(out, "gristproxy shutdown triggered\n")
	}
	cancel()

	var shutdownErrs []error
	for _, ln := range lns {
		if err := ln.Stop(); err != nil {
			shutdownErrs = append(shutdownErrs, fmt.Errorf("failed to stop %s listener at %s: %w", ln.Type(), ln.Addr(), err))
		}
	}
	wg.Wait()

	close(errChan)
	for err := range errChan {
		listenerErrs = append(listenerErrs, err)
	}
	if len(listenerErrs) > 0 {
		shutdownErrs = append(shutdownErrs, listenerErrs...)
	}

	if err := newCore.Shutdown(); err != nil {
		shutdownErrs = append(shutdownErrs, fmt.Errorf("core shutdown failed: %w", err))
	}

	if len(shutdownErrs) > 0 {
		aggregatedErr := errors.Join(shutdownErrs...)
		fmt.Fprintf(out, "Shutdown completed with errors: %v, error_count=%d\n", aggregatedErr, len(shutdownErrs))
		return aggregatedErr
	}

	fmt.Fprintf(out, "Server shutdown completed successfully\n")
	return nil
}

func buildGatedLogger(config *config.Config, stdout io.Writer) *log.GatedLogger {
	logConfig := &log.Config{
		Level:     log.ParseLogLevel(config.LogLevel),
		Format:    log.ParseOutputFormat(config.LogFormat),
		Subsystem: subsystemCore,
		Outputs:   []io.Writer{stdout},
	}
	if config.LogFile != "" {
		logConfig.FileConfig = &log.FileConfig{
			Filename:   config.LogFile,
			MaxSize:    config.LogRotateMegabytes,
			MaxBackups: config.LogRotateMaxFiles,
		}
	}

	gateConfig := log.GatedWriterConfig{
		Underlying:    stdout,
		InitialState:  log.GateClosed,
		MaxBufferSize: 10 * 1024 * 1024, // 10MB buffer for initialization logs
	}

	return log.NewGatedLogger(logConfig, gateConfig)
}

func initListeners(handler http.Handler, config *config.Config, logger *log.GatedLogger) ([]listener.Listener, error) {
	lns := make([]listener.Listener, 0, len(config.Listeners))
	for _, lc := range config.Listeners {
		if !strings.EqualFold(lc.Name, "api") {
			return closeAll(lns), fmt.Errorf("unknown listener type %q", lc.Name)
		}
		ln, err := api.NewApiListener(api.ApiListenerConfig{
			Logger:            logger.WithSubsystem(subsystemListener).WithFields(log.String("listener", lc.Name)),
			Address:           lc.Address,
			TLSEnabled:        lc.TLSEnabled,
			TLSCertFile:       lc.TLSCertFile,
			TLSKeyFile:        lc.TLSKeyFile,
			ReadHeaderTimeout: lc.ReadHeaderTimeoutDuration(),
			IdleTimeout:       lc.IdleTimeoutDuration(),
		}, handler)
		if err != nil {
			return closeAll(lns), err
		}
		lns = append(lns, ln)
	}
	return lns, nil
}

func closeAll(lns []listener.Listener) []listener.Listener {
	for _, ln := range lns {
		_ = ln.Stop()
	}
	return nil
}
