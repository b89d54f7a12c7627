package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmallek/svcpilot"
)

type serveFlags struct {
	Resume   bool
	StartAll bool
}

func newServeCmd(gf *GlobalFlags) *cobra.Command {
	sf := &serveFlags{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the svcpilot daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(gf, sf)
		},
	}
	cmd.Flags().BoolVar(&sf.Resume, "resume", true, "start services that were running at last shutdown")
	cmd.Flags().BoolVar(&sf.StartAll, "start-all", false, "start every enabled service on boot")
	return cmd
}

func runServe(gf *GlobalFlags, sf *serveFlags) error {
	if gf.ConfigPath == "" {
		return fmt.Errorf("serve requires --config")
	}
	cfg, err := svcpilot.LoadConfig(gf.ConfigPath)
	if err != nil {
		return err
	}
	pilot, log, err := svcpilot.NewFromConfig(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = pilot.Close() }()

	if err := svcpilot.RegisterMetricsDefault(); err != nil {
		return err
	}

	srv, err := svcpilot.NewHTTPServer(cfg.Server.Listen, cfg.Server.BasePath, pilot)
	if err != nil {
		return err
	}
	log.Info("daemon listening", "addr", cfg.Server.Listen)

	bootCtx, cancelBoot := context.WithCancel(context.Background())
	go func() {
		if sf.StartAll {
			if berr := pilot.StartAllEnabled(bootCtx); berr != nil {
				log.Warn("start-all finished with errors", "error", berr)
			}
			return
		}
		if sf.Resume {
			if berr := pilot.ResumePreviouslyRunning(bootCtx); berr != nil {
				log.Warn("resume finished with errors", "error", berr)
			}
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	s := <-sig
	log.Info("shutting down", "signal", s.String())
	cancelBoot()

	// stop everything, then the API; running marks stay so the next
	// launch resumes the same set
	stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	if serr := pilot.StopAll(stopCtx); serr != nil {
		log.Warn("stop-all finished with errors", "error", serr)
	}

	shutCtx, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	if serr := srv.Shutdown(shutCtx); serr != nil && serr != http.ErrServerClosed {
		_ = srv.Close()
	}
	return nil
}
