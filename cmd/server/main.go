package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	router "github.com/dkeye/lanrelay/internal/adapters/http"
	"github.com/dkeye/lanrelay/internal/adapters/tcp"
	"github.com/dkeye/lanrelay/internal/adapters/udp"
	"github.com/dkeye/lanrelay/internal/app"
	"github.com/dkeye/lanrelay/internal/app/orch"
	"github.com/dkeye/lanrelay/internal/config"
	"github.com/dkeye/lanrelay/internal/domain"
	"github.com/dkeye/lanrelay/internal/obs"
	"github.com/dkeye/lanrelay/internal/transfer"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// console logger until the config says otherwise
	_ = obs.SetupLogger("info", "console", os.Stderr)

	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		log.Fatal().Err(err).Str("module", "main").Msg("failed to load config")
	}
	if err := obs.SetupLogger(cfg.Log.Level, cfg.Log.Format, os.Stderr); err != nil {
		log.Fatal().Err(err).Str("module", "main").Msg("bad log config")
	}

	policy, err := app.ParsePolicy(cfg.Relay.SlowPeer)
	if err != nil {
		log.Fatal().Err(err).Str("module", "main").Msg("bad slow peer policy")
	}

	o := &orch.Orchestrator{
		Registry:  app.NewRegistry(),
		Presenter: app.NewPresenterSlot(),
		Transfers: transfer.NewTracker(transfer.WithStrictCoverage(cfg.Files.StrictCoverage)),
		Policy:    policy,
		Events:    app.NewEventBus(64),
	}
	if cfg.Files.SaveDir != "" {
		o.Sink = transfer.DirSink{Dir: cfg.Files.SaveDir}
	}

	ln, err := net.Listen("tcp", cfg.ControlAddr())
	if err != nil {
		log.Fatal().Err(err).Str("module", "main").Str("addr", cfg.ControlAddr()).Msg("control listen failed")
	}
	video := listenMedia(cfg, cfg.VideoAddr(), cfg.Media.VideoDSCP)
	audio := listenMedia(cfg, cfg.AudioAddr(), cfg.Media.AudioDSCP)

	var ready atomic.Bool
	g, gctx := errgroup.WithContext(ctx)

	control := &tcp.Server{
		Orch:         o,
		QueueSize:    cfg.Relay.QueueSize,
		WriteTimeout: cfg.Relay.WriteTimeout,
		MaxFrameSize: cfg.Relay.MaxFrameSize,
	}
	g.Go(func() error { return control.Serve(gctx, ln) })
	videoFw := udp.NewForwarder(domain.Video, o.Registry, video)
	audioFw := udp.NewForwarder(domain.Audio, o.Registry, audio)
	g.Go(func() error { return videoFw.Run(gctx) })
	g.Go(func() error { return audioFw.Run(gctx) })

	if cfg.HTTPPort != 0 {
		hl, err := net.Listen("tcp", cfg.HTTPAddr())
		if err != nil {
			log.Fatal().Err(err).Str("module", "main").Str("addr", cfg.HTTPAddr()).Msg("http listen failed")
		}
		srv := &http.Server{
			Handler:           router.SetupRouter(gctx, cfg, o, ready.Load),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			if err := srv.Serve(hl); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Str("module", "main").Msg("http server forced to shutdown")
			}
			return nil
		})
	}

	ready.Store(true)
	log.Info().Str("module", "main").
		Str("control", ln.Addr().String()).
		Str("video", videoFw.LocalAddr().String()).
		Str("audio", audioFw.LocalAddr().String()).
		Str("slow_peer", cfg.Relay.SlowPeer).
		Msg("lanrelay server started")

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Str("module", "main").Msg("relay stopped with error")
	}
	log.Info().Str("module", "main").Msg("server exited gracefully")
}

func listenMedia(cfg *config.Config, addr string, dscp int) *net.UDPConn {
	uaddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		log.Fatal().Err(err).Str("module", "main").Str("addr", addr).Msg("bad media address")
	}
	conn, err := net.ListenUDP("udp", uaddr)
	if err != nil {
		log.Fatal().Err(err).Str("module", "main").Str("addr", addr).Msg("media listen failed")
	}
	if cfg.Media.QoS {
		if err := udp.SetDSCP(conn, dscp); err != nil {
			log.Warn().Err(err).Str("module", "main").Str("addr", addr).Msg("dscp not applied")
		}
	}
	return conn
}
