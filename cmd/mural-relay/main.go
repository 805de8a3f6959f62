package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/drpcorg/mural/archive"
	"github.com/drpcorg/mural/moment"
	"github.com/drpcorg/mural/relay"
	"github.com/drpcorg/mural/utils"
)

func main() {
	if err := mainInner(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func env(name, def string) string {
	if v, ok := os.LookupEnv(name); ok {
		return v
	}
	return def
}

func mainInner() error {
	addr := flag.String("addr", env("MURAL_ADDR", "localhost:8080"), "the address to listen on")
	level := flag.String("log-level", env("MURAL_LOG_LEVEL", "info"), "debug, info, warn or error")
	dir := flag.String("archive", env("MURAL_ARCHIVE", ""), "pebble directory for the room archive, in-memory if empty")
	authority := flag.Bool("authority", true, "attach an archivist to every room")
	maxUsers := flag.Int("max-users", 256, "users per room")
	width := flag.Int("width", 1024, "initial canvas width")
	height := flag.Int("height", 768, "initial canvas height")
	fold := flag.Int("fold", 4096, "raw records kept before folding into compressed history")
	flag.Parse()

	lvl, err := utils.ParseLevel(*level)
	if err != nil {
		return err
	}
	log := utils.NewDefaultLogger(lvl)

	prometheus.MustRegister(relay.Collectors()...)
	prometheus.MustRegister(archive.Collectors()...)

	opts := []relay.LobbyOpt{
		&relay.LoggerOpt{Logger: log},
		&relay.RoomLimitsOpt{MaxUsers: *maxUsers},
	}
	if *authority {
		hub, err := archive.NewHub(archive.HubOptions{
			Store: archive.StoreOptions{Logger: log, Dir: *dir},
			Archive: archive.Options{
				Logger:        log,
				Moments:       moment.Options{Width: *width, Height: *height},
				FoldThreshold: *fold,
			},
		})
		if err != nil {
			return err
		}
		defer func() {
			if err := hub.Close(); err != nil {
				log.Error("archive close failed", "err", err)
			}
		}()
		prometheus.MustRegister(hub.Collector())
		opts = append(opts, &relay.AuthorityOpt{Attach: hub.Attach})
	}

	lobby := relay.NewLobby(opts...)
	server := relay.NewServer(lobby, relay.ServerOptions{Logger: log})
	httpServer := &http.Server{Addr: *addr, Handler: server.Handler()}

	wg := new(sync.WaitGroup)
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info("listening", "addr", *addr, "authority", *authority)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server listen failed", "err", err)
		}
	}()

	exit := make(chan os.Signal, 1)
	signal.Notify(exit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-exit
	log.Info("signal caught", "sig", sig)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(ctx)
	err = server.Close()
	_ = httpServer.Close()
	wg.Wait()
	return err
}
