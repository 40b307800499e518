// Command playerdemo is a small companion binary that exposes the playback
// facade's observable streams over HTTP/WebSocket for manual inspection
// during development. It is not part of the library's public contract.
package main

import (
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"ambientplayer/internal/config"
	"ambientplayer/internal/facade"
	"ambientplayer/internal/host/beephost"
)

func main() {
	if err := godotenv.Load("../.env"); err != nil {
		if err := godotenv.Load(".env"); err != nil {
			log.Println("no .env file found, using environment variables only")
		} else {
			log.Println("loaded environment from .env")
		}
	} else {
		log.Println("loaded environment from ../.env")
	}

	appCfg := config.AppConfig{
		Playback: config.PlaybackFromEnv(),
		Overlay:  config.OverlayFromEnv(),
		Cache:    config.CacheFromEnv(),
		SFX:      config.DefaultSFX(),
		Server:   config.ServerFromEnv(),
	}

	const sampleRate = 44100
	const bufferSizeMs = 20

	reg := prometheus.NewRegistry()
	graph := beephost.New(sampleRate, bufferSizeMs)
	decoder := beephost.FileDecoder{}

	f, err := facade.New(graph, decoder, appCfg, log.Default(), reg)
	if err != nil {
		log.Fatalf("facade.New: %v", err)
	}
	if err := f.Start(); err != nil {
		log.Fatalf("engine start: %v", err)
	}
	go f.Run()
	defer f.Stop()

	hub := newHub()
	go hub.run()
	go broadcastLoop(f, hub)

	router := newRouter(f, hub, reg)

	addr := ":" + strconv.Itoa(appCfg.Server.Port)
	srv := &http.Server{Addr: addr, Handler: router}

	go func() {
		log.Printf("playerdemo listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down")
}
