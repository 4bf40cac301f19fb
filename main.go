package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"

	"chat-relay-server/api"
	"chat-relay-server/config"
	"chat-relay-server/hub"
	"chat-relay-server/protocol"
	"chat-relay-server/store"
	ws "chat-relay-server/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func main() {
	purgeLegacyFiles := flag.Bool("purge-legacy-files", false,
		"delete message rows with legacy string-encoded file fields and exit")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		slog.Warn("no .env file found, using environment variables")
	}
	setupLogger()

	cfg := config.Load()

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		slog.Error("storage unavailable", "path", cfg.DBPath, "error", err)
		os.Exit(1)
	}
	defer st.Close()

	if *purgeLegacyFiles {
		removed, err := st.PurgeLegacyFileRows()
		if err != nil {
			slog.Error("purge failed", "error", err)
			os.Exit(1)
		}
		slog.Info("purged legacy file rows", "removed", removed)
		return
	}

	registry := hub.New()
	handler := protocol.NewHandler(registry, st, st)

	router := api.NewRouter(st, registry)
	router.HandleFunc("/ws", wsHandler(registry, handler))

	server := &http.Server{
		Addr:    ":" + strconv.Itoa(cfg.Port),
		Handler: router,
	}

	go func() {
		slog.Info("server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("server shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.ShutdownTimeout)*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
}

func setupLogger() {
	level := slog.LevelInfo
	switch os.Getenv("LOG_LEVEL") {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})))
}

func wsHandler(registry *hub.Registry, handler *protocol.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Error("upgrade error", "error", err)
			return
		}

		ws.NewConn(uuid.New().String(), conn, registry, handler).Start()
	}
}
