// Package internal wires the signaling hub, HTTP endpoints and persistence into a running server.
package internal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gregriff/jamsesh/server/internal/dal"
	"github.com/gregriff/jamsesh/server/internal/db"
	"github.com/gregriff/jamsesh/server/internal/hub"
	"github.com/gregriff/jamsesh/server/internal/middleware"
	"github.com/gregriff/jamsesh/server/internal/rooms"
	"github.com/gregriff/jamsesh/server/internal/routes"
	"github.com/gregriff/jamsesh/server/internal/turn"
	log "github.com/sirupsen/logrus"
)

// Options is the server configuration resolved from flags, the config file and the environment.
type Options struct {
	Debug bool
	Host  string
	Port  int

	// StaticDir, when set, is served at /.
	StaticDir string

	// History disables the sqlite room history when false.
	History bool

	AdminUsername     string
	AdminPasswordHash string

	Hub  hub.Config
	TURN turn.Config
}

func CreateAndListen(opts Options) {
	var conn *sql.DB
	var recorder hub.Recorder
	if opts.History {
		conn = db.GetDB()
		defer conn.Close()
		recorder = dal.NewHistory(conn)
	}

	provider, err := turn.NewProvider(opts.TURN)
	if err != nil {
		if !errors.Is(err, turn.ErrNotConfigured) {
			log.Fatalf("relay credentials: %v", err)
		}
		log.Info("no relay credential provider configured, clients will use STUN only")
	}

	signalHub := hub.New(rooms.NewRegistry(), recorder, opts.Hub)
	hubCtx, stopHub := context.WithCancel(context.Background())
	hubDone := make(chan struct{})
	go func() {
		signalHub.Run(hubCtx)
		close(hubDone)
	}()

	// Initialize handlers with dependencies
	h := routes.NewRouteHandler(signalHub, conn, provider)

	mux := http.NewServeMux()
	createRoutes(mux, h, opts)

	// apply middlewares
	var handler http.Handler = mux
	if opts.Debug {
		handler = middleware.DebugLogging(mux)
	}

	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", opts.Host, opts.Port),
		ReadHeaderTimeout: 2 * time.Second,
		IdleTimeout:       30 * time.Second,
		Handler:           handler,
	}

	// graceful shutdown channel
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// run server
	go func() {
		log.Printf("Starting server on %s", server.Addr)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http server error: %v", err)
		}
		log.Println("Stopped serving new connections.")
	}()

	// recieve stop signals
	<-sigChan

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// hijacked signaling channels are not tracked by Shutdown; stopping the hub closes them
	stopHub()
	<-hubDone

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("http shutdown error: %v", err)
	}
	log.Println("Graceful shutdown complete.")
}

// createRoutes creates the routing rules for the webserver
func createRoutes(mux *http.ServeMux, h *routes.RouteHandler, opts Options) {
	// websocket handlers cannot sit behind http.TimeoutHandler, it does not support hijacking
	mux.Handle("GET /ws", h.SignalingWS())

	mux.Handle("POST /timesync", withTimeout(http.HandlerFunc(h.Timesync)))
	mux.Handle("GET /api/get-turn-credentials", withTimeout(http.HandlerFunc(h.TURNCredentials)))

	if opts.AdminPasswordHash != "" {
		admin := middleware.BasicAuth(http.HandlerFunc(h.AdminRooms), opts.AdminUsername, opts.AdminPasswordHash)
		mux.Handle("GET /admin/rooms", withTimeout(admin))
	} else {
		log.Debug("admin.password-hash not set, /admin/rooms disabled")
	}

	if opts.StaticDir != "" {
		log.Infof("serving static files from %s", opts.StaticDir)
		mux.Handle("GET /", http.FileServer(http.Dir(opts.StaticDir)))
	}
}

func withTimeout(h http.Handler) http.Handler {
	return http.TimeoutHandler(h, 30*time.Second, "")
}
