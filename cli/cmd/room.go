package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/gregriff/jamsesh/cli/configs"
	"github.com/gregriff/jamsesh/cli/internal/audio"
	"github.com/gregriff/jamsesh/cli/internal/bitrate"
	"github.com/gregriff/jamsesh/cli/internal/peer"
	"github.com/gregriff/jamsesh/cli/internal/services"
	"github.com/gregriff/jamsesh/cli/internal/services/signaling"
	"github.com/gregriff/jamsesh/cli/internal/session"
	"github.com/gregriff/jamsesh/cli/internal/timesync"
	"github.com/gregriff/jamsesh/cli/internal/ui"
	"github.com/gregriff/jamsesh/cli/internal/wrtc"
	"github.com/gregriff/jamsesh/internal/schemas"
	"github.com/gregriff/jamsesh/internal/validation"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func addRoomFlags(cmd *cobra.Command) {
	cmd.Flags().String("name", "", "display name, remembered for next time")
	cmd.Flags().Bool("autostart", false, "start streaming as soon as you become host")
	_ = viper.BindPFlag("call.autostart", cmd.Flags().Lookup("autostart"))
}

// resolveUsername validates --name and persists it, falling back to the configured name.
func resolveUsername(cmd *cobra.Command, _ []string) error {
	name, _ := cmd.Flags().GetString("name")
	if name == "" {
		name = viper.GetString("username")
	}
	if name == "" {
		return fmt.Errorf("a display name is required: pass --name or set username in %s", ConfigFile)
	}
	if err := validation.Username(name); err != nil {
		return err
	}

	if cmd.Flags().Changed("name") && name != viper.GetString("username") {
		if err := configs.PersistUsername(ConfigFile, name); err != nil {
			log.WithError(err).Warn("could not save display name")
		}
	}
	viper.Set("username", name)
	return nil
}

// runRoom connects to the server and stays in the room until interrupted, the user quits,
// or the connection drops. An empty code creates a new room.
func runRoom(cmd *cobra.Command, code string) error {
	origin, stunServer := viper.GetString("servers.jamsesh-origin"), viper.GetString("servers.stun-origin")

	initial, err := bitrate.ParseLevel(viper.GetString("call.initial-bitrate"))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	console := ui.NewConsole(cmd.OutOrStdout())
	httpClient := services.NewClient(origin)

	factory := &wrtc.Factory{ICEServers: wrtc.RelayServers(httpClient, stunServer)}

	offsets := timesync.New(httpClient,
		timesync.WithInterval(viper.GetDuration("timesync.interval")),
		timesync.WithProbes(viper.GetInt("timesync.probes")),
	)

	conn, err := signaling.Dial(ctx, origin)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", origin, err)
	}
	defer conn.Close()

	var wg sync.WaitGroup
	source, sink, closeAudio := openAudio(ctx, &wg)
	defer func() {
		cancel()
		wg.Wait()
		closeAudio()
	}()

	wg.Go(func() { offsets.Run(ctx) })

	orch := peer.New(ctx, conn, factory, peer.Config{
		Source:          source,
		Sink:            sink,
		Offsets:         offsets,
		InitialLevel:    initial,
		BitrateInterval: viper.GetDuration("call.bitrate-interval"),
		SyncInterval:    viper.GetDuration("call.sync-interval"),
		PlaybackDelay:   viper.GetDuration("call.playback-delay"),
	})

	ctrl := session.New(conn, orch, console, session.Config{
		Username:  viper.GetString("username"),
		Code:      code,
		AutoStart: viper.GetBool("call.autostart"),
	})

	go readCommands(cmd.InOrStdin(), ctrl, console, cancel)

	console.Info("commands: start, end, who, quit")
	err = serve(ctx, conn.ReadLoop, ctrl.Run)
	if errors.Is(err, session.ErrNoRoom) {
		return fmt.Errorf("no room with code %s", code)
	}
	return err
}

// serve feeds the messages read delivers into run until either stops. Quitting and a clean
// close from the server end quietly; a broken connection is returned.
func serve(
	ctx context.Context,
	read func(context.Context, chan<- schemas.Message) error,
	run func(context.Context, <-chan schemas.Message) error,
) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	messages := make(chan schemas.Message, 16)
	readErr := make(chan error, 1)
	go func() { readErr <- read(ctx, messages) }()

	err := run(ctx, messages)
	cancel()
	if rerr := <-readErr; rerr != nil && err == nil {
		err = fmt.Errorf("signaling connection lost: %w", rerr)
	}
	return err
}

// openAudio opens the microphone and speaker. A missing device disables that direction
// instead of failing the session.
func openAudio(ctx context.Context, wg *sync.WaitGroup) (peer.AudioSource, peer.AudioSink, func()) {
	var (
		source  peer.AudioSource
		sink    peer.AudioSink
		closers []func() error
	)

	if mic, err := audio.OpenMicrophone(); err != nil {
		log.WithError(err).Warn("no microphone, you can listen but not stream")
	} else {
		source = mic
		closers = append(closers, mic.Close)
		wg.Go(func() { mic.Run(ctx) })
	}

	if speaker, err := audio.OpenSpeaker(); err != nil {
		log.WithError(err).Warn("no speaker, incoming audio is discarded")
	} else {
		sink = speaker
		closers = append(closers, speaker.Close)
	}

	return source, sink, func() {
		for _, c := range closers {
			_ = c()
		}
	}
}

// readCommands handles interactive commands typed while in a room.
// It runs until stdin closes; quit cancels the session.
func readCommands(in io.Reader, ctrl *session.Controller, console *ui.Console, quit context.CancelFunc) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		switch cmd := strings.ToLower(strings.TrimSpace(scanner.Text())); cmd {
		case "":
		case "start":
			if err := ctrl.StartCall(); err != nil {
				console.Info("cannot start: %v", err)
			}
		case "end":
			if err := ctrl.EndCall(); err != nil {
				console.Info("cannot end: %v", err)
			}
		case "who":
			st := ctrl.Status()
			console.Info("%s", ui.RenderRoster(st.Snapshot, st.SelfID))
		case "quit", "exit":
			quit()
			return
		default:
			console.Info("unknown command %q (start, end, who, quit)", cmd)
		}
	}
}
