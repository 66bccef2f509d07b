package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/meshchat/meshchat/internal/config"
	"github.com/meshchat/meshchat/internal/core"
	"github.com/meshchat/meshchat/internal/domain"
	"github.com/meshchat/meshchat/internal/profile"
	"github.com/meshchat/meshchat/internal/responder"
	"github.com/meshchat/meshchat/internal/session"
	"github.com/meshchat/meshchat/internal/transport/rtc"
	"github.com/meshchat/meshchat/internal/transport/signalclient"
)

func main() {
	create := flag.Bool("create", false, "create a room and print its id")
	join := flag.String("join", "", "join the room with this id")
	name := flag.String("name", "", "display name")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.WarnLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if !*create && *join == "" {
		fmt.Fprintln(os.Stderr, "usage: meshchat -create | -join <room-id> [-name <display-name>]")
		os.Exit(2)
	}

	store := profile.NewFileStore(cfg.ProfilePath)
	prof, err := store.LoadOrCreate(*name, "#5b8def")
	if err != nil {
		log.Fatal().Err(err).Msg("profile store")
	}
	if prof.DisplayName == "" {
		prof.DisplayName = "guest"
	}

	sig := signalclient.New(cfg.SignalURL)
	transport := rtc.NewTransport(sig)

	var resp core.Responder
	if cfg.ResponderURL != "" {
		resp = responder.NewHTTP(cfg.ResponderURL)
	} else {
		resp = responder.Static{Reply: "I am just a placeholder bot."}
	}

	sess, err := session.New(cfg, transport, sig, resp, prof)
	if err != nil {
		log.Fatal().Err(err).Msg("bad profile")
	}
	defer sess.Close()

	if *create {
		room, err := sess.CreateRoom(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("create room")
		}
		fmt.Printf("room created: %s\n", room)
	} else {
		sess.JoinRoom(ctx, domain.RoomID(*join))
		fmt.Printf("joining %s...\n", *join)
	}

	go render(ctx, sess)
	go readInput(ctx, cancel, sess)

	<-ctx.Done()
	fmt.Println("bye")
}

// render prints messages as the session log grows.
func render(ctx context.Context, sess *session.Session) {
	printed := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-sess.Updates():
		}
		snap := sess.Snapshot()
		for ; printed < len(snap.Log); printed++ {
			m := snap.Log[printed]
			switch m.Kind {
			case domain.KindSystem:
				fmt.Printf("-- %s\n", m.Body)
			default:
				fmt.Printf("[%s] %s\n", m.AuthorName, m.Body)
			}
		}
		if snap.Status.Terminal() {
			fmt.Printf("session ended: %s (%s)\n", snap.Status, snap.LastError)
			return
		}
	}
}

func readInput(ctx context.Context, cancel context.CancelFunc, sess *session.Session) {
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch {
		case line == "":
			continue
		case line == "/quit":
			cancel()
			return
		case line == "/away":
			sess.SetPresence(domain.PresenceAway)
		case line == "/back":
			sess.SetPresence(domain.PresenceOnline)
		case strings.HasPrefix(line, "/mute "):
			sess.Mute(domain.ParticipantID(strings.TrimPrefix(line, "/mute ")))
		case strings.HasPrefix(line, "/unmute "):
			sess.Unmute(domain.ParticipantID(strings.TrimPrefix(line, "/unmute ")))
		case strings.HasPrefix(line, "/kick "):
			sess.Evict(domain.ParticipantID(strings.TrimPrefix(line, "/kick ")), "removed by host")
		default:
			sess.SendText(line)
		}
		if ctx.Err() != nil {
			return
		}
	}
}
