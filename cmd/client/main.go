package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/dkeye/lanrelay/internal/client"
	"github.com/dkeye/lanrelay/internal/config"
	"github.com/dkeye/lanrelay/internal/obs"
	"github.com/dkeye/lanrelay/internal/protocol"
)

const usage = `commands:
  /file <path>          offer and send a file
  /get <filename>       ask the room for a file
  /share [start|stop]   toggle screen sharing
  /users                list connected users
  /history              print the chat history
  /pending              show incoming transfers
  /quit                 leave
anything else is sent as chat`

// terminal prints relay events to out and answers file requests for files
// this client has offered.
type terminal struct {
	client.BaseHandler
	out io.Writer
	c   *client.Client
	ctx context.Context
}

func (t *terminal) OnUserList(users []string) {
	fmt.Fprintf(t.out, "* users: %s\n", strings.Join(users, ", "))
}

func (t *terminal) OnChat(l client.ChatLine) {
	fmt.Fprintln(t.out, l.String())
}

func (t *terminal) OnFileOffered(from, filename string, size int64) {
	fmt.Fprintf(t.out, "* %s is sending %s (%d bytes)\n", from, filename, size)
}

func (t *terminal) OnFileReceived(from, filename, path string) {
	fmt.Fprintf(t.out, "* received %s from %s, saved to %s\n", filename, from, path)
}

func (t *terminal) OnFileRequest(from, filename string, _ map[string]string) {
	if from == t.c.Username() {
		return
	}
	path, ok := t.c.Offered(filename)
	if !ok {
		return
	}
	fmt.Fprintf(t.out, "* %s requested %s, sending again\n", from, filename)
	// Run must keep reading while the file goes out
	go func() {
		if err := t.c.SendFile(t.ctx, path, nil); err != nil {
			log.Error().Err(err).Str("module", "client").Str("filename", filename).Msg("resend failed")
		}
	}()
}

func (t *terminal) OnScreenStart(from string) {
	fmt.Fprintf(t.out, "* %s started sharing their screen\n", from)
}

func (t *terminal) OnScreenStop(from string) {
	fmt.Fprintf(t.out, "* %s stopped sharing\n", from)
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	_ = obs.SetupLogger("warn", "console", os.Stderr)
	cfg, err := config.LoadClient(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if err := obs.SetupLogger(cfg.Log.Level, cfg.Log.Format, os.Stderr); err != nil {
		log.Fatal().Err(err).Str("module", "main").Msg("bad log config")
	}

	c, err := client.Dial(ctx, cfg.Server, cfg.Username,
		client.WithDownloadDir(cfg.DownloadDir),
		client.WithChunkSize(cfg.ChunkSize),
	)
	if err != nil {
		log.Fatal().Err(err).Str("module", "main").Str("server", cfg.Server).Msg("connect failed")
	}
	defer c.Close()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		return c.Run(gctx, &terminal{out: os.Stdout, c: c, ctx: gctx})
	})

	if mr, err := client.ListenMedia("0.0.0.0", cfg.Username); err != nil {
		log.Warn().Err(err).Str("module", "main").Msg("video receiver unavailable")
	} else {
		if err := c.RegisterMediaPorts(mr.Port(), 0); err != nil {
			log.Warn().Err(err).Str("module", "main").Msg("media port registration failed")
		}
		g.Go(func() error {
			return mr.Run(gctx, func(d protocol.Datagram) {
				log.Debug().Str("module", "client.media").Str("from", d.Username).Int("bytes", len(d.Payload)).Msg("media datagram")
			})
		})
	}

	fmt.Printf("connected to %s as %s from %s\n", cfg.Server, c.Username(), c.LocalAddr())
	fmt.Println(usage)
	// stdin cannot be interrupted, so it stays outside the group
	go func() {
		defer cancel()
		readCommands(gctx, c, os.Stdin, os.Stdout)
	}()

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Str("module", "main").Msg("connection lost")
		os.Exit(1)
	}
}

func readCommands(ctx context.Context, c *client.Client, in io.Reader, out io.Writer) {
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		cmd, arg, _ := strings.Cut(line, " ")
		arg = strings.TrimSpace(arg)

		var err error
		switch cmd {
		case "/quit":
			return
		case "/file":
			err = c.SendFile(ctx, arg, func(sent, total int64) {
				fmt.Fprintf(out, "\r* sent %d/%d", sent, total)
			})
			fmt.Fprintln(out)
		case "/get":
			err = c.RequestFile(arg, nil)
		case "/share":
			switch arg {
			case "start":
				err = c.StartScreenShare()
			case "stop":
				err = c.StopScreenShare()
			case "":
				if c.Sharing() {
					err = c.StopScreenShare()
				} else {
					err = c.StartScreenShare()
				}
			default:
				fmt.Fprintln(out, "usage: /share [start|stop]")
			}
		case "/users":
			fmt.Fprintf(out, "* users: %s\n", strings.Join(c.Users(), ", "))
		case "/history":
			for _, l := range c.History() {
				fmt.Fprintf(out, "[%s] %s\n", l.At.Format("15:04:05"), l)
			}
		case "/pending":
			for _, p := range c.Pending() {
				fmt.Fprintf(out, "* %s from %s: %d/%d\n", p.Filename, p.Sender, p.Received, p.Size)
			}
		default:
			err = c.SendChat(line)
		}
		if err != nil {
			fmt.Fprintf(out, "! %v\n", err)
		}
		if ctx.Err() != nil {
			return
		}
	}
}
