package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/danmuck/relaychat/internal/chatclient"
	"github.com/danmuck/relaychat/internal/config"
	"github.com/danmuck/relaychat/internal/logging"
	"github.com/danmuck/relaychat/internal/protocol/frame"
	"github.com/gookit/color"
	"github.com/joho/godotenv"
)

type options struct {
	configPath string
	addr       string
	username   string
	noColor    bool
}

func main() {
	var opts options
	flag.StringVar(&opts.configPath, "config", "", "client config file (optional)")
	flag.StringVar(&opts.addr, "addr", "", "relay address, overrides config")
	flag.StringVar(&opts.username, "username", "", "username; prompted when empty")
	flag.BoolVar(&opts.noColor, "no-color", false, "disable colored output")
	flag.Parse()

	_ = godotenv.Load()
	logging.ConfigureRuntime()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts, os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "relaychat: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options, stdin io.Reader, stdout io.Writer) error {
	cfg, err := clientConfig(opts)
	if err != nil {
		return err
	}

	in := bufio.NewScanner(stdin)
	if strings.TrimSpace(cfg.Username) == "" {
		name, err := promptUsername(in, stdout)
		if err != nil {
			return err
		}
		cfg.Username = name
	}

	client, err := chatclient.New(cfg)
	if err != nil {
		return err
	}
	defer client.Close()
	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("connect %s: %w", cfg.Address, err)
	}

	go forwardInput(ctx, in, client)

	r := renderer{colors: !opts.noColor && color.SupportColor()}
	err = client.Run(ctx, func(msg frame.ChatMessage) {
		fmt.Fprintln(stdout, r.line(msg))
	})
	if err == nil && ctx.Err() == nil {
		fmt.Fprintln(stdout, "WARNING: Connection closed by the server.")
	}
	return err
}

func clientConfig(opts options) (chatclient.Config, error) {
	fileCfg := config.DefaultClientConfig()
	if opts.configPath != "" {
		loaded, err := config.LoadClientConfig(opts.configPath)
		if err != nil {
			return chatclient.Config{}, err
		}
		fileCfg = loaded
	}
	if opts.addr != "" {
		fileCfg.Addr = opts.addr
	}
	if opts.username != "" {
		fileCfg.Username = opts.username
	}
	return fileCfg.ChatClientConfig()
}

// promptUsername asks until the answer passes the local checks.
func promptUsername(in *bufio.Scanner, out io.Writer) (string, error) {
	for {
		fmt.Fprint(out, "Username: ")
		if !in.Scan() {
			if err := in.Err(); err != nil {
				return "", err
			}
			return "", errors.New("no username given")
		}
		name, err := chatclient.NormalizeUsername(in.Text())
		if err != nil {
			fmt.Fprintln(out, "WARNING: Invalid username.")
			continue
		}
		return name, nil
	}
}

// forwardInput sends each stdin line until stdin ends or the client closes.
func forwardInput(ctx context.Context, in *bufio.Scanner, client *chatclient.Client) {
	for in.Scan() {
		if err := client.Send(ctx, in.Text()); err != nil {
			return
		}
	}
}
