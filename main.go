package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"gopkg.in/alecthomas/kingpin.v2"

	"gitlab.lrz.de/redes-2025-g21/swup/client"
	"gitlab.lrz.de/redes-2025-g21/swup/config"
	"gitlab.lrz.de/redes-2025-g21/swup/observability"
	"gitlab.lrz.de/redes-2025-g21/swup/server"
	"gitlab.lrz.de/redes-2025-g21/swup/storage"
)

var (
	app        = kingpin.New("swup", "Stop-and-wait file upload over UDP.")
	configPath = app.Flag("config", "Path to a YAML config file.").Short('c').Envar("SWUP_CONFIG").String()
	port       = app.Flag("port", "UDP port of the server (20252 if not given).").Short('t').Int()
	markovP    = app.Flag("p", "Loss probability after a delivered packet (Markov chain model).").Short('p').Float64()
	markovQ    = app.Flag("q", "Loss probability after a lost packet (Markov chain model).").Short('q').Float64()
	logLevel   = app.Flag("log-level", "debug, info, warn or error.").String()

	serveCmd    = app.Command("serve", "Accept uploads from any host.")
	serveListen = serveCmd.Flag("listen", "IP address to bind to.").String()
	serveDir    = serveCmd.Flag("dir", "Directory the uploaded files are written to.").Short('d').ExistingDir()

	uploadCmd    = app.Command("upload", "Upload one file.")
	uploadHost   = uploadCmd.Arg("server", "The server to upload to (hostname or IPv4 address).").Required().ResolvedIP()
	uploadCred   = uploadCmd.Arg("credential", "Credential presented in HELLO.").Required().String()
	uploadLocal  = uploadCmd.Arg("local", "Local file to send.").Required().String()
	uploadRemote = uploadCmd.Arg("remote", "Name of the file on the server (4 to 10 characters).").Required().String()
)

func main() {
	cmd := kingpin.MustParse(app.Parse(os.Args[1:]))

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	applyFlags(cfg, cmd)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	logger, err := observability.SetupLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: setting up logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	switch cmd {
	case serveCmd.FullCommand():
		err = serve(cfg, logger)
	case uploadCmd.FullCommand():
		err = upload(cfg, logger)
	}
	if err != nil {
		logger.Error("failed", zap.String("command", cmd), zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
}

// command line flags win over the config file
func applyFlags(cfg *config.Config, cmd string) {
	if *port != 0 {
		cfg.Server.Port = *port
		cfg.Client.Port = *port
	}
	if *markovP != 0 {
		cfg.Loss.P = *markovP
	}
	if *markovQ != 0 {
		cfg.Loss.Q = *markovQ
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if cmd == serveCmd.FullCommand() {
		if *serveListen != "" {
			cfg.Server.Listen = *serveListen
		}
		if *serveDir != "" {
			cfg.Server.RootDir = *serveDir
		}
	}
}

func serve(cfg *config.Config, logger *zap.Logger) error {
	st, err := storage.NewFileStorage(cfg.Server.RootDir)
	if err != nil {
		return err
	}
	var ip net.IP
	if cfg.Server.Listen != "" {
		if ip = net.ParseIP(cfg.Server.Listen); ip == nil {
			return fmt.Errorf("invalid listen address %q", cfg.Server.Listen)
		}
	}

	s, err := server.Init(server.Config{
		IP:          ip,
		Port:        cfg.Server.Port,
		Credential:  cfg.Server.Credential,
		Storage:     st,
		MaxSessions: cfg.Server.MaxSessions,
		IdleTimeout: cfg.Server.SessionIdleTimeout,
		MarkovP:     cfg.Loss.P,
		MarkovQ:     cfg.Loss.Q,
	}, logger)
	if err != nil {
		return fmt.Errorf("error creating server: %w", err)
	}
	defer s.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	logger.Info("starting server", zap.String("dir", cfg.Server.RootDir))
	return s.Serve(ctx)
}

func upload(cfg *config.Config, logger *zap.Logger) error {
	conf := client.DefaultConfig
	conf.Port = cfg.Client.Port
	conf.Retries = cfg.Client.Retries
	conf.Timeout = cfg.Client.Timeout
	conf.MarkovP = cfg.Loss.P
	conf.MarkovQ = cfg.Loss.Q

	_, err := client.Upload(*uploadHost, *uploadCred, *uploadLocal, *uploadRemote, &conf, logger)
	if err != nil {
		return fmt.Errorf("upload of %q failed: %w", *uploadLocal, err)
	}
	return nil
}
