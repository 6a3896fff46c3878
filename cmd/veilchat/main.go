package main

import (
	"bufio"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/veilchat/veilchat-node/pkg/api"
	"github.com/veilchat/veilchat-node/pkg/config"
	"github.com/veilchat/veilchat-node/pkg/crypto"
	"github.com/veilchat/veilchat-node/pkg/network"
	"github.com/veilchat/veilchat-node/pkg/storage"
)

const passwordEnv = "VEILCHAT_PASSWORD"

var (
	configPath = flag.String("config", "veilchat.yaml", "Path to config file")
	listenPort = flag.Int("listen", 0, "Listen for an inbound peer on this port")
	connectTo  = flag.String("connect", "", "Peer address to dial (host:port)")
	keysDir    = flag.String("keys", "", "Key directory (overrides config)")
	genKey     = flag.Bool("genkey", false, "Generate a fresh identity, replacing any stored one")
	enableAPI  = flag.Bool("api", false, "Enable the local HTTP API")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	log := newLogger(cfg.Logging.Level)

	if *listenPort == 0 && *connectTo == "" {
		fmt.Fprintln(os.Stderr, "either -listen <port> or -connect <host:port> is required")
		flag.Usage()
		os.Exit(2)
	}
	if *listenPort != 0 && *connectTo != "" {
		fmt.Fprintln(os.Stderr, "-listen and -connect are mutually exclusive")
		os.Exit(2)
	}

	printBanner()

	identity, err := loadIdentity(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("identity setup failed")
	}
	defer identity.Zeroize()
	fmt.Printf("Your fingerprint:\n  %s\n\n", identity.Fingerprint())

	peers, err := storage.OpenPeerStore(cfg.Storage.PeersDatabase, log)
	if err != nil {
		log.Fatal().Err(err).Msg("peer store unavailable")
	}
	defer peers.Close()

	registry := prometheus.NewRegistry()
	metrics := network.NewMetrics(registry)

	conn := network.NewConnection(network.Options{
		Identity: identity,
		Config:   cfg,
		Logger:   log,
		Peers:    peers,
		Metrics:  metrics,
	})

	done := make(chan struct{})
	conn.RegisterListener(&network.EventFuncs{
		Authenticated: func(fp string) {
			fmt.Printf("\n*** peer authenticated ***\n  %s\nVerify this fingerprint out of band.\n> ", fp)
		},
		TextReceived: func(text string) {
			fmt.Printf("\npeer: %s\n> ", text)
		},
		Disconnected: func(reason string) {
			fmt.Printf("\n*** disconnected: %s ***\n", reason)
			close(done)
		},
	})

	if *connectTo != "" {
		host, port, err := splitHostPort(*connectTo, cfg.Network.DefaultPort)
		if err != nil {
			log.Fatal().Err(err).Msg("bad -connect address")
		}
		if err := conn.Connect(host, port, cfg.Network.ConnectTimeout); err != nil {
			log.Fatal().Err(err).Msg("connect failed")
		}
	} else {
		if err := conn.Listen(*listenPort); err != nil {
			log.Fatal().Err(err).Msg("listen failed")
		}
		fmt.Printf("Waiting for a peer on port %d...\n", *listenPort)
	}

	if *enableAPI || cfg.API.Enabled {
		srv := api.NewServer(api.Options{
			Conn:     conn,
			Identity: identity,
			Peers:    peers,
			Registry: registry,
			Address:  cfg.API.Address,
			Logger:   log,
		})
		if err := srv.Start(); err != nil {
			log.Fatal().Err(err).Msg("api server failed")
		}
		defer srv.Stop()
	}

	runChat(conn, done)
}

func printBanner() {
	fmt.Println("==========================================")
	fmt.Println("  veilchat - end-to-end encrypted chat")
	fmt.Println("==========================================")
	fmt.Println()
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
	return zerolog.New(out).Level(lvl).With().Timestamp().Logger()
}

// loadIdentity opens the encrypted keystore, generating and saving a new
// identity on first run or when -genkey is set.
func loadIdentity(cfg *config.Config, log zerolog.Logger) (*crypto.Identity, error) {
	dir := cfg.Storage.KeysDirectory
	if *keysDir != "" {
		dir = *keysDir
	}

	ks, err := crypto.NewKeystore(dir, log)
	if err != nil {
		return nil, err
	}

	password := os.Getenv(passwordEnv)
	if password == "" {
		password, err = promptPassword()
		if err != nil {
			return nil, err
		}
	}

	if ks.Exists() && !*genKey {
		return ks.Load(password)
	}

	identity, err := crypto.GenerateIdentity()
	if err != nil {
		return nil, err
	}
	if err := ks.Save(identity, password); err != nil {
		return nil, err
	}
	log.Info().Str("dir", dir).Msg("new identity generated and saved")
	return identity, nil
}

func promptPassword() (string, error) {
	fmt.Printf("Keystore password (or set %s): ", passwordEnv)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return "", fmt.Errorf("empty password")
	}
	return password, nil
}

func splitHostPort(addr string, defaultPort int) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		// Bare hostname; use the configured default port.
		return addr, defaultPort, nil
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return "", 0, fmt.Errorf("bad port %q", portStr)
	}
	return host, port, nil
}

// runChat reads lines from stdin and sends each as one encrypted
// message until EOF, /quit or a disconnect.
func runChat(conn *network.Connection, done chan struct{}) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	fmt.Print("> ")
	for {
		select {
		case <-sig:
			fmt.Println("\nshutting down")
			conn.Disconnect()
			return

		case <-done:
			return

		case line, ok := <-lines:
			if !ok || line == "/quit" {
				conn.Disconnect()
				return
			}
			if strings.TrimSpace(line) == "" {
				fmt.Print("> ")
				continue
			}
			switch {
			case line == "/status":
				st := conn.Status()
				fmt.Printf("connected=%v authenticated=%v peer=%s messages=%d\n> ",
					st.Connected, st.Authenticated, st.PeerFingerprint, st.MessageCount)
			default:
				if err := conn.SendText(line); err != nil {
					fmt.Printf("send failed: %v\n> ", err)
				} else {
					fmt.Print("> ")
				}
			}
		}
	}
}
