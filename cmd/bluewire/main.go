// Bluewire — CLI entry point.
//
// This tool runs a secure framed conversation between exactly two peers over
// an unreliable ordered byte stream: Bluetooth RFCOMM, TCP, WebSocket, or a
// WebRTC DataChannel. Messages and media survive connection drops; the
// session reconnects, resumes its sealed channel and replays lost frames.
//
// It can be launched interactively (no flags) or non-interactively via CLI
// flags (-role, -transport, -addr, -channel, -pin, -config).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/pterm/pterm"

	"github.com/hazelv/bluewire/internal/config"
	"github.com/hazelv/bluewire/internal/keystore"
	"github.com/hazelv/bluewire/internal/link"
	"github.com/hazelv/bluewire/internal/session"
	"github.com/hazelv/bluewire/internal/transfer"
	"github.com/hazelv/bluewire/internal/util"
)

var version = "dev"

func main() {
	// Root context — cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// CLI flags.
	roleFlag := flag.String("role", "", "Role: host or client")
	transportFlag := flag.String("transport", "", "Transport: tcp, rfcomm, ws or webrtc")
	addrFlag := flag.String("addr", "", "Peer address (client) or listen address (host)")
	channelFlag := flag.Int("channel", 0, "RFCOMM channel (rfcomm transport only)")
	pinFlag := flag.String("pin", "", "Shared link PIN (ws and webrtc transports)")
	configFlag := flag.String("config", "", "Path to a TOML config file")
	debugMode := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	if *debugMode {
		util.EnableDebug()
	}

	pterm.Info.Println(fmt.Sprintf("Bluewire — v%s", version))
	pterm.Println()

	cfg := config.Default()
	if *configFlag != "" {
		var err error
		cfg, err = config.Load(*configFlag)
		if err != nil {
			util.LogError("%v", err)
			os.Exit(1)
		}
	}
	if *transportFlag != "" {
		cfg.Transport = *transportFlag
	}
	if *addrFlag != "" {
		cfg.Addr = *addrFlag
	}
	if *channelFlag != 0 {
		cfg.Channel = *channelFlag
	}
	if *pinFlag != "" {
		cfg.PIN = *pinFlag
	}

	var role session.Role
	switch *roleFlag {
	case "":
		// No -role flag → interactive mode.
		role = askRole()
		askMissing(&cfg, role)
	case "host":
		role = session.RoleHost
	case "client":
		role = session.RoleClient
	default:
		util.LogError("invalid -role: must be 'host' or 'client'")
		os.Exit(1)
	}

	if err := run(ctx, cfg, role); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
	util.LogInfo("session closed")
}

func run(ctx context.Context, cfg config.Config, role session.Role) error {
	provider, err := buildProvider(cfg, role)
	if err != nil {
		return err
	}

	var keys *keystore.Store
	if cfg.KeystorePath != "" {
		keys, err = keystore.Open(cfg.KeystorePath)
		if err != nil {
			util.LogWarning("keystore unavailable, resume disabled: %v", err)
			keys = nil
		}
	}

	sess := session.New(provider, session.Config{
		Role:        role,
		Heartbeat:   cfg.HeartbeatInterval.Std(),
		MaxAttempts: cfg.MaxAttempts,
		BackoffBase: cfg.BackoffBase.Std(),
		BackoffCap:  cfg.BackoffCap.Std(),
		ReplayBytes: cfg.ReplayBytes,
		Transfer: transfer.Config{
			Window:  cfg.TransferWindow,
			Timeout: cfg.TransferTimeout.Std(),
		},
		Keys: keys,
	})

	util.StartStatsReporter(ctx)

	runErr := make(chan error, 1)
	go func() { runErr <- sess.Run(ctx) }()

	return runChat(ctx, sess, cfg.DownloadDir, runErr)
}

// buildProvider assembles the connection provider for the chosen transport.
func buildProvider(cfg config.Config, role session.Role) (link.Provider, error) {
	host := role == session.RoleHost

	switch cfg.Transport {
	case "tcp":
		if host {
			addr := cfg.Addr
			if addr == "" {
				addr = ":0"
			}
			ln, err := link.ListenTCP(addr)
			if err != nil {
				return nil, err
			}
			util.LogSuccess("listening on %s", ln.Addr())
			return link.NewAcceptProvider(ln), nil
		}
		if cfg.Addr == "" {
			return nil, fmt.Errorf("missing peer address for tcp transport")
		}
		return link.NewDialProvider(&link.TCPDialer{Addr: cfg.Addr}), nil

	case "rfcomm":
		if host {
			ln, err := link.ListenRFCOMM(uint8(cfg.Channel))
			if err != nil {
				return nil, err
			}
			util.LogSuccess("listening on %s", ln.Addr())
			return link.NewAcceptProvider(ln), nil
		}
		if cfg.Addr == "" {
			return nil, fmt.Errorf("missing Bluetooth device address for rfcomm transport")
		}
		return link.NewDialProvider(&link.RFCOMMDialer{Addr: cfg.Addr, Channel: uint8(cfg.Channel)}), nil

	case "ws":
		if host {
			ln, err := link.ListenWS(cfg.Addr, cfg.PIN)
			if err != nil {
				return nil, err
			}
			util.LogSuccess("peers can connect to ws://%s/link?pin=%s", ln.Addr(), cfg.PIN)
			return link.NewAcceptProvider(ln), nil
		}
		return link.NewDialProvider(&link.WSDialer{URL: linkURL(cfg.Addr, cfg.PIN)}), nil

	case "webrtc":
		if host {
			p, err := link.NewWebRTCHostProvider(cfg.Addr, cfg.PIN)
			if err != nil {
				return nil, err
			}
			util.LogSuccess("signaling on ws://%s/link?pin=%s", p.SignalAddr(), cfg.PIN)
			return p, nil
		}
		return &link.WebRTCDialProvider{URL: linkURL(cfg.Addr, cfg.PIN)}, nil

	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}
}

// linkURL turns a bare host:port into a full link endpoint URL, leaving
// already-complete URLs alone.
func linkURL(addr, pin string) string {
	if strings.Contains(addr, "://") {
		return addr
	}
	return fmt.Sprintf("ws://%s/link?pin=%s", addr, pin)
}

// ---------------------------------------------------------------------------
// Interactive prompts
// ---------------------------------------------------------------------------

func askRole() session.Role {
	role, _ := pterm.DefaultInteractiveSelect.
		WithOptions([]string{"Host   — Wait for a peer to connect", "Client — Connect to a host"}).
		WithDefaultText("Select your role").
		Show()
	pterm.Println()

	if strings.HasPrefix(role, "Host") {
		return session.RoleHost
	}
	return session.RoleClient
}

// askMissing fills in the transport and address interactively.
func askMissing(cfg *config.Config, role session.Role) {
	transport, _ := pterm.DefaultInteractiveSelect.
		WithOptions([]string{"tcp", "rfcomm", "ws", "webrtc"}).
		WithDefaultText("Select a transport").
		Show()
	pterm.Println()
	cfg.Transport = transport

	switch transport {
	case "rfcomm":
		if role == session.RoleClient {
			cfg.Addr = askText("Bluetooth device address (AA:BB:CC:DD:EE:FF)")
		}
	case "ws", "webrtc":
		if role == session.RoleClient {
			cfg.Addr = askText("Host endpoint (host:port or full URL)")
		}
		cfg.PIN = askText("Shared link PIN")
	default:
		if role == session.RoleClient {
			cfg.Addr = askText("Host address (host:port)")
		} else {
			cfg.Addr = askText("Listen address (empty picks a free port)")
		}
	}
}

func askText(prompt string) string {
	raw, _ := pterm.DefaultInteractiveTextInput.
		WithDefaultText(prompt).
		Show()
	pterm.Println()
	return strings.TrimSpace(raw)
}
