// Command strandecho is a demo/integration binary wiring factory.Factory
// end to end over a real UDP socket: it listens for inbound connections
// and echoes every stream's bytes back to the sender, and can
// optionally dial a peer on startup. Grounded on the teacher's
// flag-driven, signal-terminated main() idiom (talek/frontend/main.go,
// talek/replica/main.go) and client2/connection.go's
// log.NewWithOptions(os.Stderr, log.Options{...}) logger construction.
package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"

	"github.com/carlmjohnson/versioninfo"
	"github.com/charmbracelet/log"
	"golang.org/x/net/ipv4"

	"github.com/xendarboh/strand/config"
	"github.com/xendarboh/strand/factory"
	"github.com/xendarboh/strand/scrypto"
	"github.com/xendarboh/strand/transport"
)

func main() {
	var configPath string
	var dialAddr string
	var remoteKeyHex string
	var showVersion bool

	flag.StringVar(&configPath, "config", "strandecho.toml", "Configuration file path")
	flag.StringVar(&dialAddr, "dial", "", "Peer address to dial on startup (host:port)")
	flag.StringVar(&remoteKeyHex, "remote-key", "", "Peer's hex-encoded X25519 static public key, required with -dial")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.Parse()

	if showVersion {
		fmt.Println(versioninfo.Version)
		return
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "strandecho: %v\n", err)
		os.Exit(1)
	}

	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		Prefix:          "strandecho",
	})
	switch cfg.Logging.Level {
	case "DEBUG":
		logger.SetLevel(log.DebugLevel)
	case "WARN":
		logger.SetLevel(log.WarnLevel)
	case "ERROR":
		logger.SetLevel(log.ErrorLevel)
	default:
		logger.SetLevel(log.InfoLevel)
	}

	enclave, err := cfg.LoadIdentity()
	if err != nil {
		logger.Errorf("loading identity: %v", err)
		os.Exit(1)
	}
	keys, err := config.KeyPair(enclave)
	if err != nil {
		logger.Errorf("deriving identity keypair: %v", err)
		os.Exit(1)
	}

	udpAddr, err := net.ResolveUDPAddr("udp", cfg.Listen.Address)
	if err != nil {
		logger.Errorf("resolving %s: %v", cfg.Listen.Address, err)
		os.Exit(1)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		logger.Errorf("listening on %s: %v", cfg.Listen.Address, err)
		os.Exit(1)
	}
	defer conn.Close()

	// Mark outbound datagrams low-delay: this protocol's retry/pacing
	// timers are latency-sensitive, so they benefit from the same DSCP
	// treatment interactive traffic gets.
	if pc := ipv4.NewPacketConn(conn); pc != nil {
		if err := pc.SetTOS(0x10); err != nil {
			logger.Debugf("setting IPv4 TOS failed (non-fatal): %v", err)
		}
	}

	f := factory.New(conn, keys, logger)
	f.Listen(&echoListenDelegate{log: logger})
	logger.Infof("listening on %s, static public key %s", cfg.Listen.Address, hex.EncodeToString(keys.Public[:]))

	if dialAddr != "" {
		remoteKey, err := decodeRemoteKey(remoteKeyHex)
		if err != nil {
			logger.Errorf("%v", err)
			os.Exit(1)
		}
		if _, err := f.Dial(dialAddr, remoteKey, &echoDelegate{log: logger, addr: dialAddr}); err != nil {
			logger.Errorf("dialing %s: %v", dialAddr, err)
			os.Exit(1)
		}
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	<-sig
	logger.Infof("shutting down")
	f.Close()
}

func decodeRemoteKey(s string) ([32]byte, error) {
	var out [32]byte
	if s == "" {
		return out, fmt.Errorf("strandecho: -remote-key is required with -dial")
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return out, fmt.Errorf("strandecho: decoding -remote-key: %w", err)
	}
	if len(b) != scrypto.KeySize {
		return out, fmt.Errorf("strandecho: -remote-key must decode to %d bytes, got %d", scrypto.KeySize, len(b))
	}
	copy(out[:], b)
	return out, nil
}

// echoListenDelegate accepts every inbound peer and hands each its own
// echoDelegate.
type echoListenDelegate struct {
	log *log.Logger
}

func (d *echoListenDelegate) ShouldAccept(addr string) bool { return true }

func (d *echoListenDelegate) NewDelegate(addr string) transport.Delegate {
	return &echoDelegate{log: d.log, addr: addr}
}

// echoDelegate writes every received chunk straight back onto the same
// stream it arrived on.
type echoDelegate struct {
	transport.NopDelegate
	log  *log.Logger
	addr string
}

func (d *echoDelegate) DidCreateTransport(t *transport.Transport) {
	d.log.Infof("transport created for %s", d.addr)
}

func (d *echoDelegate) DidDial(t *transport.Transport) {
	d.log.Infof("handshake established with %s", d.addr)
}

func (d *echoDelegate) DidRecv(t *transport.Transport, streamID uint16, data []byte) {
	d.log.Debugf("stream %d: %d bytes from %s, echoing", streamID, len(data), d.addr)
	if code := t.Send(streamID, data); code != transport.SendOK {
		d.log.Warnf("echo send on stream %d failed with code %d", streamID, code)
	}
}

func (d *echoDelegate) DidClose(t *transport.Transport, reason uint16) {
	d.log.Infof("connection to %s closed, reason %d", d.addr, reason)
}
