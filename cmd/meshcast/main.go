package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/meshcast/meshcast/internal/console"
	"github.com/meshcast/meshcast/internal/identity"
	"github.com/meshcast/meshcast/internal/node"
	"github.com/meshcast/meshcast/internal/transport"
	"github.com/spf13/cobra"
)

func loadCredentials(certFile, keyFile string) (*identity.Credentials, error) {
	switch {
	case certFile == "" && keyFile == "":
		return identity.Generate()
	case certFile == "" || keyFile == "":
		return nil, fmt.Errorf("--cert and --key must be given together")
	default:
		return identity.Load(certFile, keyFile)
	}
}

var rootCmd = &cobra.Command{
	Use:   "meshcast",
	Short: "A peer-to-peer broadcast node",
	Long: `Meshcast — periodic broadcast over a peer-to-peer mesh.

Every node listens for peers, joins the mesh through any one of them,
and from then on sends a fresh random message to everyone it knows at
a fixed period. Connections are QUIC; each message travels on its own
stream, so one slow peer never blocks another.`,
}

// ─── run ─────────────────────────────────────────────────────────────────────

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start a node",
	RunE: func(cmd *cobra.Command, args []string) error {
		period, _ := cmd.Flags().GetInt("period")
		ip, _ := cmd.Flags().GetString("ip")
		port, _ := cmd.Flags().GetUint16("port")
		connect, _ := cmd.Flags().GetString("connect")
		skipVerify, _ := cmd.Flags().GetBool("insecure-skip-verify")
		certFile, _ := cmd.Flags().GetString("cert")
		keyFile, _ := cmd.Flags().GetString("key")

		if period <= 0 {
			return fmt.Errorf("--period must be positive, got %d", period)
		}

		creds, err := loadCredentials(certFile, keyFile)
		if err != nil {
			return err
		}

		log := console.New(os.Stdout)
		tr := transport.NewQUIC(fmt.Sprintf("%s:%d", ip, port), creds, skipVerify)

		n, err := node.New(node.Config{
			Transport: tr,
			Period:    time.Duration(period) * time.Second,
			Bootstrap: connect,
			Logger:    log,
		})
		if err != nil {
			return err
		}
		if err := n.Start(); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		<-ctx.Done()

		log.Info("Shutting down")
		n.Stop()
		return nil
	},
}

// ─── certgen ─────────────────────────────────────────────────────────────────

var certgenCmd = &cobra.Command{
	Use:   "certgen",
	Short: "Generate a self-signed certificate and key",
	RunE: func(cmd *cobra.Command, args []string) error {
		certFile, _ := cmd.Flags().GetString("cert")
		keyFile, _ := cmd.Flags().GetString("key")

		creds, err := identity.Generate()
		if err != nil {
			return err
		}
		if err := creds.WritePEM(certFile, keyFile); err != nil {
			return err
		}

		fmt.Printf("\n✓ Certificate generated\n")
		fmt.Printf("  Cert : %s\n", certFile)
		fmt.Printf("  Key  : %s\n\n", keyFile)
		fmt.Println("Pass both to 'meshcast run --cert <cert> --key <key>'.")
		fmt.Println("Peers that pin nothing can join with --insecure-skip-verify.")
		return nil
	},
}

func init() {
	runCmd.Flags().Int("period", 0, "Seconds between broadcasts (required)")
	runCmd.Flags().String("ip", "127.0.0.1", "IP address to listen on")
	runCmd.Flags().Uint16("port", 0, "UDP port to listen on (required)")
	runCmd.Flags().String("connect", "", "Address of a peer to join the mesh through (host:port)")
	runCmd.Flags().Bool("insecure-skip-verify", false, "Accept any peer certificate")
	runCmd.Flags().String("cert", "", "TLS certificate file (PEM)")
	runCmd.Flags().String("key", "", "TLS private key file (PEM)")
	_ = runCmd.MarkFlagRequired("period")
	_ = runCmd.MarkFlagRequired("port")

	certgenCmd.Flags().String("cert", "cert.pem", "Where to write the certificate")
	certgenCmd.Flags().String("key", "key.pem", "Where to write the private key")

	rootCmd.AddCommand(runCmd, certgenCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
