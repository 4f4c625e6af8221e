// Package cmd wires the node's components into the ocpnoded binary:
// start runs a peer, identity prints the local directory entry, add-peer
// edits the peer directory, status prints a table's replayed state, and
// archive exports completed hands as PHH.
package cmd

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"cosmossdk.io/log"
	"github.com/spf13/cobra"

	"ocpoker/internal/archive"
	"ocpoker/internal/config"
	"ocpoker/internal/entry"
	"ocpoker/internal/identity"
	"ocpoker/internal/logstore"
	"ocpoker/internal/node"
	"ocpoker/internal/ocrypto"
	"ocpoker/internal/replay"
	"ocpoker/internal/transport"
)

// NewRootCmd builds the ocpnoded command tree.
func NewRootCmd() *cobra.Command {
	var home string
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "ocpnoded",
		Short:         "Decentralised peer-to-peer poker node",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&home, "home", defaultHome(), "node home directory")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (optional)")

	rootCmd.AddCommand(
		startCmd(&home, &configPath),
		identityCmd(&home, &configPath),
		addPeerCmd(&home),
		statusCmd(&home, &configPath),
		archiveCmd(&home, &configPath),
	)
	return rootCmd
}

func defaultHome() string {
	if h, err := os.UserHomeDir(); err == nil {
		return filepath.Join(h, ".ocpoker")
	}
	return ".ocpoker"
}

func loadConfig(path string) (config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func startCmd(home, configPath *string) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Run the node until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.ListenAddress = listen
			}

			logger := log.NewLogger(os.Stderr)

			adapter, err := transport.ListenUDP(cfg.ListenAddress)
			if err != nil {
				return err
			}
			defer adapter.Close()

			n, err := node.New(*home, cfg, logger, adapter)
			if err != nil {
				return err
			}
			logger.Info("listening", "address", adapter.LocalAddress(), "id", n.Identity().NodeID())

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return n.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "UDP listen address (overrides config)")
	return cmd
}

// directoryEntry is what a node publishes so peers can add it: everything
// add-peer needs on the other side.
type directoryEntry struct {
	NodeID       string `json:"nodeId"`
	PublicKey    string `json:"publicKey"`
	HandshakePub string `json:"handshakePub"`
	DisplayName  string `json:"displayName"`
}

func identityCmd(home, configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "identity",
		Short: "Print this node's directory entry (creating the identity on first run)",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			id, err := identity.Load(*home, cfg.DisplayName)
			if err != nil {
				return err
			}
			hs, err := transport.StaticHandshakeKeypair(id.HandshakeSeed())
			if err != nil {
				return err
			}
			pub := id.Public()
			out, err := json.MarshalIndent(directoryEntry{
				NodeID:       pub.NodeID.String(),
				PublicKey:    hex.EncodeToString(pub.PublicKey.Bytes()),
				HandshakePub: hex.EncodeToString(hs.Public[:]),
				DisplayName:  pub.DisplayName,
			}, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
}

// persistedPeer mirrors the node package's peers.json schema.
type persistedPeer struct {
	PublicKey    []byte `json:"publicKey"`
	HandshakePub []byte `json:"handshakePub"`
	Address      string `json:"address"`
}

type persistedPeers struct {
	Peers []persistedPeer `json:"peers"`
}

func addPeerCmd(home *string) *cobra.Command {
	return &cobra.Command{
		Use:   "add-peer <public-key-hex> <handshake-pub-hex> <address>",
		Short: "Add a peer's directory entry to this node's peer file",
		Args:  cobra.ExactArgs(3),
		RunE: func(_ *cobra.Command, args []string) error {
			pubBytes, err := hex.DecodeString(args[0])
			if err != nil {
				return fmt.Errorf("bad public key hex: %w", err)
			}
			if _, err := ocrypto.PublicKeyFromBytes(pubBytes); err != nil {
				return err
			}
			hsBytes, err := hex.DecodeString(args[1])
			if err != nil || len(hsBytes) != 32 {
				return fmt.Errorf("bad handshake key hex")
			}

			path := filepath.Join(*home, "peers.json")
			var pp persistedPeers
			if b, err := os.ReadFile(path); err == nil {
				if err := json.Unmarshal(b, &pp); err != nil {
					return fmt.Errorf("decode %s: %w", path, err)
				}
			}
			pp.Peers = append(pp.Peers, persistedPeer{
				PublicKey:    pubBytes,
				HandshakePub: hsBytes,
				Address:      args[2],
			})
			if err := os.MkdirAll(*home, 0o755); err != nil {
				return err
			}
			b, err := json.MarshalIndent(pp, "", "  ")
			if err != nil {
				return err
			}
			return os.WriteFile(path, b, 0o644)
		},
	}
}

func statusCmd(home, configPath *string) *cobra.Command {
	var tableID uint64
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print a table's replayed state snapshot and digest",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			store, err := logstore.Load(*home, cfg.LogInitialCap*64, func(ocrypto.Hash256) (ocrypto.PublicKey, bool) {
				return ocrypto.PublicKey{}, false
			})
			if err != nil {
				return err
			}

			table := replay.NewTable(tableID)
			for _, e := range store.EntriesForTable(tableID) {
				if !entry.IsKnown(e.Kind) {
					continue
				}
				if err := table.Apply(e); err != nil {
					fmt.Fprintf(os.Stderr, "skipping entry %d: %v\n", e.Sequence, err)
				}
			}

			digest, err := table.Digest()
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(struct {
				Digest string          `json:"digest"`
				State  replay.Snapshot `json:"state"`
			}{Digest: digest.String(), State: table.Snapshot()}, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
	cmd.Flags().Uint64Var(&tableID, "table", 0, "table id to inspect")
	return cmd
}

func archiveCmd(home, configPath *string) *cobra.Command {
	var tableID uint64
	var variant string
	var day, month, year int
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Export a table's completed hands as a PHH archive to stdout",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			// Archiving is read-only; no key resolution is needed because
			// stored entries were verified on install.
			store, err := logstore.Load(*home, cfg.LogInitialCap*64, func(ocrypto.Hash256) (ocrypto.PublicKey, bool) {
				return ocrypto.PublicKey{}, false
			})
			if err != nil {
				return err
			}

			meta := archive.HandMeta{Variant: variant, Day: day, Month: month, Year: year}
			tableEntries := store.EntriesForTable(tableID)
			for _, e := range tableEntries {
				if e.Kind != entry.KindTableCreate {
					continue
				}
				if p, err := entry.DecodePayload(e.Kind, e.Payload); err == nil {
					tc := p.(*entry.TableCreatePayload)
					meta.SmallBlind = tc.SmallBlind
					meta.BigBlind = tc.BigBlind
					break
				}
			}

			groups := archive.ExtractHands(tableEntries)
			hands := make([]archive.Hand, 0, len(groups))
			for _, g := range groups {
				h, err := archive.BuildHand(g, meta)
				if err != nil {
					fmt.Fprintf(os.Stderr, "skipping hand: %v\n", err)
					continue
				}
				hands = append(hands, h)
			}
			if len(hands) == 0 {
				return fmt.Errorf("no completed hands for table %d", tableID)
			}
			fmt.Print(archive.RenderFile(hands))
			return nil
		},
	}
	cmd.Flags().Uint64Var(&tableID, "table", 0, "table id to archive")
	cmd.Flags().StringVar(&variant, "variant", "NT", "PHH variant tag")
	cmd.Flags().IntVar(&day, "day", 1, "event day")
	cmd.Flags().IntVar(&month, "month", 1, "event month")
	cmd.Flags().IntVar(&year, "year", 2026, "event year")
	return cmd
}
