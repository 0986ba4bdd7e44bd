// Command lotto is the player's wallet CLI: it manages a key, draws and
// keeps lottery tickets, and talks to a node over JSON-RPC.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/tolelom/lottochain/config"
	"github.com/tolelom/lottochain/crypto"
	"github.com/tolelom/lottochain/rpc"
	"github.com/tolelom/lottochain/wallet"
)

type options struct {
	endpoint  string
	token     string
	keyPath   string
	ticketDir string
	fee       uint64
	caPath    string
	certPath  string
	certKey   string
	verbose   bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	home, _ := os.UserHomeDir()

	root := &cobra.Command{
		Use:          "lotto",
		Short:        "Play the lottochain commit-reveal lottery",
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := zerolog.WarnLevel
			if opts.verbose {
				level = zerolog.DebugLevel
			}
			log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()
		},
	}

	f := root.PersistentFlags()
	f.StringVar(&opts.endpoint, "rpc", "http://localhost:8545", "node JSON-RPC endpoint")
	f.StringVar(&opts.token, "token", os.Getenv("LOTTO_RPC_TOKEN"), "RPC bearer token")
	f.StringVar(&opts.keyPath, "key", filepath.Join(home, ".lotto", "wallet.key"), "keystore file")
	f.StringVar(&opts.ticketDir, "tickets", filepath.Join(home, ".lotto", "tickets"), "directory tickets are kept in")
	f.Uint64Var(&opts.fee, "fee", 0, "transaction fee")
	f.StringVar(&opts.caPath, "ca", "", "CA certificate pinning a TLS endpoint")
	f.StringVar(&opts.certPath, "cert", "", "client certificate for mTLS")
	f.StringVar(&opts.certKey, "cert-key", "", "client certificate key for mTLS")
	f.BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(
		newKeygenCmd(opts),
		newCommitCmd(),
		newJoinCmd(opts),
		newRevealCmd(opts),
		newForceCmd(opts),
		newStatusCmd(opts),
		newWatchCmd(opts),
		newReceiptCmd(opts),
		newCertCmd(),
	)
	return root
}

func (o *options) client() (*rpc.Client, error) {
	if o.caPath == "" && o.certPath == "" {
		return rpc.NewClient(o.endpoint, o.token, nil), nil
	}
	tlsCfg, err := config.ClientTLSConfig(o.caPath, o.certPath, o.certKey)
	if err != nil {
		return nil, err
	}
	return rpc.NewClient(o.endpoint, o.token, tlsCfg), nil
}

func (o *options) wallet() (*wallet.Wallet, error) {
	priv, err := wallet.LoadKey(o.keyPath, os.Getenv("LOTTO_PASSWORD"))
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", o.keyPath, err)
	}
	return wallet.New(priv), nil
}

func newKeygenCmd(opts *options) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Create a new wallet key (password from LOTTO_PASSWORD)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(opts.keyPath); err == nil && !force {
				return fmt.Errorf("%s exists; pass --force to overwrite", opts.keyPath)
			}
			w, err := wallet.Generate()
			if err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(opts.keyPath), 0o700); err != nil {
				return err
			}
			if err := wallet.SaveKey(opts.keyPath, os.Getenv("LOTTO_PASSWORD"), w.PrivKey()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "address: %s\nsaved:   %s\n", w.PubKey(), opts.keyPath)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing key")
	return cmd
}

// chainInfo is what every transaction needs from the node.
type chainInfo struct {
	chainID string
	nonce   uint64
}

func fetchChainInfo(ctx context.Context, c *rpc.Client, addr string) (*chainInfo, error) {
	var acc struct {
		Nonce uint64 `json:"nonce"`
	}
	if err := c.Call(ctx, "getBalance", map[string]string{"address": addr}, &acc); err != nil {
		return nil, fmt.Errorf("account: %w", err)
	}
	var chainID string
	if err := c.Call(ctx, "getChainId", nil, &chainID); err != nil {
		return nil, fmt.Errorf("chain id: %w", err)
	}
	return &chainInfo{chainID: chainID, nonce: acc.Nonce}, nil
}

func shortAddr(a string) string {
	if !crypto.IsPubKeyHex(a) {
		return a
	}
	return a[:8] + "…" + a[len(a)-6:]
}
