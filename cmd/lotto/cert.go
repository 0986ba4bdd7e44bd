package main

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/tolelom/lottochain/crypto/certgen"
)

func newCertCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cert",
		Short: "Certificate tools for a TLS-protected RPC endpoint",
	}
	cmd.AddCommand(newCertGenCmd())
	return cmd
}

func newCertGenCmd() *cobra.Command {
	var outDir, clientName string
	var hosts []string
	cmd := &cobra.Command{
		Use:   "gen",
		Short: "Generate a development CA with RPC server and client certificates",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := certgen.GenerateAll(outDir, &certgen.Options{Hosts: hosts, ClientName: clientName}); err != nil {
				return err
			}
			log.Info().Str("dir", outDir).Strs("hosts", hosts).Msg("certificates written")
			cmd.Printf("certificates written to %s\n", outDir)
			return nil
		},
	}
	cmd.Flags().StringVarP(&outDir, "out", "o", "certs", "output directory")
	cmd.Flags().StringSliceVar(&hosts, "host", []string{"localhost", "127.0.0.1"}, "server certificate hostnames/IPs")
	cmd.Flags().StringVar(&clientName, "client", "lotto-player", "client certificate common name")
	return cmd
}
