package main

import (
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/opd-ai/discv/crypto"
)

func newKeygenCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate a node key",
		Long:  "keygen prints a fresh private key, suitable for private_key in the config file, followed by its node id.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, err := crypto.GenerateKeyPair()
			if err != nil {
				return err
			}
			defer func() { _ = crypto.WipeKeyPair(key) }()
			secret := key.Secret()
			defer crypto.ZeroBytes(secret)

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "private_key: %s\n", hex.EncodeToString(secret))
			fmt.Fprintf(out, "node_id:     %s\n", key.ID)
			return nil
		},
	}
}
