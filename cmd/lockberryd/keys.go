package main

import (
	"encoding/base64"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/blockberries/lockberry/admin"
	"github.com/blockberries/lockberry/types"
)

var (
	keyFile    string
	stateFile  string
	signCaller string
	signDomain string
	signNonce  uint64
	forceKey   bool
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate an admin signing key",
	Long: `Generate an ed25519 admin key. The printed public key goes into ` +
		`ledger.admin_keys of the daemon config.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := os.Stat(keyFile); err == nil && !forceKey {
			return fmt.Errorf("key file %s exists; pass --force to replace it", keyFile)
		}
		s, err := admin.GenerateFileSigner(keyFile, stateFile)
		if err != nil {
			return err
		}
		defer s.Close()
		fmt.Fprintln(cmd.OutOrStdout(), base64.StdEncoding.EncodeToString(s.GetPubKey()))
		return nil
	},
}

var signShutdownCmd = &cobra.Command{
	Use:   "sign-shutdown",
	Short: "Sign a shutdown command with an admin key",
	Long: `Sign a shutdown command and print the headers to send with ` +
		`POST /v1/admin/shutdown. The nonce defaults to one past the last ` +
		`nonce this key signed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		caller := types.NewAccountName(signCaller)
		if err := caller.ValidateBasic(); err != nil {
			return fmt.Errorf("invalid caller: %w", err)
		}
		domain := signDomain
		if domain == "" {
			cfg, err := LoadConfig(configPath, envFile)
			if err != nil {
				return err
			}
			domain = cfg.Ledger.AdminDomain
		}

		s, err := admin.NewFileSigner(keyFile, stateFile)
		if err != nil {
			return err
		}
		defer s.Close()

		req := admin.Request{Caller: caller, Action: admin.ActionShutdown, Nonce: signNonce}
		if err := s.Sign(domain, &req); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "X-Caller: %s\n", req.Caller)
		fmt.Fprintf(out, "X-Admin-Nonce: %s\n", strconv.FormatUint(req.Nonce, 10))
		fmt.Fprintf(out, "X-Admin-Signature: %s\n", base64.StdEncoding.EncodeToString(req.Signature))
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{keygenCmd, signShutdownCmd} {
		c.Flags().StringVar(&keyFile, "key", "admin_key.json", "admin key file")
		c.Flags().StringVar(&stateFile, "state", "admin_state.json", "admin nonce state file")
	}
	keygenCmd.Flags().BoolVar(&forceKey, "force", false, "replace an existing key file")
	signShutdownCmd.Flags().StringVar(&signCaller, "caller", "", "admin name the key is registered under")
	signShutdownCmd.Flags().StringVar(&signDomain, "domain", "", "signing domain (defaults to ledger.admin_domain)")
	signShutdownCmd.Flags().Uint64Var(&signNonce, "nonce", 0, "explicit nonce (0 picks the next one)")
	_ = signShutdownCmd.MarkFlagRequired("caller")
}
