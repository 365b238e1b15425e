// Copyright © 2026, Project2 PDF Sanitise contributors.  All Rights Reserved.
// SPDX-License-Identifier: BSD-3-Clause

// pdfstz is the operator CLI over the sanitizer core. External callers (the
// GUI, a host service) use the same programmatic surface the `sanitize`
// subcommand does; the hidden `worker` subcommand is the child-process entry
// the isolation harness re-execs.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	sanitize "github.com/loukasr-byte/Project2-PDF-Sanitise"
	"github.com/loukasr-byte/Project2-PDF-Sanitise/logger"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var verbose bool
	root := &cobra.Command{
		Use:           "pdfstz",
		Short:         "Defense-grade PDF sanitizer",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			wireLogger(verbose)
		},
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	root.AddCommand(newSanitizeCmd(), newWorkerCmd(), newVerifyAuditCmd(), newSignConfigCmd())
	return root
}

// wireLogger routes the core's logging facade into zap.
func wireLogger(verbose bool) {
	zcfg := zap.NewProductionConfig()
	if verbose {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.OutputPaths = []string{"stderr"}
	zl, err := zcfg.Build()
	if err != nil {
		return
	}
	sugar := zl.Sugar()
	logger.SetLogger(func(level logger.LogLevel, msg string, keyvals ...interface{}) {
		switch level {
		case logger.ErrorLevel:
			sugar.Errorw(msg, keyvals...)
		default:
			if verbose {
				sugar.Debugw(msg, keyvals...)
			}
		}
	})
}

func newSanitizeCmd() *cobra.Command {
	var (
		configPath  string
		pubKeyPath  string
		output      string
		operator    string
		class       string
		policy      string
		attestedRO  bool
		attestedBy  string
		inProcess   bool
	)
	cmd := &cobra.Command{
		Use:   "sanitize <input.pdf> [input2.pdf ...]",
		Short: "Sanitize one or more PDF files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath, pubKeyPath)
			if err != nil {
				return err
			}
			if policy != "" {
				cfg.Policy = sanitize.Policy(policy)
				if err := cfg.Validate(); err != nil {
					return fmt.Errorf("policy override: %w", err)
				}
			}

			key, err := sanitize.ResolveKeyRef(cfg.HMACKeyRef)
			if err != nil {
				return err
			}
			audit, err := sanitize.NewAuditWriter(cfg.AuditDir, key)
			if err != nil {
				return err
			}
			defer audit.Close()

			var parser sanitize.Parser = &sanitize.IsolatedParser{}
			if inProcess {
				parser = sanitize.InProcessParser{}
			}
			ctrl, err := sanitize.NewController(cfg, audit, parser)
			if err != nil {
				return err
			}

			host, _ := os.Hostname()
			queue := sanitize.NewQueue(ctrl)
			for _, in := range args {
				queue.Add(sanitize.JobRequest{
					InputPath:      in,
					OutputPath:     singleOutput(output, len(args)),
					Operator:       operator,
					WorkstationID:  host,
					Classification: class,
					Attestation: &sanitize.SourceAttestation{
						ReadOnly:  attestedRO,
						Timestamp: time.Now().UTC(),
						Source:    attestedBy,
					},
				})
			}

			failed := 0
			for {
				res, ok := queue.ProcessNext(context.Background())
				if !ok {
					break
				}
				if res.Status == sanitize.StatusSuccess {
					fmt.Printf("%s  %s -> %s (%d threats removed, %d ms)\n",
						res.Status, res.EventID, res.OutputPath, len(res.Threats), res.ProcessingMS)
				} else {
					failed++
					fmt.Printf("%s  %s  %s: %s\n", res.Status, res.EventID, res.Taxon, res.FailureReason)
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d job(s) did not succeed", failed)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "TOML configuration file")
	cmd.Flags().StringVar(&pubKeyPath, "config-pubkey", "", "PEM public key; require a valid config signature")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output path (single input only)")
	cmd.Flags().StringVar(&operator, "operator", "operator", "operator identity for the audit trail")
	cmd.Flags().StringVar(&class, "classification", "UNCLASSIFIED", "classification tag for the audit trail")
	cmd.Flags().StringVar(&policy, "policy", "", "override policy: AGGRESSIVE or LENIENT")
	cmd.Flags().BoolVar(&attestedRO, "source-readonly", false, "attest that the source medium is mounted read-only")
	cmd.Flags().StringVar(&attestedBy, "attestation-source", "cli", "identifier of the attestation source")
	cmd.Flags().BoolVar(&inProcess, "no-isolation", false, "parse in process (trusted inputs only)")
	return cmd
}

func singleOutput(output string, n int) string {
	if n == 1 {
		return output
	}
	return ""
}

func loadConfig(configPath, pubKeyPath string) (*sanitize.Config, error) {
	switch {
	case configPath == "":
		return sanitize.NewDefaultConfig(), nil
	case pubKeyPath != "":
		return sanitize.LoadSignedConfig(configPath, pubKeyPath)
	default:
		return sanitize.LoadConfig(configPath)
	}
}

func newWorkerCmd() *cobra.Command {
	var input, output string
	cmd := &cobra.Command{
		Use:    "worker",
		Hidden: true,
		Short:  "Isolated parse worker (internal)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if input == "" || output == "" {
				return fmt.Errorf("worker: --input and --output are required")
			}
			os.Exit(sanitize.RunWorker(input, output))
			return nil
		},
	}
	cmd.Flags().StringVar(&input, "input", "", "input PDF path")
	cmd.Flags().StringVar(&output, "output", "", "job directory")
	return cmd
}

func newVerifyAuditCmd() *cobra.Command {
	var keyRef string
	cmd := &cobra.Command{
		Use:   "verify-audit <record.json> [...]",
		Short: "Verify the HMAC of stored audit records",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := sanitize.ResolveKeyRef(keyRef)
			if err != nil {
				return err
			}
			suspect := 0
			for _, path := range args {
				ev, err := sanitize.ReadEvent(path)
				if err != nil {
					return err
				}
				if sanitize.VerifyEvent(ev, key) {
					fmt.Printf("OK       %s\n", filepath.Base(path))
				} else {
					suspect++
					fmt.Printf("SUSPECT  %s: MAC does not match content\n", filepath.Base(path))
				}
			}
			if suspect > 0 {
				return fmt.Errorf("%d suspect record(s): chain of custody is broken", suspect)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&keyRef, "hmac-key", "env:STZ_AUDIT_HMAC_KEY", "key reference (env:NAME or file:path)")
	return cmd
}

func newSignConfigCmd() *cobra.Command {
	var keyPath string
	cmd := &cobra.Command{
		Use:   "sign-config <config.toml>",
		Short: "Sign a configuration file for deployment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := sanitize.LoadConfig(args[0])
			if err != nil {
				return err
			}
			priv, err := sanitize.LoadECDSAPrivateKey(keyPath)
			if err != nil {
				return err
			}
			sig, err := sanitize.SignConfig(cfg, priv)
			if err != nil {
				return err
			}
			sigPath := args[0] + ".sig"
			if err := os.WriteFile(sigPath, []byte(sig+"\n"), 0o640); err != nil {
				return err
			}
			fmt.Printf("signature written to %s\n", sigPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&keyPath, "key", "", "PEM ECDSA private key")
	cmd.MarkFlagRequired("key")
	return cmd
}
