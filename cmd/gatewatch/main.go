package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/breeze-rmm/gatewatch/internal/audit"
	"github.com/breeze-rmm/gatewatch/internal/config"
	"github.com/breeze-rmm/gatewatch/internal/probe"
	"github.com/breeze-rmm/gatewatch/internal/report"
	"github.com/breeze-rmm/gatewatch/internal/secmem"
	"github.com/breeze-rmm/gatewatch/internal/totp"
)

var (
	version = "0.1.0"
	cfgFile string
	account string
)

// exitError carries a process exit code through cobra.
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }

var rootCmd = &cobra.Command{
	Use:           "gatewatch",
	Short:         "Game server watchdog with a TOTP-gated Discord admin panel",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Connect to Discord and start monitoring",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBot()
	},
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Probe the configured server once (exit 0 when up, 2 when down)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.ServerAddress == "" || cfg.ServerPort < 1 || cfg.ServerPort > 65535 {
			return fmt.Errorf("server_address and server_port must be set")
		}

		up := probe.NewTCP(cfg.ProbeTimeout()).Probe(cmd.Context(), cfg.Address())
		fmt.Println(report.Status(cfg.Address(), up))
		if !up {
			return &exitError{code: 2, msg: ""}
		}
		return nil
	},
}

var totpCmd = &cobra.Command{
	Use:   "totp",
	Short: "TOTP secret helpers",
}

var totpURICmd = &cobra.Command{
	Use:   "uri",
	Short: "Print the otpauth:// URI for enrolling an authenticator app",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		secret := secmem.New(cfg.TOTPSecret)
		defer secret.Zero()

		uri, err := totp.ProvisioningURI(secret, cfg.TOTPIssuer, account)
		if err != nil {
			return err
		}
		fmt.Println(uri)
		return nil
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration with secrets redacted",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		out, err := renderConfig(cfg)
		if err != nil {
			return err
		}
		fmt.Print(out)
		for _, e := range cfg.Validate() {
			fmt.Fprintf(os.Stderr, "invalid: %v\n", e)
		}
		return nil
	},
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Audit trail tools",
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify [file]",
	Short: "Check the hash chain of an audit file",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := ""
		if len(args) == 1 {
			path = args[0]
		} else {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			path = cfg.AuditFile
		}
		if path == "" {
			return fmt.Errorf("no audit file given and audit_file is not configured")
		}

		n, err := audit.VerifyFile(path)
		if err != nil {
			return fmt.Errorf("%s: %d entries ok before failure: %w", path, n, err)
		}
		fmt.Printf("%s: %d entries verified\n", path, n)
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("gatewatch v%s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML or .env)")
	totpURICmd.Flags().StringVar(&account, "account", "admin", "account label shown in the authenticator app")

	totpCmd.AddCommand(totpURICmd)
	auditCmd.AddCommand(auditVerifyCmd)

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(totpCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		var exit *exitError
		if errors.As(err, &exit) {
			if exit.msg != "" {
				fmt.Fprintln(os.Stderr, exit.msg)
			}
			os.Exit(exit.code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// configView renders secrets through secmem so they print redacted. An
// unset secret prints as null.
type configView struct {
	AuthToken     *secmem.Secret `yaml:"auth_token"`
	TOTPSecret    *secmem.Secret `yaml:"totp_secret"`
	config.Config `yaml:",inline"`
}

func renderConfig(cfg *config.Config) (string, error) {
	view := configView{
		AuthToken:  redact(cfg.AuthToken),
		TOTPSecret: redact(cfg.TOTPSecret),
		Config:     *cfg,
	}
	defer view.AuthToken.Zero()
	defer view.TOTPSecret.Zero()

	var b strings.Builder
	enc := yaml.NewEncoder(&b)
	enc.SetIndent(2)
	if err := enc.Encode(view); err != nil {
		return "", fmt.Errorf("encode config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("encode config: %w", err)
	}
	return b.String(), nil
}

func redact(s string) *secmem.Secret {
	if s == "" {
		return nil
	}
	return secmem.New(s)
}
