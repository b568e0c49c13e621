// Command examctl takes an exam session from a terminal and issues local
// student tokens.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/stemsi/exstem-session/internal/answerstore"
	"github.com/stemsi/exstem-session/internal/clock"
	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/logger"
	"github.com/stemsi/exstem-session/internal/service"
	"github.com/stemsi/exstem-session/internal/session"
	"github.com/stemsi/exstem-session/internal/upstream"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "examctl",
		Short:        "Take an ExStem assessment from the terminal",
		SilenceUsage: true,
	}
	root.AddCommand(takeCmd(), tokenCmd())
	return root
}

func takeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "take",
		Short: "Run an assessment package interactively",
		RunE:  runTake,
	}
	f := cmd.Flags()
	f.String("api", "http://localhost:8000/api", "Assessment API base URL")
	f.String("token", "", "Student access token (prompted when empty)")
	f.StringP("package", "p", "", "Assessment package ID (required)")
	f.StringP("student", "s", "", "Student ID (defaults to the token subject)")
	f.String("db", "examctl.db", "SQLite file for in-progress answers")
	f.Duration("timeout", 15*time.Second, "Assessment API request timeout")
	f.String("log-level", "warn", "Log level (debug, info, warn, error)")
	f.String("log-format", "pretty", "Log format (pretty, json)")

	_ = cmd.MarkFlagRequired("package")
	return cmd
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Sign a student token for local runs",
		RunE:  runToken,
	}
	f := cmd.Flags()
	f.StringP("student", "s", "", "Student ID (required)")
	f.String("secret", "", "JWT signing secret (prompted when empty)")
	f.Duration("ttl", 4*time.Hour, "Token lifetime")

	_ = cmd.MarkFlagRequired("student")
	return cmd
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("EXAMCTL")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("examctl")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/examctl")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			fmt.Fprintf(os.Stderr, "warning: reading config file: %v\n", err)
		}
	}
	return v
}

func runTake(cmd *cobra.Command, _ []string) error {
	v := viperForCmd(cmd)
	log := logger.SetupTo(os.Stderr, v.GetString("log-level"), v.GetString("log-format"))

	token := v.GetString("token")
	if token == "" {
		var err error
		if token, err = promptSecret("Access token: "); err != nil {
			return err
		}
	}

	studentID := v.GetString("student")
	if studentID == "" {
		sub, err := tokenSubject(token)
		if err != nil {
			return fmt.Errorf("student id not given and %w", err)
		}
		studentID = sub
	}

	store, err := answerstore.OpenSQLite(v.GetString("db"), log)
	if err != nil {
		return err
	}
	defer store.Close()

	skew := clock.NewSkewed(nil)
	api := upstream.NewClient(v.GetString("api"), token, v.GetDuration("timeout"), skew, log)

	opts := session.DefaultOptions()
	opts.Clock = skew
	opts.Store = store
	opts.Log = log

	ctrl := session.New(v.GetString("package"), studentID, api, opts)
	defer ctrl.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	r := newRunner(ctrl, os.Stdin, os.Stdout, term.IsTerminal(int(os.Stdin.Fd())), log)
	return r.run(ctx)
}

func runToken(cmd *cobra.Command, _ []string) error {
	v := viperForCmd(cmd)

	secret := v.GetString("secret")
	if secret == "" {
		var err error
		if secret, err = promptSecret("JWT secret: "); err != nil {
			return err
		}
	}

	auth := service.NewAuthService(&config.Config{JWTSecret: secret})
	token, err := auth.IssueStudentToken(v.GetString("student"), v.GetDuration("ttl"))
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}

// promptSecret reads a line from the terminal without echo.
func promptSecret(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("no terminal to prompt on; pass the value as a flag or environment variable")
	}
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", strings.TrimSuffix(strings.ToLower(prompt), ": "), err)
	}
	s := strings.TrimSpace(string(b))
	if s == "" {
		return "", errors.New("empty input")
	}
	return s, nil
}

// tokenSubject reads the student from a token without verifying it; the
// assessment API does the verification.
func tokenSubject(token string) (string, error) {
	var claims service.Claims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return "", fmt.Errorf("token is unreadable: %w", err)
	}
	if s := claims.Student(); s != "" {
		return s, nil
	}
	return "", errors.New("token has no subject")
}
