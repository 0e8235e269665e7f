// Command cli is a small client for the metrics gateway API.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/term"
)

var (
	serverURL string
	bearer    string
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "mgate",
		Short:         "Metrics gateway CLI",
		Long:          "Command-line interface for the metrics gateway API.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "gateway base URL")
	rootCmd.PersistentFlags().StringVar(&bearer, "token", "", "bearer token for authenticated endpoints")
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, _ []string) {
		bindEnvFlags(cmd.Root().PersistentFlags())
	}

	rootCmd.AddCommand(newHealthCmd(), newCatalogCmd(), newAskCmd(), newQueryCmd(), newHistoryCmd(), newTokenCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// bindEnvFlags fills unset flags from MGATE_<NAME> environment variables,
// so flags take precedence over env over defaults.
func bindEnvFlags(fs *pflag.FlagSet) {
	fs.VisitAll(func(f *pflag.Flag) {
		if f.Changed {
			return
		}
		key := "MGATE_" + strings.ToUpper(strings.ReplaceAll(f.Name, "-", "_"))
		if v := os.Getenv(key); v != "" {
			_ = fs.Set(f.Name, v)
		}
	})
}

func newHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check gateway health",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return getJSON(cmd.OutOrStdout(), "/health")
		},
	}
}

func newCatalogCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "catalog",
		Short: "List available metrics and dimensions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return getJSON(cmd.OutOrStdout(), "/v1/catalog")
		},
	}
}

func newAskCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask a natural-language question",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]interface{}{"question": strings.Join(args, " ")}
			if limit > 0 {
				body["limit"] = limit
			}
			return postJSON(cmd.OutOrStdout(), "/v1/ask", body)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "row limit override")
	return cmd
}

func newQueryCmd() *cobra.Command {
	var planFile string
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Run a structured query plan",
		Long:  "Run a structured query plan, read as JSON from --plan or stdin.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var raw []byte
			var err error
			if planFile != "" {
				raw, err = os.ReadFile(planFile)
			} else {
				raw, err = io.ReadAll(cmd.InOrStdin())
			}
			if err != nil {
				return fmt.Errorf("read plan: %w", err)
			}
			var plan map[string]interface{}
			if err := json.Unmarshal(raw, &plan); err != nil {
				return fmt.Errorf("parse plan: %w", err)
			}
			return postJSON(cmd.OutOrStdout(), "/v1/query", plan)
		},
	}
	cmd.Flags().StringVar(&planFile, "plan", "", "path to a JSON plan file (default: stdin)")
	return cmd
}

func newHistoryCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent queries",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return getJSON(cmd.OutOrStdout(), fmt.Sprintf("/v1/history?limit=%d", limit))
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "number of entries")
	return cmd
}

// newTokenCmd mints a short-lived HS256 token for a subject, prompting for
// the shared secret so it never lands in shell history.
func newTokenCmd() *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an HS256 bearer token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			secret := os.Getenv("JWT_SECRET")
			if secret == "" {
				fmt.Fprint(cmd.ErrOrStderr(), "JWT secret: ")
				raw, err := term.ReadPassword(int(syscall.Stdin))
				fmt.Fprintln(cmd.ErrOrStderr())
				if err != nil {
					return fmt.Errorf("read secret: %w", err)
				}
				secret = string(raw)
			}
			if secret == "" {
				return fmt.Errorf("empty secret")
			}

			now := time.Now()
			tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
				"sub": subject,
				"iat": now.Unix(),
				"exp": now.Add(ttl).Unix(),
			})
			signed, err := tok.SignedString([]byte(secret))
			if err != nil {
				return fmt.Errorf("sign token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), signed)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "cli-user", "token subject claim")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}

func getJSON(out io.Writer, path string) error {
	req, err := http.NewRequest(http.MethodGet, serverURL+path, nil)
	if err != nil {
		return err
	}
	return doRequest(out, req)
}

func postJSON(out io.Writer, path string, body interface{}) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, serverURL+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return doRequest(out, req)
}

func doRequest(out io.Writer, req *http.Request) error {
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	client := &http.Client{Timeout: 5 * time.Minute}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close() //nolint:errcheck

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	// Pretty-print when the body is JSON, pass through otherwise.
	var buf bytes.Buffer
	if json.Indent(&buf, raw, "", "  ") == nil {
		fmt.Fprintln(out, buf.String())
	} else {
		fmt.Fprintln(out, string(raw))
	}

	if resp.StatusCode >= 400 {
		return fmt.Errorf("server returned %s", resp.Status)
	}
	return nil
}
