// Command eshkctl is a thin client for eshkd's admin HTTP surface
// (internal/admin, SPEC_FULL §6 C12). It never talks to the game-session
// wire protocol itself — only to the operator-facing JSON endpoints.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"golang.org/x/term"

	"github.com/spf13/cobra"

	"github.com/john-champagne/easyhack/internal/admin"
)

func main() {
	var addr string
	var token string

	root := &cobra.Command{
		Use:   "eshkctl",
		Short: "admin client for the easyhack game server supervisor",
	}
	root.PersistentFlags().StringVar(&addr, "addr", "http://127.0.0.1:8643", "eshkd admin base URL")
	root.PersistentFlags().StringVar(&token, "token", os.Getenv("ESHKD_ADMIN_TOKEN"), "admin bearer token")

	root.AddCommand(sessionsCmd(&addr, &token))
	root.AddCommand(kickCmd(&addr, &token))
	root.AddCommand(shutdownCmd(&addr, &token))
	root.AddCommand(tokenCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func sessionsCmd(addr, token *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "list live sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			snaps, err := fetchSessions(*addr, *token)
			if err != nil {
				return err
			}
			printSessions(snaps)
			return nil
		},
	}
}

func kickCmd(addr, token *string) *cobra.Command {
	return &cobra.Command{
		Use:   "kick <session-id>",
		Short: "force a session's cleanup",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return postAdmin(*addr, *token, "/sessions/"+args[0]+"/kick")
		},
	}
}

func shutdownCmd(addr, token *string) *cobra.Command {
	return &cobra.Command{
		Use:   "shutdown",
		Short: "trigger the supervisor's shutdown drain",
		RunE: func(cmd *cobra.Command, args []string) error {
			return postAdmin(*addr, *token, "/shutdown")
		},
	}
}

func postAdmin(addr, token, path string) error {
	req, err := http.NewRequest("POST", addr+path, nil)
	if err != nil {
		return err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("eshkd returned %s: %s", resp.Status, body)
	}
	fmt.Println("ok")
	return nil
}

func tokenCmd() *cobra.Command {
	var secret string
	var subject string
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token",
		Short: "mint an admin bearer token from the shared secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				return fmt.Errorf("--secret is required (must match eshkd's admin_jwt_secret)")
			}
			tok, err := admin.IssueToken([]byte(secret), subject, ttl)
			if err != nil {
				return fmt.Errorf("issue token: %w", err)
			}
			fmt.Println(tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&secret, "secret", "", "admin JWT HMAC secret")
	cmd.Flags().StringVar(&subject, "subject", "eshkctl", "token subject claim")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}

func fetchSessions(addr, token string) ([]sessionView, error) {
	req, err := http.NewRequest("GET", addr+"/sessions", nil)
	if err != nil {
		return nil, err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("eshkd returned %s: %s", resp.Status, body)
	}

	var snaps []sessionView
	if err := json.NewDecoder(resp.Body).Decode(&snaps); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return snaps, nil
}

// sessionView mirrors session.Snapshot's JSON shape without importing the
// session package — eshkctl only ever sees the wire-encoded form.
type sessionView struct {
	ID       string `json:"ID"`
	State    string `json:"State"`
	UserID   int    `json:"UserID"`
	PID      int    `json:"PID"`
	BytesIn  uint64 `json:"BytesIn"`
	BytesOut uint64 `json:"BytesOut"`
}

func printSessions(snaps []sessionView) {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		for _, s := range snaps {
			fmt.Printf("%s\t%s\t%d\t%d\t%d\t%d\n", s.ID, s.State, s.UserID, s.PID, s.BytesIn, s.BytesOut)
		}
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	defer w.Flush()
	fmt.Fprintln(w, "ID\tSTATE\tUSERID\tPID\tBYTES IN\tBYTES OUT")
	for _, s := range snaps {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\n", s.ID, s.State, s.UserID, s.PID, s.BytesIn, s.BytesOut)
	}
}
