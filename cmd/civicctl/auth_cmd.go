package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/eshaffer321/civicreport-go/pkg/civic"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var (
	authEmail    string
	authPassword string
	authName     string
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in and store the session",
	Long: `Signs in with email and password. The password is read from
CIVIC_PASSWORD or prompted for when --password is not given.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		password, err := passwordFromFlagOrEnv()
		if err != nil {
			return err
		}
		sess, err := client.Auth.Login(cmd.Context(), &civic.Credentials{Email: authEmail, Password: password})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s (%s)\n", displayName(sess), sess.UserID)
		return nil
	},
}

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Create an account",
	RunE: func(cmd *cobra.Command, args []string) error {
		password, err := passwordFromFlagOrEnv()
		if err != nil {
			return err
		}
		err = client.Auth.Register(cmd.Context(), &civic.Registration{Name: authName, Email: authEmail, Password: password})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Account created; check %s for a verification code\n", authEmail)
		return nil
	},
}

var verifyCmd = &cobra.Command{
	Use:   "verify CODE",
	Short: "Confirm a registration code",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := client.Auth.VerifyCode(cmd.Context(), authEmail, args[0])
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if sess == nil {
			fmt.Fprintln(out, "Email verified; run `civicctl login` to sign in")
			return nil
		}
		fmt.Fprintf(out, "Email verified; signed in as %s\n", displayName(sess))
		return nil
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the stored session",
	RunE: func(cmd *cobra.Command, args []string) error {
		sess := client.Sessions.Current()
		if sess == nil {
			return civic.ErrNoSession
		}
		// never print the token
		view := *sess
		if view.Token != "" {
			view.Token = "********"
		}
		data, err := json.MarshalIndent(view, "", "  ")
		if err != nil {
			return errors.Wrap(err, "failed to encode session")
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored session",
	RunE: func(cmd *cobra.Command, args []string) error {
		client.Auth.Logout(cmd.Context())
		fmt.Fprintln(cmd.OutOrStdout(), "Signed out")
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{loginCmd, registerCmd, verifyCmd} {
		c.Flags().StringVar(&authEmail, "email", "", "account email")
		_ = c.MarkFlagRequired("email")
	}
	for _, c := range []*cobra.Command{loginCmd, registerCmd} {
		c.Flags().StringVar(&authPassword, "password", "", "account password (prefer CIVIC_PASSWORD)")
	}
	registerCmd.Flags().StringVar(&authName, "name", "", "display name")
}

func passwordFromFlagOrEnv() (string, error) {
	if authPassword != "" {
		return authPassword, nil
	}
	if v := os.Getenv("CIVIC_PASSWORD"); v != "" {
		return v, nil
	}

	fmt.Fprint(os.Stderr, "Password: ")
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", errors.Wrap(err, "failed to read password")
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func displayName(s *civic.Session) string {
	if s.DisplayName != "" {
		return s.DisplayName
	}
	if s.Email != "" {
		return s.Email
	}
	return s.UserID
}
