package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"mediaportal/internal/model"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// cliApp 以 CLI 方式装配：日志写 stderr，401 只记录日志
func cliApp(cmd *cobra.Command, configPath string) (*app, error) {
	return bootstrap(configPath, appOptions{
		logOutput: cmd.ErrOrStderr(),
		onUnauthorized: func() {
			fmt.Fprintln(cmd.ErrOrStderr(), "Session expired, run `mediaportal login` again.")
		},
	})
}

func newLoginCmd(configPath *string) *cobra.Command {
	var username, password string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in to the portal and store the session",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := cliApp(cmd, *configPath)
			if err != nil {
				return err
			}
			defer a.close()

			if username == "" {
				if username, err = prompt(cmd, "Username: "); err != nil {
					return err
				}
			}
			if password == "" {
				if password, err = promptSecret(cmd, "Password: "); err != nil {
					return err
				}
			}

			res, err := a.auth.Login(cmd.Context(), model.LoginRequest{Username: username, Password: password})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s (expires in %ds)\n", username, res.ExpiresIn)
			return nil
		},
	}

	cmd.Flags().StringVarP(&username, "username", "u", "", "portal username")
	cmd.Flags().StringVar(&password, "password", "", "portal password (prompted when empty)")
	return cmd
}

func newRegisterCmd(configPath *string) *cobra.Command {
	var req model.RegisterRequest

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create a portal account",
		Long:  "Creates an account. Request a verification code first with `mediaportal send-code <email>`.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if req.Username == "" || req.Email == "" || req.VerificationCode == "" {
				return fmt.Errorf("--username, --email and --code are required")
			}
			a, err := cliApp(cmd, *configPath)
			if err != nil {
				return err
			}
			defer a.close()

			if req.Password == "" {
				if req.Password, err = promptSecret(cmd, "Password: "); err != nil {
					return err
				}
			}
			if err := a.auth.Register(cmd.Context(), req); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Registered %s, you can now sign in\n", req.Username)
			return nil
		},
	}

	cmd.Flags().StringVarP(&req.Username, "username", "u", "", "account username")
	cmd.Flags().StringVar(&req.Email, "email", "", "account email")
	cmd.Flags().StringVar(&req.Password, "password", "", "account password (prompted when empty)")
	cmd.Flags().StringVar(&req.VerificationCode, "code", "", "verification code from email")
	return cmd
}

func newSendCodeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "send-code <email>",
		Short: "Email a registration verification code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := cliApp(cmd, *configPath)
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.auth.SendCode(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Verification code sent to %s\n", args[0])
			return nil
		},
	}
}

func newLogoutCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored session",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := cliApp(cmd, *configPath)
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.auth.Logout(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Signed out")
			return nil
		},
	}
}

func newWhoamiCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := cliApp(cmd, *configPath)
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.requireSession(); err != nil {
				return err
			}
			user := a.sess.User()
			if user == nil || user.Username == "" {
				fmt.Fprintln(cmd.OutOrStdout(), "Signed in")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s\n", user.Username)
			return nil
		},
	}
}

func prompt(cmd *cobra.Command, label string) (string, error) {
	fmt.Fprint(cmd.ErrOrStderr(), label)
	line, err := readLine(cmd.InOrStdin())
	if err != nil {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return line, nil
}

// readLine 逐字节读取一行，连续提示时不会吞掉后面的输入
func readLine(r io.Reader) (string, error) {
	var sb strings.Builder
	buf := make([]byte, 1)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if buf[0] == '\n' {
				break
			}
			sb.WriteByte(buf[0])
		}
		if err == io.EOF && sb.Len() > 0 {
			break
		}
		if err != nil {
			return "", err
		}
	}
	return strings.TrimSpace(sb.String()), nil
}

// promptSecret 终端下不回显输入，管道输入时按普通行读取
func promptSecret(cmd *cobra.Command, label string) (string, error) {
	if f, ok := cmd.InOrStdin().(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(cmd.ErrOrStderr(), label)
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		return string(b), nil
	}
	return prompt(cmd, label)
}
