package main

import (
	"fmt"
	"io"
	"os"
	"syscall"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/term"
)

// hashToken prompts twice for the admin token and prints a bcrypt hash
// suitable for server.admin_token_hash / SENTINEL_ADMIN_TOKEN_HASH.
func hashToken(out io.Writer) error {
	token, err := promptToken("Admin token: ")
	if err != nil {
		return err
	}
	if len(token) < 8 {
		return fmt.Errorf("token must be at least 8 characters")
	}

	confirm, err := promptToken("Confirm token: ")
	if err != nil {
		return err
	}
	if token != confirm {
		return fmt.Errorf("tokens do not match")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash token: %w", err)
	}

	fmt.Fprintln(out, string(hash))
	return nil
}

// promptToken reads a token from the terminal without echoing.
func promptToken(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(int(syscall.Stdin)) //nolint:unconvert // int conversion needed on some platforms
	fmt.Fprintln(os.Stderr)                         // newline after token input
	if err != nil {
		return "", err
	}
	return string(b), nil
}
