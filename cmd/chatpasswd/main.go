// Command chatpasswd prints a credentials-file entry with an Argon2id hashed
// password.
package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/Tyrowin/linechat/internal/credentials"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	flags := pflag.NewFlagSet("chatpasswd", pflag.ContinueOnError)
	username := flags.StringP("user", "u", "", "Username for the entry")
	password := flags.StringP("password", "p", "", "Password; prompted for when omitted")
	if err := flags.Parse(args); err != nil {
		return err
	}

	name := strings.TrimSpace(*username)
	if name == "" || strings.ContainsAny(name, ": \t") {
		return errors.New("a username without spaces or ':' is required (-u)")
	}

	secret := *password
	if secret == "" {
		var err error
		if secret, err = promptForPassword("Password: "); err != nil {
			return err
		}
	}
	if secret == "" {
		return errors.New("empty password")
	}

	hash, err := credentials.HashPassword(secret)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "%s:%s\n", name, hash)
	return err
}

func promptForPassword(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	fmt.Fprint(os.Stderr, prompt)

	if term.IsTerminal(fd) {
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(b)), nil
	}

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
