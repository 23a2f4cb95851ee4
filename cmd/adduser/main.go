// Package main はユーザーを資格情報ファイルへ登録するコマンドです。
//
//	adduser -users users.json -username alice
//
// パスワードは端末からエコーなしで2回入力します。
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	"golang.org/x/term"

	"github.com/yourusername/sessionbox/internal/password"
	"github.com/yourusername/sessionbox/internal/users"
)

// readPassword はテストで差し替えられるように変数にしている
var readPassword = term.ReadPassword

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "adduser:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("adduser", flag.ContinueOnError)
	fs.SetOutput(out)
	usersFile := fs.String("users", "users.json", "path to the users file")
	username := fs.String("username", "", "user name to register")
	cost := fs.Int("cost", password.DefaultCost, "bcrypt cost")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *username == "" {
		return errors.New("-username is required")
	}

	plain, err := promptPassword(out)
	if err != nil {
		return err
	}

	hasher, err := password.NewHasher(*cost, 1)
	if err != nil {
		return err
	}
	store, err := users.OpenFileStore(*usersFile, hasher)
	if err != nil {
		return err
	}
	if err := store.Register(ctx, *username, plain); err != nil {
		return errors.Wrapf(err, "failed to register %q", *username)
	}

	fmt.Fprintf(out, "registered %s in %s\n", *username, *usersFile)
	return nil
}

func promptPassword(out io.Writer) (string, error) {
	fd := int(os.Stdin.Fd())

	fmt.Fprint(out, "Password: ")
	first, err := readPassword(fd)
	fmt.Fprintln(out)
	if err != nil {
		return "", errors.Wrap(err, "failed to read password")
	}

	fmt.Fprint(out, "Confirm password: ")
	second, err := readPassword(fd)
	fmt.Fprintln(out)
	if err != nil {
		return "", errors.Wrap(err, "failed to read password")
	}

	if string(first) != string(second) {
		return "", errors.New("passwords do not match")
	}
	return string(first), nil
}
