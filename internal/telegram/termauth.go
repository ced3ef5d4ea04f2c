package telegram

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/go-faster/errors"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tg"
)

// TermAuth asks for the phone, code and 2FA password on a terminal.
type TermAuth struct {
	in  *bufio.Reader
	out io.Writer
}

func NewTermAuth(in io.Reader, out io.Writer) TermAuth {
	return TermAuth{in: bufio.NewReader(in), out: out}
}

func (a TermAuth) ask(prompt string) (string, error) {
	_, _ = fmt.Fprint(a.out, prompt)
	line, err := a.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", errors.Wrap(err, "read input")
	}
	return strings.TrimSpace(line), nil
}

func (a TermAuth) Phone(_ context.Context) (string, error) {
	return a.ask("Phone number (e.g. +79123456789): ")
}

func (a TermAuth) Password(_ context.Context) (string, error) {
	return a.ask("2FA password: ")
}

func (a TermAuth) Code(_ context.Context, _ *tg.AuthSentCode) (string, error) {
	return a.ask("Code from Telegram: ")
}

func (TermAuth) AcceptTermsOfService(_ context.Context, _ tg.HelpTermsOfService) error {
	return nil
}

// SignUp is refused: relaying needs an existing account.
func (TermAuth) SignUp(_ context.Context) (auth.UserInfo, error) {
	return auth.UserInfo{}, errors.New("sign up is not supported, log in with an existing account")
}
