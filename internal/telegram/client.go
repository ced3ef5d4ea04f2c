// Package telegram fetches forum topic messages over MTProto.
package telegram

import (
	"context"
	"os"
	"path/filepath"

	"github.com/go-faster/errors"
	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"go.uber.org/zap"
)

type Options struct {
	APIID       int
	APIHash     string
	SessionPath string
	Logger      *zap.Logger
	// Verbose keeps MTProto debug logs; otherwise they are cut to warnings.
	Verbose bool
	// Auth answers the login prompts when the session is not authorized.
	// Defaults to TermAuth on stdin.
	Auth auth.UserAuthenticator
}

// Client owns one MTProto connection. Sessions are persisted to
// Options.SessionPath so later runs skip the login flow.
type Client struct {
	client *telegram.Client
	auth   auth.UserAuthenticator
	log    *zap.Logger
}

func New(opts Options) (*Client, error) {
	if opts.APIID <= 0 || opts.APIHash == "" {
		return nil, errors.New("api id and api hash are required")
	}
	if opts.SessionPath == "" {
		return nil, errors.New("session path is required")
	}
	if dir := filepath.Dir(opts.SessionPath); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, errors.Wrap(err, "create session dir")
		}
	}

	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	authenticator := opts.Auth
	if authenticator == nil {
		authenticator = NewTermAuth(os.Stdin, os.Stderr)
	}

	mtproto := log.Named("mtproto")
	if !opts.Verbose {
		mtproto = mtproto.WithOptions(zap.IncreaseLevel(zap.WarnLevel))
	}
	client := telegram.NewClient(opts.APIID, opts.APIHash, telegram.Options{
		SessionStorage: &session.FileStorage{Path: opts.SessionPath},
		Logger:         mtproto,
	})

	return &Client{client: client, auth: authenticator, log: log}, nil
}

// Run connects, logs in if necessary, and calls fn with a ready Session.
// The connection is closed when fn returns.
func (c *Client) Run(ctx context.Context, fn func(ctx context.Context, s *Session) error) error {
	return c.client.Run(ctx, func(ctx context.Context) error {
		flow := auth.NewFlow(c.auth, auth.SendCodeOptions{})
		if err := c.client.Auth().IfNecessary(ctx, flow); err != nil {
			return errors.Wrap(err, "auth")
		}
		return fn(ctx, NewSession(c.client.API(), c.log))
	})
}
