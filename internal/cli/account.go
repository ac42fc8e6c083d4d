package cli

import (
	"context"
	"time"

	"github.com/p-blackswan/poesy/internal/session"
)

type sessionStatus struct {
	State     string    `json:"state"`
	Subject   string    `json:"subject,omitempty"`
	ExpiresAt time.Time `json:"expiresAt,omitzero"`
	Token     string    `json:"accessToken,omitempty"`
}

func runLogin(ctx context.Context, a *App, args []string) error {
	if len(args) != 2 {
		return errUsage
	}
	pair, err := a.api.Login(ctx, args[0], args[1])
	if err != nil {
		return err
	}
	return a.emit(a.status(ctx), func() {
		a.printf("signed in as %s until %s\n", args[0], pair.Expiry().Format(time.RFC3339))
	})
}

func runVerify(ctx context.Context, a *App, args []string) error {
	if len(args) != 2 {
		return errUsage
	}
	pair, err := a.api.Verify(ctx, args[0], args[1])
	if err != nil {
		return err
	}
	return a.emit(a.status(ctx), func() {
		a.printf("verified %s, signed in until %s\n", args[0], pair.Expiry().Format(time.RFC3339))
	})
}

func runLogout(ctx context.Context, a *App, args []string) error {
	if len(args) != 0 {
		return errUsage
	}
	if err := a.api.Logout(ctx); err != nil {
		return err
	}
	a.printf("signed out\n")
	return nil
}

func runWhoami(ctx context.Context, a *App, args []string) error {
	fs := a.subFlags("whoami")
	remote := fs.Bool("remote", false, "ask the server instead of reading the local token")
	if err := fs.Parse(args); err != nil || fs.NArg() != 0 {
		return errUsage
	}
	if *remote {
		info, err := a.poesy.UserInfo(ctx)
		if err != nil {
			return err
		}
		return a.emit(info, func() { a.printf("%s\n", info.Email) })
	}
	subject, ok := a.session.Subject(ctx)
	if !ok {
		if _, signedIn := a.session.Tokens(ctx); !signedIn {
			a.printf("not signed in\n")
			return nil
		}
		subject = "(unknown)"
	}
	return a.emit(map[string]string{"subject": subject}, func() { a.printf("%s\n", subject) })
}

func (a *App) status(ctx context.Context) sessionStatus {
	st := sessionStatus{State: a.session.State(ctx).String()}
	if pair, ok := a.session.Tokens(ctx); ok {
		st.ExpiresAt = pair.Expiry()
		st.Token = session.Redact(pair.AccessToken)
		st.Subject, _ = a.session.Subject(ctx)
	}
	return st
}

func runStatus(ctx context.Context, a *App, args []string) error {
	if len(args) != 0 {
		return errUsage
	}
	st := a.status(ctx)
	return a.emit(st, func() {
		a.printf("state:   %s\n", st.State)
		if st.State == session.Absent.String() {
			return
		}
		if st.Subject != "" {
			a.printf("subject: %s\n", st.Subject)
		}
		a.printf("expires: %s (in %s)\n", st.ExpiresAt.Format(time.RFC3339), st.ExpiresAt.Sub(a.session.Now()).Round(time.Second))
		a.printf("token:   %s\n", st.Token)
	})
}

func runExists(ctx context.Context, a *App, args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	exists, err := a.poesy.UserExists(ctx, args[0])
	if err != nil {
		return err
	}
	return a.emit(map[string]bool{"exists": exists}, func() { a.printf("%t\n", exists) })
}

func runRegister(ctx context.Context, a *App, args []string) error {
	if len(args) != 2 {
		return errUsage
	}
	msg, err := a.poesy.Register(ctx, args[0], args[1])
	if err != nil {
		return err
	}
	return a.emit(map[string]string{"msg": msg}, func() { a.printf("%s\n", msg) })
}
