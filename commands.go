package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"chatledger/internal/identity"
	"chatledger/internal/ledger"
)

var errNotSignedIn = errors.New("not signed in; run 'chatledger signin' first")

var signinCmd = &cobra.Command{
	Use:   "signin",
	Short: "Sign in with Google",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			user, err := a.currentUser(ctx)
			if err != nil {
				return err
			}
			if user != nil {
				a.display.PrintInfo(fmt.Sprintf("Already signed in as %s", user.Email))
				a.display.PrintProfile(*user)
				return nil
			}

			a.display.PrintWelcome()
			user, err = a.signIn(ctx)
			if err != nil || user == nil {
				return err
			}
			a.display.PrintProfile(*user)
			return nil
		})
	},
}

var signoutCmd = &cobra.Command{
	Use:   "signout",
	Short: "Forget the saved Google session",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			return a.signOut(ctx)
		})
	},
}

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Show the signed-in profile",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			user, err := a.requireUser(ctx)
			if err != nil {
				return err
			}
			a.display.PrintProfile(*user)
			return nil
		})
	},
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat using the saved session",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			user, err := a.requireUser(ctx)
			if err != nil {
				return err
			}
			_, err = a.chat(ctx, *user)
			return err
		})
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete your stored conversation",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			user, err := a.requireUser(ctx)
			if err != nil {
				return err
			}
			store, err := a.openLedger(ctx)
			if err != nil {
				return err
			}
			if err := store.DeleteMessages(ctx, user.ID); err != nil {
				return err
			}
			a.display.PrintSuccess("Chat history cleared")
			return nil
		})
	},
}

// run is the full flow: restore or sign in, show the profile, chat.
// Signing out from the chat returns to the welcome screen.
func (a *app) run(ctx context.Context) error {
	for {
		user, err := a.currentUser(ctx)
		if err != nil {
			return err
		}
		if user == nil {
			a.display.PrintWelcome()
			if user, err = a.signIn(ctx); err != nil || user == nil {
				return err
			}
		}
		a.display.PrintProfile(*user)

		signedOut, err := a.chat(ctx, *user)
		if err != nil || !signedOut {
			return err
		}

		a.display.PrintInfo("Press Enter to sign in again, or type /exit to quit")
		line, err := readLine(ctx)
		if err != nil || isExit(line) {
			return nil
		}
	}
}

func (a *app) currentUser(ctx context.Context) (*identity.UserIdentity, error) {
	p, err := a.googleProvider()
	if err != nil {
		return nil, err
	}
	return p.RestoreSession(ctx)
}

func (a *app) requireUser(ctx context.Context) (*identity.UserIdentity, error) {
	user, err := a.currentUser(ctx)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, errNotSignedIn
	}
	return user, nil
}

// signIn runs the consent flow and records the login.
// A nil identity with a nil error means the user cancelled.
func (a *app) signIn(ctx context.Context) (*identity.UserIdentity, error) {
	p, err := a.googleProvider()
	if err != nil {
		return nil, err
	}

	out, err := p.SignIn(ctx)
	if err != nil {
		a.display.PrintIdentityError(err)
		return nil, nil
	}
	if out.Cancelled {
		a.display.PrintIdentityError(&identity.Error{Code: identity.CodeCancelled})
		return nil, nil
	}

	a.recordLogin(ctx, *out.Identity)
	return out.Identity, nil
}

// recordLogin writes the login ledger; failures never block the user
func (a *app) recordLogin(ctx context.Context, u identity.UserIdentity) {
	store, err := a.openLedger(ctx)
	if err != nil {
		a.log.Warn().Err(err).Msg("login not recorded")
		return
	}

	err = store.RecordLogin(ctx, ledger.LoginRecord{
		GoogleID:   u.ID,
		Email:      u.Email,
		FullName:   u.Name,
		GivenName:  u.GivenName,
		FamilyName: u.FamilyName,
		PhotoURL:   u.PhotoURL,
		IDToken:    u.IDToken,
	})
	if err != nil {
		a.log.Warn().Err(err).Str("user", u.ID).Msg("login not recorded")
		return
	}
	a.log.Info().Str("user", u.ID).Msg("login recorded")
}

func (a *app) signOut(ctx context.Context) error {
	p, err := a.googleProvider()
	if err != nil {
		return err
	}
	if err := p.SignOut(ctx); err != nil {
		a.display.PrintError("Error signing out")
		return err
	}
	a.display.PrintSuccess("Signed out")
	return nil
}
