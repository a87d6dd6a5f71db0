package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"chatledger/internal/identity"
	"chatledger/internal/session"
	"chatledger/internal/terminal"
	"chatledger/internal/ui"
)

// chat runs the conversation loop until the user exits or signs out
func (a *app) chat(ctx context.Context, user identity.UserIdentity) (signedOut bool, err error) {
	store, err := a.openLedger(ctx)
	if err != nil {
		return false, err
	}

	screen := ui.NewChatScreen(a.display)
	defer screen.Close()

	ctrl := session.New(user.ID, store, a.completer(),
		session.WithLogger(a.log.With().Str("user", user.ID).Logger()),
		session.WithObserver(screen.Render),
	)

	a.display.PrintChatHeader(a.cfg.Completion.Model)
	ctrl.Mount(ctx)

	for {
		a.display.PrintPrompt()
		line, err := readLine(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
				a.display.PrintGoodbye()
				return false, nil
			}
			return false, err
		}

		switch {
		case isExit(line):
			a.display.PrintGoodbye()
			return false, nil
		case line == "/history":
			a.display.PrintHistory(ctrl.Snapshot().Turns)
		case line == "/clear":
			if err := ctrl.Clear(ctx); err == nil {
				a.display.PrintCleared(a.cfg.Completion.Model)
			}
		case line == "/profile":
			a.display.PrintProfile(user)
		case line == "/signout":
			if err := a.signOut(ctx); err != nil {
				a.log.Error().Err(err).Msg("sign-out failed")
				continue
			}
			return true, nil
		case strings.HasPrefix(line, "/") && !strings.Contains(line, " "):
			a.display.PrintWarning(fmt.Sprintf("Unknown command %s", line))
		default:
			text, cut := terminal.Truncate(line)
			if cut {
				a.display.PrintWarning(fmt.Sprintf("Message shortened to %d characters", terminal.MaxInputLength))
			}
			ctrl.SetInput(text)
			// Failures are already on screen as a banner
			_ = ctrl.Submit(ctx, text)
		}
	}
}

func readLine(ctx context.Context) (string, error) {
	return terminal.ReadUserInputContext(ctx)
}

func isExit(line string) bool {
	switch line {
	case "/exit", "/quit", "exit", "quit":
		return true
	}
	return false
}
