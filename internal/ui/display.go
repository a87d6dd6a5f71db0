package ui

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"

	"chatledger/internal/history"
	"chatledger/internal/identity"
	"chatledger/internal/terminal"
)

// Display renders the application screens in the terminal
type Display struct {
	out      io.Writer
	width    int
	renderer *glamour.TermRenderer
}

// NewDisplay creates a display writing to out.
// Markdown rendering is only enabled when markdown is true.
func NewDisplay(out io.Writer, markdown bool) *Display {
	width := terminal.Width()

	d := &Display{out: out, width: width}
	if markdown {
		// Create markdown renderer
		renderer, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(max(width-10, 20)),
		)
		if err == nil {
			d.renderer = renderer
		}
	}
	return d
}

// Color codes
const (
	colorReset  = "\033[0m"
	colorBold   = "\033[1m"
	colorDim    = "\033[2m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[34m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[90m"
)

// ClearScreen clears the terminal
func (d *Display) ClearScreen() {
	fmt.Fprint(d.out, "\033[2J\033[H")
}

// PrintWelcome displays the sign-in screen
func (d *Display) PrintWelcome() {
	fmt.Fprintf(d.out, "%s%s╔══════════════════════════════════════════════╗%s\n", colorBold, colorCyan, colorReset)
	fmt.Fprintf(d.out, "%s%s║                 chatledger                   ║%s\n", colorBold, colorCyan, colorReset)
	fmt.Fprintf(d.out, "%s%s╚══════════════════════════════════════════════╝%s\n", colorBold, colorCyan, colorReset)
	fmt.Fprintf(d.out, "\n%sWelcome%s\n", colorBold, colorReset)
	fmt.Fprintf(d.out, "%sSign in with your Google account to continue%s\n\n", colorGray, colorReset)
}

// PrintSignInHint tells the user where to complete sign-in
func (d *Display) PrintSignInHint(authURL string) {
	fmt.Fprintf(d.out, "%sOpening your browser to sign in with Google.%s\n", colorGray, colorReset)
	fmt.Fprintf(d.out, "%sIf it does not open, visit:%s\n  %s\n", colorGray, colorReset, authURL)
	fmt.Fprintf(d.out, "%sPress Ctrl+C to cancel.%s\n", colorDim, colorReset)
}

// PrintProfile displays the signed-in user's profile card
func (d *Display) PrintProfile(u identity.UserIdentity) {
	fmt.Fprintf(d.out, "\n%s✓ Login Successful!%s\n", colorGreen, colorReset)
	fmt.Fprintf(d.out, "%sWelcome back, %s%s\n\n", colorGray, u.DisplayName(), colorReset)

	d.PrintSeparator()
	fmt.Fprintf(d.out, "%sYour Profile Data%s\n", colorBold, colorReset)
	d.PrintSeparator()
	d.dataRow("Full Name", u.Name)
	d.dataRow("Email", u.Email)
	d.dataRow("First Name", u.GivenName)
	d.dataRow("Last Name", u.FamilyName)
	d.dataRow("User ID", u.ID)
	if u.PhotoURL != "" {
		d.dataRow("Photo", u.PhotoURL)
	}
	if u.IDToken != "" {
		d.dataRow("ID Token", truncate(u.IDToken, 100)+"...")
	}
	d.PrintSeparator()
}

func (d *Display) dataRow(label, value string) {
	if value == "" {
		value = "Not provided"
	}
	fmt.Fprintf(d.out, "%s%-11s%s %s\n", colorGray, label, colorReset, value)
}

// PrintChatHeader displays the chat screen header and commands
func (d *Display) PrintChatHeader(model string) {
	fmt.Fprintf(d.out, "\n%s%sChat with AI%s %s· %s%s\n", colorBold, colorCyan, colorReset, colorGray, model, colorReset)
	fmt.Fprintf(d.out, "%sCommands:%s /exit | /history | /clear | /profile | /signout\n", colorGray, colorReset)
}

// PrintEmptyState is shown when there is no conversation yet
func (d *Display) PrintEmptyState() {
	fmt.Fprintf(d.out, "\n%sStart a conversation!%s\n", colorBold, colorReset)
	fmt.Fprintf(d.out, "%sSend a message to begin chatting with AI.%s\n", colorGray, colorReset)
}

// PrintCleared redraws the chat screen once the history is gone
func (d *Display) PrintCleared(model string) {
	d.ClearScreen()
	d.PrintChatHeader(model)
	d.PrintSuccess("Chat history cleared")
	d.PrintEmptyState()
}

// PrintTurn displays one conversation turn
func (d *Display) PrintTurn(t history.Turn) {
	stamp := t.CreatedAt.Local().Format("15:04:05")

	if t.Author == history.AuthorUser {
		fmt.Fprintf(d.out, "\n%s┌─ You · %s%s\n", colorGray, stamp, colorReset)
		for _, line := range strings.Split(t.Text, "\n") {
			fmt.Fprintf(d.out, "%s│%s %s\n", colorGray, colorReset, line)
		}
		if t.Status == history.StatusFailed {
			fmt.Fprintf(d.out, "%s│ not saved%s\n", colorYellow, colorReset)
		}
		fmt.Fprintf(d.out, "%s└%s\n", colorGray, colorReset)
		return
	}

	fmt.Fprintf(d.out, "\n%s┌─ Assistant · %s%s\n", colorBlue, stamp, colorReset)
	for _, line := range strings.Split(d.render(t.Text), "\n") {
		fmt.Fprintf(d.out, "%s│%s %s\n", colorBlue, colorReset, line)
	}
	fmt.Fprintf(d.out, "%s└%s\n", colorBlue, colorReset)
}

// render formats markdown when a renderer is available
func (d *Display) render(text string) string {
	if d.renderer == nil {
		return text
	}
	rendered, err := d.renderer.Render(text)
	if err != nil {
		return text
	}
	return strings.Trim(rendered, "\n")
}

// PrintHistory shows every turn of the conversation
func (d *Display) PrintHistory(turns []history.Turn) {
	if len(turns) == 0 {
		d.PrintInfo("No conversation history yet")
		return
	}

	d.PrintSeparator()
	fmt.Fprintf(d.out, "Full Conversation History (%d messages)\n", len(turns))
	d.PrintSeparator()
	for _, t := range turns {
		who := "You"
		if t.Author == history.AuthorAssistant {
			who = "Assistant"
		}
		mark := ""
		if t.Status == history.StatusFailed {
			mark = " (not saved)"
		}
		fmt.Fprintf(d.out, "\n[%s] %s%s:\n%s\n", t.CreatedAt.Local().Format("2006-01-02 15:04:05"), who, mark, t.Text)
	}
	d.PrintSeparator()
}

// PrintSeparator prints a visual separator
func (d *Display) PrintSeparator() {
	line := strings.Repeat("─", min(d.width, 80))
	fmt.Fprintf(d.out, "%s%s%s\n", colorDim, line, colorReset)
}

// PrintPrompt displays user input prompt
func (d *Display) PrintPrompt() {
	fmt.Fprintf(d.out, "\n%s%s❯%s ", colorBold, colorGreen, colorReset)
}

// PrintError displays an error banner
func (d *Display) PrintError(msg string) {
	fmt.Fprintf(d.out, "%s✗ %s%s\n", colorRed, msg, colorReset)
}

// PrintNotice displays a neutral notice, used for cancellations
func (d *Display) PrintNotice(msg string) {
	fmt.Fprintf(d.out, "%s%s%s\n", colorGray, msg, colorReset)
}

// PrintInfo displays info message
func (d *Display) PrintInfo(msg string) {
	fmt.Fprintf(d.out, "%sℹ %s%s\n", colorCyan, msg, colorReset)
}

// PrintWarning displays warning message
func (d *Display) PrintWarning(msg string) {
	fmt.Fprintf(d.out, "%s⚠ %s%s\n", colorYellow, msg, colorReset)
}

// PrintSuccess displays success message
func (d *Display) PrintSuccess(msg string) {
	fmt.Fprintf(d.out, "%s✓ %s%s\n", colorGreen, msg, colorReset)
}

// PrintIdentityError shows a sign-in failure; cancellation is not an alarm
func (d *Display) PrintIdentityError(err error) {
	if identity.Classify(err) == identity.CodeCancelled {
		d.PrintNotice(identity.Message(err))
		return
	}
	d.PrintError(identity.Message(err))
}

// PrintGoodbye displays goodbye message
func (d *Display) PrintGoodbye() {
	fmt.Fprintf(d.out, "\n%s%sGoodbye! 👋%s\n", colorBold, colorCyan, colorReset)
}

// Helper functions

func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen])
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}
