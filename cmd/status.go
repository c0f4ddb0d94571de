package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"ircbridge/pkg/config"
	"ircbridge/pkg/gateway"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

var (
	statusAddress string
	statusTimeout time.Duration
)

// statusTheme holds the styles used to render a status report.
type statusTheme struct {
	header    lipgloss.Style
	label     lipgloss.Style
	ok        lipgloss.Style
	bad       lipgloss.Style
	hint      lipgloss.Style
	component lipgloss.Style
}

func defaultStatusTheme() statusTheme {
	return statusTheme{
		header: lipgloss.NewStyle().
			Bold(true).
			Padding(0, 1).
			Foreground(lipgloss.Color("230")).
			Background(lipgloss.Color("88")),
		label: lipgloss.NewStyle().
			Foreground(lipgloss.Color("223")).
			Width(12),
		ok: lipgloss.NewStyle().
			Foreground(lipgloss.Color("114")).
			Bold(true),
		bad: lipgloss.NewStyle().
			Foreground(lipgloss.Color("203")).
			Bold(true),
		hint: lipgloss.NewStyle().
			Foreground(lipgloss.Color("180")),
		component: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("109")).
			Padding(0, 1),
	}
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show readiness of a running bridge",
	Long:  "Queries the /readyz endpoint of a running bridge and prints the interface, IRC and bus state.",
	RunE: func(cmd *cobra.Command, args []string) error {
		_ = args

		address := strings.TrimSpace(statusAddress)
		if address == "" {
			cfg, err := config.LoadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			address = cfg.Gateway.Address()
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), statusTimeout)
		defer cancel()

		status, err := fetchStatus(ctx, "http://"+address+"/readyz")
		if err != nil {
			return err
		}

		fmt.Fprintln(cmd.OutOrStdout(), renderStatus(defaultStatusTheme(), status))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().StringVarP(&statusAddress, "address", "a", "", "status server host:port (defaults to gateway config)")
	statusCmd.Flags().DurationVar(&statusTimeout, "timeout", 5*time.Second, "request timeout")
}

// fetchStatus reads the readiness payload. A 503 still carries a body and is not an error.
func fetchStatus(ctx context.Context, url string) (gateway.Status, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return gateway.Status{}, fmt.Errorf("build status request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return gateway.Status{}, fmt.Errorf("query %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusServiceUnavailable {
		return gateway.Status{}, fmt.Errorf("query %s: unexpected status %s", url, resp.Status)
	}

	var status gateway.Status
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return gateway.Status{}, fmt.Errorf("decode status response: %w", err)
	}

	return status, nil
}

func renderStatus(th statusTheme, status gateway.Status) string {
	var b strings.Builder

	state := th.bad.Render(status.Status)
	if status.Status == "ready" {
		state = th.ok.Render(status.Status)
	}

	b.WriteString(th.header.Render("ircbridge"))
	b.WriteString("\n")
	b.WriteString(th.label.Render("state") + state + "\n")
	if status.BusName != "" {
		b.WriteString(th.label.Render("bus name") + status.BusName + "\n")
	}
	b.WriteString(th.label.Render("uptime") + (time.Duration(status.UptimeSeconds) * time.Second).String() + "\n")
	if status.ReadyAt != "" {
		b.WriteString(th.label.Render("ready at") + status.ReadyAt + "\n")
	} else {
		b.WriteString(th.label.Render("ready at") + th.hint.Render("waiting for IRC welcome") + "\n")
	}

	names := make([]string, 0, len(status.Components))
	for name := range status.Components {
		names = append(names, name)
	}
	slices.Sort(names)

	boxes := make([]string, 0, len(names))
	for _, name := range names {
		boxes = append(boxes, th.component.Render(renderComponent(th, name, status.Components[name])))
	}
	if len(boxes) > 0 {
		b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, boxes...))
	}

	return b.String()
}

func renderComponent(th statusTheme, name string, state gateway.ComponentState) string {
	lines := []string{lipgloss.NewStyle().Bold(true).Render(name)}

	switch {
	case state.Connected:
		lines = append(lines, th.ok.Render("connected"))
	case state.Running:
		lines = append(lines, th.bad.Render("connecting"))
	default:
		lines = append(lines, th.bad.Render("stopped"))
	}
	if state.Error != "" {
		lines = append(lines, th.hint.Render(state.Error))
	}

	return strings.Join(lines, "\n")
}
