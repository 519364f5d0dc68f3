// Package report renders every user-facing message the bot sends.
package report

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/host"

	"github.com/breeze-rmm/gatewatch/internal/health"
	"github.com/breeze-rmm/gatewatch/internal/logging"
)

var log = logging.L("report")

// Menu reaction symbols.
const (
	StatusEmoji = "🌍"
	LogoutEmoji = "❌"
)

const (
	Prompt    = "🔒 Please enter your 6-digit code:"
	WrongCode = "❌ Invalid code. Try again."
	LoggedOut = "▶️ You have left the admin panel."
)

// Transition is the alert sent to subscribers when reachability changes.
func Transition(address string, up bool) string {
	if up {
		return fmt.Sprintf("🔔 Your Minecraft server `%s` is up ✅", address)
	}
	return fmt.Sprintf("🔔 Your Minecraft server `%s` is down ❌", address)
}

// Menu is the admin panel body. greeting is the first line.
func Menu(greeting string) string {
	var b strings.Builder
	if greeting != "" {
		b.WriteString(greeting)
		b.WriteString("\n")
	}
	b.WriteString("🛠 **Admin panel**\n")
	b.WriteString(StatusEmoji + " server status\n")
	b.WriteString(LogoutEmoji + " log out")
	return b.String()
}

// Status is the reply to a status query.
func Status(address string, up bool) string {
	if up {
		return fmt.Sprintf("🌐 Server `%s` is online ✅", address)
	}
	return fmt.Sprintf("🌐 Server `%s` is offline ❌", address)
}

// Prober is the reachability check the status reply runs.
type Prober interface {
	Probe(ctx context.Context, address string) bool
}

// Reporter builds status replies from a fresh probe plus bot host details.
type Reporter struct {
	address string
	prober  Prober
	health  *health.Registry
	uptime  func(ctx context.Context) (uint64, error)
	metrics func(ctx context.Context) (HostMetrics, error)
}

// NewReporter returns a Reporter. registry may be nil.
func NewReporter(address string, prober Prober, registry *health.Registry) *Reporter {
	return &Reporter{
		address: address,
		prober:  prober,
		health:  registry,
		uptime:  host.UptimeWithContext,
		metrics: CollectHostMetrics,
	}
}

// StatusReport probes the target now, never using the monitor's cached
// state, and renders the reply.
func (r *Reporter) StatusReport(ctx context.Context) string {
	up := r.prober.Probe(ctx, r.address)

	lines := []string{Status(r.address, up)}
	if secs, err := r.uptime(ctx); err == nil {
		lines = append(lines, "Bot host uptime: "+FormatUptime(time.Duration(secs)*time.Second))
	} else {
		log.Debug("host uptime unavailable", logging.KeyError, err)
	}
	if m, err := r.metrics(ctx); err == nil {
		lines = append(lines, "Bot host load: "+FormatHostMetrics(m))
	} else {
		log.Debug("host metrics unavailable", logging.KeyError, err)
	}
	if r.health != nil {
		lines = append(lines, "Bot health: "+r.health.Line())
	}
	return strings.Join(lines, "\n")
}

// FormatUptime renders d as "3d 4h 5m", dropping leading zero units.
func FormatUptime(d time.Duration) string {
	d = d.Truncate(time.Minute)
	days := int(d / (24 * time.Hour))
	d -= time.Duration(days) * 24 * time.Hour
	hours := int(d / time.Hour)
	d -= time.Duration(hours) * time.Hour
	minutes := int(d / time.Minute)

	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes)
	default:
		return fmt.Sprintf("%dm", minutes)
	}
}
