package report

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/breeze-rmm/gatewatch/internal/health"
)

type stubProber struct {
	up        bool
	addresses []string
}

func (p *stubProber) Probe(_ context.Context, address string) bool {
	p.addresses = append(p.addresses, address)
	return p.up
}

func TestTransitionNamesAddressAndState(t *testing.T) {
	up := Transition("mc.example.com:25565", true)
	down := Transition("mc.example.com:25565", false)

	if !strings.Contains(up, "`mc.example.com:25565`") || !strings.Contains(up, "up") {
		t.Fatalf("up message = %q", up)
	}
	if !strings.Contains(down, "down") {
		t.Fatalf("down message = %q", down)
	}
	if up == down {
		t.Fatal("up and down messages must differ")
	}
}

func TestMenuListsBothActions(t *testing.T) {
	menu := Menu("Welcome back.")
	for _, want := range []string{"Welcome back.", StatusEmoji, LogoutEmoji} {
		if !strings.Contains(menu, want) {
			t.Errorf("menu missing %q: %q", want, menu)
		}
	}
	if strings.HasPrefix(Menu(""), "\n") {
		t.Fatal("empty greeting should not leave a blank first line")
	}
}

func TestStatusReportProbesFresh(t *testing.T) {
	prober := &stubProber{up: true}
	registry := health.NewRegistry()
	registry.Update(health.ComponentGateway, health.Healthy, "")

	r := NewReporter("10.0.0.5:25565", prober, registry)
	r.uptime = func(context.Context) (uint64, error) { return 90061, nil }
	r.metrics = func(context.Context) (HostMetrics, error) {
		return HostMetrics{CPUPercent: 3.14, RAMPercent: 40.2, BotRSSMB: 25}, nil
	}

	got := r.StatusReport(context.Background())

	if len(prober.addresses) != 1 || prober.addresses[0] != "10.0.0.5:25565" {
		t.Fatalf("probe calls = %v", prober.addresses)
	}
	for _, want := range []string{"online", "1d 1h 1m", "cpu 3.1% ram 40.2% bot 25 MB", "gateway=healthy"} {
		if !strings.Contains(got, want) {
			t.Errorf("report missing %q: %q", want, got)
		}
	}

	prober.up = false
	if got := r.StatusReport(context.Background()); !strings.Contains(got, "offline") {
		t.Fatalf("expected offline report, got %q", got)
	}
}

func TestStatusReportWithoutUptimeOrHealth(t *testing.T) {
	r := NewReporter("a:1", &stubProber{up: true}, nil)
	r.uptime = func(context.Context) (uint64, error) { return 0, errors.New("unsupported") }
	r.metrics = func(context.Context) (HostMetrics, error) { return HostMetrics{}, errors.New("unsupported") }

	got := r.StatusReport(context.Background())
	if strings.Contains(got, "uptime") || strings.Contains(got, "load") || strings.Contains(got, "health") {
		t.Fatalf("unexpected extra lines: %q", got)
	}
}

func TestFormatUptime(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{30 * time.Second, "0m"},
		{5 * time.Minute, "5m"},
		{2*time.Hour + 3*time.Minute, "2h 3m"},
		{49*time.Hour + 59*time.Second, "2d 1h 0m"},
	}
	for _, tt := range tests {
		if got := FormatUptime(tt.in); got != tt.want {
			t.Errorf("FormatUptime(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCollectHostMetricsReadsThisProcess(t *testing.T) {
	m, err := CollectHostMetrics(context.Background())
	if err != nil {
		t.Skipf("host metrics not supported here: %v", err)
	}
	if m.RAMPercent < 0 || m.RAMPercent > 100 {
		t.Fatalf("RAMPercent = %v", m.RAMPercent)
	}
}

func TestCollectHostMetricsMeasuresCPUOverWindow(t *testing.T) {
	orig := cpuPercent
	t.Cleanup(func() { cpuPercent = orig })

	var gotInterval time.Duration
	cpuPercent = func(_ context.Context, interval time.Duration, percpu bool) ([]float64, error) {
		gotInterval = interval
		if percpu {
			t.Error("want a single aggregate CPU figure")
		}
		return []float64{12.5}, nil
	}

	m, err := CollectHostMetrics(context.Background())
	if err != nil {
		t.Fatalf("CollectHostMetrics: %v", err)
	}
	if gotInterval != cpuSampleWindow || gotInterval <= 0 {
		t.Fatalf("cpu interval = %v, want %v", gotInterval, cpuSampleWindow)
	}
	if m.CPUPercent != 12.5 {
		t.Fatalf("CPUPercent = %v, want 12.5", m.CPUPercent)
	}
}
