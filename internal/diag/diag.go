// Package diag provides connectivity diagnostics for the configured
// remote SSR server: a bare TCP round-trip timing probe and a pipeline
// construction sanity check, re-targeted from the teacher's
// internal/debug package (which probed a TLS+SMTP handshake) since
// this repo's upstream speaks the SS/SSR wire protocol directly over
// TCP with no cover layer.
package diag

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"ssrtun/internal/config"
	"ssrtun/internal/serverenv"
)

// PingResult stores a single ping measurement.
type PingResult struct {
	Seq int
	RTT time.Duration
	Err error
}

// Ping dials the configured remote count times and measures TCP
// connect latency for each attempt.
func Ping(cfg *config.RemoteConfig, count int) []PingResult {
	if count <= 0 {
		count = 4
	}
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))

	results := make([]PingResult, count)
	for i := 0; i < count; i++ {
		start := time.Now()
		conn, err := net.DialTimeout("tcp", addr, 10*time.Second)
		rtt := time.Since(start)
		if err == nil {
			conn.Close()
		}
		results[i] = PingResult{Seq: i + 1, RTT: rtt, Err: err}
		if i < count-1 {
			time.Sleep(time.Second)
		}
	}
	return results
}

// FormatPingResults renders Ping's output the way ping(8) does.
func FormatPingResults(addr string, results []PingResult) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("PING %s (%d probes):\n", addr, len(results)))

	var total, min, max time.Duration
	ok := 0
	for _, r := range results {
		if r.Err != nil {
			sb.WriteString(fmt.Sprintf("  seq=%d error: %v\n", r.Seq, r.Err))
			continue
		}
		sb.WriteString(fmt.Sprintf("  seq=%d rtt=%v\n", r.Seq, r.RTT.Round(time.Microsecond)))
		total += r.RTT
		ok++
		if min == 0 || r.RTT < min {
			min = r.RTT
		}
		if r.RTT > max {
			max = r.RTT
		}
	}

	sb.WriteString(fmt.Sprintf("\n--- %s ping statistics ---\n", addr))
	sb.WriteString(fmt.Sprintf("%d transmitted, %d received, %.0f%% loss\n",
		len(results), ok, float64(len(results)-ok)/float64(len(results))*100))
	if ok > 0 {
		avg := total / time.Duration(ok)
		sb.WriteString(fmt.Sprintf("rtt min/avg/max = %v/%v/%v\n",
			min.Round(time.Microsecond), avg.Round(time.Microsecond), max.Round(time.Microsecond)))
	}
	return sb.String()
}

// Status reports the configured remote, a live TCP connectivity probe,
// and whether the configured cipher/protocol/obfs names resolve to a
// constructible pipeline, without ever touching the network for the
// pipeline construction check itself.
func Status(cfg *config.Config) string {
	var sb strings.Builder

	addr := net.JoinHostPort(cfg.Remote.Host, strconv.Itoa(cfg.Remote.Port))
	sb.WriteString(fmt.Sprintf("Remote: %s\n", addr))
	sb.WriteString(fmt.Sprintf("Method: %s\n", cfg.Remote.Method))
	sb.WriteString(fmt.Sprintf("Protocol: %s (param=%q)\n", cfg.Remote.Protocol, cfg.Remote.ProtocolParam))
	sb.WriteString(fmt.Sprintf("Obfs: %s (param=%q)\n", cfg.Remote.Obfs, cfg.Remote.ObfsParam))
	sb.WriteString(fmt.Sprintf("Listen: %s\n", net.JoinHostPort(cfg.Listen.Host, strconv.Itoa(cfg.Listen.Port))))

	sb.WriteString("\nPipeline:\n")
	_, err := serverenv.New(cfg.Remote.Password, cfg.Remote.Method, cfg.Remote.Protocol, cfg.Remote.ProtocolParam, cfg.Remote.Obfs, cfg.Remote.ObfsParam)
	if err != nil {
		sb.WriteString(fmt.Sprintf("  Construction: FAIL (%v)\n", err))
	} else {
		sb.WriteString("  Construction: OK\n")
	}

	sb.WriteString("\nConnectivity:\n")
	start := time.Now()
	conn, err := net.DialTimeout("tcp", addr, 10*time.Second)
	if err != nil {
		sb.WriteString(fmt.Sprintf("  TCP: FAIL (%v)\n", err))
		return sb.String()
	}
	sb.WriteString(fmt.Sprintf("  TCP: OK (%v)\n", time.Since(start).Round(time.Microsecond)))
	conn.Close()

	return sb.String()
}

// CheckConfig validates a config file and reports the resolved
// settings, mirroring the teacher's check-config report shape.
func CheckConfig(path string) string {
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Sprintf("ERROR: %v\n", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Sprintf("INVALID: %v\n", err)
	}

	var sb strings.Builder
	sb.WriteString("Config OK\n")
	sb.WriteString(fmt.Sprintf("  Listen: %s:%d\n", cfg.Listen.Host, cfg.Listen.Port))
	sb.WriteString(fmt.Sprintf("  Remote: %s:%d\n", cfg.Remote.Host, cfg.Remote.Port))
	sb.WriteString(fmt.Sprintf("  Method: %s\n", cfg.Remote.Method))
	sb.WriteString(fmt.Sprintf("  Protocol: %s\n", cfg.Remote.Protocol))
	sb.WriteString(fmt.Sprintf("  Obfs: %s\n", cfg.Remote.Obfs))
	sb.WriteString(fmt.Sprintf("  Idle timeout: %s\n", cfg.Remote.IdleTimeout.Duration))
	sb.WriteString(fmt.Sprintf("  UDP associate allowed: %v\n", cfg.Remote.UDP))
	return sb.String()
}
