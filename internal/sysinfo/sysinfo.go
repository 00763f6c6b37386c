// Package sysinfo describes the host the daemon runs on.
package sysinfo

import (
	"net"
	"os"
	"runtime"
	"time"
)

var (
	// Version is the daemon version, set at build time via ldflags.
	// Example: go build -ldflags="-X github.com/postalsys/anchor/internal/sysinfo.Version=1.0.0"
	Version = "dev"

	startTime = time.Now()
)

// maxIPs caps the address list reported in health output.
const maxIPs = 10

// Info is a snapshot of host details.
type Info struct {
	Hostname      string   `json:"hostname"`
	OS            string   `json:"os"`
	Arch          string   `json:"arch"`
	Version       string   `json:"version"`
	UptimeSeconds int64    `json:"uptime_seconds"`
	IPAddresses   []string `json:"ip_addresses"`
}

// Collect gathers local system information.
func Collect() Info {
	hostname, _ := os.Hostname()

	return Info{
		Hostname:      hostname,
		OS:            runtime.GOOS,
		Arch:          runtime.GOARCH,
		Version:       Version,
		UptimeSeconds: int64(Uptime().Seconds()),
		IPAddresses:   LocalIPv4s(),
	}
}

// LocalIPv4s returns the non-loopback IPv4 addresses hosts can stream from.
func LocalIPv4s() []string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil
	}
	return filterIPv4(addrs)
}

func filterIPv4(addrs []net.Addr) []string {
	var ips []string
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		if ipv4 := ipNet.IP.To4(); ipv4 != nil {
			ips = append(ips, ipv4.String())
		}
		if len(ips) == maxIPs {
			break
		}
	}
	return ips
}

// StartTime returns the process start time.
func StartTime() time.Time {
	return startTime
}

// Uptime returns the process uptime.
func Uptime() time.Duration {
	return time.Since(startTime)
}
