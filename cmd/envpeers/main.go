// Command envpeers resolves a headless Kubernetes service name to the set
// of controller endpoints currently backing it and prints them as JSON.
//
// It exists so that worker fleets launched from a Job/DaemonSet template
// can discover the live controller address (server_url, §6) without
// baking a single IP into their startup command: point -s at the
// controller's headless service and each worker pod resolves its own
// peer list at start-up.
package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"sort"
	"time"
)

const maxWaitForHost = 10 * time.Second // maximum time to wait until host is known

var (
	headlessServiceName string
	commandPort         int
	requestPort         int
	probeTimeout        time.Duration
)

func init() {
	flag.StringVar(&headlessServiceName, "s", "", "headless service name")
	flag.IntVar(&commandPort, "cp", 5562, "controller command (broadcast) port")
	flag.IntVar(&requestPort, "rp", 5563, "controller request (req/rep) port")
	flag.DurationVar(&probeTimeout, "probe-timeout", 500*time.Millisecond,
		"dial both ports before listing a peer; 0 disables probing")
}

type controllerDesc struct {
	CommandAddr string `json:"command_addr"`
	RequestAddr string `json:"request_addr"`
}

type peerJSON struct {
	Controllers []controllerDesc `json:"controllers"`
}

func main() {
	flag.Parse()
	if headlessServiceName == "" {
		flag.Usage()
		os.Exit(1)
	}

	start := time.Now()
retry:
	ips, err := net.LookupIP(headlessServiceName)
	if err != nil {
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) && dnsErr.IsNotFound && time.Since(start) < maxWaitForHost {
			time.Sleep(250 * time.Millisecond)
			goto retry
		}
		fmt.Fprintf(os.Stderr, "net.LookupIP(%q): %s", headlessServiceName, err)
		os.Exit(1)
	}

	sort.Slice(ips, func(i, j int) bool {
		return bytes.Compare(ips[i], ips[j]) < 0
	})

	var ret peerJSON
	for _, ip := range ips {
		desc := controllerDesc{
			CommandAddr: (&net.TCPAddr{IP: ip, Port: commandPort}).String(),
			RequestAddr: (&net.TCPAddr{IP: ip, Port: requestPort}).String(),
		}
		if probeTimeout > 0 && !probeBothPorts(desc) {
			// A pod's IP can land in DNS before controller.New has bound
			// both endpoints (it binds command, then request, closing
			// command again on request-bind failure); list only peers
			// that answer on both so a worker never handshakes against a
			// controller generation that's still mid-startup or torn
			// half down.
			fmt.Fprintf(os.Stderr, "envpeers: %s not answering on both ports, skipping\n", ip)
			continue
		}
		ret.Controllers = append(ret.Controllers, desc)
	}
	json.NewEncoder(os.Stdout).Encode(&ret)
}

// probeBothPorts reports whether both of desc's endpoints accept a TCP
// dial within probeTimeout. Exercising the two-port descriptor this way
// has no single-port analogue: it tells a caller whether a listed
// controller is actually both reachable and internally consistent,
// not just that one address resolved.
func probeBothPorts(desc controllerDesc) bool {
	for _, addr := range []string{desc.CommandAddr, desc.RequestAddr} {
		conn, err := net.DialTimeout("tcp", addr, probeTimeout)
		if err != nil {
			return false
		}
		conn.Close()
	}
	return true
}
