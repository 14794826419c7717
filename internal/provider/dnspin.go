package provider

import (
	"fmt"
	"strings"
	"time"

	"github.com/miekg/dns"
)

// DNSPinner resolves a provider's configured base-URL host and rejects any
// answer outside the pinned IP set, guarding against a provider endpoint
// being DNS-rebound to an attacker-controlled host between deployments.
// Grounded on the teacher's ops/seeds/tools/dnsstub use of miekg/dns for
// wire-level message construction, here run as a resolving client instead
// of an authoritative stub.
type DNSPinner struct {
	resolver string
	client   *dns.Client
}

// NewDNSPinner builds a pinner that queries resolver (host:port, e.g.
// "1.1.1.1:53") directly rather than the system resolver, so pinning
// cannot be defeated by a compromised local /etc/resolv.conf.
func NewDNSPinner(resolver string, timeout time.Duration) *DNSPinner {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &DNSPinner{resolver: resolver, client: &dns.Client{Timeout: timeout}}
}

// Check resolves host's A records against p.resolver and returns an error
// unless every returned address is present in pinned. An empty pinned set
// disables pinning and Check always succeeds, since the caller has not
// opted into pinning for that provider.
func (p *DNSPinner) Check(host string, pinned []string) error {
	if len(pinned) == 0 {
		return nil
	}
	allow := make(map[string]struct{}, len(pinned))
	for _, ip := range pinned {
		allow[ip] = struct{}{}
	}

	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(host), dns.TypeA)
	msg.RecursionDesired = true

	resp, _, err := p.client.Exchange(msg, p.resolver)
	if err != nil {
		return fmt.Errorf("provider: dns pin lookup for %s: %w", host, err)
	}
	if resp.Rcode != dns.RcodeSuccess {
		return fmt.Errorf("provider: dns pin lookup for %s: rcode %s", host, dns.RcodeToString[resp.Rcode])
	}

	var resolved []string
	for _, rr := range resp.Answer {
		a, ok := rr.(*dns.A)
		if !ok {
			continue
		}
		resolved = append(resolved, a.A.String())
	}
	if len(resolved) == 0 {
		return fmt.Errorf("provider: dns pin lookup for %s: no A records returned", host)
	}
	for _, ip := range resolved {
		if _, ok := allow[ip]; !ok {
			return fmt.Errorf("provider: dns pin violation for %s: resolved %s, pinned %s", host, ip, strings.Join(pinned, ","))
		}
	}
	return nil
}
