package core

// bootstrap.go — peer discovery bootstrap: on-disk peer cache, DNS seed
// resolution, and compile-time hardcoded seeds (spec.md §4.7). Adapted from
// original_source's crates/network/src/peer_cache.rs success/failure
// counter pattern and from Synnergy's core/network.go dial-and-record-peer
// habit (DialSeed), resolving DNS seeds with github.com/miekg/dns instead
// of net.LookupHost so A-record resolution is explicit and testable
// against a stub resolver.

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/miekg/dns"
	"github.com/multiformats/go-multiaddr"
)

// CachedPeer is one entry in the on-disk bootstrap peer cache.
type CachedPeer struct {
	Address   string    `json:"address"`
	LastSeen  time.Time `json:"last_seen"`
	Successes int       `json:"successes"`
	Failures  int       `json:"failures"`
}

// PeerCache is the persisted, success/failure-scored bootstrap peer cache
// (spec.md §4.7 bootstrap step 1). It holds the cache in memory and writes
// it to disk only when Save is called; it does not debounce or schedule
// flushes, and nothing in this package schedules them.
type PeerCache struct {
	path    string
	entries map[string]*CachedPeer
}

// LoadPeerCache reads peers.json from path, tolerating a missing file.
func LoadPeerCache(path string) (*PeerCache, error) {
	pc := &PeerCache{path: path, entries: make(map[string]*CachedPeer)}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return pc, nil
	}
	if err != nil {
		return nil, fmt.Errorf("peer cache: read: %w", err)
	}
	var list []*CachedPeer
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("peer cache: decode: %w", err)
	}
	for _, p := range list {
		pc.entries[p.Address] = p
	}
	return pc, nil
}

// Save persists the cache to disk as a JSON array, sorted by address for
// deterministic output.
func (pc *PeerCache) Save() error {
	list := make([]*CachedPeer, 0, len(pc.entries))
	for _, p := range pc.entries {
		list = append(list, p)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Address < list[j].Address })
	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return fmt.Errorf("peer cache: encode: %w", err)
	}
	if err := os.WriteFile(pc.path, data, 0o644); err != nil {
		return fmt.Errorf("peer cache: write: %w", err)
	}
	return nil
}

// RecordSuccess bumps a peer's success counter and last-seen time, updating
// the cache on every successful connection (spec.md §4.7).
func (pc *PeerCache) RecordSuccess(addr string) {
	e, ok := pc.entries[addr]
	if !ok {
		e = &CachedPeer{Address: addr}
		pc.entries[addr] = e
	}
	e.Successes++
	e.LastSeen = time.Now()
}

// RecordFailure bumps a peer's failure counter.
func (pc *PeerCache) RecordFailure(addr string) {
	e, ok := pc.entries[addr]
	if !ok {
		e = &CachedPeer{Address: addr}
		pc.entries[addr] = e
	}
	e.Failures++
}

// Prune removes entries whose LastSeen is older than maxAge.
func (pc *PeerCache) Prune(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for addr, e := range pc.entries {
		if e.LastSeen.Before(cutoff) {
			delete(pc.entries, addr)
			removed++
		}
	}
	return removed
}

// Reliable returns cached addresses ordered by descending reliability
// (successes minus failures), most reliable first.
func (pc *PeerCache) Reliable() []string {
	list := make([]*CachedPeer, 0, len(pc.entries))
	for _, p := range pc.entries {
		list = append(list, p)
	}
	sort.Slice(list, func(i, j int) bool {
		ri := list[i].Successes - list[i].Failures
		rj := list[j].Successes - list[j].Failures
		if ri != rj {
			return ri > rj
		}
		return list[i].Address < list[j].Address
	})
	out := make([]string, len(list))
	for i, p := range list {
		out[i] = p.Address
	}
	return out
}

// DNSResolver resolves a seed hostname to its addresses; ResolveDNSSeeds
// keeps at most maxPerSeed of them per seed.
// Abstracted so tests can substitute a stub resolver (spec.md §4.7
// bootstrap step 2: "each resolved to ≤ 10 addresses").
type DNSResolver func(host string) ([]string, error)

// DefaultDNSResolver issues an A-record query against the system resolver
// using miekg/dns, the same resolution library the wider example pack uses
// for seed-list lookups.
func DefaultDNSResolver(host string) ([]string, error) {
	conf, err := dns.ClientConfigFromFile("/etc/resolv.conf")
	if err != nil || len(conf.Servers) == 0 {
		conf = &dns.ClientConfig{Servers: []string{"8.8.8.8"}, Port: "53"}
	}
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(host), dns.TypeA)
	c := new(dns.Client)
	resp, _, err := c.Exchange(m, conf.Servers[0]+":"+conf.Port)
	if err != nil {
		return nil, fmt.Errorf("dns seed %s: %w", host, err)
	}
	var out []string
	for _, ans := range resp.Answer {
		if a, ok := ans.(*dns.A); ok {
			out = append(out, a.A.String())
		}
	}
	return out, nil
}

// ResolveDNSSeeds resolves every seed hostname via resolver, truncating each
// to maxPerSeed addresses (spec.md §4.7: "≤ 10 addresses").
func ResolveDNSSeeds(seeds []string, maxPerSeed int, resolver DNSResolver) []string {
	var out []string
	for _, seed := range seeds {
		addrs, err := resolver(seed)
		if err != nil {
			continue
		}
		if len(addrs) > maxPerSeed {
			addrs = addrs[:maxPerSeed]
		}
		out = append(out, addrs...)
	}
	return out
}

// HardcodedSeeds is the compile-time list of fallback bootstrap
// multiaddresses per network (spec.md §4.7 bootstrap step 3).
var HardcodedSeeds = map[string][]string{
	"digital-lira-mainnet": {
		"/dns/seed1.digitallira.net/tcp/30303",
		"/dns/seed2.digitallira.net/tcp/30303",
	},
	"digital-lira-testnet": {
		"/dns/seed1.testnet.digitallira.net/tcp/30303",
	},
}

// ValidateMultiaddr reports whether addr parses as a well-formed multiaddr
// and uses one of the permitted transports (spec.md §6 config validation).
func ValidateMultiaddr(addr string) error {
	ma, err := multiaddr.NewMultiaddr(addr)
	if err != nil {
		return fmt.Errorf("invalid multiaddr %q: %w", addr, err)
	}
	first, _ := multiaddr.SplitFirst(ma)
	if first == nil {
		return fmt.Errorf("invalid multiaddr %q: empty", addr)
	}
	switch first.Protocol().Name {
	case "ip4", "ip6", "dns", "dns4", "dns6":
		return nil
	default:
		return fmt.Errorf("invalid multiaddr %q: unsupported transport %s", addr, first.Protocol().Name)
	}
}

// BootstrapAddresses unions the peer cache's reliable addresses, resolved
// DNS seeds, and hardcoded seeds, deduplicated, sorted, and truncated to
// maxPeers (spec.md §4.7).
func BootstrapAddresses(cache *PeerCache, dnsSeeds []string, resolver DNSResolver, chainID string, maxPeers int) []string {
	seen := make(map[string]struct{})
	var all []string
	add := func(addrs []string) {
		for _, a := range addrs {
			if _, dup := seen[a]; dup {
				continue
			}
			seen[a] = struct{}{}
			all = append(all, a)
		}
	}
	if cache != nil {
		add(cache.Reliable())
	}
	add(ResolveDNSSeeds(dnsSeeds, 10, resolver))
	add(HardcodedSeeds[chainID])

	sort.Strings(all)
	if maxPeers > 0 && len(all) > maxPeers {
		all = all[:maxPeers]
	}
	return all
}
