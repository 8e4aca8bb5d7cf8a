package intel

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net/netip"
	"os"
	"strings"

	"github.com/netvigil/netvigil/pkg/model"
)

// Built-in suspicious ports; config can only add to this set.
var defaultSuspiciousPorts = []uint16{23, 445, 3389, 4444, 5554, 9996}

// ThreatPattern is one named IoC pattern. An indicator matches when it is
// a substring of the endpoint's reverse DNS, organization, or any
// recorded HTTP request path.
type ThreatPattern struct {
	Name       string         `json:"name"`
	Indicators []string       `json:"indicators"`
	Severity   model.Severity `json:"severity"`
}

// databaseFile is the persisted shape of threat_intel/database.json.
type databaseFile struct {
	MaliciousIPs   []string        `json:"malicious_ips"`
	ThreatPatterns []ThreatPattern `json:"threat_patterns"`
}

// Corpus is one immutable snapshot of the threat-intelligence data. The
// loader swaps whole snapshots behind an atomic reference, so readers
// never see a partially reloaded state.
type Corpus struct {
	Version  int64
	Patterns []ThreatPattern

	exactIPs        map[string]struct{}
	cidrs           []netip.Prefix
	suspiciousPorts map[uint16]struct{}
}

// EmptyCorpus returns a corpus with no IoCs and the built-in suspicious
// ports plus extra.
func EmptyCorpus(extraSuspiciousPorts []int) *Corpus {
	c := &Corpus{
		exactIPs:        make(map[string]struct{}),
		suspiciousPorts: make(map[uint16]struct{}),
	}
	for _, p := range defaultSuspiciousPorts {
		c.suspiciousPorts[p] = struct{}{}
	}
	for _, p := range extraSuspiciousPorts {
		if p > 0 && p <= 65535 {
			c.suspiciousPorts[uint16(p)] = struct{}{}
		}
	}
	return c
}

// IsMalicious reports whether host matches an exact IoC IP or CIDR range.
func (c *Corpus) IsMalicious(host string) bool {
	host = model.CanonicalHost(host)
	if _, ok := c.exactIPs[host]; ok {
		return true
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}
	for _, prefix := range c.cidrs {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// IsSuspiciousPort reports whether port is in the suspicious set.
func (c *Corpus) IsSuspiciousPort(port uint16) bool {
	_, ok := c.suspiciousPorts[port]
	return ok
}

// MatchPatterns returns the patterns whose indicators appear as a
// substring of any of the given fields, case-insensitively.
func (c *Corpus) MatchPatterns(fields []string) []ThreatPattern {
	if len(c.Patterns) == 0 {
		return nil
	}
	lowered := make([]string, 0, len(fields))
	for _, f := range fields {
		if f != "" {
			lowered = append(lowered, strings.ToLower(f))
		}
	}
	if len(lowered) == 0 {
		return nil
	}

	var matched []ThreatPattern
	for _, pat := range c.Patterns {
		if patternMatches(pat, lowered) {
			matched = append(matched, pat)
		}
	}
	return matched
}

func patternMatches(pat ThreatPattern, fields []string) bool {
	for _, ind := range pat.Indicators {
		ind = strings.ToLower(ind)
		if ind == "" {
			continue
		}
		for _, f := range fields {
			if strings.Contains(f, ind) {
				return true
			}
		}
	}
	return false
}

// addIP records an exact IP or CIDR range IoC. Unparseable entries are
// reported so a corpus typo does not vanish silently.
func (c *Corpus) addIP(entry string) error {
	entry = strings.TrimSpace(entry)
	if entry == "" {
		return nil
	}
	if strings.Contains(entry, "/") {
		prefix, err := netip.ParsePrefix(entry)
		if err != nil {
			return fmt.Errorf("invalid CIDR %q: %w", entry, err)
		}
		c.cidrs = append(c.cidrs, prefix)
		return nil
	}
	addr, err := netip.ParseAddr(entry)
	if err != nil {
		return fmt.Errorf("invalid IP %q: %w", entry, err)
	}
	c.exactIPs[addr.String()] = struct{}{}
	return nil
}

// parseDatabase loads database.json into the corpus.
func (c *Corpus) parseDatabase(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading %s: %w", path, err)
	}
	var db databaseFile
	if err := json.Unmarshal(data, &db); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	for _, ip := range db.MaliciousIPs {
		if err := c.addIP(ip); err != nil {
			return err
		}
	}
	for _, pat := range db.ThreatPatterns {
		if pat.Name == "" {
			return fmt.Errorf("parsing %s: pattern with empty name", path)
		}
		c.Patterns = append(c.Patterns, pat)
	}
	return nil
}

// parseIPList loads malicious_ips.txt: one IP or CIDR per line, '#' comments.
func (c *Corpus) parseIPList(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if err := c.addIP(line); err != nil {
			return err
		}
	}
	return scanner.Err()
}

// IoCCount returns the number of loaded IP and CIDR indicators.
func (c *Corpus) IoCCount() int {
	return len(c.exactIPs) + len(c.cidrs)
}
