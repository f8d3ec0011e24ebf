package util

import (
	"crypto/sha256"
	"encoding/hex"
	"net"
	"net/url"
	"regexp"
)

var secretPattern = regexp.MustCompile(`(?i)(password|token|secret|key)=([^\s&]+)`)

// RedactURL hides the password of a connection URL such as REDIS_URL and
// any secret-looking query parameter.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return RedactSecret(raw)
	}
	return RedactSecret(u.Redacted())
}
func RedactSecret(s string) string {
	return secretPattern.ReplaceAllString(s, "$1=[REDACTED]")
}

// RedactIP keeps the network part of an address: the last octet of IPv4,
// everything past /32 of IPv6. Unparseable input is hashed.
func RedactIP(ip string) string {
	host, _, err := net.SplitHostPort(ip)
	if err == nil {
		ip = host
	}
	parsed := net.ParseIP(ip)
	if parsed == nil {
		hash := sha256.Sum256([]byte(ip))
		return "hash:" + hex.EncodeToString(hash[:8])
	}
	if ipv4 := parsed.To4(); ipv4 != nil {
		ipv4[3] = 0
		return ipv4.String()
	}
	ipv6 := parsed.To16()
	for i := 4; i < 16; i++ {
		ipv6[i] = 0
	}
	return ipv6.String()
}
