package session

import (
	"crypto/rand"
	"strconv"
	"strings"
)

// ReconnectPrefix marks an Open request that reuses a previous session ID.
// The name field then has the form "RECONNECT:<oldID>|<metadata payload>".
const ReconnectPrefix = "RECONNECT:"

// idAlphabet is the character set for generated session identifiers.
const idAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// Metadata describes the owner of a session. It is immutable after the
// session is constructed.
type Metadata struct {
	// Name is the display identity, typically "user@host".
	Name string
	// Hostname is the part of Name after '@', or Name itself if absent.
	Hostname string
	// CPU, MemoryMB and OSInfo are best-effort host telemetry strings.
	CPU      string
	MemoryMB uint64
	OSInfo   string
	// EncryptionKey is an opaque pass-through; empty means none. The server
	// never decrypts terminal payloads.
	EncryptionKey string
	// WritePasswordHash distinguishes read-only from read-write viewer URLs;
	// empty means none. Enforcement happens outside this server.
	WritePasswordHash string
	// EncryptedZeros is an opaque placeholder blob forwarded from the client.
	EncryptedZeros []byte
}

// SplitReconnect checks a raw Open name for the reconnection marker. When the
// marker and a '|' separator are present it returns the old session ID and the
// remaining metadata payload.
func SplitReconnect(rawName string) (oldID, rest string, ok bool) {
	if !strings.HasPrefix(rawName, ReconnectPrefix) {
		return "", "", false
	}
	prefix, rest, found := strings.Cut(rawName, "|")
	if !found {
		return "", "", false
	}
	return strings.TrimPrefix(prefix, ReconnectPrefix), rest, true
}

// ParseMetadata parses the pipe-delimited name payload presented at Open.
// Three shapes are accepted:
//
//	user|cpu|memMB|os info words...|key   (5+ fields, full telemetry)
//	user|key                              (2 fields, telemetry defaults)
//	anything else                         (name only, no key)
//
// Parsing never fails; missing fields get "Unknown"/0/"Unknown OS" defaults.
func ParseMetadata(name, writePasswordHash string, encryptedZeros []byte) Metadata {
	parts := strings.Split(name, "|")

	var userName, key, cpu, osInfo string
	var memoryMB uint64
	switch {
	case len(parts) >= 5:
		userName = parts[0]
		key = parts[len(parts)-1]
		cpu = parts[1]
		mem, err := strconv.ParseUint(strings.TrimSuffix(parts[2], "MB"), 10, 64)
		if err == nil {
			memoryMB = mem
		}
		osInfo = strings.Join(parts[3:len(parts)-1], " ")
	case len(parts) == 2:
		userName = parts[0]
		key = parts[1]
		cpu = "Unknown"
		osInfo = "Unknown OS"
	default:
		userName = name
		cpu = "Unknown"
		osInfo = "Unknown OS"
	}

	hostname := userName
	if _, host, found := strings.Cut(userName, "@"); found {
		hostname = host
	}

	return Metadata{
		Name:              userName,
		Hostname:          hostname,
		CPU:               cpu,
		MemoryMB:          memoryMB,
		OSInfo:            osInfo,
		EncryptionKey:     key,
		WritePasswordHash: writePasswordHash,
		EncryptedZeros:    encryptedZeros,
	}
}

// RandomID returns an n-character random alphanumeric session identifier.
func RandomID(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		panic("session: crypto/rand unavailable: " + err.Error())
	}
	for i, b := range buf {
		buf[i] = idAlphabet[int(b)%len(idAlphabet)]
	}
	return string(buf)
}
