// Package config loads runtime configuration from environment variables,
// following the teacher's own internal/config package: one Load() call,
// a getEnv fallback helper, and parseDuration/parseInt for tunables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"
)

// Config holds all runtime configuration loaded from environment variables.
type Config struct {
	RootPrivateKey string // SITE_PRIVATE_KEY — this site's root-of-trust key
	RootPublicKey  string
	RootAddress    string // npub-encoded site address

	DatabaseURL string // DATABASE_URL — sqlite path or postgres:// DSN
	Port        string // PORT — HTTP listen port

	RSAPrivateKeyPath string // TRANSPORT_RSA_PRIVATE_KEY_PATH
	RSAPublicKeyPath  string // TRANSPORT_RSA_PUBLIC_KEY_PATH

	Federate bool // FEDERATE — start the Federation Manager when the site opens

	// FederationPeerKeys is a comma-separated "address=base64der" list of
	// remote sites' transport public keys (FEDERATION_PEER_KEYS), learned
	// out-of-band and registered at startup so their signed
	// /federation/inbox pushes verify. Empty means no inbound HTTP
	// federation peer is trusted yet.
	FederationPeerKeys string

	// Federation Manager tunables; all have sensible defaults and rarely
	// need changing.
	HistoricalSyncDeadline time.Duration // HISTORICAL_SYNC_DEADLINE, default 60s
	PollInterval           time.Duration // POLL_INTERVAL, default 3s
	RemoteOpenDeadline     time.Duration // REMOTE_OPEN_DEADLINE, default 15s
	IterateBatchSize       int           // ITERATE_BATCH_SIZE, default 1000
}

// Load reads configuration from environment variables.
// Exits the process if SITE_PRIVATE_KEY is missing or invalid.
func Load() *Config {
	privKey := os.Getenv("SITE_PRIVATE_KEY")
	if privKey == "" {
		fmt.Fprintln(os.Stderr, "ERROR: SITE_PRIVATE_KEY is not set!")
		fmt.Fprintln(os.Stderr, "Set it to this site's hex secp256k1 private key.")
		os.Exit(1)
	}

	pubKey, err := nostr.GetPublicKey(privKey)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: invalid SITE_PRIVATE_KEY: %v\n", err)
		os.Exit(1)
	}

	address, err := nip19.EncodePublicKey(pubKey)
	if err != nil {
		address = pubKey // fallback to hex if encoding fails
	}

	return &Config{
		RootPrivateKey: privKey,
		RootPublicKey:  pubKey,
		RootAddress:    address,

		DatabaseURL: getEnv("DATABASE_URL", "sitefed.db"),
		Port:        getEnv("PORT", "8000"),

		RSAPrivateKeyPath: getEnv("TRANSPORT_RSA_PRIVATE_KEY_PATH", "transport-private.pem"),
		RSAPublicKeyPath:  getEnv("TRANSPORT_RSA_PUBLIC_KEY_PATH", "transport-public.pem"),

		Federate:           getEnvBool("FEDERATE", true),
		FederationPeerKeys: os.Getenv("FEDERATION_PEER_KEYS"),

		HistoricalSyncDeadline: parseDuration(os.Getenv("HISTORICAL_SYNC_DEADLINE"), 60*time.Second),
		PollInterval:           parseDuration(os.Getenv("POLL_INTERVAL"), 3*time.Second),
		RemoteOpenDeadline:     parseDuration(os.Getenv("REMOTE_OPEN_DEADLINE"), 15*time.Second),
		IterateBatchSize:       parseInt(os.Getenv("ITERATE_BATCH_SIZE"), 1000),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvBool returns fallback unless the env var is explicitly set to
// "true"/"1" or "false"/"0" (case-insensitive).
func getEnvBool(key string, fallback bool) bool {
	v := strings.ToLower(os.Getenv(key))
	switch v {
	case "true", "1":
		return true
	case "false", "0":
		return false
	default:
		return fallback
	}
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

func parseInt(s string, fallback int) int {
	if s == "" {
		return fallback
	}
	i, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return i
}
