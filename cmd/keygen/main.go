package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/af-corp/sentinel-gate/internal/auth"
)

func main() {
	owner := flag.String("owner", "", "team or service that owns the key (required)")
	name := flag.String("name", "", "human-friendly key name (required)")
	scopes := flag.String("scopes", "", "comma-separated scopes: scan, ledger, override (empty = all)")
	rpm := flag.Int("rpm", 0, "per-key requests per minute (0 = server default)")
	env := flag.String("env", "prod", "environment prefix")
	expires := flag.String("expires", "365d", "expiry duration (e.g., 365d, 720h)")
	dbURL := flag.String("db-url", "", "database URL (overrides env)")
	flag.Parse()

	if *owner == "" || *name == "" {
		flag.Usage()
		fmt.Fprintln(os.Stderr, "\nerror: -owner and -name are required")
		os.Exit(1)
	}

	scopeList, err := auth.ParseScopes(*scopes)
	if err != nil {
		log.Fatalf("invalid scopes: %v", err)
	}

	rawKey, err := auth.GenerateKey(*env)
	if err != nil {
		log.Fatalf("failed to generate key: %v", err)
	}
	keyHash := auth.HashKey(rawKey)
	keyPrefix := auth.KeyPrefix(rawKey)

	dur, err := auth.ParseDuration(*expires)
	if err != nil {
		log.Fatalf("invalid expires: %v", err)
	}
	expiresAt := time.Now().Add(dur)

	dsn := *dbURL
	if dsn == "" {
		dsn = os.Getenv("DATABASE_URL")
	}
	if dsn == "" {
		host := envOrDefault("DB_HOST", "localhost")
		port := envOrDefault("DB_PORT", "5432")
		u := envOrDefault("DB_USER", "sentinel")
		pass := envOrDefault("DB_PASSWORD", "sentinel-dev")
		dbname := envOrDefault("DB_NAME", "sentinel")
		dsn = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", u, pass, host, port, dbname)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer conn.Close(ctx)

	scopesJSON, _ := json.Marshal(scopeList)

	var rpmLimit *int
	if *rpm > 0 {
		rpmLimit = rpm
	}

	var keyID string
	err = conn.QueryRow(ctx, `
		INSERT INTO api_keys (key_hash, key_prefix, owner, name, scopes, rpm_limit, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`, keyHash, keyPrefix, *owner, *name, scopesJSON, rpmLimit, expiresAt).Scan(&keyID)
	if err != nil {
		log.Fatalf("failed to insert key: %v", err)
	}

	shown := "all"
	if len(scopeList) > 0 {
		shown = strings.Join(scopeList, ", ")
	}
	fmt.Println("=== Sentinel API Key Generated ===")
	fmt.Println()
	fmt.Printf("  Key ID:      %s\n", keyID)
	fmt.Printf("  Key Prefix:  %s\n", keyPrefix)
	fmt.Printf("  Owner:       %s\n", *owner)
	fmt.Printf("  Scopes:      %s\n", shown)
	if *rpm > 0 {
		fmt.Printf("  RPM limit:   %d\n", *rpm)
	}
	fmt.Printf("  Expires:     %s\n", expiresAt.Format(time.RFC3339))
	fmt.Println()
	fmt.Println("  API Key (save this, it will NOT be shown again):")
	fmt.Printf("  %s\n", rawKey)
	fmt.Println()
	fmt.Println("==================================")
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
