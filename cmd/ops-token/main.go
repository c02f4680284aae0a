// Command ops-token mints a bearer token for the /ops routes.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/wallet-ledger/internal/auth"
)

func main() {
	operator := flag.String("operator", "", "operator id (uuid); generated when empty")
	scopes := flag.String("scopes", auth.ScopeRead, "comma separated scopes")
	ttl := flag.Duration("ttl", time.Hour, "token lifetime")
	flag.Parse()

	secret := os.Getenv("OPS_JWT_SECRET")
	if secret == "" {
		slog.Error("OPS_JWT_SECRET is required")
		os.Exit(1)
	}

	id := uuid.New()
	if *operator != "" {
		parsed, err := uuid.Parse(*operator)
		if err != nil {
			slog.Error("invalid operator id", "error", err)
			os.Exit(1)
		}
		id = parsed
	}

	token, err := auth.GenerateToken(id, strings.Split(*scopes, ","), secret, *ttl)
	if err != nil {
		slog.Error("failed to sign token", "error", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
