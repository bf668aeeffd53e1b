// Command token mints bearer tokens for local development against the API.
//
//	go run ./cmd/token -sub alice
//	go run ./cmd/token -sub ops -admin -ttl 8h
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/kittybank/kitty/internal/auth"
	"github.com/kittybank/kitty/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	sub := flag.String("sub", "", "identity to issue the token for")
	admin := flag.Bool("admin", false, "grant the administrator capability")
	ttl := flag.Duration("ttl", cfg.TokenTTL, "token lifetime")
	flag.Parse()

	token, err := auth.NewIssuer(cfg.JWTSecret, *ttl).Issue(auth.Principal{UserID: *sub, Admin: *admin})
	if err != nil {
		fmt.Fprintf(os.Stderr, "issue token: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
