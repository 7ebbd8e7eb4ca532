package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/annel0/pagedvolume/internal/auth"
	"github.com/annel0/pagedvolume/internal/config"
)

// volume-token выпускает Bearer токен для REST API сервера с той же конфигурацией
func main() {
	var (
		configPath = flag.String("config", "", "YAML config path (default PAGEDVOLUME_CONFIG)")
		subject    = flag.String("subject", "operator", "Token subject")
		write      = flag.Bool("write", false, "Allow PUT /api/voxel and POST /api/flush")
		ttl        = flag.Duration("ttl", 0, "Token lifetime (default server.token_ttl)")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("❌ Failed to load config: %v", err)
	}

	secret := cfg.Server.GetJWTSecret()
	if secret == "" {
		log.Fatalf("❌ server.jwt_secret is not set, the REST API does not check tokens")
	}

	lifetime := cfg.Server.TokenTTL
	if *ttl > 0 {
		lifetime = *ttl
	}

	authenticator, err := auth.NewAuthenticator([]byte(secret), cfg.Telemetry.ServiceName, lifetime)
	if err != nil {
		log.Fatalf("❌ %v", err)
	}

	token, err := authenticator.Issue(*subject, *write)
	if err != nil {
		log.Fatalf("❌ Failed to sign token: %v", err)
	}
	fmt.Println(token)
}
