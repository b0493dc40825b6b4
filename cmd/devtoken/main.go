// cmd/devtoken/main.go
package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/your-org/marketplace-billing/internal/config"
	"github.com/your-org/marketplace-billing/internal/pkg/auth"
)

func main() {
	userFlag := flag.String("user", "", "user id (a new one is generated when empty)")
	email := flag.String("email", "dev@example.com", "email claim")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if cfg.IsProduction() {
		log.Fatal("Refusing to mint development tokens in production")
	}

	userID := uuid.New()
	if *userFlag != "" {
		userID, err = uuid.Parse(*userFlag)
		if err != nil {
			log.Fatalf("Invalid user id: %v", err)
		}
	}

	token, err := auth.NewJWTManager(cfg).GenerateAccessToken(userID, *email, false)
	if err != nil {
		log.Fatalf("Failed to sign token: %v", err)
	}

	fmt.Printf("User:  %s\n", userID)
	fmt.Printf("Email: %s\n", *email)
	fmt.Printf("Token: %s\n", token)
	fmt.Printf("\nAuthorization: Bearer %s\n", token)
}
