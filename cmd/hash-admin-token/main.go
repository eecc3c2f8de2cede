package main

import (
	"fmt"
	"log"
	"os"

	"golang.org/x/crypto/bcrypt"
)

// Generates the bcrypt hash expected in ADMIN_TOKEN_HASH for the admin
// metrics endpoints.
func main() {
	if len(os.Args) != 2 {
		fmt.Fprintf(os.Stderr, "Usage: %s <admin-token>\n", os.Args[0])
		os.Exit(1)
	}

	token := os.Args[1]
	if len(token) < 8 {
		log.Fatal("Admin token must be at least 8 characters")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		log.Fatalf("Failed to hash token: %v", err)
	}

	fmt.Printf("✅ Admin token hashed successfully!\n")
	fmt.Printf("   Set in your environment:\n")
	fmt.Printf("   ADMIN_TOKEN_HASH='%s'\n", string(hash))
}
