package core

import (
	"log"

	"github.com/joho/godotenv"
)

// LoadEnvs loads .env when present. Deployed containers configure the
// process through real environment variables instead.
func LoadEnvs() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file loaded, using process environment")
	}
}
