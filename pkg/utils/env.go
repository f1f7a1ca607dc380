package utils

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	gonanoid "github.com/matoous/go-nanoid"
)

// LoadEnv loads the .env file for the given environment.
// Lookup order: .env.<env>.local, .env.<env>, .env.local, .env
func LoadEnv(env string) error {
	candidates := []string{}
	if env != "" {
		candidates = append(candidates, ".env."+env+".local", ".env."+env)
	}
	candidates = append(candidates, ".env.local", ".env")

	var lastErr error
	loaded := false
	for _, name := range candidates {
		if _, err := os.Stat(name); err != nil {
			continue
		}
		if err := godotenv.Load(name); err != nil {
			lastErr = err
			continue
		}
		loaded = true
	}
	if !loaded && lastErr == nil {
		return fmt.Errorf("no .env file found")
	}
	return lastErr
}

// GetEnv returns the trimmed value of an environment variable.
func GetEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

// GetBoolEnv parses a boolean environment variable ("1", "t", "true", "yes" are true).
func GetBoolEnv(key string) bool {
	v := strings.ToLower(GetEnv(key))
	switch v {
	case "1", "t", "true", "yes", "on":
		return true
	}
	return false
}

// GetIntEnv parses an integer environment variable. ok is false when the
// variable is unset or not an integer, so an explicit "0" is distinguishable
// from absence.
func GetIntEnv(key string) (int64, bool) {
	v := GetEnv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

const randTextAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// RandText generates a random alphanumeric string of length n.
func RandText(n int) string {
	id, err := gonanoid.Generate(randTextAlphabet, n)
	if err != nil {
		return strings.Repeat("0", n)
	}
	return id
}
