package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/joho/godotenv"
)

// TestMain loads API keys from a repository-level .env when one exists.
func TestMain(m *testing.M) {
	_ = godotenv.Load(filepath.Join("..", "..", ".env"))
	os.Exit(m.Run())
}
