package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/kelseyhightower/envconfig"

	"github.com/mdmvenezuela/mdm-backend/pkg/config"
	"github.com/mdmvenezuela/mdm-backend/pkg/logger"
	"github.com/mdmvenezuela/mdm-backend/pkg/security"
)

const defaultUsername = "admin"

func main() {
	logg := logger.New(logger.Options{ServiceName: "hash-password", Output: os.Stderr})
	if err := run(os.Args[1:], os.Stdout); err != nil {
		logg.Error(context.Background(), "hash-password failed", err)
		fmt.Fprintln(os.Stderr, "usage: hash-password <password> [username]")
		os.Exit(1)
	}
}

// run hashes the password with the configured Argon2id parameters and prints
// the statement that installs it on a super admin.
func run(args []string, out io.Writer) error {
	if len(args) < 1 || strings.TrimSpace(args[0]) == "" {
		return fmt.Errorf("password argument required")
	}
	username := defaultUsername
	if len(args) > 1 && strings.TrimSpace(args[1]) != "" {
		username = strings.TrimSpace(args[1])
	}

	var params config.PasswordConfig
	if err := envconfig.Process(config.EnvPrefix, &params); err != nil {
		return fmt.Errorf("parsing password config: %w", err)
	}

	hash, err := security.HashPassword(args[0], params)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}

	fmt.Fprintln(out, hash)
	fmt.Fprintf(out, "UPDATE super_admins SET password_hash = '%s' WHERE username = '%s';\n", hash, strings.ReplaceAll(username, "'", "''"))
	return nil
}
