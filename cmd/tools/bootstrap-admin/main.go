// Command bootstrap-admin seeds or updates an administrator account in the
// JSON datastore.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/AvinashSuthar/chat-backend/internal/models"
	"github.com/AvinashSuthar/chat-backend/internal/storage"
)

func main() {
	var (
		dataPath string
		email    string
		password string
	)

	flag.StringVar(&dataPath, "data", "", "Path to the JSON datastore (chat.json)")
	flag.StringVar(&email, "email", "", "Email address for the admin account")
	flag.StringVar(&password, "password", "", "Password for the admin account")
	flag.Parse()

	if strings.TrimSpace(dataPath) == "" {
		fatalf("--data is required")
	}
	if strings.TrimSpace(email) == "" {
		fatalf("--email is required")
	}
	if len(password) < 8 {
		fatalf("--password must be at least 8 characters")
	}

	repo, err := storage.NewJSONRepository(dataPath)
	if err != nil {
		fatalf("open datastore: %v", err)
	}

	user, created, err := bootstrapAdmin(repo, email, password)
	if err != nil {
		fatalf("bootstrap admin: %v", err)
	}

	state := "updated"
	if created {
		state = "created"
	}
	fmt.Printf("Admin user %s %s successfully.\n", user.Email, state)
	fmt.Println("Remember to rotate this password after the first login.")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func bootstrapAdmin(repo storage.Repository, email, password string) (models.User, bool, error) {
	if existing, ok := repo.FindUserByEmail(email); ok {
		return updateAdmin(repo, existing, password)
	}

	user, err := repo.CreateUser(storage.CreateUserParams{
		Email:    email,
		Password: password,
		Roles:    []string{"admin"},
	})
	if err != nil {
		return models.User{}, false, err
	}
	return user, true, nil
}

func updateAdmin(repo storage.Repository, existing models.User, password string) (models.User, bool, error) {
	if !existing.HasRole("admin") {
		updated, err := repo.SetUserRoles(existing.ID, append(existing.Roles, "admin"))
		if err != nil {
			return models.User{}, false, err
		}
		existing = updated
	}

	updated, err := repo.SetUserPassword(existing.ID, password)
	if err != nil {
		return models.User{}, false, err
	}
	return updated, false, nil
}
