package core

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"
)

const maxSeedUsers = 1000

// ImportResult lists the usernames created and skipped by ImportUsers.
type ImportResult struct {
	Created []string `json:"created"`
	Skipped []string `json:"skipped"`
}

// ImportUsers provisions the accounts described by a YAML seed document.
// Expected layout:
//
//	users:
//	  - username: alice
//	    name: Alice Example
//	    email: alice@example.com
//	    department: Sales
//	    role: user            # user (default) or admin
//	    password: s3cret-pass # or password_hash: $2a$...
//	    face_subject: alice   # optional
//
// Existing usernames are skipped, so the same file can be applied repeatedly.
func ImportUsers(ctx context.Context, repo UserRepository, data []byte) (ImportResult, error) {
	var res ImportResult
	doc, err := parseUsersYAML(data)
	if err != nil {
		return res, err
	}

	for _, u := range doc.Users {
		if _, err := repo.FindByUsername(ctx, u.Username); err == nil {
			res.Skipped = append(res.Skipped, u.Username)
			continue
		} else if !errors.Is(err, ErrUserNotFound) {
			return res, fmt.Errorf("look up %s: %w", u.Username, err)
		}

		hash := u.PasswordHash
		if hash == "" {
			b, err := bcrypt.GenerateFromPassword([]byte(u.Password), bcrypt.DefaultCost)
			if err != nil {
				return res, fmt.Errorf("hash password for %s: %w", u.Username, err)
			}
			hash = string(b)
		}

		_, err := repo.Create(ctx, UserCreateInput{
			Username:     u.Username,
			Name:         u.Name,
			Email:        u.Email,
			Department:   u.Department,
			Role:         u.Role,
			PasswordHash: hash,
			FaceSubject:  u.FaceSubject,
		})
		if errors.Is(err, ErrUserExists) {
			res.Skipped = append(res.Skipped, u.Username)
			continue
		}
		if err != nil {
			return res, fmt.Errorf("create %s: %w", u.Username, err)
		}
		res.Created = append(res.Created, u.Username)
	}
	return res, nil
}

type seedUser struct {
	Username     string `yaml:"username"`
	Name         string `yaml:"name"`
	Email        string `yaml:"email"`
	Department   string `yaml:"department"`
	Role         string `yaml:"role"`
	Password     string `yaml:"password"`
	PasswordHash string `yaml:"password_hash"`
	FaceSubject  string `yaml:"face_subject"`
}

type usersDoc struct {
	Users []seedUser `yaml:"users"`
}

func parseUsersYAML(b []byte) (usersDoc, error) {
	var doc usersDoc
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return doc, fmt.Errorf("invalid users yaml: %w", err)
	}
	if len(doc.Users) == 0 {
		return doc, errors.New("users yaml has no users")
	}
	if len(doc.Users) > maxSeedUsers {
		return doc, fmt.Errorf("users yaml has %d users, at most %d allowed", len(doc.Users), maxSeedUsers)
	}

	seen := make(map[string]struct{}, len(doc.Users))
	for i := range doc.Users {
		u := &doc.Users[i]
		u.Username = strings.TrimSpace(u.Username)
		u.Name = strings.TrimSpace(u.Name)
		u.Email = strings.TrimSpace(u.Email)
		u.Department = strings.TrimSpace(u.Department)
		u.FaceSubject = strings.TrimSpace(u.FaceSubject)
		u.Role = strings.ToLower(strings.TrimSpace(u.Role))

		if u.Username == "" {
			return doc, fmt.Errorf("users[%d]: username is required", i)
		}
		if _, dup := seen[u.Username]; dup {
			return doc, fmt.Errorf("users[%d]: duplicate username %q", i, u.Username)
		}
		seen[u.Username] = struct{}{}
		if u.Name == "" {
			u.Name = u.Username
		}
		if u.Role == "" {
			u.Role = "user"
		}
		if u.Role != "user" && u.Role != "admin" {
			return doc, fmt.Errorf("users[%d]: role must be user or admin", i)
		}
		switch {
		case u.PasswordHash != "":
			if _, err := bcrypt.Cost([]byte(u.PasswordHash)); err != nil {
				return doc, fmt.Errorf("users[%d]: password_hash is not a bcrypt hash", i)
			}
		case len(u.Password) < minPasswordLength:
			return doc, fmt.Errorf("users[%d]: password must be at least %d characters", i, minPasswordLength)
		}
	}
	return doc, nil
}
