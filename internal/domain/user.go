package domain

import (
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID           uuid.UUID
	Email        string
	FirstName    string
	LastName     string
	PasswordHash string
	Phone        *string
	CreatedAt    time.Time
}

func (u *User) Name() string {
	return u.FirstName + " " + u.LastName
}
