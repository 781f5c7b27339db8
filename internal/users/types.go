package users

import "time"

// InitialBalance is credited to every new account.
const InitialBalance int64 = 100

// User is the item stored in the users table.
type User struct {
	UserID       string    `dynamodbav:"user_id" json:"user_id"` // PK
	Username     string    `dynamodbav:"username" json:"username"`
	Usermail     string    `dynamodbav:"usermail" json:"usermail"`
	PasswordHash string    `dynamodbav:"password_hash" json:"-"`
	Balance      int64     `dynamodbav:"balance" json:"balance"`
	About        string    `dynamodbav:"about,omitempty" json:"about,omitempty"`
	Donor        bool      `dynamodbav:"donor" json:"donor"`
	CreatedAt    time.Time `dynamodbav:"created_at" json:"created_at"`
	UpdatedAt    time.Time `dynamodbav:"updated_at" json:"updated_at"`
}

// usernameClaim reserves a username in the usernames table.
type usernameClaim struct {
	Username string `dynamodbav:"username"` // PK, lower-cased
	UserID   string `dynamodbav:"user_id"`
}

// Changes lists the profile fields to overwrite. Empty strings are skipped.
type Changes struct {
	Usermail     string
	PasswordHash string
	About        string
}
