package models

import "time"

// DefaultPetImage is shown for pets saved without an image URL.
const DefaultPetImage = "https://bytegrad.com/course-assets/react-nextjs/pet-placeholder.png"

type User struct {
	ID             string    `db:"id" json:"id"`
	Email          string    `db:"email" json:"email"`
	HashedPassword string    `db:"hashed_password" json:"-"`
	HasAccess      bool      `db:"has_access" json:"has_access"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

type Pet struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	OwnerName string    `db:"owner_name" json:"owner_name"`
	ImageURL  string    `db:"image_url" json:"image_url"`
	Age       int       `db:"age" json:"age"`
	Notes     string    `db:"notes" json:"notes"`
	UserID    string    `db:"user_id" json:"user_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
