package model

import "github.com/google/uuid"

type Role string

const (
	RoleCustomer Role = "CUSTOMER"
	RoleOwner    Role = "OWNER"
	RoleAdmin    Role = "ADMIN"
)

// Principal is the authenticated actor extracted from the access token.
type Principal struct {
	UserID uuid.UUID
	Role   Role
}

func (p Principal) IsCustomer() bool {
	return p.Role == RoleCustomer
}

func (p Principal) IsOwner() bool {
	return p.Role == RoleOwner
}

func (p Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}
