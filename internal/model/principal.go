package model

import "github.com/google/uuid"

type Role string

const (
	RoleAdmin     Role = "ADMIN"
	RoleCustomer  Role = "CUSTOMER"
	RoleCollector Role = "COLLECTOR"
)

type Principal struct {
	UserID uuid.UUID
	Role   Role
}

func (p Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}

func (p Principal) IsCustomer() bool {
	return p.Role == RoleCustomer
}

func (p Principal) IsCollector() bool {
	return p.Role == RoleCollector
}

func (p Principal) CanAccess(req ServiceRequest) bool {
	if p.IsAdmin() {
		return true
	}
	return p.IsCustomer() && req.CustomerID == p.UserID
}
