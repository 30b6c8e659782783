package domain

// Roles recognised by the staff route guards.
const (
	RoleCustomer = "user"
	RoleStaff    = "staff"
	RoleAdmin    = "admin"
)

// Actor carries the authenticated caller of an operation.
type Actor struct {
	UserID int64  `json:"userId"`
	Role   string `json:"role"`
}

// IsStaff reports whether the actor may perform staff actions.
func (a Actor) IsStaff() bool {
	return a.Role == RoleStaff || a.Role == RoleAdmin
}
