package model

// Roles carried in access tokens.
const (
	RoleCustomer = "CUSTOMER"
	RoleOwner    = "OWNER"
	RoleAdmin    = "ADMIN"
)

// Actor identifies who performs a lifecycle operation.  It is resolved
// once by the transport layer and passed explicitly to every operation.
type Actor struct {
	UserID string
	Role   string
}

// System is the actor used by background work such as reconciliation.
var System = Actor{UserID: "system", Role: RoleAdmin}
