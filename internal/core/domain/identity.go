package domain

const RoleAdmin = "admin"

// Principal is the caller identity carried by a bearer token.
type Principal struct {
	SubjectID string `json:"subjectId"`
	Email     string `json:"email,omitempty"`
	Role      string `json:"role"`
}

func (p Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}

// Owns reports whether identity is the caller's subject id or email alias.
func (p Principal) Owns(identity string) bool {
	if identity == "" {
		return false
	}
	return identity == p.SubjectID || (p.Email != "" && identity == p.Email)
}

// CanView reports whether o was placed under one of the caller's identities.
func (p Principal) CanView(o Order) bool {
	return p.IsAdmin() || o.BelongsTo(p.SubjectID) || o.BelongsTo(p.Email)
}

// Product mirrors the catalog record; only used to decorate line items.
type Product struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Price       float64 `json:"price"`
	Description string  `json:"description,omitempty"`
	Stock       int     `json:"stock"`
	CategoryID  string  `json:"categoryId"`
	ImageURL    string  `json:"imageUrl,omitempty"`
}
