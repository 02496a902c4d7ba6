package access

import "context"

type Role string

const (
	RoleAdministrator Role = "Administrator"
	RoleOperator      Role = "operator"
)

// View es el snapshot de permisos de un usuario dentro de una cuenta.
// Labels solo aplica a operadores; un administrador ve todas las sesiones.
type View struct {
	Role   Role
	Labels []string
}

// AllowsLabel decide si la vista cubre una sesión concreta.
func (v View) AllowsLabel(label string) bool {
	if v.Role == RoleAdministrator {
		return true
	}
	for _, l := range v.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// Empty reporta una vista sin acceso alguno.
func (v View) Empty() bool {
	return v.Role != RoleAdministrator && len(v.Labels) == 0
}

// Resolver lee y observa los permisos. Watch emite una vista nueva en cada
// cambio del documento de acceso; el canal se cierra al cancelar.
type Resolver interface {
	Resolve(ctx context.Context, accountID, uid string) (View, error)
	Watch(ctx context.Context, accountID, uid string) (<-chan View, func(), error)
}
