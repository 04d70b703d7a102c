package auth

import (
	"github.com/sirupsen/logrus"
	"github.com/ukydev/ambulance-dispatch/internal/models"
)

// Gate runs commands only for roles that hold the required permission. Every
// mutating entry point of the dispatch service goes through Authorize.
type Gate struct {
	log logrus.FieldLogger
}

// NewGate creates a gate. A nil logger uses the standard logrus logger.
func NewGate(log logrus.FieldLogger) *Gate {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Gate{log: log}
}

// Check returns a *models.PermissionDeniedError when role lacks permission.
func (g *Gate) Check(role models.Role, permission models.Permission) error {
	if models.HasPermission(role, permission) {
		return nil
	}
	g.log.WithFields(logrus.Fields{
		"role":       role,
		"permission": permission,
	}).Warn("Permission denied")
	return &models.PermissionDeniedError{Role: role, Permission: permission}
}

// CheckAny passes when role holds at least one of permissions. A denial names
// the first permission listed.
func (g *Gate) CheckAny(role models.Role, permissions ...models.Permission) error {
	for _, p := range permissions {
		if models.HasPermission(role, p) {
			return nil
		}
	}
	if len(permissions) == 0 {
		return nil
	}
	return g.Check(role, permissions[0])
}

// Authorize executes command if role holds permission and returns its error;
// otherwise command is not run and a permission error is returned.
func (g *Gate) Authorize(role models.Role, permission models.Permission, command func() error) error {
	if err := g.Check(role, permission); err != nil {
		return err
	}
	return command()
}

// AuthorizeValue is Authorize for commands that return a result.
func AuthorizeValue[T any](g *Gate, role models.Role, permission models.Permission, command func() (T, error)) (T, error) {
	var zero T
	if err := g.Check(role, permission); err != nil {
		return zero, err
	}
	return command()
}

// AuthorizeAny executes command if role holds at least one of permissions.
func (g *Gate) AuthorizeAny(role models.Role, permissions []models.Permission, command func() error) error {
	if err := g.CheckAny(role, permissions...); err != nil {
		return err
	}
	return command()
}

// AuthorizeAnyValue is AuthorizeAny for commands that return a result.
func AuthorizeAnyValue[T any](g *Gate, role models.Role, permissions []models.Permission, command func() (T, error)) (T, error) {
	var zero T
	if err := g.CheckAny(role, permissions...); err != nil {
		return zero, err
	}
	return command()
}
