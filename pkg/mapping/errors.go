package mapping

import (
	"errors"
	"fmt"
)

// ErrEntityMapNotFound is matched by every EntityMapNotFoundError
var ErrEntityMapNotFound = errors.New("entity map not found")

// MappingError is returned when an entity type cannot be resolved to a valid,
// unambiguous EntityMap. It is raised at registration time.
type MappingError struct {
	TypeName string
	Reason   string
}

// Error returns the error message for MappingError.
func (e *MappingError) Error() string {
	return fmt.Sprintf("mapping %s: %s", e.TypeName, e.Reason)
}

func mappingErrorf(typeName, format string, args ...any) *MappingError {
	return &MappingError{TypeName: typeName, Reason: fmt.Sprintf(format, args...)}
}

// EntityMapNotFoundError is returned in strict mode when a type has no
// explicit or conventional map.
type EntityMapNotFoundError struct {
	TypeName string
}

// Error returns the error message for EntityMapNotFoundError.
func (e *EntityMapNotFoundError) Error() string {
	return fmt.Sprintf("no entity map registered for %q (strict mode)", e.TypeName)
}

// Is lets errors.Is(err, ErrEntityMapNotFound) match.
func (e *EntityMapNotFoundError) Is(target error) bool {
	return target == ErrEntityMapNotFound
}

// IsMappingError checks if an error is a MappingError
func IsMappingError(err error) bool {
	var me *MappingError
	return errors.As(err, &me)
}

// IsEntityMapNotFound checks if an error is an EntityMapNotFoundError
func IsEntityMapNotFound(err error) bool {
	return errors.Is(err, ErrEntityMapNotFound)
}
