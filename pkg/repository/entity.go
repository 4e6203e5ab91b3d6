package repository

import (
	"github.com/ammar0144/mapper4go/pkg/entity"
)

// Record is the contract of repository entities. Domain types embedding
// *entity.Entity satisfy it through the promoted Base method:
//
//	type User struct{ *entity.Entity }
//
//	func (u User) Email() string { return u.String("email") }
type Record interface {
	Base() *entity.Entity
}

// WrapFunc turns a loaded entity into the domain type
type WrapFunc[T Record] func(*entity.Entity) T

// Entities is the WrapFunc of repositories working on bare entities
func Entities(e *entity.Entity) *entity.Entity { return e }
