package registry

import "errors"

var (
	ErrNotFound      = errors.New("registry: entity not found")
	ErrAlreadyExists = errors.New("registry: entity already exists")
)

// EntityStore is the persistence contract both the in-memory and SQLite
// implementations satisfy.
type EntityStore interface {
	Create(e *Entity) error
	Get(id string) (*Entity, bool, error)
	FindByPublicKey(key []byte) (*Entity, bool, error)
	FindByTag(tag string) ([]*Entity, error)
	FindByNamespace(namespace string) ([]*Entity, error)
	List(offset, limit int) ([]*Entity, error)
	Update(e *Entity) error
	UpdateStatus(id string, status EntityStatus) error
	Delete(id string) (bool, error)
	Count() (int, error)
}
