package redis

import "strings"

// KeyBuilder builds Redis keys following the namespace:context:entity:attribute
// convention. Key layout is the only coordination between service instances,
// so every repository goes through a builder instead of concatenating strings.
type KeyBuilder struct {
	namespace string
	context   string
}

// NewKeyBuilder creates a KeyBuilder for the given namespace.
func NewKeyBuilder(namespace, context string) *KeyBuilder {
	return &KeyBuilder{
		namespace: strings.ToLower(namespace),
		context:   strings.ToLower(context),
	}
}

// Build creates a key for an entity, with an optional attribute suffix.
func (kb *KeyBuilder) Build(entity, attribute string) string {
	parts := []string{kb.namespace, kb.context, strings.ToLower(entity)}
	if attribute != "" {
		parts = append(parts, attribute)
	}
	return strings.Join(parts, ":")
}

// BuildIndex creates the key of the sorted index for an entity.
func (kb *KeyBuilder) BuildIndex(entity string) string {
	return kb.Build(entity, "index")
}

// WithNamespace creates a builder for a different namespace in the same context.
func (kb *KeyBuilder) WithNamespace(namespace string) *KeyBuilder {
	return NewKeyBuilder(namespace, kb.context)
}
