package models

import (
	"strconv"

	"insignia/pkg/keypath"
)

// UserIdentity is the user sub-record events must carry somewhere in their
// payload tree so the engine can resolve whose action it is observing.
type UserIdentity struct {
	Username   string
	Email      string
	FullName   string
	ExternalID int64
	IsActive   bool
}

// ExtractIdentity scans the payload tree for an embedded user identity.
// It prefers the canonical shape (a mapping with a "pii" sub-mapping carrying
// "username") and falls back to any mapping with a scalar "username" key.
// Returns false when no identity is present anywhere in the tree.
func ExtractIdentity(payload keypath.Value) (UserIdentity, bool) {
	if identity, ok := scanIdentity(payload, true); ok {
		return identity, true
	}
	return scanIdentity(payload, false)
}

func scanIdentity(node keypath.Value, requirePII bool) (UserIdentity, bool) {
	if node.Kind() == keypath.KindMapping {
		if identity, ok := identityFromMapping(node, requirePII); ok {
			return identity, true
		}
		for _, key := range node.Keys() {
			if identity, ok := scanIdentity(node.Get(key), requirePII); ok {
				return identity, true
			}
		}
	}
	if node.Kind() == keypath.KindSequence {
		for _, item := range node.Items() {
			if identity, ok := scanIdentity(item, requirePII); ok {
				return identity, true
			}
		}
	}
	return UserIdentity{}, false
}

func identityFromMapping(node keypath.Value, requirePII bool) (UserIdentity, bool) {
	pii := node.Get("pii")
	if requirePII && pii.Kind() != keypath.KindMapping {
		return UserIdentity{}, false
	}

	carrier := node
	if pii.Kind() == keypath.KindMapping {
		carrier = pii
	}

	username := carrier.Get("username")
	if username.Kind() != keypath.KindScalar || username.Text() == "" {
		return UserIdentity{}, false
	}

	identity := UserIdentity{
		Username: username.Text(),
		Email:    carrier.Get("email").Text(),
		FullName: carrier.Get("name").Text(),
		IsActive: true,
	}
	if id, err := strconv.ParseInt(node.Get("id").Text(), 10, 64); err == nil {
		identity.ExternalID = id
	}
	if active := node.Get("is_active"); active.Kind() == keypath.KindScalar {
		identity.IsActive = active.Text() == "True"
	}
	return identity, true
}
