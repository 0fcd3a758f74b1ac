// Package issuer awards and revokes earned badge credentials, locally and
// through external providers (Credly, Accredible). Which provider handles a
// badge is decided by its template's origin.
package issuer

import (
	"context"

	"insignia/internal/badges/models"
	derrors "insignia/pkg/domain-errors"
)

// Kind identifies an issuing backend. Kinds mirror template origins.
type Kind string

const (
	KindInternal   Kind = models.OriginInternal
	KindCredly     Kind = models.OriginCredly
	KindAccredible Kind = models.OriginAccredible
)

// Request carries everything a backend needs to act on one credential.
type Request struct {
	Badge    *models.UserBadge
	Template *models.BadgeTemplate
	User     *models.User
}

// Issuance is the provider-side result of an award. A zero ExternalID means
// the credential exists locally only.
type Issuance struct {
	ExternalID string
	State      string
}

// Issuer is one issuing backend.
type Issuer interface {
	Award(ctx context.Context, req Request) (Issuance, error)
	Revoke(ctx context.Context, req Request) error
}

// Registry resolves template origins to issuing backends. Register during
// startup wiring only; Resolve is read-only afterwards.
type Registry struct {
	issuers map[Kind]Issuer
}

func NewRegistry() *Registry {
	return &Registry{issuers: make(map[Kind]Issuer)}
}

func (r *Registry) Register(kind Kind, issuer Issuer) {
	r.issuers[kind] = issuer
}

func (r *Registry) Resolve(kind Kind) (Issuer, error) {
	issuer, ok := r.issuers[kind]
	if !ok {
		return nil, derrors.Newf(derrors.CodeInvalidState, "no issuer registered for origin %q", kind)
	}
	return issuer, nil
}

// Internal is the backend for locally-defined badges. The credential record
// itself is the award; nothing leaves the service.
type Internal struct{}

func NewInternal() *Internal { return &Internal{} }

func (*Internal) Award(context.Context, Request) (Issuance, error) { return Issuance{}, nil }

func (*Internal) Revoke(context.Context, Request) error { return nil }
