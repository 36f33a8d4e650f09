package jwttoken

import "context"

// AdminValidator adapts JWTService to the admin middleware.
type AdminValidator struct {
	service *JWTService
}

func NewAdminValidator(service *JWTService) *AdminValidator {
	return &AdminValidator{service: service}
}

func (a *AdminValidator) Validate(_ context.Context, raw string) (string, error) {
	claims, err := a.service.ValidateToken(raw)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}
