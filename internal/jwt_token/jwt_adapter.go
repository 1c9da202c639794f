package jwttoken

import (
	authmw "intake/pkg/platform/middleware/auth"
)

// JWTServiceAdapter exposes JWTService through the middleware validator interface.
type JWTServiceAdapter struct {
	service *JWTService
}

func NewJWTServiceAdapter(service *JWTService) *JWTServiceAdapter {
	return &JWTServiceAdapter{service: service}
}

func (a *JWTServiceAdapter) ValidateToken(tokenString string) (*authmw.JWTClaims, error) {
	claims, err := a.service.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	return &authmw.JWTClaims{
		Username: claims.Username,
		Role:     claims.Role,
		JTI:      claims.ID,
	}, nil
}
