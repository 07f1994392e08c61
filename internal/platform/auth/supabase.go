package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/supabase-community/gotrue-go/types"
	supa "github.com/supabase-community/supabase-go"
)

// SupabaseExchanger exchanges PKCE codes with the hosted auth service.
type SupabaseExchanger struct {
	client *supa.Client
}

func NewSupabaseExchanger(projectURL, anonKey string) (*SupabaseExchanger, error) {
	if projectURL == "" || anonKey == "" {
		return nil, errors.New("auth url and anon key are required")
	}
	client, err := supa.NewClient(projectURL, anonKey, nil)
	if err != nil {
		return nil, fmt.Errorf("create supabase client: %w", err)
	}
	return &SupabaseExchanger{client: client}, nil
}

// ExchangeCode checks ctx only before the call; the client has no context
// support.
func (s *SupabaseExchanger) ExchangeCode(ctx context.Context, code, codeVerifier string) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	resp, err := s.client.Auth.Token(types.TokenRequest{
		GrantType:    "pkce",
		Code:         code,
		CodeVerifier: codeVerifier,
	})
	if err != nil {
		return nil, fmt.Errorf("exchange code: %w", err)
	}
	return &Session{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		ExpiresIn:    resp.ExpiresIn,
	}, nil
}
