package auth

import (
	"context"
	"fmt"

	"github.com/supabase-community/supabase-go"
)

// SupabaseLookup resolves tokens with the Supabase auth API.
type SupabaseLookup struct {
	client *supabase.Client
}

// NewSupabaseLookup creates a lookup against the project at url.
func NewSupabaseLookup(url, key string) (*SupabaseLookup, error) {
	client, err := supabase.NewClient(url, key, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create supabase client: %w", err)
	}
	return &SupabaseLookup{client: client}, nil
}

// NewSupabaseLookupWithClient reuses an existing client.
func NewSupabaseLookupWithClient(client *supabase.Client) *SupabaseLookup {
	return &SupabaseLookup{client: client}
}

// LookupUser implements UserLookup. The auth client takes no context, so
// cancellation is only observed before the call.
func (s *SupabaseLookup) LookupUser(ctx context.Context, token string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	resp, err := s.client.Auth.WithToken(token).GetUser()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return resp.ID.String(), nil
}
