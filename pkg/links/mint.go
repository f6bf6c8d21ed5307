// Copyright 2024-2026 Aiku AI

package links

import (
	"context"
	"fmt"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"go.mau.fi/util/jsontime"

	"github.com/aiku/roombridge/pkg/records"
	"github.com/aiku/roombridge/pkg/store"
)

// DefaultCodeTTL is how long a minted code stays redeemable.
const DefaultCodeTTL = 5 * time.Minute

const codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Mint writes a new link code for a site account, the way the site does when
// a user asks to link their chat account.
func (s *Store) Mint(ctx context.Context, siteUserID, name, color string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = DefaultCodeTTL
	}
	suffix, err := gonanoid.Generate(codeAlphabet, 4)
	if err != nil {
		return "", fmt.Errorf("failed to generate code: %w", err)
	}
	code := records.CodePrefix + suffix
	lc := &records.LinkCode{
		UserID:    siteUserID,
		Name:      name,
		Color:     color,
		ExpiresAt: jsontime.UM(s.now().Add(ttl)),
	}
	if err := store.PutJSON(ctx, s.st, s.paths.LinkCode(code), lc); err != nil {
		return "", fmt.Errorf("failed to save link code: %w", err)
	}
	s.log.Info().Str("code", code).Str("site_user_id", siteUserID).Msg("Link code minted")
	return code, nil
}
