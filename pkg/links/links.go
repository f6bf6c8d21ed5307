// Copyright 2024-2026 Aiku AI

// Package links manages the correspondence between site accounts and chat
// accounts, and the single-use codes the site mints to create one.
//
// The store keys link records by site user ID only, so lookups by chat user
// ID are a scan over all records. Uniqueness of the chat user ID is enforced
// here, before a link is created.
package links

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.mau.fi/util/jsontime"

	"github.com/aiku/roombridge/pkg/records"
	"github.com/aiku/roombridge/pkg/store"
)

// Errors reported back to the chat user.
var (
	ErrAlreadyLinked   = errors.New("chat account is already linked")
	ErrInvalidCode     = errors.New("invalid link code")
	ErrCodeExpired     = errors.New("link code expired")
	ErrCodeAlreadyUsed = errors.New("link code already used")
	ErrNotLinked       = errors.New("chat account is not linked")
)

// AlreadyLinkedError carries the link that blocked a redemption.
type AlreadyLinkedError struct {
	Link *records.Link
}

func (e *AlreadyLinkedError) Error() string {
	return fmt.Sprintf("%s to %s", ErrAlreadyLinked, e.Link.SiteName)
}

func (e *AlreadyLinkedError) Unwrap() error { return ErrAlreadyLinked }

// IsUserError reports whether err is a link outcome meant for the user rather
// than a fault.
func IsUserError(err error) bool {
	return errors.Is(err, ErrAlreadyLinked) ||
		errors.Is(err, ErrInvalidCode) ||
		errors.Is(err, ErrCodeExpired) ||
		errors.Is(err, ErrCodeAlreadyUsed) ||
		errors.Is(err, ErrNotLinked)
}

// ChatIdentity describes the chat account asking to be linked.
type ChatIdentity struct {
	UserID      string
	Username    string
	DisplayName string
}

// Resolver looks up links. Both methods return (nil, nil) when there is no
// link.
type Resolver interface {
	ResolveBySiteID(ctx context.Context, siteUserID string) (*records.Link, error)
	ResolveByChatID(ctx context.Context, chatUserID string) (*records.Link, error)
}

// Service is the full link store used by the bridge.
type Service interface {
	Resolver
	Redeem(ctx context.Context, code string, who ChatIdentity) (*records.Link, error)
	Unlink(ctx context.Context, chatUserID string) (*records.Link, error)
}

// Store is the scan-based link store.
type Store struct {
	st    store.Store
	paths store.Paths
	log   zerolog.Logger
	now   func() time.Time

	// mu serializes redeem and unlink so the uniqueness checks and the
	// writes that follow them are not interleaved.
	mu sync.Mutex
}

var _ Service = (*Store)(nil)

// NewStore creates a link store over st.
func NewStore(st store.Store, paths store.Paths, log zerolog.Logger) *Store {
	return &Store{
		st:    st,
		paths: paths,
		log:   log.With().Str("component", "links").Logger(),
		now:   time.Now,
	}
}

// All returns every well-formed link record. Malformed records are logged and
// skipped.
func (s *Store) All(ctx context.Context) ([]*records.Link, error) {
	recs, err := s.st.List(ctx, s.paths.Links())
	if err != nil {
		return nil, fmt.Errorf("failed to list links: %w", err)
	}
	out := make([]*records.Link, 0, len(recs))
	for _, rec := range recs {
		link, err := records.DecodeLink(rec.Value)
		if err != nil {
			s.log.Warn().Err(err).Str("key", rec.Key).Msg("Skipping malformed link record")
			continue
		}
		out = append(out, link)
	}
	return out, nil
}

// ResolveBySiteID scans all links for siteUserID.
func (s *Store) ResolveBySiteID(ctx context.Context, siteUserID string) (*records.Link, error) {
	if siteUserID == "" {
		return nil, nil
	}
	all, err := s.All(ctx)
	if err != nil {
		return nil, err
	}
	for _, link := range all {
		if link.SiteUserID == siteUserID {
			return link, nil
		}
	}
	return nil, nil
}

// ResolveByChatID scans all links for chatUserID.
func (s *Store) ResolveByChatID(ctx context.Context, chatUserID string) (*records.Link, error) {
	if chatUserID == "" {
		return nil, nil
	}
	all, err := s.All(ctx)
	if err != nil {
		return nil, err
	}
	for _, link := range all {
		if link.ChatUserID == chatUserID {
			return link, nil
		}
	}
	return nil, nil
}

// Redeem exchanges a link code for a link between the code's site account and
// who. The link is written before the code is marked used, so a failure in
// between leaves the account linked and the code reusable.
func (s *Store) Redeem(ctx context.Context, code string, who ChatIdentity) (*records.Link, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.ResolveByChatID(ctx, who.UserID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, &AlreadyLinkedError{Link: existing}
	}

	code = records.NormalizeCode(code)
	if !records.IsValidCode(code) {
		return nil, ErrInvalidCode
	}
	codeKey := s.paths.LinkCode(code)
	raw, err := s.st.Get(ctx, codeKey)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrInvalidCode
	} else if err != nil {
		return nil, fmt.Errorf("failed to read link code: %w", err)
	}
	lc, err := records.DecodeLinkCode(raw)
	if err != nil {
		s.log.Warn().Err(err).Str("code", code).Msg("Malformed link code record")
		return nil, ErrInvalidCode
	}

	now := s.now()
	if lc.Expired(now) {
		if err := s.st.Delete(ctx, codeKey); err != nil {
			s.log.Warn().Err(err).Str("code", code).Msg("Failed to delete expired link code")
		}
		return nil, ErrCodeExpired
	}
	if lc.Used {
		return nil, ErrCodeAlreadyUsed
	}

	link := &records.Link{
		SiteUserID:    lc.UserID,
		SiteName:      lc.Name,
		SiteColor:     lc.Color,
		ChatUserID:    who.UserID,
		ChatUsername:  who.Username,
		ChatFirstName: who.DisplayName,
		LinkedAt:      jsontime.UM(now),
		LinkCode:      code,
	}
	if err := store.PutJSON(ctx, s.st, s.paths.Link(lc.UserID), link); err != nil {
		return nil, fmt.Errorf("failed to save link: %w", err)
	}

	if err := s.markUsed(ctx, codeKey, raw); err != nil {
		s.log.Error().Err(err).
			Str("code", code).
			Str("site_user_id", lc.UserID).
			Msg("Linked but failed to mark code used")
	}

	s.log.Info().
		Str("site_user_id", link.SiteUserID).
		Str("site_name", link.SiteName).
		Str("chat_user_id", link.ChatUserID).
		Msg("Link created")
	return link, nil
}

// markUsed sets used=true on the raw code record, keeping any fields the site
// wrote that this package does not know about.
func (s *Store) markUsed(ctx context.Context, key string, raw []byte) error {
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return fmt.Errorf("failed to decode link code: %w", err)
	}
	fields["used"] = true
	return store.PutJSON(ctx, s.st, key, fields)
}

// Unlink deletes the link of chatUserID and returns it.
func (s *Store) Unlink(ctx context.Context, chatUserID string) (*records.Link, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	link, err := s.ResolveByChatID(ctx, chatUserID)
	if err != nil {
		return nil, err
	}
	if link == nil {
		return nil, ErrNotLinked
	}
	if err := s.st.Delete(ctx, s.paths.Link(link.SiteUserID)); err != nil {
		return nil, fmt.Errorf("failed to delete link: %w", err)
	}
	s.log.Info().
		Str("site_user_id", link.SiteUserID).
		Str("chat_user_id", chatUserID).
		Msg("Link removed")
	return link, nil
}
