// Copyright 2024-2026 Aiku AI

package records

import (
	"errors"
	"testing"
	"time"

	"go.mau.fi/util/jsontime"
)

func TestDecodeMessage(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		raw     string
		wantErr bool
		want    Message
	}{
		{
			name: "site message",
			raw:  `{"uid":"site_42","name":"Alice","color":"#f00","text":"hi","t":1000}`,
			want: Message{UID: "site_42", Name: "Alice", Color: "#f00", Text: "hi", T: 1000},
		},
		{
			name: "bridge message",
			raw:  `{"uid":"chat_7","name":"[MM] Bob","text":"yo","t":5,"fromExternalChat":true}`,
			want: Message{UID: "chat_7", Name: "[MM] Bob", Text: "yo", T: 5, FromExternalChat: true},
		},
		{name: "missing timestamp", raw: `{"uid":"a","text":"hi"}`, wantErr: true},
		{name: "missing text", raw: `{"uid":"a","t":1}`, wantErr: true},
		{name: "string timestamp", raw: `{"text":"hi","t":"1000"}`, wantErr: true},
		{name: "not json", raw: `hello`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := DecodeMessage([]byte(tt.raw))
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidRecord) {
					t.Fatalf("got err %v, want ErrInvalidRecord", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeMessage: %v", err)
			}
			if *got != tt.want {
				t.Errorf("got %+v, want %+v", *got, tt.want)
			}
		})
	}
}

func TestDecodeLink(t *testing.T) {
	t.Parallel()
	link, err := DecodeLink([]byte(`{"siteUserId":"site_1","siteName":"A","chatUserId":"9","linkedAt":1700000000000}`))
	if err != nil {
		t.Fatalf("DecodeLink: %v", err)
	}
	if link.LinkedAt.UnixMilli() != 1700000000000 {
		t.Errorf("LinkedAt: got %d", link.LinkedAt.UnixMilli())
	}
	if _, err := DecodeLink([]byte(`{"siteUserId":"site_1"}`)); !errors.Is(err, ErrInvalidRecord) {
		t.Errorf("missing chat id: got %v", err)
	}
	if _, err := DecodeLinkCode([]byte(`{"name":"x"}`)); !errors.Is(err, ErrInvalidRecord) {
		t.Errorf("code without user: got %v", err)
	}
}

func TestLinkCodeExpired(t *testing.T) {
	t.Parallel()
	base := time.UnixMilli(1_000_000)
	tests := []struct {
		name string
		code LinkCode
		now  time.Time
		want bool
	}{
		{"before expiry", LinkCode{ExpiresAt: jsontime.UM(base)}, base.Add(-time.Second), false},
		{"at expiry", LinkCode{ExpiresAt: jsontime.UM(base)}, base, false},
		{"after expiry", LinkCode{ExpiresAt: jsontime.UM(base)}, base.Add(time.Millisecond), true},
		{"no expiry", LinkCode{}, base, true},
	}
	for _, tt := range tests {
		if got := tt.code.Expired(tt.now); got != tt.want {
			t.Errorf("%s: Expired = %v, want %v", tt.name, got, tt.want)
		}
	}
}
