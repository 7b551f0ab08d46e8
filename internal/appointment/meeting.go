package appointment

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"strings"
	"time"
)

const (
	MeetingSourceCalendar = "calendar"
	MeetingSourceFallback = "fallback"
)

// MeetingRequest carries what a calendar collaborator needs to schedule a video visit.
type MeetingRequest struct {
	ProviderName    string
	RequesterName   string
	Service         string
	Date            time.Time
	SlotLabel       string
	ProviderEmail   string
	RequesterEmail  string
	DurationMinutes int
}

type Meeting struct {
	URL             string
	ExternalEventID string
}

// MeetingProvider issues and revokes meeting links for video bookings.
type MeetingProvider interface {
	CreateMeeting(ctx context.Context, req MeetingRequest) (*Meeting, error)
	DeleteMeeting(ctx context.Context, externalEventID string) error
}

const codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// bytes at or above this are redrawn so every alphabet symbol is equally likely
const unbiasedByteLimit = 256 - 256%len(codeAlphabet)

func randomToken(n int) (string, error) {
	return tokenFrom(rand.Reader, n)
}

func tokenFrom(src io.Reader, n int) (string, error) {
	out := make([]byte, 0, n)
	buf := make([]byte, n)
	for len(out) < n {
		if _, err := io.ReadFull(src, buf); err != nil {
			return "", err
		}
		for _, b := range buf {
			if int(b) >= unbiasedByteLimit {
				continue
			}
			out = append(out, codeAlphabet[int(b)%len(codeAlphabet)])
			if len(out) == n {
				break
			}
		}
	}
	return string(out), nil
}

// newAppointmentCode returns "APT" followed by six base36 characters.
func newAppointmentCode() (string, error) {
	tok, err := randomToken(6)
	if err != nil {
		return "", fmt.Errorf("generate appointment code: %w", err)
	}
	return "APT" + tok, nil
}

// fallbackMeetingURL builds a locally generated room link. It never fails.
func fallbackMeetingURL(baseURL, code string) string {
	base := strings.TrimRight(baseURL, "/")
	if base == "" {
		base = "https://meet.jit.si"
	}
	suffix, err := randomToken(8)
	if err != nil {
		suffix = fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return fmt.Sprintf("%s/%s-%s", base, strings.ToLower(code), strings.ToLower(suffix))
}
