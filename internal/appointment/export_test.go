package appointment

import "io"

// SetCodeGenerator replaces the appointment code source for tests.
func SetCodeGenerator(s *Service, gen func() (string, error)) {
	s.newCode = gen
}

func NewAppointmentCode() (string, error) { return newAppointmentCode() }

func FallbackMeetingURL(base, code string) string { return fallbackMeetingURL(base, code) }

func TokenFrom(src io.Reader, n int) (string, error) { return tokenFrom(src, n) }
