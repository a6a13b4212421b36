package validation

import (
	"fmt"
	"regexp"
)

var idPattern = regexp.MustCompile(`^[A-Za-z0-9_.:-]+$`)

// SessionID checks the caller-supplied session identifier format.
func SessionID(id string) error {
	return checkID("session_id", id, 128)
}

// ParticipantID checks a participant identifier format.
func ParticipantID(id string) error {
	return checkID("participant_id", id, 128)
}

// DisplayName bounds the participant display name.
func DisplayName(name string) error {
	if name == "" {
		return fmt.Errorf("display_name must not be empty")
	}
	if len(name) > 256 {
		return fmt.Errorf("display_name must be at most 256 characters")
	}
	return nil
}

func checkID(field, id string, maxLen int) error {
	if id == "" {
		return fmt.Errorf("%s must not be empty", field)
	}
	if len(id) > maxLen {
		return fmt.Errorf("%s must be at most %d characters", field, maxLen)
	}
	if !idPattern.MatchString(id) {
		return fmt.Errorf("%s contains invalid characters", field)
	}
	return nil
}
