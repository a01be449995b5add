package memory

import (
	"context"
	"encoding/json"
	"os"

	"crowdlabel-service/internal/domain"
)

// StaticProfileSource serves profiles from an in-memory map (useful for
// tests/demos).
type StaticProfileSource struct {
	profiles map[string]domain.Profile
}

func NewStaticProfileSource(profiles map[string]domain.Profile) *StaticProfileSource {
	return &StaticProfileSource{profiles: profiles}
}

func (s *StaticProfileSource) Profile(_ context.Context, userID string) (domain.Profile, error) {
	if profile, ok := s.profiles[userID]; ok {
		return profile, nil
	}
	return domain.Profile{}, domain.ErrProfileNotFound
}

// FileProfileSource reads profiles from a JSON file holding either a single
// profile object or an array of them. The file is re-read on every lookup;
// the profile subsystem owns writes.
type FileProfileSource struct {
	path string
}

func NewFileProfileSource(path string) *FileProfileSource {
	return &FileProfileSource{path: path}
}

func (s *FileProfileSource) Profile(_ context.Context, userID string) (domain.Profile, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return domain.Profile{}, err
	}

	var single domain.Profile
	if err := json.Unmarshal(data, &single); err == nil && single.UserID != "" {
		if single.UserID == userID {
			return single, nil
		}
		return domain.Profile{}, domain.ErrProfileNotFound
	}

	var many []domain.Profile
	if err := json.Unmarshal(data, &many); err != nil {
		return domain.Profile{}, err
	}
	for _, profile := range many {
		if profile.UserID == userID {
			return profile, nil
		}
	}
	return domain.Profile{}, domain.ErrProfileNotFound
}
