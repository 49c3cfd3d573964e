package fetch

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Profile is one named yt-dlp option set. Later profiles in a platform's
// list are more permissive than earlier ones.
type Profile struct {
	Name        string   `yaml:"name"`
	Format      string   `yaml:"format"`
	UserAgent   string   `yaml:"user_agent"`
	MaxFilesize string   `yaml:"max_filesize"`
	ExtraArgs   []string `yaml:"extra_args"`
}

// Args renders the profile as yt-dlp flags.
func (p Profile) Args() []string {
	var args []string
	if p.Format != "" {
		args = append(args, "-f", p.Format)
	}
	if p.UserAgent != "" {
		args = append(args, "--user-agent", p.UserAgent)
	}
	if p.MaxFilesize != "" {
		args = append(args, "--max-filesize", p.MaxFilesize)
	}
	return append(args, p.ExtraArgs...)
}

const (
	desktopUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
	mobileUA  = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_4 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Mobile/15E148 Safari/604.1"
)

// ProfileSet maps platforms to their ordered fallback profiles.
type ProfileSet struct {
	byPlatform map[Platform][]Profile
}

// DefaultProfiles returns the compiled-in fallback ladders.
func DefaultProfiles() *ProfileSet {
	return &ProfileSet{byPlatform: map[Platform][]Profile{
		PlatformTikTok: {
			{Name: "tiktok-h264", Format: "best[ext=mp4][vcodec^=h264]/best[ext=mp4]", MaxFilesize: "300M"},
			{Name: "tiktok-mobile", Format: "best[ext=mp4]/best", UserAgent: mobileUA, MaxFilesize: "300M"},
			{Name: "tiktok-any", Format: "best", UserAgent: desktopUA, ExtraArgs: []string{"--no-check-certificates"}},
			{Name: "tiktok-merge", Format: "bv*+ba/b", UserAgent: mobileUA, ExtraArgs: []string{"--no-check-certificates", "--force-ipv4", "--merge-output-format", "mp4"}},
		},
		PlatformInstagram: {
			{Name: "instagram-mp4", Format: "best[ext=mp4]/best", MaxFilesize: "300M"},
			{Name: "instagram-mobile", Format: "best[ext=mp4]/best", UserAgent: mobileUA},
			{Name: "instagram-merge", Format: "bv*+ba/b", UserAgent: desktopUA, ExtraArgs: []string{"--merge-output-format", "mp4"}},
			{Name: "instagram-relaxed", Format: "b", UserAgent: mobileUA, ExtraArgs: []string{"--no-check-certificates", "--force-ipv4"}},
		},
		PlatformYouTube: {
			{Name: "youtube-720p", Format: "best[ext=mp4][height<=720]/best[ext=mp4]", MaxFilesize: "300M"},
			{Name: "youtube-merge-720p", Format: "bv*[height<=720]+ba/b[height<=720]", ExtraArgs: []string{"--merge-output-format", "mp4"}},
			{Name: "youtube-android", Format: "bv*+ba/b", ExtraArgs: []string{"--extractor-args", "youtube:player_client=android", "--merge-output-format", "mp4"}},
			{Name: "youtube-any", Format: "b", UserAgent: desktopUA, ExtraArgs: []string{"--force-ipv4"}},
		},
		PlatformGeneric: {
			{Name: "generic-mp4", Format: "best[ext=mp4]/best", MaxFilesize: "300M"},
			{Name: "generic-merge", Format: "bv*+ba/b", UserAgent: desktopUA, ExtraArgs: []string{"--merge-output-format", "mp4"}},
			{Name: "generic-any", Format: "b", UserAgent: mobileUA, ExtraArgs: []string{"--no-check-certificates"}},
		},
	}}
}

// ForAttempt selects the profile for a 1-based attempt number. Attempts past
// the end of the ladder reuse its last, most permissive entry. Platforms
// without their own ladder use the generic one.
func (s *ProfileSet) ForAttempt(platform Platform, attempt int) Profile {
	ladder := s.Ladder(platform)
	if len(ladder) == 0 {
		return Profile{Name: "default", Format: "best"}
	}
	idx := attempt - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(ladder) {
		idx = len(ladder) - 1
	}
	return ladder[idx]
}

// Ladder returns the ordered profiles for platform.
func (s *ProfileSet) Ladder(platform Platform) []Profile {
	if s == nil {
		return nil
	}
	if ladder, ok := s.byPlatform[platform]; ok && len(ladder) > 0 {
		return ladder
	}
	return s.byPlatform[PlatformGeneric]
}

// LoadProfiles reads a YAML file of per-platform ladders. A platform listed in
// the file replaces its default ladder entirely; others keep the defaults.
func LoadProfiles(path string) (*ProfileSet, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("load download profiles: %w", err)
	}
	var payload struct {
		Platforms map[string][]Profile `yaml:"platforms"`
	}
	if err := yaml.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("parse download profiles: %w", err)
	}
	set := DefaultProfiles()
	for name, ladder := range payload.Platforms {
		for i, p := range ladder {
			if p.Name == "" {
				return nil, fmt.Errorf("platform %s: profile %d has no name", name, i+1)
			}
		}
		set.byPlatform[Platform(name)] = ladder
	}
	return set, nil
}
