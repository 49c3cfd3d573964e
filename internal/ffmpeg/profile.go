package ffmpeg

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// Built-in compression profile names.
const (
	ProfileStandard   = "standard"
	ProfileAggressive = "aggressive"
)

// Profile describes one compression pass.
type Profile struct {
	Name          string
	VideoCodec    string
	AudioCodec    string
	AudioBitrate  string
	EncoderPreset string
	PixelFormat   string
	// MaxLongEdge and MaxShortEdge bound the output frame; sources already
	// inside the box are never scaled.
	MaxLongEdge  int
	MaxShortEdge int
	MinVideoKbps int
	SafetyFactor float64
	ExtraArgs    []string
}

// DefaultProfiles returns the standard and aggressive passes.
func DefaultProfiles() map[string]Profile {
	return map[string]Profile{
		ProfileStandard: {
			Name:          ProfileStandard,
			VideoCodec:    "libx264",
			AudioCodec:    "aac",
			AudioBitrate:  "128k",
			EncoderPreset: "fast",
			PixelFormat:   "yuv420p",
			MaxLongEdge:   1280,
			MaxShortEdge:  720,
			MinVideoKbps:  500,
			SafetyFactor:  0.9,
			ExtraArgs:     []string{"-movflags", "+faststart"},
		},
		ProfileAggressive: {
			Name:          ProfileAggressive,
			VideoCodec:    "libx264",
			AudioCodec:    "aac",
			AudioBitrate:  "64k",
			EncoderPreset: "slow",
			PixelFormat:   "yuv420p",
			MaxLongEdge:   640,
			MaxShortEdge:  360,
			MinVideoKbps:  250,
			SafetyFactor:  0.8,
			ExtraArgs:     []string{"-movflags", "+faststart"},
		},
	}
}

// ProfileLibrary stores named compression profiles.
type ProfileLibrary struct {
	profiles map[string]Profile
}

// NewProfileLibrary constructs a library from a map of profiles.
func NewProfileLibrary(m map[string]Profile) *ProfileLibrary {
	cp := make(map[string]Profile, len(m))
	for k, v := range m {
		v.Name = k
		v.ExtraArgs = append([]string(nil), v.ExtraArgs...)
		cp[k] = v
	}
	return &ProfileLibrary{profiles: cp}
}

// DefaultProfileLibrary returns a library holding DefaultProfiles.
func DefaultProfileLibrary() *ProfileLibrary {
	return NewProfileLibrary(DefaultProfiles())
}

// Get retrieves a profile by name.
func (l *ProfileLibrary) Get(name string) (Profile, bool) {
	if l == nil {
		return Profile{}, false
	}
	p, ok := l.profiles[name]
	return p, ok
}

// Names lists profile names in sorted order.
func (l *ProfileLibrary) Names() []string {
	names := make([]string, 0, len(l.profiles))
	for name := range l.profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LoadProfileFile reads profiles from YAML and layers them over the defaults,
// so a file may override only the fields it names.
func LoadProfileFile(path string) (*ProfileLibrary, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("load profile file: %w", err)
	}
	type rawProfile struct {
		VideoCodec    *string  `yaml:"video_codec"`
		AudioCodec    *string  `yaml:"audio_codec"`
		AudioBitrate  *string  `yaml:"audio_bitrate"`
		EncoderPreset *string  `yaml:"encoder_preset"`
		PixelFormat   *string  `yaml:"pixel_format"`
		MaxLongEdge   *int     `yaml:"max_long_edge"`
		MaxShortEdge  *int     `yaml:"max_short_edge"`
		MinVideoKbps  *int     `yaml:"min_video_kbps"`
		SafetyFactor  *float64 `yaml:"safety_factor"`
		ExtraArgs     []string `yaml:"extra_args"`
	}
	var payload struct {
		Profiles map[string]rawProfile `yaml:"profiles"`
	}
	if err := yaml.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("parse profile file: %w", err)
	}

	profiles := DefaultProfiles()
	for name, rp := range payload.Profiles {
		p := profiles[name]
		p.Name = name
		setString(&p.VideoCodec, rp.VideoCodec)
		setString(&p.AudioCodec, rp.AudioCodec)
		setString(&p.AudioBitrate, rp.AudioBitrate)
		setString(&p.EncoderPreset, rp.EncoderPreset)
		setString(&p.PixelFormat, rp.PixelFormat)
		setInt(&p.MaxLongEdge, rp.MaxLongEdge)
		setInt(&p.MaxShortEdge, rp.MaxShortEdge)
		setInt(&p.MinVideoKbps, rp.MinVideoKbps)
		if rp.SafetyFactor != nil {
			p.SafetyFactor = *rp.SafetyFactor
		}
		if rp.ExtraArgs != nil {
			p.ExtraArgs = append([]string(nil), rp.ExtraArgs...)
		}
		if p.SafetyFactor <= 0 || p.SafetyFactor > 1 {
			return nil, fmt.Errorf("profile %s: safety_factor must be in (0,1]", name)
		}
		profiles[name] = p
	}
	return NewProfileLibrary(profiles), nil
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}
