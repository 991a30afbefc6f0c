package profile

import "github.com/famguard/chatsync/internal/config"

// DefaultName is used when neither flag nor config names a profile.
const DefaultName = "default"

// Resolve picks the active profile name: flag override wins, then the
// config default, then DefaultName.
func Resolve(flagOverride string) string {
	if flagOverride != "" {
		return flagOverride
	}
	cfg, err := config.Load(ConfigPath())
	if err == nil && cfg.DefaultProfile != "" {
		return cfg.DefaultProfile
	}
	return DefaultName
}
