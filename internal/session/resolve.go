package session

import "github.com/matheus3301/chatsync/internal/config"

const DefaultSessionName = "main"

// Resolve determines the active session name using precedence:
// 1. flagOverride (--session flag)
// 2. CHATSYNC_DEFAULT_SESSION or config.toml default_session
// 3. "main"
//
// The result is validated; an unreadable config file is an error only when
// no flag was given.
func Resolve(flagOverride string) (string, error) {
	name := flagOverride
	if name == "" {
		cfg, err := config.LoadOrDefault(ConfigPath())
		if err != nil {
			return "", err
		}
		name = cfg.DefaultSession
	}
	if name == "" {
		name = DefaultSessionName
	}
	if err := ValidateName(name); err != nil {
		return "", err
	}
	return name, nil
}
