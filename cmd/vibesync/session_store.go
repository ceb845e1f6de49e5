package main

import (
	vibesync "github.com/vibestream/vibesync-go"
)

// configSessionStore persists the session in the [auth] section of the
// config file.
type configSessionStore struct{}

var _ vibesync.SessionStore = configSessionStore{}

func sessionFromConfig(cfg *Config) vibesync.Session {
	return vibesync.Session{
		Token:       cfg.Auth.Token,
		UserID:      cfg.Auth.UserID,
		Username:    cfg.Auth.Username,
		DisplayName: cfg.Auth.DisplayName,
	}
}

func (configSessionStore) LoadSession() (vibesync.Session, error) {
	cfg, err := loadConfig()
	if err != nil {
		return vibesync.Session{}, err
	}
	return sessionFromConfig(cfg), nil
}

func (configSessionStore) SaveSession(s vibesync.Session) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cfg.Auth = ConfigAuth{
		Token:       s.Token,
		UserID:      s.UserID,
		Username:    s.Username,
		DisplayName: s.DisplayName,
	}
	return saveConfig(cfg)
}

func (c configSessionStore) ClearSession() error {
	return c.SaveSession(vibesync.Session{})
}
