// Package settings stores the JSON configuration documents owned by the
// ingestion pipeline.
package settings

import "context"

const (
	KeyTargets       = "targets_config"
	KeySchedule      = "schedule_config"
	KeyScheduleState = "schedule_state"
	KeyAutoIngest    = "auto_ingest_config"
	KeyControl       = "ingest_control"
	KeyRollout       = "rollout_flags"
	KeyProviderToken = "provider_token"
)

// Store reads and writes opaque JSON documents by key.
type Store interface {
	// Get decodes the document at key into v. It reports false when the key
	// has never been written.
	Get(ctx context.Context, key string, v any) (bool, error)
	Put(ctx context.Context, key string, v any) error
}

type RolloutFlags struct {
	P0Enabled bool `json:"p0Enabled"`
}

// Rollout returns the stored flags. Absent flags mean enabled.
func Rollout(ctx context.Context, s Store) (RolloutFlags, error) {
	flags := RolloutFlags{P0Enabled: true}
	if _, err := s.Get(ctx, KeyRollout, &flags); err != nil {
		return RolloutFlags{}, err
	}
	return flags, nil
}

// ControlState is the persisted part of the orchestrator state.
type ControlState struct {
	Paused bool `json:"paused"`
}

type providerToken struct {
	Token string `json:"token"`
}

// TokenSource resolves the provider token: a stored override wins over the
// configured fallback.
type TokenSource struct {
	Store    Store
	Fallback string
}

func (t TokenSource) Token(ctx context.Context) (string, error) {
	if t.Store != nil {
		var pt providerToken
		ok, err := t.Store.Get(ctx, KeyProviderToken, &pt)
		if err != nil {
			return "", err
		}
		if ok && pt.Token != "" {
			return pt.Token, nil
		}
	}
	return t.Fallback, nil
}

// SetToken stores a token override. An empty token clears it.
func SetToken(ctx context.Context, s Store, token string) error {
	return s.Put(ctx, KeyProviderToken, providerToken{Token: token})
}
