package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/flowlab/oauth-playground/internal/flows"
	log "github.com/sirupsen/logrus"
)

const (
	credentialsPrefix = "credentials:"
	flowPrefix        = "flow:"
)

// CredentialsKey is the persistent key of a flow's credentials.
func CredentialsKey(kind flows.Kind) string {
	return credentialsPrefix + string(kind)
}

// FlowKey is the session key of a flow's state.
func FlowKey(session string, kind flows.Kind) string {
	return flowPrefix + session + ":" + string(kind)
}

// Vault stores credentials in a persistent store and flow state in a
// session store.
type Vault struct {
	persistent Store
	session    Store
	now        func() time.Time
}

// NewVault returns a vault. session may equal persistent.
func NewVault(persistent, session Store) *Vault {
	if session == nil {
		session = persistent
	}
	return &Vault{persistent: persistent, session: session, now: time.Now}
}

// SaveCredentials overwrites the credentials of kind.
func (v *Vault) SaveCredentials(ctx context.Context, kind flows.Kind, creds *Credentials) error {
	if creds == nil {
		return fmt.Errorf("store: nil credentials")
	}
	saved := *creds
	saved.UpdatedAt = v.now().UTC()
	return putJSON(ctx, v.persistent, CredentialsKey(kind), &saved)
}

// LoadCredentials returns the credentials of kind or ErrNotFound.
func (v *Vault) LoadCredentials(ctx context.Context, kind flows.Kind) (*Credentials, error) {
	var creds Credentials
	if err := getJSON(ctx, v.persistent, CredentialsKey(kind), &creds); err != nil {
		return nil, err
	}
	return &creds, nil
}

// DeleteCredentials forgets the credentials of kind.
func (v *Vault) DeleteCredentials(ctx context.Context, kind flows.Kind) error {
	return v.persistent.Delete(ctx, CredentialsKey(kind))
}

// ListCredentials returns the saved credentials keyed by flow.
func (v *Vault) ListCredentials(ctx context.Context) (map[flows.Kind]*Credentials, error) {
	records, err := v.persistent.List(ctx, credentialsPrefix)
	if err != nil {
		return nil, err
	}
	out := make(map[flows.Kind]*Credentials, len(records))
	for _, rec := range records {
		var creds Credentials
		if err = json.Unmarshal(rec.Value, &creds); err != nil {
			log.Warnf("store: skipping unreadable %s: %v", rec.Key, err)
			continue
		}
		out[flows.Kind(strings.TrimPrefix(rec.Key, credentialsPrefix))] = &creds
	}
	return out, nil
}

// SaveFlowState overwrites the state of st.FlowKey in st.Session.
func (v *Vault) SaveFlowState(ctx context.Context, st *FlowState) error {
	if st == nil || st.FlowKey == "" || st.Session == "" {
		return fmt.Errorf("store: flow state needs a flow and a session")
	}
	now := v.now().UTC()
	if st.CreatedAt.IsZero() {
		st.CreatedAt = now
	}
	st.UpdatedAt = now
	return putJSON(ctx, v.session, FlowKey(st.Session, st.FlowKey), st)
}

// LoadFlowState returns the state of kind in session or ErrNotFound.
func (v *Vault) LoadFlowState(ctx context.Context, session string, kind flows.Kind) (*FlowState, error) {
	var st FlowState
	if err := getJSON(ctx, v.session, FlowKey(session, kind), &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// LoadOrNewFlowState returns the stored state or a fresh one.
func (v *Vault) LoadOrNewFlowState(ctx context.Context, session string, kind flows.Kind) (*FlowState, error) {
	st, err := v.LoadFlowState(ctx, session, kind)
	if errors.Is(err, ErrNotFound) {
		return &FlowState{FlowKey: kind, Session: session}, nil
	}
	return st, err
}

// ResetFlow deletes the state of kind in session. Credentials are kept.
func (v *Vault) ResetFlow(ctx context.Context, session string, kind flows.Kind) error {
	return v.session.Delete(ctx, FlowKey(session, kind))
}

// ResetSession deletes every flow state of session.
func (v *Vault) ResetSession(ctx context.Context, session string) error {
	records, err := v.session.List(ctx, flowPrefix+session+":")
	if err != nil {
		return err
	}
	for _, rec := range records {
		if err = v.session.Delete(ctx, rec.Key); err != nil {
			return err
		}
	}
	return nil
}

// ListFlows returns the flow states of session ordered by flow key.
func (v *Vault) ListFlows(ctx context.Context, session string) ([]*FlowState, error) {
	records, err := v.session.List(ctx, flowPrefix+session+":")
	if err != nil {
		return nil, err
	}
	out := make([]*FlowState, 0, len(records))
	for _, rec := range records {
		var st FlowState
		if err = json.Unmarshal(rec.Value, &st); err != nil {
			log.Warnf("store: skipping unreadable %s: %v", rec.Key, err)
			continue
		}
		out = append(out, &st)
	}
	return out, nil
}

// Close closes both stores.
func (v *Vault) Close() error {
	errPersistent := v.persistent.Close()
	if v.session != v.persistent {
		if err := v.session.Close(); err != nil && errPersistent == nil {
			return err
		}
	}
	return errPersistent
}

func putJSON(ctx context.Context, s Store, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("store: failed to encode %s: %w", key, err)
	}
	return s.Put(ctx, key, data)
}

func getJSON(ctx context.Context, s Store, key string, v interface{}) error {
	rec, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	if err = json.Unmarshal(rec.Value, v); err != nil {
		return fmt.Errorf("store: failed to decode %s: %w", key, err)
	}
	return nil
}
