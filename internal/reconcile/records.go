package reconcile

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/nulzo/gptload-sync/internal/gptload"
	"github.com/nulzo/gptload-sync/internal/planner"
	"github.com/nulzo/gptload-sync/internal/store/model"
)

// Records converts a remote snapshot into tracked group records. Provider and model
// attribution come from the desired state of the same run.
func Records(snap *gptload.Snapshot, desired *planner.DesiredState, now time.Time) []model.GroupRecord {
	if desired == nil {
		desired = &planner.DesiredState{}
	}
	std := desired.StandardByName()
	agg := desired.AggregateByName()
	parents := desired.ParentAggregates()

	records := make([]model.GroupRecord, 0, len(snap.Groups))
	for _, g := range snap.Groups {
		rec := model.GroupRecord{
			RemoteID:    g.ID,
			Name:        g.Name,
			GroupType:   g.GroupType,
			ChannelType: g.ChannelType,
			LastSyncAt:  now,
			ConfigHash:  ConfigHash(g),
		}
		if g.IsAggregate() {
			if a, ok := agg[g.Name]; ok {
				rec.NormalizedModel = sql.NullString{String: a.Model, Valid: true}
			}
		} else if s, ok := std[g.Name]; ok {
			rec.ProviderName = sql.NullString{String: s.Provider, Valid: true}
			rec.CredentialHash = CredentialHash(s.Credential)
			// single-model groups split out for an aggregate carry that model
			if parents := parents[g.Name]; len(parents) > 0 {
				rec.NormalizedModel = sql.NullString{String: agg[parents[0]].Model, Valid: true}
			}
		}
		records = append(records, rec)
	}
	return records
}

// Tracked is what the previous run recorded about the groups it left behind.
type Tracked struct {
	// Credentials maps a standard group to the fingerprint of its last pushed key.
	Credentials map[string]string
	// Models maps an aggregate group to the normalized model it balances.
	Models map[string]string
}

// TrackedFrom indexes tracked group records for diffing.
func TrackedFrom(records []model.GroupRecord) *Tracked {
	t := &Tracked{Credentials: make(map[string]string), Models: make(map[string]string)}
	for _, rec := range records {
		if rec.GroupType == model.GroupTypeAggregate {
			if rec.NormalizedModel.Valid {
				t.Models[rec.Name] = rec.NormalizedModel.String
			}
			continue
		}
		t.Credentials[rec.Name] = rec.CredentialHash
	}
	return t
}

// CredentialHash fingerprints a provider key; the key itself is never tracked.
func CredentialHash(key string) string {
	if key == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// ConfigHash fingerprints the applied configuration of a group.
func ConfigHash(g gptload.Group) string {
	payload, _ := json.Marshal(struct {
		Type        string             `json:"type"`
		ChannelType string             `json:"channel_type"`
		Redirects   map[string]string  `json:"redirects,omitempty"`
		Upstreams   []gptload.Upstream `json:"upstreams,omitempty"`
		Members     []string           `json:"members,omitempty"`
	}{
		Type:        g.GroupType,
		ChannelType: g.ChannelType,
		Redirects:   g.Redirects,
		Upstreams:   normalizeUpstreams(g.Upstreams),
		Members:     g.MemberNames(),
	})
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
