package gptload

import (
	"bytes"
	"encoding/json"
	"sort"
	"strings"
)

const (
	TypeStandard  = "standard"
	TypeAggregate = "aggregate"
)

// Upstream is one backend endpoint of a standard group.
type Upstream struct {
	URL    string `json:"url"`
	Weight int    `json:"weight"`
}

// NormalizedURL strips the trailing slash so equivalent upstreams compare equal.
func (u Upstream) NormalizedURL() string {
	return strings.TrimRight(u.URL, "/")
}

// SubGroup is a member link of an aggregate group.
type SubGroup struct {
	ID     int    `json:"id"`
	Name   string `json:"name"`
	Weight int    `json:"weight"`
}

// UnmarshalJSON accepts both the flat {id, name, weight} shape and the nested
// {group: {id, name}, weight} shape gpt-load returns from the sub-groups endpoint.
func (s *SubGroup) UnmarshalJSON(b []byte) error {
	var raw struct {
		ID      int    `json:"id"`
		GroupID int    `json:"group_id"`
		Name    string `json:"name"`
		Weight  int    `json:"weight"`
		Group   *struct {
			ID   int    `json:"id"`
			Name string `json:"name"`
		} `json:"group"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}

	*s = SubGroup{ID: raw.ID, Name: raw.Name, Weight: raw.Weight}
	if s.ID == 0 {
		s.ID = raw.GroupID
	}
	if raw.Group != nil {
		if raw.Group.ID != 0 {
			s.ID = raw.Group.ID
		}
		if raw.Group.Name != "" {
			s.Name = raw.Group.Name
		}
	}
	return nil
}

// Group is a remote proxy group as listed by gpt-load.
type Group struct {
	ID          int               `json:"id"`
	Name        string            `json:"name"`
	DisplayName string            `json:"display_name,omitempty"`
	GroupType   string            `json:"group_type"`
	ChannelType string            `json:"channel_type"`
	Upstreams   []Upstream        `json:"-"`
	Redirects   map[string]string `json:"model_redirect_rules,omitempty"`
	TestModel   string            `json:"test_model,omitempty"`

	// SubGroups is filled in by the Reader for aggregate groups.
	SubGroups []SubGroup `json:"sub_groups,omitempty"`
}

// UnmarshalJSON tolerates upstreams delivered either as a JSON array or as a
// JSON-encoded string, and treats a missing group_type as standard.
func (g *Group) UnmarshalJSON(b []byte) error {
	type plain Group
	var raw struct {
		plain
		Upstreams json.RawMessage `json:"upstreams"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*g = Group(raw.plain)
	if g.GroupType == "" {
		g.GroupType = TypeStandard
	}

	ups := bytes.TrimSpace(raw.Upstreams)
	if len(ups) == 0 || bytes.Equal(ups, []byte("null")) {
		return nil
	}
	if ups[0] == '"' {
		var encoded string
		if err := json.Unmarshal(ups, &encoded); err != nil {
			return err
		}
		ups = []byte(encoded)
	}
	return json.Unmarshal(ups, &g.Upstreams)
}

// MarshalJSON is the inverse of UnmarshalJSON, always emitting upstreams as an array.
func (g Group) MarshalJSON() ([]byte, error) {
	type plain Group
	return json.Marshal(struct {
		plain
		Upstreams []Upstream `json:"upstreams,omitempty"`
	}{plain(g), g.Upstreams})
}

func (g Group) IsAggregate() bool {
	return g.GroupType == TypeAggregate
}

// MemberNames returns the sorted names of an aggregate's sub-groups.
func (g Group) MemberNames() []string {
	names := make([]string, 0, len(g.SubGroups))
	for _, s := range g.SubGroups {
		names = append(names, s.Name)
	}
	sort.Strings(names)
	return names
}

// Snapshot is the remote group listing at one instant.
type Snapshot struct {
	Groups []Group
}

// Standard returns the standard groups keyed by name.
func (s *Snapshot) Standard() map[string]Group {
	return s.byType(false)
}

// Aggregates returns the aggregate groups keyed by name.
func (s *Snapshot) Aggregates() map[string]Group {
	return s.byType(true)
}

func (s *Snapshot) byType(aggregate bool) map[string]Group {
	out := make(map[string]Group)
	if s == nil {
		return out
	}
	for _, g := range s.Groups {
		if g.IsAggregate() == aggregate {
			out[g.Name] = g
		}
	}
	return out
}

// IDs maps every group name to its remote id.
func (s *Snapshot) IDs() map[string]int {
	out := make(map[string]int)
	if s == nil {
		return out
	}
	for _, g := range s.Groups {
		out[g.Name] = g.ID
	}
	return out
}
