package gptload

import (
	"strings"

	"github.com/nulzo/gptload-sync/internal/planner"
)

const (
	DefaultWeight      = 10
	validationEndpoint = "/v1/chat/completions"
	aggregateTestModel = "-"
)

// GroupRequest is the body of group create and update calls.
type GroupRequest struct {
	Name                string            `json:"name"`
	DisplayName         string            `json:"display_name,omitempty"`
	Description         string            `json:"description,omitempty"`
	GroupType           string            `json:"group_type"`
	ChannelType         string            `json:"channel_type"`
	Upstreams           []Upstream        `json:"upstreams,omitempty"`
	ModelRedirectRules  map[string]string `json:"model_redirect_rules,omitempty"`
	ModelRedirectStrict bool              `json:"model_redirect_strict,omitempty"`
	ValidationEndpoint  string            `json:"validation_endpoint,omitempty"`
	TestModel           string            `json:"test_model"`
}

// SubGroupWeight links one standard group into an aggregate.
type SubGroupWeight struct {
	GroupID int `json:"group_id"`
	Weight  int `json:"weight"`
}

type addSubGroupsRequest struct {
	SubGroups []SubGroupWeight `json:"sub_groups"`
}

type addKeysRequest struct {
	GroupID  int    `json:"group_id"`
	KeysText string `json:"keys_text"`
}

// StandardUpstreams is the desired upstream list of a standard group.
func StandardUpstreams(baseURL string, weight int) []Upstream {
	if weight <= 0 {
		weight = DefaultWeight
	}
	return []Upstream{{URL: strings.TrimRight(baseURL, "/"), Weight: weight}}
}

// StandardGroupRequest builds the full configuration of a standard group. The test
// model is the first normalized model name in sorted order.
func StandardGroupRequest(g planner.SplitGroup, upstreamWeight int) GroupRequest {
	testModel := ""
	if models := g.Models(); len(models) > 0 {
		testModel = models[0]
	}
	channelType := g.ChannelType
	if channelType == "" {
		channelType = planner.DefaultChannelType
	}
	return GroupRequest{
		Name:                g.GroupName,
		DisplayName:         g.GroupName,
		Description:         "managed by gptload-sync for provider " + g.Provider,
		GroupType:           TypeStandard,
		ChannelType:         channelType,
		Upstreams:           StandardUpstreams(g.BaseURL, upstreamWeight),
		ModelRedirectRules:  g.Redirects,
		ModelRedirectStrict: true,
		ValidationEndpoint:  validationEndpoint,
		TestModel:           testModel,
	}
}

// AggregateGroupRequest builds the configuration of an aggregate group. Members are
// linked separately through AddSubGroups.
func AggregateGroupRequest(a planner.AggregateGroup) GroupRequest {
	return GroupRequest{
		Name:        a.GroupName,
		DisplayName: a.GroupName,
		Description: "load balances " + a.Model,
		GroupType:   TypeAggregate,
		ChannelType: a.ChannelType,
		TestModel:   aggregateTestModel,
	}
}
