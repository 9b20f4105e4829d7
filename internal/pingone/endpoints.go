// Package pingone knows where a PingOne environment lives: regional hosts,
// the per-environment OAuth endpoints, OIDC discovery and the signing keys
// used to verify ID tokens.
package pingone

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

// Region is a PingOne geography.
type Region string

const (
	RegionNA Region = "NA"
	RegionEU Region = "EU"
	RegionCA Region = "CA"
	RegionAP Region = "AP"
	RegionAU Region = "AU"
	RegionSG Region = "SG"
)

var regionHosts = map[Region]string{
	RegionNA: "auth.pingone.com",
	RegionEU: "auth.pingone.eu",
	RegionCA: "auth.pingone.ca",
	RegionAP: "auth.pingone.asia",
	RegionAU: "auth.pingone.com.au",
	RegionSG: "auth.pingone.sg",
}

var (
	// ErrInvalidEnvironmentID is returned when the environment id is not a UUID.
	ErrInvalidEnvironmentID = errors.New("pingone: environment id must be a UUID")
	// ErrUnknownRegion is returned for regions outside the known list.
	ErrUnknownRegion = errors.New("pingone: unknown region")
)

// Regions lists every supported region in display order.
func Regions() []Region {
	return []Region{RegionNA, RegionEU, RegionCA, RegionAP, RegionAU, RegionSG}
}

// ParseRegion accepts a region code in any case. Empty selects NA.
func ParseRegion(s string) (Region, error) {
	r := Region(strings.ToUpper(strings.TrimSpace(s)))
	if r == "" {
		return RegionNA, nil
	}
	if _, ok := regionHosts[r]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownRegion, s)
	}
	return r, nil
}

// AuthHost returns the authentication host for the region.
func (r Region) AuthHost() string {
	if host, ok := regionHosts[r]; ok {
		return host
	}
	return regionHosts[RegionNA]
}

// Endpoints are the OAuth and OIDC URLs of one environment.
type Endpoints struct {
	EnvironmentID       string `json:"environment_id"`
	Region              Region `json:"region"`
	Base                string `json:"base"`
	Issuer              string `json:"issuer"`
	Authorization       string `json:"authorization_endpoint"`
	Token               string `json:"token_endpoint"`
	UserInfo            string `json:"userinfo_endpoint"`
	Introspection       string `json:"introspection_endpoint"`
	Revocation          string `json:"revocation_endpoint"`
	PAR                 string `json:"pushed_authorization_request_endpoint"`
	DeviceAuthorization string `json:"device_authorization_endpoint"`
	JWKS                string `json:"jwks_uri"`
	EndSession          string `json:"end_session_endpoint"`
	Discovery           string `json:"discovery_endpoint"`
	FlowAPI             string `json:"flow_api"`
}

// NewEndpoints builds the endpoint set for environmentID in region.
// baseOverride replaces https://<regional host> and is used for custom
// domains and local fakes.
func NewEndpoints(region Region, environmentID, baseOverride string) (*Endpoints, error) {
	envID := strings.TrimSpace(environmentID)
	if _, err := uuid.Parse(envID); err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidEnvironmentID, environmentID)
	}
	if region == "" {
		region = RegionNA
	}
	if _, ok := regionHosts[region]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownRegion, region)
	}

	base := "https://" + region.AuthHost()
	if override := strings.TrimRight(strings.TrimSpace(baseOverride), "/"); override != "" {
		u, err := url.Parse(override)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("pingone: invalid base url override %q", baseOverride)
		}
		base = override
	}

	root := base + "/" + envID
	as := root + "/as"
	return &Endpoints{
		EnvironmentID:       envID,
		Region:              region,
		Base:                base,
		Issuer:              as,
		Authorization:       as + "/authorize",
		Token:               as + "/token",
		UserInfo:            as + "/userinfo",
		Introspection:       as + "/introspect",
		Revocation:          as + "/revoke",
		PAR:                 as + "/par",
		DeviceAuthorization: as + "/device_authorization",
		JWKS:                as + "/jwks",
		EndSession:          as + "/signoff",
		Discovery:           as + "/.well-known/openid-configuration",
		FlowAPI:             root + "/flows",
	}, nil
}

// FlowURL returns the flow API resource for a redirectless flow id.
func (e *Endpoints) FlowURL(flowID string) string {
	return e.FlowAPI + "/" + url.PathEscape(flowID)
}

// ApplyDiscovery overwrites endpoints with the values advertised by the
// discovery document. Empty values keep the derived defaults.
func (e *Endpoints) ApplyDiscovery(d *Discovery) {
	if d == nil {
		return
	}
	set := func(dst *string, v string) {
		if strings.TrimSpace(v) != "" {
			*dst = v
		}
	}
	set(&e.Issuer, d.Issuer)
	set(&e.Authorization, d.AuthorizationEndpoint)
	set(&e.Token, d.TokenEndpoint)
	set(&e.UserInfo, d.UserInfoEndpoint)
	set(&e.Introspection, d.IntrospectionEndpoint)
	set(&e.Revocation, d.RevocationEndpoint)
	set(&e.PAR, d.PushedAuthorizationRequestEndpoint)
	set(&e.DeviceAuthorization, d.DeviceAuthorizationEndpoint)
	set(&e.JWKS, d.JWKSURI)
	set(&e.EndSession, d.EndSessionEndpoint)
}
