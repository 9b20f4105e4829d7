package errors

import (
	"encoding/json"
	"fmt"
	"strings"
)

// OAuthError is an RFC 6749 section 5.2 error response returned by the
// authorization server, or an error carried back on a redirect.
type OAuthError struct {
	StatusCode  int    `json:"-"`
	Code        string `json:"error"`
	Description string `json:"error_description,omitempty"`
	URI         string `json:"error_uri,omitempty"`
}

func (e *OAuthError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Description)
	}
	return e.Code
}

// Is reports whether target is an OAuthError with the same code, so callers
// can match with errors.Is(err, &OAuthError{Code: "slow_down"}).
func (e *OAuthError) Is(target error) bool {
	t, ok := target.(*OAuthError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// ParseOAuthError decodes an error body. It returns nil when the body does
// not carry an "error" member.
func ParseOAuthError(status int, body []byte) *OAuthError {
	var out OAuthError
	if err := json.Unmarshal(body, &out); err != nil {
		return nil
	}
	if strings.TrimSpace(out.Code) == "" {
		// PingOne management style errors use "code" and "message".
		var alt struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		if err := json.Unmarshal(body, &alt); err != nil || alt.Code == "" {
			return nil
		}
		out.Code = strings.ToLower(alt.Code)
		out.Description = alt.Message
	}
	out.StatusCode = status
	return &out
}

var friendlyMessages = map[string]string{
	"invalid_request":               "The request is missing a parameter or has a malformed value. Check the redirect URI, scopes and response type.",
	"invalid_client":                "Client authentication failed. Verify the client ID, the client secret and the token endpoint auth method configured on the application.",
	"invalid_grant":                 "The authorization code, refresh token or device code is invalid, expired or was already used. Start the flow again.",
	"unauthorized_client":           "This application is not allowed to use this grant type. Enable it on the application in the admin console.",
	"unsupported_grant_type":        "The provider does not support this grant type for the application.",
	"unsupported_response_type":     "The response type is not enabled for this application.",
	"invalid_scope":                 "One or more requested scopes are unknown or not granted to this application.",
	"access_denied":                 "The user or the authorization server denied the request.",
	"authorization_pending":         "The user has not finished authorizing the device yet. Keep polling.",
	"slow_down":                     "Polling too fast. The interval has been increased.",
	"expired_token":                 "The device code expired before the user approved it. Start a new device authorization.",
	"invalid_redirect_uri":          "The redirect URI does not match any URI registered on the application.",
	"login_required":                "The user must sign in; prompt=none cannot be satisfied.",
	"consent_required":              "The user must grant consent; prompt=none cannot be satisfied.",
	"interaction_required":          "The provider needs user interaction to continue.",
	"invalid_request_uri":           "The PAR request_uri is unknown or expired. Push the request again.",
	"invalid_authorization_details": "The authorization_details object was rejected. Check the type and fields.",
	"server_error":                  "The authorization server hit an unexpected error.",
	"temporarily_unavailable":       "The authorization server is temporarily unavailable. Try again shortly.",
}

// FriendlyMessage returns human copy for a provider error code. Unknown
// codes fall back to a generic message that still names the code.
func FriendlyMessage(code string) string {
	code = strings.ToLower(strings.TrimSpace(code))
	if msg, ok := friendlyMessages[code]; ok {
		return msg
	}
	if code == "" {
		return "The request failed."
	}
	return fmt.Sprintf("The provider returned %q.", code)
}
