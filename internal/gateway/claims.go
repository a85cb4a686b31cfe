package gateway

import (
	"github.com/RegistryAccord/registryaccord-agentid-go/internal/model"
)

// Claims is the claim set presented at authentication. Access names the
// requested scope; everything else is carried but not interpreted.
type Claims struct {
	Access string
	Extra  map[string]any
}

// ParseClaims reads an untyped claim object. "access" must be a non-empty
// string.
func ParseClaims(raw map[string]any) (Claims, error) {
	v, ok := raw["access"]
	if !ok {
		return Claims{}, &FieldError{Field: "access"}
	}
	access, ok := v.(string)
	if !ok || access == "" {
		return Claims{}, &FieldError{Field: "access"}
	}
	extra := make(map[string]any, len(raw))
	for k, v := range raw {
		if k != "access" {
			extra[k] = v
		}
	}
	return Claims{Access: access, Extra: extra}, nil
}

// ClaimsFromCredential lifts the claims of a credential into gateway claims.
// Verifying the credential is the caller's job.
func ClaimsFromCredential(vc model.Credential) (Claims, error) {
	return ParseClaims(vc.Claims)
}
