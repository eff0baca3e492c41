package providers

import "strings"

// Well-known OIDC claim names handled as structured fields. Everything
// else ends up in Identity.Extra verbatim.
const (
	claimSubject    = "sub"
	claimGivenName  = "given_name"
	claimFamilyName = "family_name"
	claimFullName   = "name"
	claimEmail      = "email"
	claimOIB        = "oib"
	claimPIN        = "pin"
	claimBirthDate  = "birthdate"
)

// Identity is the resolved claim set of an authenticated subject: a fixed
// set of well-known optional fields plus an open extension map for
// provider-specific claims.
type Identity struct {
	Subject    string
	GivenName  string
	FamilyName string
	FullName   string
	Email      string

	// OIB is the Croatian personal identification number. Certilia carries
	// it in the oib or pin claim; for eID-issued identities sub holds the
	// same value.
	OIB string

	BirthDate string

	// Extra holds provider-specific claims outside the well-known set.
	Extra map[string]any
}

// IdentityFromClaims builds an Identity from a raw claim map, pulling the
// well-known fields out and keeping the rest in Extra.
func IdentityFromClaims(claims map[string]any) *Identity {
	id := &Identity{Extra: make(map[string]any)}

	for k, v := range claims {
		switch k {
		case claimSubject:
			id.Subject, _ = v.(string)
		case claimGivenName:
			id.GivenName, _ = v.(string)
		case claimFamilyName:
			id.FamilyName, _ = v.(string)
		case claimFullName:
			id.FullName, _ = v.(string)
		case claimEmail:
			id.Email, _ = v.(string)
		case claimOIB:
			id.OIB, _ = v.(string)
		case claimPIN:
			if id.OIB == "" {
				id.OIB, _ = v.(string)
			}
		case claimBirthDate:
			id.BirthDate, _ = v.(string)
		default:
			id.Extra[k] = v
		}
	}

	// For eID-issued identities sub carries the OIB itself
	if id.OIB == "" {
		id.OIB = id.Subject
	}

	if id.FullName == "" {
		id.FullName = strings.TrimSpace(id.GivenName + " " + id.FamilyName)
	}

	return id
}

// Claims flattens the identity back into a claim map suitable for
// embedding in an issued credential payload.
func (id *Identity) Claims() map[string]any {
	claims := make(map[string]any, len(id.Extra)+7)
	for k, v := range id.Extra {
		claims[k] = v
	}
	if id.Subject != "" {
		claims[claimSubject] = id.Subject
	}
	if id.GivenName != "" {
		claims[claimGivenName] = id.GivenName
	}
	if id.FamilyName != "" {
		claims[claimFamilyName] = id.FamilyName
	}
	if id.FullName != "" {
		claims[claimFullName] = id.FullName
	}
	if id.Email != "" {
		claims[claimEmail] = id.Email
	}
	if id.OIB != "" {
		claims[claimOIB] = id.OIB
	}
	if id.BirthDate != "" {
		claims[claimBirthDate] = id.BirthDate
	}
	return claims
}

// MergeIdentities merges a userinfo-sourced identity with an ID
// token-sourced one. The ID token is the signed source, so its fields win
// on conflict; userinfo only fills what the ID token leaves empty. Either
// argument may be nil.
func MergeIdentities(userinfo, idToken *Identity) *Identity {
	if idToken == nil {
		return userinfo
	}
	if userinfo == nil {
		return idToken
	}

	merged := &Identity{
		Subject:    firstNonEmpty(idToken.Subject, userinfo.Subject),
		GivenName:  firstNonEmpty(idToken.GivenName, userinfo.GivenName),
		FamilyName: firstNonEmpty(idToken.FamilyName, userinfo.FamilyName),
		FullName:   firstNonEmpty(idToken.FullName, userinfo.FullName),
		Email:      firstNonEmpty(idToken.Email, userinfo.Email),
		OIB:        firstNonEmpty(idToken.OIB, userinfo.OIB),
		BirthDate:  firstNonEmpty(idToken.BirthDate, userinfo.BirthDate),
		Extra:      make(map[string]any, len(userinfo.Extra)+len(idToken.Extra)),
	}
	for k, v := range userinfo.Extra {
		merged.Extra[k] = v
	}
	for k, v := range idToken.Extra {
		merged.Extra[k] = v
	}
	return merged
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
