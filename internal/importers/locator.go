package importers

import "strings"

// ScopeType is the breadth of an import.
type ScopeType string

const (
	ScopeOrganization ScopeType = "organization"
	ScopeApplication  ScopeType = "application"
	ScopeCollection   ScopeType = "collection"
)

// InputPrefix maps an import scope to the blob key prefix of its files.
//
//	organization "acme"                  -> "acme/"
//	application  "acme/app1"             -> "acme/app1."
//	collection   "acme/app1" + "users"   -> "acme/app1.users."
//
// Unknown scope types yield "".
func InputPrefix(scope ScopeType, name, collection string) string {
	switch scope {
	case ScopeOrganization:
		return name + "/"
	case ScopeApplication, ScopeCollection:
		prefix := name + "."
		if collection != "" {
			prefix += collection + "."
		}
		return prefix
	default:
		return ""
	}
}

// ResolveScope picks the narrowest scope the configuration names.
func ResolveScope(cfg ImportConfig) ScopeType {
	switch {
	case cfg.CollectionName != "" && cfg.ApplicationID != "":
		return ScopeCollection
	case cfg.ApplicationID != "":
		return ScopeApplication
	default:
		return ScopeOrganization
	}
}

// ApplicationName recovers the qualified application name from a blob key:
// "acme/app1.users.1.json" -> "acme/app1". Keys without an application
// segment yield "".
func ApplicationName(key string) string {
	slash := strings.Index(key, "/")
	if slash < 0 {
		return ""
	}
	dot := strings.Index(key[slash+1:], ".")
	if dot <= 0 {
		return ""
	}
	return key[:slash+1+dot]
}
